// Package cryptoroot generates development signing keys with an x5c chain
// for request objects.
package cryptoroot

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"fmt"
	"hash"
	"os"
	"path/filepath"

	"github.com/kokukuma/dc-mediator/pkg/pki"
)

const (
	rootKeyFile  = "rootKey.pem"
	rootCertFile = "rootCert.pem"
)

// Chain is a signing key with its certificate chain, leaf first.
type Chain struct {
	Key  *ecdsa.PrivateKey
	Leaf *x509.Certificate
	Root *x509.Certificate
	X5C  []string
}

// RootPool returns a pool holding only the chain's root.
func (c *Chain) RootPool() *x509.CertPool {
	pool := x509.NewCertPool()
	pool.AddCert(c.Root)
	return pool
}

// NewChain generates a root and an end-entity certificate for dnsName in memory.
func NewChain(dnsName string) (*Chain, error) {
	rootKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, err
	}

	rootCert, err := createRootCertificate(rootKey)
	if err != nil {
		return nil, err
	}

	return issue(rootCert, rootKey, dnsName)
}

// LoadChain issues a fresh end-entity certificate for dnsName under the root
// stored in dir, creating and persisting the root when dir has none.
func LoadChain(dir, dnsName string) (*Chain, error) {
	keyPath := filepath.Join(dir, rootKeyFile)
	certPath := filepath.Join(dir, rootCertFile)

	var rootKey *ecdsa.PrivateKey
	var rootCert *x509.Certificate
	var err error

	if fileExists(keyPath) && fileExists(certPath) {
		rootKey, err = pki.LoadPrivateKey(keyPath)
		if err != nil {
			return nil, err
		}
		rootCert, err = pki.LoadCertificate(certPath)
		if err != nil {
			return nil, err
		}
	} else {
		rootKey, err = ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
		if err != nil {
			return nil, err
		}
		rootCert, err = createRootCertificate(rootKey)
		if err != nil {
			return nil, err
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
		if err := WritePrivateKeyPEM(rootKey, keyPath); err != nil {
			return nil, err
		}
		if err := WriteCertificatePEM(rootCert, certPath); err != nil {
			return nil, err
		}
	}

	return issue(rootCert, rootKey, dnsName)
}

func issue(rootCert *x509.Certificate, rootKey *ecdsa.PrivateKey, dnsName string) (*Chain, error) {
	eeKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, err
	}

	eeCert, err := createEndEntityCertificate(eeKey, dnsName, rootCert, rootKey)
	if err != nil {
		return nil, fmt.Errorf("failed to create end-entity certificate: %w", err)
	}

	return &Chain{
		Key:  eeKey,
		Leaf: eeCert,
		Root: rootCert,
		X5C: []string{
			base64.StdEncoding.EncodeToString(eeCert.Raw),
			base64.StdEncoding.EncodeToString(rootCert.Raw),
		},
	}, nil
}

func CalcKID(pub *ecdsa.PublicKey, hashAlgo string) []byte {
	b := elliptic.Marshal(pub.Curve, pub.X, pub.Y)

	var h hash.Hash
	switch hashAlgo {
	case "sha1":
		h = sha1.New()
	default:
		h = sha256.New()
	}

	h.Write(b)
	return h.Sum(nil)
}

func fileExists(filename string) bool {
	_, err := os.Stat(filename)
	return err == nil
}
