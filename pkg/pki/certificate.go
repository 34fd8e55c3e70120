// Package pki loads trust anchors and parses x5c certificate chains.
package pki

import (
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/trustbloc/logutil-go/pkg/log"
	"go.uber.org/zap"
)

var logger = log.New("pki")

// LoadCertificate reads a single PEM encoded certificate.
func LoadCertificate(dataPath string) (*x509.Certificate, error) {
	pemBytes, err := os.ReadFile(dataPath)
	if err != nil {
		return nil, err
	}

	block, _ := pem.Decode(pemBytes)
	if block == nil || block.Type != "CERTIFICATE" {
		return nil, fmt.Errorf("failed to decode PEM block containing certificate")
	}

	return x509.ParseCertificate(block.Bytes)
}

// LoadCertPool builds a pool from every .pem file in dir. Files that cannot be
// read or hold no certificate are skipped.
func LoadCertPool(dir string) (*x509.CertPool, error) {
	files, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read certificates directory: %w", err)
	}

	pool := x509.NewCertPool()
	loaded := 0

	for _, file := range files {
		if file.IsDir() || !strings.HasSuffix(file.Name(), ".pem") {
			continue
		}

		path := filepath.Join(dir, file.Name())
		pemData, err := os.ReadFile(path)
		if err != nil {
			logger.Warn("failed to read certificate file", zap.String("path", path), log.WithError(err))
			continue
		}

		if ok := pool.AppendCertsFromPEM(pemData); !ok {
			logger.Warn("no certificate found", zap.String("path", path))
			continue
		}

		logger.Debug("loaded trust anchor", zap.String("path", path))
		loaded++
	}

	if loaded == 0 {
		return nil, fmt.Errorf("no certificates found in %s", dir)
	}

	return pool, nil
}

// ParseCertificate decodes one x5c entry: standard base64 DER.
func ParseCertificate(x5c string) (*x509.Certificate, error) {
	der, err := base64.StdEncoding.DecodeString(x5c)
	if err != nil {
		return nil, fmt.Errorf("x5c entry is not base64: %w", err)
	}
	return x509.ParseCertificate(der)
}

// ParseX5C decodes an x5c header value, leaf first.
func ParseX5C(x5c []string) ([]*x509.Certificate, error) {
	if len(x5c) == 0 {
		return nil, fmt.Errorf("empty x5c")
	}

	certs := make([]*x509.Certificate, 0, len(x5c))
	for i, s := range x5c {
		cert, err := ParseCertificate(s)
		if err != nil {
			return nil, fmt.Errorf("x5c[%d]: %w", i, err)
		}
		certs = append(certs, cert)
	}
	return certs, nil
}
