// Package verifier provides a request object verifier backed by the x5c
// certificate chain carried in the token header.
package verifier

import (
	"context"
	"crypto/x509"
	"encoding/base64"
	"encoding/json"
	"strings"
	"time"

	"github.com/ory/go-convenience/stringslice"
	"github.com/trustbloc/logutil-go/pkg/log"
	"gopkg.in/square/go-jose.v2"

	"github.com/kokukuma/dc-mediator/pkg/hash"
	"github.com/kokukuma/dc-mediator/pkg/pki"
	"github.com/kokukuma/dc-mediator/protocol"
)

var logger = log.New("x5c-verifier")

var defaultAlgorithms = []string{
	string(jose.ES256), string(jose.ES384), string(jose.ES512),
	string(jose.PS256), string(jose.RS256), string(jose.EdDSA),
}

const (
	x509SanDNSPrefix = "x509_san_dns:"
	thumbprintHeader = "x5t#S256"
)

type X5C struct {
	roots      func() *x509.CertPool
	skipChain  bool
	algorithms []string
	now        func() time.Time
}

type Opt func(v *X5C)

// WithoutChainVerification trusts the leaf certificate as presented.
func WithoutChainVerification() Opt {
	return func(v *X5C) {
		v.skipChain = true
	}
}

// WithRootSource reads the trust anchors from pool on every verification, so
// anchors can change while the verifier is in use.
func WithRootSource(pool func() *x509.CertPool) Opt {
	return func(v *X5C) {
		v.roots = pool
	}
}

func WithAlgorithms(algs ...string) Opt {
	return func(v *X5C) {
		v.algorithms = algs
	}
}

func WithClock(now func() time.Time) Opt {
	return func(v *X5C) {
		v.now = now
	}
}

func NewX5C(roots *x509.CertPool, opts ...Opt) *X5C {
	v := &X5C{
		roots:      func() *x509.CertPool { return roots },
		algorithms: defaultAlgorithms,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// Verifier returns v as a verifier capability.
func (v *X5C) Verifier() protocol.Verifier {
	return v.Verify
}

// Verify checks token against the key of opts.Certificate. Failures are
// reported as an invalid result, never as an error.
func (v *X5C) Verify(ctx context.Context, token string, opts protocol.VerifyOptions) (*protocol.VerificationResult, error) {
	if err := ctx.Err(); err != nil {
		return invalid(err.Error()), nil
	}

	if opts.Certificate == "" {
		return invalid("no x5c certificate"), nil
	}

	if !stringslice.Has(v.algorithms, opts.Algorithm) {
		return invalid("algorithm " + opts.Algorithm + " not allowed"), nil
	}

	jws, err := jose.ParseSigned(token)
	if err != nil {
		return invalid("malformed token: " + err.Error()), nil
	}
	if len(jws.Signatures) != 1 {
		return invalid("expected exactly one signature"), nil
	}

	header := jws.Signatures[0].Protected
	if header.Algorithm != opts.Algorithm {
		return invalid("algorithm does not match token header"), nil
	}

	leaf, err := pki.ParseCertificate(opts.Certificate)
	if err != nil {
		return invalid(err.Error()), nil
	}

	if reason := checkThumbprint(header, leaf); reason != "" {
		return invalid(reason), nil
	}

	if !v.skipChain {
		chains, err := header.Certificates(x509.VerifyOptions{
			Roots:       v.roots(),
			CurrentTime: v.now(),
			KeyUsages:   []x509.ExtKeyUsage{x509.ExtKeyUsageAny},
		})
		if err != nil {
			logger.Debug("x5c chain rejected", log.WithError(err))
			return invalid("certificate chain not trusted: " + err.Error()), nil
		}
		if !chains[0][0].Equal(leaf) {
			return invalid("certificate does not match x5c leaf"), nil
		}
	}

	payload, err := jws.Verify(leaf.PublicKey)
	if err != nil {
		return invalid("signature invalid: " + err.Error()), nil
	}

	var claims map[string]interface{}
	if err := json.Unmarshal(payload, &claims); err != nil {
		return invalid("payload is not a JSON object"), nil
	}

	if cid, _ := claims["client_id"].(string); strings.HasPrefix(cid, x509SanDNSPrefix) {
		if err := leaf.VerifyHostname(strings.TrimPrefix(cid, x509SanDNSPrefix)); err != nil {
			return invalid("client_id not bound to certificate: " + err.Error()), nil
		}
	}

	return &protocol.VerificationResult{
		Valid:   true,
		Payload: claims,
		Header:  headerMap(header),
	}, nil
}

// checkThumbprint compares an x5t#S256 header, when present, with the leaf.
func checkThumbprint(h jose.Header, leaf *x509.Certificate) string {
	v, ok := h.ExtraHeaders[thumbprintHeader]
	if !ok {
		return ""
	}

	thumbprint, ok := v.(string)
	if !ok {
		return thumbprintHeader + " is not a string"
	}

	digest, err := hash.Digest(leaf.Raw, "SHA-256")
	if err != nil {
		return err.Error()
	}

	if thumbprint != base64.RawURLEncoding.EncodeToString(digest) {
		return thumbprintHeader + " does not match x5c leaf"
	}
	return ""
}

func headerMap(h jose.Header) map[string]interface{} {
	m := map[string]interface{}{
		"alg": h.Algorithm,
	}
	if h.KeyID != "" {
		m["kid"] = h.KeyID
	}
	for k, v := range h.ExtraHeaders {
		m[string(k)] = v
	}
	return m
}

func invalid(reason string) *protocol.VerificationResult {
	return &protocol.VerificationResult{Valid: false, Error: reason}
}
