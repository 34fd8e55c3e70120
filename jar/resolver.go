// Package jar resolves JWT-secured authorization requests (RFC 9101).
package jar

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/trustbloc/logutil-go/pkg/log"

	"github.com/kokukuma/dc-mediator/internal/logfields"
	"github.com/kokukuma/dc-mediator/protocol"
)

var logger = log.New("jar-resolver")

const (
	// RequestObjectType is the required typ header of a request object.
	RequestObjectType = "oauth-authz-req+jwt"

	HeaderClaim            = "_jarHeader"
	SignatureVerifiedClaim = "_jarSignatureVerified"

	maxRequestObjectSize = 1 << 20
)

// RequestObject is a decoded request object. Payload is only populated once
// the object passed the verification policy of the Resolver.
type RequestObject struct {
	Token             string
	Header            map[string]interface{}
	Payload           map[string]interface{}
	SignatureVerified bool
}

// Claims returns the payload merged with the header and verification flag.
func (o *RequestObject) Claims() map[string]interface{} {
	claims := make(map[string]interface{}, len(o.Payload)+2)
	for k, v := range o.Payload {
		claims[k] = v
	}
	claims[HeaderClaim] = o.Header
	claims[SignatureVerifiedClaim] = o.SignatureVerified
	return claims
}

type Resolver struct {
	httpClient      *http.Client
	requireVerified bool
}

type Opt func(r *Resolver)

func WithHTTPClient(client *http.Client) Opt {
	return func(r *Resolver) {
		r.httpClient = client
	}
}

// WithRequireVerified rejects request objects when no verifier is supplied
// instead of using the unverified payload.
func WithRequireVerified() Opt {
	return func(r *Resolver) {
		r.requireVerified = true
	}
}

func NewResolver(opts ...Opt) *Resolver {
	r := &Resolver{
		httpClient: http.DefaultClient,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Resolve fetches the request object served at requestURI and decodes it.
func (r *Resolver) Resolve(ctx context.Context, requestURI string, verify protocol.Verifier) (*RequestObject, error) {
	logger.Debug("fetching request object", logfields.WithRequestURI(requestURI))

	token, err := r.fetch(ctx, requestURI)
	if err != nil {
		return nil, err
	}

	return r.Decode(ctx, token, verify)
}

// Decode decodes a compact request object and applies the verification policy.
func (r *Resolver) Decode(ctx context.Context, token string, verify protocol.Verifier) (*RequestObject, error) {
	parts := strings.Split(strings.TrimSpace(token), ".")
	if len(parts) != 3 {
		return nil, protocol.NewValidationError("request object must have 3 parts, got %d", len(parts))
	}

	header, err := decodeSegment(parts[0])
	if err != nil {
		return nil, protocol.NewValidationError("invalid request object header: %v", err)
	}

	payload, err := decodeSegment(parts[1])
	if err != nil {
		return nil, protocol.NewValidationError("invalid request object payload: %v", err)
	}

	if typ, _ := header["typ"].(string); typ != RequestObjectType {
		return nil, protocol.NewValidationError("unexpected request object typ %q, want %q", typ, RequestObjectType)
	}

	obj := &RequestObject{
		Token:  strings.TrimSpace(token),
		Header: header,
	}

	if verify == nil {
		if r.requireVerified {
			return nil, &protocol.VerificationError{Reason: "no verifier supplied for request object"}
		}
		logger.Warn("using request object without signature verification",
			logfields.WithAdvisory("no verifier supplied"))
		obj.Payload = payload
		return obj, nil
	}

	if err := callVerifier(ctx, verify, obj.Token, verifyOptions(header)); err != nil {
		return nil, err
	}

	obj.Payload = payload
	obj.SignatureVerified = true
	return obj, nil
}

func (r *Resolver) fetch(ctx context.Context, requestURI string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, requestURI, http.NoBody)
	if err != nil {
		return "", &protocol.NetworkError{URL: requestURI, Err: err}
	}
	req.Header.Set("Accept", "application/oauth-authz-req+jwt")

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return "", &protocol.NetworkError{URL: requestURI, Err: err}
	}
	defer resp.Body.Close()

	b, err := io.ReadAll(io.LimitReader(resp.Body, maxRequestObjectSize))
	if err != nil {
		return "", &protocol.NetworkError{URL: requestURI, Err: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", &protocol.NetworkError{URL: requestURI, StatusCode: resp.StatusCode}
	}

	return string(b), nil
}

func callVerifier(ctx context.Context, verify protocol.Verifier, token string, opts protocol.VerifyOptions) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = &protocol.VerificationError{Reason: fmt.Sprintf("verifier panicked: %v", rec)}
		}
	}()

	res, verr := verify(ctx, token, opts)
	if verr != nil {
		return &protocol.VerificationError{Reason: "verifier failed", Err: verr}
	}
	if res == nil || !res.Valid {
		reason := "request object signature rejected"
		if res != nil && res.Error != "" {
			reason = res.Error
		}
		return &protocol.VerificationError{Reason: reason}
	}
	return nil
}

func verifyOptions(header map[string]interface{}) protocol.VerifyOptions {
	var opts protocol.VerifyOptions

	if x5c, ok := header["x5c"].([]interface{}); ok && len(x5c) > 0 {
		opts.Certificate, _ = x5c[0].(string)
	}
	opts.Algorithm, _ = header["alg"].(string)
	opts.KID, _ = header["kid"].(string)

	return opts
}

// decodeSegment decodes one base64url section of a compact token into a JSON object.
func decodeSegment(seg string) (map[string]interface{}, error) {
	s := strings.NewReplacer("-", "+", "_", "/").Replace(strings.TrimRight(seg, "="))
	if m := len(s) % 4; m != 0 {
		s += strings.Repeat("=", 4-m)
	}

	b, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, err
	}

	var v map[string]interface{}
	if err := json.Unmarshal(b, &v); err != nil {
		return nil, err
	}
	if v == nil {
		return nil, fmt.Errorf("not a JSON object")
	}
	return v, nil
}
