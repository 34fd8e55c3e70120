package protocol

import "context"

// VerifyOptions carries the request object header values a verifier needs.
type VerifyOptions struct {
	Certificate string `json:"certificate,omitempty"`
	Algorithm   string `json:"algorithm,omitempty"`
	KID         string `json:"kid,omitempty"`
}

// VerificationResult is produced by a Verifier, never by the mediator itself.
type VerificationResult struct {
	Valid   bool                   `json:"valid"`
	Payload map[string]interface{} `json:"payload,omitempty"`
	Header  map[string]interface{} `json:"header,omitempty"`
	Error   string                 `json:"error,omitempty"`
}

// Verifier checks the signature of a compact request object. It is supplied by
// a wallet integration at call time. A returned error or a panic is treated the
// same as an invalid result.
type Verifier func(ctx context.Context, token string, opts VerifyOptions) (*VerificationResult, error)
