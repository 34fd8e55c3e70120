package protocol

import "context"

// Plugin implements one credential protocol.
type Plugin interface {
	// ID is the protocol identifier the plugin is registered under.
	ID() string

	// PrepareRequest validates raw request data, either URL-encoded or an
	// already structured object, and normalizes it.
	PrepareRequest(data interface{}) (*AuthorizationRequest, error)

	// ValidateResponse checks that a wallet response is well formed.
	ValidateResponse(data interface{}) (*WalletResponse, error)

	// FormatForWallet serializes a normalized request onto walletURL.
	FormatForWallet(req *AuthorizationRequest, walletURL string) (*WalletInvocation, error)

	// HandleRequestURI resolves the request object that req refers to and
	// returns the request it carries. verify may be nil.
	HandleRequestURI(ctx context.Context, req *AuthorizationRequest, verify Verifier) (*AuthorizationRequest, error)
}
