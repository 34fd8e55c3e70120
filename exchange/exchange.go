// Package exchange correlates credential calls with wallet selections and
// wallet responses, and owns the state of every pending exchange.
package exchange

import (
	"time"

	"github.com/kokukuma/dc-mediator/protocol"
	"github.com/kokukuma/dc-mediator/wallet"
)

// State is the lifecycle state of an exchange.
type State string

const (
	StateIntercepted            State = "INTERCEPTED"
	StateAwaitingSelection      State = "AWAITING_SELECTION"
	StateWalletChosen           State = "WALLET_CHOSEN"
	StateAwaitingWalletResponse State = "AWAITING_WALLET_RESPONSE"

	StateCompleted State = "COMPLETED"
	StateFailed    State = "FAILED"
	StateTimedOut  State = "TIMED_OUT"
	StateCancelled State = "CANCELLED"
)

// Terminal reports whether no further transition is possible from s.
func (s State) Terminal() bool {
	switch s {
	case StateCompleted, StateFailed, StateTimedOut, StateCancelled:
		return true
	default:
		return false
	}
}

// PendingExchange is a snapshot of one exchange.
type PendingExchange struct {
	ID         string    `json:"exchangeId"`
	Origin     string    `json:"origin"`
	CreatedAt  time.Time `json:"createdAt"`
	State      State     `json:"state"`
	Deadline   time.Time `json:"deadline,omitempty"`
	WalletID   string    `json:"walletId,omitempty"`
	Protocols  []string  `json:"protocols,omitempty"`
	Resolution *Result   `json:"resolution,omitempty"`

	// ResolvedRequest is the request carried by the request object of a
	// by-reference request, once resolved.
	ResolvedRequest *protocol.AuthorizationRequest `json:"resolvedRequest,omitempty"`
}

// Intercept is sent by the page when it captures a credential call.
type Intercept struct {
	Origin   string                       `json:"origin"`
	Requests []protocol.CredentialRequest `json:"requests"`
}

// Response carries the raw data a wallet returned for an exchange.
type Response struct {
	Data interface{} `json:"data"`
}

// Invocation asks the page to open the chosen wallet.
type Invocation struct {
	WalletID   string                    `json:"walletId"`
	WalletName string                    `json:"walletName,omitempty"`
	Invocation protocol.WalletInvocation `json:"invocation"`
	Deadline   time.Time                 `json:"deadline"`
}

// Result is the terminal outcome of an exchange. UseNative tells the page to
// fall back to the platform's own credential handling.
type Result struct {
	ExchangeID string                   `json:"exchangeId"`
	State      State                    `json:"state"`
	UseNative  bool                     `json:"useNative,omitempty"`
	WalletID   string                   `json:"walletId,omitempty"`
	Response   *protocol.WalletResponse `json:"response,omitempty"`
	Error      *protocol.ExchangeError  `json:"error,omitempty"`
}

// Err returns the error carried by r, if any.
func (r *Result) Err() error {
	return r.Error.Err()
}

// SelectionPrompt is what the selection UI shows the user.
type SelectionPrompt struct {
	ExchangeID string                           `json:"exchangeId"`
	Origin     string                           `json:"origin"`
	Candidates []wallet.Descriptor              `json:"candidates"`
	Requests   []*protocol.AuthorizationRequest `json:"requests"`
}

// Selector is the selection UI. The user's answer is reported back through
// Correlator.Select or Correlator.Dismiss. Implementations must not block.
type Selector interface {
	Prompt(prompt SelectionPrompt)
	// Withdraw removes the prompt of an exchange that left selection.
	Withdraw(exchangeID string)
}
