package protocol

import (
	"errors"
	"fmt"
	"time"
)

// ErrorKind names a member of the error taxonomy. It is the form an error takes
// when it crosses a channel boundary.
type ErrorKind string

const (
	KindValidation          ErrorKind = "validation"
	KindUnsupportedProtocol ErrorKind = "unsupported_protocol"
	KindNetwork             ErrorKind = "network"
	KindVerification        ErrorKind = "verification"
	KindTimeout             ErrorKind = "timeout"
	KindUserCancelled       ErrorKind = "user_cancelled"
	KindWallet              ErrorKind = "wallet"
	KindInternal            ErrorKind = "internal"
)

// ValidationError reports a malformed or incomplete request or response.
type ValidationError struct {
	Msg string
}

func (e *ValidationError) Error() string {
	return "validation error: " + e.Msg
}

// NewValidationError creates a ValidationError with a formatted message.
func NewValidationError(format string, args ...interface{}) error {
	return &ValidationError{Msg: fmt.Sprintf(format, args...)}
}

// UnsupportedProtocolError reports that no plugin is registered for a protocol.
type UnsupportedProtocolError struct {
	Protocol string
}

func (e *UnsupportedProtocolError) Error() string {
	return fmt.Sprintf("unsupported protocol: %q", e.Protocol)
}

// NetworkError reports a failed fetch of by-reference material.
type NetworkError struct {
	URL        string
	StatusCode int
	Err        error
}

func (e *NetworkError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("network error: fetch %s: %v", e.URL, e.Err)
	}
	return fmt.Sprintf("network error: fetch %s: unexpected status %d", e.URL, e.StatusCode)
}

func (e *NetworkError) Unwrap() error {
	return e.Err
}

// VerificationError reports a failed signature check or a faulted verifier.
type VerificationError struct {
	Reason string
	Err    error
}

func (e *VerificationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("verification error: %s: %v", e.Reason, e.Err)
	}
	return "verification error: " + e.Reason
}

func (e *VerificationError) Unwrap() error {
	return e.Err
}

// TimeoutError reports that an exchange deadline elapsed without a wallet response.
type TimeoutError struct {
	ExchangeID string
	Deadline   time.Time
}

func (e *TimeoutError) Error() string {
	if e.Deadline.IsZero() {
		return fmt.Sprintf("exchange %s timed out", e.ExchangeID)
	}
	return fmt.Sprintf("exchange %s timed out at %s", e.ExchangeID, e.Deadline.Format(time.RFC3339))
}

// UserCancelledError reports that the user dismissed the wallet selector.
type UserCancelledError struct {
	ExchangeID string
}

func (e *UserCancelledError) Error() string {
	return fmt.Sprintf("exchange %s cancelled by user", e.ExchangeID)
}

// WalletError is an OAuth error response returned by the wallet.
type WalletError struct {
	Code        string
	Description string
}

func (e *WalletError) Error() string {
	if e.Description == "" {
		return "wallet error: " + e.Code
	}
	return fmt.Sprintf("wallet error: %s: %s", e.Code, e.Description)
}

func IsValidationError(err error) bool {
	var target *ValidationError
	return errors.As(err, &target) || isKind(err, KindValidation)
}

func IsUnsupportedProtocolError(err error) bool {
	var target *UnsupportedProtocolError
	return errors.As(err, &target) || isKind(err, KindUnsupportedProtocol)
}

func IsNetworkError(err error) bool {
	var target *NetworkError
	return errors.As(err, &target) || isKind(err, KindNetwork)
}

func IsVerificationError(err error) bool {
	var target *VerificationError
	return errors.As(err, &target) || isKind(err, KindVerification)
}

func IsTimeoutError(err error) bool {
	var target *TimeoutError
	return errors.As(err, &target) || isKind(err, KindTimeout)
}

func IsUserCancelledError(err error) bool {
	var target *UserCancelledError
	return errors.As(err, &target) || isKind(err, KindUserCancelled)
}

func IsWalletError(err error) bool {
	var target *WalletError
	return errors.As(err, &target) || isKind(err, KindWallet)
}

// KindOf classifies err. Errors outside the taxonomy are KindInternal.
func KindOf(err error) ErrorKind {
	var remote *ExchangeError
	if errors.As(err, &remote) {
		return remote.Kind
	}

	switch {
	case IsValidationError(err):
		return KindValidation
	case IsUnsupportedProtocolError(err):
		return KindUnsupportedProtocol
	case IsNetworkError(err):
		return KindNetwork
	case IsVerificationError(err):
		return KindVerification
	case IsTimeoutError(err):
		return KindTimeout
	case IsUserCancelledError(err):
		return KindUserCancelled
	case IsWalletError(err):
		return KindWallet
	default:
		return KindInternal
	}
}

func isKind(err error, kind ErrorKind) bool {
	var remote *ExchangeError
	return errors.As(err, &remote) && remote.Kind == kind
}

// ExchangeError is the serializable form of an error delivered to the page.
// The Is* helpers recognize it by Kind, so callers on the page side classify
// it the same way as the typed error it was built from.
type ExchangeError struct {
	Kind    ErrorKind `json:"kind" cbor:"kind"`
	Message string    `json:"message" cbor:"message"`
}

// NewExchangeError converts err into its serializable form.
func NewExchangeError(err error) *ExchangeError {
	if err == nil {
		return nil
	}
	return &ExchangeError{Kind: KindOf(err), Message: err.Error()}
}

func (e *ExchangeError) Error() string {
	return e.Message
}

// Err returns e as an error, or a nil interface when e is nil.
func (e *ExchangeError) Err() error {
	if e == nil {
		return nil
	}
	return e
}
