package protocol

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestKindOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want ErrorKind
	}{
		{name: "validation", err: NewValidationError("missing client_id"), want: KindValidation},
		{name: "wrapped validation", err: fmt.Errorf("prepare: %w", NewValidationError("x")), want: KindValidation},
		{name: "unsupported", err: &UnsupportedProtocolError{Protocol: "apple"}, want: KindUnsupportedProtocol},
		{name: "network", err: &NetworkError{URL: "https://v.example/r", StatusCode: 404}, want: KindNetwork},
		{name: "verification", err: &VerificationError{Reason: "bad signature"}, want: KindVerification},
		{name: "timeout", err: &TimeoutError{ExchangeID: "e1", Deadline: time.Now()}, want: KindTimeout},
		{name: "cancelled", err: &UserCancelledError{ExchangeID: "e1"}, want: KindUserCancelled},
		{name: "wallet", err: &WalletError{Code: "access_denied"}, want: KindWallet},
		{name: "other", err: errors.New("boom"), want: KindInternal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.want, KindOf(tt.err))
		})
	}
}

func TestExchangeErrorKeepsClassification(t *testing.T) {
	src := &VerificationError{Reason: "verifier rejected request object"}

	remote := NewExchangeError(src)
	require.Equal(t, KindVerification, remote.Kind)
	require.Equal(t, src.Error(), remote.Message)

	err := remote.Err()
	require.True(t, IsVerificationError(err))
	require.False(t, IsValidationError(err))
	require.Equal(t, KindVerification, KindOf(err))

	var nilErr *ExchangeError
	require.NoError(t, nilErr.Err())
	require.Nil(t, NewExchangeError(nil))
}

func TestNetworkErrorMessage(t *testing.T) {
	err := &NetworkError{URL: "https://v.example/r", StatusCode: 500}
	require.Contains(t, err.Error(), "unexpected status 500")

	cause := errors.New("connection refused")
	err = &NetworkError{URL: "https://v.example/r", Err: cause}
	require.ErrorIs(t, err, cause)
}
