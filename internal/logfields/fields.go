package logfields

import (
	"time"

	"go.uber.org/zap"
)

// Log Fields.
const (
	FieldAdvisory     = "advisory"
	FieldCandidates   = "candidates"
	FieldDeadline     = "deadline"
	FieldEventKind    = "eventKind"
	FieldExchangeID   = "exchangeID"
	FieldOrigin       = "origin"
	FieldProtocol     = "protocol"
	FieldRequestURI   = "requestURI"
	FieldState        = "state"
	FieldTopic        = "topic"
	FieldURL          = "url"
	FieldUserLogLevel = "userLogLevel"
	FieldWalletID     = "walletID"
)

// WithAdvisory sets the Advisory field.
func WithAdvisory(advisory string) zap.Field {
	return zap.String(FieldAdvisory, advisory)
}

// WithCandidates sets the Candidates field.
func WithCandidates(count int) zap.Field {
	return zap.Int(FieldCandidates, count)
}

// WithDeadline sets the Deadline field.
func WithDeadline(deadline time.Time) zap.Field {
	return zap.Time(FieldDeadline, deadline)
}

// WithEventKind sets the EventKind field.
func WithEventKind(kind string) zap.Field {
	return zap.String(FieldEventKind, kind)
}

// WithExchangeID sets the ExchangeID field.
func WithExchangeID(id string) zap.Field {
	return zap.String(FieldExchangeID, id)
}

// WithOrigin sets the Origin field.
func WithOrigin(origin string) zap.Field {
	return zap.String(FieldOrigin, origin)
}

// WithProtocol sets the Protocol field.
func WithProtocol(protocol string) zap.Field {
	return zap.String(FieldProtocol, protocol)
}

// WithRequestURI sets the RequestURI field.
func WithRequestURI(uri string) zap.Field {
	return zap.String(FieldRequestURI, uri)
}

// WithState sets the State field.
func WithState(state string) zap.Field {
	return zap.String(FieldState, state)
}

// WithTopic sets the Topic field.
func WithTopic(topic string) zap.Field {
	return zap.String(FieldTopic, topic)
}

// WithWalletID sets the WalletID field.
func WithWalletID(id string) zap.Field {
	return zap.String(FieldWalletID, id)
}

// WithURL sets the URL field.
func WithURL(url string) zap.Field {
	return zap.String(FieldURL, url)
}

// WithUserLogLevel sets the UserLogLevel field.
func WithUserLogLevel(userLogLevel string) zap.Field {
	return zap.String(FieldUserLogLevel, userLogLevel)
}
