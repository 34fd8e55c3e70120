package bus

import (
	"fmt"
	"reflect"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/google/uuid"
)

// Topic names one direction between two execution contexts.
type Topic string

const (
	TopicPageToRelay         Topic = "page->relay"
	TopicRelayToOrchestrator Topic = "relay->orchestrator"
	TopicOrchestratorToRelay Topic = "orchestrator->relay"
	TopicRelayToPage         Topic = "relay->page"
)

// Kind is the type of event a message carries.
type Kind string

const (
	// KindIntercept carries a captured credential call to the orchestrator.
	KindIntercept Kind = "intercept"
	// KindCancel reports that the page abandoned its call.
	KindCancel Kind = "cancel"
	// KindResponse carries a wallet response to the orchestrator.
	KindResponse Kind = "response"
	// KindInvocation tells the page to open a wallet.
	KindInvocation Kind = "invocation"
	// KindResult carries the terminal result of an exchange to the page.
	KindResult Kind = "result"
)

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	var err error

	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic(err)
	}

	decMode, err = cbor.DecOptions{
		DefaultMapType: reflect.TypeOf(map[string]interface{}(nil)),
	}.DecMode()
	if err != nil {
		panic(err)
	}
}

// Message is the envelope exchanged between contexts. The payload is CBOR, so
// a receiver never shares memory with the sender.
type Message struct {
	ID         string    `cbor:"id"`
	ExchangeID string    `cbor:"exchangeId"`
	Kind       Kind      `cbor:"kind"`
	Time       time.Time `cbor:"time"`
	Payload    []byte    `cbor:"payload,omitempty"`
}

// NewMessage encodes payload into a new message for exchangeID.
func NewMessage(exchangeID string, kind Kind, payload interface{}) (*Message, error) {
	msg := &Message{
		ID:         uuid.NewString(),
		ExchangeID: exchangeID,
		Kind:       kind,
		Time:       time.Now().UTC(),
	}

	if payload != nil {
		b, err := encMode.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("encode %s payload: %w", kind, err)
		}
		msg.Payload = b
	}

	return msg, nil
}

// Decode decodes the payload into v.
func (m *Message) Decode(v interface{}) error {
	if len(m.Payload) == 0 {
		return fmt.Errorf("%s message %s has no payload", m.Kind, m.ID)
	}
	if err := decMode.Unmarshal(m.Payload, v); err != nil {
		return fmt.Errorf("decode %s payload: %w", m.Kind, err)
	}
	return nil
}

// Copy returns a copy of the message that shares no memory with m.
func (m *Message) Copy() *Message {
	c := *m
	if m.Payload != nil {
		c.Payload = append([]byte(nil), m.Payload...)
	}
	return &c
}
