package bus

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/kokukuma/dc-mediator/internal/lifecycle"
)

type testPayload struct {
	Origin string                 `json:"origin"`
	Data   map[string]interface{} `json:"data"`
	Values []interface{}          `json:"values"`
}

func receive(t *testing.T, ch <-chan *Message) *Message {
	t.Helper()

	select {
	case msg, ok := <-ch:
		require.True(t, ok, "channel closed")
		return msg
	case <-time.After(time.Second):
		require.FailNow(t, "timed out waiting for message")
		return nil
	}
}

func TestBusPublish(t *testing.T) {
	b := New()
	defer b.Close()

	first, err := b.Subscribe(context.Background(), TopicPageToRelay)
	require.NoError(t, err)
	second, err := b.Subscribe(context.Background(), TopicPageToRelay)
	require.NoError(t, err)
	other, err := b.Subscribe(context.Background(), TopicRelayToPage)
	require.NoError(t, err)

	payload := testPayload{
		Origin: "https://rp.example",
		Data:   map[string]interface{}{"client_id": "https://v.example", "nested": map[string]interface{}{"a": true}},
		Values: []interface{}{"x", 1.5},
	}

	m1, err := NewMessage("ex-1", KindIntercept, payload)
	require.NoError(t, err)
	m2, err := NewMessage("ex-1", KindCancel, nil)
	require.NoError(t, err)

	require.NoError(t, b.Publish(context.Background(), TopicPageToRelay, m1, m2))

	for _, ch := range []<-chan *Message{first, second} {
		got := receive(t, ch)
		require.Equal(t, m1.ID, got.ID)
		require.Equal(t, "ex-1", got.ExchangeID)
		require.Equal(t, KindIntercept, got.Kind)

		var decoded testPayload
		require.NoError(t, got.Decode(&decoded))
		require.Equal(t, payload, decoded)

		got = receive(t, ch)
		require.Equal(t, KindCancel, got.Kind)
		require.Error(t, got.Decode(&decoded))
	}

	select {
	case msg := <-other:
		require.FailNow(t, "unexpected message", msg.ID)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestBusMessagesAreCopies(t *testing.T) {
	b := New()
	defer b.Close()

	first, err := b.Subscribe(context.Background(), TopicRelayToPage)
	require.NoError(t, err)
	second, err := b.Subscribe(context.Background(), TopicRelayToPage)
	require.NoError(t, err)

	msg, err := NewMessage("ex-1", KindResult, map[string]interface{}{"state": "COMPLETED"})
	require.NoError(t, err)
	require.NoError(t, b.Publish(context.Background(), TopicRelayToPage, msg))

	a := receive(t, first)
	c := receive(t, second)

	a.Payload[0] ^= 0xff
	require.NotEqual(t, a.Payload, c.Payload)
	require.Equal(t, msg.Payload, c.Payload)
}

func TestBusClose(t *testing.T) {
	b := New()

	ch, err := b.Subscribe(context.Background(), TopicPageToRelay)
	require.NoError(t, err)

	require.NoError(t, b.Close())

	_, ok := <-ch
	require.False(t, ok)

	_, err = b.Subscribe(context.Background(), TopicPageToRelay)
	require.ErrorIs(t, err, lifecycle.ErrNotStarted)

	msg, err := NewMessage("ex-1", KindCancel, nil)
	require.NoError(t, err)
	require.ErrorIs(t, b.Publish(context.Background(), TopicPageToRelay, msg), lifecycle.ErrNotStarted)
}

func TestDecodeMapTypes(t *testing.T) {
	msg, err := NewMessage("ex-1", KindResponse, map[string]interface{}{
		"vp_token": map[string]interface{}{"mdl": []interface{}{"a"}},
	})
	require.NoError(t, err)

	var v interface{}
	require.NoError(t, msg.Decode(&v))
	require.Equal(t, map[string]interface{}{
		"vp_token": map[string]interface{}{"mdl": []interface{}{"a"}},
	}, v)
}

func TestBusSubscriberRepublishes(t *testing.T) {
	const n = 5 * defaultBufferSize

	b := New()

	in, err := b.Subscribe(context.Background(), TopicPageToRelay)
	require.NoError(t, err)
	out, err := b.Subscribe(context.Background(), TopicRelayToOrchestrator)
	require.NoError(t, err)

	go func() {
		for msg := range in {
			_ = b.Publish(context.Background(), TopicRelayToOrchestrator, msg)
		}
	}()

	for i := 0; i < n; i++ {
		msg, err := NewMessage(fmt.Sprintf("ex-%d", i), KindIntercept, nil)
		require.NoError(t, err)
		require.NoError(t, b.Publish(context.Background(), TopicPageToRelay, msg))
	}

	for i := 0; i < n; i++ {
		got := receive(t, out)
		require.Equal(t, fmt.Sprintf("ex-%d", i), got.ExchangeID)
	}

	done := make(chan struct{})
	go func() {
		_ = b.Close()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		require.FailNow(t, "bus did not stop")
	}
}

func TestBusCloseWithUndeliveredMessages(t *testing.T) {
	b := New()

	ch, err := b.Subscribe(context.Background(), TopicRelayToPage)
	require.NoError(t, err)

	for i := 0; i < 2*defaultBufferSize; i++ {
		msg, err := NewMessage("ex-1", KindResult, nil)
		require.NoError(t, err)
		require.NoError(t, b.Publish(context.Background(), TopicRelayToPage, msg))
	}

	require.NoError(t, b.Close())

	drained := 0
	for range ch {
		drained++
	}
	require.LessOrEqual(t, drained, 2*defaultBufferSize)
}
