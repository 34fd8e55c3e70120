package relay_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/kokukuma/dc-mediator/internal/bus"
	"github.com/kokukuma/dc-mediator/relay"
)

func subscribe(t *testing.T, b *bus.Bus, topic bus.Topic) <-chan *bus.Message {
	t.Helper()

	ch, err := b.Subscribe(context.Background(), topic)
	require.NoError(t, err)
	return ch
}

func publish(t *testing.T, b *bus.Bus, topic bus.Topic, exchangeID string, kind bus.Kind) *bus.Message {
	t.Helper()

	msg, err := bus.NewMessage(exchangeID, kind, map[string]interface{}{"k": "v"})
	require.NoError(t, err)
	require.NoError(t, b.Publish(context.Background(), topic, msg))
	return msg
}

func receive(t *testing.T, ch <-chan *bus.Message) *bus.Message {
	t.Helper()

	select {
	case msg := <-ch:
		return msg
	case <-time.After(2 * time.Second):
		require.FailNow(t, "timed out waiting for relayed message")
		return nil
	}
}

func nothing(t *testing.T, ch <-chan *bus.Message) {
	t.Helper()

	select {
	case msg := <-ch:
		require.FailNow(t, "unexpected relayed message", "%s %s", msg.Kind, msg.ExchangeID)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestRelay(t *testing.T) {
	b := bus.New()
	defer b.Close()

	toOrchestrator := subscribe(t, b, bus.TopicRelayToOrchestrator)
	toPage := subscribe(t, b, bus.TopicRelayToPage)

	r, err := relay.New(b)
	require.NoError(t, err)
	defer r.Stop()

	t.Run("page to orchestrator", func(t *testing.T) {
		for _, kind := range []bus.Kind{bus.KindIntercept, bus.KindCancel, bus.KindResponse} {
			sent := publish(t, b, bus.TopicPageToRelay, "ex-1", kind)

			got := receive(t, toOrchestrator)
			require.Equal(t, sent.ID, got.ID)
			require.Equal(t, kind, got.Kind)
			require.Equal(t, "ex-1", got.ExchangeID)

			var payload map[string]interface{}
			require.NoError(t, got.Decode(&payload))
			require.Equal(t, "v", payload["k"])
		}
		nothing(t, toPage)
	})

	t.Run("orchestrator to page", func(t *testing.T) {
		for _, kind := range []bus.Kind{bus.KindInvocation, bus.KindResult} {
			sent := publish(t, b, bus.TopicOrchestratorToRelay, "ex-1", kind)

			got := receive(t, toPage)
			require.Equal(t, sent.ID, got.ID)
			require.Equal(t, kind, got.Kind)
		}
	})

	t.Run("drops unexpected kinds", func(t *testing.T) {
		publish(t, b, bus.TopicPageToRelay, "ex-1", bus.KindResult)
		publish(t, b, bus.TopicPageToRelay, "ex-1", bus.KindInvocation)
		publish(t, b, bus.TopicOrchestratorToRelay, "ex-1", bus.KindIntercept)

		nothing(t, toOrchestrator)
		nothing(t, toPage)
	})

	t.Run("drops messages without exchange id", func(t *testing.T) {
		publish(t, b, bus.TopicPageToRelay, "", bus.KindIntercept)
		nothing(t, toOrchestrator)
	})

	t.Run("preserves order within an exchange", func(t *testing.T) {
		first := publish(t, b, bus.TopicPageToRelay, "ex-2", bus.KindIntercept)
		second := publish(t, b, bus.TopicPageToRelay, "ex-2", bus.KindResponse)

		require.Equal(t, first.ID, receive(t, toOrchestrator).ID)
		require.Equal(t, second.ID, receive(t, toOrchestrator).ID)
	})
}

func TestRelayStop(t *testing.T) {
	b := bus.New()
	defer b.Close()

	toOrchestrator := subscribe(t, b, bus.TopicRelayToOrchestrator)

	r, err := relay.New(b)
	require.NoError(t, err)

	r.Stop()

	publish(t, b, bus.TopicPageToRelay, "ex-1", bus.KindIntercept)
	nothing(t, toOrchestrator)
}

func TestRelayClosedBus(t *testing.T) {
	b := bus.New()
	require.NoError(t, b.Close())

	_, err := relay.New(b)
	require.Error(t, err)
}
