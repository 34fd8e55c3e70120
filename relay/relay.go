// Package relay forwards messages between the page and orchestrator contexts.
// Only the kinds a direction may carry are forwarded.
package relay

import (
	"context"
	"fmt"
	"sync"

	"github.com/ory/go-convenience/stringslice"
	"github.com/trustbloc/logutil-go/pkg/log"

	"github.com/kokukuma/dc-mediator/internal/bus"
	"github.com/kokukuma/dc-mediator/internal/lifecycle"
	"github.com/kokukuma/dc-mediator/internal/logfields"
)

var logger = log.New("context-relay")

type pubSub interface {
	Publish(ctx context.Context, topic bus.Topic, messages ...*bus.Message) error
	Subscribe(ctx context.Context, topic bus.Topic) (<-chan *bus.Message, error)
}

type route struct {
	from  bus.Topic
	to    bus.Topic
	kinds []string
}

var routes = []route{
	{
		from:  bus.TopicPageToRelay,
		to:    bus.TopicRelayToOrchestrator,
		kinds: []string{string(bus.KindIntercept), string(bus.KindCancel), string(bus.KindResponse)},
	},
	{
		from:  bus.TopicOrchestratorToRelay,
		to:    bus.TopicRelayToPage,
		kinds: []string{string(bus.KindInvocation), string(bus.KindResult)},
	},
}

// Relay is the context between the page and the orchestrator.
type Relay struct {
	*lifecycle.Lifecycle

	pubSub pubSub
	inbox  []<-chan *bus.Message

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New subscribes to both inbound directions and starts forwarding.
func New(ps pubSub) (*Relay, error) {
	r := &Relay{pubSub: ps}

	for _, rt := range routes {
		in, err := ps.Subscribe(context.Background(), rt.from)
		if err != nil {
			return nil, fmt.Errorf("subscribe to %s: %w", rt.from, err)
		}
		r.inbox = append(r.inbox, in)
	}

	r.ctx, r.cancel = context.WithCancel(context.Background())
	r.Lifecycle = lifecycle.New("context-relay", lifecycle.WithStart(r.start), lifecycle.WithStop(r.stop))
	r.Start()

	return r, nil
}

func (r *Relay) start() {
	for i, rt := range routes {
		r.wg.Add(1)
		go r.forward(r.inbox[i], rt)
	}
}

func (r *Relay) stop() {
	r.cancel()
	r.wg.Wait()
}

func (r *Relay) forward(in <-chan *bus.Message, rt route) {
	defer r.wg.Done()

	for {
		select {
		case msg, ok := <-in:
			if !ok {
				logger.Debug("relay inbox closed", logfields.WithTopic(string(rt.from)))
				return
			}
			r.relay(msg, rt)

		case <-r.ctx.Done():
			return
		}
	}
}

func (r *Relay) relay(msg *bus.Message, rt route) {
	if msg.ExchangeID == "" {
		logger.Warn("dropping message without exchange id",
			logfields.WithTopic(string(rt.from)), logfields.WithEventKind(string(msg.Kind)))
		return
	}

	if !stringslice.Has(rt.kinds, string(msg.Kind)) {
		logger.Warn("dropping message of unexpected kind",
			logfields.WithTopic(string(rt.from)),
			logfields.WithExchangeID(msg.ExchangeID),
			logfields.WithEventKind(string(msg.Kind)))
		return
	}

	if err := r.pubSub.Publish(r.ctx, rt.to, msg); err != nil {
		logger.Error("failed to relay message",
			logfields.WithTopic(string(rt.to)),
			logfields.WithExchangeID(msg.ExchangeID),
			log.WithError(err))
	}
}
