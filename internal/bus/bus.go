// Package bus connects the page, relay and orchestrator contexts with named,
// per-direction topics.
package bus

import (
	"context"
	"sync"

	"github.com/trustbloc/logutil-go/pkg/log"

	"github.com/kokukuma/dc-mediator/internal/lifecycle"
	"github.com/kokukuma/dc-mediator/internal/logfields"
)

var logger = log.New("event-bus")

const defaultBufferSize = 250

// Bus implements a publisher/subscriber over Go channels. Messages published
// to one topic are delivered to each of its subscribers in publish order.
// Publish never waits on a subscriber: every subscription queues its messages
// and hands them to its channel from its own goroutine, so a subscriber may
// publish from its receive loop.
type Bus struct {
	*lifecycle.Lifecycle

	subscribers map[Topic][]*subscription
	mutex       sync.RWMutex
	wg          sync.WaitGroup
}

type subscription struct {
	topic Topic

	mu    sync.Mutex
	queue []*Message

	notify chan struct{}
	out    chan *Message
	done   chan struct{}
}

// New returns a started bus.
func New() *Bus {
	b := &Bus{
		subscribers: make(map[Topic][]*subscription),
	}

	b.Lifecycle = lifecycle.New("event-bus", lifecycle.WithStop(b.stop))

	b.Start()

	return b
}

// Close stops the bus and closes every subscriber channel.
func (b *Bus) Close() error {
	b.Stop()
	return nil
}

func (b *Bus) stop() {
	logger.Info("stopping event bus")

	b.mutex.Lock()
	for _, subs := range b.subscribers {
		for _, sub := range subs {
			close(sub.done)
		}
	}
	b.subscribers = nil
	b.mutex.Unlock()

	b.wg.Wait()

	logger.Info("event bus stopped")
}

// Subscribe returns a channel receiving every message published to topic after
// the call. The channel is closed when the bus stops.
func (b *Bus) Subscribe(_ context.Context, topic Topic) (<-chan *Message, error) {
	b.mutex.Lock()
	defer b.mutex.Unlock()

	if b.State() != lifecycle.StateStarted {
		return nil, lifecycle.ErrNotStarted
	}

	logger.Debug("subscribing to topic", logfields.WithTopic(string(topic)))

	sub := &subscription{
		topic:  topic,
		notify: make(chan struct{}, 1),
		out:    make(chan *Message, defaultBufferSize),
		done:   make(chan struct{}),
	}
	b.subscribers[topic] = append(b.subscribers[topic], sub)

	b.wg.Add(1)
	go sub.deliver(&b.wg)

	return sub.out, nil
}

// Publish queues messages for delivery on topic and returns.
func (b *Bus) Publish(ctx context.Context, topic Topic, messages ...*Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	b.mutex.RLock()
	defer b.mutex.RUnlock()

	if b.State() != lifecycle.StateStarted {
		return lifecycle.ErrNotStarted
	}

	subscribers := b.subscribers[topic]
	if len(subscribers) == 0 {
		logger.Debug("no subscribers for topic", logfields.WithTopic(string(topic)))
		return nil
	}

	for _, sub := range subscribers {
		copies := make([]*Message, 0, len(messages))
		for _, m := range messages {
			logger.Debug("publishing message",
				logfields.WithTopic(string(topic)),
				logfields.WithExchangeID(m.ExchangeID),
				logfields.WithEventKind(string(m.Kind)))

			copies = append(copies, m.Copy())
		}
		sub.push(copies)
	}

	return nil
}

func (s *subscription) push(messages []*Message) {
	s.mu.Lock()
	s.queue = append(s.queue, messages...)
	s.mu.Unlock()

	select {
	case s.notify <- struct{}{}:
	default:
	}
}

// deliver moves queued messages to the subscriber channel until the bus
// stops. Messages still queued at that point are dropped.
func (s *subscription) deliver(wg *sync.WaitGroup) {
	defer wg.Done()
	defer close(s.out)

	for {
		s.mu.Lock()
		batch := s.queue
		s.queue = nil
		s.mu.Unlock()

		for _, msg := range batch {
			select {
			case s.out <- msg:
			case <-s.done:
				return
			}
		}

		select {
		case <-s.notify:
		case <-s.done:
			return
		}
	}
}
