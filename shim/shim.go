// Package shim is the page-side entry point of the mediator. It captures
// digital credential calls, correlates them with an exchange id and waits for
// the orchestrator's result.
package shim

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/trustbloc/logutil-go/pkg/log"

	"github.com/kokukuma/dc-mediator/exchange"
	"github.com/kokukuma/dc-mediator/internal/bus"
	"github.com/kokukuma/dc-mediator/internal/lifecycle"
	"github.com/kokukuma/dc-mediator/internal/logfields"
)

var logger = log.New("interception-shim")

var (
	// ErrClosed is returned to calls still waiting when the shim stops or
	// its channel closes.
	ErrClosed = errors.New("shim closed")

	ErrNotDigitalCredentialRequest = errors.New("not a digital credential request")

	// ErrUnknownCall is returned for exchange ids with no waiting call.
	ErrUnknownCall = errors.New("no pending call for exchange")
)

type pubSub interface {
	Publish(ctx context.Context, topic bus.Topic, messages ...*bus.Message) error
	Subscribe(ctx context.Context, topic bus.Topic) (<-chan *bus.Message, error)
}

// Launcher opens a wallet in the page. It must not block.
type Launcher func(call *Call, invocation *exchange.Invocation)

// Shim tracks the credential calls of one page.
type Shim struct {
	*lifecycle.Lifecycle

	pubSub   pubSub
	launcher Launcher
	inbox    <-chan *bus.Message

	mu    sync.RWMutex
	calls map[string]*Call

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

type Opt func(s *Shim)

// WithLauncher sets the function invoked when the orchestrator asks the page
// to open a wallet.
func WithLauncher(l Launcher) Opt {
	return func(s *Shim) {
		if l != nil {
			s.launcher = l
		}
	}
}

// New creates a started shim listening on the relay->page topic.
func New(ps pubSub, opts ...Opt) (*Shim, error) {
	s := &Shim{
		pubSub:   ps,
		launcher: func(*Call, *exchange.Invocation) {},
		calls:    make(map[string]*Call),
	}

	for _, opt := range opts {
		opt(s)
	}

	inbox, err := ps.Subscribe(context.Background(), bus.TopicRelayToPage)
	if err != nil {
		return nil, fmt.Errorf("subscribe to %s: %w", bus.TopicRelayToPage, err)
	}
	s.inbox = inbox

	s.ctx, s.cancel = context.WithCancel(context.Background())
	s.Lifecycle = lifecycle.New("interception-shim", lifecycle.WithStart(s.start), lifecycle.WithStop(s.stop))
	s.Start()

	return s, nil
}

// Get captures a credential call and waits for its result.
func (s *Shim) Get(ctx context.Context, origin string, options map[string]interface{}) (*exchange.Result, error) {
	call, err := s.Begin(ctx, origin, options)
	if err != nil {
		return nil, err
	}
	return call.Wait(ctx)
}

// Begin captures a credential call and hands it to the orchestrator. Cancelling
// ctx while the wallet selector is open cancels the exchange.
func (s *Shim) Begin(ctx context.Context, origin string, options map[string]interface{}) (*Call, error) {
	if s.State() != lifecycle.StateStarted {
		return nil, ErrClosed
	}

	requests, err := ParseRequests(origin, options)
	if err != nil {
		return nil, err
	}

	call := newCall(uuid.NewString(), origin)

	s.mu.Lock()
	s.calls[call.ID] = call
	s.mu.Unlock()

	err = s.publish(ctx, call.ID, bus.KindIntercept, exchange.Intercept{Origin: origin, Requests: requests})
	if err != nil {
		s.remove(call.ID)
		return nil, fmt.Errorf("publish credential call: %w", err)
	}

	logger.Debug("credential call captured",
		logfields.WithExchangeID(call.ID), logfields.WithOrigin(origin))

	s.wg.Add(1)
	go s.watch(ctx, call)

	return call, nil
}

// Respond hands the data a wallet returned for an exchange to the orchestrator.
func (s *Shim) Respond(ctx context.Context, exchangeID string, data interface{}) error {
	if _, ok := s.Call(exchangeID); !ok {
		return ErrUnknownCall
	}
	return s.publish(ctx, exchangeID, bus.KindResponse, exchange.Response{Data: data})
}

// Call returns the waiting call of an exchange.
func (s *Shim) Call(exchangeID string) (*Call, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	call, ok := s.calls[exchangeID]
	return call, ok
}

func (s *Shim) start() {
	s.wg.Add(1)
	go s.listen()
}

func (s *Shim) stop() {
	s.cancel()
	s.wg.Wait()
	s.closeAll()
}

func (s *Shim) listen() {
	defer s.wg.Done()

	for {
		select {
		case msg, ok := <-s.inbox:
			if !ok {
				logger.Info("page inbox closed")
				s.closeAll()
				return
			}
			s.handle(msg)

		case <-s.ctx.Done():
			return
		}
	}
}

func (s *Shim) handle(msg *bus.Message) {
	call, ok := s.Call(msg.ExchangeID)
	if !ok {
		logger.Debug("no call waiting for message",
			logfields.WithExchangeID(msg.ExchangeID), logfields.WithEventKind(string(msg.Kind)))
		return
	}

	switch msg.Kind {
	case bus.KindInvocation:
		var inv exchange.Invocation
		if err := msg.Decode(&inv); err != nil {
			logger.Error("malformed invocation", logfields.WithExchangeID(call.ID), log.WithError(err))
			return
		}

		call.setInvocation(&inv)
		s.launcher(call, &inv)

	case bus.KindResult:
		var res exchange.Result
		if err := msg.Decode(&res); err != nil {
			logger.Error("malformed result", logfields.WithExchangeID(call.ID), log.WithError(err))
			return
		}

		s.remove(call.ID)
		call.complete(&res, res.Err())

		logger.Debug("credential call resolved",
			logfields.WithExchangeID(call.ID), logfields.WithState(string(res.State)))
	}
}

// watch cancels the exchange when the caller gives up before it resolves.
func (s *Shim) watch(ctx context.Context, call *Call) {
	defer s.wg.Done()

	select {
	case <-ctx.Done():
	case <-call.done:
		return
	case <-s.ctx.Done():
		return
	}

	if err := s.publish(s.ctx, call.ID, bus.KindCancel, nil); err != nil {
		logger.Warn("failed to publish cancel", logfields.WithExchangeID(call.ID), log.WithError(err))
	}

	s.remove(call.ID)
	call.complete(nil, ctx.Err())
}

func (s *Shim) publish(ctx context.Context, exchangeID string, kind bus.Kind, payload interface{}) error {
	msg, err := bus.NewMessage(exchangeID, kind, payload)
	if err != nil {
		return err
	}
	return s.pubSub.Publish(ctx, bus.TopicPageToRelay, msg)
}

func (s *Shim) remove(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.calls, id)
}

func (s *Shim) closeAll() {
	s.mu.Lock()
	calls := s.calls
	s.calls = make(map[string]*Call)
	s.mu.Unlock()

	for _, call := range calls {
		call.complete(nil, ErrClosed)
	}
}
