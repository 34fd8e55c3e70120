package exchange

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/samber/lo"
	"github.com/trustbloc/logutil-go/pkg/log"
	"go.uber.org/zap"

	"github.com/kokukuma/dc-mediator/internal/bus"
	"github.com/kokukuma/dc-mediator/internal/lifecycle"
	"github.com/kokukuma/dc-mediator/internal/logfields"
	"github.com/kokukuma/dc-mediator/protocol"
	"github.com/kokukuma/dc-mediator/wallet"
)

var logger = log.New("exchange-correlator")

const (
	DefaultResponseTimeout = 5 * time.Minute
	DefaultFetchTimeout    = 10 * time.Second
	DefaultResolvedTTL     = 10 * time.Minute

	eventBufferSize = 250
)

// ErrNotFound is returned by Lookup for exchanges that are not pending.
var ErrNotFound = errors.New("exchange not found")

type pubSub interface {
	Publish(ctx context.Context, topic bus.Topic, messages ...*bus.Message) error
	Subscribe(ctx context.Context, topic bus.Topic) (<-chan *bus.Message, error)
}

// Correlator drives every exchange through its state machine. All exchange
// state is owned by a single goroutine; selections, dispatch completions and
// deadlines reach it as events.
type Correlator struct {
	*lifecycle.Lifecycle

	plugins  *protocol.Registry
	wallets  wallet.Registry
	selector Selector
	pubSub   pubSub

	verify          protocol.Verifier
	responseTimeout  time.Duration
	selectionTimeout time.Duration
	fetchTimeout     time.Duration
	resolvedTTL      time.Duration
	disabled        bool
	now             func() time.Time

	inbox   <-chan *bus.Message
	events  chan event
	done    chan struct{}
	stopped chan struct{}

	ctx    context.Context
	cancel context.CancelFunc

	pending map[string]*entry

	// resolved remembers terminal exchange ids so that redelivered messages
	// cannot start them again.
	resolved      map[string]time.Time
	nextPurge     time.Time
	timerSequence uint64
}

type Opt func(c *Correlator)

// WithResponseTimeout sets how long a chosen wallet has to respond.
func WithResponseTimeout(d time.Duration) Opt {
	return func(c *Correlator) {
		c.responseTimeout = d
	}
}

// WithSelectionTimeout bounds how long an exchange waits for the user to pick a
// wallet. Zero, the default, waits until the selector answers.
func WithSelectionTimeout(d time.Duration) Opt {
	return func(c *Correlator) {
		c.selectionTimeout = d
	}
}

// WithResolvedTTL sets how long the id of a resolved exchange is remembered.
func WithResolvedTTL(d time.Duration) Opt {
	return func(c *Correlator) {
		c.resolvedTTL = d
	}
}

// WithFetchTimeout bounds request object resolution.
func WithFetchTimeout(d time.Duration) Opt {
	return func(c *Correlator) {
		c.fetchTimeout = d
	}
}

// WithVerifier sets the verifier passed to request object resolution.
func WithVerifier(v protocol.Verifier) Opt {
	return func(c *Correlator) {
		c.verify = v
	}
}

// WithDisabled makes every exchange fall back to native handling.
func WithDisabled(disabled bool) Opt {
	return func(c *Correlator) {
		c.disabled = disabled
	}
}

func withClock(now func() time.Time) Opt {
	return func(c *Correlator) {
		c.now = now
	}
}

// New creates a started correlator listening on the relay->orchestrator topic.
func New(plugins *protocol.Registry, wallets wallet.Registry, selector Selector, ps pubSub, opts ...Opt) (*Correlator, error) {
	c := &Correlator{
		plugins:         plugins,
		wallets:         wallets,
		selector:        selector,
		pubSub:          ps,
		responseTimeout: DefaultResponseTimeout,
		fetchTimeout:    DefaultFetchTimeout,
		resolvedTTL:     DefaultResolvedTTL,
		now:             time.Now,
		events:          make(chan event, eventBufferSize),
		done:            make(chan struct{}),
		stopped:         make(chan struct{}),
		pending:         make(map[string]*entry),
		resolved:        make(map[string]time.Time),
	}

	for _, opt := range opts {
		opt(c)
	}

	inbox, err := ps.Subscribe(context.Background(), bus.TopicRelayToOrchestrator)
	if err != nil {
		return nil, fmt.Errorf("subscribe to %s: %w", bus.TopicRelayToOrchestrator, err)
	}
	c.inbox = inbox

	c.ctx, c.cancel = context.WithCancel(context.Background())
	c.Lifecycle = lifecycle.New("exchange-correlator", lifecycle.WithStart(c.start), lifecycle.WithStop(c.stop))
	c.Start()

	return c, nil
}

// Select reports the user's wallet choice for an exchange. Choices for unknown
// or already resolved exchanges are ignored.
func (c *Correlator) Select(exchangeID, walletID string) error {
	return c.post(event{kind: eventSelect, exchangeID: exchangeID, walletID: walletID})
}

// Dismiss reports that the user closed the selector without choosing.
func (c *Correlator) Dismiss(exchangeID string) error {
	return c.post(event{kind: eventDismiss, exchangeID: exchangeID})
}

// Lookup returns a snapshot of a pending exchange.
func (c *Correlator) Lookup(ctx context.Context, exchangeID string) (*PendingExchange, error) {
	reply := make(chan *PendingExchange, 1)

	if err := c.post(event{kind: eventLookup, exchangeID: exchangeID, reply: reply}); err != nil {
		return nil, err
	}

	select {
	case p := <-reply:
		if p == nil {
			return nil, ErrNotFound
		}
		return p, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-c.stopped:
		return nil, lifecycle.ErrNotStarted
	}
}

func (c *Correlator) start() {
	go c.run()
}

func (c *Correlator) stop() {
	c.cancel()
	close(c.done)
	<-c.stopped
}

func (c *Correlator) post(ev event) error {
	select {
	case <-c.stopped:
		return lifecycle.ErrNotStarted
	default:
	}

	select {
	case c.events <- ev:
		return nil
	case <-c.stopped:
		return lifecycle.ErrNotStarted
	}
}

func (c *Correlator) run() {
	defer close(c.stopped)

	for {
		select {
		case msg, ok := <-c.inbox:
			if !ok {
				logger.Info("orchestrator inbox closed")
				c.teardown()
				return
			}
			c.handleMessage(msg)

		case ev := <-c.events:
			c.handleEvent(ev)

		case <-c.done:
			c.teardown()
			return
		}
	}
}

func (c *Correlator) handleMessage(msg *bus.Message) {
	if msg.ExchangeID == "" {
		logger.Warn("dropping message without exchange id", logfields.WithEventKind(string(msg.Kind)))
		return
	}

	switch msg.Kind {
	case bus.KindIntercept:
		c.intercept(msg)
	case bus.KindCancel:
		c.cancelSelection(msg.ExchangeID)
	case bus.KindResponse:
		c.respond(msg)
	default:
		logger.Debug("ignoring unexpected message",
			logfields.WithExchangeID(msg.ExchangeID), logfields.WithEventKind(string(msg.Kind)))
	}
}

func (c *Correlator) handleEvent(ev event) {
	switch ev.kind {
	case eventSelect:
		c.selectWallet(ev.exchangeID, ev.walletID)
	case eventDismiss:
		c.cancelSelection(ev.exchangeID)
	case eventDispatched:
		c.dispatched(ev)
	case eventTimeout:
		c.timeout(ev.exchangeID, ev.sequence)
	case eventLookup:
		var snapshot *PendingExchange
		if e, ok := c.pending[ev.exchangeID]; ok {
			snapshot = e.snapshot()
		}
		ev.reply <- snapshot
	}
}

func (c *Correlator) intercept(msg *bus.Message) {
	id := msg.ExchangeID

	if _, ok := c.pending[id]; ok || c.isResolved(id) {
		logger.Debug("ignoring duplicate intercept", logfields.WithExchangeID(id))
		return
	}

	var in Intercept
	if err := msg.Decode(&in); err != nil {
		c.markResolved(id)
		c.publishResult(&Result{
			ExchangeID: id,
			State:      StateFailed,
			Error:      protocol.NewExchangeError(protocol.NewValidationError("malformed credential call: %v", err)),
		})
		return
	}

	e := &entry{PendingExchange: PendingExchange{
		ID:        id,
		Origin:    in.Origin,
		CreatedAt: c.now(),
		State:     StateIntercepted,
	}}
	c.pending[id] = e

	logger.Info("exchange intercepted", logfields.WithExchangeID(id), logfields.WithOrigin(in.Origin))

	if c.disabled {
		c.finish(e, &Result{State: StateCompleted, UseNative: true})
		return
	}

	for _, req := range in.Requests {
		plugin, err := c.plugins.Resolve(req.Protocol)
		if err != nil {
			logger.Debug("no plugin for protocol",
				logfields.WithExchangeID(id), logfields.WithProtocol(req.Protocol))
			continue
		}

		authReq, err := plugin.PrepareRequest(req.Data)
		if err != nil {
			c.fail(e, err)
			return
		}

		e.requests = append(e.requests, prepared{plugin: plugin, request: authReq})
		e.Protocols = append(e.Protocols, plugin.ID())
	}

	if len(e.requests) == 0 {
		c.finish(e, &Result{State: StateCompleted, UseNative: true})
		return
	}

	wallets, err := c.wallets.Wallets(c.ctx)
	if err != nil {
		c.fail(e, fmt.Errorf("read wallet registry: %w", err))
		return
	}

	e.candidates = wallet.EligibleAny(wallets, e.Protocols)

	if len(e.candidates) == 0 {
		logger.Info("no eligible wallet, falling back to native handling", logfields.WithExchangeID(id))
		c.finish(e, &Result{State: StateCompleted, UseNative: true})
		return
	}

	e.State = StateAwaitingSelection

	if c.selectionTimeout > 0 {
		e.Deadline = c.now().Add(c.selectionTimeout)
		c.arm(e, c.selectionTimeout)
	}

	logger.Debug("awaiting wallet selection",
		logfields.WithExchangeID(id), logfields.WithCandidates(len(e.candidates)))

	c.selector.Prompt(SelectionPrompt{
		ExchangeID: id,
		Origin:     e.Origin,
		Candidates: append([]wallet.Descriptor(nil), e.candidates...),
		Requests: lo.Map(e.requests, func(p prepared, _ int) *protocol.AuthorizationRequest {
			return p.request
		}),
	})
}

func (c *Correlator) selectWallet(id, walletID string) {
	e, ok := c.pending[id]
	if !ok || e.State != StateAwaitingSelection {
		logger.Debug("ignoring wallet selection",
			logfields.WithExchangeID(id), logfields.WithWalletID(walletID), logfields.WithEventKind("select"))
		return
	}

	w, ok := wallet.Find(e.candidates, walletID)
	if !ok {
		logger.Warn("selected wallet is not a candidate",
			logfields.WithExchangeID(id), logfields.WithWalletID(walletID))
		return
	}

	p, _ := lo.Find(e.requests, func(p prepared) bool {
		return w.Supports(p.plugin.ID())
	})

	c.selector.Withdraw(id)
	e.release()

	e.State = StateWalletChosen
	e.WalletID = w.ID
	e.chosen = p

	ctx, cancel := context.WithCancel(c.ctx)
	e.cancelDispatch = cancel

	logger.Info("wallet chosen",
		logfields.WithExchangeID(id), logfields.WithWalletID(w.ID), logfields.WithProtocol(p.plugin.ID()))

	go c.dispatch(ctx, id, w, p)
}

// dispatch resolves a by-reference request and formats the invocation outside
// the run loop.
func (c *Correlator) dispatch(ctx context.Context, id string, w wallet.Descriptor, p prepared) {
	ev := event{kind: eventDispatched, exchangeID: id}

	if p.request.ByReference() {
		fetchCtx, cancel := context.WithTimeout(ctx, c.fetchTimeout)
		resolved, err := p.plugin.HandleRequestURI(fetchCtx, p.request, c.verify)
		cancel()

		if err != nil {
			ev.err = err
			_ = c.post(ev)
			return
		}
		ev.resolved = resolved
	}

	inv, err := p.plugin.FormatForWallet(p.request, w.URL)
	if err != nil {
		ev.err = err
	} else {
		ev.invocation = &Invocation{WalletID: w.ID, WalletName: w.Name, Invocation: *inv}
	}

	_ = c.post(ev)
}

func (c *Correlator) dispatched(ev event) {
	e, ok := c.pending[ev.exchangeID]
	if !ok || e.State != StateWalletChosen {
		logger.Debug("ignoring dispatch result",
			logfields.WithExchangeID(ev.exchangeID), logfields.WithEventKind("dispatched"))
		return
	}

	if ev.err != nil {
		c.fail(e, ev.err)
		return
	}

	e.ResolvedRequest = ev.resolved
	e.Deadline = c.now().Add(c.responseTimeout)
	ev.invocation.Deadline = e.Deadline

	if err := c.publish(bus.KindInvocation, e.ID, ev.invocation); err != nil {
		c.fail(e, err)
		return
	}

	c.arm(e, c.responseTimeout)
	e.State = StateAwaitingWalletResponse

	logger.Debug("awaiting wallet response",
		logfields.WithExchangeID(e.ID), logfields.WithDeadline(e.Deadline))
}

// arm starts the deadline timer of e. A timer event only counts while it
// carries the sequence of the timer currently armed.
func (c *Correlator) arm(e *entry, d time.Duration) {
	c.timerSequence++
	e.timerSequence = c.timerSequence

	id, seq := e.ID, e.timerSequence
	e.timer = time.AfterFunc(d, func() {
		_ = c.post(event{kind: eventTimeout, exchangeID: id, sequence: seq})
	})
}

func (c *Correlator) respond(msg *bus.Message) {
	e, ok := c.pending[msg.ExchangeID]
	if !ok || e.State != StateAwaitingWalletResponse {
		logger.Debug("discarding wallet response",
			logfields.WithExchangeID(msg.ExchangeID), logfields.WithEventKind(string(msg.Kind)))
		return
	}

	var r Response
	if err := msg.Decode(&r); err != nil {
		c.fail(e, protocol.NewValidationError("malformed wallet response: %v", err))
		return
	}

	resp, err := e.chosen.plugin.ValidateResponse(r.Data)
	if err != nil {
		c.fail(e, err)
		return
	}

	c.finish(e, &Result{State: StateCompleted, Response: resp})
}

func (c *Correlator) timeout(id string, seq uint64) {
	e, ok := c.pending[id]
	if !ok || e.timerSequence != seq ||
		(e.State != StateAwaitingWalletResponse && e.State != StateAwaitingSelection) {
		logger.Debug("ignoring deadline", logfields.WithExchangeID(id), logfields.WithEventKind("timeout"))
		return
	}

	c.fail(e, &protocol.TimeoutError{ExchangeID: id, Deadline: e.Deadline})
}

func (c *Correlator) cancelSelection(id string) {
	e, ok := c.pending[id]
	if !ok || e.State != StateAwaitingSelection {
		logger.Debug("ignoring cancellation", logfields.WithExchangeID(id), logfields.WithEventKind("cancel"))
		return
	}

	c.fail(e, &protocol.UserCancelledError{ExchangeID: id})
}

func (c *Correlator) fail(e *entry, err error) {
	state := StateFailed

	switch protocol.KindOf(err) {
	case protocol.KindTimeout:
		state = StateTimedOut
	case protocol.KindUserCancelled:
		state = StateCancelled
	}

	c.finish(e, &Result{State: state, Error: protocol.NewExchangeError(err)})
}

// finish moves e to its terminal state, drops it and delivers res. Every
// later event for the exchange finds nothing pending.
func (c *Correlator) finish(e *entry, res *Result) {
	if e.State == StateAwaitingSelection {
		c.selector.Withdraw(e.ID)
	}
	e.release()

	res.ExchangeID = e.ID
	res.WalletID = e.WalletID

	e.State = res.State
	e.Resolution = res
	delete(c.pending, e.ID)
	c.markResolved(e.ID)

	fields := []zap.Field{
		logfields.WithExchangeID(e.ID), logfields.WithState(string(res.State)),
	}
	if res.Error != nil {
		fields = append(fields, log.WithError(res.Error))
	}
	logger.Info("exchange resolved", fields...)

	c.publishResult(res)
}

func (c *Correlator) markResolved(id string) {
	now := c.now()
	c.resolved[id] = now

	if now.Before(c.nextPurge) {
		return
	}

	for resolvedID, at := range c.resolved {
		if now.Sub(at) >= c.resolvedTTL {
			delete(c.resolved, resolvedID)
		}
	}
	c.nextPurge = now.Add(c.resolvedTTL / 2)
}

func (c *Correlator) isResolved(id string) bool {
	at, ok := c.resolved[id]
	return ok && c.now().Sub(at) < c.resolvedTTL
}

func (c *Correlator) publishResult(res *Result) {
	if err := c.publish(bus.KindResult, res.ExchangeID, res); err != nil {
		logger.Error("failed to deliver result", logfields.WithExchangeID(res.ExchangeID), log.WithError(err))
	}
}

func (c *Correlator) publish(kind bus.Kind, exchangeID string, payload interface{}) error {
	msg, err := bus.NewMessage(exchangeID, kind, payload)
	if err != nil {
		return err
	}
	return c.pubSub.Publish(c.ctx, bus.TopicOrchestratorToRelay, msg)
}

func (c *Correlator) teardown() {
	for id, e := range c.pending {
		if e.State == StateAwaitingSelection {
			c.selector.Withdraw(id)
		}
		e.release()
		delete(c.pending, id)
	}
	logger.Info("exchange correlator stopped")
}
