package server

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/samber/lo"

	"github.com/kokukuma/dc-mediator/exchange"
	"github.com/kokukuma/dc-mediator/internal/logfields"
	"github.com/kokukuma/dc-mediator/shim"
)

const defaultRetention = 10 * time.Minute

var errSelectionNotFound = errors.New("no selection pending for exchange")

// Selections is the selection UI served over HTTP. It holds the prompt of
// every exchange waiting for the user's wallet choice.
type Selections struct {
	mu      sync.RWMutex
	prompts map[string]exchange.SelectionPrompt
}

func NewSelections() *Selections {
	return &Selections{
		prompts: make(map[string]exchange.SelectionPrompt),
	}
}

func (s *Selections) Prompt(p exchange.SelectionPrompt) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.prompts[p.ExchangeID] = p
}

func (s *Selections) Withdraw(exchangeID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.prompts, exchangeID)
}

func (s *Selections) Get(exchangeID string) (exchange.SelectionPrompt, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.prompts[exchangeID]
	if !ok {
		return exchange.SelectionPrompt{}, errSelectionNotFound
	}
	return p, nil
}

// List returns the pending prompts ordered by exchange id.
func (s *Selections) List() []exchange.SelectionPrompt {
	s.mu.RLock()
	prompts := lo.Values(s.prompts)
	s.mu.RUnlock()

	sort.Slice(prompts, func(i, j int) bool {
		return prompts[i].ExchangeID < prompts[j].ExchangeID
	})
	return prompts
}

// Exchanges keeps the credential calls started over HTTP and their results,
// so callers can poll for them. Results are kept for a retention period.
type Exchanges struct {
	mu        sync.RWMutex
	records   map[string]*record
	retention time.Duration
	now       func() time.Time
}

type record struct {
	call       *shim.Call
	result     *exchange.Result
	err        error
	resolvedAt time.Time
}

func NewExchanges(retention time.Duration) *Exchanges {
	return &Exchanges{
		records:   make(map[string]*record),
		retention: retention,
		now:       time.Now,
	}
}

// Track records call and collects its result once it resolves.
func (e *Exchanges) Track(call *shim.Call) {
	e.mu.Lock()
	e.purgeNoLock()
	e.records[call.ID] = &record{call: call}
	e.mu.Unlock()

	go func() {
		<-call.Done()
		res, err := call.Wait(context.Background())

		e.mu.Lock()
		defer e.mu.Unlock()

		if r, ok := e.records[call.ID]; ok {
			r.result, r.err, r.resolvedAt = res, err, e.now()
		}

		logger.Debug("credential call result stored", logfields.WithExchangeID(call.ID))
	}()
}

func (e *Exchanges) Get(id string) (record, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	r, ok := e.records[id]
	if !ok {
		return record{}, false
	}
	return *r, true
}

func (e *Exchanges) purgeNoLock() {
	for id, r := range e.records {
		if !r.resolvedAt.IsZero() && e.now().Sub(r.resolvedAt) > e.retention {
			delete(e.records, id)
		}
	}
}
