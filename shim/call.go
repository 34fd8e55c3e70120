package shim

import (
	"context"
	"sync"

	"github.com/kokukuma/dc-mediator/exchange"
)

// Call is one captured credential call.
type Call struct {
	ID     string
	Origin string

	mu         sync.RWMutex
	invocation *exchange.Invocation
	result     *exchange.Result
	err        error

	once sync.Once
	done chan struct{}
}

func newCall(id, origin string) *Call {
	return &Call{ID: id, Origin: origin, done: make(chan struct{})}
}

// Wait blocks until the exchange resolves. A resolution other than COMPLETED
// is returned as an error classified by the protocol Is* helpers, together
// with the result.
func (c *Call) Wait(ctx context.Context) (*exchange.Result, error) {
	select {
	case <-c.done:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	c.mu.RLock()
	defer c.mu.RUnlock()

	return c.result, c.err
}

// Done is closed once the call resolved.
func (c *Call) Done() <-chan struct{} {
	return c.done
}

// Invocation returns the wallet invocation, if the orchestrator sent one.
func (c *Call) Invocation() *exchange.Invocation {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return c.invocation
}

func (c *Call) setInvocation(inv *exchange.Invocation) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.invocation = inv
}

func (c *Call) complete(res *exchange.Result, err error) {
	c.once.Do(func() {
		c.mu.Lock()
		c.result = res
		c.err = err
		c.mu.Unlock()

		close(c.done)
	})
}
