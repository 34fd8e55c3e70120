package lifecycle

import (
	"errors"
	"sync/atomic"

	"github.com/trustbloc/logutil-go/pkg/log"
	"go.uber.org/zap"
)

var logger = log.New("lifecycle")

// ErrNotStarted indicates that a component was used before Start or after Stop.
var ErrNotStarted = errors.New("service has not started")

// State is the state of the service.
type State = uint32

const (
	StateNotStarted State = 0
	StateStarting   State = 1
	StateStarted    State = 2
	StateStopped    State = 3
)

type options struct {
	start func()
	stop  func()
}

// Lifecycle implements Start and Stop for a long-running component.
type Lifecycle struct {
	*options
	name  string
	state uint32
}

type Opt func(opts *options)

// WithStart sets the function invoked by Start.
func WithStart(start func()) Opt {
	return func(opts *options) {
		opts.start = start
	}
}

// WithStop sets the function invoked by Stop.
func WithStop(stop func()) Opt {
	return func(opts *options) {
		opts.stop = stop
	}
}

func New(name string, opts ...Opt) *Lifecycle {
	options := &options{
		start: func() {},
		stop:  func() {},
	}

	for _, opt := range opts {
		opt(options)
	}

	return &Lifecycle{
		options: options,
		name:    name,
	}
}

func (h *Lifecycle) Start() {
	if !atomic.CompareAndSwapUint32(&h.state, StateNotStarted, StateStarting) {
		logger.Debug("service already started", zap.String("service", h.name))
		return
	}

	h.start()

	atomic.StoreUint32(&h.state, StateStarted)

	logger.Debug("service started", zap.String("service", h.name))
}

func (h *Lifecycle) Stop() {
	if !atomic.CompareAndSwapUint32(&h.state, StateStarted, StateStopped) {
		logger.Debug("service already stopped", zap.String("service", h.name))
		return
	}

	h.stop()

	logger.Debug("service stopped", zap.String("service", h.name))
}

func (h *Lifecycle) State() State {
	return atomic.LoadUint32(&h.state)
}
