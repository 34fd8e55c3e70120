package exchange

import (
	"context"
	"time"

	"github.com/kokukuma/dc-mediator/protocol"
	"github.com/kokukuma/dc-mediator/wallet"
)

type eventKind int

const (
	eventSelect eventKind = iota
	eventDismiss
	eventDispatched
	eventTimeout
	eventLookup
)

type event struct {
	kind       eventKind
	exchangeID string
	walletID   string
	invocation *Invocation
	resolved   *protocol.AuthorizationRequest
	err        error
	sequence   uint64
	reply      chan *PendingExchange
}

type prepared struct {
	plugin  protocol.Plugin
	request *protocol.AuthorizationRequest
}

// entry is the correlator's record of one exchange. Only the run loop
// touches it.
type entry struct {
	PendingExchange

	requests   []prepared
	candidates []wallet.Descriptor
	chosen     prepared

	timer          *time.Timer
	timerSequence  uint64
	cancelDispatch context.CancelFunc
}

func (e *entry) release() {
	if e.timer != nil {
		e.timer.Stop()
	}
	if e.cancelDispatch != nil {
		e.cancelDispatch()
	}
}

func (e *entry) snapshot() *PendingExchange {
	p := e.PendingExchange
	p.Protocols = append([]string(nil), e.Protocols...)
	return &p
}
