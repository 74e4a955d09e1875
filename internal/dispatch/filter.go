package dispatch

import (
	"sync"

	"github.com/nerrad567/nodelink-core/internal/xbee"
)

// Filter describes which inbound messages satisfy a pending exchange.
//
// Nil fields are "don't care"; a message matches when every present field
// matches (AND). The zero Filter matches every message. There is no priority
// between filters: every matching exchange receives the message.
type Filter struct {
	Address64 *uint64
	Address16 *uint16
	FrameType *xbee.FrameType
	FrameID   *byte
	Seq       *byte
	AppCode   *xbee.AppCode
}

// ReplyFilter matches an application reply from one node.
func ReplyFilter(addr64 uint64, code xbee.AppCode, seq byte) Filter {
	return Filter{Address64: &addr64, AppCode: &code, Seq: &seq}
}

// FrameIDFilter matches local replies (AT response, TX status) to frameID.
func FrameIDFilter(frameType xbee.FrameType, frameID byte) Filter {
	return Filter{FrameType: &frameType, FrameID: &frameID}
}

// WithAddress16 returns a copy of f that also requires the network address.
func (f Filter) WithAddress16(addr uint16) Filter {
	f.Address16 = &addr
	return f
}

// Matches reports whether msg satisfies every present field.
func (f Filter) Matches(msg xbee.Message) bool {
	if f.FrameType != nil && msg.Type() != *f.FrameType {
		return false
	}

	if f.Address64 != nil || f.Address16 != nil {
		nm, ok := msg.(xbee.NodeMessage)
		if !ok {
			return false
		}
		if f.Address64 != nil && nm.Address64() != *f.Address64 {
			return false
		}
		if f.Address16 != nil && nm.Address16() != *f.Address16 {
			return false
		}
	}

	if f.FrameID != nil {
		ack, ok := msg.(xbee.Acknowledgement)
		if !ok || ack.AckFrameID() != *f.FrameID {
			return false
		}
	}

	if f.Seq != nil || f.AppCode != nil {
		dm, ok := msg.(xbee.DataMessage)
		if !ok {
			return false
		}
		if f.AppCode != nil && dm.AppCode() != *f.AppCode {
			return false
		}
		if f.Seq != nil && dm.Seq() != *f.Seq {
			return false
		}
	}

	return true
}

// pendingExchange is a registered expectation. The wake channel is closed on
// the first match; later matches are still buffered until unregistration.
type pendingExchange struct {
	filter Filter
	wake   chan struct{}

	mu      sync.Mutex
	woken   bool
	matches []xbee.Message
}

func newPendingExchange(f Filter) *pendingExchange {
	return &pendingExchange{filter: f, wake: make(chan struct{})}
}

// offer buffers msg if it matches and wakes the waiter on the first match.
func (e *pendingExchange) offer(msg xbee.Message) bool {
	if !e.filter.Matches(msg) {
		return false
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.matches = append(e.matches, msg)
	if !e.woken {
		e.woken = true
		close(e.wake)
	}
	return true
}

// collected returns a copy of the matches buffered so far.
func (e *pendingExchange) collected() []xbee.Message {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]xbee.Message, len(e.matches))
	copy(out, e.matches)
	return out
}
