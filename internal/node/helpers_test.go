package node

import (
	"context"
	"sync"
	"time"

	"github.com/nerrad567/nodelink-core/internal/dispatch"
	"github.com/nerrad567/nodelink-core/internal/xbee"
)

const (
	testSerial uint64 = 0x0013A20040A1B2C3
	testAddr16 uint16 = 0x1234
)

// simNode answers investigation requests like a well-behaved node.
type simNode struct {
	serial  uint64
	addr16  uint16
	name    string
	entries []xbee.CatalogEntry
	params  map[[2]byte]xbee.ParameterDescriptor
	result  []byte
	status  byte
}

func newSimNode() *simNode {
	return &simNode{
		serial: testSerial,
		addr16: testAddr16,
		name:   "dimmer",
		entries: []xbee.CatalogEntry{
			{FunctionID: 1, ReturnType: xbee.TypeInt16, ParamCount: 1, Name: "setLevel"},
			{FunctionID: 2, ReturnType: xbee.TypeVoid, ParamCount: 0, Name: "reset"},
		},
		params: map[[2]byte]xbee.ParameterDescriptor{
			{1, 1}: {Type: xbee.TypeInt16, Signed: true, Min: -100, Max: 100, Name: "level"},
			{1, 0}: {Type: xbee.TypeInt16, Signed: true, Min: -32768, Max: 32767, Name: "previous"},
		},
		result: []byte{0xFF, 0xF6}, // -10
	}
}

func (n *simNode) frame(code xbee.AppCode, seq byte, body []byte) xbee.Message {
	return xbee.Classify(xbee.NewFrame(xbee.BuildRxData(n.serial, n.addr16, code, seq, body)))
}

func (n *simNode) answer(tx *xbee.TxRequest) []xbee.Message {
	seq := tx.Seq()
	body := tx.RFData[2:]

	switch tx.AppCode() {
	case xbee.AppInfoRequest:
		return []xbee.Message{n.frame(xbee.AppInfoResponse, seq, xbee.InfoResponseBody(n.serial, n.name))}

	case xbee.AppCatalogRequest:
		idx := body[0]
		if idx == 0 {
			return []xbee.Message{n.frame(xbee.AppCatalogResponse, seq, xbee.CatalogCountBody(byte(len(n.entries))))}
		}
		return []xbee.Message{n.frame(xbee.AppCatalogResponse, seq, xbee.CatalogEntryBody(idx, n.entries[idx-1]))}

	case xbee.AppParameterRequest:
		d, ok := n.params[[2]byte{body[0], body[1]}]
		if !ok {
			return nil
		}
		return []xbee.Message{n.frame(xbee.AppParameterResponse, seq, xbee.ParameterResponseBody(body[0], body[1], d))}

	case xbee.AppFunctionTransmit:
		return []xbee.Message{n.frame(xbee.AppFunctionReceive, seq, xbee.FunctionReceiveBody(body[0], n.status, xbee.TypeInt16, n.result))}
	}
	return nil
}

type sentRequest struct {
	tx      *xbee.TxRequest
	timeout time.Duration
}

// fakeSender stands in for the dispatcher. Replies from the simulated node
// are applied to the registry before filter matching, like the real worker.
type fakeSender struct {
	mu    sync.Mutex
	reg   *Registry
	node  *simNode
	seq   byte
	waits []sentRequest
	sent  []*xbee.TxRequest
}

func (f *fakeSender) NextSequence() byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seq++
	if f.seq == 0 {
		f.seq = 1
	}
	return f.seq
}

func (f *fakeSender) Send(msg xbee.Outgoing) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, msg.(*xbee.TxRequest))
	return nil
}

func (f *fakeSender) SendAndWait(_ context.Context, msg xbee.Outgoing, timeout time.Duration, filter dispatch.Filter) (bool, []xbee.Message) {
	tx := msg.(*xbee.TxRequest)

	f.mu.Lock()
	f.waits = append(f.waits, sentRequest{tx: tx, timeout: timeout})
	node := f.node
	f.mu.Unlock()

	if node == nil {
		return false, nil
	}

	var matched []xbee.Message
	for _, reply := range node.answer(tx) {
		f.reg.Update(reply)
		if filter.Matches(reply) {
			matched = append(matched, reply)
		}
	}
	return len(matched) > 0, matched
}

func (f *fakeSender) requests() []sentRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]sentRequest(nil), f.waits...)
}

func (f *fakeSender) probes() []*xbee.TxRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*xbee.TxRequest(nil), f.sent...)
}

// eventRecorder collects registry events.
type eventRecorder struct {
	mu     sync.Mutex
	events []Event
}

func (e *eventRecorder) OnEvent(ev Event) {
	e.mu.Lock()
	e.events = append(e.events, ev)
	e.mu.Unlock()
}

func (e *eventRecorder) all() []Event {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]Event(nil), e.events...)
}

func (e *eventRecorder) count(t EventType) int {
	n := 0
	for _, ev := range e.all() {
		if ev.Type == t {
			n++
		}
	}
	return n
}

func newTestRegistry(node *simNode) (*Registry, *fakeSender, *eventRecorder) {
	sender := &fakeSender{node: node}
	reg := NewRegistry(sender, Config{})
	sender.reg = reg
	rec := &eventRecorder{}
	reg.AddObserver(rec)
	return reg, sender, rec
}

func statusFrom(addr64 uint64, addr16 uint16, status xbee.DeviceStatusCode) xbee.Message {
	return xbee.Classify(xbee.NewFrame(xbee.BuildRxData(addr64, addr16, xbee.AppDeviceStatus, 1, xbee.DeviceStatusBody(status))))
}
