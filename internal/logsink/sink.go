package logsink

import (
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/google/uuid"

	"github.com/nerrad567/nodelink-core/internal/xbee"
)

// ErrNoAddress is returned by New when no destination is configured.
var ErrNoAddress = errors.New("logsink: address is required")

// DefaultQueueSize is the number of records buffered before dropping.
const DefaultQueueSize = 256

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	var err error
	encMode, err = cbor.EncOptions{
		Sort:          cbor.SortCanonical,
		IndefLength:   cbor.IndefLengthForbidden,
		NilContainers: cbor.NilContainerAsNull,
		Time:          cbor.TimeRFC3339Nano,
	}.EncMode()
	if err != nil {
		panic(fmt.Sprintf("logsink: CBOR encoder mode: %v", err))
	}
	decMode, err = cbor.DecOptions{
		DupMapKey:   cbor.DupMapKeyQuiet,
		IndefLength: cbor.IndefLengthAllowed,
	}.DecMode()
	if err != nil {
		panic(fmt.Sprintf("logsink: CBOR decoder mode: %v", err))
	}
}

// Record is one mirrored message. Integer keys keep datagrams small.
type Record struct {
	Time      time.Time `cbor:"1,keyasint"`
	Session   string    `cbor:"2,keyasint"`
	Seq       uint64    `cbor:"3,keyasint"`
	Direction string    `cbor:"4,keyasint"`
	FrameType uint8     `cbor:"5,keyasint"`
	Summary   string    `cbor:"6,keyasint"`
	Address64 uint64    `cbor:"7,keyasint,omitempty"`
	AppCode   uint8     `cbor:"8,keyasint,omitempty"`
	Data      []byte    `cbor:"9,keyasint"`
}

// Decode parses one datagram.
func Decode(b []byte) (Record, error) {
	var r Record
	if err := decMode.Unmarshal(b, &r); err != nil {
		return Record{}, fmt.Errorf("logsink: decoding record: %w", err)
	}
	return r, nil
}

// Logger interface for optional logging.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Warn(string, ...any)  {}

// Config configures the UDP destination.
type Config struct {
	Address   string // host:port
	QueueSize int
}

// Stats holds sink counters.
type Stats struct {
	Queued  uint64
	Sent    uint64
	Dropped uint64
	Errors  uint64
}

// Sink mirrors dispatcher traffic to a UDP listener. Mirror never blocks:
// when the queue is full the record is dropped and counted.
type Sink struct {
	conn    net.Conn
	session string
	logger  Logger
	queue   chan Record

	seq     atomic.Uint64
	queued  atomic.Uint64
	sent    atomic.Uint64
	dropped atomic.Uint64
	errs    atomic.Uint64

	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// New dials the destination and starts the sender goroutine.
func New(cfg Config, logger Logger) (*Sink, error) {
	if cfg.Address == "" {
		return nil, ErrNoAddress
	}
	conn, err := net.Dial("udp", cfg.Address)
	if err != nil {
		return nil, fmt.Errorf("logsink: dialing %s: %w", cfg.Address, err)
	}

	s := newSink(conn, cfg.QueueSize, logger)
	s.wg.Add(1)
	go s.run()
	return s, nil
}

func newSink(conn net.Conn, size int, logger Logger) *Sink {
	if size <= 0 {
		size = DefaultQueueSize
	}
	if logger == nil {
		logger = noopLogger{}
	}
	return &Sink{
		conn:    conn,
		session: uuid.NewString(),
		logger:  logger,
		queue:   make(chan Record, size),
		done:    make(chan struct{}),
	}
}

// Session returns the ID stamped on every record from this process.
func (s *Sink) Session() string {
	return s.session
}

// Mirror implements dispatch.Mirror.
func (s *Sink) Mirror(msg xbee.Message) {
	select {
	case <-s.done:
		return
	default:
	}

	r := Record{
		Time:      time.Now(),
		Session:   s.session,
		Seq:       s.seq.Add(1),
		Direction: msg.Direction().String(),
		FrameType: uint8(msg.Type()),
		Summary:   xbee.Describe(msg),
		Data:      msg.Data(),
	}
	if nm, ok := msg.(xbee.NodeMessage); ok {
		r.Address64 = nm.Address64()
	}
	if dm, ok := msg.(xbee.DataMessage); ok {
		r.AppCode = uint8(dm.AppCode())
	}

	select {
	case s.queue <- r:
		s.queued.Add(1)
	default:
		s.dropped.Add(1)
	}
}

func (s *Sink) run() {
	defer s.wg.Done()
	for {
		select {
		case <-s.done:
			return
		case r := <-s.queue:
			s.send(r)
		}
	}
}

func (s *Sink) send(r Record) {
	b, err := encMode.Marshal(r)
	if err != nil {
		s.errs.Add(1)
		s.logger.Debug("log sink encode failed", "error", err)
		return
	}
	if _, err := s.conn.Write(b); err != nil {
		// Nobody listening is normal; count and move on.
		s.errs.Add(1)
		s.logger.Debug("log sink write failed", "error", err)
		return
	}
	s.sent.Add(1)
}

// Stats returns sink counters.
func (s *Sink) Stats() Stats {
	return Stats{
		Queued:  s.queued.Load(),
		Sent:    s.sent.Load(),
		Dropped: s.dropped.Load(),
		Errors:  s.errs.Load(),
	}
}

// Close stops the sender and closes the socket. Queued records are
// discarded. The socket is closed before waiting so a sender stuck in
// Write is released.
func (s *Sink) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.done)
		err = s.conn.Close()
		s.wg.Wait()
		if dropped := len(s.queue); dropped > 0 {
			s.logger.Warn("log sink closed with records pending", "pending", dropped)
		}
	})
	return err
}
