package serialport

import (
	"context"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"go.bug.st/serial"

	"github.com/nerrad567/nodelink-core/internal/xbee"
)

const (
	// DefaultBaudRate matches the radio module's factory setting.
	DefaultBaudRate = 9600

	// defaultReadTimeout bounds each Read so the loop notices Close.
	defaultReadTimeout = 500 * time.Millisecond

	// defaultReconnectInterval is the initial delay between reopen attempts.
	defaultReconnectInterval = 2 * time.Second

	// maxReconnectInterval caps the reopen backoff.
	maxReconnectInterval = time.Minute

	readBufferSize = 256
)

// Port is the part of serial.Port the client uses.
type Port interface {
	io.ReadWriteCloser
	ResetInputBuffer() error
	SetReadTimeout(t time.Duration) error
}

// Opener opens a device. The default uses go.bug.st/serial.
type Opener func(device string, mode *serial.Mode) (Port, error)

// OpenSerial opens a real serial device.
func OpenSerial(device string, mode *serial.Mode) (Port, error) {
	p, err := serial.Open(device, mode)
	if err != nil {
		return nil, err
	}
	return p, nil
}

// FrameHandler receives each complete frame from the read loop.
type FrameHandler func(xbee.Frame)

// Logger interface for optional logging.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Config holds serial connection settings.
type Config struct {
	// Device is the port name, e.g. "/dev/ttyUSB0" or "COM3".
	Device string

	// BaudRate defaults to 9600. Framing is always 8N1.
	BaudRate int

	// ReadTimeout bounds each blocking read. Default 500ms.
	ReadTimeout time.Duration

	// ReconnectInterval is the initial reopen delay. Default 2s.
	ReconnectInterval time.Duration
}

// Stats holds operational statistics.
type Stats struct {
	BytesRx      uint64
	BytesTx      uint64
	FramesRx     uint64
	FrameErrors  uint64
	WriteErrors  uint64
	Reconnects   uint64
	LastActivity time.Time
	Connected    bool
	Reconnecting bool
}

// Client owns the serial port and the receive side of the frame codec.
//
// Thread Safety:
//   - Write, Flush, Stats and Close are safe for concurrent use.
//   - The FrameHandler is called only from the read loop goroutine.
//
// Auto-Reconnection:
//   - A read or write failure closes the port; the read loop reopens it
//     with backoff starting at ReconnectInterval, growing 1.5× up to one
//     minute, until Close is called.
type Client struct {
	cfg     Config
	mode    *serial.Mode
	open    Opener
	handler FrameHandler
	logger  Logger

	connMu    sync.RWMutex
	port      Port
	connected bool
	writeMu   sync.Mutex

	assembler *xbee.Assembler

	reconnecting atomic.Bool
	done         chan struct{}
	closeOnce    sync.Once
	wg           sync.WaitGroup

	bytesRx      atomic.Uint64
	bytesTx      atomic.Uint64
	framesRx     atomic.Uint64
	frameErrors  atomic.Uint64
	writeErrors  atomic.Uint64
	reconnects   atomic.Uint64
	lastActivity atomic.Int64
}

// Option customises a Client.
type Option func(*Client)

// WithOpener replaces the device opener.
func WithOpener(o Opener) Option {
	return func(c *Client) { c.open = o }
}

// WithLogger sets the logger.
func WithLogger(l Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.logger = l
		}
	}
}

// Open opens the device and starts the read loop.
//
// Parameters:
//   - ctx: Checked before opening; the loop itself runs until Close
//   - cfg: Device and timing settings
//   - handler: Receives every complete frame
//   - opts: Optional opener and logger
//
// Returns:
//   - *Client: Connected client
//   - error: ErrInvalidConfig or ErrOpenFailed
func Open(ctx context.Context, cfg Config, handler FrameHandler, opts ...Option) (*Client, error) {
	if cfg.Device == "" {
		return nil, fmt.Errorf("%w: device is required", ErrInvalidConfig)
	}
	if handler == nil {
		return nil, fmt.Errorf("%w: frame handler is required", ErrInvalidConfig)
	}
	if cfg.BaudRate <= 0 {
		cfg.BaudRate = DefaultBaudRate
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = defaultReadTimeout
	}
	if cfg.ReconnectInterval <= 0 {
		cfg.ReconnectInterval = defaultReconnectInterval
	}
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrOpenFailed, err)
	}

	c := &Client{
		cfg: cfg,
		mode: &serial.Mode{
			BaudRate: cfg.BaudRate,
			DataBits: 8,
			Parity:   serial.NoParity,
			StopBits: serial.OneStopBit,
		},
		open:      OpenSerial,
		handler:   handler,
		logger:    noopLogger{},
		assembler: xbee.NewAssembler(),
		done:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}

	port, err := c.openPort()
	if err != nil {
		return nil, err
	}
	c.setPort(port)

	c.wg.Add(1)
	go c.readLoop()

	c.logger.Info("serial port opened", "device", cfg.Device, "baud", cfg.BaudRate)
	return c, nil
}

func (c *Client) openPort() (Port, error) {
	port, err := c.open(c.cfg.Device, c.mode)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrOpenFailed, c.cfg.Device, err)
	}
	if err := port.SetReadTimeout(c.cfg.ReadTimeout); err != nil {
		port.Close() //nolint:errcheck // Best effort cleanup on error path
		return nil, fmt.Errorf("%w: setting read timeout: %w", ErrOpenFailed, err)
	}
	// Drop whatever the module sent before we were listening.
	_ = port.ResetInputBuffer() //nolint:errcheck // not supported by every driver
	return port, nil
}

func (c *Client) setPort(p Port) {
	c.connMu.Lock()
	c.port = p
	c.connected = p != nil
	c.connMu.Unlock()
	c.lastActivity.Store(time.Now().Unix())
}

func (c *Client) currentPort() Port {
	c.connMu.RLock()
	defer c.connMu.RUnlock()
	if !c.connected {
		return nil
	}
	return c.port
}

// Write sends one encoded frame. It implements dispatch.Transport.
func (c *Client) Write(frame []byte) error {
	port := c.currentPort()
	if port == nil {
		return ErrNotConnected
	}

	c.writeMu.Lock()
	n, err := port.Write(frame)
	c.writeMu.Unlock()

	if err != nil {
		c.writeErrors.Add(1)
		c.disconnect(port, err)
		return fmt.Errorf("%w: %w", ErrWriteFailed, err)
	}
	if n != len(frame) {
		c.writeErrors.Add(1)
		return fmt.Errorf("%w: short write %d of %d bytes", ErrWriteFailed, n, len(frame))
	}

	c.bytesTx.Add(uint64(n)) //nolint:gosec // n is non-negative
	c.lastActivity.Store(time.Now().Unix())
	return nil
}

// Flush discards unread input in the driver buffer.
func (c *Client) Flush() error {
	port := c.currentPort()
	if port == nil {
		return ErrNotConnected
	}
	return port.ResetInputBuffer()
}

// readLoop reads chunks and feeds the assembler until Close.
func (c *Client) readLoop() {
	defer c.wg.Done()

	buf := make([]byte, readBufferSize)
	for {
		if c.isClosed() {
			return
		}

		port := c.currentPort()
		if port == nil {
			if !c.reconnect() {
				return
			}
			continue
		}

		n, err := port.Read(buf)
		if err != nil {
			if c.isClosed() {
				return
			}
			c.disconnect(port, err)
			continue
		}
		if n == 0 {
			continue // read timeout
		}

		c.bytesRx.Add(uint64(n)) //nolint:gosec // n is non-negative
		c.lastActivity.Store(time.Now().Unix())
		c.assembler.Feed(buf[:n], c.deliver, c.frameError)
	}
}

func (c *Client) deliver(f xbee.Frame) {
	c.framesRx.Add(1)
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("frame handler panic recovered", "panic", r)
		}
	}()
	c.handler(f)
}

func (c *Client) frameError(err error) {
	c.frameErrors.Add(1)
	c.logger.Warn("frame error, flushing input", "error", err)
	if ferr := c.Flush(); ferr != nil {
		c.logger.Debug("flush failed", "error", ferr)
	}
}

// disconnect closes port if it is still the current one.
func (c *Client) disconnect(port Port, cause error) {
	c.connMu.Lock()
	if c.port != port || !c.connected {
		c.connMu.Unlock()
		return
	}
	c.connected = false
	c.port = nil
	c.connMu.Unlock()

	port.Close() //nolint:errcheck // already failed
	c.logger.Warn("serial port lost, will reopen", "device", c.cfg.Device, "error", cause)
}

// reconnect reopens the device with backoff. It returns false when Close
// was called.
func (c *Client) reconnect() bool {
	c.reconnecting.Store(true)
	defer c.reconnecting.Store(false)

	backoff := c.cfg.ReconnectInterval
	for attempt := 1; ; attempt++ {
		select {
		case <-c.done:
			return false
		case <-time.After(backoff):
		}

		port, err := c.openPort()
		if err != nil {
			c.logger.Warn("reopen failed", "device", c.cfg.Device, "attempt", attempt, "backoff", backoff.String(), "error", err)
			backoff = time.Duration(float64(backoff) * 1.5)
			if backoff > maxReconnectInterval {
				backoff = maxReconnectInterval
			}
			continue
		}

		if c.isClosed() {
			port.Close() //nolint:errcheck // shutting down
			return false
		}

		c.assembler.Reset()
		c.setPort(port)
		c.reconnects.Add(1)
		c.logger.Info("serial port reopened", "device", c.cfg.Device, "attempts", attempt)
		return true
	}
}

func (c *Client) isClosed() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

// Close stops the read loop and closes the port. Safe to call more than once.
func (c *Client) Close() error {
	c.closeOnce.Do(func() {
		close(c.done)

		c.connMu.Lock()
		port := c.port
		c.port = nil
		c.connected = false
		c.connMu.Unlock()

		if port != nil {
			port.Close() //nolint:errcheck // unblocks the read loop
		}
		c.wg.Wait()
		c.logger.Info("serial port closed", "device", c.cfg.Device)
	})
	return nil
}

// IsConnected reports whether the port is open.
func (c *Client) IsConnected() bool {
	return c.currentPort() != nil
}

// HealthCheck reports ErrNotConnected while the port is down.
func (c *Client) HealthCheck(_ context.Context) error {
	if !c.IsConnected() {
		return ErrNotConnected
	}
	return nil
}

// Stats returns current operational statistics.
func (c *Client) Stats() Stats {
	return Stats{
		BytesRx:      c.bytesRx.Load(),
		BytesTx:      c.bytesTx.Load(),
		FramesRx:     c.framesRx.Load(),
		FrameErrors:  c.frameErrors.Load(),
		WriteErrors:  c.writeErrors.Load(),
		Reconnects:   c.reconnects.Load(),
		LastActivity: time.Unix(c.lastActivity.Load(), 0),
		Connected:    c.IsConnected(),
		Reconnecting: c.reconnecting.Load(),
	}
}
