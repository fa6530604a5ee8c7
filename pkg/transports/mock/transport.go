package mock

import (
	"context"
	"net/http"
	"sync"
	"sync/atomic"

	"github.com/harunnryd/bodhi/pkg/frames"
	"github.com/harunnryd/bodhi/pkg/transports"
)

// Conn is an in-memory connection for local testing and integration.
// It implements transports.Conn without any network dependency.
type Conn struct {
	in        chan frames.Frame
	failCh    chan error
	done      chan struct{}
	closeOnce sync.Once
	closes    atomic.Int32

	mu   sync.Mutex
	sent []frames.Frame

	// OnSend runs after each outbound frame is recorded. A non-nil return
	// value is reported to the sender as a write failure.
	OnSend func(c *Conn, f frames.Frame) error
}

func NewConn() *Conn {
	return &Conn{
		in:     make(chan frames.Frame, 256),
		failCh: make(chan error, 1),
		done:   make(chan struct{}),
	}
}

func (c *Conn) SendBinary(data []byte) error {
	return c.record(frames.NewBinaryFrame(frames.Now(), append([]byte(nil), data...)))
}

func (c *Conn) SendText(text string) error {
	return c.record(frames.NewTextFrame(frames.Now(), text))
}

func (c *Conn) record(f frames.Frame) error {
	if c.Closed() {
		return transports.ErrClosed
	}
	c.mu.Lock()
	c.sent = append(c.sent, f)
	hook := c.OnSend
	c.mu.Unlock()
	if hook != nil {
		return hook(c, f)
	}
	return nil
}

func (c *Conn) NextFrame(ctx context.Context) (frames.Frame, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	// Queued frames win over a concurrent close so scripted sequences
	// are delivered in full.
	select {
	case f := <-c.in:
		return f, nil
	default:
	}
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case f := <-c.in:
		return f, nil
	case err := <-c.failCh:
		return nil, err
	case <-c.done:
		return nil, transports.ErrClosed
	}
}

func (c *Conn) Close() error {
	c.closes.Add(1)
	c.closeOnce.Do(func() { close(c.done) })
	return nil
}

// Push injects an inbound frame.
func (c *Conn) Push(f frames.Frame) {
	select {
	case c.in <- f:
	case <-c.done:
	}
}

// PushText injects an inbound text frame.
func (c *Conn) PushText(text string) {
	c.Push(frames.NewTextFrame(frames.Now(), text))
}

// Fail makes the next blocked or future NextFrame return err.
func (c *Conn) Fail(err error) {
	select {
	case c.failCh <- err:
	default:
	}
}

// CloseRemote simulates an orderly close initiated by the remote side.
func (c *Conn) CloseRemote() {
	c.closeOnce.Do(func() { close(c.done) })
}

// Closed reports whether the connection was closed by either side.
func (c *Conn) Closed() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

// CloseCount reports how many times Close was called.
func (c *Conn) CloseCount() int { return int(c.closes.Load()) }

// Sent exposes outbound frames for inspection.
func (c *Conn) Sent() []frames.Frame {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]frames.Frame(nil), c.sent...)
}

// Dialer hands out a prepared Conn, or fails with Err.
type Dialer struct {
	Conn *Conn
	Err  error

	mu         sync.Mutex
	dials      int
	lastURL    string
	lastHeader http.Header
}

func NewDialer(conn *Conn) *Dialer {
	return &Dialer{Conn: conn}
}

func (d *Dialer) Dial(ctx context.Context, url string, header http.Header) (transports.Conn, error) {
	d.mu.Lock()
	d.dials++
	d.lastURL = url
	d.lastHeader = header.Clone()
	d.mu.Unlock()
	if d.Err != nil {
		return nil, d.Err
	}
	if ctx != nil {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
	}
	return d.Conn, nil
}

// Dials reports how many times Dial was called.
func (d *Dialer) Dials() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dials
}

// LastHeader returns the headers passed to the most recent Dial.
func (d *Dialer) LastHeader() http.Header {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.lastHeader
}

var _ transports.Conn = (*Conn)(nil)
var _ transports.Dialer = (*Dialer)(nil)
