package websocket

import (
	"context"
	"crypto/tls"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/harunnryd/bodhi/pkg/frames"
	"github.com/harunnryd/bodhi/pkg/logging"
	"github.com/harunnryd/bodhi/pkg/transports"
)

type Config struct {
	HandshakeTimeout time.Duration `mapstructure:"handshake_timeout"`
	WriteTimeout     time.Duration `mapstructure:"write_timeout"`
	ReadBufferSize   int           `mapstructure:"read_buffer_size"`
	WriteBufferSize  int           `mapstructure:"write_buffer_size"`
	// InsecureSkipVerify disables TLS certificate checks for wss:// URLs.
	InsecureSkipVerify bool `mapstructure:"insecure_skip_verify"`
	// InboundBuffer is the number of frames read ahead of the consumer.
	InboundBuffer int `mapstructure:"inbound_buffer"`
}

func (c Config) withDefaults() Config {
	if c.HandshakeTimeout <= 0 {
		c.HandshakeTimeout = 10 * time.Second
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = 10 * time.Second
	}
	if c.ReadBufferSize <= 0 {
		c.ReadBufferSize = 4096
	}
	if c.WriteBufferSize <= 0 {
		c.WriteBufferSize = 4096
	}
	if c.InboundBuffer <= 0 {
		c.InboundBuffer = 64
	}
	return c
}

// Dialer opens gorilla/websocket connections.
type Dialer struct {
	cfg    Config
	logger *slog.Logger
}

func New(cfg Config) *Dialer {
	return &Dialer{
		cfg:    cfg.withDefaults(),
		logger: logging.NewComponentLogger(slog.Default(), "websocket_transport"),
	}
}

func (d *Dialer) Dial(ctx context.Context, url string, header http.Header) (transports.Conn, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	dialer := websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: d.cfg.HandshakeTimeout,
		ReadBufferSize:   d.cfg.ReadBufferSize,
		WriteBufferSize:  d.cfg.WriteBufferSize,
	}
	if d.cfg.InsecureSkipVerify {
		dialer.TLSClientConfig = &tls.Config{InsecureSkipVerify: true} //nolint:gosec
	}

	ws, resp, err := dialer.DialContext(ctx, url, header)
	if err != nil {
		if resp != nil {
			d.logger.Warn("websocket_handshake_rejected",
				slog.String("url", url),
				slog.Int("status", resp.StatusCode))
			return nil, &transports.HandshakeError{StatusCode: resp.StatusCode, Status: resp.Status, Err: err}
		}
		return nil, err
	}

	d.logger.Debug("websocket_connected", slog.String("url", url))
	c := newConn(ws, d.cfg)
	go c.readLoop()
	return c, nil
}

type readResult struct {
	frame frames.Frame
	err   error
}

// Conn wraps a gorilla connection. gorilla allows one concurrent writer, so
// writes are serialized with writeMu; a single goroutine owns reads.
type Conn struct {
	ws           *websocket.Conn
	writeTimeout time.Duration

	writeMu   sync.Mutex
	in        chan readResult
	done      chan struct{}
	closeOnce sync.Once
}

func newConn(ws *websocket.Conn, cfg Config) *Conn {
	return &Conn{
		ws:           ws,
		writeTimeout: cfg.WriteTimeout,
		in:           make(chan readResult, cfg.InboundBuffer),
		done:         make(chan struct{}),
	}
}

func (c *Conn) SendBinary(data []byte) error {
	return c.write(websocket.BinaryMessage, data)
}

func (c *Conn) SendText(text string) error {
	return c.write(websocket.TextMessage, []byte(text))
}

func (c *Conn) write(messageType int, data []byte) error {
	select {
	case <-c.done:
		return transports.ErrClosed
	default:
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.ws.SetWriteDeadline(time.Now().Add(c.writeTimeout))
	return c.ws.WriteMessage(messageType, data)
}

func (c *Conn) NextFrame(ctx context.Context) (frames.Frame, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case r, ok := <-c.in:
		if !ok {
			return nil, transports.ErrClosed
		}
		return r.frame, r.err
	}
}

func (c *Conn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)
		// WriteControl may run concurrently with an in-flight WriteMessage.
		_ = c.ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		err = c.ws.Close()
	})
	return err
}

func (c *Conn) readLoop() {
	defer close(c.in)
	for {
		mt, data, err := c.ws.ReadMessage()
		if err != nil {
			c.push(readResult{err: c.classify(err)})
			return
		}
		var f frames.Frame
		switch mt {
		case websocket.TextMessage:
			f = frames.NewTextFrame(frames.Now(), string(data))
		case websocket.BinaryMessage:
			f = frames.NewBinaryFrame(frames.Now(), data)
		default:
			continue
		}
		if !c.push(readResult{frame: f}) {
			return
		}
	}
}

func (c *Conn) push(r readResult) bool {
	select {
	case c.in <- r:
		return true
	case <-c.done:
		return false
	}
}

func (c *Conn) classify(err error) error {
	select {
	case <-c.done:
		return transports.ErrClosed
	default:
	}
	if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
		return transports.ErrClosed
	}
	return err
}

var _ transports.Dialer = (*Dialer)(nil)
var _ transports.Conn = (*Conn)(nil)
