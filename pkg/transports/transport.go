package transports

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/harunnryd/bodhi/pkg/frames"
)

// Dialer opens message-framed connections. Implementations are responsible
// for their own network lifecycle.
type Dialer interface {
	Dial(ctx context.Context, url string, header http.Header) (Conn, error)
}

// Conn is a bidirectional, ordered, message-framed connection owned by one
// session. Sends may be called from one goroutine at a time per direction;
// NextFrame must only be called by a single reader.
type Conn interface {
	SendBinary(data []byte) error
	SendText(text string) error
	// NextFrame blocks until a frame arrives, the connection closes
	// (ErrClosed), the connection fails, or ctx is done.
	NextFrame(ctx context.Context) (frames.Frame, error)
	Close() error
}

// ErrClosed reports an orderly close of the connection.
var ErrClosed = errors.New("transport closed")

// HandshakeError is returned by Dial when the remote side answered the
// upgrade request with a non-switching HTTP status.
type HandshakeError struct {
	StatusCode int
	Status     string
	Err        error
}

func (e *HandshakeError) Error() string {
	if e.Status != "" {
		return fmt.Sprintf("handshake rejected: %s", e.Status)
	}
	return fmt.Sprintf("handshake rejected: status %d", e.StatusCode)
}

func (e *HandshakeError) Unwrap() error { return e.Err }

// DialerFunc adapts a function to Dialer.
type DialerFunc func(ctx context.Context, url string, header http.Header) (Conn, error)

func (f DialerFunc) Dial(ctx context.Context, url string, header http.Header) (Conn, error) {
	return f(ctx, url, header)
}
