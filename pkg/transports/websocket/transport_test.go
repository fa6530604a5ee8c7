package websocket

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/harunnryd/bodhi/pkg/frames"
	"github.com/harunnryd/bodhi/pkg/transports"
)

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func TestDialSendAndReceive(t *testing.T) {
	upgrader := websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }}
	gotKey := make(chan string, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotKey <- r.Header.Get("x-api-key")
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			mt, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			if mt == websocket.BinaryMessage {
				_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"partial","text":"bin"}`))
				continue
			}
			_ = conn.WriteMessage(websocket.TextMessage, data)
		}
	}))
	defer srv.Close()

	d := New(Config{})
	header := http.Header{}
	header.Set("x-api-key", "secret")
	conn, err := d.Dial(context.Background(), wsURL(srv), header)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	if key := <-gotKey; key != "secret" {
		t.Fatalf("expected header forwarded, got %q", key)
	}

	if err := conn.SendText(`{"eof":1}`); err != nil {
		t.Fatalf("send text: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	f, err := conn.NextFrame(ctx)
	if err != nil {
		t.Fatalf("next frame: %v", err)
	}
	tf, ok := f.(frames.TextFrame)
	if !ok || tf.Text() != `{"eof":1}` {
		t.Fatalf("unexpected echo: %#v", f)
	}

	if err := conn.SendBinary([]byte{1, 2, 3, 4}); err != nil {
		t.Fatalf("send binary: %v", err)
	}
	f, err = conn.NextFrame(ctx)
	if err != nil {
		t.Fatalf("next frame: %v", err)
	}
	if f.Kind() != frames.KindText {
		t.Fatalf("expected text reply for binary frame, got %s", f.Kind())
	}
}

func TestDialHandshakeRejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusPaymentRequired)
	}))
	defer srv.Close()

	_, err := New(Config{}).Dial(context.Background(), wsURL(srv), nil)
	var he *transports.HandshakeError
	if !errors.As(err, &he) {
		t.Fatalf("expected HandshakeError, got %v", err)
	}
	if he.StatusCode != http.StatusPaymentRequired {
		t.Fatalf("expected 402, got %d", he.StatusCode)
	}
}

func TestRemoteCloseReportsErrClosed(t *testing.T) {
	upgrader := websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye"))
		time.Sleep(50 * time.Millisecond)
		_ = conn.Close()
	}))
	defer srv.Close()

	conn, err := New(Config{}).Dial(context.Background(), wsURL(srv), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if _, err := conn.NextFrame(ctx); !errors.Is(err, transports.ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
}

func TestNextFrameHonorsContext(t *testing.T) {
	upgrader := websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		_, _, _ = conn.ReadMessage()
	}))
	defer srv.Close()

	conn, err := New(Config{}).Dial(context.Background(), wsURL(srv), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	if _, err := conn.NextFrame(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
	if err := conn.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := conn.SendText("late"); !errors.Is(err, transports.ErrClosed) {
		t.Fatalf("expected ErrClosed after close, got %v", err)
	}
}
