package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/harunnryd/bodhi/pkg/audio"
	"github.com/harunnryd/bodhi/pkg/errorsx"
	"github.com/harunnryd/bodhi/pkg/events"
	"github.com/harunnryd/bodhi/pkg/frames"
	"github.com/harunnryd/bodhi/pkg/logging"
	"github.com/harunnryd/bodhi/pkg/metrics"
	"github.com/harunnryd/bodhi/pkg/protocol"
	"github.com/harunnryd/bodhi/pkg/transports"
	"github.com/harunnryd/bodhi/pkg/transports/mock"
)

func testConfig() Config {
	return Config{
		URL:        "wss://bodhi.test",
		Model:      "hi-banking-v2-8khz",
		SampleRate: 8000,
		CancelWait: 200 * time.Millisecond,
	}
}

func newTestSession(t *testing.T, conn *mock.Conn, src audio.Source, cfg Config, opts ...Option) *Session {
	t.Helper()
	opts = append([]Option{WithLogger(logging.Discard())}, opts...)
	s, err := New(mock.NewDialer(conn), src, cfg, opts...)
	if err != nil {
		t.Fatalf("new session: %v", err)
	}
	return s
}

func bufferSource(t *testing.T, chunks, chunkSize int) *audio.BufferSource {
	t.Helper()
	src, err := audio.NewBufferSource(make([]byte, chunks*chunkSize), chunkSize)
	if err != nil {
		t.Fatalf("buffer source: %v", err)
	}
	return src
}

func isEOF(f frames.Frame) bool {
	tf, ok := f.(frames.TextFrame)
	return ok && tf.Text() == protocol.EncodeEOF()
}

func countEOF(sent []frames.Frame) int {
	n := 0
	for _, f := range sent {
		if isEOF(f) {
			n++
		}
	}
	return n
}

func binaryFrames(sent []frames.Frame) []frames.BinaryFrame {
	var out []frames.BinaryFrame
	for _, f := range sent {
		if bf, ok := f.(frames.BinaryFrame); ok {
			out = append(out, bf)
		}
	}
	return out
}

// replyOnEOF answers the end-of-input message with the given frames.
func replyOnEOF(replies ...string) func(c *mock.Conn, f frames.Frame) error {
	return func(c *mock.Conn, f frames.Frame) error {
		if isEOF(f) {
			for _, r := range replies {
				c.PushText(r)
			}
		}
		return nil
	}
}

func assertEOFLast(t *testing.T, sent []frames.Frame) {
	t.Helper()
	if n := countEOF(sent); n != 1 {
		t.Fatalf("expected exactly one eof frame, got %d", n)
	}
	if !isEOF(sent[len(sent)-1]) {
		t.Fatalf("expected eof to be the last outbound frame")
	}
}

func TestRunAggregatesCompleteSegments(t *testing.T) {
	conn := mock.NewConn()
	conn.OnSend = replyOnEOF(
		`{"call_id":"c1","segment_id":"s1","type":"partial","text":"मु"}`,
		`{"call_id":"c1","segment_id":"s1","type":"complete","text":"मुझे"}`,
		`{"call_id":"c1","segment_id":"s2","type":"complete","text":"","eos":false}`,
		`{"call_id":"c1","segment_id":"s3","type":"complete","text":"जाना है","eos":true}`,
	)
	rec := &events.Recorder{}
	s := newTestSession(t, conn, bufferSource(t, 5, 320), testConfig(), WithListener(rec))

	res, err := s.Run(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(res.Segments) != 2 || res.Segments[0] != "मुझे" || res.Segments[1] != "जाना है" {
		t.Fatalf("unexpected segments %#v", res.Segments)
	}
	if res.Text() != "मुझे, जाना है" {
		t.Fatalf("unexpected text %q", res.Text())
	}
	if !res.EOS || res.CallID != "c1" || res.TransactionID != s.TransactionID() {
		t.Fatalf("unexpected result %+v", res)
	}
	if s.Lifecycle() != StateClosed {
		t.Fatalf("expected closed, got %s", s.Lifecycle())
	}
	if conn.CloseCount() == 0 {
		t.Fatalf("expected connection to be closed")
	}

	sent := conn.Sent()
	first, ok := sent[0].(frames.TextFrame)
	if !ok {
		t.Fatalf("expected configuration text frame first, got %T", sent[0])
	}
	var cfg protocol.ConfigMessage
	if err := json.Unmarshal([]byte(first.Text()), &cfg); err != nil {
		t.Fatalf("decode config: %v", err)
	}
	if cfg.Config.SampleRate != 8000 || cfg.Config.Model != "hi-banking-v2-8khz" || cfg.Config.TransactionID != s.TransactionID() {
		t.Fatalf("unexpected config %+v", cfg.Config)
	}
	if got := len(binaryFrames(sent)); got != 5 {
		t.Fatalf("expected 5 audio frames, got %d", got)
	}
	assertEOFLast(t, sent)

	if rec.Count(events.TypeTranscript) != 4 {
		t.Fatalf("expected 4 transcript events, got %d", rec.Count(events.TypeTranscript))
	}
	if rec.Count(events.TypeSpeechStarted) != 3 {
		t.Fatalf("expected 3 speech started events, got %d", rec.Count(events.TypeSpeechStarted))
	}
	if rec.Count(events.TypeUtteranceEnd) != 3 {
		t.Fatalf("expected 3 utterance end events, got %d", rec.Count(events.TypeUtteranceEnd))
	}
	if rec.Count(events.TypeClose) != 1 || rec.Count(events.TypeError) != 0 {
		t.Fatalf("unexpected close/error events: %+v", rec.Events())
	}
}

func TestHandshakeRejectedClassification(t *testing.T) {
	cases := []struct {
		code   int
		status HandshakeStatus
		desc   string
	}{
		{http.StatusUnauthorized, StatusUnauthorized, "Invalid API key or customer ID."},
		{http.StatusPaymentRequired, StatusInsufficientBalance, "Insufficient balance."},
		{http.StatusForbidden, StatusDeactivated, "Customer has been deactivated"},
		{http.StatusInternalServerError, StatusUnknown, "Connection rejected."},
	}
	for _, tc := range cases {
		t.Run(fmt.Sprint(tc.code), func(t *testing.T) {
			conn := mock.NewConn()
			dialer := mock.NewDialer(conn)
			dialer.Err = &transports.HandshakeError{StatusCode: tc.code}
			rec := &events.Recorder{}
			s, err := New(dialer, bufferSource(t, 1, 320), testConfig(), WithLogger(logging.Discard()), WithListener(rec))
			if err != nil {
				t.Fatalf("new: %v", err)
			}
			_, err = s.Run(context.Background())
			var hs *HandshakeRejectedError
			if !errors.As(err, &hs) {
				t.Fatalf("expected handshake rejection, got %v", err)
			}
			if hs.Status != tc.status || hs.StatusCode != tc.code || hs.Status.Description() != tc.desc {
				t.Fatalf("unexpected classification %+v", hs)
			}
			if !errorsx.HasReason(err, errorsx.ReasonHandshakeRejected) {
				t.Fatalf("expected handshake reason, got %s", errorsx.Reason(err))
			}
			if len(conn.Sent()) != 0 {
				t.Fatalf("expected nothing sent on rejected handshake")
			}
			if s.Lifecycle() != StateFailed || rec.Count(events.TypeError) != 1 {
				t.Fatalf("expected failed lifecycle with one error event")
			}
		})
	}
}

func TestDialFailureIsConnectionError(t *testing.T) {
	dialer := mock.NewDialer(nil)
	dialer.Err = errors.New("connection refused")
	s, err := New(dialer, bufferSource(t, 1, 320), testConfig(), WithLogger(logging.Discard()))
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	_, err = s.Run(context.Background())
	var ce *ConnectionError
	if !errors.As(err, &ce) || ce.Op != "dial" {
		t.Fatalf("expected dial connection error, got %v", err)
	}
}

func TestErrorEventTakesPrecedence(t *testing.T) {
	conn := mock.NewConn()
	conn.PushText(`{"call_id":"c1","segment_id":"s1","type":"complete","text":"मुझे"}`)
	conn.PushText(`{"error":"quota","message":"limit reached","code":4001,"timestamp":"2024-01-01T00:00:00Z","type":"complete","text":"ignored","eos":true}`)
	src := audio.NewChannelSource(1)
	rec := &events.Recorder{}
	s := newTestSession(t, conn, src, testConfig(), WithListener(rec))

	res, err := s.Run(context.Background())
	var pe *ProtocolError
	if !errors.As(err, &pe) {
		t.Fatalf("expected protocol error, got %v", err)
	}
	if pe.Kind != "quota" || pe.Message != "limit reached" || pe.Code != 4001 {
		t.Fatalf("unexpected protocol error %+v", pe)
	}
	for _, seg := range res.Segments {
		if seg == "ignored" {
			t.Fatalf("text extracted from error frame")
		}
	}
	if s.Lifecycle() != StateFailed {
		t.Fatalf("expected failed, got %s", s.Lifecycle())
	}
	if rec.Count(events.TypeError) != 1 {
		t.Fatalf("expected one error event")
	}
	assertEOFLast(t, conn.Sent())
}

func TestDownlinkEOSCancelsPacedUplink(t *testing.T) {
	conn := mock.NewConn()
	var once sync.Once
	conn.OnSend = func(c *mock.Conn, f frames.Frame) error {
		if _, ok := f.(frames.BinaryFrame); ok {
			once.Do(func() {
				c.PushText(`{"call_id":"c1","segment_id":"s1","type":"complete","text":"done","eos":true}`)
			})
		}
		return nil
	}
	cfg := testConfig()
	cfg.Interval = 20 * time.Millisecond
	s := newTestSession(t, conn, bufferSource(t, 100, 320), cfg)

	start := time.Now()
	res, err := s.Run(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if elapsed := time.Since(start); elapsed > 500*time.Millisecond {
		t.Fatalf("uplink not cancelled promptly: %v", elapsed)
	}
	if !res.EOS || res.Text() != "done" {
		t.Fatalf("unexpected result %+v", res)
	}
	sent := conn.Sent()
	if n := len(binaryFrames(sent)); n >= 100 {
		t.Fatalf("expected uplink to stop early, sent %d chunks", n)
	}
	assertEOFLast(t, sent)
}

func TestRealtimePacing(t *testing.T) {
	chunk := audio.ChunkSize(8000, audio.BytesPerSample, 1, 20*time.Millisecond)
	src, err := audio.NewBufferSource(make([]byte, 16000), chunk)
	if err != nil {
		t.Fatalf("buffer source: %v", err)
	}
	conn := mock.NewConn()
	conn.OnSend = replyOnEOF(`{"call_id":"c1","segment_id":"s1","type":"complete","text":"ok","eos":true}`)
	cfg := testConfig()
	cfg.Interval = 20 * time.Millisecond
	s := newTestSession(t, conn, src, cfg)

	start := time.Now()
	if _, err := s.Run(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}
	elapsed := time.Since(start)

	chunks := binaryFrames(conn.Sent())
	if len(chunks) != 50 {
		t.Fatalf("expected 50 chunks, got %d", len(chunks))
	}
	for i, c := range chunks {
		if c.Len() != 320 {
			t.Fatalf("chunk %d has %d bytes", i, c.Len())
		}
	}
	if elapsed < 900*time.Millisecond {
		t.Fatalf("stream finished too fast for real-time pacing: %v", elapsed)
	}
	avg := time.Duration(chunks[len(chunks)-1].PTS()-chunks[0].PTS()) / time.Duration(len(chunks)-1)
	if avg < 18*time.Millisecond || avg > 40*time.Millisecond {
		t.Fatalf("unexpected average spacing %v", avg)
	}
}

func TestMalformedFrameIsSkipped(t *testing.T) {
	conn := mock.NewConn()
	conn.OnSend = replyOnEOF(
		`{"call_id":"c1","segment_id":"s1","type":"complete","text":"एक"}`,
		`not json at all`,
		`{"call_id":"c1","segment_id":"s2","type":"complete","text":"दो","eos":true}`,
	)
	obs := metrics.NewMemoryObserver()
	s := newTestSession(t, conn, bufferSource(t, 2, 320), testConfig(), WithObserver(obs))

	res, err := s.Run(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if res.Text() != "एक, दो" {
		t.Fatalf("unexpected text %q", res.Text())
	}
	if obs.Count(metrics.EventMalformedFrame) != 1 {
		t.Fatalf("expected one malformed frame metric")
	}
}

func TestCallIDIsPinned(t *testing.T) {
	conn := mock.NewConn()
	conn.OnSend = replyOnEOF(
		`{"call_id":"first","segment_id":"s1","type":"complete","text":"a"}`,
		`{"call_id":"second","segment_id":"s2","type":"complete","text":"b","eos":true}`,
	)
	s := newTestSession(t, conn, bufferSource(t, 1, 320), testConfig())
	res, err := s.Run(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if res.CallID != "first" {
		t.Fatalf("expected pinned call id, got %q", res.CallID)
	}
}

func TestTransportDropIsConnectionError(t *testing.T) {
	conn := mock.NewConn()
	conn.Fail(errors.New("connection reset by peer"))
	s := newTestSession(t, conn, audio.NewChannelSource(1), testConfig())

	_, err := s.Run(context.Background())
	var ce *ConnectionError
	if !errors.As(err, &ce) {
		t.Fatalf("expected connection error, got %v", err)
	}
	if !errorsx.HasReason(err, errorsx.ReasonConnection) {
		t.Fatalf("expected connection reason")
	}
	if countEOF(conn.Sent()) != 0 {
		t.Fatalf("eof must not be sent on a failed transport")
	}
}

type failingSource struct {
	chunks int
	err    error
}

func (f *failingSource) Next(ctx context.Context) ([]byte, error) {
	if f.chunks == 0 {
		return nil, f.err
	}
	f.chunks--
	return make([]byte, 320), nil
}

func TestSourceFailureIsSourceError(t *testing.T) {
	conn := mock.NewConn()
	readErr := errors.New("microphone unplugged")
	s := newTestSession(t, conn, &failingSource{chunks: 2, err: readErr}, testConfig())

	_, err := s.Run(context.Background())
	var se *SourceError
	if !errors.As(err, &se) {
		t.Fatalf("expected source error, got %v", err)
	}
	if !errors.Is(err, readErr) {
		t.Fatalf("expected the read error to be wrapped")
	}
	if !errorsx.HasReason(err, errorsx.ReasonAudioSource) {
		t.Fatalf("expected audio source reason, got %s", errorsx.Reason(err))
	}
	sent := conn.Sent()
	if len(binaryFrames(sent)) != 2 {
		t.Fatalf("expected 2 audio frames, got %d", len(binaryFrames(sent)))
	}
	assertEOFLast(t, sent)
}

func TestCloseBeforeEOSIsConnectionError(t *testing.T) {
	conn := mock.NewConn()
	conn.OnSend = func(c *mock.Conn, f frames.Frame) error {
		if isEOF(f) {
			c.PushText(`{"call_id":"c1","segment_id":"s1","type":"complete","text":"partial result"}`)
			c.CloseRemote()
		}
		return nil
	}
	s := newTestSession(t, conn, bufferSource(t, 2, 320), testConfig())
	res, err := s.Run(context.Background())
	var ce *ConnectionError
	if !errors.As(err, &ce) {
		t.Fatalf("expected connection error, got %v", err)
	}
	if res.EOS {
		t.Fatalf("result must not claim end of stream")
	}
}

func TestStopSignalDrainsSession(t *testing.T) {
	conn := mock.NewConn()
	conn.OnSend = replyOnEOF(`{"call_id":"c1","segment_id":"s1","type":"complete","text":"hello","eos":true}`)
	src := audio.NewChannelSource(4)
	stop := make(chan struct{})
	s := newTestSession(t, conn, src, testConfig(), WithStopSignal(stop))

	go func() {
		for i := 0; i < 3; i++ {
			_ = src.Push(context.Background(), make([]byte, 320))
		}
		time.Sleep(30 * time.Millisecond)
		close(stop)
	}()

	res, err := s.Run(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if !res.EOS || res.Text() != "hello" {
		t.Fatalf("unexpected result %+v", res)
	}
	sent := conn.Sent()
	if len(binaryFrames(sent)) != 3 {
		t.Fatalf("expected 3 audio frames, got %d", len(binaryFrames(sent)))
	}
	assertEOFLast(t, sent)
}

func TestDrainTimeoutReturnsTruncatedResult(t *testing.T) {
	conn := mock.NewConn()
	conn.OnSend = replyOnEOF(`{"call_id":"c1","segment_id":"s1","type":"complete","text":"so far"}`)
	cfg := testConfig()
	cfg.DrainTimeout = 50 * time.Millisecond
	s := newTestSession(t, conn, bufferSource(t, 1, 320), cfg)

	res, err := s.Run(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if res.EOS {
		t.Fatalf("expected truncated result")
	}
	if res.Text() != "so far" {
		t.Fatalf("unexpected text %q", res.Text())
	}
	if s.Lifecycle() != StateClosed {
		t.Fatalf("expected closed, got %s", s.Lifecycle())
	}
}

func TestParentCancelReturnsContextError(t *testing.T) {
	conn := mock.NewConn()
	s := newTestSession(t, conn, audio.NewChannelSource(1), testConfig())
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(30 * time.Millisecond)
		cancel()
	}()
	_, err := s.Run(ctx)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	assertEOFLast(t, conn.Sent())
	if s.Lifecycle() != StateClosed {
		t.Fatalf("expected closed, got %s", s.Lifecycle())
	}
}

func TestUplinkCancelTimeoutSkipsEOF(t *testing.T) {
	conn := mock.NewConn()
	release := make(chan struct{})
	conn.OnSend = func(c *mock.Conn, f frames.Frame) error {
		if _, ok := f.(frames.BinaryFrame); ok {
			c.PushText(`{"call_id":"c1","segment_id":"s1","type":"complete","text":"x","eos":true}`)
			<-release
		}
		return nil
	}
	cfg := testConfig()
	cfg.CancelWait = 30 * time.Millisecond
	obs := metrics.NewMemoryObserver()
	s := newTestSession(t, conn, bufferSource(t, 10, 320), cfg, WithObserver(obs))

	res, err := s.Run(context.Background())
	close(release)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if !res.EOS {
		t.Fatalf("expected end of stream")
	}
	if countEOF(conn.Sent()) != 0 {
		t.Fatalf("eof must be skipped while a write is in flight")
	}
	if obs.Count(metrics.EventUplinkCancelLate) != 1 {
		t.Fatalf("expected uplink cancel timeout metric")
	}
}

func TestRunTwiceFails(t *testing.T) {
	conn := mock.NewConn()
	conn.OnSend = replyOnEOF(`{"type":"complete","text":"a","eos":true}`)
	s := newTestSession(t, conn, bufferSource(t, 1, 320), testConfig())
	if _, err := s.Run(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}
	if _, err := s.Run(context.Background()); !errors.Is(err, ErrAlreadyStarted) {
		t.Fatalf("expected ErrAlreadyStarted, got %v", err)
	}
}

func TestNewValidatesConfig(t *testing.T) {
	dialer := mock.NewDialer(mock.NewConn())
	src := bufferSource(t, 1, 320)
	cfg := testConfig()
	cfg.Model = ""
	if _, err := New(dialer, src, cfg); !errorsx.HasReason(err, errorsx.ReasonConfig) {
		t.Fatalf("expected config error, got %v", err)
	}
	cfg = testConfig()
	cfg.SampleRate = 0
	if _, err := New(dialer, src, cfg); err == nil {
		t.Fatalf("expected sample rate error")
	}
	if _, err := New(nil, src, testConfig()); err == nil {
		t.Fatalf("expected dialer error")
	}
}

func TestTransactionIDsAreUUIDs(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		id := NewTransactionID()
		if _, err := uuid.Parse(id); err != nil {
			t.Fatalf("invalid uuid %q: %v", id, err)
		}
		if seen[id] {
			t.Fatalf("duplicate id %q", id)
		}
		seen[id] = true
	}
}

func TestIDIssuerNeverRepeats(t *testing.T) {
	seq := []string{"a", "a", "b"}
	i := 0
	issuer := NewIDIssuer(func() string {
		id := seq[i]
		i++
		return id
	})
	if got := issuer.Next(); got != "a" {
		t.Fatalf("expected a, got %s", got)
	}
	if got := issuer.Next(); got != "b" {
		t.Fatalf("expected b, got %s", got)
	}
}

func TestTruncateKeepsRuneBoundary(t *testing.T) {
	if got := truncate("short"); got != "short" {
		t.Fatalf("unexpected %q", got)
	}
	// "न" is three bytes, so byte 256 lands inside a rune.
	long := strings.Repeat("न", 100)
	got := truncate(long)
	if !utf8.ValidString(got) {
		t.Fatalf("truncated payload is not valid utf-8")
	}
	if !strings.HasSuffix(got, "...") || len(got) != 255+len("...") {
		t.Fatalf("unexpected truncation to %d bytes", len(got))
	}
}

func TestWithLoggerIgnoresNil(t *testing.T) {
	s := newTestSession(t, mock.NewConn(), bufferSource(t, 1, 320), testConfig(), WithLogger(nil))
	if s.log == nil {
		t.Fatalf("nil logger must keep the previous logger")
	}
}
