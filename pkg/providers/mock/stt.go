package mock

import (
	"context"
	"encoding/json"
	"log/slog"
	"strconv"
	"strings"

	"github.com/harunnryd/bodhi/pkg/adapters/stt"
	"github.com/harunnryd/bodhi/pkg/frames"
	"github.com/harunnryd/bodhi/pkg/logging"
	"github.com/harunnryd/bodhi/pkg/metrics"
	"github.com/harunnryd/bodhi/pkg/protocol"
	"github.com/harunnryd/bodhi/pkg/session"
	transportmock "github.com/harunnryd/bodhi/pkg/transports/mock"
)

type STTConfig struct {
	// Transcript is split on "|" into complete segments.
	Transcript  string
	EmitPartial bool
	Model       string
	SampleRate  int
	Logger      *slog.Logger
	Observer    metrics.Observer
}

// Recognizer runs a real session against an in-memory connection that
// answers the end-of-input message with a scripted transcript. It is meant
// for dry runs without credentials.
type Recognizer struct {
	cfg STTConfig
	ids *session.IDIssuer
}

func NewSTT(cfg STTConfig) *Recognizer {
	if cfg.Transcript == "" {
		cfg.Transcript = "mock transcript"
	}
	if cfg.Model == "" {
		cfg.Model = "mock"
	}
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = 8000
	}
	return &Recognizer{cfg: cfg, ids: session.NewIDIssuer(nil)}
}

func (r *Recognizer) Name() string { return "mock" }

// Script returns the inbound frames sent after the end-of-input message.
func (r *Recognizer) Script() []string {
	parts := strings.Split(r.cfg.Transcript, "|")
	var out []string
	for i, part := range parts {
		segment := "seg-" + strconv.Itoa(i+1)
		text := strings.TrimSpace(part)
		if r.cfg.EmitPartial {
			half := []rune(text)
			out = append(out, encode(protocol.Transcript{
				CallID: "mock-call", SegmentID: segment, Type: protocol.TypePartial, Text: string(half[:len(half)/2]),
			}))
		}
		out = append(out, encode(protocol.Transcript{
			CallID: "mock-call", SegmentID: segment, Type: protocol.TypeComplete, Text: text, EOS: i == len(parts)-1,
		}))
	}
	return out
}

func (r *Recognizer) Transcribe(ctx context.Context, req stt.Request) (session.Result, error) {
	conn := transportmock.NewConn()
	script := r.Script()
	conn.OnSend = func(c *transportmock.Conn, f frames.Frame) error {
		if tf, ok := f.(frames.TextFrame); ok && tf.Text() == protocol.EncodeEOF() {
			for _, line := range script {
				c.PushText(line)
			}
		}
		return nil
	}
	rate := req.SampleRate
	if rate <= 0 {
		rate = r.cfg.SampleRate
	}
	opts := []session.Option{
		session.WithLogger(logging.NewComponentLogger(r.cfg.Logger, "mock_stt")),
		session.WithIDGenerator(r.ids.Next),
		session.WithProvider(r.Name()),
		session.WithListener(req.Listener),
		session.WithObserver(r.cfg.Observer),
	}
	if req.Stop != nil {
		opts = append(opts, session.WithStopSignal(req.Stop))
	}
	s, err := session.New(transportmock.NewDialer(conn), req.Source, session.Config{
		URL:        "mock://local",
		Model:      r.cfg.Model,
		SampleRate: rate,
		Interval:   req.Interval,
	}, opts...)
	if err != nil {
		return session.Result{}, err
	}
	return s.Run(ctx)
}

func encode(t protocol.Transcript) string {
	b, _ := json.Marshal(t)
	return string(b)
}

var _ stt.Recognizer = (*Recognizer)(nil)
