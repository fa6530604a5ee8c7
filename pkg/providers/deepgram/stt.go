package deepgram

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/harunnryd/bodhi/pkg/adapters/stt"
	"github.com/harunnryd/bodhi/pkg/errorsx"
	"github.com/harunnryd/bodhi/pkg/events"
	"github.com/harunnryd/bodhi/pkg/logging"
	"github.com/harunnryd/bodhi/pkg/metrics"
	"github.com/harunnryd/bodhi/pkg/protocol"
	"github.com/harunnryd/bodhi/pkg/redact"
	"github.com/harunnryd/bodhi/pkg/session"

	msginterfaces "github.com/deepgram/deepgram-go-sdk/v3/pkg/api/listen/v1/websocket/interfaces"
	interfaces "github.com/deepgram/deepgram-go-sdk/v3/pkg/client/interfaces"
	client "github.com/deepgram/deepgram-go-sdk/v3/pkg/client/listen"
)

const providerName = "deepgram"

type Config struct {
	APIKey string
	// Host overrides the Deepgram endpoint, e.g. "ws://localhost:8080" for
	// a self-hosted deployment.
	Host           string
	Model          string
	Language       string
	SampleRate     int
	Encoding       string
	Interim        bool
	VADEvents      bool
	UtteranceEndMS int
	// DrainTimeout bounds the wait for final results after the audio ends.
	DrainTimeout time.Duration

	Logger   *slog.Logger
	Observer metrics.Observer
}

// Recognizer streams audio to Deepgram live transcription and reports the
// same session events as the Bodhi client.
type Recognizer struct {
	cfg    Config
	logger *slog.Logger
	obs    metrics.Observer
	ids    *session.IDIssuer
}

func New(cfg Config) (*Recognizer, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, errorsx.Wrap(errors.New("deepgram: api_key is required"), errorsx.ReasonConfig)
	}
	if cfg.SampleRate == 0 {
		cfg.SampleRate = 16000
	}
	if cfg.Encoding == "" {
		cfg.Encoding = "linear16"
	}
	if cfg.Model == "" {
		cfg.Model = "nova-2"
	}
	if cfg.DrainTimeout <= 0 {
		cfg.DrainTimeout = 10 * time.Second
	}
	obs := cfg.Observer
	if obs == nil {
		obs = metrics.NoopObserver{}
	}
	return &Recognizer{
		cfg:    cfg,
		logger: logging.NewComponentLogger(cfg.Logger, "deepgram_stt"),
		obs:    obs,
		ids:    session.NewIDIssuer(nil),
	}, nil
}

func (r *Recognizer) Name() string { return providerName }

func (r *Recognizer) Transcribe(ctx context.Context, req stt.Request) (session.Result, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if req.Source == nil {
		return session.Result{}, errorsx.Wrap(errors.New("deepgram: audio source is required"), errorsx.ReasonConfig)
	}
	rate := req.SampleRate
	if rate <= 0 {
		rate = r.cfg.SampleRate
	}
	txID := r.ids.Next()
	logger := r.logger.With(slog.String("transaction_id", txID))
	cb := newCallback(txID, req.Listener, logger)

	streamCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	pr, pw := io.Pipe()

	clientOptions := &interfaces.ClientOptions{
		Host:              r.cfg.Host,
		EnableKeepAlive:   true,
		WSHeaderProcessor: hostHeader(r.cfg.Host),
	}
	transcriptOptions := &interfaces.LiveTranscriptionOptions{
		Model:          r.cfg.Model,
		Language:       r.cfg.Language,
		Encoding:       r.cfg.Encoding,
		SampleRate:     rate,
		Channels:       1,
		InterimResults: r.cfg.Interim,
		VadEvents:      r.cfg.VADEvents,
		SmartFormat:    true,
	}
	if r.cfg.UtteranceEndMS > 0 {
		transcriptOptions.UtteranceEndMs = fmt.Sprintf("%d", r.cfg.UtteranceEndMS)
	}

	logger.Info("initializing deepgram connection",
		slog.String("model", r.cfg.Model),
		slog.Bool("vad_events", r.cfg.VADEvents),
		slog.Int("sample_rate", rate))

	start := time.Now()
	dgClient, err := client.NewWSUsingCallback(streamCtx, r.cfg.APIKey, clientOptions, transcriptOptions, cb)
	if err != nil {
		logger.Error("deepgram_client_create_error", slog.String("error", err.Error()))
		return session.Result{TransactionID: txID}, errorsx.Wrap(&session.ConnectionError{Op: "dial", Err: err}, errorsx.ReasonConnection)
	}
	if connected := dgClient.Connect(); !connected {
		logger.Error("deepgram_connect_failed")
		return session.Result{TransactionID: txID}, errorsx.Wrap(&session.ConnectionError{Op: "dial", Err: errors.New("deepgram connection failed")}, errorsx.ReasonConnection)
	}
	// Stop blocks until the SDK has fired the Close callback.
	stop := sync.OnceFunc(dgClient.Stop)
	defer stop()
	metrics.Emit(r.obs, metrics.EventHandshake, float64(time.Since(start).Milliseconds()), r.tags(txID), nil)
	logger.Info("deepgram_connected", slog.String("model", r.cfg.Model))

	streamDone := make(chan struct{})
	go func() {
		defer close(streamDone)
		err := dgClient.Stream(pr)
		if err != nil && !errors.Is(err, io.EOF) && streamCtx.Err() == nil {
			logger.Error("deepgram_stream_error", slog.String("error", err.Error()))
		}
		// unblock the pump if the socket write side failed
		_ = pr.CloseWithError(err)
	}()

	pumpErr := r.pump(streamCtx, logger, txID, req, pw)
	_ = pw.Close()
	if pumpErr != nil && ctx.Err() == nil {
		stop()
		return cb.result(false), pumpErr
	}

	timer := time.NewTimer(r.cfg.DrainTimeout)
	defer timer.Stop()
	eos := false
	select {
	case <-streamDone:
		// CloseStream must follow the last audio frame on the wire. Writing
		// after the server closed would make the SDK redial.
		select {
		case <-cb.done:
		default:
			if err := dgClient.WriteJSON(controlMessage{Type: "CloseStream"}); err != nil {
				logger.Warn("deepgram_close_stream_failed", slog.String("error", err.Error()))
			}
		}
		select {
		case <-cb.done:
			eos = true
		case <-timer.C:
			logger.Warn("downlink_drain_timeout", slog.Duration("timeout", r.cfg.DrainTimeout))
		case <-ctx.Done():
		}
	case <-timer.C:
		logger.Warn("downlink_drain_timeout", slog.Duration("timeout", r.cfg.DrainTimeout))
	case <-ctx.Done():
	}
	stop()

	res := cb.result(eos)
	metrics.Emit(r.obs, metrics.EventSessionClosed, float64(time.Since(start).Milliseconds()), r.tags(txID),
		map[string]any{"segments": len(res.Segments), "eos": res.EOS})
	if err := cb.failure(); err != nil {
		return res, errorsx.Wrap(err, errorsx.ReasonProtocol)
	}
	if err := ctx.Err(); err != nil {
		return res, err
	}
	return res, nil
}

type controlMessage struct {
	Type string `json:"type"`
}

// hostHeader strips the scheme from a URL-style Host so the handshake
// carries a valid Host header.
func hostHeader(host string) func(http.Header) {
	u, err := url.Parse(host)
	if err != nil || u.Host == "" {
		return nil
	}
	return func(h http.Header) {
		h.Set("Host", u.Host)
	}
}

// pump copies audio into the SDK stream, pacing replayed sources.
func (r *Recognizer) pump(ctx context.Context, logger *slog.Logger, txID string, req stt.Request, w io.Writer) error {
	chunks := 0
	for {
		select {
		case <-req.Stop:
			logger.Info("uplink_done", slog.String("exit", "stop_signal"), slog.Int("chunks", chunks))
			return nil
		default:
		}
		chunk, err := req.Source.Next(ctx)
		if errors.Is(err, io.EOF) {
			logger.Info("uplink_done", slog.String("exit", "source_exhausted"), slog.Int("chunks", chunks))
			return nil
		}
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return errorsx.Wrap(&session.SourceError{Err: err}, errorsx.ReasonAudioSource)
		}
		if _, err := w.Write(chunk); err != nil {
			logger.Error("failed to send audio to deepgram", slog.String("error", err.Error()))
			return errorsx.Wrap(&session.ConnectionError{Op: "send audio", Err: err}, errorsx.ReasonConnection)
		}
		chunks++
		metrics.Emit(r.obs, metrics.EventChunkSent, float64(len(chunk)), r.tags(txID), nil)
		if req.Interval > 0 {
			timer := time.NewTimer(req.Interval)
			select {
			case <-timer.C:
			case <-req.Stop:
				timer.Stop()
			case <-ctx.Done():
				timer.Stop()
				return ctx.Err()
			}
		}
	}
}

func (r *Recognizer) tags(txID string) map[string]string {
	return map[string]string{"transaction_id": txID, "provider": providerName}
}

// --- Callback Implementation ---

type callback struct {
	txID     string
	listener events.Listener
	logger   *slog.Logger

	mu         sync.Mutex
	segments   []string
	metaLogged bool
	err        error
	done       chan struct{}
	closeOnce  sync.Once
}

func newCallback(txID string, listener events.Listener, logger *slog.Logger) *callback {
	if listener == nil {
		listener = events.Nop{}
	}
	return &callback{txID: txID, listener: listener, logger: logger, done: make(chan struct{})}
}

func (c *callback) emit(ev events.Event) {
	ev.Time = time.Now()
	ev.Provider = providerName
	ev.TransactionID = c.txID
	c.listener.OnEvent(ev)
}

func (c *callback) result(eos bool) session.Result {
	c.mu.Lock()
	defer c.mu.Unlock()
	return session.Result{
		TransactionID: c.txID,
		Segments:      append([]string(nil), c.segments...),
		EOS:           eos,
	}
}

func (c *callback) failure() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

func (c *callback) Open(or *msginterfaces.OpenResponse) error {
	c.logger.Info("deepgram_connection_opened")
	return nil
}

func (c *callback) Message(mr *msginterfaces.MessageResponse) error {
	if len(mr.Channel.Alternatives) == 0 {
		return nil
	}
	transcript := strings.TrimSpace(mr.Channel.Alternatives[0].Transcript)
	isFinal := mr.IsFinal || mr.SpeechFinal
	kind := protocol.TypePartial
	if isFinal {
		kind = protocol.TypeComplete
	}

	c.logger.Debug("transcript_received",
		slog.String("transcript", redact.Text(transcript)),
		slog.Bool("is_final", isFinal))

	if isFinal && transcript != "" {
		c.mu.Lock()
		c.segments = append(c.segments, transcript)
		c.mu.Unlock()
	}
	c.emit(events.Event{Type: events.TypeTranscript, Kind: kind, Text: transcript})
	return nil
}

func (c *callback) Metadata(md *msginterfaces.MetadataResponse) error {
	c.mu.Lock()
	first := !c.metaLogged
	c.metaLogged = true
	c.mu.Unlock()
	if first {
		c.logger.Info("deepgram_metadata_received", slog.String("request_id", md.RequestID))
	}
	return nil
}

func (c *callback) SpeechStarted(ssr *msginterfaces.SpeechStartedResponse) error {
	c.logger.Info("speech_started_event", slog.String("reason", "native_vad_detection"))
	c.emit(events.Event{Type: events.TypeSpeechStarted})
	return nil
}

func (c *callback) UtteranceEnd(ur *msginterfaces.UtteranceEndResponse) error {
	c.logger.Info("utterance_end_event")
	c.emit(events.Event{Type: events.TypeUtteranceEnd})
	return nil
}

func (c *callback) Close(cr *msginterfaces.CloseResponse) error {
	c.logger.Info("deepgram_connection_closed")
	c.closeOnce.Do(func() {
		c.emit(events.Event{Type: events.TypeClose})
		close(c.done)
	})
	return nil
}

func (c *callback) Error(er *msginterfaces.ErrorResponse) error {
	c.logger.Error("deepgram_error",
		slog.String("error_code", er.ErrCode),
		slog.String("error_message", er.ErrMsg))
	perr := &session.ProtocolError{Kind: er.ErrCode, Message: er.ErrMsg}
	c.mu.Lock()
	if c.err == nil {
		c.err = perr
	}
	c.mu.Unlock()
	c.emit(events.Event{Type: events.TypeError, Err: perr})
	return nil
}

func (c *callback) UnhandledEvent(byData []byte) error {
	c.logger.Debug("deepgram_unhandled_event", slog.String("data", string(byData)))
	return nil
}

var (
	_ stt.Recognizer                   = (*Recognizer)(nil)
	_ msginterfaces.LiveMessageCallback = (*callback)(nil)
)
