// Package session runs one duplex streaming transcription session: a single
// configuration handshake followed by a concurrent audio uplink and
// transcript downlink over one connection.
package session

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/harunnryd/bodhi/pkg/audio"
	"github.com/harunnryd/bodhi/pkg/errorsx"
	"github.com/harunnryd/bodhi/pkg/events"
	"github.com/harunnryd/bodhi/pkg/logging"
	"github.com/harunnryd/bodhi/pkg/metrics"
	"github.com/harunnryd/bodhi/pkg/transports"
)

// Session is single use: Run may be called once.
type Session struct {
	cfg    Config
	dialer transports.Dialer
	source audio.Source

	listener   events.Listener
	obs        metrics.Observer
	log        *slog.Logger
	newID      func() string
	provider   string
	stopSignal <-chan struct{}

	lc       *lifecycle
	started  atomic.Bool
	txID     atomic.Value
	stopCh   chan struct{}
	stopOnce sync.Once
}

// New validates cfg and builds a session reading audio from source.
func New(dialer transports.Dialer, source audio.Source, cfg Config, opts ...Option) (*Session, error) {
	if dialer == nil {
		return nil, errorsx.Wrap(errors.New("session: dialer is required"), errorsx.ReasonConfig)
	}
	if source == nil {
		return nil, errorsx.Wrap(errors.New("session: audio source is required"), errorsx.ReasonConfig)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	s := &Session{
		cfg:      cfg.withDefaults(),
		dialer:   dialer,
		source:   source,
		listener: events.Nop{},
		obs:      metrics.NoopObserver{},
		log:      slog.Default(),
		newID:    NewTransactionID,
		provider: "bodhi",
		lc:       newLifecycle(),
		stopCh:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.log = logging.NewComponentLogger(s.log, "session")
	s.lc.AddListener(StateListenerFunc(s.onStateChange))
	return s, nil
}

// Stop asks the uplink to finish: it stops reading audio, sends the
// end-of-input message and the session drains. Safe to call repeatedly.
func (s *Session) Stop() {
	s.stopOnce.Do(func() { close(s.stopCh) })
}

// Drain implements runner.Drainer.
func (s *Session) Drain() error {
	s.Stop()
	return nil
}

// Lifecycle returns the current lifecycle state.
func (s *Session) Lifecycle() State { return s.lc.State() }

// TransactionID returns the id sent in the handshake, or "" before Run.
func (s *Session) TransactionID() string {
	id, _ := s.txID.Load().(string)
	return id
}

func (s *Session) stopped() bool {
	select {
	case <-s.stopCh:
		return true
	default:
		return false
	}
}

// Run performs the handshake and streams until the session ends. On success
// it returns the aggregate transcript. Otherwise it returns exactly one of
// *HandshakeRejectedError, *ConnectionError, *ProtocolError or *SourceError,
// or ctx.Err() when the caller cancelled. The end-of-input message is still
// sent when the audio source fails.
func (s *Session) Run(ctx context.Context) (Result, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if !s.started.CompareAndSwap(false, true) {
		return Result{}, ErrAlreadyStarted
	}
	txID := s.newID()
	s.txID.Store(txID)
	log := s.log.With(slog.String("transaction_id", txID))
	res := Result{TransactionID: txID}
	start := time.Now()

	s.transition(StateHandshaking, "start")
	conn, err := s.handshake(ctx, log, txID)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			if ctx.Err() != nil {
				s.transition(StateFailed, "cancelled")
				return res, err
			}
		}
		return res, s.fail(log, err)
	}
	s.transition(StateStreaming, "handshake accepted")

	runCtx, cancelRun := context.WithCancel(ctx)
	defer cancelRun()
	if s.stopSignal != nil {
		go func() {
			select {
			case <-s.stopSignal:
				s.Stop()
			case <-runCtx.Done():
			}
		}()
	}

	l := &link{conn: conn}
	upCtx, cancelUp := context.WithCancel(runCtx)
	defer cancelUp()
	downCtx, cancelDown := context.WithCancel(runCtx)
	defer cancelDown()

	upDone := make(chan error, 1)
	downDone := make(chan downlinkResult, 1)
	go func() { upDone <- s.uplink(upCtx, log, l) }()
	go func() { downDone <- s.downlink(downCtx, log, l, start) }()

	var (
		upErr  error
		upOK   bool
		down   downlinkResult
		downOK bool
		fatal  error
	)
	select {
	case upErr = <-upDone:
		upOK = true
	case down = <-downDone:
		downOK = true
	case <-ctx.Done():
	}

	callerCancelled := (!upOK && !downOK) ||
		(downOK && errors.Is(down.err, ErrCancelled)) ||
		(upOK && errors.Is(upErr, ErrCancelled))

	switch {
	case callerCancelled:
		s.transition(StateDraining, "cancelled")
		if !upOK {
			upErr, upOK = waitFor(upDone, s.cfg.CancelWait)
		}
		if !downOK {
			down, downOK = waitFor(downDone, s.cfg.CancelWait)
		}

	case downOK:
		// Downlink finished first: end of stream, error event or a broken
		// transport. The uplink is no longer needed.
		if down.err != nil {
			fatal = down.err
			s.failState(log, fatal)
		} else {
			s.transition(StateDraining, "end of stream")
		}
		cancelUp()
		upErr, upOK = waitFor(upDone, s.cfg.CancelWait)
		if fatal == nil && upOK && upErr != nil && !errors.Is(upErr, ErrCancelled) {
			log.Warn("uplink_error_after_eos", slog.String("error", upErr.Error()))
		}

	case upOK && upErr != nil:
		fatal = upErr
		s.failState(log, fatal)
		cancelDown()
		down, downOK = waitFor(downDone, s.cfg.CancelWait)

	case upOK:
		// All audio is sent; the remote side flushes its final segments
		// after the end-of-input message.
		s.transition(StateDraining, "uplink finished")
		down, downOK = s.drain(ctx, log, downDone)
		if !downOK {
			cancelDown()
			down, downOK = waitFor(downDone, s.cfg.CancelWait)
		}
		if downOK && down.err != nil && !errors.Is(down.err, ErrCancelled) {
			fatal = down.err
			s.failState(log, fatal)
		}

	}

	if downOK {
		res.Segments = down.segments
		res.CallID = down.callID
		res.EOS = down.eos
	} else {
		log.Warn("downlink_cancel_timeout", slog.Duration("wait", s.cfg.CancelWait))
		s.metric(metrics.EventDownlinkDrainLate, 1, nil)
	}

	s.terminate(log, l, upOK)
	s.emit(events.Event{Type: events.TypeClose, CallID: res.CallID})
	s.metric(metrics.EventSessionClosed, float64(time.Since(start).Milliseconds()), map[string]any{
		"segments": len(res.Segments),
		"eos":      res.EOS,
	})

	if fatal != nil {
		return res, reasonFor(fatal)
	}
	s.transition(StateClosed, "closed")
	if err := ctx.Err(); err != nil {
		return res, err
	}
	log.Info("session_closed",
		slog.String("call_id", res.CallID),
		slog.Int("segments", len(res.Segments)),
		slog.Bool("eos", res.EOS))
	return res, nil
}

// drain waits for the downlink to reach end of stream. It reports false when
// the drain window expired or the caller cancelled first.
func (s *Session) drain(ctx context.Context, log *slog.Logger, downDone <-chan downlinkResult) (downlinkResult, bool) {
	var expired <-chan time.Time
	if s.cfg.DrainTimeout > 0 {
		timer := time.NewTimer(s.cfg.DrainTimeout)
		defer timer.Stop()
		expired = timer.C
	}
	select {
	case down := <-downDone:
		return down, true
	case <-expired:
		log.Warn("downlink_drain_timeout", slog.Duration("timeout", s.cfg.DrainTimeout))
		s.metric(metrics.EventDownlinkDrainLate, float64(s.cfg.DrainTimeout.Milliseconds()), nil)
		return downlinkResult{}, false
	case <-ctx.Done():
		return downlinkResult{}, false
	}
}

// terminate makes sure the end-of-input message is the last frame sent and
// closes the connection. When the uplink never acknowledged cancellation a
// write may still be in flight, so the message is skipped.
func (s *Session) terminate(log *slog.Logger, l *link, uplinkStopped bool) {
	switch {
	case !uplinkStopped:
		log.Warn("uplink_cancel_timeout", slog.Duration("wait", s.cfg.CancelWait))
		s.metric(metrics.EventUplinkCancelLate, 1, nil)
	case l.failed.Load():
		log.Debug("session_eof_skipped", slog.String("reason", "transport failed"))
	default:
		if sent, err := l.sendEOF(); err != nil {
			log.Warn("session_eof_failed", slog.String("error", err.Error()))
		} else if sent {
			log.Debug("session_eof_sent")
		}
	}
	if err := l.conn.Close(); err != nil {
		log.Debug("session_close_failed", slog.String("error", err.Error()))
	}
}

// fail moves to Failed, reports the error to listeners and attaches its
// reason code.
func (s *Session) fail(log *slog.Logger, err error) error {
	s.failState(log, err)
	return reasonFor(err)
}

func (s *Session) failState(log *slog.Logger, err error) {
	log.Error("session_failed", slog.String("error", err.Error()))
	s.transition(StateFailed, err.Error())
	s.emit(events.Event{Type: events.TypeError, Err: err})
}

func (s *Session) transition(to State, reason string) {
	if err := s.lc.Transition(to, reason); err != nil {
		s.log.Debug("session_transition_ignored", slog.String("error", err.Error()))
	}
}

func (s *Session) onStateChange(change StateChange) {
	s.metric(metrics.EventLifecycleChange, 1, map[string]any{
		"from":   change.From.String(),
		"to":     change.To.String(),
		"reason": change.Reason,
	})
}

func (s *Session) emit(ev events.Event) {
	ev.Time = time.Now()
	ev.Provider = s.provider
	ev.TransactionID = s.TransactionID()
	s.listener.OnEvent(ev)
}

func (s *Session) emitAs(t events.Type, ev events.Event) {
	ev.Type = t
	s.emit(ev)
}

func (s *Session) metric(name string, value float64, fields map[string]any) {
	metrics.Emit(s.obs, name, value, map[string]string{
		"transaction_id": s.TransactionID(),
		"provider":       s.provider,
	}, fields)
}

// waitFor receives from ch for at most d.
func waitFor[T any](ch <-chan T, d time.Duration) (T, bool) {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case v := <-ch:
		return v, true
	case <-timer.C:
		var zero T
		return zero, false
	}
}
