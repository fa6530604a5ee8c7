package session

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/harunnryd/bodhi/pkg/errorsx"
	"github.com/harunnryd/bodhi/pkg/metrics"
	"github.com/harunnryd/bodhi/pkg/protocol"
	"github.com/harunnryd/bodhi/pkg/transports"
)

// link is the connection shared by the uplink, the downlink and the
// coordinator. It tracks transport failure and sends the end-of-input
// message at most once.
type link struct {
	conn    transports.Conn
	failed  atomic.Bool
	eofOnce sync.Once
	eofSent atomic.Bool
}

// markFailed records that the transport can no longer carry frames.
func (l *link) markFailed() { l.failed.Store(true) }

// sendEOF writes the end-of-input message unless it was already sent or the
// transport failed. It reports whether this call sent it.
func (l *link) sendEOF() (bool, error) {
	var (
		sent bool
		err  error
	)
	l.eofOnce.Do(func() {
		if l.failed.Load() {
			return
		}
		if err = l.conn.SendText(protocol.EncodeEOF()); err != nil {
			l.markFailed()
			return
		}
		sent = true
		l.eofSent.Store(true)
	})
	return sent, err
}

type uplinkExit string

const (
	exitExhausted uplinkExit = "source_exhausted"
	exitStopped   uplinkExit = "stop_signal"
	exitCancelled uplinkExit = "cancelled"
	exitFailed    uplinkExit = "failed"
)

// uplink writes audio chunks in source order until the source is exhausted,
// Stop is called, the write fails, or ctx is cancelled by the coordinator.
// On exhaustion, stop or source failure it sends the end-of-input message
// itself. On cancellation that is left to the coordinator.
func (s *Session) uplink(ctx context.Context, log *slog.Logger, l *link) error {
	loopCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-s.stopCh:
			cancel()
		case <-loopCtx.Done():
		}
	}()

	var (
		chunks int
		bytes  int
		exit   uplinkExit
		srcErr error
	)
loop:
	for {
		chunk, err := s.source.Next(loopCtx)
		switch {
		case err == nil:
		case errors.Is(err, io.EOF):
			exit = exitExhausted
			break loop
		case ctx.Err() != nil:
			exit = exitCancelled
			break loop
		case s.stopped():
			exit = exitStopped
			break loop
		default:
			exit = exitFailed
			srcErr = errorsx.Wrap(&SourceError{Err: err}, errorsx.ReasonAudioSource)
			break loop
		}
		if len(chunk) == 0 {
			continue
		}
		if err := l.conn.SendBinary(chunk); err != nil {
			l.markFailed()
			log.Error("uplink_write_failed", slog.Int("chunks", chunks), slog.String("error", err.Error()))
			return &ConnectionError{Op: "send audio", Err: err}
		}
		chunks++
		bytes += len(chunk)
		s.metric(metrics.EventChunkSent, float64(len(chunk)), map[string]any{"seq": chunks})

		if s.cfg.Interval > 0 {
			timer := time.NewTimer(s.cfg.Interval)
			select {
			case <-timer.C:
			case <-loopCtx.Done():
				timer.Stop()
			}
		}
		if ctx.Err() != nil {
			exit = exitCancelled
			break
		}
		if s.stopped() {
			exit = exitStopped
			break
		}
	}

	log.Info("uplink_done",
		slog.String("exit", string(exit)),
		slog.Int("chunks", chunks),
		slog.Int("bytes", bytes))
	if exit == exitCancelled {
		return ErrCancelled
	}
	if _, err := l.sendEOF(); err != nil {
		log.Error("uplink_eof_failed", slog.String("error", err.Error()))
		if srcErr == nil {
			return &ConnectionError{Op: "send eof", Err: err}
		}
	}
	return srcErr
}
