package session

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/harunnryd/bodhi/pkg/metrics"
	"github.com/harunnryd/bodhi/pkg/protocol"
	"github.com/harunnryd/bodhi/pkg/redact"
	"github.com/harunnryd/bodhi/pkg/transports"
)

// handshake opens the connection and sends the single configuration message.
// Nothing is retried.
func (s *Session) handshake(ctx context.Context, log *slog.Logger, txID string) (transports.Conn, error) {
	msg, err := protocol.EncodeConfig(protocol.StreamConfig{
		SampleRate:    s.cfg.SampleRate,
		TransactionID: txID,
		Model:         s.cfg.Model,
	})
	if err != nil {
		return nil, err
	}

	dialCtx, cancel := context.WithTimeout(ctx, s.cfg.ConnectTimeout)
	defer cancel()

	start := time.Now()
	log.Debug("session_dial",
		slog.String("url", s.cfg.URL),
		slog.Any("header", redact.Header(s.cfg.Header)))
	conn, err := s.dialer.Dial(dialCtx, s.cfg.URL, s.cfg.Header)
	if err != nil {
		var he *transports.HandshakeError
		if errors.As(err, &he) {
			status := ClassifyStatus(he.StatusCode)
			log.Warn("session_handshake_rejected",
				slog.Int("status_code", he.StatusCode),
				slog.String("status", status.String()))
			return nil, &HandshakeRejectedError{Status: status, StatusCode: he.StatusCode, Err: err}
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, &ConnectionError{Op: "dial", Err: err}
	}

	if err := conn.SendText(msg); err != nil {
		_ = conn.Close()
		return nil, &ConnectionError{Op: "send config", Err: err}
	}
	elapsed := time.Since(start)
	log.Info("session_handshake_sent",
		slog.String("model", s.cfg.Model),
		slog.Int("sample_rate", s.cfg.SampleRate),
		slog.Duration("elapsed", elapsed))
	s.metric(metrics.EventHandshake, float64(elapsed.Milliseconds()), nil)
	return conn, nil
}
