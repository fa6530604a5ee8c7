package session

import (
	"context"
	"errors"
	"log/slog"
	"time"
	"unicode/utf8"

	"github.com/harunnryd/bodhi/pkg/events"
	"github.com/harunnryd/bodhi/pkg/frames"
	"github.com/harunnryd/bodhi/pkg/metrics"
	"github.com/harunnryd/bodhi/pkg/protocol"
	"github.com/harunnryd/bodhi/pkg/redact"
	"github.com/harunnryd/bodhi/pkg/transports"
)

const maxLoggedPayload = 256

type downlinkResult struct {
	segments []string
	callID   string
	eos      bool
	err      error
}

// downlink reads frames until end of stream, an error event, a transport
// close or failure, or cancellation. It is the only writer of the aggregate
// transcript.
func (s *Session) downlink(ctx context.Context, log *slog.Logger, l *link, start time.Time) downlinkResult {
	var (
		res         downlinkResult
		lastSegment string
		firstSeen   bool
		received    int
	)
	for {
		f, err := l.conn.NextFrame(ctx)
		if err != nil {
			if ctx.Err() != nil {
				res.err = ErrCancelled
				return res
			}
			l.markFailed()
			if errors.Is(err, transports.ErrClosed) {
				res.err = &ConnectionError{Op: "read", Err: errors.New("connection closed before end of stream")}
			} else {
				res.err = &ConnectionError{Op: "read", Err: err}
			}
			return res
		}
		received++
		s.metric(metrics.EventFrameReceived, float64(len(f.RawPayload())), nil)

		if f.Kind() != frames.KindText {
			log.Warn("downlink_unexpected_binary", slog.Int("bytes", len(f.RawPayload())))
			continue
		}
		msg, err := protocol.Decode(f.RawPayload())
		if err != nil {
			mf := &MalformedFrameError{Payload: truncate(string(f.RawPayload())), Err: err}
			log.Warn("downlink_malformed_frame",
				slog.String("error", mf.Error()),
				slog.String("payload", redact.Text(mf.Payload)))
			s.metric(metrics.EventMalformedFrame, 1, nil)
			continue
		}

		if msg.Error != nil {
			res.err = &ProtocolError{
				Kind:      msg.Error.Kind,
				Message:   msg.Error.Message,
				Code:      msg.Error.Code,
				Timestamp: msg.Error.Timestamp,
			}
			return res
		}

		tr := msg.Transcript
		if tr.CallID != "" {
			switch {
			case res.callID == "":
				res.callID = tr.CallID
			case tr.CallID != res.callID:
				log.Warn("downlink_call_id_changed",
					slog.String("call_id", res.callID),
					slog.String("received", tr.CallID))
			}
		}
		if !firstSeen {
			firstSeen = true
			s.metric(metrics.EventFirstTranscript, float64(time.Since(start).Milliseconds()), nil)
		}

		base := events.Event{
			CallID:    res.callID,
			SegmentID: tr.SegmentID,
			Kind:      tr.Type,
			Text:      tr.Text,
			EOS:       tr.EOS,
		}
		if tr.SegmentID != "" && tr.SegmentID != lastSegment {
			lastSegment = tr.SegmentID
			s.emitAs(events.TypeSpeechStarted, base)
		}
		s.emitAs(events.TypeTranscript, base)
		if tr.IsComplete() {
			if tr.Text != "" {
				res.segments = append(res.segments, tr.Text)
			}
			s.emitAs(events.TypeUtteranceEnd, base)
		}
		log.Debug("downlink_transcript",
			slog.String("segment_id", tr.SegmentID),
			slog.String("type", tr.Type),
			slog.Bool("eos", tr.EOS),
			slog.String("text", redact.Text(tr.Text)))

		if tr.EOS {
			res.eos = true
			log.Info("downlink_eos", slog.Int("frames", received), slog.Int("segments", len(res.segments)))
			return res
		}
	}
}

// truncate shortens s to at most maxLoggedPayload bytes without splitting a
// UTF-8 sequence.
func truncate(s string) string {
	if len(s) <= maxLoggedPayload {
		return s
	}
	cut := maxLoggedPayload
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "..."
}
