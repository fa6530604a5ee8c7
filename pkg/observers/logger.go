package observers

import (
	"context"
	"log/slog"

	"github.com/harunnryd/bodhi/pkg/events"
	"github.com/harunnryd/bodhi/pkg/metrics"
	"github.com/harunnryd/bodhi/pkg/redact"
)

type LoggerObserver struct {
	log *slog.Logger
}

func NewLoggerObserver(log *slog.Logger) *LoggerObserver {
	if log == nil {
		log = slog.Default()
	}
	return &LoggerObserver{log: log}
}

func (o *LoggerObserver) RecordEvent(ev metrics.MetricsEvent) {
	attrs := []slog.Attr{
		slog.String("name", ev.Name),
		slog.Time("time", ev.Time),
		slog.Float64("value", ev.Value),
	}
	for k, v := range ev.Tags {
		attrs = append(attrs, slog.String(k, v))
	}
	for k, v := range ev.Fields {
		attrs = append(attrs, slog.Any(k, v))
	}
	o.log.LogAttrs(context.Background(), slog.LevelDebug, "metrics", attrs...)
}

// OnEvent logs session events the way the command-line tools report them.
func (o *LoggerObserver) OnEvent(ev events.Event) {
	switch ev.Type {
	case events.TypeTranscript:
		o.log.Info("transcript_received",
			slog.String("call_id", ev.CallID),
			slog.String("segment_id", ev.SegmentID),
			slog.Bool("eos", ev.EOS),
			slog.String("type", ev.Kind),
			slog.String("text", redact.Text(ev.Text)))
	case events.TypeError:
		msg := ""
		if ev.Err != nil {
			msg = ev.Err.Error()
		}
		o.log.Error("session_error", slog.String("error", msg))
	default:
		o.log.Debug("session_event",
			slog.String("event", ev.Type.String()),
			slog.String("segment_id", ev.SegmentID))
	}
}

type MultiObserver struct {
	list []metrics.Observer
}

func NewMultiObserver(list ...metrics.Observer) *MultiObserver {
	return &MultiObserver{list: list}
}

func (m *MultiObserver) RecordEvent(ev metrics.MetricsEvent) {
	for _, obs := range m.list {
		if obs != nil {
			obs.RecordEvent(ev)
		}
	}
}
