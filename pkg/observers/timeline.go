package observers

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/harunnryd/bodhi/pkg/events"
	"github.com/harunnryd/bodhi/pkg/metrics"
	"github.com/harunnryd/bodhi/pkg/redact"
)

// TimelineObserver writes a per-session timeline JSONL trace named after the
// transaction id. It records both metric events and session events.
type TimelineObserver struct {
	dir   string
	mu    sync.Mutex
	files map[string]*os.File
}

// NewTimelineObserver creates a new timeline observer writing to dir.
func NewTimelineObserver(dir string) *TimelineObserver {
	return &TimelineObserver{dir: dir, files: make(map[string]*os.File)}
}

// RecordEvent implements metrics.Observer.
func (o *TimelineObserver) RecordEvent(ev metrics.MetricsEvent) {
	var txID string
	if ev.Tags != nil {
		txID = ev.Tags["transaction_id"]
	}
	o.write(txID, timelineEvent{
		Time:          ev.Time.UTC(),
		Event:         ev.Name,
		TransactionID: txID,
		Value:         ev.Value,
		Tags:          copyTags(ev.Tags),
		Fields:        sanitizeFields(ev.Fields),
	})
}

// OnEvent implements events.Listener.
func (o *TimelineObserver) OnEvent(ev events.Event) {
	entry := timelineEvent{
		Time:          ev.Time.UTC(),
		Event:         "event_" + strings.ToLower(ev.Type.String()),
		TransactionID: ev.TransactionID,
		Fields: map[string]any{
			"call_id":    ev.CallID,
			"segment_id": ev.SegmentID,
			"type":       ev.Kind,
			"text":       redact.Text(ev.Text),
			"eos":        ev.EOS,
		},
	}
	if ev.Err != nil {
		entry.Fields["error"] = ev.Err.Error()
	}
	o.write(ev.TransactionID, entry)
}

func (o *TimelineObserver) write(id string, entry timelineEvent) {
	if id == "" || strings.TrimSpace(o.dir) == "" {
		return
	}
	line, err := json.Marshal(entry)
	if err != nil {
		return
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	f := o.fileFor(id)
	if f == nil {
		return
	}
	_, _ = f.Write(append(line, '\n'))
}

// Close closes any open files.
func (o *TimelineObserver) Close() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	var err error
	for _, f := range o.files {
		if f == nil {
			continue
		}
		if cerr := f.Close(); cerr != nil {
			err = errors.Join(err, cerr)
		}
	}
	o.files = make(map[string]*os.File)
	return err
}

type timelineEvent struct {
	Time          time.Time         `json:"time"`
	Event         string            `json:"event"`
	TransactionID string            `json:"transaction_id,omitempty"`
	Value         float64           `json:"value,omitempty"`
	Tags          map[string]string `json:"tags,omitempty"`
	Fields        map[string]any    `json:"fields,omitempty"`
}

// fileFor must be called with o.mu held.
func (o *TimelineObserver) fileFor(id string) *os.File {
	safe := sanitizeID(id)
	if safe == "" {
		return nil
	}
	if f := o.files[safe]; f != nil {
		return f
	}
	if err := os.MkdirAll(o.dir, 0o755); err != nil {
		return nil
	}
	path := filepath.Join(o.dir, safe+".jsonl")
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil
	}
	o.files[safe] = f
	return f
}

func sanitizeID(id string) string {
	id = strings.TrimSpace(id)
	if id == "" {
		return ""
	}
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z':
			return r
		case r >= 'A' && r <= 'Z':
			return r
		case r >= '0' && r <= '9':
			return r
		case r == '-' || r == '_' || r == '.':
			return r
		default:
			return '_'
		}
	}, id)
}

func copyTags(in map[string]string) map[string]string {
	if in == nil {
		return nil
	}
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

func sanitizeFields(in map[string]any) map[string]any {
	if in == nil {
		return nil
	}
	out := make(map[string]any, len(in))
	for k, v := range in {
		if s, ok := v.(string); ok {
			out[k] = redact.Text(s)
			continue
		}
		out[k] = v
	}
	return out
}

var _ metrics.Observer = (*TimelineObserver)(nil)
var _ events.Listener = (*TimelineObserver)(nil)
