package session

import (
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/harunnryd/bodhi/pkg/errorsx"
	"github.com/harunnryd/bodhi/pkg/events"
	"github.com/harunnryd/bodhi/pkg/metrics"
)

const (
	DefaultConnectTimeout = 10 * time.Second
	DefaultCancelWait     = 2 * time.Second
)

// Config holds the negotiated parameters and timing of one session.
type Config struct {
	URL    string
	Header http.Header

	Model      string
	SampleRate int

	// Interval paces the uplink: after each chunk it waits this long before
	// reading the next. Zero sends chunks as fast as the source yields them.
	Interval time.Duration

	// ConnectTimeout bounds dialing plus the configuration message.
	ConnectTimeout time.Duration
	// CancelWait bounds how long a cancelled task may take to acknowledge.
	CancelWait time.Duration
	// DrainTimeout bounds the wait for end of stream after all audio was
	// sent. Zero waits until the remote side finishes.
	DrainTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = DefaultConnectTimeout
	}
	if c.CancelWait <= 0 {
		c.CancelWait = DefaultCancelWait
	}
	if c.DrainTimeout < 0 {
		c.DrainTimeout = 0
	}
	if c.Interval < 0 {
		c.Interval = 0
	}
	return c
}

func (c Config) validate() error {
	var missing []string
	if strings.TrimSpace(c.URL) == "" {
		missing = append(missing, "url")
	}
	if strings.TrimSpace(c.Model) == "" {
		missing = append(missing, "model")
	}
	if len(missing) > 0 {
		return errorsx.Wrap(fmt.Errorf("session config missing: %s", strings.Join(missing, ", ")), errorsx.ReasonConfig)
	}
	if c.SampleRate <= 0 {
		return errorsx.Wrap(fmt.Errorf("session config: sample rate must be positive, got %d", c.SampleRate), errorsx.ReasonConfig)
	}
	return nil
}

// Option customizes a Session.
type Option func(*Session)

// WithListener receives every session event.
func WithListener(l events.Listener) Option {
	return func(s *Session) {
		if l != nil {
			s.listener = l
		}
	}
}

// WithObserver receives session metrics.
func WithObserver(obs metrics.Observer) Option {
	return func(s *Session) {
		if obs != nil {
			s.obs = obs
		}
	}
}

// WithLogger sets the session logger. A nil logger keeps the default.
func WithLogger(log *slog.Logger) Option {
	return func(s *Session) {
		if log != nil {
			s.log = log
		}
	}
}

// WithStopSignal ends the uplink gracefully once ch is closed or receives.
func WithStopSignal(ch <-chan struct{}) Option {
	return func(s *Session) { s.stopSignal = ch }
}

// WithIDGenerator replaces the transaction id generator.
func WithIDGenerator(gen func() string) Option {
	return func(s *Session) {
		if gen != nil {
			s.newID = gen
		}
	}
}

// WithProvider sets the provider name reported on events and metrics.
func WithProvider(name string) Option {
	return func(s *Session) {
		if name != "" {
			s.provider = name
		}
	}
}

// WithStateListener observes lifecycle transitions.
func WithStateListener(l StateListener) Option {
	return func(s *Session) { s.lc.AddListener(l) }
}
