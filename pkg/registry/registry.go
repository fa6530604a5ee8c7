// Package registry maps provider names from configuration to recognizers.
package registry

import (
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/harunnryd/bodhi/pkg/adapters/stt"
	"github.com/harunnryd/bodhi/pkg/config"
	"github.com/harunnryd/bodhi/pkg/configutil"
	"github.com/harunnryd/bodhi/pkg/errorsx"
	"github.com/harunnryd/bodhi/pkg/metrics"
	"github.com/harunnryd/bodhi/pkg/providers/bodhi"
	"github.com/harunnryd/bodhi/pkg/providers/deepgram"
	"github.com/harunnryd/bodhi/pkg/providers/mock"
)

// Deps are the shared collaborators handed to every factory.
type Deps struct {
	Logger   *slog.Logger
	Observer metrics.Observer
}

type Factory func(cfg config.Config, deps Deps) (stt.Recognizer, error)

type Registry struct {
	factories map[string]Factory
}

func New() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

// Default returns a registry with the bodhi, deepgram and mock providers.
func Default() *Registry {
	r := New()
	r.Register("bodhi", buildBodhi)
	r.Register("deepgram", buildDeepgram)
	r.Register("mock", buildMock)
	return r
}

func normalize(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

func (r *Registry) Register(name string, factory Factory) {
	r.factories[normalize(name)] = factory
}

// Names lists registered providers in order.
func (r *Registry) Names() []string {
	out := make([]string, 0, len(r.factories))
	for name := range r.factories {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

func (r *Registry) Build(cfg config.Config, deps Deps) (stt.Recognizer, error) {
	fn := r.factories[normalize(cfg.Provider.Name)]
	if fn == nil {
		return nil, errorsx.Wrap(fmt.Errorf("stt provider not registered: %s", cfg.Provider.Name), errorsx.ReasonProvider)
	}
	rec, err := fn(cfg, deps)
	if err != nil {
		return nil, errorsx.Wrap(fmt.Errorf("build %s provider: %w", cfg.Provider.Name, err), errorsx.ReasonProvider)
	}
	return rec, nil
}

func buildBodhi(cfg config.Config, deps Deps) (stt.Recognizer, error) {
	if err := cfg.RequireCredentials(); err != nil {
		return nil, err
	}
	return BuildBodhiClient(cfg, deps)
}

// BuildBodhiClient builds the concrete client, which also serves the batch
// upload API.
func BuildBodhiClient(cfg config.Config, deps Deps) (*bodhi.Client, error) {
	return bodhi.New(bodhi.Config{
		URL:            cfg.Server.URL,
		HTTPURL:        cfg.Server.HTTPURL,
		APIKey:         cfg.Auth.APIKey,
		CustomerID:     cfg.Auth.CustomerID,
		Model:          cfg.Stream.Model,
		SampleRate:     cfg.Stream.SampleRate,
		ConnectTimeout: cfg.Stream.ConnectTimeout(),
		CancelWait:     cfg.Stream.CancelWait(),
		DrainTimeout:   cfg.Stream.DrainTimeout(),
		MaxRetries:     cfg.Batch.MaxRetries,
		Backoff:        configutil.Millis(cfg.Batch.BackoffMS),
		Logger:         deps.Logger,
		Observer:       deps.Observer,
	})
}

type deepgramSettings struct {
	APIKey         string        `mapstructure:"api_key"`
	Host           string        `mapstructure:"host"`
	Model          string        `mapstructure:"model"`
	Language       string        `mapstructure:"language"`
	Encoding       string        `mapstructure:"encoding"`
	Interim        bool          `mapstructure:"interim"`
	VADEvents      bool          `mapstructure:"vad_events"`
	UtteranceEndMS *int          `mapstructure:"utterance_end_ms"`
	DrainTimeout   time.Duration `mapstructure:"drain_timeout"`
}

var deepgramSchema = configutil.Schema{
	Path:     "provider.settings",
	Required: []string{"api_key"},
	Optional: []string{"host", "model", "language", "encoding", "interim", "vad_events", "utterance_end_ms", "drain_timeout"},
	Enums:    map[string][]string{"encoding": {"linear16", "mulaw"}},
}

func buildDeepgram(cfg config.Config, deps Deps) (stt.Recognizer, error) {
	if err := configutil.ValidateSettings(cfg.Provider.Settings, deepgramSchema); err != nil {
		return nil, errorsx.Wrap(err, errorsx.ReasonConfig)
	}
	var s deepgramSettings
	if err := configutil.DecodeSettings(cfg.Provider.Settings, &s); err != nil {
		return nil, errorsx.Wrap(fmt.Errorf("provider.settings: %w", err), errorsx.ReasonConfig)
	}
	drain := s.DrainTimeout
	if drain <= 0 {
		drain = cfg.Stream.DrainTimeout()
	}
	return deepgram.New(deepgram.Config{
		APIKey:         s.APIKey,
		Host:           s.Host,
		Model:          s.Model,
		Language:       s.Language,
		SampleRate:     cfg.Stream.SampleRate,
		Encoding:       s.Encoding,
		Interim:        s.Interim,
		VADEvents:      s.VADEvents,
		UtteranceEndMS: configutil.ValueOr(s.UtteranceEndMS, 1000),
		DrainTimeout:   drain,
		Logger:         deps.Logger,
		Observer:       deps.Observer,
	})
}

type mockSettings struct {
	Transcript  string `mapstructure:"transcript"`
	EmitPartial bool   `mapstructure:"emit_partial"`
}

func buildMock(cfg config.Config, deps Deps) (stt.Recognizer, error) {
	var s mockSettings
	if err := configutil.DecodeSettings(cfg.Provider.Settings, &s); err != nil {
		return nil, errorsx.Wrap(fmt.Errorf("provider.settings: %w", err), errorsx.ReasonConfig)
	}
	return mock.NewSTT(mock.STTConfig{
		Transcript:  s.Transcript,
		EmitPartial: s.EmitPartial,
		Model:       cfg.Stream.Model,
		SampleRate:  cfg.Stream.SampleRate,
		Logger:      deps.Logger,
		Observer:    deps.Observer,
	}), nil
}
