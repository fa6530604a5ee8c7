package main

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/harunnryd/bodhi/pkg/config"
	"github.com/harunnryd/bodhi/pkg/events"
	"github.com/harunnryd/bodhi/pkg/logging"
	"github.com/harunnryd/bodhi/pkg/metrics"
	"github.com/harunnryd/bodhi/pkg/observers"
	"github.com/harunnryd/bodhi/pkg/redact"
	"github.com/harunnryd/bodhi/pkg/registry"
	"github.com/harunnryd/bodhi/pkg/storage"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// app holds everything the subcommands share once configuration is loaded.
type app struct {
	v          *viper.Viper
	configPath string

	cfg      config.Config
	log      *slog.Logger
	observer metrics.Observer
	listener events.Listener

	closers []func()
}

func newRootCmd() *cobra.Command {
	a := &app{v: config.NewViper()}
	root := &cobra.Command{
		Use:          "bodhi",
		Short:        "Streaming and batch speech recognition client",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.init()
		},
	}

	flags := root.PersistentFlags()
	flags.StringVar(&a.configPath, "config", "", "config file (yaml, toml or json)")
	flags.String("url", "", "streaming endpoint")
	flags.String("model", "", "recognition model")
	flags.String("log-level", "", "debug, info, warn or error")
	flags.String("provider", "", "recognizer: bodhi, deepgram or mock")
	_ = a.v.BindPFlag("server.url", flags.Lookup("url"))
	_ = a.v.BindPFlag("stream.model", flags.Lookup("model"))
	_ = a.v.BindPFlag("log_level", flags.Lookup("log-level"))
	_ = a.v.BindPFlag("provider.name", flags.Lookup("provider"))

	root.AddCommand(newStreamCmd(a))
	root.AddCommand(newTranscribeCmd(a))
	root.AddCommand(newHistoryCmd(a))
	return root
}

func (a *app) init() error {
	if err := config.LoadDotEnv(); err != nil {
		return err
	}
	cfg, err := config.Load(a.v, a.configPath)
	if err != nil {
		return err
	}
	a.cfg = cfg
	a.log = logging.InitLogger(logging.ParseLevel(cfg.LogLevel), cfg.LogFormat)
	slog.SetDefault(a.log)
	redact.SetEnabled(cfg.Privacy.RedactPII)

	a.log.Debug("config_loaded",
		slog.String("provider", cfg.Provider.Name),
		slog.String("url", cfg.Server.URL),
		slog.String("model", cfg.Stream.Model),
		slog.String("api_key", redact.Secret(cfg.Auth.APIKey)),
		slog.String("customer_id", redact.Secret(cfg.Auth.CustomerID)),
	)
	return a.initObservers()
}

func (a *app) initObservers() error {
	obs := a.cfg.Observability
	sinks := []metrics.Observer{observers.NewLoggerObserver(logging.NewComponentLogger(a.log, "metrics"))}
	listeners := events.Multi{observers.NewLoggerObserver(logging.NewComponentLogger(a.log, "events"))}

	if path := strings.TrimSpace(obs.MetricsFile); path != "" {
		f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return fmt.Errorf("open metrics file: %w", err)
		}
		a.closers = append(a.closers, func() { _ = f.Close() })
		sinks = append(sinks, metrics.NewJSONLObserver(f))
	}
	if dir := strings.TrimSpace(obs.ArtifactsDir); dir != "" {
		if obs.RetentionDays > 0 {
			removed, err := observers.PurgeArtifacts(dir, time.Duration(obs.RetentionDays)*24*time.Hour, obs.MetricsFile)
			if err != nil {
				a.log.Warn("artifact_purge_failed", slog.String("error", err.Error()))
			} else if removed > 0 {
				a.log.Info("artifact_purge", slog.Int("removed", removed))
			}
		}
		timeline := observers.NewTimelineObserver(dir)
		a.closers = append(a.closers, func() { _ = timeline.Close() })
		sinks = append(sinks, timeline)
		listeners = append(listeners, timeline)
	}

	async := metrics.NewAsyncObserver(metrics.NewSamplingObserver(observers.NewMultiObserver(sinks...), obs.SampleRate), 0)
	// Flush metrics before the sinks behind them are closed.
	a.closers = append([]func(){func() {
		async.Close()
		if n := async.Dropped(); n > 0 {
			a.log.Warn("metrics_dropped", slog.Int64("count", n))
		}
	}}, a.closers...)
	a.observer = async
	a.listener = listeners
	return nil
}

func (a *app) deps() registry.Deps {
	return registry.Deps{Logger: a.log, Observer: a.observer}
}

// openStore returns nil when no storage path is configured.
func (a *app) openStore() (*storage.TranscriptStore, error) {
	if strings.TrimSpace(a.cfg.Storage.Path) == "" {
		return nil, nil
	}
	store, err := storage.Open(a.cfg.Storage.Path)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, func() { _ = store.Close() })
	return store, nil
}

func (a *app) save(store *storage.TranscriptStore, rec storage.Record) {
	if store == nil {
		return
	}
	if err := store.Save(rec); err != nil {
		a.log.Warn("history_save_failed",
			slog.String("transaction_id", rec.TransactionID),
			slog.String("error", err.Error()),
		)
	}
}

// run releases observers and storage however the command ends.
func (a *app) run(fn func(cmd *cobra.Command) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		defer a.close()
		return fn(cmd)
	}
}

func (a *app) close() {
	for _, fn := range a.closers {
		fn()
	}
	a.closers = nil
}
