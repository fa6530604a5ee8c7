package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/harunnryd/bodhi/pkg/adapters/stt"
	"github.com/harunnryd/bodhi/pkg/audio"
	"github.com/harunnryd/bodhi/pkg/events"
	"github.com/harunnryd/bodhi/pkg/registry"
	"github.com/harunnryd/bodhi/pkg/runner"
	"github.com/harunnryd/bodhi/pkg/session"
	"github.com/harunnryd/bodhi/pkg/storage"
	"github.com/spf13/cobra"
)

type streamOptions struct {
	file       string
	stdin      bool
	sampleRate int
	quiet      bool
}

func newStreamCmd(a *app) *cobra.Command {
	var opts streamOptions
	cmd := &cobra.Command{
		Use:   "stream",
		Short: "Stream audio over a live session and print the transcript",
		Args:  cobra.NoArgs,
		RunE: a.run(func(cmd *cobra.Command) error {
			if (opts.file == "") == !opts.stdin {
				return errors.New("exactly one of --file or --stdin is required")
			}
			return a.stream(cmd.Context(), opts)
		}),
	}
	cmd.Flags().StringVar(&opts.file, "file", "", "WAV file replayed in real time")
	cmd.Flags().BoolVar(&opts.stdin, "stdin", false, "read raw 16-bit mono PCM from stdin")
	cmd.Flags().IntVar(&opts.sampleRate, "sample-rate", 0, "sample rate of stdin audio (defaults to stream.sample_rate)")
	cmd.Flags().BoolVar(&opts.quiet, "quiet", false, "only print the final transcript")
	return cmd
}

// streamInput builds the audio source. Files are paced in real time, stdin
// is paced by its producer.
func (a *app) streamInput(opts streamOptions) (stt.Request, func(), error) {
	interval := a.cfg.Stream.Interval()
	if opts.file != "" {
		pcm, err := audio.LoadWAV(opts.file)
		if err != nil {
			return stt.Request{}, nil, err
		}
		if pcm.SampleRate != a.cfg.Stream.SampleRate {
			a.log.Info("stream_sample_rate_from_file",
				slog.Int("configured", a.cfg.Stream.SampleRate),
				slog.Int("file", pcm.SampleRate),
			)
		}
		chunk := audio.ChunkSize(pcm.SampleRate, pcm.BytesPerSample, pcm.Channels, interval)
		if chunk == 0 {
			return stt.Request{}, nil, fmt.Errorf("stream.interval_ms must be positive for file replay")
		}
		src, err := audio.NewBufferSource(pcm.Data, chunk)
		if err != nil {
			return stt.Request{}, nil, err
		}
		a.log.Info("stream_file_loaded",
			slog.String("file", opts.file),
			slog.Duration("length", pcm.Length()),
			slog.Int("chunk_bytes", chunk),
		)
		return stt.Request{Source: src, SampleRate: pcm.SampleRate, Interval: interval}, func() {}, nil
	}

	rate := opts.sampleRate
	if rate <= 0 {
		rate = a.cfg.Stream.SampleRate
	}
	if interval <= 0 {
		interval = 20 * time.Millisecond
	}
	src, err := audio.NewReaderSource(os.Stdin, audio.ChunkSize(rate, 2, 1, interval))
	if err != nil {
		return stt.Request{}, nil, err
	}
	return stt.Request{Source: src, SampleRate: rate}, src.Close, nil
}

func (a *app) stream(parent context.Context, opts streamOptions) error {
	if parent == nil {
		parent = context.Background()
	}
	ctx, cancel := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	rec, err := registry.Default().Build(a.cfg, a.deps())
	if err != nil {
		return err
	}
	req, release, err := a.streamInput(opts)
	if err != nil {
		return err
	}
	defer release()

	store, err := a.openStore()
	if err != nil {
		return err
	}

	stop := make(chan struct{})
	var stopOnce sync.Once
	drainer := runner.DrainFunc(func() error {
		stopOnce.Do(func() { close(stop) })
		a.log.Info("stream_stop_requested")
		return nil
	})

	printer := events.NewRegistry()
	if !opts.quiet {
		printer.On(events.TypeUtteranceEnd, func(ev events.Event) {
			fmt.Fprintln(os.Stdout, ev.Text)
		})
	}
	req.Stop = stop
	req.Listener = events.Multi{a.listener, printer}

	var res session.Result
	r := runner.NewLifecycleRunner(drainer, runner.Hooks{}, a.cfg.Stream.DrainTimeout()+a.cfg.Stream.CancelWait()).WithBanner(os.Stderr)
	err = r.Run(ctx, func(jobCtx context.Context) error {
		var err error
		res, err = rec.Transcribe(jobCtx, req)
		return err
	})
	if err != nil {
		a.log.Error("stream_failed", slog.String("provider", rec.Name()), slog.String("error", err.Error()))
		return err
	}

	source := opts.file
	if opts.stdin {
		source = "stdin"
	}
	a.save(store, storage.Record{
		TransactionID: res.TransactionID,
		CallID:        res.CallID,
		Provider:      rec.Name(),
		Mode:          "stream",
		Model:         a.cfg.Stream.Model,
		Source:        source,
		Segments:      res.Segments,
		Text:          res.Text(),
		EOS:           res.EOS,
	})
	if !res.EOS {
		a.log.Warn("stream_truncated", slog.String("transaction_id", res.TransactionID))
	}
	fmt.Fprintf(os.Stdout, "Complete transcript: %s\n", res.Text())
	return nil
}
