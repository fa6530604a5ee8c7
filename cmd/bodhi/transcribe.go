package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/harunnryd/bodhi/pkg/registry"
	"github.com/harunnryd/bodhi/pkg/storage"
	"github.com/spf13/cobra"
)

func newTranscribeCmd(a *app) *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "transcribe",
		Short: "Upload a WAV file to the non-streaming API",
		Args:  cobra.NoArgs,
		RunE: a.run(func(cmd *cobra.Command) error {
			return a.transcribe(cmd.Context(), file)
		}),
	}
	cmd.Flags().StringVar(&file, "file", "", "WAV file to upload")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func (a *app) transcribe(ctx context.Context, file string) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if err := a.cfg.RequireCredentials(); err != nil {
		return err
	}
	client, err := registry.BuildBodhiClient(a.cfg, a.deps())
	if err != nil {
		return err
	}
	store, err := a.openStore()
	if err != nil {
		return err
	}
	res, err := client.TranscribeFile(ctx, file)
	if err != nil {
		a.log.Error("transcribe_failed", slog.String("file", file), slog.String("error", err.Error()))
		return err
	}
	a.save(store, storage.Record{
		TransactionID: res.TransactionID,
		CallID:        res.CallID,
		Provider:      client.Name(),
		Mode:          "batch",
		Model:         a.cfg.Stream.Model,
		Source:        file,
		Text:          res.Text,
		EOS:           true,
	})
	fmt.Fprintf(os.Stdout, "Transcript: %s\n", res.Text)
	return nil
}
