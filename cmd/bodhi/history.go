package main

import (
	"errors"
	"fmt"
	"io"

	"github.com/harunnryd/bodhi/pkg/redact"
	"github.com/harunnryd/bodhi/pkg/storage"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
)

func newHistoryCmd(a *app) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "history",
		Short: "List stored transcripts, newest first",
		Args:  cobra.NoArgs,
		RunE: a.run(func(cmd *cobra.Command) error {
			store, err := a.openStore()
			if err != nil {
				return err
			}
			if store == nil {
				return errors.New("storage.path is not configured")
			}
			records, err := store.List(limit)
			if err != nil {
				return err
			}
			renderHistory(cmd.OutOrStdout(), records)
			return nil
		}),
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "maximum number of records (0 for all)")
	return cmd
}

func renderHistory(w io.Writer, records []storage.Record) {
	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"Created At", "Transaction", "Provider", "Mode", "Complete", "Transcript"})
	table.SetBorder(false)
	table.SetAutoWrapText(false)
	table.SetAutoFormatHeaders(true)
	for _, r := range records {
		table.Append([]string{
			r.CreatedAt.Local().Format("2006-01-02 15:04:05"),
			r.TransactionID,
			r.Provider,
			r.Mode,
			fmt.Sprintf("%t", r.EOS),
			redact.Text(r.Text),
		})
	}
	table.Render()
}
