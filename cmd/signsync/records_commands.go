package main

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"signsync/internal/store"
)

const recordPreviewWidth = 60

func newRecordsCommand(ctx *commandContext) *cobra.Command {
	var asJSON bool
	var limit int
	cmd := &cobra.Command{
		Use:   "records",
		Short: "List persisted records awaiting upload",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			st, err := store.Open(cfg)
			if err != nil {
				return err
			}
			defer st.Close()
			records, err := st.ListRecords(cmd.Context())
			if err != nil {
				return err
			}
			total := len(records)
			if limit > 0 && len(records) > limit {
				records = records[:limit]
			}
			if asJSON {
				if records == nil {
					records = []store.Record{}
				}
				return writeJSON(cmd, records)
			}
			out := cmd.OutOrStdout()
			if total == 0 {
				fmt.Fprintln(out, "No records pending upload")
				return nil
			}
			rows := make([][]string, 0, len(records))
			for _, rec := range records {
				rows = append(rows, []string{
					rec.CreatedAt.Local().Format("2006-01-02 15:04:05"),
					rec.Partition,
					rec.Key,
					payloadPreview(rec.Payload),
				})
			}
			fmt.Fprint(out, renderTable(
				[]string{"Created", "Partition", "Key", "Data"},
				rows,
				[]columnAlignment{alignLeft, alignLeft, alignLeft, alignLeft},
			))
			if len(records) < total {
				fmt.Fprintf(out, "Showing %d of %d records\n", len(records), total)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Output as JSON")
	cmd.Flags().IntVarP(&limit, "limit", "n", 50, "Maximum records to show (0 for all)")
	return cmd
}

func payloadPreview(p store.Payload) string {
	text := p.Text
	if p.IsStructured() {
		text = string(p.Structured)
	}
	text = strings.Join(strings.Fields(text), " ")
	if len(text) > recordPreviewWidth {
		return text[:recordPreviewWidth-3] + "..."
	}
	return text
}

func newLogCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "log <message>...",
		Short: "Queue a diagnostic message for upload to the server log",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			message := strings.TrimSpace(strings.Join(args, " "))
			if message == "" {
				return errors.New("message is empty")
			}
			return ctx.withSync(cmd, func(c context.Context, api syncAPI) error {
				if err := api.Log(c, message); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "Message queued")
				return nil
			})
		},
	}
}

func newPersistCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "persist",
		Short: "Write staged records to the durable store",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withSync(cmd, func(c context.Context, api syncAPI) error {
				flushed, err := api.Persist(c)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Persisted %d staged %s\n", flushed, plural(flushed, "record", "records"))
				return nil
			})
		},
	}
}

func plural(n int, one, many string) string {
	if n == 1 {
		return one
	}
	return many
}
