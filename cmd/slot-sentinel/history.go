package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/nholik/slot-sentinel/internal/config"
	"github.com/nholik/slot-sentinel/internal/journal"
	"github.com/spf13/cobra"
)

func newHistoryCmd() *cobra.Command {
	var (
		journalPath string
		facility    string
		limit       int
		asJSON      bool
	)

	cmd := &cobra.Command{
		Use:   "history",
		Short: "List recently detected improvements",
		Long: `List improvements recorded in the journal, newest first.

Examples:
  slot-sentinel history
  slot-sentinel history --facility minami --limit 5
  slot-sentinel history --json`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			path := journalPath
			if path == "" {
				resolved, err := config.JournalPathFromEnv()
				if err != nil {
					return err
				}
				path = resolved
			}

			j, err := journal.Open(path)
			if err != nil {
				return fmt.Errorf("opening journal: %w", err)
			}
			defer j.Close()

			entries, err := j.Recent(cmd.Context(), facility, limit)
			if err != nil {
				return err
			}
			if asJSON {
				return writeHistoryJSON(cmd.OutOrStdout(), entries)
			}
			writeHistoryText(cmd.OutOrStdout(), entries)
			return nil
		},
	}

	cmd.Flags().StringVar(&journalPath, "journal", "", "journal database path (default: SLOT_JOURNAL_PATH or <output dir>/journal.db)")
	cmd.Flags().StringVar(&facility, "facility", "", "only show this facility id")
	cmd.Flags().IntVar(&limit, "limit", 20, "maximum number of entries")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON instead of text")
	return cmd
}

func writeHistoryJSON(w io.Writer, entries []journal.Entry) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	return enc.Encode(entries)
}

func writeHistoryText(w io.Writer, entries []journal.Entry) {
	if len(entries) == 0 {
		fmt.Fprintln(w, "no improvements recorded")
		return
	}
	for _, entry := range entries {
		detail := "not inspected"
		switch {
		case entry.Inspected && len(entry.Slots) == 0:
			detail = "no free slot"
		case entry.Inspected:
			detail = strings.Join(entry.Slots, ", ")
		}
		fmt.Fprintf(w, "%s  %-12s %s → %s  %s  (%s)\n",
			entry.Day,
			entry.Facility,
			entry.Previous.Symbol(),
			entry.Current.Symbol(),
			detail,
			entry.RunAt.Local().Format("2006-01-02 15:04"),
		)
	}
}
