package main

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/t77yq/camera-agents/internal/model"
	"github.com/t77yq/camera-agents/internal/storage"
)

var (
	historyUnit   string
	historyStatus string
	historySince  time.Duration
	historyLimit  int
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "List recent unit status transitions",
	RunE: func(cmd *cobra.Command, args []string) error {
		if cfg.History.Path == "" {
			return fmt.Errorf("history is disabled (history.path is empty)")
		}

		history, err := storage.NewSQLiteHistory(logger, cfg.History.Path)
		if err != nil {
			return err
		}
		defer history.Close()

		filter := storage.Filter{
			UnitName: historyUnit,
			ToStatus: model.UnitStatus(historyStatus),
		}
		if historySince > 0 {
			filter.Since = time.Now().Add(-historySince)
		}
		if filter.ToStatus != "" && !filter.ToStatus.IsValid() {
			return fmt.Errorf("unknown status %q", historyStatus)
		}

		records, err := history.List(cmd.Context(), filter, 0, historyLimit)
		if err != nil {
			return err
		}
		total, err := history.Count(cmd.Context(), filter)
		if err != nil {
			return err
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "TIME\tUNIT\tFROM\tTO\tMESSAGE")
		for _, r := range records {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
				r.At.Format(time.RFC3339), r.UnitName, r.FromStatus, r.ToStatus, r.Message)
		}
		if err := w.Flush(); err != nil {
			return err
		}
		fmt.Printf("%d of %d records\n", len(records), total)
		return nil
	},
}

func init() {
	historyCmd.Flags().StringVar(&historyUnit, "unit", "", "only show this unit name")
	historyCmd.Flags().StringVar(&historyStatus, "status", "", "only show transitions into this status")
	historyCmd.Flags().DurationVar(&historySince, "since", 0, "only show transitions newer than this")
	historyCmd.Flags().IntVarP(&historyLimit, "limit", "n", 50, "maximum records to show")
}
