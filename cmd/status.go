package main

import (
	"github.com/spf13/cobra"

	"github.com/roach88/aegis/internal/model"
)

var statusCmd = &cobra.Command{
	Use:   "status <pdf-filename>",
	Short: "Show per-status record counts for a document",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := openStore(cmd)
		if err != nil {
			return err
		}
		defer st.Close()

		doc := args[0]
		counts, err := st.CountByStatus(cmd.Context(), doc)
		if err != nil {
			return err
		}

		total := 0
		for _, n := range counts {
			total += n
		}
		if total == 0 {
			cmd.Printf("no records for %s\n", doc)
			return nil
		}

		cmd.Printf("%s: %d records\n", doc, total)
		for _, status := range []model.RecordStatus{model.StatusPending, model.StatusDone, model.StatusFailed} {
			cmd.Printf("  %-8s %d\n", status, counts[status])
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
}
