package main

import (
	"github.com/spf13/cobra"

	"github.com/roach88/aegis/internal/export"
)

var exportOutput string

var exportCmd = &cobra.Command{
	Use:   "export <pdf-filename>",
	Short: "Write a document's records to an xlsx report",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := openStore(cmd)
		if err != nil {
			return err
		}
		defer st.Close()

		doc := args[0]
		records, err := st.ListAll(cmd.Context(), doc)
		if err != nil {
			return err
		}

		out := exportOutput
		if out == "" {
			out = exportPath(doc)
		}
		if err := export.WriteXLSX(records, doc, out); err != nil {
			return err
		}
		cmd.Printf("exported %d records to %s\n", len(records), out)
		return nil
	},
}

func init() {
	exportCmd.Flags().StringVarP(&exportOutput, "output", "o", "", "output path (default <document>.xlsx in the export dir)")
	rootCmd.AddCommand(exportCmd)
}
