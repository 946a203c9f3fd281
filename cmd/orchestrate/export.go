package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/clodoworks/orchestrator/internal/errortypes"
	"github.com/spf13/cobra"
)

var exportOutput string

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export the full audit/state log to a portable JSON file",
	Long: `export writes every recorded phase event across every domain and
environment to --output as JSON, for archival or transfer to another
instance's state database via "orchestrate import".`,
	RunE: runExport,
}

func init() {
	rootCmd.AddCommand(exportCmd)
	exportCmd.Flags().StringVar(&exportOutput, "output", "", "file to write the exported audit log to")
	exportCmd.MarkFlagRequired("output")
}

func runExport(cmd *cobra.Command, args []string) error {
	if exportOutput == "" {
		return errortypes.NewValidation("export requires --output")
	}

	ctx := context.Background()
	a, err := newApp(ctx, false)
	if err != nil {
		return err
	}
	defer a.close()

	records, err := a.store.ExportAll(ctx)
	if err != nil {
		return err
	}

	data, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return err
	}
	if err := os.WriteFile(exportOutput, data, 0600); err != nil {
		return errortypes.NewTransient("write export file failed").WithCause(err)
	}

	fmt.Printf("exported %d phase event(s) to %s\n", len(records), exportOutput)
	return nil
}
