package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/clodoworks/orchestrator/internal/errortypes"
	"github.com/clodoworks/orchestrator/internal/statestore"
	"github.com/spf13/cobra"
)

var importInput string

var importCmd = &cobra.Command{
	Use:   "import",
	Short: "Import a previously exported audit/state log",
	Long: `import reads a JSON file produced by "orchestrate export" and appends its
records to the local state store, preserving their original deployment
ids and timestamps.`,
	RunE: runImport,
}

func init() {
	rootCmd.AddCommand(importCmd)
	importCmd.Flags().StringVar(&importInput, "input", "", "file previously written by orchestrate export")
	importCmd.MarkFlagRequired("input")
}

func runImport(cmd *cobra.Command, args []string) error {
	if importInput == "" {
		return errortypes.NewValidation("import requires --input")
	}

	data, err := os.ReadFile(importInput)
	if err != nil {
		return errortypes.NewValidation("read import file failed").WithCause(err)
	}

	var records []statestore.PhaseEventRecord
	if err := json.Unmarshal(data, &records); err != nil {
		return errortypes.NewValidation("parse import file failed").WithCause(err)
	}

	ctx := context.Background()
	a, err := newApp(ctx, false)
	if err != nil {
		return err
	}
	defer a.close()

	if err := a.store.ImportRecords(ctx, records); err != nil {
		return err
	}

	fmt.Printf("imported %d phase event(s) from %s\n", len(records), importInput)
	return nil
}
