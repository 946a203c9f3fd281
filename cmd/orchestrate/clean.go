package main

import (
	"context"
	"fmt"
	"time"

	"github.com/clodoworks/orchestrator/internal/dborchestrator"
	"github.com/clodoworks/orchestrator/internal/domain"
	"github.com/clodoworks/orchestrator/internal/errortypes"
	"github.com/spf13/cobra"
)

var (
	cleanOlderThan time.Duration
	cleanDomain    string
	cleanEnv       string
	cleanMode      string
)

var cleanCmd = &cobra.Command{
	Use:   "clean",
	Short: "Run a data-cleanup script against a domain's database",
	Long: `clean runs one of the three fixed cleanup scripts (logs-only, partial,
full) against a domain's database. A full cleanup on production requires a
backup first and a double confirmation; --non-interactive always refuses
it. --older-than is advisory for operators scripting logs-only cleanup on
a schedule; the script itself has a fixed retention window.`,
	RunE: runClean,
}

func init() {
	rootCmd.AddCommand(cleanCmd)

	cleanCmd.Flags().DurationVar(&cleanOlderThan, "older-than", 7*24*time.Hour, "retention window logged for audit purposes")
	cleanCmd.Flags().StringVar(&cleanDomain, "domain", "", "domain whose database to clean")
	cleanCmd.Flags().StringVar(&cleanEnv, "environment", "production", "environment to clean")
	cleanCmd.Flags().StringVar(&cleanMode, "mode", "logs-only", "cleanup mode: logs-only, partial, full")
}

func runClean(cmd *cobra.Command, args []string) error {
	if cleanDomain == "" {
		return errortypes.NewValidation("clean requires --domain")
	}

	ctx := context.Background()
	a, err := newApp(ctx, false)
	if err != nil {
		return err
	}
	defer a.close()

	result, err := a.cleaner.Run(ctx, cleanDomain, domain.Environment(cleanEnv), dborchestrator.CleanupMode(cleanMode))
	if err != nil {
		return err
	}

	fmt.Printf("cleaned %s (%s) in %s, retention %s", result.DatabaseName, result.Mode, result.Duration, cleanOlderThan)
	if result.BackupID != "" {
		fmt.Printf(", backup %s", result.BackupID)
	}
	fmt.Println()
	return nil
}
