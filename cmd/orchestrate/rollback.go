package main

import (
	"context"
	"fmt"

	"github.com/clodoworks/orchestrator/internal/domain"
	"github.com/clodoworks/orchestrator/internal/errortypes"
	"github.com/spf13/cobra"
)

var (
	rollbackList      bool
	rollbackToVersion string
	rollbackDryRun    bool
	rollbackDomain    string
	rollbackEnv       string
)

var rollbackCmd = &cobra.Command{
	Use:   "rollback",
	Short: "List or replay rollback actions for a past deployment",
	Long: `rollback either lists a domain's deployment history (--list) or replays
the recorded rollback actions for a specific deployment (--to-version) in
reverse order, reporting exactly which steps succeeded and which were
only partially recovered.`,
	RunE: runRollback,
}

func init() {
	rootCmd.AddCommand(rollbackCmd)

	rollbackCmd.Flags().BoolVar(&rollbackList, "list", false, "list recorded deployments for --domain instead of rolling back")
	rollbackCmd.Flags().StringVar(&rollbackToVersion, "to-version", "", "deployment id to roll back")
	rollbackCmd.Flags().BoolVar(&rollbackDryRun, "dry-run", false, "show what would be rolled back without executing it")
	rollbackCmd.Flags().StringVar(&rollbackDomain, "domain", "", "domain to list or roll back")
	rollbackCmd.Flags().StringVar(&rollbackEnv, "environment", "production", "environment the deployment ran in")
}

func runRollback(cmd *cobra.Command, args []string) error {
	if rollbackDomain == "" {
		return errortypes.NewValidation("rollback requires --domain")
	}

	ctx := context.Background()
	a, err := newApp(ctx, false)
	if err != nil {
		return err
	}
	defer a.close()

	if rollbackList {
		history, err := a.store.HistoryByDomain(ctx, rollbackDomain)
		if err != nil {
			return err
		}
		for _, rec := range history {
			fmt.Printf("%s  %-10s %-8s %-6s %s\n", rec.RecordedAt.Format("2006-01-02T15:04:05Z"), rec.DeploymentID, rec.Phase, rec.EventType, rec.Outcome)
		}
		return nil
	}

	if rollbackToVersion == "" {
		return errortypes.NewValidation("rollback requires --to-version unless --list is set")
	}

	records, err := a.store.RollbackActionsForDeployment(ctx, rollbackToVersion)
	if err != nil {
		return err
	}

	if rollbackDryRun {
		fmt.Printf("dry run: would replay %d rollback action(s) for %s in reverse order\n", len(records), rollbackToVersion)
		for i := len(records) - 1; i >= 0; i-- {
			fmt.Printf("  %s: %s\n", records[i].Phase, records[i].RollbackKind)
		}
		return nil
	}

	report, err := a.orch.Rollback(ctx, rollbackDomain, domain.Environment(rollbackEnv), rollbackToVersion)
	if err != nil {
		return err
	}

	fmt.Println(report.Summary())
	if report.PartialRollback {
		return errortypes.NewRollback("rollback only partially recovered").WithDomain(rollbackDomain, "rollback").WithCode(rollbackToVersion)
	}
	return nil
}
