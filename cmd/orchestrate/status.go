package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/clodoworks/orchestrator/internal/domain"
	"github.com/clodoworks/orchestrator/internal/errortypes"
	"github.com/fatih/color"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
)

var (
	statusDetailed bool
	statusJSON     bool
	statusDomain   string
	statusEnv      string
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the current deployment pointer and recent history for a domain",
	RunE:  runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)

	statusCmd.Flags().BoolVar(&statusDetailed, "detailed", false, "include full phase history, not just the current pointer")
	statusCmd.Flags().BoolVar(&statusJSON, "json", false, "emit status as JSON")
	statusCmd.Flags().StringVar(&statusDomain, "domain", "", "domain to report on")
	statusCmd.Flags().StringVar(&statusEnv, "environment", "production", "environment to report on")
}

type statusReport struct {
	Domain      string                 `json:"domain"`
	Environment string                 `json:"environment"`
	Current     string                 `json:"current_deployment_id"`
	History     []statestoreRecordJSON `json:"history,omitempty"`
}

type statestoreRecordJSON struct {
	DeploymentID string `json:"deployment_id"`
	Phase        string `json:"phase"`
	EventType    string `json:"event_type"`
	Outcome      string `json:"outcome"`
	Error        string `json:"error,omitempty"`
	RecordedAt   string `json:"recorded_at"`
}

func runStatus(cmd *cobra.Command, args []string) error {
	if statusDomain == "" {
		return errortypes.NewValidation("status requires --domain")
	}

	ctx := context.Background()
	a, err := newApp(ctx, false)
	if err != nil {
		return err
	}
	defer a.close()

	env := domain.Environment(statusEnv)
	current, err := a.store.CurrentDeploymentID(ctx, statusDomain, env)
	if err != nil {
		return err
	}

	report := statusReport{Domain: statusDomain, Environment: string(env), Current: current}

	if statusDetailed {
		history, err := a.store.HistoryByDomain(ctx, statusDomain)
		if err != nil {
			return err
		}
		for _, rec := range history {
			report.History = append(report.History, statestoreRecordJSON{
				DeploymentID: rec.DeploymentID, Phase: string(rec.Phase), EventType: string(rec.EventType),
				Outcome: string(rec.Outcome), Error: rec.Error, RecordedAt: rec.RecordedAt.Format("2006-01-02T15:04:05Z"),
			})
		}
	}

	if statusJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(report)
	}

	fmt.Printf("%s [%s] current: %s\n", report.Domain, report.Environment, color.CyanString(valueOrNone(report.Current)))

	if len(report.History) > 0 {
		table := tablewriter.NewWriter(os.Stdout)
		table.SetHeader([]string{"Recorded At", "Phase", "Event", "Outcome", "Error"})
		table.SetBorder(false)
		table.SetHeaderLine(false)
		table.SetColumnSeparator(" ")
		table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
		table.SetAlignment(tablewriter.ALIGN_LEFT)
		for _, rec := range report.History {
			outcome := rec.Outcome
			switch outcome {
			case string(domain.OutcomeOK):
				outcome = color.GreenString(outcome)
			case string(domain.OutcomeFailed):
				outcome = color.RedString(outcome)
			}
			table.Append([]string{rec.RecordedAt, rec.Phase, rec.EventType, outcome, rec.Error})
		}
		table.Render()
	}
	return nil
}

func valueOrNone(s string) string {
	if s == "" {
		return "(none)"
	}
	return s
}
