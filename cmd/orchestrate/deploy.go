package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/clodoworks/orchestrator/internal/assessment"
	"github.com/clodoworks/orchestrator/internal/domain"
	"github.com/clodoworks/orchestrator/internal/errortypes"
	"github.com/clodoworks/orchestrator/internal/router"
	"github.com/fatih/color"
	"github.com/olekukonko/tablewriter"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
)

var (
	deployEnvironment   string
	deployDryRun        bool
	deployNoRollback    bool
	deployParallelism   int
	deployIgnoreBlocked bool
	deployDomain        string
	deployAll           bool
	deployReport        string
)

var deployCmd = &cobra.Command{
	Use:   "deploy",
	Short: "Deploy one domain, or the whole portfolio, to an environment",
	Long: `deploy runs the validate/prepare/deploy/verify pipeline for the selected
domains against --environment, synchronizing at batch boundaries of
--parallelism. A domain with blocked capability gaps refuses to deploy
unless --ignore-blocked is set. A failed phase triggers an automatic
rollback of everything the pipeline already committed, unless
--no-rollback is set.`,
	RunE: runDeploy,
}

func init() {
	rootCmd.AddCommand(deployCmd)

	deployCmd.Flags().StringVar(&deployEnvironment, "environment", defaultEnvironment(), "target environment")
	deployCmd.Flags().BoolVar(&deployDryRun, "dry-run", false, "assess and plan without deploying")
	deployCmd.Flags().BoolVar(&deployNoRollback, "no-rollback", false, "leave partial state in place on failure instead of rolling back")
	deployCmd.Flags().IntVar(&deployParallelism, "parallelism", 3, "max domains deployed concurrently per batch")
	deployCmd.Flags().BoolVar(&deployIgnoreBlocked, "ignore-blocked", false, "deploy despite blocked capability gaps")
	deployCmd.Flags().StringVar(&deployDomain, "domain", "", "single domain to deploy")
	deployCmd.Flags().BoolVar(&deployAll, "all", false, "deploy every domain in the portfolio")
	deployCmd.Flags().StringVar(&deployReport, "report", "", "write the portfolio result as JSON to this file")
}

func runDeploy(cmd *cobra.Command, args []string) error {
	if deployDomain == "" && !deployAll {
		return errortypes.NewValidation("deploy requires either --domain or --all")
	}

	ctx := context.Background()
	a, err := newApp(ctx, deployNoRollback)
	if err != nil {
		return err
	}
	defer a.close()

	env := domain.Environment(deployEnvironment)
	mode := router.SelectSpecific
	specific := []string{deployDomain}
	if deployAll {
		mode = router.SelectAll
		specific = nil
	}
	domains, err := a.router.Select(mode, specific, env)
	if err != nil {
		return err
	}

	if !deployIgnoreBlocked {
		if err := checkNoneBlocked(ctx, a, domains, env); err != nil {
			return err
		}
	}

	if deployDryRun {
		fmt.Printf("dry run: would deploy %d domain(s) to %s in batches of %d: %v\n", len(domains), env, deployParallelism, domains)
		return nil
	}

	portfolio := a.orch.Deploy(ctx, domains, env, deployParallelism)

	writeAuditReports(portfolio)

	if deployReport != "" {
		data, err := json.MarshalIndent(portfolio, "", "  ")
		if err == nil {
			os.WriteFile(deployReport, data, 0644)
		}
	}

	printPortfolio(portfolio)

	if portfolio.Status != "success" {
		for _, r := range portfolio.Results {
			if r.PartialRollback {
				return errortypes.NewRollback("one or more domains only partially rolled back").WithDetail("results", portfolio.Results)
			}
		}
		return errortypes.NewInvariant("one or more domains failed to deploy").WithDetail("results", portfolio.Results)
	}
	return nil
}

// writeAuditReports persists one audit-reports/<deployment-id>.json summary
// per domain result. Write failures are logged to stderr but never fail a
// deployment that already completed.
func writeAuditReports(portfolio domain.PortfolioResult) {
	if err := os.MkdirAll("audit-reports", 0755); err != nil {
		fatalf("write audit reports: %v", err)
		return
	}
	for _, r := range portfolio.Results {
		if r.DeploymentID == "" {
			continue
		}
		data, err := json.MarshalIndent(r, "", "  ")
		if err != nil {
			continue
		}
		path := filepath.Join("audit-reports", r.DeploymentID+".json")
		if err := os.WriteFile(path, data, 0644); err != nil {
			fatalf("write audit report %s: %v", path, err)
		}
	}
}

// checkNoneBlocked runs the assessment pipeline for every candidate domain
// and fails fast if any reports a blocked capability gap.
func checkNoneBlocked(ctx context.Context, a *app, domains []string, env domain.Environment) error {
	bar := progressbar.NewOptions(len(domains),
		progressbar.OptionSetDescription("[cyan]checking capability gaps[reset]"),
		progressbar.OptionSetWidth(40),
		progressbar.OptionEnableColorCodes(true),
		progressbar.OptionSetTheme(progressbar.Theme{
			Saucer: "[green]=[reset]", SaucerHead: "[green]>[reset]", SaucerPadding: " ",
			BarStart: "[", BarEnd: "]",
		}),
	)

	for _, d := range domains {
		bar.Describe(fmt.Sprintf("[cyan]checking[reset] %s", d))
		result, err := a.assessEngine.Assess(ctx, servicePath(), assessment.Inputs{DomainName: d, Environment: env})
		if err != nil {
			return err
		}
		if len(result.GapAnalysis.Blocked) > 0 {
			return errortypes.NewValidation("domain has blocked capability gaps").
				WithDomain(d, "validate").WithDetail("blocked", result.GapAnalysis.Blocked)
		}
		bar.Add(1)
	}
	fmt.Println()
	return nil
}

func printPortfolio(portfolio domain.PortfolioResult) {
	status := portfolio.Status
	switch status {
	case "success":
		status = color.GreenString(status)
	case "partially-rolled-back":
		status = color.YellowString(status)
	default:
		status = color.RedString(status)
	}
	fmt.Printf("portfolio status: %s\n", status)

	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"Domain", "Environment", "Status", "Deployment", "Error"})
	table.SetBorder(false)
	table.SetHeaderLine(false)
	table.SetColumnSeparator(" ")
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)

	for _, r := range portfolio.Results {
		rowStatus := r.Status
		switch {
		case r.Status == "success":
			rowStatus = color.GreenString(rowStatus)
		case r.PartialRollback:
			rowStatus = color.YellowString(rowStatus)
		default:
			rowStatus = color.RedString(rowStatus)
		}
		table.Append([]string{r.Domain, string(r.Environment), rowStatus, r.DeploymentID, r.Error})
	}
	table.Render()
}
