package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/clodoworks/orchestrator/internal/assessment"
	"github.com/clodoworks/orchestrator/internal/domain"
	"github.com/clodoworks/orchestrator/internal/errortypes"
	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	assessJSON         bool
	assessVerbose      bool
	assessReport       string
	assessForceRefresh bool
	assessDomain       string
	assessServiceType  string
	assessEnvironment  string
	assessStrict       bool
)

var assessCmd = &cobra.Command{
	Use:   "assess",
	Short: "Assess a service's deployment readiness across required capabilities",
	Long: `assess runs the capability assessment pipeline against the service at
--service-path: discover its wrangler config and package manifest, verify
the supplied API token's scope, merge user-declared inputs over discovery,
build the capability manifest for its service type and environment, and
report which required capabilities are missing, partially configured, or
blocked entirely.`,
	RunE: runAssess,
}

func init() {
	rootCmd.AddCommand(assessCmd)

	assessCmd.Flags().BoolVar(&assessJSON, "json", false, "emit the full assessment as JSON")
	assessCmd.Flags().BoolVar(&assessVerbose, "verbose", false, "include discovered and merged inputs in text output")
	assessCmd.Flags().StringVar(&assessReport, "report", "", "write the JSON assessment to this file in addition to stdout")
	assessCmd.Flags().BoolVar(&assessForceRefresh, "force-refresh", false, "bypass the cached assessment even if still fresh")
	assessCmd.Flags().StringVar(&assessDomain, "domain", "", "domain name to check ownership for")
	assessCmd.Flags().StringVar(&assessServiceType, "service-type", "", "declare the service type instead of inferring it")
	assessCmd.Flags().StringVar(&assessEnvironment, "environment", defaultEnvironment(), "target environment")
	assessCmd.Flags().BoolVar(&assessStrict, "strict", false, "fail with a validation error when any capability gap is blocked")
}

func runAssess(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	a, err := newApp(ctx, false)
	if err != nil {
		return err
	}
	defer a.close()

	result, err := a.assessEngine.Assess(ctx, servicePath(), assessment.Inputs{
		ServiceType:  assessServiceType,
		DomainName:   assessDomain,
		Environment:  domain.Environment(assessEnvironment),
		APIToken:     viper.GetString("api-token"),
		ForceRefresh: assessForceRefresh,
	})
	if err != nil {
		return err
	}

	if assessReport != "" {
		data, err := json.MarshalIndent(result, "", "  ")
		if err != nil {
			return err
		}
		if err := os.WriteFile(assessReport, data, 0644); err != nil {
			return err
		}
	}

	if assessJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(result); err != nil {
			return err
		}
	} else {
		printAssessment(result)
	}

	if assessStrict && len(result.GapAnalysis.Blocked) > 0 {
		return errortypes.NewValidation("assessment found blocked capability gaps").
			WithDetail("blocked", result.GapAnalysis.Blocked)
	}
	return nil
}

func printAssessment(result domain.CapabilityAssessment) {
	fmt.Printf("service type: %s  environment: %s  confidence: %d%%\n",
		result.Manifest.ServiceType, result.Manifest.Environment, result.Confidence)

	if assessVerbose {
		fmt.Println("discovered:", result.Discovered)
		fmt.Println("merged inputs:", result.MergedInputs)
	}

	if len(result.GapAnalysis.Blocked) > 0 {
		fmt.Printf("%s (%d): %v\n", color.RedString("blocked"), len(result.GapAnalysis.Blocked), result.GapAnalysis.Blocked)
	}
	if len(result.GapAnalysis.Missing) > 0 {
		fmt.Printf("%s (%d): %v\n", color.YellowString("missing"), len(result.GapAnalysis.Missing), result.GapAnalysis.Missing)
	}
	if len(result.GapAnalysis.PartiallyConfig) > 0 {
		fmt.Printf("%s (%d): %v\n", color.CyanString("partially configured"), len(result.GapAnalysis.PartiallyConfig), result.GapAnalysis.PartiallyConfig)
	}

	for _, rec := range result.Recommendations {
		fmt.Printf("  [%s] %s: %s\n", color.YellowString(string(rec.Priority)), rec.Capability, rec.Description)
	}
}
