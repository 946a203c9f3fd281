// Command orchestrate deploys, assesses, and rolls back edge-worker
// services across a multi-domain portfolio: capability assessment,
// parallel per-domain deployment with synchronous rollback on failure,
// post-deploy health probing, and audit-log inspection, all from one CLI.
package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "orchestrate",
	Short: "Multi-domain edge-worker deployment orchestrator",
	Long: `orchestrate assesses, deploys, and rolls back edge-worker services
across a portfolio of domains and environments on top of a Workers-style
platform (Workers + D1 + KV/R2 bindings).

Exit codes:
  0  success
  1  generic failure
  2  validation failed, or deploy --ignore-blocked not set with blocked gaps
  3  cancelled by user
  4  rate-limit exhausted
  5  rollback partially recovered`,
	Version:       "1.0.0",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default .orchestrate.yaml in cwd or $HOME)")
	rootCmd.PersistentFlags().Bool("verbose", false, "enable verbose logging")
	rootCmd.PersistentFlags().String("log-level", "info", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().String("account-id", "", "platform account id (or ORCHESTRATE_ACCOUNT_ID)")
	rootCmd.PersistentFlags().String("api-token", "", "platform API token (or ORCHESTRATE_API_TOKEN)")
	rootCmd.PersistentFlags().String("api-base-url", "", "platform API base URL override")
	rootCmd.PersistentFlags().String("state-db", "", "path to the state/audit SQLite database")
	rootCmd.PersistentFlags().String("domains-config", "", "path to the domain portfolio JSON config")
	rootCmd.PersistentFlags().String("service-path", "", "path to the worker service being operated on")
	rootCmd.PersistentFlags().String("secrets-dir", "", "directory holding the encrypted local secret store")
	rootCmd.PersistentFlags().String("platform-cli", "", "platform CLI binary invoked for D1 operations (default wrangler)")
	rootCmd.PersistentFlags().Bool("non-interactive", false, "refuse any confirmation prompt instead of asking")

	for _, name := range []string{
		"verbose", "log-level", "account-id", "api-token", "api-base-url",
		"state-db", "domains-config", "service-path", "secrets-dir", "platform-cli", "non-interactive",
	} {
		viper.BindPFlag(name, rootCmd.PersistentFlags().Lookup(name))
	}
}

func initConfig() {
	viper.SetEnvPrefix("orchestrate")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		if err == nil {
			viper.AddConfigPath(home)
		}
		viper.AddConfigPath(".")
		viper.SetConfigType("yaml")
		viper.SetConfigName(".orchestrate")
	}

	err := viper.ReadInConfig()
	if err != nil && cfgFile == "" {
		// Portfolio defaults may also live in a clodo-config.json at the
		// repository root instead of the .orchestrate.yaml search path.
		if _, statErr := os.Stat("clodo-config.json"); statErr == nil {
			viper.SetConfigFile("clodo-config.json")
			err = viper.ReadInConfig()
		}
	}
	if err == nil && viper.GetBool("verbose") {
		fmt.Fprintln(os.Stderr, "using config file:", viper.ConfigFileUsed())
	}

	if viper.GetBool("verbose") || viper.GetString("log-level") == "debug" {
		os.Setenv("VERBOSE", "1")
	}
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(exitCodeForError(err))
	}
}
