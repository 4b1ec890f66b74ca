package commands

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/sumanism/ECA2/internal/cli"
	"github.com/sumanism/ECA2/internal/client"
)

var (
	// Global flags
	baseURL string
	apiKey  string
	env     string
	format  string
	quiet   bool
	verbose bool
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "cdpctl",
	Short: "CLI tool for the customer data platform",
	Long: `cdpctl talks to the CDP API to inspect segments and run campaigns.

It can also evaluate a segment definition against a local user file
without a server.

Examples:
  cdpctl segments list --env prod
  cdpctl segments count 2f7c... --env prod
  cdpctl campaigns execute 9a41... --base-url http://localhost:8000
  cdpctl eval --rules vip.yaml --users users.json`,
	SilenceUsage: true,
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&baseURL, "base-url", "", "Base URL of the CDP API")
	rootCmd.PersistentFlags().StringVar(&apiKey, "api-key", "", "Admin API key for mutating commands")
	rootCmd.PersistentFlags().StringVar(&env, "env", "", "Environment from the config file (dev, prod)")
	rootCmd.PersistentFlags().StringVar(&format, "format", "table", "Output format (table, json, yaml)")
	rootCmd.PersistentFlags().BoolVar(&quiet, "quiet", false, "Suppress output")
	rootCmd.PersistentFlags().BoolVar(&verbose, "verbose", false, "Verbose output")
}

// newClient resolves connection settings and builds an API client.
func newClient(cmd *cobra.Command) (*client.Client, error) {
	envCfg, err := cli.GetEnvConfig(env, baseURL, apiKey)
	if err != nil {
		return nil, fmt.Errorf("configuration error: %w", err)
	}
	if verbose {
		fmt.Fprintf(cmd.ErrOrStderr(), "Using %s\n", envCfg.BaseURL)
	}
	return client.NewClient(envCfg.BaseURL, envCfg.APIKey), nil
}

// printer writes to the command's output, or discards it with --quiet.
func printer(cmd *cobra.Command) cli.Printer {
	out := cmd.OutOrStdout()
	if quiet {
		out = io.Discard
	}
	return cli.Printer{Out: out, Format: cli.OutputFormat(format)}
}
