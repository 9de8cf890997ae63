package commands

import (
	"fmt"
	"time"

	"github.com/TimurManjosov/contentship/internal/cli"
	"github.com/TimurManjosov/contentship/internal/client"
	"github.com/spf13/cobra"
)

var (
	// Global flags
	baseURL string
	apiKey  string
	env     string
	format  string
	timeout time.Duration
	quiet   bool
)

var rootCmd = &cobra.Command{
	Use:   "contentship",
	Short: "CLI tool for managing dynamic content",
	Long: `contentship manages conditional content definitions on a contentship server.

Examples:
  contentship list
  contentship get home-hero --format yaml
  contentship apply hero.yaml --env staging
  contentship test preview.yaml
  contentship views home-hero`,
	SilenceUsage: true,
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&baseURL, "base-url", "", "Base URL of the contentship API")
	rootCmd.PersistentFlags().StringVar(&apiKey, "api-key", "", "Admin API key")
	rootCmd.PersistentFlags().StringVar(&env, "env", "", "Environment name from the config file")
	rootCmd.PersistentFlags().StringVar(&format, "format", "table", "Output format (table, json, yaml)")
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", 30*time.Second, "Request timeout")
	rootCmd.PersistentFlags().BoolVar(&quiet, "quiet", false, "Suppress output")
}

// newClient resolves the environment and builds an API client for it.
func newClient() (*client.Client, string, error) {
	envCfg, envName, err := cli.GetEnvConfig(env, baseURL, apiKey)
	if err != nil {
		return nil, "", fmt.Errorf("configuration error: %w", err)
	}
	c := client.NewClient(envCfg.BaseURL, envCfg.APIKey)
	c.HTTPClient.Timeout = timeout
	return c, envName, nil
}

func outputFormat() cli.OutputFormat {
	return cli.OutputFormat(format)
}
