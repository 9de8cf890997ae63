package commands

import (
	"fmt"

	"github.com/TimurManjosov/contentship/internal/cli"
	"github.com/spf13/cobra"
)

var testCmd = &cobra.Command{
	Use:   "test <file>",
	Short: "Evaluate a condition set against a sample request",
	Long: `Send a condition set and an optional request context to the server and
report whether the conditions match.

The file holds "conditions", an optional "operator" (AND or OR) and an
optional "context" describing the visitor.

Example:
  contentship test preview.yaml`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		req, err := cli.LoadTestRequest(args[0])
		if err != nil {
			return err
		}

		c, _, err := newClient()
		if err != nil {
			return err
		}

		res, err := c.TestConditions(cmd.Context(), req)
		if err != nil {
			return fmt.Errorf("failed to test conditions: %w", err)
		}
		return cli.PrintTestResult(cmd.OutOrStdout(), res, outputFormat())
	},
}

func init() {
	rootCmd.AddCommand(testCmd)
}
