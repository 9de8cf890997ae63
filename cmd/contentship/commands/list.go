package commands

import (
	"fmt"

	"github.com/TimurManjosov/contentship/internal/cli"
	"github.com/spf13/cobra"
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List content definitions",
	Long: `List every content definition on the server.

Examples:
  contentship list
  contentship list --format json > export.json`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		c, _, err := newClient()
		if err != nil {
			return err
		}

		defs, err := c.ListDefinitions(cmd.Context())
		if err != nil {
			return fmt.Errorf("failed to list definitions: %w", err)
		}
		if quiet {
			return nil
		}
		return cli.PrintDefinitions(cmd.OutOrStdout(), defs, outputFormat())
	},
}

var getCmd = &cobra.Command{
	Use:   "get <id>",
	Short: "Show one content definition",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, _, err := newClient()
		if err != nil {
			return err
		}

		d, err := c.GetDefinition(cmd.Context(), args[0])
		if err != nil {
			return fmt.Errorf("failed to get definition: %w", err)
		}
		return cli.PrintDefinition(cmd.OutOrStdout(), d, outputFormat())
	},
}

var viewsCmd = &cobra.Command{
	Use:   "views <id>",
	Short: "Show per-variant view counts",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, _, err := newClient()
		if err != nil {
			return err
		}

		views, err := c.Views(cmd.Context(), args[0])
		if err != nil {
			return fmt.Errorf("failed to get views: %w", err)
		}
		return cli.PrintViews(cmd.OutOrStdout(), args[0], views, outputFormat())
	},
}

func init() {
	rootCmd.AddCommand(listCmd, getCmd, viewsCmd)
}
