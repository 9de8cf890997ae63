package commands

import (
	"bufio"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

var (
	deleteForce bool
)

var deleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Delete a content definition",
	Long: `Delete a content definition and its view counters.

Examples:
  contentship delete home-hero
  contentship delete home-hero --env prod --force`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id := args[0]

		c, envName, err := newClient()
		if err != nil {
			return err
		}

		if !deleteForce && !quiet {
			fmt.Fprintf(cmd.OutOrStdout(), "Are you sure you want to delete '%s' from environment '%s'? (y/N): ", id, envName)
			response, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
			if err != nil {
				return fmt.Errorf("failed to read confirmation: %w", err)
			}
			response = strings.ToLower(strings.TrimSpace(response))
			if response != "y" && response != "yes" {
				fmt.Fprintln(cmd.OutOrStdout(), "Deletion cancelled")
				return nil
			}
		}

		if err := c.DeleteDefinition(cmd.Context(), id); err != nil {
			return fmt.Errorf("failed to delete definition: %w", err)
		}
		if !quiet {
			fmt.Fprintf(cmd.OutOrStdout(), "Deleted '%s' from environment '%s'\n", id, envName)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(deleteCmd)

	deleteCmd.Flags().BoolVar(&deleteForce, "force", false, "Skip confirmation prompt")
}
