package commands

import (
	"errors"
	"fmt"

	"github.com/TimurManjosov/contentship/internal/cli"
	"github.com/spf13/cobra"
)

var (
	applyDryRun          bool
	applyContinueOnError bool
)

var applyCmd = &cobra.Command{
	Use:   "apply <file>",
	Short: "Create or replace definitions from a file",
	Long: `Create or replace content definitions from a YAML or JSON file.

The file may hold one definition, a list of definitions, or the output of
"contentship list --format json".

Examples:
  contentship apply hero.yaml
  contentship apply export.json --env staging --continue-on-error
  contentship apply hero.yaml --dry-run`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		defs, err := cli.LoadDefinitions(args[0])
		if err != nil {
			return err
		}
		if len(defs) == 0 {
			return errors.New("no definitions found in file")
		}

		out := cmd.OutOrStdout()
		if applyDryRun {
			for _, d := range defs {
				fmt.Fprintf(out, "would apply %s (%d variants)\n", d.ID, len(d.Variants))
			}
			return nil
		}

		c, envName, err := newClient()
		if err != nil {
			return err
		}

		var failed int
		for _, d := range defs {
			saved, err := c.PutDefinition(cmd.Context(), d)
			if err != nil {
				if !applyContinueOnError {
					return fmt.Errorf("failed to apply %s: %w", d.ID, err)
				}
				failed++
				fmt.Fprintf(cmd.ErrOrStderr(), "failed to apply %s: %v\n", d.ID, err)
				continue
			}
			if !quiet {
				fmt.Fprintf(out, "applied %s to %s\n", saved.ID, envName)
			}
		}
		if failed > 0 {
			return fmt.Errorf("%d of %d definitions failed", failed, len(defs))
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(applyCmd)

	applyCmd.Flags().BoolVar(&applyDryRun, "dry-run", false, "Parse the file and list what would be applied")
	applyCmd.Flags().BoolVar(&applyContinueOnError, "continue-on-error", false, "Keep going after a failed definition")
}
