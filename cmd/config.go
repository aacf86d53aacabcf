package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ollama/gpt2tok/envconfig"
)

// ConfigHandler prints a commented sample config.toml, or with --paths the
// locations searched for one.
func ConfigHandler(cmd *cobra.Command, _ []string) error {
	paths, err := cmd.Flags().GetBool("paths")
	if err != nil {
		return err
	}

	if !paths {
		_, err := fmt.Fprint(cmd.OutOrStdout(), envconfig.ExampleConfig())
		return err
	}

	_, loaded, err := envconfig.ReadConfigFile()
	if err != nil {
		return err
	}

	for _, path := range envconfig.ConfigPaths() {
		if path == loaded {
			fmt.Fprintf(cmd.OutOrStdout(), "%s (loaded)\n", path)
			continue
		}

		fmt.Fprintln(cmd.OutOrStdout(), path)
	}

	return nil
}
