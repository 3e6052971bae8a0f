package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Validates the configuration file",
		Long: `Loads the configuration, applies defaults, and runs the same
validation the crawl command uses. Exits non-zero on the first problem.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "configuration OK (server port %d, %d link workers, empty page streak %d)\n",
				cfg.Server.Port, cfg.Links.Concurrency, cfg.Links.EmptyPageStreak)
			return nil
		},
	}
}
