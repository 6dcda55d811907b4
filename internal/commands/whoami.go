package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newWhoamiCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Show who sessions are recorded for",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.loadConfig(cmd)
			if err != nil {
				return err
			}
			user, err := newResolver(cfg).Resolve(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "ID: %s\n", user.ID)
			if user.Name != "" {
				fmt.Fprintf(cmd.OutOrStdout(), "Name: %s\n", user.Name)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Identity provider: %s\n", cfg.Identity.Provider)
			return nil
		},
	}
}
