package cli

import (
	"github.com/spf13/cobra"
)

// NewMigrateCommand creates the migrate command. bootstrap already migrates,
// so the command only opens the database and exits.
func NewMigrateCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the database schema",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := bootstrap(rootOpts.ConfigPath)
			if err != nil {
				return err
			}
			defer a.close()
			a.logger.Info("migration completed")
			return nil
		},
	}
}
