package cli

import (
	"fmt"

	"github.com/kasuganosora/engagebot/definitions"
	"github.com/kasuganosora/engagebot/game/reward"
	"github.com/kasuganosora/engagebot/game/vault"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// NewSeedCommand creates the seed command, which loads the combinations of
// the definitions file into the database and validates its missions.
func NewSeedCommand(rootOpts *RootOptions) *cobra.Command {
	var path string
	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Load combination definitions into the database",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := bootstrap(rootOpts.ConfigPath)
			if err != nil {
				return err
			}
			defer a.close()
			if path == "" {
				path = a.cfg.Engine.DefinitionsPath
			}

			defs, err := definitions.Load(path)
			if err != nil {
				return err
			}
			if _, err := defs.Catalog(); err != nil {
				return fmt.Errorf("definitions: %w", err)
			}
			v := vault.New(vault.NewGormStore(a.db), reward.NewWallet(a.db, nil, a.logger), a.logger.Named("vault"))
			added, err := defs.Seed(cmd.Context(), v)
			if err != nil {
				return err
			}
			a.logger.Info("definitions seeded",
				zap.String("path", path),
				zap.Int("combinations_added", added),
				zap.Int("missions", len(defs.Missions)))
			fmt.Fprintf(cmd.OutOrStdout(), "seeded %d combination(s), %d mission(s) valid\n", added, len(defs.Missions))
			return nil
		},
	}
	cmd.Flags().StringVar(&path, "definitions", "", "definitions file (defaults to engine.definitions_path)")
	return cmd
}
