package main

import (
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var activitiesCmd = &cobra.Command{
	Use:   "activities",
	Short: "Activity ledger operations",
}

var activitiesImportCmd = &cobra.Command{
	Use:   "import <cui> <file.csv>",
	Short: "Import activities for one firm from CSV",
	Long:  "Routes every row through the idempotent ledger, so re-importing the same file reports duplicates instead of creating new records.",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := initEnv(cmd.Context())
		if err != nil {
			return err
		}
		defer env.Close()

		f, err := os.Open(args[1])
		if err != nil {
			return eris.Wrapf(err, "open %s", args[1])
		}
		defer f.Close()

		stats, err := env.Ledger.ImportCSV(cmd.Context(), args[0], f, cfg.Import.MaxErrors)
		if err != nil {
			return err
		}
		zap.L().Info("activities imported",
			zap.String("cui", args[0]),
			zap.Int("created", stats.Created),
			zap.Int("duplicates", stats.Duplicates),
			zap.Int("rejected", stats.Rejected),
		)
		return nil
	},
}

func init() {
	activitiesCmd.AddCommand(activitiesImportCmd)
	rootCmd.AddCommand(activitiesCmd)
}
