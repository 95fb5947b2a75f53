package main

import (
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var indexCmd = &cobra.Command{
	Use:   "index",
	Short: "Search index maintenance",
}

var indexRebuildCmd = &cobra.Command{
	Use:   "rebuild",
	Short: "Rebuild the name search index online",
	Long:  "Recomputes stale name projections and builds the trigram index concurrently. Search keeps serving throughout.",
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := initEnv(cmd.Context())
		if err != nil {
			return err
		}
		defer env.Close()

		if err := env.Index.Rebuild(cmd.Context()); err != nil {
			return err
		}
		zap.L().Info("index rebuilt")
		return nil
	},
}

var indexAnalyzeCmd = &cobra.Command{
	Use:   "analyze",
	Short: "Refresh planner statistics for the firms table",
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := initEnv(cmd.Context())
		if err != nil {
			return err
		}
		defer env.Close()

		env.Index.Analyze(cmd.Context())
		return nil
	},
}

func init() {
	indexCmd.AddCommand(indexRebuildCmd, indexAnalyzeCmd)
	rootCmd.AddCommand(indexCmd)
}
