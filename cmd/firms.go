package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/opencrm-ro/firmdir/internal/firm"
)

var firmsCmd = &cobra.Command{
	Use:   "firms",
	Short: "Firm directory operations",
}

var firmsLoadReplace bool

var firmsLoadCmd = &cobra.Command{
	Use:   "load <file.csv>",
	Short: "Load a firm directory CSV",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := initEnv(cmd.Context())
		if err != nil {
			return err
		}
		defer env.Close()

		f, err := os.Open(args[0])
		if err != nil {
			return eris.Wrapf(err, "open %s", args[0])
		}
		defer f.Close()

		res, err := firm.NewLoader(env.Firms).Load(cmd.Context(), f, firmsLoadReplace)
		if err != nil {
			return err
		}
		total, err := env.Firms.Count(cmd.Context())
		if err != nil {
			return err
		}
		zap.L().Info("load finished",
			zap.Int("read", res.Read),
			zap.Int64("written", res.Written),
			zap.Int("rejected", res.Rejected),
			zap.Int64("directory_total", total),
		)
		return nil
	},
}

var firmsGetCmd = &cobra.Command{
	Use:   "get <cui>",
	Short: "Show one firm with its activity history",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := initEnv(cmd.Context())
		if err != nil {
			return err
		}
		defer env.Close()

		view, err := env.Queries.Get(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		out, err := json.MarshalIndent(view, "", "  ")
		if err != nil {
			return eris.Wrap(err, "encode firm view")
		}
		fmt.Println(string(out))
		return nil
	},
}

var searchLimit int

var searchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Fuzzy-search firms by name or exact CUI",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := initEnv(cmd.Context())
		if err != nil {
			return err
		}
		defer env.Close()

		if err := env.Index.Probe(cmd.Context()); err != nil {
			zap.L().Warn("search index probe failed", zap.Error(err))
		}
		matches, err := env.Index.Search(cmd.Context(), args[0], searchLimit)
		if err != nil {
			return err
		}
		for _, m := range matches {
			fmt.Printf("%-12s %5.2f  %s\n", m.CUI, m.Similarity, m.Name)
		}
		return nil
	},
}

func init() {
	firmsLoadCmd.Flags().BoolVar(&firmsLoadReplace, "replace", false, "truncate and reload instead of upserting")
	searchCmd.Flags().IntVar(&searchLimit, "limit", 0, "max results (default from config)")
	firmsCmd.AddCommand(firmsLoadCmd, firmsGetCmd)
	rootCmd.AddCommand(firmsCmd, searchCmd)
}
