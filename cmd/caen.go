package main

import (
	"fmt"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/opencrm-ro/firmdir/internal/caen"
)

var caenCmd = &cobra.Command{
	Use:   "caen",
	Short: "CAEN nomenclature operations",
}

var caenImportCmd = &cobra.Command{
	Use:   "import <file.csv>",
	Short: "Import a CAEN nomenclature CSV",
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

		res, runErr := env.Importer.Run(cmd.Context(), f, "text/csv")
		zap.L().Info("import finished",
			zap.String("run_id", res.RunID.String()),
			zap.Int("imported", res.Imported),
			zap.Int("skipped", res.Skipped),
			zap.Int("rejected", res.Rejected),
		)
		for _, msg := range res.Errors {
			fmt.Fprintln(os.Stderr, msg)
		}
		return runErr
	},
}

var caenExportFormat string

var caenExportCmd = &cobra.Command{
	Use:   "export <out-file>",
	Short: "Export the CAEN nomenclature to CSV or XLSX",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := initEnv(cmd.Context())
		if err != nil {
			return err
		}
		defer env.Close()

		out, err := os.Create(args[0])
		if err != nil {
			return eris.Wrapf(err, "create %s", args[0])
		}
		defer out.Close()

		switch caenExportFormat {
		case "xlsx":
			return caen.WriteXLSX(cmd.Context(), env.Pool, out)
		case "csv":
			return caen.WriteCSV(cmd.Context(), env.Pool, out)
		default:
			return eris.Errorf("unknown format %q (want csv or xlsx)", caenExportFormat)
		}
	},
}

var caenLookupSync bool

var caenLookupCmd = &cobra.Command{
	Use:   "lookup <code-or-prefix>",
	Short: "Look up CAEN codes from the local cache",
	Long:  "Serves lookups from the local SQLite snapshot. Use --sync to refresh the snapshot from Postgres first.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cache, err := caen.OpenCache(cfg.Cache.SQLitePath)
		if err != nil {
			return err
		}
		defer cache.Close()

		if caenLookupSync {
			env, err := initEnv(cmd.Context())
			if err != nil {
				return err
			}
			defer env.Close()

			n, err := cache.Sync(cmd.Context(), env.Pool)
			if err != nil {
				return err
			}
			zap.L().Info("cache refreshed", zap.Int("codes", n))
		}

		// A full code gets the exact entry with its NACE mapping; anything
		// shorter lists matching codes by prefix.
		if caen.ValidCode(args[0]) {
			rec, err := cache.Lookup(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if rec != nil {
				fmt.Printf("%-6s %s\n", rec.Code, rec.Description)
				if rec.NACE != "" {
					fmt.Printf("       NACE %s, diviziunea %s\n", rec.NACE, rec.Division)
				}
				return nil
			}
		}

		recs, err := cache.Search(cmd.Context(), args[0], 0)
		if err != nil {
			return err
		}
		if len(recs) == 0 {
			fmt.Println("no matching codes (try --sync to refresh the cache)")
			return nil
		}
		for _, r := range recs {
			fmt.Printf("%-6s %s\n", r.Code, r.Description)
		}
		return nil
	},
}

func init() {
	caenExportCmd.Flags().StringVar(&caenExportFormat, "format", "csv", "output format: csv or xlsx")
	caenLookupCmd.Flags().BoolVar(&caenLookupSync, "sync", false, "refresh the local cache from Postgres first")
	caenCmd.AddCommand(caenImportCmd, caenExportCmd, caenLookupCmd)
	rootCmd.AddCommand(caenCmd)
}
