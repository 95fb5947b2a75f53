package main

import (
	"context"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/opencrm-ro/firmdir/internal/httpapi"
)

var (
	servePort     int
	serveMaintain time.Duration
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the directory HTTP API",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		// Detect whether a previous rebuild left a usable trigram index.
		if err := env.Index.Probe(ctx); err != nil {
			zap.L().Warn("search index probe failed, serving fallback search", zap.Error(err))
		}
		if serveMaintain > 0 {
			go env.Index.Maintain(ctx, serveMaintain)
		}

		server := httpapi.NewServer(env.Pool, env.Queries, env.Ledger, env.Index, env.Importer,
			httpapi.Config{
				AllowedOrigins: cfg.Server.AllowedOrigins,
				MaxBodySize:    cfg.Import.MaxBodySize,
				ImportsPerMin:  cfg.Import.PerMin,
			})

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}

		srv := &http.Server{
			Addr:    fmt.Sprintf(":%d", port),
			Handler: server.Router(),
		}

		go func() {
			<-ctx.Done()
			zap.L().Info("shutting down server")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			srv.Shutdown(shutdownCtx)
		}()

		zap.L().Info("starting server", zap.Int("port", port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return eris.Wrap(err, "server listen")
		}

		return nil
	},
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	serveCmd.Flags().DurationVar(&serveMaintain, "maintain-every", 0, "periodic stats refresh interval (0 = off)")
	rootCmd.AddCommand(serveCmd)
}
