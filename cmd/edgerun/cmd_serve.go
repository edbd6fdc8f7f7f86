package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/sawpanic/edgerun/internal/metrics"
	"github.com/sawpanic/edgerun/internal/server"
)

func (a *app) serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve health, metrics and the live runtime policy decision",
		Long: `Starts the read-only ops server:
  /healthz            liveness
  /metrics            Prometheus metrics
  /policy/runtime     runtime policy evaluated on each request
  /governance/latest  newest governance run (ledger when enabled, else report file)`,
		RunE: func(cmd *cobra.Command, args []string) error {
			fs := cmd.Flags()
			overrideString(fs, "addr", &a.cfg.Server.Addr)
			overrideString(fs, "governance-dir", &a.cfg.Governance.OutDir)
			if err := a.cfg.Validate(); err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			store, closeStore, err := a.openStore(ctx)
			if err != nil {
				return err
			}
			defer closeStore()

			src := server.Sources{
				Store:             store,
				ProvisionalSource: a.cfg.Paths.ProvisionalState,
				GovernanceDir:     a.cfg.Governance.OutDir,
				Runtime:           a.cfg.Runtime,
				Metrics:           metrics.New(),
				Now:               a.now,
			}
			repo, err := a.openLedger(ctx)
			if err != nil {
				return err
			}
			if repo != nil {
				defer repo.Close()
				src.Ledger = repo
			}

			srv := server.New(a.cfg.Server, src)
			errCh := make(chan error, 1)
			go func() { errCh <- srv.Start() }()

			select {
			case err := <-errCh:
				return err
			case <-ctx.Done():
			}
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	}
	cmd.Flags().String("addr", "", "Listen address (overrides server.addr)")
	cmd.Flags().String("governance-dir", "", "Directory holding governance reports")
	return cmd
}
