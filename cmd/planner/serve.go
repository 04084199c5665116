package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/weflora/planning-core/internal/api"
	"github.com/weflora/planning-core/internal/ingest"
	"github.com/weflora/planning-core/internal/rpc"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the HTTP API and the gRPC health service",
	Args:  cobra.NoArgs,
	RunE:  runServe,
}

// #region serve
func runServe(cmd *cobra.Command, _ []string) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	srv := api.New(a.pciv, a.engine,
		api.WithReadiness(a.readiness, a.cfg.Scope, a.agents.Skills()...),
		api.WithRunHistory(a.store),
		api.WithChunking(ingest.UploadChunks),
		api.WithLogger(a.logger))
	httpSrv := &http.Server{
		Addr:              a.cfg.HTTPAddr,
		Handler:           srv.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	health := rpc.NewServer(a.logger, rpc.ServiceEngine, rpc.ServicePCIV, rpc.ServiceReadiness)

	var lis net.Listener
	if a.cfg.GRPCAddr != "" {
		if lis, err = net.Listen("tcp", a.cfg.GRPCAddr); err != nil {
			return fmt.Errorf("listen %s: %w", a.cfg.GRPCAddr, err)
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		a.logger.Info("http listening", "addr", a.cfg.HTTPAddr, "db", a.cfg.DB)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http: %w", err)
		}
		return nil
	})
	if lis != nil {
		g.Go(func() error {
			a.logger.Info("grpc listening", "addr", a.cfg.GRPCAddr)
			return health.GRPC().Serve(lis)
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		a.logger.Info("shutting down")
		health.Stop()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpSrv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

// #endregion serve
