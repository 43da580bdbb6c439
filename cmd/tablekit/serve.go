package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/nexuscrm/tablekit/internal/application/services"
	"github.com/nexuscrm/tablekit/internal/infrastructure/lock"
	"github.com/nexuscrm/tablekit/internal/interfaces/middleware"
	"github.com/nexuscrm/tablekit/internal/interfaces/rest"
	"github.com/nexuscrm/tablekit/pkg/auth"
)

func NewServeCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		Long:  "Create missing tables, seed the system roles and serve the table API until interrupted.",
		Args:  cobra.NoArgs,
		RunE:  runServe,
	}
	cmd.Flags().StringSlice(adminFlag, nil, "user ids granted the admin role at startup")
	return cmd
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	adminUsers, err := cmd.Flags().GetStringSlice(adminFlag)
	if err != nil {
		return err
	}

	rt, err := openRuntime(ctx, cmd)
	if err != nil {
		return err
	}
	defer rt.Close()
	if err := rt.prepare(ctx, adminUsers); err != nil {
		return err
	}

	opts := services.Options{
		MaxTake:       rt.cfg.Engine.MaxTake,
		LockTTL:       rt.cfg.Locks.TTL,
		SweepSchedule: rt.cfg.Locks.SweepSchedule,
	}
	if rt.cfg.Locks.Backend == "redis" {
		client, err := lock.NewRedisClient(ctx, rt.cfg.Redis)
		if err != nil {
			return err
		}
		defer client.Close()
		opts.Locks = lock.NewRedisLock(client)
		rt.log.Info("edit locks held in redis", zap.String("addr", rt.cfg.Redis.Addr))
	}

	svc := services.NewServiceManager(rt.conn, rt.registry, rt.rules, rt.log, opts)
	if err := svc.StartBackground(); err != nil {
		return fmt.Errorf("failed to start background workers: %w", err)
	}
	defer svc.StopBackground()

	if rt.cfg.Log.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	issuer := auth.NewTokenIssuer(rt.cfg.Auth.JWTSecret, rt.cfg.Auth.TokenTTL)
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", rt.cfg.Server.Port),
		Handler:           rest.NewRouter(svc, middleware.NewBearerResolver(issuer), rt.log),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		rt.log.Info("listening", zap.String("addr", srv.Addr), zap.Strings("tables", rt.registry.Tables()))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("failed to start server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	rt.log.Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), rt.cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}
	rt.log.Info("server exited")
	return nil
}
