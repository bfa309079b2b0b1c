package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/Wikid82/keyroom/internal/api/routes"
	"github.com/Wikid82/keyroom/internal/config"
	"github.com/Wikid82/keyroom/internal/database"
	"github.com/Wikid82/keyroom/internal/logger"
	"github.com/Wikid82/keyroom/internal/metrics"
	"github.com/Wikid82/keyroom/internal/models"
	"github.com/Wikid82/keyroom/internal/server"
	"github.com/Wikid82/keyroom/internal/services"
	"github.com/Wikid82/keyroom/internal/version"
)

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "keyroom",
		Short:        "Key custody desk: who holds which key, and since when",
		Version:      version.Full(),
		SilenceUsage: true,
	}
	serve := newServeCmd()
	root.AddCommand(serve, newResetPasswordCmd())
	// Running the binary without a subcommand starts the server.
	root.RunE = serve.RunE
	return root
}

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and background maintenance jobs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			closer := setupLogging(cfg)
			defer closer.Close()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cfg)
		},
	}
}

func serve(ctx context.Context, cfg config.Config) error {
	log := logger.Log()
	log.WithField("version", version.Full()).Infof("starting %s", version.Name)

	db, err := database.Connect(cfg.DatabasePath)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics.Register(registry)

	var notifier services.Notifier
	var notifications *services.NotificationService
	if len(cfg.NotifyURLs) > 0 {
		notifications = services.NewNotificationService(cfg.NotifyURLs)
		notifier = notifications
	}

	svc := routes.NewServices(db, cfg, notifier)
	if err := bootstrapOperators(svc.Auth, cfg); err != nil {
		return err
	}

	// Bring the cached availability flags and the gauge in line with the
	// ledger before serving.
	repaired, err := svc.Custody.Reconcile()
	if err != nil {
		return fmt.Errorf("initial reconcile: %w", err)
	}
	if repaired > 0 {
		log.WithField("repaired", repaired).Warn("cached key availability disagreed with the ledger")
	}

	scheduler, err := services.NewScheduler(svc.Custody, svc.Auth, cfg.ReconcileSchedule)
	if err != nil {
		return err
	}
	srv := server.New(svc, cfg, registry)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return srv.Run(gctx) })
	g.Go(func() error { return scheduler.Run(gctx) })
	err = g.Wait()

	if notifications != nil {
		notifications.Wait()
	}
	log.Info("shutdown complete")
	return err
}

// bootstrapOperators creates the configured admin and desk operators if they
// do not exist yet. An unset password skips that account.
func bootstrapOperators(auth *services.AuthService, cfg config.Config) error {
	accounts := []struct {
		username, password, role string
	}{
		{cfg.AdminUsername, cfg.AdminPassword, models.RoleAdmin},
		{cfg.OperatorUsername, cfg.OperatorPassword, models.RoleUser},
	}
	for _, a := range accounts {
		if a.password == "" {
			continue
		}
		_, created, err := auth.EnsureOperator(a.username, a.password, a.role)
		if err != nil {
			return fmt.Errorf("bootstrap operator %q: %w", a.username, err)
		}
		if created {
			logger.Log().WithFields(map[string]interface{}{"operator": a.username, "role": a.role}).Info("bootstrap operator created")
		}
	}
	return nil
}

func newResetPasswordCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reset-password <username> <new-password>",
		Short: "Set an operator's password and re-enable the account",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			db, err := database.Connect(cfg.DatabasePath)
			if err != nil {
				return fmt.Errorf("connect database: %w", err)
			}

			auth := services.NewAuthService(db, cfg)
			if err := auth.ResetPassword(args[0], args[1]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Password updated successfully for operator %s\n", args[0])
			return nil
		},
	}
}
