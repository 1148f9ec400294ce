package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gregtusar/perpdesk/api"
	"github.com/spf13/cobra"
)

func runCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the desk with live prices, the simulated lane and the status server",
		Run:   runDesk,
	}
}

func runDesk(cmd *cobra.Command, args []string) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if !desk.Session.CheckAndRefresh(ctx) && cfg.Account.Email != "" {
		if err := desk.Login(ctx, cfg.Account.Email, cfg.Account.Password); err != nil {
			logger.WithError(err).Error("Login with configured account failed")
		}
	}

	if err := desk.Start(ctx); err != nil {
		logger.WithError(err).Fatal("Failed to start desk")
	}

	server := api.NewServer(desk, reg, logger, fmt.Sprintf("%d", cfg.Server.Port))
	go func() {
		if err := server.Start(); err != nil {
			logger.WithError(err).Fatal("Failed to start status server")
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	logger.Info("Desk is running. Press Ctrl+C to stop.")

	<-sigChan
	logger.Info("Received shutdown signal")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Warn("Status server shutdown failed")
	}
	desk.Stop()
	cancel()

	logger.Info("Desk stopped")
}
