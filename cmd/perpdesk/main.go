package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/gregtusar/perpdesk/internal/config"
	"github.com/gregtusar/perpdesk/internal/logging"
	"github.com/gregtusar/perpdesk/pkg/clock"
	"github.com/gregtusar/perpdesk/pkg/metrics"
	"github.com/gregtusar/perpdesk/pkg/storage"
	"github.com/gregtusar/perpdesk/pkg/trader"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var (
	cfgFile string

	cfg    *config.Config
	logger *logrus.Logger
	kv     storage.KV
	reg    *metrics.Registry
	desk   *trader.Desk
)

func main() {
	rootCmd := &cobra.Command{
		Use:               "perpdesk",
		Short:             "Perpetual futures trading desk",
		Long:              `Client for the perpetual futures platform: account, payments, positions, live prices and the simulated lane`,
		PersistentPreRunE: setup,
		PersistentPostRun: teardown,
		SilenceUsage:      true,
	}

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./config.yaml)")

	rootCmd.AddCommand(
		runCmd(),
		loginCmd(),
		registerCmd(),
		logoutCmd(),
		statusCmd(),
		meCmd(),
		balanceCmd(),
		cardCmd(),
		depositCmd(),
		withdrawCmd(),
		payCommissionCmd(),
		positionsCmd(),
		ordersCmd(),
		simulateCmd(),
		pairsCmd(),
		feedCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

func setup(cmd *cobra.Command, args []string) error {
	var err error
	cfg, err = config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	logger, err = logging.New(cfg.Logging)
	if err != nil {
		return err
	}

	kv, err = cfg.OpenStorage()
	if err != nil {
		return fmt.Errorf("failed to open storage: %w", err)
	}

	reg = metrics.New()
	desk = trader.New(cfg.DeskConfig(), kv, clock.Real(), logger, reg)
	return nil
}

func teardown(cmd *cobra.Command, args []string) {
	if desk != nil {
		desk.Stop()
	}
	if kv != nil {
		if err := kv.Close(); err != nil {
			logger.WithError(err).Warn("Failed to close storage")
		}
	}
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// requireSession makes sure a valid session exists, refreshing it when
// needed.
func requireSession(ctx context.Context) error {
	if desk.Session.CheckAndRefresh(ctx) {
		return nil
	}
	return trader.ErrNotAuthenticated
}

// waitForPrice connects the feed until a price for symbol arrives.
func waitForPrice(ctx context.Context, symbol string, timeout time.Duration) (float64, error) {
	got := make(chan float64, 1)
	unsubscribe := desk.Feed.Subscribe(func(s string, price float64) {
		desk.Market.RecordTick(s, price)
		if s == symbol {
			select {
			case got <- price:
			default:
			}
		}
	})
	defer unsubscribe()

	if err := desk.Feed.Connect(ctx); err != nil {
		return 0, err
	}

	select {
	case price := <-got:
		return price, nil
	case <-time.After(timeout):
		return 0, fmt.Errorf("no price for %s within %s", symbol, timeout)
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}
