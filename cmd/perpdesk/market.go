package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/gregtusar/perpdesk/pkg/models"
	"github.com/spf13/cobra"
)

func pairsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "pairs",
		Short: "Trading pairs, selection and favorites",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List pairs",
		Run: func(cmd *cobra.Command, args []string) {
			selected := desk.Market.Selected()
			for _, p := range desk.Market.Pairs() {
				marker := " "
				if p.Symbol == selected {
					marker = "*"
				}
				star := ""
				if desk.Market.IsFavorite(p.Symbol) {
					star = " (favorite)"
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s %-9s %12.2f %+6.2f%% %8s%s\n",
					marker, p.DisplayName, p.LastPrice, p.Change24hPercent, p.Volume24h, star)
			}
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "select SYMBOL",
		Short: "Select the active pair",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := desk.Simulator.Restore(); err != nil {
				return err
			}
			if err := desk.Market.SetSelectedSymbol(args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Selected %s\n", args[0])
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "favorite SYMBOL",
		Short: "Toggle a favorite",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			if desk.Market.ToggleFavorite(args[0]) {
				fmt.Fprintf(cmd.OutOrStdout(), "Added %s to favorites\n", args[0])
				return
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Removed %s from favorites\n", args[0])
		},
	})

	return cmd
}

func simulateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "simulate",
		Short: "The simulated position lane",
	}

	var (
		kind     string
		margin   float64
		leverage int
	)
	open := &cobra.Command{
		Use:   "open",
		Short: "Open a simulated position on the selected pair",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := desk.Simulator.Restore(); err != nil {
				return err
			}
			if desk.Session.CheckAndRefresh(cmd.Context()) {
				if err := desk.SyncBalance(cmd.Context()); err != nil {
					logger.WithError(err).Warn("Balance sync failed, using cached balance")
				}
			}
			if _, err := waitForPrice(cmd.Context(), desk.Market.Selected(), priceWait); err != nil {
				return err
			}
			pos, err := desk.OpenSimulated(models.PositionKind(kind), margin, leverage)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Position opened. Keep `perpdesk run` going to accrue and settle it.")
			return printJSON(cmd, pos)
		},
	}
	open.Flags().StringVar(&kind, "kind", string(models.StandardMode), "ai or high_margin")
	open.Flags().Float64Var(&margin, "margin", 0, "margin to commit")
	open.Flags().IntVar(&leverage, "leverage", 10, "leverage")
	cmd.AddCommand(open)

	cmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Show the simulated position",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := desk.Simulator.Restore(); err != nil {
				return err
			}
			if pos := desk.Simulator.Open(); pos != nil {
				if _, err := waitForPrice(cmd.Context(), pos.Symbol, priceWait); err != nil {
					logger.WithError(err).Warn("No live price, PnL not shown")
				}
			}
			return printJSON(cmd, desk.SimulationView())
		},
	})

	return cmd
}

func feedCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "feed",
		Short: "Stream live prices until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			unsubscribe := desk.Feed.Subscribe(func(symbol string, price float64) {
				desk.Market.RecordTick(symbol, price)
				fmt.Fprintf(out, "%-9s %.4f\n", symbol, price)
			})
			defer unsubscribe()

			if err := desk.Feed.Connect(cmd.Context()); err != nil {
				return err
			}

			sigChan := make(chan os.Signal, 1)
			signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
			<-sigChan
			return nil
		},
	}
}
