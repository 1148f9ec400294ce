package main

import (
	"fmt"
	"strconv"
	"time"

	"github.com/gregtusar/perpdesk/pkg/market"
	"github.com/gregtusar/perpdesk/pkg/models"
	"github.com/spf13/cobra"
)

const priceWait = 15 * time.Second

func parseID(arg string) (int64, error) {
	id, err := strconv.ParseInt(arg, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid id %q", arg)
	}
	return id, nil
}

func parseSide(s string) (models.PositionSide, error) {
	side, ok := models.ParseSide(s)
	if !ok {
		return 0, fmt.Errorf("side must be long or short, got %q", s)
	}
	return side, nil
}

func positionsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "positions",
		Short: "Remote positions",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if err := setup(cmd, args); err != nil {
				return err
			}
			return requireSession(cmd.Context())
		},
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "active",
		Short: "List active positions",
		RunE: func(cmd *cobra.Command, args []string) error {
			positions, err := desk.API.ActivePositions(cmd.Context())
			if err != nil {
				return err
			}
			return printJSON(cmd, positions)
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "get ID",
		Short: "Show one position",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			pos, err := desk.API.Position(cmd.Context(), id)
			if err != nil {
				return err
			}
			return printJSON(cmd, pos)
		},
	})

	var page, pageSize int
	history := &cobra.Command{
		Use:   "history",
		Short: "List closed positions",
		RunE: func(cmd *cobra.Command, args []string) error {
			positions, err := desk.API.HistoryPositions(cmd.Context(), page, pageSize)
			if err != nil {
				return err
			}
			return printJSON(cmd, positions)
		},
	}
	history.Flags().IntVar(&page, "page", 1, "page number")
	history.Flags().IntVar(&pageSize, "page-size", 20, "page size")
	cmd.AddCommand(history)

	var (
		side       string
		amount     float64
		leverage   int
		limitPrice float64
	)
	open := &cobra.Command{
		Use:   "open",
		Short: "Open a position on the selected pair at the live price",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := parseSide(side)
			if err != nil {
				return err
			}
			if _, err := waitForPrice(cmd.Context(), desk.Market.Selected(), priceWait); err != nil {
				return err
			}

			desk.Market.SetAmount(amount)
			desk.Market.SetLeverage(leverage)
			if limitPrice > 0 {
				desk.Market.SetOrderType(models.OrderTypeLimit)
				desk.Market.SetLimitPrice(limitPrice)
			}

			res, err := desk.PlaceOrder(cmd.Context(), s)
			if err != nil {
				return err
			}
			return printJSON(cmd, res)
		},
	}
	open.Flags().StringVar(&side, "side", "long", "long or short")
	open.Flags().Float64Var(&amount, "amount", 0, "position amount")
	open.Flags().IntVar(&leverage, "leverage", market.DefaultLeverage, market.LeverageUsage())
	open.Flags().Float64Var(&limitPrice, "limit-price", 0, "place a limit order at this price instead")
	cmd.AddCommand(open)

	cmd.AddCommand(&cobra.Command{
		Use:   "close ID",
		Short: "Close a position at the live price",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			desk.RefreshRemote(cmd.Context())
			symbol := desk.Market.Selected()
			for _, p := range desk.ActivePositions() {
				if p.ID == id {
					symbol = p.Symbol
				}
			}
			if _, err := waitForPrice(cmd.Context(), symbol, priceWait); err != nil {
				return err
			}
			pos, err := desk.ClosePosition(cmd.Context(), id)
			if err != nil {
				return err
			}
			return printJSON(cmd, pos)
		},
	})

	return cmd
}

func ordersCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "orders",
		Short: "Limit orders",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if err := setup(cmd, args); err != nil {
				return err
			}
			return requireSession(cmd.Context())
		},
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List open limit orders",
		RunE: func(cmd *cobra.Command, args []string) error {
			orders, err := desk.API.LimitOrders(cmd.Context())
			if err != nil {
				return err
			}
			return printJSON(cmd, orders)
		},
	})

	var (
		symbol   string
		side     string
		price    float64
		amount   float64
		leverage int
	)
	open := &cobra.Command{
		Use:   "open",
		Short: "Place a limit order",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := parseSide(side)
			if err != nil {
				return err
			}
			if symbol == "" {
				symbol = desk.Market.Selected()
			}
			margin := 0.0
			if leverage > 0 {
				margin = amount / float64(leverage)
			}
			order, err := desk.API.OpenLimitOrder(cmd.Context(), models.LimitOrderRequest{
				Symbol:     symbol,
				Type:       s,
				Side:       s,
				LimitPrice: price,
				Amount:     amount,
				Margin:     margin,
				Leverage:   leverage,
			})
			if err != nil {
				return err
			}
			return printJSON(cmd, order)
		},
	}
	open.Flags().StringVar(&symbol, "symbol", "", "pair symbol (default selected pair)")
	open.Flags().StringVar(&side, "side", "long", "long or short")
	open.Flags().Float64Var(&price, "price", 0, "limit price")
	open.Flags().Float64Var(&amount, "amount", 0, "order amount")
	open.Flags().IntVar(&leverage, "leverage", market.DefaultLeverage, market.LeverageUsage())
	cmd.AddCommand(open)

	cmd.AddCommand(&cobra.Command{
		Use:   "cancel ID",
		Short: "Cancel a limit order",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			if err := desk.API.CancelLimitOrder(cmd.Context(), id); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Cancelled order %d\n", id)
			return nil
		},
	})

	return cmd
}
