package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/gregtusar/perpdesk/pkg/models"
	"github.com/spf13/cobra"
)

func openReceipt(path string) (*models.Receipt, func(), error) {
	if path == "" {
		return nil, func() {}, nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, fmt.Errorf("open %s: %w", path, err)
	}
	return &models.Receipt{FileName: filepath.Base(path), Reader: f}, func() { f.Close() }, nil
}

func depositCmd() *cobra.Command {
	var (
		amount   float64
		card     string
		provider string
		receipt  string
	)
	cmd := &cobra.Command{
		Use:   "deposit",
		Short: "Submit a deposit with its payment receipt",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := requireSession(cmd.Context()); err != nil {
				return err
			}
			r, closeFn, err := openReceipt(receipt)
			if err != nil {
				return err
			}
			defer closeFn()

			res, err := desk.API.Deposit(cmd.Context(), models.DepositRequest{
				Amount:     amount,
				CardNumber: card,
				Provider:   provider,
				Receipt:    r,
			})
			if err != nil {
				return err
			}
			return printJSON(cmd, res)
		},
	}
	cmd.Flags().Float64Var(&amount, "amount", 0, "deposit amount")
	cmd.Flags().StringVar(&card, "card", "", "card number the payment was made to")
	cmd.Flags().StringVar(&provider, "provider", "", "payment provider")
	cmd.Flags().StringVar(&receipt, "receipt", "", "receipt file")
	return cmd
}

func withdrawCmd() *cobra.Command {
	var req models.WithdrawRequest
	cmd := &cobra.Command{
		Use:   "withdraw",
		Short: "Request a withdrawal; the commission is paid afterwards",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := requireSession(cmd.Context()); err != nil {
				return err
			}
			if err := desk.SyncBalance(cmd.Context()); err != nil {
				return err
			}
			pending, commission, err := desk.RequestWithdraw(cmd.Context(), req)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Withdrawal of %.2f pending. Commission due: %.2f (run pay-commission)\n",
				pending.Amount, commission)
			return nil
		},
	}
	cmd.Flags().Float64Var(&req.Amount, "amount", 0, "amount to withdraw")
	cmd.Flags().StringVar(&req.CardNumber, "card", "", "destination card number")
	cmd.Flags().StringVar(&req.FullName, "name", "", "card holder full name")
	return cmd
}

func payCommissionCmd() *cobra.Command {
	var invoice string
	cmd := &cobra.Command{
		Use:   "pay-commission",
		Short: "Pay the commission on the pending withdrawal",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := requireSession(cmd.Context()); err != nil {
				return err
			}
			r, closeFn, err := openReceipt(invoice)
			if err != nil {
				return err
			}
			defer closeFn()

			res, err := desk.PayCommission(cmd.Context(), r)
			if err != nil {
				return err
			}
			return printJSON(cmd, res)
		},
	}
	cmd.Flags().StringVar(&invoice, "invoice", "", "payment invoice file (optional)")
	return cmd
}
