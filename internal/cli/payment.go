package cli

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"dashboard/internal/poller"
)

func newPayCommand(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "pay <amount>",
		Short: "Create a payment and print its QR details",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			amount, err := decimal.NewFromString(args[0])
			if err != nil {
				return fmt.Errorf("invalid amount %q: %w", args[0], err)
			}
			if !amount.IsPositive() {
				return errors.New("amount must be greater than zero")
			}
			description, _ := cmd.Flags().GetString("description")
			watch, _ := cmd.Flags().GetBool("watch")

			c := opts.client()
			raw, err := c.CreatePayment(cmd.Context(), amount, description)
			if err != nil {
				return err
			}
			if err := printJSON(out(cmd), raw); err != nil {
				return err
			}
			if !watch {
				return nil
			}

			paymentID, err := jsonField(raw, "paymentId")
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), opts.timeout)
			defer cancel()
			_, err = watchPayment(ctx, c, paymentID, poller.PaymentInterval, out(cmd), opts.logger())
			return err
		},
	}
	cmd.Flags().StringP("description", "d", "Dashboard payment", "Payment description")
	cmd.Flags().BoolP("watch", "w", false, "Poll the payment until it settles")
	return cmd
}

func newStatusCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "status <payment-id>",
		Short: "Show the status of a payment",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			res, err := opts.client().PaymentStatus(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(out(cmd), "%s\t%s\n", args[0], res.Status)
			if res.Notice != "" {
				fmt.Fprintln(out(cmd), res.Notice)
			}
			return nil
		},
	}
}

func newCancelCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "cancel <payment-id>",
		Short: "Cancel an unpaid payment",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			res, err := opts.client().CancelPayment(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(out(cmd), "Payment %s canceled.\n", args[0])
			return printJSON(out(cmd), res.Data)
		},
	}
}

func newRefundCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "refund <payment-id>",
		Short: "Refund a paid payment",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			res, err := opts.client().RefundPayment(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(out(cmd), "Payment %s refunded.\n", args[0])
			return printJSON(out(cmd), res.Data)
		},
	}
}
