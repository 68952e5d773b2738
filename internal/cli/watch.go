package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"dashboard/internal/dashclient"
	"dashboard/internal/domain"
	"dashboard/internal/poller"
)

func newWatchCommand(opts *options) *cobra.Command {
	watchCmd := &cobra.Command{Use: "watch", Short: "Poll a payment or subscription until it settles"}

	paymentCmd := &cobra.Command{
		Use:   "payment <payment-id>",
		Short: "Poll a payment every 5s until it is no longer awaiting payment",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			interval, _ := cmd.Flags().GetDuration("interval")
			ctx, cancel := context.WithTimeout(cmd.Context(), opts.timeout)
			defer cancel()
			_, err := watchPayment(ctx, opts.client(), args[0], interval, out(cmd), opts.logger())
			return err
		},
	}
	paymentCmd.Flags().Duration("interval", poller.PaymentInterval, "Polling interval")

	subscriptionCmd := &cobra.Command{
		Use:   "subscription <subscription-id>",
		Short: "Poll a subscription every 3s until it leaves PENDING",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			interval, _ := cmd.Flags().GetDuration("interval")
			ctx, cancel := context.WithTimeout(cmd.Context(), opts.timeout)
			defer cancel()
			_, err := watchSubscription(ctx, opts.client(), args[0], interval, out(cmd), opts.logger())
			return err
		},
	}
	subscriptionCmd.Flags().Duration("interval", poller.SubscriptionInterval, "Polling interval")

	watchCmd.AddCommand(paymentCmd, subscriptionCmd)
	return watchCmd
}

// watchPayment prints every status change and returns once the payment is no longer
// awaiting payment. Client errors (4xx) end the watch; anything else is retried.
func watchPayment(ctx context.Context, c *dashclient.Client, paymentID string, interval time.Duration, w io.Writer, logger *zap.Logger) (domain.PaymentStatus, error) {
	var last domain.PaymentStatus
	var fatal error

	p := poller.New(interval, func(ctx context.Context) (bool, error) {
		res, err := c.PaymentStatus(ctx, paymentID)
		if err != nil {
			if isClientError(err) {
				fatal = err
				return true, nil
			}
			return false, err
		}
		status := domain.NormalizePaymentStatus(res.Status)
		if status != last {
			fmt.Fprintf(w, "%s  payment %s  %s\n", time.Now().Format(time.TimeOnly), paymentID, status)
			if res.Notice != "" {
				fmt.Fprintln(w, res.Notice)
			}
			last = status
		}
		return status != "" && !status.AwaitingPayment(), nil
	}, logger.With(zap.String("payment_id", paymentID)))

	if err := p.Run(ctx); err != nil {
		return last, fmt.Errorf("stopped watching payment %s: %w", paymentID, err)
	}
	return last, fatal
}

func watchSubscription(ctx context.Context, c *dashclient.Client, subscriptionID string, interval time.Duration, w io.Writer, logger *zap.Logger) (domain.SubscriptionStatus, error) {
	var last domain.SubscriptionStatus
	var fatal error

	p := poller.New(interval, func(ctx context.Context) (bool, error) {
		res, err := c.SubscriptionStatus(ctx, subscriptionID)
		if err != nil {
			if isClientError(err) {
				fatal = err
				return true, nil
			}
			return false, err
		}
		status := domain.NormalizeSubscriptionStatus(res.Status)
		if status != last {
			fmt.Fprintf(w, "%s  subscription %s  %s\n", time.Now().Format(time.TimeOnly), subscriptionID, status)
			last = status
		}
		return status != "" && status != domain.SubscriptionStatusPending, nil
	}, logger.With(zap.String("subscription_id", subscriptionID)))

	if err := p.Run(ctx); err != nil {
		return last, fmt.Errorf("stopped watching subscription %s: %w", subscriptionID, err)
	}
	return last, fatal
}

func isClientError(err error) bool {
	var apiErr *dashclient.APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode >= http.StatusBadRequest && apiErr.StatusCode < http.StatusInternalServerError
}
