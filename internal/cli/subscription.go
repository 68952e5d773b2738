package cli

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"dashboard/internal/domain"
	"dashboard/internal/poller"
)

func newSubscribeCommand(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "subscribe",
		Short: "Create a subscription; empty plan fields take the dashboard defaults",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			req, err := subscriptionRequestFromFlags(cmd)
			if err != nil {
				return err
			}
			watch, _ := cmd.Flags().GetBool("watch")

			c := opts.client()
			created, err := c.CreateSubscription(cmd.Context(), req)
			if err != nil {
				return err
			}
			fmt.Fprintf(out(cmd), "Subscription %s created (%s).\n", created.ID, created.Status)
			if created.ReadableCode != "" {
				fmt.Fprintf(out(cmd), "Code: %s\n", created.ReadableCode)
			}
			if created.AppLink != "" {
				fmt.Fprintf(out(cmd), "App link: %s\n", created.AppLink)
			}
			if created.ValidUntil != "" {
				fmt.Fprintf(out(cmd), "Valid until: %s\n", created.ValidUntil)
			}
			if !watch {
				return nil
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), opts.timeout)
			defer cancel()
			_, err = watchSubscription(ctx, c, created.ID, poller.SubscriptionInterval, out(cmd), opts.logger())
			return err
		},
	}
	cmd.Flags().String("title", "", "Plan title")
	cmd.Flags().String("description", "", "Plan description")
	cmd.Flags().String("amount", "", "Plan amount")
	cmd.Flags().String("currency", "", "Plan currency")
	cmd.Flags().String("interval", "", "Billing interval, ISO 8601 (P1M)")
	cmd.Flags().String("trial", "", "Trial period, ISO 8601 (P7D)")
	cmd.Flags().String("expires-in", "", "How long the QR code stays valid, ISO 8601")
	cmd.Flags().String("user", "", "User id recorded in the ledger")
	cmd.Flags().BoolP("watch", "w", false, "Poll the subscription until it leaves PENDING")
	return cmd
}

func subscriptionRequestFromFlags(cmd *cobra.Command) (domain.SubscriptionRequest, error) {
	var req domain.SubscriptionRequest
	req.Title, _ = cmd.Flags().GetString("title")
	req.Description, _ = cmd.Flags().GetString("description")
	req.Currency, _ = cmd.Flags().GetString("currency")
	req.Interval, _ = cmd.Flags().GetString("interval")
	req.ExpiresIn, _ = cmd.Flags().GetString("expires-in")
	req.UserID, _ = cmd.Flags().GetString("user")

	if amount, _ := cmd.Flags().GetString("amount"); amount != "" {
		d, err := decimal.NewFromString(amount)
		if err != nil {
			return req, fmt.Errorf("invalid amount %q: %w", amount, err)
		}
		req.Amount = d
	}
	if trial, _ := cmd.Flags().GetString("trial"); trial != "" {
		req.TrialPeriod = &trial
	}
	return req, nil
}

func newSubscriptionCommand(opts *options) *cobra.Command {
	subCmd := &cobra.Command{Use: "subscription", Short: "Inspect or cancel subscriptions"}

	subCmd.AddCommand(
		&cobra.Command{
			Use:   "current",
			Short: "Show the session's active subscription",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				sub, err := opts.client().CurrentSubscription(cmd.Context())
				if err != nil {
					return err
				}
				fmt.Fprintf(out(cmd), "%s\t%s\t%s %s\t%s\n", sub.ID, sub.Title, sub.Amount, sub.Currency, sub.Status)
				return nil
			},
		},
		&cobra.Command{
			Use:   "show <subscription-id>",
			Short: "Show the status of a subscription",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				res, err := opts.client().SubscriptionStatus(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				return printJSON(out(cmd), res.Raw)
			},
		},
		&cobra.Command{
			Use:   "cancel <subscription-id>",
			Short: "Cancel a subscription",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				raw, err := opts.client().CancelSubscription(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				fmt.Fprintf(out(cmd), "Subscription %s canceled.\n", args[0])
				return printJSON(out(cmd), raw)
			},
		},
	)
	return subCmd
}
