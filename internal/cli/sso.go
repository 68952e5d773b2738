package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"dashboard/internal/dashclient"
	"dashboard/internal/poller"
)

func newSSOCommand(opts *options) *cobra.Command {
	ssoCmd := &cobra.Command{Use: "sso", Short: "Sign in with the FIB app"}

	loginCmd := &cobra.Command{
		Use:   "login",
		Short: "Start an SSO session and wait until the user approves it",
		RunE: func(cmd *cobra.Command, _ []string) error {
			redirect, _ := cmd.Flags().GetString("redirect-url")
			interval, _ := cmd.Flags().GetDuration("interval")

			c := opts.client()
			session, err := c.InitiateSSO(cmd.Context(), redirect)
			if err != nil {
				return err
			}
			if session.Code() == "" {
				return errors.New("sso session has no authorization code")
			}
			fmt.Fprintf(out(cmd), "Scan the QR code with the FIB app (code %s).\n", session.Code())
			if session.QRCode != "" {
				fmt.Fprintf(out(cmd), "QR: %s\n", session.QRCode)
			}

			ctx, cancel := ssoContext(cmd.Context(), session.ValidUntil, opts.timeout)
			defer cancel()
			user, err := waitForSSOUser(ctx, c, session.Code(), interval, opts.logger())
			if errors.Is(err, context.DeadlineExceeded) {
				return errors.New("sso session expired before it was approved, start again")
			}
			if err != nil {
				return err
			}
			fmt.Fprintln(out(cmd), "Authorization successful.")
			return printJSON(out(cmd), user)
		},
	}
	loginCmd.Flags().String("redirect-url", "", "Redirection URL passed to the gateway")
	loginCmd.Flags().Duration("interval", poller.SSOInterval, "Polling interval")

	ssoCmd.AddCommand(loginCmd)
	return ssoCmd
}

// ssoContext bounds polling by the session's validUntil when the gateway supplies one.
func ssoContext(parent context.Context, validUntil string, fallback time.Duration) (context.Context, context.CancelFunc) {
	if t, err := time.Parse(time.RFC3339, validUntil); err == nil {
		return context.WithDeadline(parent, t)
	}
	return context.WithTimeout(parent, fallback)
}

// waitForSSOUser polls the user details endpoint until it answers with a user id.
func waitForSSOUser(ctx context.Context, c *dashclient.Client, code string, interval time.Duration, logger *zap.Logger) (json.RawMessage, error) {
	var user json.RawMessage

	p := poller.New(interval, func(ctx context.Context) (bool, error) {
		raw, err := c.SSOUserDetails(ctx, code)
		if err != nil {
			return false, err
		}
		var details struct {
			UserID string `json:"userId"`
		}
		if err := json.Unmarshal(raw, &details); err != nil || details.UserID == "" {
			return false, nil
		}
		user = raw
		return true, nil
	}, logger)

	if err := p.Run(ctx); err != nil {
		return nil, err
	}
	return user, nil
}
