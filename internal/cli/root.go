// Package cli contains the dashctl Cobra commands.
package cli

import (
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"dashboard/internal/dashclient"
	"dashboard/internal/logger"
)

type options struct {
	baseURL string
	session string
	timeout time.Duration
	verbose bool
}

func (o *options) client() *dashclient.Client {
	return dashclient.New(o.baseURL, o.session, nil)
}

func (o *options) logger() *zap.Logger {
	level := "warn"
	if o.verbose {
		level = "debug"
	}
	l, err := logger.New(level, "console")
	if err != nil {
		return zap.NewNop()
	}
	return l
}

// NewRoot builds the dashctl command tree. DASHBOARD_URL and DASHBOARD_SESSION supply
// flag defaults.
func NewRoot(version string) *cobra.Command {
	opts := &options{}

	root := &cobra.Command{
		Use:           "dashctl",
		Short:         "Command line client for the merchant dashboard",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&opts.baseURL, "url", envOr("DASHBOARD_URL", dashclient.DefaultBaseURL), "Dashboard base URL")
	root.PersistentFlags().StringVar(&opts.session, "session", envOr("DASHBOARD_SESSION", ""), "Session id sent as X-Session-ID")
	root.PersistentFlags().DurationVar(&opts.timeout, "timeout", 10*time.Minute, "Give up watching after this long")
	root.PersistentFlags().BoolVarP(&opts.verbose, "verbose", "v", false, "Enable debug logging")

	root.AddCommand(
		newPayCommand(opts),
		newStatusCommand(opts),
		newCancelCommand(opts),
		newRefundCommand(opts),
		newWatchCommand(opts),
		newSSOCommand(opts),
		newSubscribeCommand(opts),
		newSubscriptionCommand(opts),
		newTransactionsCommand(opts),
	)
	return root
}

func envOr(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

func out(cmd *cobra.Command) io.Writer { return cmd.OutOrStdout() }
