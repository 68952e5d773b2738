package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/url"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"dashboard/internal/domain"
	kafka_handler "dashboard/internal/handler/kafka"
	kafka_infra "dashboard/internal/infrastructure/kafka"
)

func newTransactionsCommand(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "transactions",
		Aliases: []string{"txns"},
		Short:   "List ledger transactions",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			query := url.Values{}
			for _, name := range []string{"type", "status", "from", "to", "search", "sort", "order"} {
				if v, _ := cmd.Flags().GetString(name); v != "" {
					query.Set(name, v)
				}
			}
			asJSON, _ := cmd.Flags().GetBool("json")

			recs, err := opts.client().Transactions(cmd.Context(), query)
			if err != nil {
				return err
			}
			if asJSON {
				enc := json.NewEncoder(out(cmd))
				enc.SetIndent("", "  ")
				return enc.Encode(recs)
			}
			return printTransactions(out(cmd), recs)
		},
	}
	cmd.Flags().String("type", "", "payment, payment_refund or subscription")
	cmd.Flags().String("status", "", "Status, case-insensitive")
	cmd.Flags().String("from", "", "Earliest date, RFC 3339 or YYYY-MM-DD")
	cmd.Flags().String("to", "", "Latest date, RFC 3339 or YYYY-MM-DD")
	cmd.Flags().String("search", "", "Match plan/item or id")
	cmd.Flags().String("sort", "", "date or amount")
	cmd.Flags().String("order", "", "asc or desc")
	cmd.Flags().Bool("json", false, "Print JSON")

	cmd.AddCommand(newTransactionsTailCommand(opts))
	return cmd
}

func newTransactionsTailCommand(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Follow ledger events on Kafka",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			brokers, _ := cmd.Flags().GetString("brokers")
			topic, _ := cmd.Flags().GetString("topic")
			group, _ := cmd.Flags().GetString("group")
			fromBeginning, _ := cmd.Flags().GetBool("from-beginning")
			if strings.TrimSpace(brokers) == "" {
				return fmt.Errorf("--brokers or KAFKA_BROKER_URL is required")
			}

			startOffset := kafka.LastOffset
			if fromBeginning {
				startOffset = kafka.FirstOffset
			}
			l := opts.logger()
			w := out(cmd)
			handler := kafka_handler.TransactionLoggedMessageHandler(func(_ context.Context, ev domain.TransactionLoggedEvent) error {
				_, err := fmt.Fprintf(w, "%s  %s  %s  %s  %s %s  %s\n",
					ev.Timestamp.Local().Format(time.DateTime), ev.TransactionID, ev.Type, ev.PlanOrItem, ev.Amount, ev.Currency, ev.Status)
				return err
			}, l.With(zap.String("component", "TransactionTail")))

			consumer := kafka_infra.NewConsumer(kafka_infra.ConsumerConfig{
				Brokers:     strings.Split(brokers, ","),
				Topic:       topic,
				GroupID:     group,
				StartOffset: startOffset,
			}, handler, l.With(zap.String("component", "KafkaConsumer")))
			defer consumer.Close()

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return consumer.Consume(ctx)
		},
	}
	cmd.Flags().String("brokers", envOr("KAFKA_BROKER_URL", ""), "Comma-separated Kafka brokers")
	cmd.Flags().String("topic", envOr("KAFKA_TRANSACTIONS_TOPIC", "ledger_transactions"), "Ledger events topic")
	cmd.Flags().String("group", "", "Consumer group; empty reads without committing offsets")
	cmd.Flags().Bool("from-beginning", false, "Replay the topic from the first offset")
	return cmd
}

func printTransactions(w io.Writer, recs []domain.TransactionRecord) error {
	if len(recs) == 0 {
		fmt.Fprintln(w, "No transactions found.")
		return nil
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "DATE\tID\tTYPE\tITEM\tAMOUNT\tSTATUS\tUSER")
	for _, r := range recs {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s %s\t%s\t%s\n",
			r.Date.Local().Format(time.DateTime), r.ID, r.Type, r.PlanOrItem, r.Amount, r.Currency, r.Status, r.UserID)
	}
	return tw.Flush()
}
