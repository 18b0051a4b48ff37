/**
 * @description
 * Operator tool that reconciles one gateway payment on demand, for when a
 * webhook was lost and the merchant cannot wait for the next sweep.
 *
 * Usage:
 *   go run ./cmd/reconcile-payment <mercadopago|pagbank> <gateway-payment-id>
 *   go run ./cmd/reconcile-payment -yes mercadopago 1234567890
 *
 * @dependencies
 * - Environment variables: DATABASE_URL, MERCADOPAGO_ACCESS_TOKEN or PAGBANK_TOKEN, RABBITMQ_URL (optional)
 */
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/virtualmercado/shopdrive-sub004/internal/app"
	"github.com/virtualmercado/shopdrive-sub004/internal/config"
	"github.com/virtualmercado/shopdrive-sub004/internal/domain"
	"github.com/virtualmercado/shopdrive-sub004/internal/store"
	"github.com/virtualmercado/shopdrive-sub004/pkg/mercadopago"
	"github.com/virtualmercado/shopdrive-sub004/pkg/pagbank"
	"github.com/virtualmercado/shopdrive-sub004/pkg/rabbitmq"
)

var (
	lookupTimeout    = 30 * time.Second
	reconcileTimeout = 60 * time.Second
)

type paymentFinder interface {
	GetPaymentByGatewayID(ctx context.Context, provider, gatewayPaymentID string) (*domain.Payment, error)
}

type paymentReconciler interface {
	ReconcileGatewayPayment(ctx context.Context, provider, gatewayPaymentID string) (*app.ReconcileResult, error)
}

func main() {
	skipConfirm := flag.Bool("yes", false, "reconcile without asking for confirmation")
	flag.Parse()

	if flag.NArg() != 2 {
		fmt.Println("Usage: go run ./cmd/reconcile-payment [-yes] <mercadopago|pagbank> <gateway-payment-id>")
		fmt.Println("Example: go run ./cmd/reconcile-payment mercadopago 1234567890")
		os.Exit(1)
	}

	provider := strings.ToLower(strings.TrimSpace(flag.Arg(0)))
	gatewayPaymentID := strings.TrimSpace(flag.Arg(1))
	if provider != domain.ProviderMercadoPago && provider != domain.ProviderPagBank {
		log.Fatalf("unknown provider %q", provider)
	}

	_ = godotenv.Load("../.env")
	_ = godotenv.Load(".env")

	if err := execute(provider, gatewayPaymentID, *skipConfirm); err != nil {
		log.Printf("Reconciliation failed: %v", err)
		os.Exit(1)
	}
}

// execute wires the real dependencies; returning instead of exiting lets the
// deferred closes run.
func execute(provider, gatewayPaymentID string, skipConfirm bool) error {
	cfg, err := config.LoadConfig(".")
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	dbpool, err := pgxpool.New(context.Background(), cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("connect to database: %w", err)
	}
	defer dbpool.Close()

	var publisher rabbitmq.Publisher = &rabbitmq.EventProducerFallback{}
	if producer, err := rabbitmq.NewEventProducer(cfg.RabbitMQURL); err == nil {
		defer producer.Close()
		publisher = producer
	}

	repository := store.NewPostgresRepository(dbpool)
	service := app.NewService(
		repository,
		mercadopago.NewClient(cfg.MercadoPagoAPIBaseURL),
		pagbank.NewClient(cfg.PagBankAPIBaseURL),
		publisher,
		nil,
		slog.New(slog.NewTextHandler(os.Stderr, nil)),
		app.Options{
			Exchange:               cfg.BillingEventsExchange,
			MercadoPagoAccessToken: cfg.MercadoPagoAccessToken,
			PagBankToken:           cfg.PagBankToken,
		},
	)

	return run(provider, gatewayPaymentID, skipConfirm, repository, service, os.Stdin, os.Stdout)
}

// run shows the stored payment, waits for confirmation and reconciles it. The
// reconcile deadline starts only after the operator answers.
func run(provider, gatewayPaymentID string, skipConfirm bool, finder paymentFinder, reconciler paymentReconciler, in io.Reader, out io.Writer) error {
	lookupCtx, cancelLookup := context.WithTimeout(context.Background(), lookupTimeout)
	payment, err := finder.GetPaymentByGatewayID(lookupCtx, provider, gatewayPaymentID)
	cancelLookup()
	if err != nil {
		return fmt.Errorf("find payment %s/%s: %w", provider, gatewayPaymentID, err)
	}

	fmt.Fprintf(out, "Payment Details:\n")
	fmt.Fprintf(out, "  ID: %s\n", payment.ID)
	fmt.Fprintf(out, "  Subscription: %s\n", payment.SubscriptionID)
	fmt.Fprintf(out, "  Amount: %s\n", app.FormatBRL(payment.AmountCents))
	fmt.Fprintf(out, "  Status: %s\n", payment.Status)

	if !skipConfirm {
		fmt.Fprintf(out, "\nFetch the gateway status and apply it? (yes/no): ")
		var confirmation string
		fmt.Fscanln(in, &confirmation)
		if confirmation != "yes" {
			fmt.Fprintln(out, "Reconciliation cancelled.")
			return nil
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), reconcileTimeout)
	defer cancel()

	result, err := reconciler.ReconcileGatewayPayment(ctx, provider, gatewayPaymentID)
	if err != nil {
		return fmt.Errorf("reconcile payment: %w", err)
	}

	encoded, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return err
	}
	fmt.Fprintln(out, string(encoded))
	return nil
}
