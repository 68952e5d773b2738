package dashboard_http

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"dashboard/internal/app/ledger"
)

type RouterConfig struct {
	AllowedOrigins []string
	RequestTimeout time.Duration
}

func NewRouter(cfg RouterConfig, lc LifecycleService, sso SSOService, ls ledger.LedgerService, l *zap.Logger) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	if cfg.RequestTimeout > 0 {
		r.Use(middleware.Timeout(cfg.RequestTimeout))
	}

	origins := cfg.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", SessionHeader},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	RegisterRoutes(r, lc, sso, ls, l)
	return r
}

func RegisterRoutes(r chi.Router, lc LifecycleService, sso SSOService, ls ledger.LedgerService, l *zap.Logger) {
	handler := NewDashboardHandler(lc, sso, ls, l.With(zap.String("component", "DashboardHTTPHandler")))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("Dashboard service is healthy!"))
	})

	r.Route("/api", func(r chi.Router) {
		r.Route("/payment", func(r chi.Router) {
			r.Post("/", handler.CreatePaymentHandler)
			r.Post("/callback", handler.PaymentCallbackHandler)
			r.Get("/{id}/status", handler.PaymentStatusHandler)
			r.Post("/{id}/cancel", handler.CancelPaymentHandler)
			r.Post("/{id}/refund", handler.RefundPaymentHandler)
		})

		r.Route("/sso", func(r chi.Router) {
			r.Post("/initiate", handler.InitiateSSOHandler)
			r.Post("/user-details", handler.SSOUserDetailsHandler)
			r.Get("/callback", handler.SSOCallbackHandler)
		})

		r.Route("/subscription", func(r chi.Router) {
			r.Post("/create", handler.CreateSubscriptionHandler)
			r.Get("/current", handler.CurrentSubscriptionHandler)
			r.Get("/{id}", handler.GetSubscriptionHandler)
			r.Post("/{id}/cancel", handler.CancelSubscriptionHandler)
		})

		r.Route("/transactions", func(r chi.Router) {
			r.Get("/", handler.ListTransactionsHandler)
			r.Post("/", handler.LogTransactionHandler)
		})
	})
}
