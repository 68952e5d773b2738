package dashboard_http

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"dashboard/internal/app/ledger"
	"dashboard/internal/app/lifecycle"
	"dashboard/internal/domain"
)

const SessionHeader = "X-Session-ID"

type LifecycleService interface {
	CreatePayment(ctx context.Context, sessionID string, amount decimal.Decimal, description, callbackURL string) (*lifecycle.PaymentResult, error)
	CheckPaymentStatus(ctx context.Context, sessionID, paymentID string) (*lifecycle.PaymentResult, error)
	CancelPayment(ctx context.Context, sessionID, paymentID string) (*lifecycle.PaymentResult, error)
	RefundPayment(ctx context.Context, sessionID, paymentID string) (*lifecycle.PaymentResult, error)
	ApplyPaymentCallback(ctx context.Context, paymentID, status string) (*lifecycle.PaymentResult, error)
	CreateSubscription(ctx context.Context, sessionID string, req domain.SubscriptionRequest) (*domain.SubscriptionCreated, error)
	GetSubscription(ctx context.Context, sessionID, subscriptionID string) (*lifecycle.SubscriptionResult, error)
	CancelSubscription(ctx context.Context, sessionID, subscriptionID string) (*lifecycle.SubscriptionResult, error)
	CurrentSubscription(sessionID string) (*domain.Subscription, bool)
}

type SSOService interface {
	InitiateSSO(ctx context.Context, redirectionURL string) (json.RawMessage, error)
	GetSSOUserDetails(ctx context.Context, code string) (json.RawMessage, error)
}

type DashboardHandler struct {
	lifecycle LifecycleService
	sso       SSOService
	ledger    ledger.LedgerService
	logger    *zap.Logger
}

func NewDashboardHandler(lc LifecycleService, sso SSOService, ls ledger.LedgerService, l *zap.Logger) *DashboardHandler {
	return &DashboardHandler{lifecycle: lc, sso: sso, ledger: ls, logger: l}
}

type CreatePaymentRequest struct {
	Amount      decimal.Decimal `json:"amount"`
	Description string          `json:"description"`
	CallbackURL string          `json:"callbackUrl"`
}

type PaymentStatusResponse struct {
	PaymentID string               `json:"paymentId"`
	Status    domain.PaymentStatus `json:"status"`
	Notice    string               `json:"notice,omitempty"`
}

type ActionResponse struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data,omitempty"`
	Error   string          `json:"error,omitempty"`
}

type PaymentCallbackRequest struct {
	ID        string `json:"id"`
	PaymentID string `json:"paymentId"`
	Status    string `json:"status"`
}

type InitiateSSORequest struct {
	RedirectionURL string `json:"redirectionUrl"`
}

type SSOUserDetailsRequest struct {
	Code string `json:"code"`
}

type MessageResponse struct {
	Message string `json:"message"`
	ID      string `json:"id,omitempty"`
}

// sessionID identifies the dashboard client. It doubles as the ledger user id.
func sessionID(r *http.Request) string {
	if id := strings.TrimSpace(r.Header.Get(SessionHeader)); id != "" {
		return id
	}
	if id := strings.TrimSpace(r.URL.Query().Get("session")); id != "" {
		return id
	}
	return domain.DefaultUserID
}

func (h *DashboardHandler) CreatePaymentHandler(w http.ResponseWriter, r *http.Request) {
	var req CreatePaymentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.logger.Warn("Invalid request body for CreatePayment", zap.Error(err))
		renderJSONError(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	res, err := h.lifecycle.CreatePayment(r.Context(), sessionID(r), req.Amount, req.Description, req.CallbackURL)
	if err != nil {
		h.writeError(w, err, "create payment")
		return
	}
	if res.Upstream != nil {
		writeRawJSON(w, http.StatusOK, res.Upstream, h.logger)
		return
	}
	writeJSON(w, http.StatusOK, res.Payment, h.logger)
}

func (h *DashboardHandler) PaymentStatusHandler(w http.ResponseWriter, r *http.Request) {
	paymentID := chi.URLParam(r, "id")

	res, err := h.lifecycle.CheckPaymentStatus(r.Context(), sessionID(r), paymentID)
	if err != nil {
		h.writeError(w, err, "check payment status")
		return
	}
	if res.Upstream != nil {
		writeRawJSON(w, http.StatusOK, res.Upstream, h.logger)
		return
	}
	writeJSON(w, http.StatusOK, PaymentStatusResponse{PaymentID: paymentID, Status: res.Status, Notice: res.Notice}, h.logger)
}

func (h *DashboardHandler) CancelPaymentHandler(w http.ResponseWriter, r *http.Request) {
	res, err := h.lifecycle.CancelPayment(r.Context(), sessionID(r), chi.URLParam(r, "id"))
	h.writeAction(w, res, err, "cancel payment")
}

func (h *DashboardHandler) RefundPaymentHandler(w http.ResponseWriter, r *http.Request) {
	res, err := h.lifecycle.RefundPayment(r.Context(), sessionID(r), chi.URLParam(r, "id"))
	h.writeAction(w, res, err, "refund payment")
}

func (h *DashboardHandler) writeAction(w http.ResponseWriter, res *lifecycle.PaymentResult, err error, op string) {
	if err != nil {
		status, message := h.classify(err, op)
		writeJSON(w, status, ActionResponse{Success: false, Error: message}, h.logger)
		return
	}
	data := res.Upstream
	if len(data) == 0 {
		encoded, encErr := json.Marshal(res.Payment)
		if encErr != nil {
			h.logger.Error("Failed to encode payment", zap.Error(encErr))
		}
		data = encoded
	}
	writeJSON(w, http.StatusOK, ActionResponse{Success: true, Data: data}, h.logger)
}

// PaymentCallbackHandler receives status pushes from the gateway. Unknown payments are
// acknowledged so the gateway does not keep retrying.
func (h *DashboardHandler) PaymentCallbackHandler(w http.ResponseWriter, r *http.Request) {
	var req PaymentCallbackRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		renderJSONError(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	paymentID := req.ID
	if paymentID == "" {
		paymentID = req.PaymentID
	}
	if paymentID == "" {
		renderJSONError(w, "Payment id is required", http.StatusBadRequest)
		return
	}

	_, err := h.lifecycle.ApplyPaymentCallback(r.Context(), paymentID, req.Status)
	var vErr *domain.ValidationError
	switch {
	case errors.As(err, &vErr):
		renderJSONError(w, vErr.Error(), http.StatusBadRequest)
		return
	case errors.Is(err, domain.ErrNoActivePayment):
		h.logger.Warn("Callback for untracked payment", zap.String("payment_id", paymentID), zap.String("status", req.Status))
	case err != nil:
		h.writeError(w, err, "apply payment callback")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *DashboardHandler) InitiateSSOHandler(w http.ResponseWriter, r *http.Request) {
	var req InitiateSSORequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		renderJSONError(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	body, err := h.sso.InitiateSSO(r.Context(), req.RedirectionURL)
	if err != nil {
		h.writeError(w, err, "initiate sso")
		return
	}
	writeRawJSON(w, http.StatusOK, body, h.logger)
}

func (h *DashboardHandler) SSOUserDetailsHandler(w http.ResponseWriter, r *http.Request) {
	var req SSOUserDetailsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		renderJSONError(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if strings.TrimSpace(req.Code) == "" {
		renderJSONError(w, "Authorization code is required", http.StatusBadRequest)
		return
	}

	body, err := h.sso.GetSSOUserDetails(r.Context(), req.Code)
	if err != nil {
		h.writeError(w, err, "get sso user details")
		return
	}
	writeRawJSON(w, http.StatusOK, body, h.logger)
}

func (h *DashboardHandler) SSOCallbackHandler(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	if errParam := q.Get("error"); errParam != "" {
		h.logger.Warn("SSO authorization failed", zap.String("error", errParam), zap.String("state", q.Get("state")))
		w.WriteHeader(http.StatusOK)
		io.WriteString(w, "SSO authorization failed: "+errParam)
		return
	}
	h.logger.Info("SSO callback received", zap.Bool("has_code", q.Get("code") != ""), zap.String("state", q.Get("state")))
	w.WriteHeader(http.StatusOK)
	io.WriteString(w, "SSO authorization received. You can close this window and return to the dashboard.")
}

func (h *DashboardHandler) CreateSubscriptionHandler(w http.ResponseWriter, r *http.Request) {
	var req domain.SubscriptionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		renderJSONError(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	created, err := h.lifecycle.CreateSubscription(r.Context(), sessionID(r), req)
	if err != nil {
		h.writeError(w, err, "create subscription")
		return
	}
	writeJSON(w, http.StatusOK, created, h.logger)
}

func (h *DashboardHandler) CurrentSubscriptionHandler(w http.ResponseWriter, r *http.Request) {
	sub, ok := h.lifecycle.CurrentSubscription(sessionID(r))
	if !ok {
		renderJSONError(w, domain.ErrNoActiveSubscription.Error(), http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, sub, h.logger)
}

func (h *DashboardHandler) GetSubscriptionHandler(w http.ResponseWriter, r *http.Request) {
	res, err := h.lifecycle.GetSubscription(r.Context(), sessionID(r), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, err, "get subscription")
		return
	}
	if res.Upstream != nil {
		writeRawJSON(w, http.StatusOK, res.Upstream, h.logger)
		return
	}
	writeJSON(w, http.StatusOK, res.Subscription, h.logger)
}

func (h *DashboardHandler) CancelSubscriptionHandler(w http.ResponseWriter, r *http.Request) {
	res, err := h.lifecycle.CancelSubscription(r.Context(), sessionID(r), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, err, "cancel subscription")
		return
	}
	if len(res.Upstream) > 0 {
		writeRawJSON(w, http.StatusOK, res.Upstream, h.logger)
		return
	}
	writeJSON(w, http.StatusOK, res.Subscription, h.logger)
}

func (h *DashboardHandler) ListTransactionsHandler(w http.ResponseWriter, r *http.Request) {
	filter, err := parseFilter(r)
	if err != nil {
		renderJSONError(w, err.Error(), http.StatusBadRequest)
		return
	}
	writeJSON(w, http.StatusOK, h.ledger.Query(r.Context(), filter), h.logger)
}

func (h *DashboardHandler) LogTransactionHandler(w http.ResponseWriter, r *http.Request) {
	var rec domain.TransactionRecord
	if err := json.NewDecoder(r.Body).Decode(&rec); err != nil {
		h.logger.Warn("Invalid request body for LogTransaction", zap.Error(err))
		renderJSONError(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	stored := h.ledger.Append(r.Context(), rec)
	writeJSON(w, http.StatusOK, MessageResponse{Message: "Transaction logged successfully", ID: stored.ID}, h.logger)
}

// parseFilter reads type, status, from, to, search, sort and order. Dates are RFC 3339 or
// YYYY-MM-DD; a bare "to" date covers the whole day.
func parseFilter(r *http.Request) (ledger.Filter, error) {
	q := r.URL.Query()
	f := ledger.Filter{
		Type:   domain.TransactionType(q.Get("type")),
		Status: q.Get("status"),
		Search: q.Get("search"),
		SortBy: strings.ToLower(q.Get("sort")),
		Order:  strings.ToLower(q.Get("order")),
	}
	if f.Type == "all" {
		f.Type = ""
	}
	if strings.EqualFold(f.Status, "all") {
		f.Status = ""
	}
	switch f.SortBy {
	case "", ledger.SortByDate, ledger.SortByAmount:
	default:
		return f, errors.New("sort must be date or amount")
	}
	switch f.Order {
	case "", ledger.OrderAsc, ledger.OrderDesc:
	default:
		return f, errors.New("order must be asc or desc")
	}

	if v := q.Get("from"); v != "" {
		t, _, err := parseDate(v)
		if err != nil {
			return f, errors.New("invalid from date")
		}
		f.From = t
	}
	if v := q.Get("to"); v != "" {
		t, dateOnly, err := parseDate(v)
		if err != nil {
			return f, errors.New("invalid to date")
		}
		if dateOnly {
			t = t.Add(24*time.Hour - time.Nanosecond)
		}
		f.To = t
	}
	return f, nil
}

func parseDate(v string) (time.Time, bool, error) {
	if t, err := time.Parse(time.RFC3339, v); err == nil {
		return t, false, nil
	}
	t, err := time.Parse(time.DateOnly, v)
	return t, true, err
}

// classify maps an error onto an HTTP status and a message safe to show the caller.
func (h *DashboardHandler) classify(err error, op string) (int, string) {
	var vErr *domain.ValidationError
	var gwErr *domain.GatewayError
	switch {
	case errors.As(err, &vErr):
		return http.StatusBadRequest, vErr.Error()
	case errors.Is(err, domain.ErrPaymentInFlight),
		errors.Is(err, domain.ErrSubscriptionInFlight),
		errors.Is(err, domain.ErrInvalidTransition):
		h.logger.Info("Rejected lifecycle action", zap.String("op", op), zap.Error(err))
		return http.StatusConflict, err.Error()
	case errors.Is(err, domain.ErrNoActivePayment), errors.Is(err, domain.ErrNoActiveSubscription):
		return http.StatusNotFound, err.Error()
	case errors.As(err, &gwErr):
		h.logger.Error("Gateway call failed",
			zap.String("op", op),
			zap.Int("upstream_status", gwErr.StatusCode),
			zap.ByteString("upstream_body", gwErr.Body),
			zap.Error(gwErr.Err),
		)
		return http.StatusInternalServerError, "Failed to " + op
	default:
		h.logger.Error("Request failed", zap.String("op", op), zap.Error(err))
		return http.StatusInternalServerError, "Internal server error"
	}
}

func (h *DashboardHandler) writeError(w http.ResponseWriter, err error, op string) {
	status, message := h.classify(err, op)
	renderJSONError(w, message, status)
}

func writeJSON(w http.ResponseWriter, status int, v any, logger *zap.Logger) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Error("Failed to write JSON response", zap.Error(err))
	}
}

func writeRawJSON(w http.ResponseWriter, status int, body json.RawMessage, logger *zap.Logger) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if _, err := w.Write(body); err != nil {
		logger.Error("Failed to write JSON response", zap.Error(err))
	}
}

func renderJSONError(w http.ResponseWriter, message string, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(struct {
		Error string `json:"error"`
		Code  int    `json:"code"`
	}{Error: message, Code: statusCode})
}
