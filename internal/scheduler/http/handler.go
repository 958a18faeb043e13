package schedulerhttp

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/odyssey-erp/odyssey-leasing/internal/invoices"
	"github.com/odyssey-erp/odyssey-leasing/internal/leases"
	"github.com/odyssey-erp/odyssey-leasing/internal/notifications"
	"github.com/odyssey-erp/odyssey-leasing/internal/platform/httpx"
	"github.com/odyssey-erp/odyssey-leasing/internal/scheduler"
	"github.com/odyssey-erp/odyssey-leasing/internal/shared"
)

// Runner is the scheduler surface exposed to operators.
type Runner interface {
	RunNotificationSweepNow(ctx context.Context) (notifications.SweepSummary, error)
	RunLeaseSweepNow(ctx context.Context) (leases.SweepSummary, error)
	RunInvoiceGenerationNow(ctx context.Context, month, year int) (invoices.GenerationResult, error)
	Status() scheduler.Status
}

// ChargeConfirmer settles invoices from provider charge status.
type ChargeConfirmer interface {
	ConfirmCharge(ctx context.Context, providerChargeID string) (invoices.ConfirmResult, error)
}

// NotificationLister reads a user's notification feed.
type NotificationLister interface {
	ListForRecipient(ctx context.Context, recipient uuid.UUID, limit int) ([]notifications.Notification, error)
}

// Handler serves the operator endpoints.
type Handler struct {
	runner   Runner
	charges  ChargeConfirmer
	feed     NotificationLister
	token    string
	logger   *slog.Logger
	validate *validator.Validate
}

// NewHandler builds the handler. charges may be nil when the gateway is disabled.
func NewHandler(runner Runner, charges ChargeConfirmer, token string, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{runner: runner, charges: charges, token: token, logger: logger, validate: validator.New()}
}

// WithNotifications enables GET /ops/users/{userID}/notifications.
func (h *Handler) WithNotifications(feed NotificationLister) *Handler {
	h.feed = feed
	return h
}

type generateRequest struct {
	Month int `json:"month" validate:"required,min=1,max=12"`
	Year  int `json:"year" validate:"required,min=2000,max=2100"`
}

func (h *Handler) sweepNotifications(w http.ResponseWriter, r *http.Request) {
	summary, err := h.runner.RunNotificationSweepNow(r.Context())
	if err != nil {
		h.fail(w, "notification sweep", err)
		return
	}
	httpx.JSON(w, http.StatusOK, summary)
}

func (h *Handler) sweepLeases(w http.ResponseWriter, r *http.Request) {
	summary, err := h.runner.RunLeaseSweepNow(r.Context())
	if err != nil {
		h.fail(w, "lease sweep", err)
		return
	}
	httpx.JSON(w, http.StatusOK, summary)
}

func (h *Handler) generateInvoices(w http.ResponseWriter, r *http.Request) {
	var req generateRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, fmt.Errorf("%w: %v", shared.ErrValidation, err))
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.RespondError(w, fmt.Errorf("%w: %v", shared.ErrValidation, err))
		return
	}
	result, err := h.runner.RunInvoiceGenerationNow(r.Context(), req.Month, req.Year)
	if err != nil {
		h.fail(w, "invoice generation", err)
		return
	}
	httpx.JSON(w, http.StatusOK, result)
}

func (h *Handler) confirmCharge(w http.ResponseWriter, r *http.Request) {
	if h.charges == nil {
		httpx.Problem(w, http.StatusNotImplemented, "Gateway Disabled", "payment gateway is not configured")
		return
	}
	result, err := h.charges.ConfirmCharge(r.Context(), chi.URLParam(r, "chargeID"))
	if err != nil {
		if invoices.IsGatewayError(err) {
			err = fmt.Errorf("%w: %v", httpx.ErrBadGateway, err)
		}
		h.fail(w, "confirm charge", err)
		return
	}
	httpx.JSON(w, http.StatusOK, result)
}

func (h *Handler) listNotifications(w http.ResponseWriter, r *http.Request) {
	if h.feed == nil {
		httpx.RespondError(w, shared.ErrNotFound)
		return
	}
	userID, err := uuid.Parse(chi.URLParam(r, "userID"))
	if err != nil {
		httpx.RespondError(w, fmt.Errorf("%w: invalid user id", shared.ErrValidation))
		return
	}
	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > 200 {
			httpx.RespondError(w, fmt.Errorf("%w: limit must be between 1 and 200", shared.ErrValidation))
			return
		}
		limit = n
	}
	items, err := h.feed.ListForRecipient(r.Context(), userID, limit)
	if err != nil {
		h.fail(w, "list notifications", err)
		return
	}
	if items == nil {
		items = []notifications.Notification{}
	}
	httpx.JSON(w, http.StatusOK, items)
}

func (h *Handler) status(w http.ResponseWriter, _ *http.Request) {
	httpx.JSON(w, http.StatusOK, h.runner.Status())
}

func (h *Handler) fail(w http.ResponseWriter, op string, err error) {
	h.logger.Error("operator request failed", slog.String("op", op), slog.Any("error", err))
	httpx.RespondError(w, err)
}
