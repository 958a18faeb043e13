package schedulerhttp

import (
	"crypto/subtle"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/httprate"

	"github.com/odyssey-erp/odyssey-leasing/internal/platform/httpx"
)

const rateLimit = 30
const rateWindow = time.Minute

// MountRoutes registers the operator endpoints under /ops.
func (h *Handler) MountRoutes(r chi.Router) {
	if h == nil {
		return
	}
	limiter := httprate.Limit(rateLimit, rateWindow,
		httprate.WithKeyFuncs(httprate.KeyByIP),
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			httpx.Problem(w, http.StatusTooManyRequests, "Too Many Requests", "")
		}),
	)
	r.Route("/ops", func(r chi.Router) {
		r.Use(h.requireToken)
		r.Use(limiter)
		r.Post("/sweeps/notifications", h.sweepNotifications)
		r.Post("/sweeps/leases", h.sweepLeases)
		r.Post("/invoices/generate", h.generateInvoices)
		r.Post("/charges/{chargeID}/confirm", h.confirmCharge)
		r.Get("/scheduler/status", h.status)
		r.Get("/users/{userID}/notifications", h.listNotifications)
	})
}

func (h *Handler) requireToken(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if !ok || h.token == "" || subtle.ConstantTimeCompare([]byte(got), []byte(h.token)) != 1 {
			httpx.RespondError(w, httpx.ErrUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}
