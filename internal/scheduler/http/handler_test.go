package schedulerhttp

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-leasing/internal/gateway"
	"github.com/odyssey-erp/odyssey-leasing/internal/invoices"
	"github.com/odyssey-erp/odyssey-leasing/internal/leases"
	"github.com/odyssey-erp/odyssey-leasing/internal/notifications"
	"github.com/odyssey-erp/odyssey-leasing/internal/scheduler"
	"github.com/odyssey-erp/odyssey-leasing/internal/shared"
)

const testToken = "ops-secret"

type stubRunner struct {
	generated []invoices.Period
	leaseErr  error
}

func (s *stubRunner) RunNotificationSweepNow(context.Context) (notifications.SweepSummary, error) {
	return notifications.SweepSummary{OverdueCount: 1, SentCount: 1}, nil
}

func (s *stubRunner) RunLeaseSweepNow(context.Context) (leases.SweepSummary, error) {
	return leases.SweepSummary{}, s.leaseErr
}

func (s *stubRunner) RunInvoiceGenerationNow(_ context.Context, month, year int) (invoices.GenerationResult, error) {
	p := invoices.Period{Month: month, Year: year}
	s.generated = append(s.generated, p)
	return invoices.GenerationResult{
		Period:  p,
		Created: []invoices.GeneratedInvoice{},
		Errors:  []invoices.LeaseError{{LeaseID: uuid.New(), Message: "gateway down"}},
	}, nil
}

func (s *stubRunner) Status() scheduler.Status {
	return scheduler.Status{Active: true, Timers: 5, Entries: []scheduler.EntryStatus{{Name: scheduler.JobLeaseSweep}}}
}

type stubConfirmer struct {
	err error
}

func (s *stubConfirmer) ConfirmCharge(_ context.Context, id string) (invoices.ConfirmResult, error) {
	if s.err != nil {
		return invoices.ConfirmResult{}, s.err
	}
	return invoices.ConfirmResult{ProviderStatus: "paid", Paid: true, Changed: id == "ch-1"}, nil
}

func newRouter(runner *stubRunner, confirmer ChargeConfirmer) http.Handler {
	r := chi.NewRouter()
	NewHandler(runner, confirmer, testToken, nil).MountRoutes(r)
	return r
}

func do(t *testing.T, h http.Handler, method, path, body string, authorized bool) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if authorized {
		req.Header.Set("Authorization", "Bearer "+testToken)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestRequiresOperatorToken(t *testing.T) {
	h := newRouter(&stubRunner{}, nil)

	rec := do(t, h, http.MethodGet, "/ops/scheduler/status", "", false)
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = do(t, h, http.MethodGet, "/ops/scheduler/status", "", true)
	require.Equal(t, http.StatusOK, rec.Code)
	var st scheduler.Status
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &st))
	require.Equal(t, 5, st.Timers)
}

func TestGenerateRejectsInvalidMonth(t *testing.T) {
	runner := &stubRunner{}
	h := newRouter(runner, nil)

	rec := do(t, h, http.MethodPost, "/ops/invoices/generate", `{"month":13,"year":2024}`, true)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Empty(t, runner.generated)

	rec = do(t, h, http.MethodPost, "/ops/invoices/generate", `not json`, true)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGenerateReportsPartialFailureInBody(t *testing.T) {
	runner := &stubRunner{}
	h := newRouter(runner, nil)

	rec := do(t, h, http.MethodPost, "/ops/invoices/generate", `{"month":1,"year":2024}`, true)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, []invoices.Period{{Month: 1, Year: 2024}}, runner.generated)

	var result invoices.GenerationResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	require.Len(t, result.Errors, 1)
}

func TestSweepEndpoints(t *testing.T) {
	runner := &stubRunner{}
	h := newRouter(runner, nil)

	rec := do(t, h, http.MethodPost, "/ops/sweeps/notifications", "", true)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"sent_count":1`)

	runner.leaseErr = fmt.Errorf("run: %w", shared.ErrJobBusy)
	rec = do(t, h, http.MethodPost, "/ops/sweeps/leases", "", true)
	require.Equal(t, http.StatusConflict, rec.Code)
}

func TestConfirmCharge(t *testing.T) {
	rec := do(t, newRouter(&stubRunner{}, nil), http.MethodPost, "/ops/charges/ch-1/confirm", "", true)
	require.Equal(t, http.StatusNotImplemented, rec.Code)

	h := newRouter(&stubRunner{}, &stubConfirmer{})
	rec = do(t, h, http.MethodPost, "/ops/charges/ch-1/confirm", "", true)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"changed":true`)

	h = newRouter(&stubRunner{}, &stubConfirmer{err: fmt.Errorf("query: %w", gateway.ErrGatewayUnavailable)})
	rec = do(t, h, http.MethodPost, "/ops/charges/ch-1/confirm", "", true)
	require.Equal(t, http.StatusBadGateway, rec.Code)
}

type stubFeed struct {
	recipient uuid.UUID
	limit     int
}

func (s *stubFeed) ListForRecipient(_ context.Context, recipient uuid.UUID, limit int) ([]notifications.Notification, error) {
	s.recipient, s.limit = recipient, limit
	return []notifications.Notification{{RecipientID: recipient, Kind: notifications.KindContractExpiring, Message: "vence hoje"}}, nil
}

func TestListNotifications(t *testing.T) {
	feed := &stubFeed{}
	r := chi.NewRouter()
	NewHandler(&stubRunner{}, nil, testToken, nil).WithNotifications(feed).MountRoutes(r)
	user := uuid.New()

	rec := do(t, r, http.MethodGet, "/ops/users/"+user.String()+"/notifications?limit=5", "", true)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, user, feed.recipient)
	require.Equal(t, 5, feed.limit)
	require.Contains(t, rec.Body.String(), `"message":"vence hoje"`)

	rec = do(t, r, http.MethodGet, "/ops/users/not-a-uuid/notifications", "", true)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, r, http.MethodGet, "/ops/users/"+user.String()+"/notifications?limit=0", "", true)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, newRouter(&stubRunner{}, nil), http.MethodGet, "/ops/users/"+user.String()+"/notifications", "", true)
	require.Equal(t, http.StatusNotFound, rec.Code)
}
