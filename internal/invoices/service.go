package invoices

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/odyssey-erp/odyssey-leasing/internal/gateway"
	jobmetrics "github.com/odyssey-erp/odyssey-leasing/internal/jobs"
	"github.com/odyssey-erp/odyssey-leasing/internal/shared"
)

// DefaultConcurrency bounds how many leases are billed at once.
const DefaultConcurrency = 4

// IssueFunc issues the external charge for an invoice inside its write scope.
// A nil charge means no charge was requested.
type IssueFunc func(ctx context.Context, inv Invoice) (*Charge, error)

// RepositoryPort exposes persistence operations needed by the service.
type RepositoryPort interface {
	// ListBillableLeases returns ACTIVE leases whose term contains periodStart.
	ListBillableLeases(ctx context.Context, periodStart time.Time) ([]BillableLease, error)
	InvoiceExists(ctx context.Context, leaseID uuid.UUID, month, year int) (bool, error)
	// CreateWithCharge inserts inv and runs issue in one transaction. It returns
	// false without calling issue when the period already has an invoice.
	CreateWithCharge(ctx context.Context, inv Invoice, issue IssueFunc) (bool, error)
	// MarkPaidByCharge records the provider status and flips the linked unpaid
	// invoice to PAID. changed is false when the invoice was already settled.
	MarkPaidByCharge(ctx context.Context, providerChargeID, providerStatus string, paidAt time.Time, paid bool) (invoiceID uuid.UUID, changed bool, err error)
}

// ChargeIssuer is the payment gateway contract.
type ChargeIssuer interface {
	CreateCharge(ctx context.Context, req gateway.ChargeRequest) (gateway.ChargeResult, error)
	QueryCharge(ctx context.Context, chargeID string) (gateway.ChargeStatus, error)
}

// PaidNotifier is told when an invoice becomes PAID.
type PaidNotifier interface {
	NotifyInvoicePaid(ctx context.Context, invoiceID uuid.UUID) error
}

// Service materialises monthly invoices.
type Service struct {
	repo        RepositoryPort
	charges     ChargeIssuer
	paid        PaidNotifier
	validate    *validator.Validate
	loc         *time.Location
	concurrency int
	clock       func() time.Time

	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
}

// Option customises the service.
type Option func(*Service)

// WithCharges enables charge issuing through the gateway.
func WithCharges(c ChargeIssuer) Option {
	return func(s *Service) { s.charges = c }
}

// WithPaidNotifier registers the payment confirmation listener.
func WithPaidNotifier(n PaidNotifier) Option {
	return func(s *Service) { s.paid = n }
}

// WithConcurrency overrides DefaultConcurrency.
func WithConcurrency(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.concurrency = n
		}
	}
}

// WithClock overrides the time source.
func WithClock(clock func() time.Time) Option {
	return func(s *Service) { s.clock = clock }
}

// NewService constructs the invoice service.
func NewService(repo RepositoryPort, loc *time.Location, opts ...Option) *Service {
	if loc == nil {
		loc = time.UTC
	}
	s := &Service{
		repo:        repo,
		validate:    validator.New(),
		loc:         loc,
		concurrency: DefaultConcurrency,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ValidatePeriod rejects months outside 1-12 and implausible years.
func (s *Service) ValidatePeriod(p Period) error {
	if err := s.validate.Struct(p); err != nil {
		return fmt.Errorf("%w: period %02d/%d: %v", shared.ErrValidation, p.Month, p.Year, err)
	}
	return nil
}

type outcome struct {
	created *GeneratedInvoice
	skipped bool
	err     error
}

// GenerateMonthly creates one invoice per billable lease for p. Existing
// invoices are skipped. A failing lease is reported in Errors and does not stop
// the others; only the initial lease query aborts the run.
func (s *Service) GenerateMonthly(ctx context.Context, p Period) (GenerationResult, error) {
	result := GenerationResult{Period: p, Created: []GeneratedInvoice{}, Errors: []LeaseError{}}
	if err := s.ValidatePeriod(p); err != nil {
		return result, err
	}

	billable, err := s.repo.ListBillableLeases(ctx, shared.PeriodStart(p.Month, p.Year, s.loc))
	if err != nil {
		return result, fmt.Errorf("invoices: list billable leases: %w", err)
	}

	outcomes := make([]outcome, len(billable))
	var g errgroup.Group
	g.SetLimit(s.concurrency)
	for i, lease := range billable {
		g.Go(func() error {
			defer func() {
				if r := recover(); r != nil {
					outcomes[i] = outcome{err: fmt.Errorf("invoice generation panicked: %v", r)}
				}
			}()
			outcomes[i] = s.generateOne(ctx, lease, p)
			return nil
		})
	}
	_ = g.Wait()

	for i, o := range outcomes {
		switch {
		case o.err != nil:
			result.Errors = append(result.Errors, LeaseError{LeaseID: billable[i].ID, Message: o.err.Error()})
			s.logger().Error("invoice generation failed",
				slog.String("lease", billable[i].ID.String()),
				slog.Int("month", p.Month),
				slog.Int("year", p.Year),
				slog.Any("error", o.err))
		case o.skipped:
			result.Skipped++
		case o.created != nil:
			result.Created = append(result.Created, *o.created)
		}
	}
	s.Metrics.AddInvoices(len(result.Created), len(result.Errors))
	s.logger().Info("invoice generation finished",
		slog.Int("month", p.Month),
		slog.Int("year", p.Year),
		slog.Int("leases", len(billable)),
		slog.Int("created", len(result.Created)),
		slog.Int("skipped", result.Skipped),
		slog.Int("failed", len(result.Errors)))
	return result, nil
}

func (s *Service) generateOne(ctx context.Context, lease BillableLease, p Period) outcome {
	exists, err := s.repo.InvoiceExists(ctx, lease.ID, p.Month, p.Year)
	if err != nil {
		return outcome{err: fmt.Errorf("check existing invoice: %w", err)}
	}
	if exists {
		return outcome{skipped: true}
	}

	inv := Invoice{
		ID:      uuid.New(),
		LeaseID: lease.ID,
		Month:   p.Month,
		Year:    p.Year,
		Amount:  AdjustedRent(lease.Lease, p.Year, s.loc),
		DueDate: DueDate(lease.Lease, p, s.loc),
		Status:  StatusPending,
	}

	var chargeID string
	created, err := s.repo.CreateWithCharge(ctx, inv, func(ctx context.Context, inv Invoice) (*Charge, error) {
		if s.charges == nil {
			return nil, nil
		}
		res, err := s.charges.CreateCharge(ctx, chargeRequest(lease, inv))
		if err != nil {
			return nil, err
		}
		chargeID = res.ChargeID
		return &Charge{
			ID:               uuid.New(),
			InvoiceID:        inv.ID,
			ProviderChargeID: res.ChargeID,
			Barcode:          res.Barcode,
			Link:             res.Link,
			QRCode:           res.QRCode,
			Status:           res.Status,
		}, nil
	})
	if err != nil {
		return outcome{err: err}
	}
	if !created {
		return outcome{skipped: true}
	}
	return outcome{created: &GeneratedInvoice{
		ID:       inv.ID,
		LeaseID:  inv.LeaseID,
		Amount:   inv.Amount,
		DueDate:  inv.DueDate,
		Month:    inv.Month,
		Year:     inv.Year,
		ChargeID: chargeID,
	}}
}

func chargeRequest(lease BillableLease, inv Invoice) gateway.ChargeRequest {
	customer := lease.Customer
	if customer.Name == "" {
		customer.Name = lease.Tenant.Name
	}
	if customer.Email == "" {
		customer.Email = lease.Tenant.Email
	}
	return gateway.ChargeRequest{
		Items: []gateway.Item{{
			Name:   fmt.Sprintf("Aluguel %s %02d/%d", lease.StoreName, inv.Month, inv.Year),
			Amount: inv.Amount,
			Qty:    1,
		}},
		Customer: customer,
		DueDate:  inv.DueDate,
	}
}

// ConfirmCharge asks the gateway for the charge status and, when it is paid,
// settles the linked invoice. The tenant is notified only on the transition.
func (s *Service) ConfirmCharge(ctx context.Context, providerChargeID string) (ConfirmResult, error) {
	if providerChargeID == "" {
		return ConfirmResult{}, fmt.Errorf("%w: charge id required", shared.ErrValidation)
	}
	if s.charges == nil {
		return ConfirmResult{}, fmt.Errorf("%w: payment gateway disabled", shared.ErrValidation)
	}
	status, err := s.charges.QueryCharge(ctx, providerChargeID)
	if err != nil {
		return ConfirmResult{}, fmt.Errorf("invoices: query charge: %w", err)
	}

	invoiceID, changed, err := s.repo.MarkPaidByCharge(ctx, providerChargeID, status.Status, s.now(), status.Paid())
	if err != nil {
		return ConfirmResult{}, fmt.Errorf("invoices: settle charge %s: %w", providerChargeID, err)
	}
	result := ConfirmResult{InvoiceID: invoiceID, ProviderStatus: status.Status, Paid: status.Paid(), Changed: changed}
	if !changed || s.paid == nil {
		return result, nil
	}
	if err := s.paid.NotifyInvoicePaid(ctx, invoiceID); err != nil {
		s.logger().Warn("payment notification failed", slog.String("invoice", invoiceID.String()), slog.Any("error", err))
	}
	return result, nil
}

// IsGatewayError reports whether err came from the payment provider.
func IsGatewayError(err error) bool {
	var apiErr *gateway.APIError
	return errors.Is(err, gateway.ErrGatewayUnavailable) || errors.As(err, &apiErr)
}

func (s *Service) now() time.Time {
	if s.clock != nil {
		return s.clock()
	}
	return time.Now()
}

func (s *Service) logger() *slog.Logger {
	if s.Logger != nil {
		return s.Logger
	}
	return slog.Default()
}
