package leases

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	jobmetrics "github.com/odyssey-erp/odyssey-leasing/internal/jobs"
	"github.com/odyssey-erp/odyssey-leasing/internal/notifications"
	"github.com/odyssey-erp/odyssey-leasing/internal/shared"
)

// RepositoryPort exposes the persistence the sweeper needs.
type RepositoryPort interface {
	// ExpireEnded moves ACTIVE leases ending before cutoff to EXPIRED in one statement.
	ExpireEnded(ctx context.Context, cutoff time.Time) (int64, error)
	// ListExpiring returns ACTIVE leases with from <= end_date < to.
	ListExpiring(ctx context.Context, from, to time.Time) ([]Lease, error)
	// ListCompanyStaff returns the active admins and employees of a company.
	ListCompanyStaff(ctx context.Context, companyID uuid.UUID) ([]notifications.Recipient, error)
}

// Alerter delivers deduplicated notifications.
type Alerter interface {
	Notify(ctx context.Context, req notifications.Request) (notifications.Notification, error)
	HasAlreadyNotifiedToday(ctx context.Context, recipient uuid.UUID, kind notifications.Kind, referenceKey string) (bool, error)
}

// Sweeper expires ended leases and warns about leases close to their end.
type Sweeper struct {
	repo    RepositoryPort
	alerts  Alerter
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
	loc     *time.Location
	clock   func() time.Time
}

// NewSweeper builds the lifecycle sweeper. loc defines the business day.
func NewSweeper(repo RepositoryPort, alerts Alerter, loc *time.Location) *Sweeper {
	return &Sweeper{repo: repo, alerts: alerts, loc: loc}
}

// WithClock overrides the time source.
func (s *Sweeper) WithClock(clock func() time.Time) *Sweeper {
	s.clock = clock
	return s
}

// ExpireOverdueLeases flips every ACTIVE lease whose end date lies before today
// to EXPIRED and returns how many rows changed.
func (s *Sweeper) ExpireOverdueLeases(ctx context.Context) (int64, error) {
	count, err := s.repo.ExpireEnded(ctx, shared.StartOfDay(s.now(), s.loc))
	if err != nil {
		return 0, fmt.Errorf("leases: expire: %w", err)
	}
	s.Metrics.AddLeasesExpired(count)
	return count, nil
}

// FindLeasesExpiringWithin returns ACTIVE leases ending between today and the
// end of the day days from now.
func (s *Sweeper) FindLeasesExpiringWithin(ctx context.Context, days int) ([]Lease, error) {
	if days < 0 {
		return nil, fmt.Errorf("%w: days must not be negative", shared.ErrValidation)
	}
	now := s.now()
	items, err := s.repo.ListExpiring(ctx, shared.StartOfDay(now, s.loc), shared.DayWindowEnd(now, days, s.loc))
	if err != nil {
		return nil, fmt.Errorf("leases: list expiring: %w", err)
	}
	return items, nil
}

// SweepAndAlert expires ended leases, then alerts the tenant and company staff
// of every lease inside a horizon. Alerts are deduplicated per recipient and day.
func (s *Sweeper) SweepAndAlert(ctx context.Context) (SweepSummary, error) {
	summary := SweepSummary{ByUrgency: map[Urgency]int{}}

	expired, err := s.ExpireOverdueLeases(ctx)
	if err != nil {
		return summary, err
	}
	summary.Expired = expired

	today := shared.StartOfDay(s.now(), s.loc)
	staffCache := map[uuid.UUID][]notifications.Recipient{}
	alerted := map[uuid.UUID]struct{}{}

	for _, horizon := range Horizons {
		items, err := s.FindLeasesExpiringWithin(ctx, horizon.Days)
		if err != nil {
			return summary, err
		}
		for _, lease := range items {
			if _, done := alerted[lease.ID]; done {
				continue
			}
			alerted[lease.ID] = struct{}{}
			summary.Expiring++
			summary.ByUrgency[horizon.Urgency]++

			staff, ok := staffCache[lease.CompanyID]
			if !ok {
				staff, err = s.repo.ListCompanyStaff(ctx, lease.CompanyID)
				if err != nil {
					// The tenant is still alerted; staff are retried on the next lease.
					summary.Failed++
					s.logger().Error("load company staff failed",
						slog.String("lease", lease.ID.String()),
						slog.Any("error", err))
					staff = nil
				} else {
					staffCache[lease.CompanyID] = staff
				}
			}

			days := shared.WholeDaysBetween(today, shared.StartOfDay(lease.EndDate, s.loc))
			message := notifications.ContractExpiringMessage(string(horizon.Urgency), lease.StoreName, lease.StoreNumber, lease.EndDate, days)
			for _, recipient := range recipientsOf(lease, staff) {
				s.alert(ctx, &summary, lease, recipient, message)
			}
		}
	}

	s.logger().Info("lease sweep finished",
		slog.Int64("expired", summary.Expired),
		slog.Int("expiring", summary.Expiring),
		slog.Int("sent", summary.Sent),
		slog.Int("skipped", summary.Skipped),
		slog.Int("failed", summary.Failed))
	return summary, nil
}

func (s *Sweeper) alert(ctx context.Context, summary *SweepSummary, lease Lease, recipient notifications.Recipient, message string) {
	ref := notifications.LeaseReference(lease.ID)
	seen, err := s.alerts.HasAlreadyNotifiedToday(ctx, recipient.ID, notifications.KindContractExpiring, ref)
	if err != nil {
		summary.Failed++
		s.logger().Error("dedup check failed", slog.String("lease", lease.ID.String()), slog.Any("error", err))
		return
	}
	if seen {
		summary.Skipped++
		return
	}
	_, err = s.alerts.Notify(ctx, notifications.Request{
		Recipient:    recipient,
		Kind:         notifications.KindContractExpiring,
		Message:      message,
		ReferenceKey: ref,
	})
	switch {
	case errors.Is(err, notifications.ErrDuplicate):
		summary.Skipped++
	case err != nil:
		summary.Failed++
		s.logger().Error("expiry alert not created",
			slog.String("lease", lease.ID.String()),
			slog.String("recipient", recipient.ID.String()),
			slog.Any("error", err))
	default:
		summary.Sent++
	}
}

func recipientsOf(lease Lease, staff []notifications.Recipient) []notifications.Recipient {
	out := make([]notifications.Recipient, 0, len(staff)+1)
	seen := map[uuid.UUID]struct{}{}
	for _, r := range append([]notifications.Recipient{lease.Tenant}, staff...) {
		if r.ID == uuid.Nil {
			continue
		}
		if _, dup := seen[r.ID]; dup {
			continue
		}
		seen[r.ID] = struct{}{}
		out = append(out, r)
	}
	return out
}

func (s *Sweeper) now() time.Time {
	if s.clock != nil {
		return s.clock()
	}
	return time.Now()
}

func (s *Sweeper) logger() *slog.Logger {
	if s.Logger != nil {
		return s.Logger
	}
	return slog.Default()
}
