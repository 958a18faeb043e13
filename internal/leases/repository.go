package leases

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-leasing/internal/notifications"
)

// Repository provides PostgreSQL backed persistence for leases.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// ExpireEnded is a single conditional update so concurrent sweeps cannot
// double-count or resurrect a lease.
func (r *Repository) ExpireEnded(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE leases SET status = 'EXPIRED', updated_at = NOW()
		WHERE status = 'ACTIVE' AND end_date < $1`, cutoff)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// ListExpiring returns ACTIVE leases with from <= end_date < to.
func (r *Repository) ListExpiring(ctx context.Context, from, to time.Time) ([]Lease, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT l.id, s.company_id, s.id, s.name, s.number,
			u.id, u.name, u.email,
			l.monthly_rent::text, l.start_date, l.end_date, l.billing_day,
			l.annual_adjustment, l.adjustment_pct::text, l.status
		FROM leases l
		JOIN stores s ON s.id = l.store_id
		JOIN users u ON u.id = l.tenant_id
		WHERE l.status = 'ACTIVE' AND l.end_date >= $1 AND l.end_date < $2
		ORDER BY l.end_date, l.id`, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Lease
	for rows.Next() {
		var l Lease
		var rent, status string
		var pct pgtype.Text
		if err := rows.Scan(&l.ID, &l.CompanyID, &l.StoreID, &l.StoreName, &l.StoreNumber,
			&l.Tenant.ID, &l.Tenant.Name, &l.Tenant.Email,
			&rent, &l.StartDate, &l.EndDate, &l.BillingDay,
			&l.AnnualAdjustment, &pct, &status); err != nil {
			return nil, err
		}
		l.Status = Status(status)
		if l.MonthlyRent, err = decimal.NewFromString(rent); err != nil {
			return nil, fmt.Errorf("leases: lease %s rent: %w", l.ID, err)
		}
		if pct.Valid {
			p, err := decimal.NewFromString(pct.String)
			if err != nil {
				return nil, fmt.Errorf("leases: lease %s adjustment: %w", l.ID, err)
			}
			l.AdjustmentPct = &p
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

// ListCompanyStaff returns the active admins and employees of a company.
func (r *Repository) ListCompanyStaff(ctx context.Context, companyID uuid.UUID) ([]notifications.Recipient, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, name, email FROM users
		WHERE company_id = $1 AND active AND role IN ('ADMIN_EMPRESA', 'FUNCIONARIO')
		ORDER BY name`, companyID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []notifications.Recipient
	for rows.Next() {
		var rcpt notifications.Recipient
		if err := rows.Scan(&rcpt.ID, &rcpt.Name, &rcpt.Email); err != nil {
			return nil, err
		}
		out = append(out, rcpt)
	}
	return out, rows.Err()
}
