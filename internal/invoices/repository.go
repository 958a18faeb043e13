package invoices

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-leasing/internal/leases"
	"github.com/odyssey-erp/odyssey-leasing/internal/platform/db"
	"github.com/odyssey-erp/odyssey-leasing/internal/shared"
)

// Repository provides PostgreSQL backed persistence for invoices and charges.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// ListBillableLeases returns ACTIVE leases whose [start, end] contains periodStart.
func (r *Repository) ListBillableLeases(ctx context.Context, periodStart time.Time) ([]BillableLease, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT l.id, s.company_id, s.id, s.name, s.number,
			u.id, u.name, u.email, u.cpf, u.phone,
			l.monthly_rent::text, l.start_date, l.end_date, l.billing_day,
			l.annual_adjustment, l.adjustment_pct::text
		FROM leases l
		JOIN stores s ON s.id = l.store_id
		JOIN users u ON u.id = l.tenant_id
		WHERE l.status = 'ACTIVE' AND l.start_date <= $1 AND l.end_date >= $1
		ORDER BY l.start_date, l.id`, periodStart)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []BillableLease
	for rows.Next() {
		var b BillableLease
		var rent string
		var pct pgtype.Text
		if err := rows.Scan(&b.ID, &b.CompanyID, &b.StoreID, &b.StoreName, &b.StoreNumber,
			&b.Tenant.ID, &b.Tenant.Name, &b.Tenant.Email, &b.Customer.CPF, &b.Customer.PhoneNumber,
			&rent, &b.StartDate, &b.EndDate, &b.BillingDay,
			&b.AnnualAdjustment, &pct); err != nil {
			return nil, err
		}
		b.Status = leases.StatusActive
		b.Customer.Name = b.Tenant.Name
		b.Customer.Email = b.Tenant.Email
		if b.MonthlyRent, err = decimal.NewFromString(rent); err != nil {
			return nil, fmt.Errorf("invoices: lease %s rent: %w", b.ID, err)
		}
		if pct.Valid {
			p, err := decimal.NewFromString(pct.String)
			if err != nil {
				return nil, fmt.Errorf("invoices: lease %s adjustment: %w", b.ID, err)
			}
			b.AdjustmentPct = &p
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

// InvoiceExists checks the (lease, month, year) idempotency key.
func (r *Repository) InvoiceExists(ctx context.Context, leaseID uuid.UUID, month, year int) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx, `
		SELECT EXISTS (SELECT 1 FROM invoices WHERE lease_id = $1 AND ref_month = $2 AND ref_year = $3)`,
		leaseID, month, year).Scan(&exists)
	return exists, err
}

// CreateWithCharge inserts the invoice, issues the charge and stores it in one
// transaction; any failure leaves neither behind.
func (r *Repository) CreateWithCharge(ctx context.Context, inv Invoice, issue IssueFunc) (bool, error) {
	created := false
	err := db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `
			INSERT INTO invoices (id, lease_id, ref_month, ref_year, amount, due_date, status, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5::text::numeric, $6, $7, NOW(), NOW())
			ON CONFLICT (lease_id, ref_month, ref_year) DO NOTHING`,
			inv.ID, inv.LeaseID, inv.Month, inv.Year, inv.Amount.StringFixed(2), inv.DueDate, string(inv.Status))
		if err != nil {
			return fmt.Errorf("insert invoice: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return nil
		}
		created = true

		if issue == nil {
			return nil
		}
		charge, err := issue(ctx, inv)
		if err != nil {
			return fmt.Errorf("issue charge: %w", err)
		}
		if charge == nil {
			return nil
		}
		_, err = tx.Exec(ctx, `
			INSERT INTO charges (id, invoice_id, provider_charge_id, barcode, link, qr_code, status, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, NOW())`,
			charge.ID, charge.InvoiceID, charge.ProviderChargeID, charge.Barcode, charge.Link, charge.QRCode, charge.Status)
		if err != nil {
			return fmt.Errorf("insert charge: %w", err)
		}
		return nil
	})
	if err != nil {
		if db.IsUniqueViolation(err) {
			return false, fmt.Errorf("%w: %v", shared.ErrConflict, err)
		}
		return false, err
	}
	return created, nil
}

// MarkPaidByCharge stores the provider status and settles the invoice with a
// conditional update.
func (r *Repository) MarkPaidByCharge(ctx context.Context, providerChargeID, providerStatus string, paidAt time.Time, paid bool) (uuid.UUID, bool, error) {
	var invoiceID uuid.UUID
	changed := false
	err := db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		err := tx.QueryRow(ctx, `
			UPDATE charges SET status = $2 WHERE provider_charge_id = $1
			RETURNING invoice_id`, providerChargeID, providerStatus).Scan(&invoiceID)
		if errors.Is(err, pgx.ErrNoRows) {
			return shared.ErrNotFound
		}
		if err != nil {
			return err
		}
		if !paid {
			return nil
		}
		tag, err := tx.Exec(ctx, `
			UPDATE invoices SET status = 'PAID', paid_at = $2, updated_at = NOW()
			WHERE id = $1 AND status IN ('PENDING', 'OVERDUE')`, invoiceID, paidAt)
		if err != nil {
			return err
		}
		changed = tag.RowsAffected() == 1
		return nil
	})
	return invoiceID, changed, err
}
