package notifications

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

	"github.com/odyssey-erp/odyssey-leasing/internal/shared"
)

// Repository provides PostgreSQL backed persistence for notifications and the
// invoice queries of the delinquency sweep.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Insert stores n, reporting false when the daily dedup index rejects it.
func (r *Repository) Insert(ctx context.Context, n Notification) (bool, error) {
	var ref pgtype.Text
	var refDate pgtype.Date
	if n.ReferenceKey != "" {
		ref = pgtype.Text{String: n.ReferenceKey, Valid: true}
		refDate = pgtype.Date{Time: n.ReferenceDate, Valid: true}
	}
	tag, err := r.pool.Exec(ctx, `
		INSERT INTO notifications (id, recipient_id, kind, message, read, sent_at, reference_key, reference_date)
		VALUES ($1, $2, $3, $4, FALSE, $5, $6, $7)
		ON CONFLICT DO NOTHING`,
		n.ID, n.RecipientID, string(n.Kind), n.Message, n.SentAt, ref, refDate)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// ExistsForDay reports whether the dedup tuple is already taken.
func (r *Repository) ExistsForDay(ctx context.Context, key DedupKey) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM notifications
			WHERE recipient_id = $1 AND kind = $2 AND reference_key = $3 AND reference_date = $4
		)`,
		key.RecipientID, string(key.Kind), key.ReferenceKey, pgtype.Date{Time: key.ReferenceDate, Valid: true},
	).Scan(&exists)
	return exists, err
}

// DeleteReadBefore removes read notifications sent before cutoff.
func (r *Repository) DeleteReadBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := r.pool.Exec(ctx, `DELETE FROM notifications WHERE read AND sent_at < $1`, cutoff)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// ListForRecipient returns the newest notifications of one user.
func (r *Repository) ListForRecipient(ctx context.Context, recipient uuid.UUID, limit int) ([]Notification, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.pool.Query(ctx, `
		SELECT id, recipient_id, kind, message, read, sent_at, reference_key, reference_date
		FROM notifications
		WHERE recipient_id = $1
		ORDER BY sent_at DESC
		LIMIT $2`, recipient, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Notification
	for rows.Next() {
		var n Notification
		var kind string
		var ref pgtype.Text
		var refDate pgtype.Date
		if err := rows.Scan(&n.ID, &n.RecipientID, &kind, &n.Message, &n.Read, &n.SentAt, &ref, &refDate); err != nil {
			return nil, err
		}
		n.Kind = Kind(kind)
		n.ReferenceKey = ref.String
		if refDate.Valid {
			n.ReferenceDate = refDate.Time
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

// MarkOverdue flips PENDING invoices due before cutoff to OVERDUE in one statement.
func (r *Repository) MarkOverdue(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE invoices SET status = 'OVERDUE', updated_at = NOW()
		WHERE status = 'PENDING' AND due_date < $1`, cutoff)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

const dueInvoiceSelect = `
	SELECT i.id, i.lease_id, u.id, u.name, u.email, s.name, s.number, i.amount::text, i.due_date, i.status
	FROM invoices i
	JOIN leases l ON l.id = i.lease_id
	JOIN stores s ON s.id = l.store_id
	JOIN users u ON u.id = l.tenant_id`

// ListOverdue returns PENDING or OVERDUE invoices due before cutoff.
func (r *Repository) ListOverdue(ctx context.Context, cutoff time.Time) ([]DueInvoice, error) {
	return r.queryDue(ctx, dueInvoiceSelect+`
		WHERE i.status IN ('PENDING', 'OVERDUE') AND i.due_date < $1
		ORDER BY i.due_date, i.id`, cutoff)
}

// ListDueBetween returns PENDING invoices with from <= due_date < to.
func (r *Repository) ListDueBetween(ctx context.Context, from, to time.Time) ([]DueInvoice, error) {
	return r.queryDue(ctx, dueInvoiceSelect+`
		WHERE i.status = 'PENDING' AND i.due_date >= $1 AND i.due_date < $2
		ORDER BY i.due_date, i.id`, from, to)
}

// GetDueInvoice loads one invoice with its tenant and store.
func (r *Repository) GetDueInvoice(ctx context.Context, invoiceID uuid.UUID) (DueInvoice, error) {
	items, err := r.queryDue(ctx, dueInvoiceSelect+` WHERE i.id = $1`, invoiceID)
	if err != nil {
		return DueInvoice{}, err
	}
	if len(items) == 0 {
		return DueInvoice{}, shared.ErrNotFound
	}
	return items[0], nil
}

func (r *Repository) queryDue(ctx context.Context, query string, args ...any) ([]DueInvoice, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []DueInvoice
	for rows.Next() {
		var inv DueInvoice
		var amount string
		if err := rows.Scan(&inv.InvoiceID, &inv.LeaseID, &inv.Tenant.ID, &inv.Tenant.Name, &inv.Tenant.Email,
			&inv.StoreName, &inv.StoreNumber, &amount, &inv.DueDate, &inv.Status); err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return nil, shared.ErrNotFound
			}
			return nil, err
		}
		inv.Amount, err = decimal.NewFromString(amount)
		if err != nil {
			return nil, fmt.Errorf("notifications: invoice %s amount: %w", inv.InvoiceID, err)
		}
		out = append(out, inv)
	}
	return out, rows.Err()
}
