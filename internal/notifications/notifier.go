package notifications

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/odyssey-erp/odyssey-leasing/internal/shared"
)

// DueSoonDays is the look-ahead of the due-soon alert.
const DueSoonDays = 7

// InvoiceStore is the invoice read side the delinquency sweep needs.
type InvoiceStore interface {
	// MarkOverdue flips PENDING invoices due before cutoff to OVERDUE.
	MarkOverdue(ctx context.Context, cutoff time.Time) (int64, error)
	// ListOverdue returns unpaid invoices due before cutoff.
	ListOverdue(ctx context.Context, cutoff time.Time) ([]DueInvoice, error)
	// ListDueBetween returns PENDING invoices with from <= due_date < to.
	ListDueBetween(ctx context.Context, from, to time.Time) ([]DueInvoice, error)
	GetDueInvoice(ctx context.Context, invoiceID uuid.UUID) (DueInvoice, error)
}

// Notifier runs the delinquency sweep and payment confirmations.
type Notifier struct {
	invoices   InvoiceStore
	dispatcher *Dispatcher
	logger     *slog.Logger
}

// NewNotifier wires the notifier. It shares the dispatcher's clock and timezone.
func NewNotifier(invoices InvoiceStore, dispatcher *Dispatcher, logger *slog.Logger) *Notifier {
	return &Notifier{invoices: invoices, dispatcher: dispatcher, logger: logger}
}

// FindOverdueInvoices lists invoices whose due date lies before today.
func (n *Notifier) FindOverdueInvoices(ctx context.Context) ([]DueInvoice, error) {
	return n.invoices.ListOverdue(ctx, n.dispatcher.today())
}

// FindInvoicesDueWithin lists PENDING invoices due between today and the end
// of the day days from now.
func (n *Notifier) FindInvoicesDueWithin(ctx context.Context, days int) ([]DueInvoice, error) {
	if days < 0 {
		return nil, fmt.Errorf("%w: days must not be negative", shared.ErrValidation)
	}
	now := n.dispatcher.now()
	return n.invoices.ListDueBetween(ctx, n.dispatcher.today(), shared.DayWindowEnd(now, days, n.dispatcher.loc))
}

// HasAlreadyNotifiedToday delegates to the dispatcher dedup check.
func (n *Notifier) HasAlreadyNotifiedToday(ctx context.Context, recipient uuid.UUID, kind Kind, referenceKey string) (bool, error) {
	return n.dispatcher.HasAlreadyNotifiedToday(ctx, recipient, kind, referenceKey)
}

// Sweep marks late invoices OVERDUE, then alerts tenants about overdue and
// due-soon invoices at most once per day each. A failing item is logged and
// counted; only a failing query aborts the sweep.
func (n *Notifier) Sweep(ctx context.Context) (SweepSummary, error) {
	var summary SweepSummary
	today := n.dispatcher.today()

	marked, err := n.invoices.MarkOverdue(ctx, today)
	if err != nil {
		return summary, fmt.Errorf("notifications: mark overdue: %w", err)
	}
	summary.MarkedOverdue = marked

	overdue, err := n.FindOverdueInvoices(ctx)
	if err != nil {
		return summary, fmt.Errorf("notifications: list overdue: %w", err)
	}
	summary.OverdueCount = len(overdue)
	for _, inv := range overdue {
		days := shared.WholeDaysBetween(inv.DueDate, today)
		n.alert(ctx, &summary, inv, KindPaymentOverdue, overdueMessage(inv, days))
	}

	dueSoon, err := n.FindInvoicesDueWithin(ctx, DueSoonDays)
	if err != nil {
		return summary, fmt.Errorf("notifications: list due soon: %w", err)
	}
	summary.DueSoonCount = len(dueSoon)
	for _, inv := range dueSoon {
		days := daysUntil(today, inv.DueDate)
		n.alert(ctx, &summary, inv, KindPaymentDueSoon, dueSoonMessage(inv, days))
	}

	n.log().Info("delinquency sweep finished",
		slog.Int64("marked_overdue", summary.MarkedOverdue),
		slog.Int("overdue", summary.OverdueCount),
		slog.Int("due_soon", summary.DueSoonCount),
		slog.Int("sent", summary.SentCount),
		slog.Int("skipped", summary.SkippedCount),
		slog.Int("failed", summary.FailedCount))
	return summary, nil
}

func (n *Notifier) alert(ctx context.Context, summary *SweepSummary, inv DueInvoice, kind Kind, message string) {
	ref := InvoiceReference(inv.InvoiceID)
	seen, err := n.HasAlreadyNotifiedToday(ctx, inv.Tenant.ID, kind, ref)
	if err != nil {
		summary.FailedCount++
		n.log().Error("dedup check failed", slog.String("invoice", inv.InvoiceID.String()), slog.Any("error", err))
		return
	}
	if seen {
		summary.SkippedCount++
		return
	}
	_, err = n.dispatcher.Notify(ctx, Request{
		Recipient:    inv.Tenant,
		Kind:         kind,
		Message:      message,
		ReferenceKey: ref,
	})
	switch {
	case errors.Is(err, ErrDuplicate):
		summary.SkippedCount++
	case err != nil:
		summary.FailedCount++
		n.log().Error("notification not created",
			slog.String("invoice", inv.InvoiceID.String()),
			slog.String("kind", string(kind)),
			slog.Any("error", err))
	default:
		summary.SentCount++
	}
}

// NotifyInvoicePaid tells the tenant their payment was confirmed.
func (n *Notifier) NotifyInvoicePaid(ctx context.Context, invoiceID uuid.UUID) error {
	inv, err := n.invoices.GetDueInvoice(ctx, invoiceID)
	if err != nil {
		return fmt.Errorf("notifications: load invoice %s: %w", invoiceID, err)
	}
	_, err = n.dispatcher.Notify(ctx, Request{
		Recipient: inv.Tenant,
		Kind:      KindPaymentCompleted,
		Message:   paidMessage(inv, n.dispatcher.now()),
	})
	return err
}

// daysUntil rounds up so an invoice due later today still reads as one day away.
func daysUntil(today, due time.Time) int {
	d := due.Sub(today)
	days := int(d / (24 * time.Hour))
	if d%(24*time.Hour) > 0 {
		days++
	}
	return days
}

func (n *Notifier) log() *slog.Logger {
	if n.logger != nil {
		return n.logger
	}
	return n.dispatcher.log()
}
