package notifications

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-leasing/internal/shared"
)

type memoryStore struct {
	mu        sync.Mutex
	rows      []Notification
	insertErr error
}

func (s *memoryStore) Insert(_ context.Context, n Notification) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.insertErr != nil {
		return false, s.insertErr
	}
	if n.ReferenceKey != "" {
		for _, row := range s.rows {
			if row.Key() == n.Key() {
				return false, nil
			}
		}
	}
	s.rows = append(s.rows, n)
	return true, nil
}

func (s *memoryStore) ExistsForDay(_ context.Context, key DedupKey) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, row := range s.rows {
		if row.ReferenceKey != "" && row.Key() == key {
			return true, nil
		}
	}
	return false, nil
}

func (s *memoryStore) DeleteReadBefore(_ context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	kept := s.rows[:0]
	var removed int64
	for _, row := range s.rows {
		if row.Read && row.SentAt.Before(cutoff) {
			removed++
			continue
		}
		kept = append(kept, row)
	}
	s.rows = kept
	return removed, nil
}

func (s *memoryStore) byKind(kind Kind) []Notification {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Notification
	for _, row := range s.rows {
		if row.Kind == kind {
			out = append(out, row)
		}
	}
	return out
}

type memoryInvoices struct {
	items []DueInvoice
}

func (m *memoryInvoices) MarkOverdue(_ context.Context, cutoff time.Time) (int64, error) {
	var n int64
	for i := range m.items {
		if m.items[i].Status == "PENDING" && m.items[i].DueDate.Before(cutoff) {
			m.items[i].Status = "OVERDUE"
			n++
		}
	}
	return n, nil
}

func (m *memoryInvoices) ListOverdue(_ context.Context, cutoff time.Time) ([]DueInvoice, error) {
	var out []DueInvoice
	for _, inv := range m.items {
		if (inv.Status == "PENDING" || inv.Status == "OVERDUE") && inv.DueDate.Before(cutoff) {
			out = append(out, inv)
		}
	}
	return out, nil
}

func (m *memoryInvoices) ListDueBetween(_ context.Context, from, to time.Time) ([]DueInvoice, error) {
	var out []DueInvoice
	for _, inv := range m.items {
		if inv.Status == "PENDING" && !inv.DueDate.Before(from) && inv.DueDate.Before(to) {
			out = append(out, inv)
		}
	}
	return out, nil
}

func (m *memoryInvoices) GetDueInvoice(_ context.Context, id uuid.UUID) (DueInvoice, error) {
	for _, inv := range m.items {
		if inv.InvoiceID == id {
			return inv, nil
		}
	}
	return DueInvoice{}, shared.ErrNotFound
}

type recordingMailer struct {
	mu   sync.Mutex
	sent []string
	err  error
}

func (m *recordingMailer) SendEmail(_ context.Context, to, subject, _ string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.sent = append(m.sent, to+"|"+subject)
	return nil
}

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func newInvoice(due time.Time) DueInvoice {
	return DueInvoice{
		InvoiceID:   uuid.New(),
		LeaseID:     uuid.New(),
		Tenant:      Recipient{ID: uuid.New(), Name: "Loja Azul Ltda", Email: "azul@example.com"},
		StoreName:   "Loja Azul",
		StoreNumber: "A-12",
		Amount:      decimal.RequireFromString("1500.00"),
		DueDate:     due,
		Status:      "PENDING",
	}
}

func newNotifier(store *memoryStore, invoices *memoryInvoices, mailer Mailer, now time.Time) *Notifier {
	d := NewDispatcher(store,
		WithMailer(mailer),
		WithLocation(time.UTC),
		WithClock(func() time.Time { return now }))
	return NewNotifier(invoices, d, nil)
}

func TestSweepOverdueAlertsOncePerDay(t *testing.T) {
	store := &memoryStore{}
	invoices := &memoryInvoices{items: []DueInvoice{newInvoice(day(2024, time.January, 10))}}
	mailer := &recordingMailer{}
	n := newNotifier(store, invoices, mailer, day(2024, time.January, 15).Add(9*time.Hour))

	summary, err := n.Sweep(context.Background())
	require.NoError(t, err)
	require.Equal(t, int64(1), summary.MarkedOverdue)
	require.Equal(t, 1, summary.OverdueCount)
	require.Equal(t, 1, summary.SentCount)

	alerts := store.byKind(KindPaymentOverdue)
	require.Len(t, alerts, 1)
	require.Contains(t, alerts[0].Message, "5 dia(s)")
	require.Contains(t, alerts[0].Message, "10/01/2024")
	require.Len(t, mailer.sent, 1)

	summary, err = n.Sweep(context.Background())
	require.NoError(t, err)
	require.Equal(t, 0, summary.SentCount)
	require.Equal(t, 1, summary.SkippedCount)
	require.Len(t, store.byKind(KindPaymentOverdue), 1)
}

func TestSweepOverdueAlertsAgainNextDay(t *testing.T) {
	store := &memoryStore{}
	invoices := &memoryInvoices{items: []DueInvoice{newInvoice(day(2024, time.January, 10))}}

	_, err := newNotifier(store, invoices, nil, day(2024, time.January, 15)).Sweep(context.Background())
	require.NoError(t, err)
	summary, err := newNotifier(store, invoices, nil, day(2024, time.January, 16)).Sweep(context.Background())
	require.NoError(t, err)

	require.Equal(t, 1, summary.SentCount)
	alerts := store.byKind(KindPaymentOverdue)
	require.Len(t, alerts, 2)
	require.Contains(t, alerts[1].Message, "6 dia(s)")
}

func TestSweepDueSoonWindow(t *testing.T) {
	store := &memoryStore{}
	inside := newInvoice(day(2024, time.February, 5))
	outside := newInvoice(day(2024, time.March, 1))
	invoices := &memoryInvoices{items: []DueInvoice{inside, outside}}
	n := newNotifier(store, invoices, nil, day(2024, time.January, 30).Add(14*time.Hour))

	summary, err := n.Sweep(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, summary.DueSoonCount)
	require.Equal(t, 0, summary.OverdueCount)

	alerts := store.byKind(KindPaymentDueSoon)
	require.Len(t, alerts, 1)
	require.Equal(t, InvoiceReference(inside.InvoiceID), alerts[0].ReferenceKey)
	require.Contains(t, alerts[0].Message, "6 dia(s)")
}

func TestSweepContinuesWhenNotificationFails(t *testing.T) {
	store := &memoryStore{insertErr: errors.New("db down")}
	invoices := &memoryInvoices{items: []DueInvoice{
		newInvoice(day(2024, time.January, 1)),
		newInvoice(day(2024, time.January, 2)),
	}}
	n := newNotifier(store, invoices, nil, day(2024, time.January, 15))

	summary, err := n.Sweep(context.Background())
	require.NoError(t, err)
	require.Equal(t, 2, summary.OverdueCount)
	require.Equal(t, 2, summary.FailedCount)
	require.Equal(t, 0, summary.SentCount)
}

func TestMailerFailureDoesNotFailNotify(t *testing.T) {
	store := &memoryStore{}
	d := NewDispatcher(store, WithMailer(&recordingMailer{err: errors.New("queue down")}))

	n, err := d.Notify(context.Background(), Request{
		Recipient: Recipient{ID: uuid.New(), Email: "x@example.com"},
		Kind:      KindGeneral,
		Message:   "olá",
	})
	require.NoError(t, err)
	require.NotEqual(t, uuid.Nil, n.ID)
	require.Len(t, store.rows, 1)
}

func TestNotifyRejectsInvalidRequests(t *testing.T) {
	d := NewDispatcher(&memoryStore{})

	_, err := d.Notify(context.Background(), Request{Kind: KindGeneral, Message: "x"})
	require.ErrorIs(t, err, shared.ErrValidation)

	_, err = d.Notify(context.Background(), Request{Recipient: Recipient{ID: uuid.New()}, Kind: "NOPE", Message: "x"})
	require.ErrorIs(t, err, shared.ErrValidation)
}

func TestNotifyDuplicateReference(t *testing.T) {
	now := day(2024, time.May, 3)
	d := NewDispatcher(&memoryStore{}, WithClock(func() time.Time { return now }))
	req := Request{Recipient: Recipient{ID: uuid.New()}, Kind: KindContractExpiring, Message: "x", ReferenceKey: "lease:1"}

	_, err := d.Notify(context.Background(), req)
	require.NoError(t, err)
	_, err = d.Notify(context.Background(), req)
	require.ErrorIs(t, err, ErrDuplicate)

	seen, err := d.HasAlreadyNotifiedToday(context.Background(), req.Recipient.ID, req.Kind, req.ReferenceKey)
	require.NoError(t, err)
	require.True(t, seen)
}

func TestNotifyInvoicePaid(t *testing.T) {
	store := &memoryStore{}
	inv := newInvoice(day(2024, time.January, 10))
	mailer := &recordingMailer{}
	n := newNotifier(store, &memoryInvoices{items: []DueInvoice{inv}}, mailer, day(2024, time.January, 12))

	require.NoError(t, n.NotifyInvoicePaid(context.Background(), inv.InvoiceID))

	paid := store.byKind(KindPaymentCompleted)
	require.Len(t, paid, 1)
	require.Equal(t, inv.Tenant.ID, paid[0].RecipientID)
	require.True(t, strings.HasPrefix(paid[0].Message, "Pagamento confirmado!"))
	require.Equal(t, []string{"azul@example.com|Pagamento confirmado"}, mailer.sent)

	err := n.NotifyInvoicePaid(context.Background(), uuid.New())
	require.ErrorIs(t, err, shared.ErrNotFound)
}

func TestPurgeRead(t *testing.T) {
	now := day(2024, time.June, 30)
	store := &memoryStore{rows: []Notification{
		{ID: uuid.New(), Read: true, SentAt: now.AddDate(0, 0, -40)},
		{ID: uuid.New(), Read: false, SentAt: now.AddDate(0, 0, -40)},
		{ID: uuid.New(), Read: true, SentAt: now.AddDate(0, 0, -5)},
	}}
	d := NewDispatcher(store, WithClock(func() time.Time { return now }))

	removed, err := d.PurgeRead(context.Background(), 30*24*time.Hour)
	require.NoError(t, err)
	require.Equal(t, int64(1), removed)
	require.Len(t, store.rows, 2)
}

func TestFormatMoney(t *testing.T) {
	require.Equal(t, "R$ 1.331,00", FormatMoney(decimal.RequireFromString("1331")))
}
