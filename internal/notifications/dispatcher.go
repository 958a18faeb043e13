package notifications

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	jobmetrics "github.com/odyssey-erp/odyssey-leasing/internal/jobs"
	"github.com/odyssey-erp/odyssey-leasing/internal/shared"
)

// Store persists notifications and answers dedup lookups.
type Store interface {
	// Insert stores n. It returns false without error when a row with the same
	// dedup key already exists.
	Insert(ctx context.Context, n Notification) (bool, error)
	ExistsForDay(ctx context.Context, key DedupKey) (bool, error)
	DeleteReadBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// Mailer hands an email off for asynchronous delivery.
type Mailer interface {
	SendEmail(ctx context.Context, to, subject, body string) error
}

// ErrDuplicate reports that an identical alert was already created today.
var ErrDuplicate = errors.New("notifications: already notified today")

// Dispatcher creates in-app notifications and forwards them by email.
type Dispatcher struct {
	store   Store
	mailer  Mailer
	logger  *slog.Logger
	metrics *jobmetrics.Metrics
	loc     *time.Location
	clock   func() time.Time
}

// DispatcherOption customises the dispatcher.
type DispatcherOption func(*Dispatcher)

// WithMailer attaches the email side channel.
func WithMailer(m Mailer) DispatcherOption {
	return func(d *Dispatcher) { d.mailer = m }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) DispatcherOption {
	return func(d *Dispatcher) { d.logger = l }
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *jobmetrics.Metrics) DispatcherOption {
	return func(d *Dispatcher) { d.metrics = m }
}

// WithLocation sets the business timezone used for "today".
func WithLocation(loc *time.Location) DispatcherOption {
	return func(d *Dispatcher) { d.loc = loc }
}

// WithClock overrides the time source.
func WithClock(clock func() time.Time) DispatcherOption {
	return func(d *Dispatcher) { d.clock = clock }
}

// NewDispatcher constructs a dispatcher over store.
func NewDispatcher(store Store, opts ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{store: store}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Notify persists one notification and enqueues its email. Requests with a
// ReferenceKey are created at most once per recipient, kind and day; a repeat
// returns ErrDuplicate. Email failures are logged and never fail the call.
func (d *Dispatcher) Notify(ctx context.Context, req Request) (Notification, error) {
	if req.Recipient.ID == uuid.Nil {
		return Notification{}, fmt.Errorf("%w: recipient required", shared.ErrValidation)
	}
	if !req.Kind.Valid() {
		return Notification{}, fmt.Errorf("%w: unknown kind %q", shared.ErrValidation, req.Kind)
	}
	if req.Message == "" {
		return Notification{}, fmt.Errorf("%w: message required", shared.ErrValidation)
	}

	now := d.now()
	n := Notification{
		ID:           uuid.New(),
		RecipientID:  req.Recipient.ID,
		Kind:         req.Kind,
		Message:      req.Message,
		SentAt:       now,
		ReferenceKey: req.ReferenceKey,
	}
	if req.ReferenceKey != "" {
		n.ReferenceDate = d.today()
	}

	created, err := d.store.Insert(ctx, n)
	if err != nil {
		return Notification{}, fmt.Errorf("notifications: insert: %w", err)
	}
	if !created {
		return Notification{}, ErrDuplicate
	}
	d.metrics.AddNotification(string(n.Kind))

	if d.mailer != nil && req.Recipient.Email != "" {
		subject := req.Subject
		if subject == "" {
			subject = defaultSubject(req.Kind)
		}
		if err := d.mailer.SendEmail(ctx, req.Recipient.Email, subject, req.Message); err != nil {
			d.log().Warn("notification email not enqueued",
				slog.String("recipient", req.Recipient.ID.String()),
				slog.String("kind", string(req.Kind)),
				slog.Any("error", err))
		}
	}
	return n, nil
}

// HasAlreadyNotifiedToday reports whether recipient already got kind about
// referenceKey today.
func (d *Dispatcher) HasAlreadyNotifiedToday(ctx context.Context, recipient uuid.UUID, kind Kind, referenceKey string) (bool, error) {
	exists, err := d.store.ExistsForDay(ctx, DedupKey{
		RecipientID:   recipient,
		Kind:          kind,
		ReferenceKey:  referenceKey,
		ReferenceDate: d.today(),
	})
	if err != nil {
		return false, fmt.Errorf("notifications: dedup lookup: %w", err)
	}
	return exists, nil
}

// PurgeRead removes read notifications older than olderThan.
func (d *Dispatcher) PurgeRead(ctx context.Context, olderThan time.Duration) (int64, error) {
	if olderThan <= 0 {
		return 0, fmt.Errorf("%w: retention must be positive", shared.ErrValidation)
	}
	removed, err := d.store.DeleteReadBefore(ctx, d.now().Add(-olderThan))
	if err != nil {
		return 0, fmt.Errorf("notifications: purge: %w", err)
	}
	return removed, nil
}

func (d *Dispatcher) today() time.Time {
	return shared.StartOfDay(d.now(), d.loc)
}

func (d *Dispatcher) now() time.Time {
	if d.clock != nil {
		return d.clock()
	}
	return time.Now()
}

func (d *Dispatcher) log() *slog.Logger {
	if d.logger != nil {
		return d.logger
	}
	return slog.Default()
}

func defaultSubject(kind Kind) string {
	switch kind {
	case KindPaymentOverdue:
		return "Pagamento em atraso"
	case KindPaymentDueSoon:
		return "Pagamento próximo do vencimento"
	case KindPaymentCompleted:
		return "Pagamento confirmado"
	case KindContractExpiring:
		return "Contrato próximo do vencimento"
	default:
		return "Notificação"
	}
}
