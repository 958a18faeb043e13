package notifications

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Kind tags a notification.
type Kind string

const (
	KindPaymentOverdue   Kind = "PAGAMENTO_VENCIDO"
	KindPaymentDueSoon   Kind = "PAGAMENTO_PROXIMO_VENCIMENTO"
	KindPaymentCompleted Kind = "PAGAMENTO_REALIZADO"
	KindContractExpiring Kind = "CONTRATO_VENCIMENTO"
	KindGeneral          Kind = "GERAL"
)

// Valid reports whether k is one of the known kinds.
func (k Kind) Valid() bool {
	switch k {
	case KindPaymentOverdue, KindPaymentDueSoon, KindPaymentCompleted, KindContractExpiring, KindGeneral:
		return true
	}
	return false
}

// Notification is a message addressed to one user. Only Read changes after creation.
type Notification struct {
	ID            uuid.UUID `json:"id"`
	RecipientID   uuid.UUID `json:"recipient_id"`
	Kind          Kind      `json:"kind"`
	Message       string    `json:"message"`
	Read          bool      `json:"read"`
	SentAt        time.Time `json:"sent_at"`
	ReferenceKey  string    `json:"reference_key,omitempty"`
	ReferenceDate time.Time `json:"reference_date"`
}

// DedupKey identifies "the same alert on the same day".
type DedupKey struct {
	RecipientID   uuid.UUID
	Kind          Kind
	ReferenceKey  string
	ReferenceDate time.Time
}

// Key returns the dedup tuple of a stored notification.
func (n Notification) Key() DedupKey {
	return DedupKey{
		RecipientID:   n.RecipientID,
		Kind:          n.Kind,
		ReferenceKey:  n.ReferenceKey,
		ReferenceDate: n.ReferenceDate,
	}
}

// InvoiceReference is the dedup reference for alerts about an invoice.
func InvoiceReference(id uuid.UUID) string {
	return "invoice:" + id.String()
}

// LeaseReference is the dedup reference for alerts about a lease.
func LeaseReference(id uuid.UUID) string {
	return "lease:" + id.String()
}

// Recipient is a user that can receive notifications and email.
type Recipient struct {
	ID    uuid.UUID
	Name  string
	Email string
}

// Request asks the dispatcher to deliver one notification. A non-empty
// ReferenceKey enables the once-per-day rule.
type Request struct {
	Recipient    Recipient
	Kind         Kind
	Subject      string
	Message      string
	ReferenceKey string
}

// DueInvoice is the read model the delinquency sweep works on.
type DueInvoice struct {
	InvoiceID   uuid.UUID
	LeaseID     uuid.UUID
	Tenant      Recipient
	StoreName   string
	StoreNumber string
	Amount      decimal.Decimal
	DueDate     time.Time
	Status      string
}

// SweepSummary reports one delinquency sweep.
type SweepSummary struct {
	MarkedOverdue int64 `json:"marked_overdue"`
	OverdueCount  int   `json:"overdue_count"`
	DueSoonCount  int   `json:"due_soon_count"`
	SentCount     int   `json:"sent_count"`
	SkippedCount  int   `json:"skipped_count"`
	FailedCount   int   `json:"failed_count"`
}
