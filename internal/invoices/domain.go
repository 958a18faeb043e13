package invoices

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-leasing/internal/gateway"
	"github.com/odyssey-erp/odyssey-leasing/internal/leases"
)

// Status enumerates invoice states.
type Status string

const (
	StatusPending  Status = "PENDING"
	StatusPaid     Status = "PAID"
	StatusOverdue  Status = "OVERDUE"
	StatusCanceled Status = "CANCELED"
)

// Period is a billing month.
type Period struct {
	Month int `json:"month" validate:"required,min=1,max=12"`
	Year  int `json:"year" validate:"required,min=2000,max=2100"`
}

// Invoice is one monthly rent bill.
type Invoice struct {
	ID       uuid.UUID
	LeaseID  uuid.UUID
	Month    int
	Year     int
	Amount   decimal.Decimal
	DueDate  time.Time
	Status   Status
	PaidAt   *time.Time
	ChargeID string
}

// Charge is the provider-side record linked to an invoice.
type Charge struct {
	ID               uuid.UUID
	InvoiceID        uuid.UUID
	ProviderChargeID string
	Barcode          string
	Link             string
	QRCode           string
	Status           string
}

// BillableLease is an active lease plus what the charge needs about the payer.
type BillableLease struct {
	leases.Lease
	Customer gateway.Customer
}

// GeneratedInvoice reports one invoice created by a generation run.
type GeneratedInvoice struct {
	ID       uuid.UUID       `json:"id"`
	LeaseID  uuid.UUID       `json:"lease_id"`
	Amount   decimal.Decimal `json:"amount"`
	DueDate  time.Time       `json:"due_date"`
	Month    int             `json:"month"`
	Year     int             `json:"year"`
	ChargeID string          `json:"charge_id,omitempty"`
}

// LeaseError identifies a lease whose invoice could not be generated.
type LeaseError struct {
	LeaseID uuid.UUID `json:"lease_id"`
	Message string    `json:"message"`
}

// GenerationResult aggregates a best-effort generation run.
type GenerationResult struct {
	Period  Period             `json:"period"`
	Created []GeneratedInvoice `json:"created"`
	Skipped int                `json:"skipped"`
	Errors  []LeaseError       `json:"errors"`
}

// ConfirmResult reports a payment confirmation.
type ConfirmResult struct {
	InvoiceID      uuid.UUID `json:"invoice_id"`
	ProviderStatus string    `json:"provider_status"`
	Paid           bool      `json:"paid"`
	Changed        bool      `json:"changed"`
}
