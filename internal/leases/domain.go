package leases

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-leasing/internal/notifications"
)

// Status enumerates lease lifecycle states.
type Status string

const (
	StatusActive     Status = "ACTIVE"
	StatusExpired    Status = "EXPIRED"
	StatusTerminated Status = "TERMINATED"
	StatusSuspended  Status = "SUSPENDED"
)

// Lease binds one store to one tenant for a bounded period.
type Lease struct {
	ID               uuid.UUID
	CompanyID        uuid.UUID
	StoreID          uuid.UUID
	StoreName        string
	StoreNumber      string
	Tenant           notifications.Recipient
	MonthlyRent      decimal.Decimal
	StartDate        time.Time
	EndDate          time.Time
	BillingDay       int
	AnnualAdjustment bool
	AdjustmentPct    *decimal.Decimal
	Status           Status
}

// Urgency grades an expiry alert.
type Urgency string

const (
	UrgencyInfo     Urgency = "INFO"
	UrgencyUrgent   Urgency = "URGENTE"
	UrgencyCritical Urgency = "CRITICO"
)

// Horizon is one look-ahead of the expiry alert.
type Horizon struct {
	Days    int
	Urgency Urgency
}

// Horizons are processed most urgent first so a lease inside several windows
// is alerted once at its most urgent level.
var Horizons = []Horizon{
	{Days: 0, Urgency: UrgencyCritical},
	{Days: 7, Urgency: UrgencyUrgent},
	{Days: 30, Urgency: UrgencyInfo},
}

// SweepSummary reports one lifecycle sweep.
type SweepSummary struct {
	Expired   int64           `json:"expired"`
	Expiring  int             `json:"expiring"`
	ByUrgency map[Urgency]int `json:"by_urgency"`
	Sent      int             `json:"sent"`
	Skipped   int             `json:"skipped"`
	Failed    int             `json:"failed"`
}
