package invoices

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-leasing/internal/leases"
	"github.com/odyssey-erp/odyssey-leasing/internal/shared"
)

var hundred = decimal.NewFromInt(100)

// AdjustedRent applies compound annual adjustment for every calendar year
// elapsed between the lease start and year. The result is rounded to cents.
func AdjustedRent(lease leases.Lease, year int, loc *time.Location) decimal.Decimal {
	base := lease.MonthlyRent
	if !lease.AnnualAdjustment || lease.AdjustmentPct == nil || lease.AdjustmentPct.IsZero() {
		return base.Round(2)
	}
	if loc == nil {
		loc = time.UTC
	}
	years := year - lease.StartDate.In(loc).Year()
	if years <= 0 {
		return base.Round(2)
	}
	factor := decimal.NewFromInt(1).Add(lease.AdjustmentPct.Div(hundred)).Pow(decimal.NewFromInt(int64(years)))
	return base.Mul(factor).Round(2)
}

// DueDate places the lease billing day inside the period, clamped to the
// month's last day.
func DueDate(lease leases.Lease, p Period, loc *time.Location) time.Time {
	return shared.ClampedDate(p.Year, p.Month, lease.BillingDay, loc)
}
