package agreement

import (
	"strings"
	"time"

	"github.com/samber/oops"

	"propertyhub/errutil"
)

type Status string

const (
	StatusActive     Status = "ACTIVE"
	StatusExpired    Status = "EXPIRED"
	StatusTerminated Status = "TERMINATED"
)

func (s Status) Valid() bool {
	switch s {
	case StatusActive, StatusExpired, StatusTerminated:
		return true
	}
	return false
}

// Agreement mirrors the rental_agreements table.
type Agreement struct {
	ID             string
	PropertyID     string
	TenantID       string
	LandlordID     string
	Rent           int64
	DurationMonths int
	StartDate      time.Time
	Status         Status
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// EndDate is StartDate plus DurationMonths calendar months.
func (a Agreement) EndDate() time.Time {
	return AddMonths(a.StartDate, a.DurationMonths)
}

// AddMonths adds calendar months to the date part of t. A day that does not
// exist in the target month is clamped to its last day, so 2024-01-31 plus
// one month is 2024-02-29.
func AddMonths(t time.Time, months int) time.Time {
	y, m, d := t.Date()
	first := time.Date(y, m+time.Month(months), 1, 0, 0, 0, 0, t.Location())
	if last := first.AddDate(0, 1, -1).Day(); d > last {
		d = last
	}
	return time.Date(first.Year(), first.Month(), d, 0, 0, 0, 0, t.Location())
}

// MaxDurationMonths caps an agreement's total length, extensions included.
const MaxDurationMonths = 1200

func durationTooLong(months int) error {
	return oops.Code("AGREEMENT_DURATION_TOO_LONG").
		With("duration_months", months).
		With("max_months", MaxDurationMonths).
		Wrap(errutil.ErrValidation)
}

type CreateParams struct {
	PropertyID     string
	TenantID       string
	LandlordID     string
	Rent           int64
	DurationMonths int
	StartDate      time.Time
}

func (p CreateParams) Validate() error {
	if strings.TrimSpace(p.PropertyID) == "" || strings.TrimSpace(p.TenantID) == "" || strings.TrimSpace(p.LandlordID) == "" {
		return oops.Code("AGREEMENT_FIELDS_REQUIRED").Wrap(errutil.ErrValidation)
	}
	if p.Rent <= 0 {
		return oops.Code("AGREEMENT_RENT_INVALID").With("rent", p.Rent).Wrap(errutil.ErrValidation)
	}
	if p.DurationMonths <= 0 {
		return oops.Code("AGREEMENT_DURATION_INVALID").With("duration_months", p.DurationMonths).Wrap(errutil.ErrValidation)
	}
	if p.DurationMonths > MaxDurationMonths {
		return durationTooLong(p.DurationMonths)
	}
	if p.StartDate.IsZero() {
		return oops.Code("AGREEMENT_START_REQUIRED").Wrap(errutil.ErrValidation)
	}
	return nil
}

type Filters struct {
	PropertyID string
	TenantID   string
	LandlordID string
	Status     Status
}
