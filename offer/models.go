package offer

import "time"

type Status string

const (
	StatusPending   Status = "PENDING"
	StatusAccepted  Status = "ACCEPTED"
	StatusCountered Status = "COUNTERED"
	StatusRejected  Status = "REJECTED"
	StatusExpired   Status = "EXPIRED"
)

func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusAccepted, StatusCountered, StatusRejected, StatusExpired:
		return true
	}
	return false
}

// Offer is a buyer's bid on a SALE property. Price is in minor currency
// units. CounteredFrom is set on offers created by Counter.
type Offer struct {
	ID            string
	PropertyID    string
	BuyerID       string
	Price         int64
	Terms         string
	Status        Status
	CounteredFrom *string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

type CreateParams struct {
	PropertyID string
	BuyerID    string
	Price      int64
	Terms      string
}

type CounterParams struct {
	Price int64
	Terms string
}

// Filters narrows List; empty fields match everything.
type Filters struct {
	PropertyID string
	BuyerID    string
	Status     Status
}

// AcceptResult is the outcome of the accept cascade.
type AcceptResult struct {
	Accepted Offer
	Rejected []Offer
}
