package property

import (
	"strings"
	"time"

	"github.com/samber/oops"

	"propertyhub/errutil"
)

type Kind string

const (
	KindSale Kind = "SALE"
	KindRent Kind = "RENT"
)

type Status string

const (
	StatusAvailable   Status = "AVAILABLE"
	StatusSold        Status = "SOLD"
	StatusRented      Status = "RENTED"
	StatusMaintenance Status = "MAINTENANCE"
)

func (s Status) Valid() bool {
	switch s {
	case StatusAvailable, StatusSold, StatusRented, StatusMaintenance:
		return true
	}
	return false
}

// Property is a listing. Price is set only for SALE listings and
// RentAmount only for RENT listings; amounts are in minor currency units.
type Property struct {
	ID          string
	SellerID    string
	Kind        Kind
	Status      Status
	Title       string
	Location    string
	Description string
	Price       *int64
	RentAmount  *int64
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Amount returns the price or the rent, whichever the kind carries.
func (p Property) Amount() int64 {
	if p.Kind == KindSale && p.Price != nil {
		return *p.Price
	}
	if p.RentAmount != nil {
		return *p.RentAmount
	}
	return 0
}

type CreateParams struct {
	SellerID    string
	Kind        Kind
	Title       string
	Location    string
	Description string
	Price       *int64
	RentAmount  *int64
}

// Validate checks the kind/amount pairing and required fields.
func (p CreateParams) Validate() error {
	if p.SellerID == "" {
		return oops.Code("PROPERTY_SELLER_REQUIRED").Wrap(errutil.ErrValidation)
	}
	if strings.TrimSpace(p.Title) == "" {
		return oops.Code("PROPERTY_TITLE_REQUIRED").Wrap(errutil.ErrValidation)
	}
	switch p.Kind {
	case KindSale:
		if p.Price == nil || *p.Price <= 0 {
			return oops.Code("PROPERTY_PRICE_INVALID").With("kind", p.Kind).Wrap(errutil.ErrValidation)
		}
		if p.RentAmount != nil {
			return oops.Code("PROPERTY_AMOUNT_MISMATCH").With("kind", p.Kind).Wrap(errutil.ErrValidation)
		}
	case KindRent:
		if p.RentAmount == nil || *p.RentAmount <= 0 {
			return oops.Code("PROPERTY_RENT_INVALID").With("kind", p.Kind).Wrap(errutil.ErrValidation)
		}
		if p.Price != nil {
			return oops.Code("PROPERTY_AMOUNT_MISMATCH").With("kind", p.Kind).Wrap(errutil.ErrValidation)
		}
	default:
		return oops.Code("PROPERTY_KIND_INVALID").With("kind", p.Kind).Wrap(errutil.ErrValidation)
	}
	return nil
}

// UpdateParams carries optional detail changes; nil fields are left alone.
type UpdateParams struct {
	Title       *string
	Location    *string
	Description *string
	Price       *int64
	RentAmount  *int64
}

func (p UpdateParams) validateFor(kind Kind) error {
	if p.Title != nil && strings.TrimSpace(*p.Title) == "" {
		return oops.Code("PROPERTY_TITLE_REQUIRED").Wrap(errutil.ErrValidation)
	}
	if p.Price != nil && (kind != KindSale || *p.Price <= 0) {
		return oops.Code("PROPERTY_AMOUNT_MISMATCH").With("kind", kind).With("field", "price").Wrap(errutil.ErrValidation)
	}
	if p.RentAmount != nil && (kind != KindRent || *p.RentAmount <= 0) {
		return oops.Code("PROPERTY_AMOUNT_MISMATCH").With("kind", kind).With("field", "rent_amount").Wrap(errutil.ErrValidation)
	}
	return nil
}

// Filters narrows List. MinAmount and MaxAmount compare against price for
// SALE listings and rent for RENT listings.
type Filters struct {
	Status    Status
	Kind      Kind
	SellerID  string
	Location  string
	MinAmount *int64
	MaxAmount *int64
	Page      int
	PageSize  int
}

type ListResult struct {
	Items []Property
	Total int
}

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

func (f Filters) page() (page, size int) {
	page, size = f.Page, f.PageSize
	if page < 1 {
		page = 1
	}
	if size < 1 {
		size = defaultPageSize
	}
	if size > maxPageSize {
		size = maxPageSize
	}
	return page, size
}
