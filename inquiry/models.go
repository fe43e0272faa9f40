package inquiry

import (
	"strings"
	"time"

	"github.com/samber/oops"

	"propertyhub/errutil"
)

type Status string

const (
	StatusOpen     Status = "OPEN"
	StatusResolved Status = "RESOLVED"
	StatusArchived Status = "ARCHIVED"
)

func (s Status) Valid() bool {
	switch s {
	case StatusOpen, StatusResolved, StatusArchived:
		return true
	}
	return false
}

// CanTransition reports whether from may move to to. Inquiries only move
// forward: OPEN to RESOLVED or ARCHIVED, RESOLVED to ARCHIVED.
func CanTransition(from, to Status) bool {
	switch from {
	case StatusOpen:
		return to == StatusResolved || to == StatusArchived
	case StatusResolved:
		return to == StatusArchived
	}
	return false
}

type Inquiry struct {
	ID         string
	PropertyID string
	SenderID   string
	Message    string
	Status     Status
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

type CreateParams struct {
	PropertyID string
	SenderID   string
	Message    string
}

func (p CreateParams) Validate() error {
	if p.PropertyID == "" || p.SenderID == "" {
		return oops.Code("INQUIRY_FIELDS_REQUIRED").Wrap(errutil.ErrValidation)
	}
	if strings.TrimSpace(p.Message) == "" {
		return oops.Code("INQUIRY_MESSAGE_REQUIRED").Wrap(errutil.ErrValidation)
	}
	return nil
}

type Filters struct {
	PropertyID string
	SenderID   string
	Status     Status
}
