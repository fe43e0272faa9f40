// Package notify delivers best-effort emails about offer, agreement and
// inquiry events after their unit of work has committed.
package notify

import (
	"context"
	"fmt"
	"strings"
)

type Kind string

const (
	OfferCreated           Kind = "offer_created"
	OfferStatusChanged     Kind = "offer_status_changed"
	AgreementCreated       Kind = "agreement_created"
	AgreementStatusChanged Kind = "agreement_status_changed"
	InquiryCreated         Kind = "inquiry_created"
	InquiryStatusChanged   Kind = "inquiry_status_changed"
)

// Notice describes one event. Recipients are user ids; the dispatcher
// resolves them to addresses.
type Notice struct {
	Kind       Kind
	PropertyID string
	EntityID   string
	Status     string
	Amount     int64
	Message    string
	Recipients []string
}

// Notifier accepts notices. Implementations must not block the caller on
// delivery and must not report delivery failures.
type Notifier interface {
	Notify(ctx context.Context, n Notice)
}

// Nop drops every notice.
type Nop struct{}

func (Nop) Notify(context.Context, Notice) {}

// Render builds the subject and plain-text body for n. title is the
// property title, or "" when it could not be loaded.
func Render(n Notice, title string) (subject, body string) {
	if title == "" {
		title = "your listing"
	}
	status := strings.ToLower(n.Status)

	switch n.Kind {
	case OfferCreated:
		subject = fmt.Sprintf("New offer on %s", title)
		body = fmt.Sprintf("An offer of %s was made on %s.", formatAmount(n.Amount), title)
		if n.Message != "" {
			body += "\n\nTerms: " + n.Message
		}
	case OfferStatusChanged:
		subject = fmt.Sprintf("Offer %s: %s", status, title)
		body = fmt.Sprintf("The offer of %s on %s is now %s.", formatAmount(n.Amount), title, status)
	case AgreementCreated:
		subject = fmt.Sprintf("Rental agreement signed: %s", title)
		body = fmt.Sprintf("A rental agreement for %s at %s per month is now active.", title, formatAmount(n.Amount))
		if n.Message != "" {
			body += "\n\n" + n.Message
		}
	case AgreementStatusChanged:
		subject = fmt.Sprintf("Rental agreement %s: %s", status, title)
		body = fmt.Sprintf("The rental agreement for %s is now %s.", title, status)
	case InquiryCreated:
		subject = fmt.Sprintf("New inquiry about %s", title)
		body = fmt.Sprintf("A new inquiry was received about %s:\n\n%s", title, n.Message)
	case InquiryStatusChanged:
		subject = fmt.Sprintf("Inquiry %s: %s", status, title)
		body = fmt.Sprintf("Your inquiry about %s is now %s.", title, status)
	default:
		subject = fmt.Sprintf("Update on %s", title)
		body = fmt.Sprintf("There is an update on %s.", title)
	}
	return subject, body
}

// formatAmount renders minor units with two decimals and thousands separators.
func formatAmount(minor int64) string {
	sign := ""
	if minor < 0 {
		sign = "-"
		minor = -minor
	}
	whole := fmt.Sprintf("%d", minor/100)
	var b strings.Builder
	for i, r := range whole {
		if i > 0 && (len(whole)-i)%3 == 0 {
			b.WriteByte(',')
		}
		b.WriteRune(r)
	}
	return fmt.Sprintf("%s%s.%02d", sign, b.String(), minor%100)
}
