package notify

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/samber/oops"
	"github.com/sony/gobreaker"
	"gopkg.in/gomail.v2"

	"propertyhub/config"
)

type dialer interface {
	DialAndSend(m ...*gomail.Message) error
}

// SMTPSender sends through an SMTP relay behind a circuit breaker so a dead
// relay fails fast instead of tying up every notice until its timeout.
type SMTPSender struct {
	from    string
	dialer  dialer
	breaker *gobreaker.CircuitBreaker
}

func NewSMTPSender(cfg config.Email, logger *slog.Logger) *SMTPSender {
	return newSMTPSender(cfg, gomail.NewDialer(cfg.Host, cfg.Port, cfg.Username, cfg.Password), logger)
}

func newSMTPSender(cfg config.Email, d dialer, logger *slog.Logger) *SMTPSender {
	failures := cfg.BreakerFailures
	if failures == 0 {
		failures = 5
	}
	cooldown := cfg.BreakerCooldown
	if cooldown <= 0 {
		cooldown = 30 * time.Second
	}
	return &SMTPSender{
		from:   cfg.From,
		dialer: d,
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        "smtp",
			MaxRequests: 1,
			Timeout:     cooldown,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= failures
			},
			OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
				logger.Warn("circuit breaker state changed", "breaker", name, "from", from.String(), "to", to.String())
			},
		}),
	}
}

func (s *SMTPSender) Send(ctx context.Context, to []string, subject, body string) error {
	if err := ctx.Err(); err != nil {
		return oops.Code("EMAIL_SEND_FAILED").With("subject", subject).Wrap(err)
	}

	m := gomail.NewMessage()
	m.SetHeader("From", s.from)
	m.SetHeader("To", to...)
	m.SetHeader("Subject", subject)
	m.SetBody("text/plain", body)

	_, err := s.breaker.Execute(func() (interface{}, error) {
		return nil, s.dialer.DialAndSend(m)
	})
	if err == nil {
		return nil
	}
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return oops.Code("EMAIL_BREAKER_OPEN").With("subject", subject).Wrap(err)
	}
	return oops.Code("EMAIL_SEND_FAILED").With("subject", subject).With("recipients", len(to)).Wrap(err)
}
