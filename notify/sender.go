package notify

import (
	"context"
	"errors"
	"log/slog"

	"github.com/samber/oops"

	"propertyhub/config"
)

// Sender delivers one message to a set of addresses.
type Sender interface {
	Send(ctx context.Context, to []string, subject, body string) error
}

// LogSender writes messages to the log instead of sending them. It is used
// when email is disabled.
type LogSender struct {
	logger *slog.Logger
}

func NewLogSender(logger *slog.Logger) *LogSender {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogSender{logger: logger}
}

func (s *LogSender) Send(ctx context.Context, to []string, subject, body string) error {
	s.logger.InfoContext(ctx, "email", "to", to, "subject", subject, "body", body)
	return nil
}

// CompositeSender hands every message to each sender in turn.
type CompositeSender struct {
	senders []Sender
}

func NewCompositeSender(senders ...Sender) *CompositeSender {
	cs := &CompositeSender{}
	for _, s := range senders {
		cs.Add(s)
	}
	return cs
}

func (cs *CompositeSender) Add(s Sender) {
	if s != nil {
		cs.senders = append(cs.senders, s)
	}
}

func (cs *CompositeSender) Send(ctx context.Context, to []string, subject, body string) error {
	if len(cs.senders) == 0 {
		return oops.Code("EMAIL_NO_SENDERS").Errorf("no senders configured")
	}
	var errs []error
	for _, s := range cs.senders {
		if err := s.Send(ctx, to, subject, body); err != nil {
			errs = append(errs, err)
		}
	}
	if err := errors.Join(errs...); err != nil {
		return oops.Code("EMAIL_SEND_FAILED").With("failed", len(errs)).Wrap(err)
	}
	return nil
}

// NewSender builds the sender for cfg: a logging sender when email is
// disabled, otherwise SMTP plus a debug log of every message.
func NewSender(cfg config.Email, logger *slog.Logger) Sender {
	if logger == nil {
		logger = slog.Default()
	}
	if !cfg.Enabled {
		logger.Info("email disabled, notices will be logged")
		return NewLogSender(logger)
	}
	return NewCompositeSender(
		NewSMTPSender(cfg, logger),
		NewLogSender(logger.With("sender", "audit")),
	)
}
