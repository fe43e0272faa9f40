package agreement

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/samber/oops"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"propertyhub/coordinator"
	"propertyhub/db"
	"propertyhub/errutil"
	"propertyhub/metrics"
	"propertyhub/notify"
	"propertyhub/timeline"
)

// SetStatus ends an ACTIVE agreement as TERMINATED or EXPIRED and frees the
// property. A property that something else already moved away from RENTED
// keeps its status.
func (m *Manager) SetStatus(ctx context.Context, id string, status Status) (Agreement, error) {
	ctx, span := m.tracer.Start(ctx, "agreement.set_status", trace.WithAttributes(
		attribute.String("agreement_id", id),
		attribute.String("status", string(status)),
	))
	defer span.End()

	if !status.Valid() {
		return Agreement{}, oops.Code("AGREEMENT_STATUS_INVALID").With("status", status).Wrap(errutil.ErrValidation)
	}
	if status == StatusActive {
		return Agreement{}, oops.Code("AGREEMENT_TRANSITION_INVALID").
			With("agreement_id", id).
			With("to", status).
			Wrap(errutil.ErrInvalidState)
	}
	if !db.ValidID(id) {
		return Agreement{}, notFound(id)
	}

	a, _, err := m.end(ctx, id, status, nil)
	return a, err
}

// ExpireDue expires every ACTIVE agreement whose end date precedes asOf and
// returns how many it transitioned. Each agreement ends in its own unit of
// work and the end date is checked again under the lock, so agreements that
// were extended or terminated since the scan are skipped.
func (m *Manager) ExpireDue(ctx context.Context, asOf time.Time) (int, error) {
	due, err := m.repo.ExpiringBefore(ctx, m.pool, asOf)
	if err != nil {
		return 0, err
	}

	var (
		n    int
		errs []error
	)
	for _, a := range due {
		_, changed, err := m.end(ctx, a.ID, StatusExpired, &asOf)
		if err != nil {
			errutil.LogError(m.logger, "agreement expiry failed", err)
			errs = append(errs, err)
			continue
		}
		if changed {
			n++
		}
	}

	metrics.RecordSweepRows("agreement_expiry", n)
	if n > 0 {
		m.logger.InfoContext(ctx, "expired agreements", "count", n, "as_of", asOf)
	}
	return n, errors.Join(errs...)
}

// end moves id from ACTIVE to status. With dueBy set it is a sweep write:
// an agreement that is no longer ACTIVE or no longer past its end date is
// left alone instead of failing.
func (m *Manager) end(ctx context.Context, id string, status Status, dueBy *time.Time) (Agreement, bool, error) {
	cause := "terminate"
	if status == StatusExpired {
		cause = "expire"
	}

	var (
		ended   Agreement
		changed bool
		outcome coordinator.Outcome
	)
	err := m.tx.InTx(ctx, "agreement."+cause, func(ctx context.Context, tx pgx.Tx) error {
		changed = false

		a, err := m.lockWithProperty(ctx, tx, id)
		if err != nil {
			return err
		}
		if dueBy != nil && (a.Status != StatusActive || !a.EndDate().Before(*dueBy)) {
			ended = a
			return nil
		}
		if a.Status != StatusActive {
			return notActive(a)
		}

		ended, err = m.repo.UpdateStatus(ctx, tx, id, StatusActive, status, m.now().UTC())
		if err != nil {
			return err
		}
		if err := m.appendEvent(ctx, tx, ended, StatusActive, cause); err != nil {
			return err
		}

		outcome, err = m.coord.Apply(ctx, tx, coordinator.Change{
			Transition: coordinator.AgreementEnded,
			PropertyID: ended.PropertyID,
			EntityID:   ended.ID,
		})
		if err != nil {
			return err
		}
		changed = true
		return nil
	})
	if err != nil {
		return Agreement{}, false, err
	}
	if !changed {
		return ended, false, nil
	}

	outcome.Record()
	metrics.RecordEntityTransition(timeline.EntityAgreement, string(StatusActive), string(status))
	m.notifier.Notify(ctx, notify.Notice{
		Kind:       notify.AgreementStatusChanged,
		PropertyID: ended.PropertyID,
		EntityID:   ended.ID,
		Status:     string(ended.Status),
		Amount:     ended.Rent,
		Recipients: []string{ended.TenantID, ended.LandlordID},
	})
	return ended, true, nil
}
