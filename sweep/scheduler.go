// Package sweep runs the periodic maintenance passes: expiring stale
// offers, archiving old resolved inquiries and, when enabled, expiring
// agreements past their end date.
package sweep

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/samber/oops"

	"propertyhub/config"
	"propertyhub/errutil"
)

// Job is one named maintenance pass. Run reports how many rows it changed.
type Job struct {
	Name string
	Run  func(ctx context.Context) (int, error)
}

type OfferExpirer interface {
	ExpireStale(ctx context.Context, maxAge time.Duration) (int, error)
}

type InquiryArchiver interface {
	ArchiveResolvedOlderThan(ctx context.Context, retention time.Duration) (int, error)
}

type AgreementExpirer interface {
	ExpireDue(ctx context.Context, asOf time.Time) (int, error)
}

// Jobs builds the standard passes from cfg. agreements may be nil, and the
// agreement pass is only scheduled when cfg.AutoExpireAgreements is set.
func Jobs(cfg config.Sweep, offers OfferExpirer, inquiries InquiryArchiver, agreements AgreementExpirer, now func() time.Time) []Job {
	if now == nil {
		now = time.Now
	}
	jobs := []Job{
		{Name: "offer_expiry", Run: func(ctx context.Context) (int, error) {
			return offers.ExpireStale(ctx, cfg.OfferMaxAge)
		}},
		{Name: "inquiry_archival", Run: func(ctx context.Context) (int, error) {
			return inquiries.ArchiveResolvedOlderThan(ctx, cfg.InquiryRetention)
		}},
	}
	if cfg.AutoExpireAgreements && agreements != nil {
		jobs = append(jobs, Job{Name: "agreement_expiry", Run: func(ctx context.Context) (int, error) {
			return agreements.ExpireDue(ctx, now().UTC())
		}})
	}
	return jobs
}

// Scheduler runs a fixed set of jobs on an interval.
type Scheduler struct {
	jobs     []Job
	interval time.Duration
	logger   *slog.Logger

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

func NewScheduler(interval time.Duration, logger *slog.Logger, jobs ...Job) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{jobs: jobs, interval: interval, logger: logger}
}

// Start runs one pass immediately and then one per interval until Stop is
// called or ctx is done. Calling Start on a running scheduler is a no-op.
func (s *Scheduler) Start(ctx context.Context) error {
	if s.interval <= 0 {
		return oops.Code("SWEEP_INTERVAL_INVALID").With("interval", s.interval.String()).Wrap(errutil.ErrValidation)
	}

	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = true
	s.stopCh = make(chan struct{})
	s.doneCh = make(chan struct{})
	stop, done := s.stopCh, s.doneCh
	s.mu.Unlock()

	go s.run(ctx, stop, done)
	return nil
}

// Stop halts the loop and waits for an in-flight pass to finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if s.running {
		s.running = false
		close(s.stopCh)
	}
	done := s.doneCh
	s.mu.Unlock()

	if done != nil {
		<-done
	}
}

// Running reports whether the loop is active.
func (s *Scheduler) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// RunOnce executes every job once, in order. A failing job does not stop
// the ones after it; counts are reported for all of them alongside the
// joined errors.
func (s *Scheduler) RunOnce(ctx context.Context) (map[string]int, error) {
	counts := make(map[string]int, len(s.jobs))
	var errs []error
	for _, job := range s.jobs {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		start := time.Now()
		n, err := job.Run(ctx)
		counts[job.Name] = n
		if err != nil {
			errs = append(errs, oops.Code("SWEEP_JOB_FAILED").With("job", job.Name).With("changed", n).Wrap(err))
			continue
		}
		s.logger.DebugContext(ctx, "sweep job finished", "job", job.Name, "changed", n, "duration", time.Since(start))
	}
	return counts, errors.Join(errs...)
}

func (s *Scheduler) run(ctx context.Context, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	s.pass(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ctx.Done():
			s.mu.Lock()
			// A newer Start may already own the loop.
			if s.stopCh == stop {
				s.running = false
			}
			s.mu.Unlock()
			return
		case <-ticker.C:
			s.pass(ctx)
		}
	}
}

func (s *Scheduler) pass(ctx context.Context) {
	counts, err := s.RunOnce(ctx)
	if err != nil {
		errutil.LogError(s.logger, "sweep pass failed", err)
	}
	s.logger.InfoContext(ctx, "sweep pass complete", "counts", counts)
}
