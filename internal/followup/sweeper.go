package followup

import (
	"context"
	"strconv"
	"time"

	"go.uber.org/zap"

	"condoflow.io/internal/ids"
	"condoflow.io/internal/notify"
	"condoflow.io/internal/obs"
)

const defaultBatchSize = 100

// templates per reminder kind; rendering belongs to the external notifier.
const (
	templateResponseReminder  = "assistance_response_reminder"
	templateQuotationReminder = "quotation_reminder"
	templateWorkReminder      = "work_reminder"
	templateEscalation        = "followup_exhausted_escalation"
)

// Sweeper drives due follow-up schedules. It holds no state between runs;
// an external timer or cron invokes Run.
type Sweeper struct {
	store    Store
	targets  TargetReader
	notifier notify.Notifier
	log      *zap.Logger
	now      func() time.Time
	batch    int
}

// SweeperOption configures a Sweeper.
type SweeperOption func(*Sweeper)

// WithClock overrides the time source (useful for tests).
func WithClock(fn func() time.Time) SweeperOption {
	return func(s *Sweeper) {
		if fn != nil {
			s.now = fn
		}
	}
}

// WithBatchSize caps how many schedules one run claims.
func WithBatchSize(n int) SweeperOption {
	return func(s *Sweeper) {
		if n > 0 {
			s.batch = n
		}
	}
}

// WithLogger overrides the shared logger.
func WithLogger(l *zap.Logger) SweeperOption {
	return func(s *Sweeper) {
		if l != nil {
			s.log = l
		}
	}
}

// NewSweeper constructs a Sweeper.
func NewSweeper(store Store, targets TargetReader, notifier notify.Notifier, opts ...SweeperOption) *Sweeper {
	s := &Sweeper{
		store:    store,
		targets:  targets,
		notifier: notifier,
		log:      obs.Logger(),
		now:      time.Now,
		batch:    defaultBatchSize,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Stats summarizes one sweep run.
type Stats struct {
	Claimed   int
	Sent      int
	Cancelled int
	Exhausted int
	Errors    int
}

// Run performs one sweep: claim due schedules, re-verify the triggering
// condition, emit reminders, recompute cadence. Safe to invoke concurrently;
// the claim makes duplicate work impossible.
func (s *Sweeper) Run(ctx context.Context) (Stats, error) {
	now := s.now().UTC()
	due, err := s.store.ClaimDue(ctx, now, s.batch)
	if err != nil {
		return Stats{}, err
	}

	var stats Stats
	stats.Claimed = len(due)
	for _, sched := range due {
		if err := s.process(ctx, sched, now, &stats); err != nil {
			stats.Errors++
			s.log.Error("follow-up processing failed",
				zap.String("schedule_id", sched.ID),
				zap.String("assistance_id", sched.AssistanceID),
				zap.Error(err))
			// Release the claim so a later sweep retries.
			sched.Status = StatusPending
			sched.UpdatedAt = now
			if relErr := s.store.Update(ctx, sched, StatusProcessing); relErr != nil {
				s.log.Error("follow-up claim release failed",
					zap.String("schedule_id", sched.ID), zap.Error(relErr))
			}
		}
	}
	return stats, nil
}

func (s *Sweeper) process(ctx context.Context, sched *Schedule, now time.Time, stats *Stats) error {
	target, err := s.targets.FollowUpTarget(ctx, sched.AssistanceID)
	if err != nil {
		return err
	}

	if !conditionHolds(sched.Type, target.Status) {
		// The need evaporated; stop reminding.
		sched.Status = StatusCancelled
		sched.UpdatedAt = now
		if err := s.store.Update(ctx, sched, StatusProcessing); err != nil {
			return err
		}
		stats.Cancelled++
		return nil
	}

	if sched.AttemptCount >= sched.MaxAttempts {
		if err := s.exhaust(ctx, sched, target, now); err != nil {
			return err
		}
		stats.Exhausted++
		return nil
	}

	rem := &Reminder{
		ID:           ids.New(),
		AssistanceID: sched.AssistanceID,
		Type:         sched.Type,
		Recipient:    target.SupplierEmail,
		TemplateID:   templateFor(sched.Type),
		Payload: map[string]string{
			"assistance_id": sched.AssistanceID,
			"sequence":      strconv.FormatInt(target.Sequence, 10),
			"attempt":       strconv.Itoa(sched.AttemptCount + 1),
			"priority":      target.Priority,
		},
		CreatedAt: now,
	}
	if err := s.store.AppendReminder(ctx, rem); err != nil {
		return err
	}

	// Dispatch is fire-and-forget; retries belong to the notifier.
	if err := s.notifier.Notify(ctx, rem.Recipient, rem.TemplateID, rem.Payload); err != nil {
		s.log.Warn("reminder dispatch failed",
			zap.String("reminder_id", rem.ID), zap.Error(err))
	}

	sched.AttemptCount++
	sched.LastSentAt = now
	sched.NextAttemptAt = NextAttempt(sched.Type, target.Priority, sched.AttemptCount, now)
	sched.Status = StatusPending
	sched.UpdatedAt = now
	if err := s.store.Update(ctx, sched, StatusProcessing); err != nil {
		return err
	}
	obs.Reminder(string(sched.Type))
	stats.Sent++
	return nil
}

// exhaust marks the schedule exhausted and emits an escalation record for
// admins instead of silently stopping.
func (s *Sweeper) exhaust(ctx context.Context, sched *Schedule, target Target, now time.Time) error {
	rem := &Reminder{
		ID:           ids.New(),
		AssistanceID: sched.AssistanceID,
		Type:         sched.Type,
		Recipient:    target.AdminEmail,
		TemplateID:   templateEscalation,
		Payload: map[string]string{
			"assistance_id": sched.AssistanceID,
			"sequence":      strconv.FormatInt(target.Sequence, 10),
			"attempts":      strconv.Itoa(sched.AttemptCount),
			"type":          string(sched.Type),
		},
		Escalation: true,
		CreatedAt:  now,
	}
	if err := s.store.AppendReminder(ctx, rem); err != nil {
		return err
	}
	if err := s.notifier.Notify(ctx, rem.Recipient, rem.TemplateID, rem.Payload); err != nil {
		s.log.Warn("escalation dispatch failed",
			zap.String("reminder_id", rem.ID), zap.Error(err))
	}

	sched.Status = StatusExhausted
	sched.UpdatedAt = now
	if err := s.store.Update(ctx, sched, StatusProcessing); err != nil {
		return err
	}
	s.log.Warn("follow-up schedule exhausted",
		zap.String("schedule_id", sched.ID),
		zap.String("assistance_id", sched.AssistanceID),
		zap.String("type", string(sched.Type)),
		zap.Error(ErrExhausted))
	return nil
}

// conditionHolds reports whether the assistance is still in a state the
// reminder type targets.
func conditionHolds(typ Type, status string) bool {
	switch typ {
	case TypeResponse:
		return status == TargetStatusPending
	case TypeQuotation:
		return status == TargetStatusAwaitingQuotation
	case TypeWorkReminder:
		return status == TargetStatusAccepted || status == TargetStatusScheduled ||
			status == TargetStatusInProgress
	default:
		return false
	}
}

func templateFor(typ Type) string {
	switch typ {
	case TypeQuotation:
		return templateQuotationReminder
	case TypeWorkReminder:
		return templateWorkReminder
	default:
		return templateResponseReminder
	}
}
