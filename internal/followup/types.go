package followup

import (
	"context"
	"errors"
	"time"
)

// Type enumerates reminder kinds.
type Type string

const (
	TypeResponse     Type = "response"
	TypeQuotation    Type = "quotation"
	TypeWorkReminder Type = "work_reminder"
)

// Status enumerates schedule states. A schedule is claimed by moving it from
// pending to processing with a conditional update, which is what makes the
// sweep idempotent under at-least-once invocation.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusSent       Status = "sent"
	StatusExhausted  Status = "exhausted"
	StatusCancelled  Status = "cancelled"
)

// Schedule is a persisted pending reminder for one assistance and type.
// At most one active schedule exists per (assistance, type).
type Schedule struct {
	ID            string
	AssistanceID  string
	Type          Type
	ScheduledFor  time.Time
	NextAttemptAt time.Time
	AttemptCount  int
	MaxAttempts   int
	Status        Status
	LastSentAt    time.Time
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Reminder is a durable record handed to the external notifier.
type Reminder struct {
	ID           string
	AssistanceID string
	Type         Type
	Recipient    string
	TemplateID   string
	Payload      map[string]string
	Escalation   bool
	CreatedAt    time.Time
}

var (
	ErrNotFound  = errors.New("followup: not found")
	ErrConflict  = errors.New("followup: concurrent update")
	ErrExhausted = errors.New("followup: schedule exhausted")
)

// Store describes persistence for schedules and emitted reminders.
type Store interface {
	// Arm installs a fresh schedule, cancelling any active one for the same
	// (assistance, type).
	Arm(ctx context.Context, sched *Schedule) error
	// ClaimDue atomically moves due pending schedules to processing and
	// returns them. A concurrent sweep observes no claimable rows.
	ClaimDue(ctx context.Context, now time.Time, limit int) ([]*Schedule, error)
	// Update persists the schedule iff its stored status matches from.
	Update(ctx context.Context, sched *Schedule, from Status) error
	// CancelActive cancels all pending/processing schedules of an assistance.
	CancelActive(ctx context.Context, assistanceID string) error
	// CancelActiveOfType cancels the active schedule of one type, if any.
	CancelActiveOfType(ctx context.Context, assistanceID string, typ Type) error
	AppendReminder(ctx context.Context, rem *Reminder) error
}

// Assistance status values the sweeper keys on. This package does not
// import the workflow package; a test there pins these to the workflow
// status strings.
const (
	TargetStatusPending           = "pending"
	TargetStatusAwaitingQuotation = "awaiting_quotation"
	TargetStatusAccepted          = "accepted"
	TargetStatusScheduled         = "scheduled"
	TargetStatusInProgress        = "in_progress"
)

// Target is what the sweeper needs to know about an assistance to decide
// whether a reminder is still warranted and how to address it.
type Target struct {
	Status        string
	Priority      string
	Sequence      int64
	SupplierEmail string
	AdminEmail    string
}

// TargetReader resolves sweep targets. Implemented by the stores.
type TargetReader interface {
	FollowUpTarget(ctx context.Context, assistanceID string) (Target, error)
}
