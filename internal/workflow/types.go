package workflow

import "time"

// Status is the closed set of assistance states.
type Status string

const (
	StatusPending            Status = "pending"
	StatusAwaitingQuotation  Status = "awaiting_quotation"
	StatusQuotationReceived  Status = "quotation_received"
	StatusQuotationApproved  Status = "quotation_approved"
	StatusAccepted           Status = "accepted"
	StatusScheduled          Status = "scheduled"
	StatusInProgress         Status = "in_progress"
	StatusAwaitingValidation Status = "awaiting_validation"
	StatusCompleted          Status = "completed"
	StatusCancelled          Status = "cancelled"
)

// Terminal reports whether the state admits no outgoing transitions.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

// Priority drives the follow-up cadence.
type Priority string

const (
	PriorityNormal   Priority = "normal"
	PriorityUrgent   Priority = "urgent"
	PriorityCritical Priority = "critical"
)

// Event is the single enumerated intent shared by all entry points. No
// free-text re-derivation of intent across layers.
type Event string

const (
	EventSupplierAccept   Event = "supplier_accept"
	EventSupplierDecline  Event = "supplier_decline"
	EventRequestQuotation Event = "request_quotation"
	EventSubmitQuotation  Event = "submit_quotation"
	EventApproveQuotation Event = "approve_quotation"
	EventRejectQuotation  Event = "reject_quotation"
	EventSchedule         Event = "schedule"
	EventStartWork        Event = "start_work"
	EventCompleteWork     Event = "complete_work"
	EventValidate         Event = "validate"
	EventCancel           Event = "cancel"
)

// ActorKind distinguishes the two kinds of authenticated callers.
type ActorKind string

const (
	ActorAdmin    ActorKind = "admin"
	ActorSupplier ActorKind = "supplier"
)

// Actor is the attributable identity behind a transition.
type Actor struct {
	Kind ActorKind
	ID   string
}

// Assistance is a maintenance ticket.
type Assistance struct {
	ID               string
	Sequence         int64
	BuildingID       string
	InterventionType string
	SupplierID       string // empty when unassigned
	Priority         Priority
	Status           Status
	Description      string

	RequiresQuotation      bool
	QuotationRequestedAt   time.Time
	QuotationDeadline      time.Time
	QuotationFollowUpCount int

	ScheduledStart time.Time
	ScheduledEnd   time.Time
	ActualStart    time.Time
	ActualEnd      time.Time
	CompletedAt    time.Time

	FollowUpCount    int
	LastFollowUpSent time.Time
	ResponseDeadline time.Time

	RequiresValidation bool
	ValidatedAt        time.Time
	ValidatedBy        string

	Notes     string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// QuotationStatus is the closed set of quotation states.
type QuotationStatus string

const (
	QuotationPending   QuotationStatus = "pending"
	QuotationSubmitted QuotationStatus = "submitted"
	QuotationApproved  QuotationStatus = "approved"
	QuotationRejected  QuotationStatus = "rejected"
	QuotationExpired   QuotationStatus = "expired"
)

// Quotation is a supplier's priced proposal. Amounts are minor units, no
// floats.
type Quotation struct {
	ID           string
	AssistanceID string
	SupplierID   string
	AmountCents  int64
	Status       QuotationStatus
	ValidityDays int
	SubmittedAt  time.Time
	ApprovedAt   time.Time
	Notes        string
	CreatedAt    time.Time
}

// EffectiveStatus applies lazy expiry: a quotation whose validity window
// elapsed while still pending/submitted reads as expired. Checked on read,
// never by a background job.
func (q *Quotation) EffectiveStatus(now time.Time) QuotationStatus {
	if q.ValidityDays <= 0 {
		return q.Status
	}
	if q.Status != QuotationPending && q.Status != QuotationSubmitted {
		return q.Status
	}
	base := q.SubmittedAt
	if base.IsZero() {
		base = q.CreatedAt
	}
	if now.After(base.AddDate(0, 0, q.ValidityDays)) {
		return QuotationExpired
	}
	return q.Status
}

// SupplierResponse records an accept/decline answer.
type SupplierResponse struct {
	ID           string
	AssistanceID string
	SupplierID   string
	Accepted     bool
	Reason       string
	OccurredAt   time.Time
}

// LogEntry is one append-only row of the transition log. Every transition is
// attributable to an actor.
type LogEntry struct {
	ID           string
	AssistanceID string
	Event        Event
	From         Status
	To           Status
	ActorKind    ActorKind
	ActorID      string
	Notes        string
	OccurredAt   time.Time
}
