package workflow

import (
	"context"
	"time"

	"condoflow.io/internal/followup"
)

// Store describes persistence operations required by the workflow engine.
// Status changes go through conditional updates so two concurrent transition
// attempts from the same source state cannot both succeed.
type Store interface {
	Assistances(ctx context.Context) AssistanceStore
	Quotations(ctx context.Context) QuotationStore
	Responses(ctx context.Context) ResponseStore
	Logs(ctx context.Context) LogStore
	FollowUps(ctx context.Context) followup.Store
}

// AssistanceStore manages assistance records.
type AssistanceStore interface {
	Create(ctx context.Context, a *Assistance) error
	Find(ctx context.Context, id string) (*Assistance, error)
	// Update persists the record iff the stored status equals from. A
	// conditional-update miss surfaces ErrInvalidTransition to the losing
	// racer.
	Update(ctx context.Context, a *Assistance, from Status) error
}

// QuotationStore manages quotations.
type QuotationStore interface {
	Create(ctx context.Context, q *Quotation) error
	Find(ctx context.Context, id string) (*Quotation, error)
	ListByAssistance(ctx context.Context, assistanceID string) ([]*Quotation, error)
	// Approve atomically marks the quotation approved and its assistance
	// accepted, guarded on quotation=pending|submitted, no approved sibling,
	// and assistance=quotation_received.
	Approve(ctx context.Context, quotationID string, at time.Time) error
	// Reject atomically marks the quotation rejected and returns its
	// assistance to awaiting_quotation, guarded on quotation=pending|submitted
	// and assistance=quotation_received. Neither row changes on failure.
	Reject(ctx context.Context, quotationID string, at time.Time) error
}

// ResponseStore appends supplier accept/decline records.
type ResponseStore interface {
	Append(ctx context.Context, r *SupplierResponse) error
}

// LogStore appends transition log entries.
type LogStore interface {
	Append(ctx context.Context, e *LogEntry) error
	ListByAssistance(ctx context.Context, assistanceID string) ([]*LogEntry, error)
}
