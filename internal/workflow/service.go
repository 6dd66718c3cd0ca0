package workflow

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"

	"condoflow.io/internal/followup"
	"condoflow.io/internal/ids"
	"condoflow.io/internal/magiccode"
	"condoflow.io/internal/obs"
)

// Authenticator re-validates the supplier credential. Every mutating supplier
// action runs through it; there is no bearer-token caching beyond the session
// expiry persisted on the code itself.
type Authenticator interface {
	Validate(ctx context.Context, code, ip, userAgent string) (magiccode.Session, error)
}

// SupplierCall carries the presented credential for a portal operation. The
// code is the entire credential.
type SupplierCall struct {
	Code      string
	IP        string
	UserAgent string
}

// Service applies guarded transitions to assistance tickets.
type Service struct {
	store Store
	auth  Authenticator
	now   func() time.Time
	log   *zap.Logger
}

// ServiceOption configures Service behavior.
type ServiceOption func(*Service)

// WithClock overrides the time source (useful for tests).
func WithClock(fn func() time.Time) ServiceOption {
	return func(s *Service) {
		if fn != nil {
			s.now = fn
		}
	}
}

// WithLogger overrides the shared logger.
func WithLogger(l *zap.Logger) ServiceOption {
	return func(s *Service) {
		if l != nil {
			s.log = l
		}
	}
}

// NewService constructs a Service.
func NewService(store Store, auth Authenticator, opts ...ServiceOption) *Service {
	s := &Service{
		store: store,
		auth:  auth,
		now:   time.Now,
		log:   obs.Logger(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CreateAssistance registers a new ticket in the pending state and arms the
// response follow-up when a supplier is already assigned.
func (s *Service) CreateAssistance(ctx context.Context, a *Assistance) (*Assistance, error) {
	if a.BuildingID == "" || a.InterventionType == "" {
		return nil, ErrInvalidInput
	}
	now := s.now().UTC()
	if a.ID == "" {
		a.ID = ids.New()
	}
	if a.Priority == "" {
		a.Priority = PriorityNormal
	}
	a.Status = StatusPending
	a.CreatedAt = now
	a.UpdatedAt = now
	if err := s.store.Assistances(ctx).Create(ctx, a); err != nil {
		return nil, err
	}

	if a.SupplierID != "" {
		sched := followup.NewSchedule(ids.New(), a.ID, followup.TypeResponse, string(a.Priority), now)
		if err := s.store.FollowUps(ctx).Arm(ctx, sched); err != nil {
			return nil, err
		}
	}
	return a, nil
}

// Assistance returns a ticket by id.
func (s *Service) Assistance(ctx context.Context, id string) (*Assistance, error) {
	return s.store.Assistances(ctx).Find(ctx, id)
}

// TransitionLog returns a ticket's transition history in order.
func (s *Service) TransitionLog(ctx context.Context, assistanceID string) ([]*LogEntry, error) {
	if _, err := s.store.Assistances(ctx).Find(ctx, assistanceID); err != nil {
		return nil, err
	}
	return s.store.Logs(ctx).ListByAssistance(ctx, assistanceID)
}

// Quotations lists a ticket's quotations with lazy expiry applied.
func (s *Service) Quotations(ctx context.Context, assistanceID string) ([]*Quotation, error) {
	quotes, err := s.store.Quotations(ctx).ListByAssistance(ctx, assistanceID)
	if err != nil {
		return nil, err
	}
	now := s.now().UTC()
	for _, q := range quotes {
		q.Status = q.EffectiveStatus(now)
	}
	return quotes, nil
}

// --- admin operations ---

// RequestQuotation moves the ticket into awaiting_quotation and arms the
// quotation follow-up.
func (s *Service) RequestQuotation(ctx context.Context, actor Actor, assistanceID string, deadline time.Time, notes string) (*Assistance, error) {
	a, err := s.store.Assistances(ctx).Find(ctx, assistanceID)
	if err != nil {
		return nil, err
	}
	if a.RequiresQuotation {
		return nil, ErrInvalidTransition
	}
	now := s.now().UTC()
	err = s.apply(ctx, a, actor, EventRequestQuotation, notes, func(a *Assistance) {
		a.RequiresQuotation = true
		a.QuotationRequestedAt = now
		a.QuotationDeadline = deadline
	})
	if err != nil {
		return nil, err
	}
	sched := followup.NewSchedule(ids.New(), a.ID, followup.TypeQuotation, string(a.Priority), now)
	if err := s.store.FollowUps(ctx).Arm(ctx, sched); err != nil {
		return nil, err
	}
	return a, nil
}

// ApproveQuotation approves one quotation and advances its assistance from
// quotation_received through quotation_approved to accepted in a single
// guarded step. At most one quotation per assistance may hold approved;
// pending siblings are left untouched for explicit admin rejection.
func (s *Service) ApproveQuotation(ctx context.Context, actor Actor, quotationID, notes string) (*Quotation, error) {
	q, err := s.store.Quotations(ctx).Find(ctx, quotationID)
	if err != nil {
		return nil, err
	}
	now := s.now().UTC()
	if st := q.EffectiveStatus(now); st != QuotationPending && st != QuotationSubmitted {
		return nil, ErrQuotationStateConflict
	}
	a, err := s.store.Assistances(ctx).Find(ctx, q.AssistanceID)
	if err != nil {
		return nil, err
	}
	if tr, ok := transitionFor(a.Status, EventApproveQuotation); !ok || tr.Actor != actor.Kind {
		return nil, ErrInvalidTransition
	}

	if err := s.store.Quotations(ctx).Approve(ctx, q.ID, now); err != nil {
		return nil, err
	}
	q.Status = QuotationApproved
	q.ApprovedAt = now

	s.appendLog(ctx, a.ID, EventApproveQuotation, a.Status, StatusQuotationApproved, actor, notes, now)
	s.appendLog(ctx, a.ID, EventApproveQuotation, StatusQuotationApproved, StatusAccepted, actor, "", now)
	obs.Transition(string(EventApproveQuotation))
	return q, nil
}

// RejectQuotation rejects one quotation, returns the ticket to
// awaiting_quotation and re-arms the quotation follow-up.
func (s *Service) RejectQuotation(ctx context.Context, actor Actor, quotationID, notes string) error {
	q, err := s.store.Quotations(ctx).Find(ctx, quotationID)
	if err != nil {
		return err
	}
	now := s.now().UTC()
	if st := q.EffectiveStatus(now); st != QuotationPending && st != QuotationSubmitted {
		return ErrQuotationStateConflict
	}
	a, err := s.store.Assistances(ctx).Find(ctx, q.AssistanceID)
	if err != nil {
		return err
	}
	if tr, ok := transitionFor(a.Status, EventRejectQuotation); !ok || tr.Actor != actor.Kind {
		return ErrInvalidTransition
	}

	if err := s.store.Quotations(ctx).Reject(ctx, q.ID, now); err != nil {
		return err
	}
	q.Status = QuotationRejected

	s.appendLog(ctx, a.ID, EventRejectQuotation, a.Status, StatusAwaitingQuotation, actor, notes, now)
	obs.Transition(string(EventRejectQuotation))
	sched := followup.NewSchedule(ids.New(), a.ID, followup.TypeQuotation, string(a.Priority), now)
	return s.store.FollowUps(ctx).Arm(ctx, sched)
}

// ScheduleWork records the agreed window and moves the ticket to scheduled.
func (s *Service) ScheduleWork(ctx context.Context, actor Actor, assistanceID string, start, end time.Time, notes string) error {
	if start.IsZero() || (!end.IsZero() && end.Before(start)) {
		return ErrInvalidInput
	}
	a, err := s.store.Assistances(ctx).Find(ctx, assistanceID)
	if err != nil {
		return err
	}
	err = s.apply(ctx, a, actor, EventSchedule, notes, func(a *Assistance) {
		a.ScheduledStart = start
		a.ScheduledEnd = end
	})
	if err != nil {
		return err
	}
	now := s.now().UTC()
	sched := followup.NewSchedule(ids.New(), a.ID, followup.TypeWorkReminder, string(a.Priority), now)
	return s.store.FollowUps(ctx).Arm(ctx, sched)
}

// ValidateCompletion closes a ticket awaiting validation.
func (s *Service) ValidateCompletion(ctx context.Context, actor Actor, assistanceID, notes string) error {
	a, err := s.store.Assistances(ctx).Find(ctx, assistanceID)
	if err != nil {
		return err
	}
	now := s.now().UTC()
	return s.apply(ctx, a, actor, EventValidate, notes, func(a *Assistance) {
		a.ValidatedAt = now
		a.ValidatedBy = actor.ID
		a.CompletedAt = now
	})
}

// Cancel moves any non-terminal ticket to cancelled and drops its active
// follow-ups. Terminal.
func (s *Service) Cancel(ctx context.Context, actor Actor, assistanceID, notes string) error {
	a, err := s.store.Assistances(ctx).Find(ctx, assistanceID)
	if err != nil {
		return err
	}
	if err := s.apply(ctx, a, actor, EventCancel, notes, nil); err != nil {
		return err
	}
	return s.store.FollowUps(ctx).CancelActive(ctx, a.ID)
}

// --- supplier operations (code re-validated on every call) ---

// Accept records the assigned supplier's acceptance.
func (s *Service) Accept(ctx context.Context, call SupplierCall, notes string) (*Assistance, error) {
	a, session, err := s.supplierAssistance(ctx, call)
	if err != nil {
		return nil, err
	}
	actor := Actor{Kind: ActorSupplier, ID: session.Supplier.ID}
	if err := s.apply(ctx, a, actor, EventSupplierAccept, notes, nil); err != nil {
		return nil, err
	}
	now := s.now().UTC()
	if err := s.store.Responses(ctx).Append(ctx, &SupplierResponse{
		ID:           ids.New(),
		AssistanceID: a.ID,
		SupplierID:   session.Supplier.ID,
		Accepted:     true,
		OccurredAt:   now,
	}); err != nil {
		return nil, err
	}
	return a, s.store.FollowUps(ctx).CancelActiveOfType(ctx, a.ID, followup.TypeResponse)
}

// Decline records a refusal; a reason is required and the ticket is
// cancelled.
func (s *Service) Decline(ctx context.Context, call SupplierCall, reason string) error {
	if strings.TrimSpace(reason) == "" {
		return ErrReasonRequired
	}
	a, session, err := s.supplierAssistance(ctx, call)
	if err != nil {
		return err
	}
	actor := Actor{Kind: ActorSupplier, ID: session.Supplier.ID}
	if err := s.apply(ctx, a, actor, EventSupplierDecline, reason, nil); err != nil {
		return err
	}
	now := s.now().UTC()
	if err := s.store.Responses(ctx).Append(ctx, &SupplierResponse{
		ID:           ids.New(),
		AssistanceID: a.ID,
		SupplierID:   session.Supplier.ID,
		Accepted:     false,
		Reason:       reason,
		OccurredAt:   now,
	}); err != nil {
		return err
	}
	return s.store.FollowUps(ctx).CancelActive(ctx, a.ID)
}

// SubmitQuotation files a priced proposal and moves the ticket to
// quotation_received.
func (s *Service) SubmitQuotation(ctx context.Context, call SupplierCall, amountCents int64, validityDays int, notes string) (*Quotation, error) {
	if amountCents <= 0 {
		return nil, ErrInvalidAmount
	}
	a, session, err := s.supplierAssistance(ctx, call)
	if err != nil {
		return nil, err
	}
	actor := Actor{Kind: ActorSupplier, ID: session.Supplier.ID}
	if err := s.apply(ctx, a, actor, EventSubmitQuotation, notes, nil); err != nil {
		return nil, err
	}
	now := s.now().UTC()
	q := &Quotation{
		ID:           ids.New(),
		AssistanceID: a.ID,
		SupplierID:   session.Supplier.ID,
		AmountCents:  amountCents,
		Status:       QuotationPending,
		ValidityDays: validityDays,
		SubmittedAt:  now,
		Notes:        notes,
		CreatedAt:    now,
	}
	if err := s.store.Quotations(ctx).Create(ctx, q); err != nil {
		return nil, err
	}
	return q, s.store.FollowUps(ctx).CancelActiveOfType(ctx, a.ID, followup.TypeQuotation)
}

// StartWork moves an accepted or scheduled ticket into execution. A ticket
// that requires a quotation cannot start before one is approved.
func (s *Service) StartWork(ctx context.Context, call SupplierCall, notes string) (*Assistance, error) {
	a, session, err := s.supplierAssistance(ctx, call)
	if err != nil {
		return nil, err
	}
	if a.RequiresQuotation {
		approved, err := s.hasApprovedQuotation(ctx, a.ID)
		if err != nil {
			return nil, err
		}
		if !approved {
			return nil, ErrInvalidTransition
		}
	}
	actor := Actor{Kind: ActorSupplier, ID: session.Supplier.ID}
	now := s.now().UTC()
	err = s.apply(ctx, a, actor, EventStartWork, notes, func(a *Assistance) {
		a.ActualStart = now
	})
	if err != nil {
		return nil, err
	}
	return a, nil
}

// Complete finishes the work. Tickets requiring validation park in
// awaiting_validation; others complete immediately.
func (s *Service) Complete(ctx context.Context, call SupplierCall, notes string) (*Assistance, error) {
	a, session, err := s.supplierAssistance(ctx, call)
	if err != nil {
		return nil, err
	}
	actor := Actor{Kind: ActorSupplier, ID: session.Supplier.ID}
	now := s.now().UTC()
	err = s.apply(ctx, a, actor, EventCompleteWork, notes, func(a *Assistance) {
		a.ActualEnd = now
		if a.Status == StatusCompleted {
			a.CompletedAt = now
		}
	})
	if err != nil {
		return nil, err
	}
	return a, s.store.FollowUps(ctx).CancelActive(ctx, a.ID)
}

// CancelBySupplier lets the assigned supplier cancel a non-terminal ticket.
func (s *Service) CancelBySupplier(ctx context.Context, call SupplierCall, reason string) error {
	a, session, err := s.supplierAssistance(ctx, call)
	if err != nil {
		return err
	}
	actor := Actor{Kind: ActorSupplier, ID: session.Supplier.ID}
	if err := s.apply(ctx, a, actor, EventCancel, reason, nil); err != nil {
		return err
	}
	return s.store.FollowUps(ctx).CancelActive(ctx, a.ID)
}

// --- internals ---

// apply runs one guarded transition: table lookup, actor check, conditional
// update against the currently persisted status, then the attributable log
// entry. A losing racer gets ErrInvalidTransition and must re-read.
func (s *Service) apply(ctx context.Context, a *Assistance, actor Actor, ev Event, notes string, mutate func(*Assistance)) error {
	tr, ok := transitionFor(a.Status, ev)
	if !ok {
		return ErrInvalidTransition
	}
	if tr.Actor != "" && tr.Actor != actor.Kind {
		return ErrInvalidTransition
	}

	from := a.Status
	to := tr.To
	if ev == EventCompleteWork && a.RequiresValidation {
		to = StatusAwaitingValidation
	}

	now := s.now().UTC()
	a.Status = to
	a.UpdatedAt = now
	if mutate != nil {
		mutate(a)
	}
	if err := s.store.Assistances(ctx).Update(ctx, a, from); err != nil {
		a.Status = from
		return err
	}

	s.appendLog(ctx, a.ID, ev, from, to, actor, notes, now)
	obs.Transition(string(ev))
	s.log.Info("assistance transition",
		zap.String("assistance_id", a.ID),
		zap.String("event", string(ev)),
		zap.String("from", string(from)),
		zap.String("to", string(to)),
		zap.String("actor_kind", string(actor.Kind)),
		zap.String("actor_id", actor.ID))
	return nil
}

func (s *Service) appendLog(ctx context.Context, assistanceID string, ev Event, from, to Status, actor Actor, notes string, now time.Time) {
	entry := &LogEntry{
		ID:           ids.New(),
		AssistanceID: assistanceID,
		Event:        ev,
		From:         from,
		To:           to,
		ActorKind:    actor.Kind,
		ActorID:      actor.ID,
		Notes:        notes,
		OccurredAt:   now,
	}
	if err := s.store.Logs(ctx).Append(ctx, entry); err != nil {
		s.log.Error("transition log append failed",
			zap.String("assistance_id", assistanceID), zap.Error(err))
	}
}

// supplierAssistance re-validates the code and resolves the bound ticket,
// checking the caller is the assigned supplier.
func (s *Service) supplierAssistance(ctx context.Context, call SupplierCall) (*Assistance, magiccode.Session, error) {
	session, err := s.auth.Validate(ctx, call.Code, call.IP, call.UserAgent)
	if err != nil {
		return nil, magiccode.Session{}, err
	}
	if session.AssistanceID == "" {
		return nil, magiccode.Session{}, ErrNotFound
	}
	a, err := s.store.Assistances(ctx).Find(ctx, session.AssistanceID)
	if err != nil {
		return nil, magiccode.Session{}, err
	}
	if a.SupplierID != session.Supplier.ID {
		return nil, magiccode.Session{}, ErrInvalidTransition
	}
	return a, session, nil
}

func (s *Service) hasApprovedQuotation(ctx context.Context, assistanceID string) (bool, error) {
	quotes, err := s.store.Quotations(ctx).ListByAssistance(ctx, assistanceID)
	if err != nil {
		return false, err
	}
	for _, q := range quotes {
		if q.Status == QuotationApproved {
			return true, nil
		}
	}
	return false, nil
}
