// Package memory implements the domain stores in process memory with the
// same conditional-update semantics as the Postgres store. It backs tests
// and dependency-free development runs.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"condoflow.io/internal/followup"
	"condoflow.io/internal/magiccode"
	"condoflow.io/internal/workflow"
)

// Store holds everything under one mutex. Conditional status updates are
// checked under the lock, preserving the exactly-one-winner guarantee.
type Store struct {
	// AdminEmail is the escalation recipient reported in follow-up targets.
	AdminEmail string

	mu          sync.Mutex
	suppliers   map[string]*magiccode.Supplier
	codes       map[string]*magiccode.AccessCode
	codesByHash map[string]string
	attempts    []*magiccode.AttemptRecord
	events      []*magiccode.SecurityEvent

	seq         int64
	assistances map[string]*workflow.Assistance
	quotations  map[string]*workflow.Quotation
	responses   []*workflow.SupplierResponse
	logs        []*workflow.LogEntry

	schedules map[string]*followup.Schedule
	reminders []*followup.Reminder
}

// New creates an empty store.
func New() *Store {
	return &Store{
		AdminEmail:  "ops@condoflow.io",
		suppliers:   make(map[string]*magiccode.Supplier),
		codes:       make(map[string]*magiccode.AccessCode),
		codesByHash: make(map[string]string),
		assistances: make(map[string]*workflow.Assistance),
		quotations:  make(map[string]*workflow.Quotation),
		schedules:   make(map[string]*followup.Schedule),
	}
}

var (
	_ magiccode.Store       = (*Store)(nil)
	_ workflow.Store        = (*Store)(nil)
	_ followup.Store        = (*Store)(nil)
	_ followup.TargetReader = (*Store)(nil)
)

// --- magiccode.Store ---

func (s *Store) Suppliers(ctx context.Context) magiccode.SupplierStore { return supplierStore{s} }
func (s *Store) Codes(ctx context.Context) magiccode.CodeStore         { return codeStore{s} }
func (s *Store) Attempts(ctx context.Context) magiccode.AttemptStore   { return attemptStore{s} }
func (s *Store) Events(ctx context.Context) magiccode.EventStore       { return eventStore{s} }

type supplierStore struct{ s *Store }

func (st supplierStore) Create(ctx context.Context, sup *magiccode.Supplier) error {
	st.s.mu.Lock()
	defer st.s.mu.Unlock()
	cp := *sup
	st.s.suppliers[sup.ID] = &cp
	return nil
}

func (st supplierStore) Find(ctx context.Context, id string) (*magiccode.Supplier, error) {
	st.s.mu.Lock()
	defer st.s.mu.Unlock()
	sup, ok := st.s.suppliers[id]
	if !ok {
		return nil, magiccode.ErrNotFound
	}
	cp := *sup
	return &cp, nil
}

func (st supplierStore) LatestOpenAssistance(ctx context.Context, supplierID string) (string, error) {
	st.s.mu.Lock()
	defer st.s.mu.Unlock()
	var best *workflow.Assistance
	for _, a := range st.s.assistances {
		if a.SupplierID != supplierID || a.Status.Terminal() {
			continue
		}
		if best == nil || a.CreatedAt.After(best.CreatedAt) {
			best = a
		}
	}
	if best == nil {
		return "", nil
	}
	return best.ID, nil
}

type codeStore struct{ s *Store }

func (st codeStore) Create(ctx context.Context, code *magiccode.AccessCode) error {
	st.s.mu.Lock()
	defer st.s.mu.Unlock()
	cp := *code
	st.s.codes[code.ID] = &cp
	st.s.codesByHash[code.CodeHash] = code.ID
	return nil
}

func (st codeStore) FindByHash(ctx context.Context, hash string) (*magiccode.AccessCode, error) {
	st.s.mu.Lock()
	defer st.s.mu.Unlock()
	id, ok := st.s.codesByHash[hash]
	if !ok {
		return nil, magiccode.ErrNotFound
	}
	cp := *st.s.codes[id]
	return &cp, nil
}

func (st codeStore) Touch(ctx context.Context, id string, accessCount int, lastUsedAt, sessionExpiresAt time.Time) error {
	st.s.mu.Lock()
	defer st.s.mu.Unlock()
	code, ok := st.s.codes[id]
	if !ok {
		return magiccode.ErrNotFound
	}
	code.AccessCount = accessCount
	code.LastUsedAt = lastUsedAt
	// The session window only ever moves forward.
	if sessionExpiresAt.After(code.SessionExpiresAt) {
		code.SessionExpiresAt = sessionExpiresAt
	}
	return nil
}

func (st codeStore) Bind(ctx context.Context, id, assistanceID string) error {
	st.s.mu.Lock()
	defer st.s.mu.Unlock()
	code, ok := st.s.codes[id]
	if !ok {
		return magiccode.ErrNotFound
	}
	if code.AssistanceID == "" {
		code.AssistanceID = assistanceID
	}
	return nil
}

func (st codeStore) RevokeForSupplier(ctx context.Context, supplierID string, at time.Time) (int, error) {
	st.s.mu.Lock()
	defer st.s.mu.Unlock()
	n := 0
	for _, code := range st.s.codes {
		if code.SupplierID == supplierID && code.RevokedAt.IsZero() {
			code.RevokedAt = at
			n++
		}
	}
	return n, nil
}

type attemptStore struct{ s *Store }

func (st attemptStore) Append(ctx context.Context, rec *magiccode.AttemptRecord) error {
	st.s.mu.Lock()
	defer st.s.mu.Unlock()
	cp := *rec
	st.s.attempts = append(st.s.attempts, &cp)
	return nil
}

func (st attemptStore) CountFailures(ctx context.Context, ip string, since time.Time) (int, error) {
	st.s.mu.Lock()
	defer st.s.mu.Unlock()
	n := 0
	for _, rec := range st.s.attempts {
		if rec.IP == ip && !rec.Success && !rec.OccurredAt.Before(since) {
			n++
		}
	}
	return n, nil
}

type eventStore struct{ s *Store }

func (st eventStore) Append(ctx context.Context, ev *magiccode.SecurityEvent) error {
	st.s.mu.Lock()
	defer st.s.mu.Unlock()
	cp := *ev
	st.s.events = append(st.s.events, &cp)
	return nil
}

func (st eventStore) ExistsSince(ctx context.Context, typ magiccode.EventType, ip string, since time.Time) (bool, error) {
	st.s.mu.Lock()
	defer st.s.mu.Unlock()
	for _, ev := range st.s.events {
		if ev.Type == typ && ev.IP == ip && !ev.OccurredAt.Before(since) {
			return true, nil
		}
	}
	return false, nil
}

// --- workflow.Store ---

func (s *Store) Assistances(ctx context.Context) workflow.AssistanceStore { return assistanceStore{s} }
func (s *Store) Quotations(ctx context.Context) workflow.QuotationStore   { return quotationStore{s} }
func (s *Store) Responses(ctx context.Context) workflow.ResponseStore     { return responseStore{s} }
func (s *Store) Logs(ctx context.Context) workflow.LogStore               { return logStore{s} }
func (s *Store) FollowUps(ctx context.Context) followup.Store             { return s }

type assistanceStore struct{ s *Store }

func (st assistanceStore) Create(ctx context.Context, a *workflow.Assistance) error {
	st.s.mu.Lock()
	defer st.s.mu.Unlock()
	st.s.seq++
	a.Sequence = st.s.seq
	cp := *a
	st.s.assistances[a.ID] = &cp
	return nil
}

func (st assistanceStore) Find(ctx context.Context, id string) (*workflow.Assistance, error) {
	st.s.mu.Lock()
	defer st.s.mu.Unlock()
	a, ok := st.s.assistances[id]
	if !ok {
		return nil, workflow.ErrNotFound
	}
	cp := *a
	return &cp, nil
}

func (st assistanceStore) Update(ctx context.Context, a *workflow.Assistance, from workflow.Status) error {
	st.s.mu.Lock()
	defer st.s.mu.Unlock()
	stored, ok := st.s.assistances[a.ID]
	if !ok {
		return workflow.ErrNotFound
	}
	if stored.Status != from {
		return workflow.ErrInvalidTransition
	}
	cp := *a
	st.s.assistances[a.ID] = &cp
	return nil
}

type quotationStore struct{ s *Store }

func (st quotationStore) Create(ctx context.Context, q *workflow.Quotation) error {
	st.s.mu.Lock()
	defer st.s.mu.Unlock()
	cp := *q
	st.s.quotations[q.ID] = &cp
	return nil
}

func (st quotationStore) Find(ctx context.Context, id string) (*workflow.Quotation, error) {
	st.s.mu.Lock()
	defer st.s.mu.Unlock()
	q, ok := st.s.quotations[id]
	if !ok {
		return nil, workflow.ErrNotFound
	}
	cp := *q
	return &cp, nil
}

func (st quotationStore) ListByAssistance(ctx context.Context, assistanceID string) ([]*workflow.Quotation, error) {
	st.s.mu.Lock()
	defer st.s.mu.Unlock()
	var out []*workflow.Quotation
	for _, q := range st.s.quotations {
		if q.AssistanceID == assistanceID {
			cp := *q
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (st quotationStore) Reject(ctx context.Context, quotationID string, at time.Time) error {
	st.s.mu.Lock()
	defer st.s.mu.Unlock()
	q, ok := st.s.quotations[quotationID]
	if !ok {
		return workflow.ErrNotFound
	}
	if q.Status != workflow.QuotationPending && q.Status != workflow.QuotationSubmitted {
		return workflow.ErrQuotationStateConflict
	}
	a, ok := st.s.assistances[q.AssistanceID]
	if !ok {
		return workflow.ErrNotFound
	}
	if a.Status != workflow.StatusQuotationReceived {
		return workflow.ErrInvalidTransition
	}
	q.Status = workflow.QuotationRejected
	a.Status = workflow.StatusAwaitingQuotation
	a.UpdatedAt = at
	return nil
}

func (st quotationStore) Approve(ctx context.Context, quotationID string, at time.Time) error {
	st.s.mu.Lock()
	defer st.s.mu.Unlock()
	q, ok := st.s.quotations[quotationID]
	if !ok {
		return workflow.ErrNotFound
	}
	if q.Status != workflow.QuotationPending && q.Status != workflow.QuotationSubmitted {
		return workflow.ErrQuotationStateConflict
	}
	for _, sibling := range st.s.quotations {
		if sibling.AssistanceID == q.AssistanceID && sibling.Status == workflow.QuotationApproved {
			return workflow.ErrQuotationStateConflict
		}
	}
	a, ok := st.s.assistances[q.AssistanceID]
	if !ok {
		return workflow.ErrNotFound
	}
	if a.Status != workflow.StatusQuotationReceived {
		return workflow.ErrInvalidTransition
	}
	q.Status = workflow.QuotationApproved
	q.ApprovedAt = at
	a.Status = workflow.StatusAccepted
	a.UpdatedAt = at
	return nil
}

type responseStore struct{ s *Store }

func (st responseStore) Append(ctx context.Context, r *workflow.SupplierResponse) error {
	st.s.mu.Lock()
	defer st.s.mu.Unlock()
	cp := *r
	st.s.responses = append(st.s.responses, &cp)
	return nil
}

type logStore struct{ s *Store }

func (st logStore) Append(ctx context.Context, e *workflow.LogEntry) error {
	st.s.mu.Lock()
	defer st.s.mu.Unlock()
	cp := *e
	st.s.logs = append(st.s.logs, &cp)
	return nil
}

func (st logStore) ListByAssistance(ctx context.Context, assistanceID string) ([]*workflow.LogEntry, error) {
	st.s.mu.Lock()
	defer st.s.mu.Unlock()
	var out []*workflow.LogEntry
	for _, e := range st.s.logs {
		if e.AssistanceID == assistanceID {
			cp := *e
			out = append(out, &cp)
		}
	}
	return out, nil
}

// --- followup.Store ---

func (s *Store) Arm(ctx context.Context, sched *followup.Schedule) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.schedules {
		if existing.AssistanceID == sched.AssistanceID && existing.Type == sched.Type && active(existing.Status) {
			existing.Status = followup.StatusCancelled
			existing.UpdatedAt = sched.CreatedAt
		}
	}
	cp := *sched
	s.schedules[sched.ID] = &cp
	return nil
}

func (s *Store) ClaimDue(ctx context.Context, now time.Time, limit int) ([]*followup.Schedule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var claimable []*followup.Schedule
	for _, sched := range s.schedules {
		if sched.Status == followup.StatusPending && !sched.NextAttemptAt.After(now) {
			claimable = append(claimable, sched)
		}
	}
	sort.Slice(claimable, func(i, j int) bool {
		return claimable[i].NextAttemptAt.Before(claimable[j].NextAttemptAt)
	})
	if limit > 0 && len(claimable) > limit {
		claimable = claimable[:limit]
	}
	out := make([]*followup.Schedule, 0, len(claimable))
	for _, sched := range claimable {
		sched.Status = followup.StatusProcessing
		sched.UpdatedAt = now
		cp := *sched
		out = append(out, &cp)
	}
	return out, nil
}

func (s *Store) Update(ctx context.Context, sched *followup.Schedule, from followup.Status) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored, ok := s.schedules[sched.ID]
	if !ok {
		return followup.ErrNotFound
	}
	if stored.Status != from {
		return followup.ErrConflict
	}
	cp := *sched
	s.schedules[sched.ID] = &cp
	return nil
}

func (s *Store) CancelActive(ctx context.Context, assistanceID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, sched := range s.schedules {
		if sched.AssistanceID == assistanceID && active(sched.Status) {
			sched.Status = followup.StatusCancelled
		}
	}
	return nil
}

func (s *Store) CancelActiveOfType(ctx context.Context, assistanceID string, typ followup.Type) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, sched := range s.schedules {
		if sched.AssistanceID == assistanceID && sched.Type == typ && active(sched.Status) {
			sched.Status = followup.StatusCancelled
		}
	}
	return nil
}

func (s *Store) AppendReminder(ctx context.Context, rem *followup.Reminder) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *rem
	s.reminders = append(s.reminders, &cp)
	return nil
}

// FollowUpTarget implements followup.TargetReader.
func (s *Store) FollowUpTarget(ctx context.Context, assistanceID string) (followup.Target, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.assistances[assistanceID]
	if !ok {
		return followup.Target{}, followup.ErrNotFound
	}
	target := followup.Target{
		Status:     string(a.Status),
		Priority:   string(a.Priority),
		Sequence:   a.Sequence,
		AdminEmail: s.AdminEmail,
	}
	if sup, ok := s.suppliers[a.SupplierID]; ok {
		target.SupplierEmail = sup.Email
	}
	return target, nil
}

func active(st followup.Status) bool {
	return st == followup.StatusPending || st == followup.StatusProcessing
}

// --- test/introspection helpers ---

// SecurityEvents returns a snapshot of recorded security events.
func (s *Store) SecurityEvents() []magiccode.SecurityEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]magiccode.SecurityEvent, 0, len(s.events))
	for _, ev := range s.events {
		out = append(out, *ev)
	}
	return out
}

// AttemptRecords returns a snapshot of the attempt ledger.
func (s *Store) AttemptRecords() []magiccode.AttemptRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]magiccode.AttemptRecord, 0, len(s.attempts))
	for _, rec := range s.attempts {
		out = append(out, *rec)
	}
	return out
}

// Reminders returns a snapshot of emitted reminder records.
func (s *Store) Reminders() []followup.Reminder {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]followup.Reminder, 0, len(s.reminders))
	for _, rem := range s.reminders {
		out = append(out, *rem)
	}
	return out
}

// Schedules returns a snapshot of all follow-up schedules.
func (s *Store) Schedules() []followup.Schedule {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]followup.Schedule, 0, len(s.schedules))
	for _, sched := range s.schedules {
		out = append(out, *sched)
	}
	return out
}

// TransitionLog returns a snapshot of the transition log for an assistance.
func (s *Store) TransitionLog(assistanceID string) []workflow.LogEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []workflow.LogEntry
	for _, e := range s.logs {
		if e.AssistanceID == assistanceID {
			out = append(out, *e)
		}
	}
	return out
}

// CodeByHash returns a snapshot of a stored access code, for tests.
func (s *Store) CodeByHash(hash string) (magiccode.AccessCode, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.codesByHash[hash]
	if !ok {
		return magiccode.AccessCode{}, false
	}
	return *s.codes[id], true
}
