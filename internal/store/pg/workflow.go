package pg

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"condoflow.io/internal/followup"
	"condoflow.io/internal/workflow"
)

func (s *Store) Assistances(ctx context.Context) workflow.AssistanceStore { return pgAssistances{s} }
func (s *Store) Quotations(ctx context.Context) workflow.QuotationStore   { return pgQuotations{s} }
func (s *Store) Responses(ctx context.Context) workflow.ResponseStore     { return pgResponses{s} }
func (s *Store) Logs(ctx context.Context) workflow.LogStore               { return pgLogs{s} }
func (s *Store) FollowUps(ctx context.Context) followup.Store             { return s }

type pgAssistances struct{ s *Store }

const assistanceColumns = `id, sequence, building_id, intervention_type, supplier_id, priority, status, description,
	requires_quotation, quotation_requested_at, quotation_deadline, quotation_follow_up_count,
	scheduled_start, scheduled_end, actual_start, actual_end, completed_at,
	follow_up_count, last_follow_up_sent, response_deadline,
	requires_validation, validated_at, validated_by,
	notes, created_at, updated_at`

func (p pgAssistances) Create(ctx context.Context, a *workflow.Assistance) error {
	return p.s.db.QueryRowContext(ctx, `
		insert into assistances(
			id, building_id, intervention_type, supplier_id, priority, status, description,
			requires_quotation, response_deadline, requires_validation, notes, created_at, updated_at
		) values ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$12)
		returning sequence
	`, a.ID, a.BuildingID, a.InterventionType, nullStr(a.SupplierID), string(a.Priority),
		string(a.Status), a.Description, a.RequiresQuotation, nullTime(a.ResponseDeadline),
		a.RequiresValidation, a.Notes, a.CreatedAt).Scan(&a.Sequence)
}

func (p pgAssistances) Find(ctx context.Context, id string) (*workflow.Assistance, error) {
	row := p.s.db.QueryRowContext(ctx, `select `+assistanceColumns+` from assistances where id=$1`, id)
	a, err := scanAssistance(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, workflow.ErrNotFound
	}
	return a, err
}

func (p pgAssistances) Update(ctx context.Context, a *workflow.Assistance, from workflow.Status) error {
	res, err := p.s.db.ExecContext(ctx, `
		update assistances set
			supplier_id=$3, priority=$4, status=$5, description=$6,
			requires_quotation=$7, quotation_requested_at=$8, quotation_deadline=$9, quotation_follow_up_count=$10,
			scheduled_start=$11, scheduled_end=$12, actual_start=$13, actual_end=$14, completed_at=$15,
			follow_up_count=$16, last_follow_up_sent=$17, response_deadline=$18,
			requires_validation=$19, validated_at=$20, validated_by=$21,
			notes=$22, updated_at=$23
		where id=$1 and status=$2
	`, a.ID, string(from),
		nullStr(a.SupplierID), string(a.Priority), string(a.Status), a.Description,
		a.RequiresQuotation, nullTime(a.QuotationRequestedAt), nullTime(a.QuotationDeadline), a.QuotationFollowUpCount,
		nullTime(a.ScheduledStart), nullTime(a.ScheduledEnd), nullTime(a.ActualStart), nullTime(a.ActualEnd), nullTime(a.CompletedAt),
		a.FollowUpCount, nullTime(a.LastFollowUpSent), nullTime(a.ResponseDeadline),
		a.RequiresValidation, nullTime(a.ValidatedAt), nullStr(a.ValidatedBy),
		a.Notes, a.UpdatedAt)
	if err != nil {
		return err
	}
	return requireRow(res, workflow.ErrInvalidTransition)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAssistance(row rowScanner) (*workflow.Assistance, error) {
	var a workflow.Assistance
	var supplierID, validatedBy sql.NullString
	var quotReq, quotDeadline, schedStart, schedEnd, actStart, actEnd, completed,
		lastFollowUp, respDeadline, validated sql.NullTime
	err := row.Scan(&a.ID, &a.Sequence, &a.BuildingID, &a.InterventionType, &supplierID,
		&a.Priority, &a.Status, &a.Description,
		&a.RequiresQuotation, &quotReq, &quotDeadline, &a.QuotationFollowUpCount,
		&schedStart, &schedEnd, &actStart, &actEnd, &completed,
		&a.FollowUpCount, &lastFollowUp, &respDeadline,
		&a.RequiresValidation, &validated, &validatedBy,
		&a.Notes, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return nil, err
	}
	a.SupplierID = strVal(supplierID)
	a.ValidatedBy = strVal(validatedBy)
	a.QuotationRequestedAt = timeVal(quotReq)
	a.QuotationDeadline = timeVal(quotDeadline)
	a.ScheduledStart = timeVal(schedStart)
	a.ScheduledEnd = timeVal(schedEnd)
	a.ActualStart = timeVal(actStart)
	a.ActualEnd = timeVal(actEnd)
	a.CompletedAt = timeVal(completed)
	a.LastFollowUpSent = timeVal(lastFollowUp)
	a.ResponseDeadline = timeVal(respDeadline)
	return &a, nil
}

type pgQuotations struct{ s *Store }

const quotationColumns = `id, assistance_id, supplier_id, amount_cents, status, validity_days, submitted_at, approved_at, notes, created_at`

func (p pgQuotations) Create(ctx context.Context, q *workflow.Quotation) error {
	_, err := p.s.db.ExecContext(ctx, `
		insert into quotations(id, assistance_id, supplier_id, amount_cents, status, validity_days, submitted_at, notes, created_at)
		values ($1,$2,$3,$4,$5,$6,$7,$8,$9)
	`, q.ID, q.AssistanceID, q.SupplierID, q.AmountCents, string(q.Status),
		q.ValidityDays, nullTime(q.SubmittedAt), q.Notes, q.CreatedAt)
	return err
}

func (p pgQuotations) Find(ctx context.Context, id string) (*workflow.Quotation, error) {
	row := p.s.db.QueryRowContext(ctx, `select `+quotationColumns+` from quotations where id=$1`, id)
	q, err := scanQuotation(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, workflow.ErrNotFound
	}
	return q, err
}

func (p pgQuotations) ListByAssistance(ctx context.Context, assistanceID string) ([]*workflow.Quotation, error) {
	rows, err := p.s.db.QueryContext(ctx, `
		select `+quotationColumns+` from quotations
		where assistance_id=$1 order by created_at asc
	`, assistanceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*workflow.Quotation
	for rows.Next() {
		q, err := scanQuotation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, q)
	}
	return out, rows.Err()
}

// Reject flips the quotation to rejected and its assistance back to
// awaiting_quotation in one transaction. Fails without touching either row
// when the quotation or the assistance has moved on.
func (p pgQuotations) Reject(ctx context.Context, quotationID string, at time.Time) error {
	tx, err := p.s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	var assistanceID string
	err = tx.QueryRowContext(ctx, `
		select assistance_id from quotations
		where id=$1 and status in ('pending','submitted')
		for update
	`, quotationID).Scan(&assistanceID)
	if errors.Is(err, sql.ErrNoRows) {
		return workflow.ErrQuotationStateConflict
	}
	if err != nil {
		return err
	}

	res, err := tx.ExecContext(ctx, `
		update assistances set status='awaiting_quotation', updated_at=$2
		where id=$1 and status='quotation_received'
	`, assistanceID, at)
	if err != nil {
		return err
	}
	if err := requireRow(res, workflow.ErrInvalidTransition); err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx, `
		update quotations set status='rejected' where id=$1
	`, quotationID); err != nil {
		return err
	}

	return tx.Commit()
}

// Approve flips the quotation to approved and its assistance to accepted in
// one transaction. Fails when a sibling is already approved or either row has
// moved on.
func (p pgQuotations) Approve(ctx context.Context, quotationID string, at time.Time) error {
	tx, err := p.s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	var assistanceID string
	err = tx.QueryRowContext(ctx, `
		select assistance_id from quotations
		where id=$1 and status in ('pending','submitted')
		for update
	`, quotationID).Scan(&assistanceID)
	if errors.Is(err, sql.ErrNoRows) {
		return workflow.ErrQuotationStateConflict
	}
	if err != nil {
		return err
	}

	var approvedSibling bool
	if err := tx.QueryRowContext(ctx, `
		select exists(
			select 1 from quotations where assistance_id=$1 and status='approved'
		)
	`, assistanceID).Scan(&approvedSibling); err != nil {
		return err
	}
	if approvedSibling {
		return workflow.ErrQuotationStateConflict
	}

	res, err := tx.ExecContext(ctx, `
		update assistances set status='accepted', updated_at=$2
		where id=$1 and status='quotation_received'
	`, assistanceID, at)
	if err != nil {
		return err
	}
	if err := requireRow(res, workflow.ErrInvalidTransition); err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx, `
		update quotations set status='approved', approved_at=$2 where id=$1
	`, quotationID, at); err != nil {
		return err
	}

	return tx.Commit()
}

func scanQuotation(row rowScanner) (*workflow.Quotation, error) {
	var q workflow.Quotation
	var submitted, approved sql.NullTime
	err := row.Scan(&q.ID, &q.AssistanceID, &q.SupplierID, &q.AmountCents, &q.Status,
		&q.ValidityDays, &submitted, &approved, &q.Notes, &q.CreatedAt)
	if err != nil {
		return nil, err
	}
	q.SubmittedAt = timeVal(submitted)
	q.ApprovedAt = timeVal(approved)
	return &q, nil
}

type pgResponses struct{ s *Store }

func (p pgResponses) Append(ctx context.Context, r *workflow.SupplierResponse) error {
	_, err := p.s.db.ExecContext(ctx, `
		insert into supplier_responses(id, assistance_id, supplier_id, accepted, reason, occurred_at)
		values ($1,$2,$3,$4,$5,$6)
	`, r.ID, r.AssistanceID, r.SupplierID, r.Accepted, r.Reason, r.OccurredAt)
	return err
}

type pgLogs struct{ s *Store }

func (p pgLogs) Append(ctx context.Context, e *workflow.LogEntry) error {
	_, err := p.s.db.ExecContext(ctx, `
		insert into assistance_logs(id, assistance_id, event, from_status, to_status, actor_kind, actor_id, notes, occurred_at)
		values ($1,$2,$3,$4,$5,$6,$7,$8,$9)
	`, e.ID, e.AssistanceID, string(e.Event), string(e.From), string(e.To),
		string(e.ActorKind), e.ActorID, e.Notes, e.OccurredAt)
	return err
}

func (p pgLogs) ListByAssistance(ctx context.Context, assistanceID string) ([]*workflow.LogEntry, error) {
	rows, err := p.s.db.QueryContext(ctx, `
		select id, assistance_id, event, from_status, to_status, actor_kind, actor_id, notes, occurred_at
		from assistance_logs where assistance_id=$1 order by occurred_at asc
	`, assistanceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*workflow.LogEntry
	for rows.Next() {
		var e workflow.LogEntry
		if err := rows.Scan(&e.ID, &e.AssistanceID, &e.Event, &e.From, &e.To,
			&e.ActorKind, &e.ActorID, &e.Notes, &e.OccurredAt); err != nil {
			return nil, err
		}
		out = append(out, &e)
	}
	return out, rows.Err()
}
