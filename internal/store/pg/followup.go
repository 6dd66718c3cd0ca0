package pg

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"condoflow.io/internal/followup"
)

func (s *Store) Arm(ctx context.Context, sched *followup.Schedule) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `
		update follow_up_schedules set status='cancelled', updated_at=$3
		where assistance_id=$1 and type=$2 and status in ('pending','processing')
	`, sched.AssistanceID, string(sched.Type), sched.CreatedAt); err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx, `
		insert into follow_up_schedules(id, assistance_id, type, scheduled_for, next_attempt_at,
			attempt_count, max_attempts, status, created_at, updated_at)
		values ($1,$2,$3,$4,$5,$6,$7,$8,$9,$9)
	`, sched.ID, sched.AssistanceID, string(sched.Type), sched.ScheduledFor, sched.NextAttemptAt,
		sched.AttemptCount, sched.MaxAttempts, string(sched.Status), sched.CreatedAt); err != nil {
		return err
	}

	return tx.Commit()
}

// ClaimDue flips due pending rows to processing and returns them. The
// skip locked clause keeps concurrent sweeps from claiming the same row.
func (s *Store) ClaimDue(ctx context.Context, now time.Time, limit int) ([]*followup.Schedule, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		update follow_up_schedules set status='processing', updated_at=$1
		where id in (
			select id from follow_up_schedules
			where status='pending' and next_attempt_at <= $1
			order by next_attempt_at asc
			limit $2
			for update skip locked
		)
		returning id, assistance_id, type, scheduled_for, next_attempt_at,
			attempt_count, max_attempts, status, last_sent_at, created_at, updated_at
	`, now, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*followup.Schedule
	for rows.Next() {
		sched, err := scanSchedule(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, sched)
	}
	return out, rows.Err()
}

func (s *Store) Update(ctx context.Context, sched *followup.Schedule, from followup.Status) error {
	res, err := s.db.ExecContext(ctx, `
		update follow_up_schedules set next_attempt_at=$3, attempt_count=$4, status=$5,
			last_sent_at=$6, updated_at=$7
		where id=$1 and status=$2
	`, sched.ID, string(from), sched.NextAttemptAt, sched.AttemptCount, string(sched.Status),
		nullTime(sched.LastSentAt), sched.UpdatedAt)
	if err != nil {
		return err
	}
	return requireRow(res, followup.ErrConflict)
}

func (s *Store) CancelActive(ctx context.Context, assistanceID string) error {
	_, err := s.db.ExecContext(ctx, `
		update follow_up_schedules set status='cancelled', updated_at=now()
		where assistance_id=$1 and status in ('pending','processing')
	`, assistanceID)
	return err
}

func (s *Store) CancelActiveOfType(ctx context.Context, assistanceID string, typ followup.Type) error {
	_, err := s.db.ExecContext(ctx, `
		update follow_up_schedules set status='cancelled', updated_at=now()
		where assistance_id=$1 and type=$2 and status in ('pending','processing')
	`, assistanceID, string(typ))
	return err
}

func (s *Store) AppendReminder(ctx context.Context, rem *followup.Reminder) error {
	payload, err := json.Marshal(rem.Payload)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		insert into reminders(id, assistance_id, type, recipient, template_id, payload, escalation, created_at)
		values ($1,$2,$3,$4,$5,$6,$7,$8)
	`, rem.ID, rem.AssistanceID, string(rem.Type), rem.Recipient, rem.TemplateID,
		payload, rem.Escalation, rem.CreatedAt)
	return err
}

// FollowUpTarget implements followup.TargetReader.
func (s *Store) FollowUpTarget(ctx context.Context, assistanceID string) (followup.Target, error) {
	var target followup.Target
	var email sql.NullString
	err := s.db.QueryRowContext(ctx, `
		select a.status, a.priority, a.sequence, s.email
		from assistances a
		left join suppliers s on s.id = a.supplier_id
		where a.id=$1
	`, assistanceID).Scan(&target.Status, &target.Priority, &target.Sequence, &email)
	if errors.Is(err, sql.ErrNoRows) {
		return followup.Target{}, followup.ErrNotFound
	}
	if err != nil {
		return followup.Target{}, err
	}
	target.SupplierEmail = strVal(email)
	target.AdminEmail = s.AdminEmail
	return target, nil
}

func scanSchedule(row rowScanner) (*followup.Schedule, error) {
	var sched followup.Schedule
	var lastSent sql.NullTime
	err := row.Scan(&sched.ID, &sched.AssistanceID, &sched.Type, &sched.ScheduledFor,
		&sched.NextAttemptAt, &sched.AttemptCount, &sched.MaxAttempts, &sched.Status,
		&lastSent, &sched.CreatedAt, &sched.UpdatedAt)
	if err != nil {
		return nil, err
	}
	sched.LastSentAt = timeVal(lastSent)
	return &sched, nil
}
