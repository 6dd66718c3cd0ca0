package pg

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"condoflow.io/internal/followup"
	"condoflow.io/internal/magiccode"
	"condoflow.io/internal/workflow"
)

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return NewWithDB(db), mock
}

func TestCodeTouchKeepsSessionMonotonic(t *testing.T) {
	s, mock := newMockStore(t)
	now := time.Now().UTC()

	mock.ExpectExec(`update access_codes.*session_expires_at=greatest\(session_expires_at, \$4\)`).
		WithArgs("code-1", 3, now, now.Add(30*time.Minute)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := s.Codes(context.Background()).Touch(context.Background(), "code-1", 3, now, now.Add(30*time.Minute)); err != nil {
		t.Fatalf("Touch: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestCodeTouchMissingRow(t *testing.T) {
	s, mock := newMockStore(t)
	now := time.Now().UTC()

	mock.ExpectExec(`update access_codes`).
		WithArgs("gone", 1, now, now).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := s.Codes(context.Background()).Touch(context.Background(), "gone", 1, now, now)
	if !errors.Is(err, magiccode.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestAssistanceUpdateLosesRace(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectExec(`update assistances set`).
		WillReturnResult(sqlmock.NewResult(0, 0))

	a := &workflow.Assistance{ID: "a-1", Status: workflow.StatusAccepted, UpdatedAt: time.Now()}
	err := s.Assistances(context.Background()).Update(context.Background(), a, workflow.StatusPending)
	if !errors.Is(err, workflow.ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}
}

func TestQuotationApproveRejectsApprovedSibling(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery(`select assistance_id from quotations`).
		WithArgs("q-2").
		WillReturnRows(sqlmock.NewRows([]string{"assistance_id"}).AddRow("a-1"))
	mock.ExpectQuery(`select exists`).
		WithArgs("a-1").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))
	mock.ExpectRollback()

	err := s.Quotations(context.Background()).Approve(context.Background(), "q-2", time.Now())
	if !errors.Is(err, workflow.ErrQuotationStateConflict) {
		t.Fatalf("expected ErrQuotationStateConflict, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestQuotationApproveMovedOn(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery(`select assistance_id from quotations`).
		WithArgs("q-9").
		WillReturnError(sql.ErrNoRows)
	mock.ExpectRollback()

	err := s.Quotations(context.Background()).Approve(context.Background(), "q-9", time.Now())
	if !errors.Is(err, workflow.ErrQuotationStateConflict) {
		t.Fatalf("expected ErrQuotationStateConflict, got %v", err)
	}
}

func TestQuotationRejectMovedOnAssistance(t *testing.T) {
	s, mock := newMockStore(t)
	now := time.Now().UTC()

	// Quotation is still pending but the assistance left quotation_received;
	// the whole transaction rolls back and the quotation stays untouched.
	mock.ExpectBegin()
	mock.ExpectQuery(`select assistance_id from quotations`).
		WithArgs("q-7").
		WillReturnRows(sqlmock.NewRows([]string{"assistance_id"}).AddRow("a-7"))
	mock.ExpectExec(`update assistances set status='awaiting_quotation'`).
		WithArgs("a-7", now).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	err := s.Quotations(context.Background()).Reject(context.Background(), "q-7", now)
	if !errors.Is(err, workflow.ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestClaimDueReturnsClaimedRows(t *testing.T) {
	s, mock := newMockStore(t)
	now := time.Now().UTC()

	rows := sqlmock.NewRows([]string{
		"id", "assistance_id", "type", "scheduled_for", "next_attempt_at",
		"attempt_count", "max_attempts", "status", "last_sent_at", "created_at", "updated_at",
	}).AddRow("f-1", "a-1", "response", now, now, 0, 5, "processing", nil, now, now)

	mock.ExpectQuery(`update follow_up_schedules set status='processing'`).
		WithArgs(now, 10).
		WillReturnRows(rows)

	claimed, err := s.ClaimDue(context.Background(), now, 10)
	if err != nil {
		t.Fatalf("ClaimDue: %v", err)
	}
	if len(claimed) != 1 || claimed[0].ID != "f-1" || claimed[0].Status != followup.StatusProcessing {
		t.Fatalf("unexpected claim result: %+v", claimed)
	}
	if !claimed[0].LastSentAt.IsZero() {
		t.Fatalf("expected zero LastSentAt, got %v", claimed[0].LastSentAt)
	}
}

func TestScheduleUpdateConflict(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectExec(`update follow_up_schedules set`).
		WillReturnResult(sqlmock.NewResult(0, 0))

	sched := &followup.Schedule{ID: "f-1", Status: followup.StatusSent, UpdatedAt: time.Now()}
	err := s.Update(context.Background(), sched, followup.StatusProcessing)
	if !errors.Is(err, followup.ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
}

func TestFollowUpTarget(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectQuery(`select a.status, a.priority, a.sequence, s.email`).
		WithArgs("a-1").
		WillReturnRows(sqlmock.NewRows([]string{"status", "priority", "sequence", "email"}).
			AddRow("pending", "critical", int64(7), "supplier@example.com"))

	target, err := s.FollowUpTarget(context.Background(), "a-1")
	if err != nil {
		t.Fatalf("FollowUpTarget: %v", err)
	}
	if target.Status != "pending" || target.Priority != "critical" || target.Sequence != 7 {
		t.Fatalf("unexpected target: %+v", target)
	}
	if target.SupplierEmail != "supplier@example.com" {
		t.Fatalf("unexpected supplier email: %s", target.SupplierEmail)
	}
	if target.AdminEmail == "" {
		t.Fatal("expected admin email default")
	}
}
