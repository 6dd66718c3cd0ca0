package followup

import (
	"testing"
	"time"
)

func TestDelayTables(t *testing.T) {
	cases := []struct {
		typ      Type
		priority string
		want     time.Duration
	}{
		{TypeResponse, PriorityCritical, 2 * time.Hour},
		{TypeResponse, PriorityUrgent, 8 * time.Hour},
		{TypeResponse, PriorityNormal, 24 * time.Hour},
		{TypeQuotation, PriorityCritical, 12 * time.Hour},
		{TypeQuotation, PriorityNormal, 48 * time.Hour},
		{TypeWorkReminder, PriorityCritical, 6 * time.Hour},
		{TypeWorkReminder, PriorityNormal, 72 * time.Hour},
		// Unknown priority falls back to normal.
		{TypeResponse, "whenever", 24 * time.Hour},
	}
	for _, tc := range cases {
		if got := Delay(tc.typ, tc.priority); got != tc.want {
			t.Fatalf("Delay(%s, %s) = %v, want %v", tc.typ, tc.priority, got, tc.want)
		}
	}
}

func TestNextAttemptScalesLinearly(t *testing.T) {
	base := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

	// First reminder at base+X, n-th at base+nX.
	if got := NextAttempt(TypeResponse, PriorityCritical, 0, base); got != base.Add(2*time.Hour) {
		t.Fatalf("first attempt at %v", got)
	}
	if got := NextAttempt(TypeResponse, PriorityCritical, 2, base); got != base.Add(6*time.Hour) {
		t.Fatalf("third attempt at %v", got)
	}
}

func TestNewSchedule(t *testing.T) {
	base := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	sched := NewSchedule("f-1", "a-1", TypeQuotation, PriorityUrgent, base)

	if sched.Status != StatusPending {
		t.Fatalf("status = %s", sched.Status)
	}
	if sched.NextAttemptAt != base.Add(24*time.Hour) {
		t.Fatalf("next attempt = %v", sched.NextAttemptAt)
	}
	if sched.MaxAttempts != 4 {
		t.Fatalf("max attempts = %d", sched.MaxAttempts)
	}
}

func TestMaxAttempts(t *testing.T) {
	if MaxAttempts(TypeResponse) != 5 || MaxAttempts(TypeQuotation) != 4 || MaxAttempts(TypeWorkReminder) != 3 {
		t.Fatal("unexpected attempt caps")
	}
}
