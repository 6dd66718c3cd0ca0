package followup

import "time"

// Priorities accepted by the cadence tables. Unknown priorities fall back to
// the normal cadence.
const (
	PriorityNormal   = "normal"
	PriorityUrgent   = "urgent"
	PriorityCritical = "critical"
)

// baseDelay holds the first-reminder delay per type and priority. The n-th
// reminder is scheduled at n times the base delay from the base timestamp.
var baseDelay = map[Type]map[string]time.Duration{
	TypeResponse: {
		PriorityCritical: 2 * time.Hour,
		PriorityUrgent:   8 * time.Hour,
		PriorityNormal:   24 * time.Hour,
	},
	TypeQuotation: {
		PriorityCritical: 12 * time.Hour,
		PriorityUrgent:   24 * time.Hour,
		PriorityNormal:   48 * time.Hour,
	},
	TypeWorkReminder: {
		PriorityCritical: 6 * time.Hour,
		PriorityUrgent:   24 * time.Hour,
		PriorityNormal:   72 * time.Hour,
	},
}

var maxAttemptsByType = map[Type]int{
	TypeResponse:     5,
	TypeQuotation:    4,
	TypeWorkReminder: 3,
}

// Delay returns the base cadence for a type/priority pair.
func Delay(typ Type, priority string) time.Duration {
	table, ok := baseDelay[typ]
	if !ok {
		table = baseDelay[TypeResponse]
	}
	if d, ok := table[priority]; ok {
		return d
	}
	return table[PriorityNormal]
}

// MaxAttempts returns the attempt cap for a reminder type.
func MaxAttempts(typ Type) int {
	if n, ok := maxAttemptsByType[typ]; ok {
		return n
	}
	return 3
}

// NextAttempt computes when the reminder after attemptCount already-sent
// attempts is due: first at base+X, second at base+2X, and so on.
func NextAttempt(typ Type, priority string, attemptCount int, base time.Time) time.Time {
	n := attemptCount + 1
	return base.Add(time.Duration(n) * Delay(typ, priority))
}

// NewSchedule builds an armed schedule with cadence-derived fields.
func NewSchedule(id, assistanceID string, typ Type, priority string, base time.Time) *Schedule {
	return &Schedule{
		ID:            id,
		AssistanceID:  assistanceID,
		Type:          typ,
		ScheduledFor:  base,
		NextAttemptAt: NextAttempt(typ, priority, 0, base),
		AttemptCount:  0,
		MaxAttempts:   MaxAttempts(typ),
		Status:        StatusPending,
		CreatedAt:     base,
		UpdatedAt:     base,
	}
}
