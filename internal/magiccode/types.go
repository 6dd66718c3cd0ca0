package magiccode

import "time"

// Supplier is the owner of an access code. Inactive suppliers must never
// authenticate, regardless of code validity.
type Supplier struct {
	ID        string
	Name      string
	Email     string
	Phone     string
	IsActive  bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

// AccessCode is the persisted form of a supplier portal credential. Only the
// SHA-256 of the issued token is stored; the raw token is returned exactly
// once at issue time.
type AccessCode struct {
	ID               string
	SupplierID       string
	CodeHash         string
	AssistanceID     string // empty until first-use binding
	ExpiresAt        time.Time
	SessionExpiresAt time.Time
	AccessCount      int
	LastUsedAt       time.Time
	RevokedAt        time.Time
	CreatedAt        time.Time
}

// AttemptRecord is an append-only record of a presented code. The presented
// code is stored hashed, never raw.
type AttemptRecord struct {
	ID         string
	CodeHash   string
	IP         string
	UserAgent  string
	Success    bool
	OccurredAt time.Time
}

// Severity grades a security event.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// EventType enumerates security events. Append-only, read by monitoring only.
type EventType string

const (
	EventInvalidCode       EventType = "invalid_magic_code_attempt"
	EventBruteForceBlocked EventType = "magic_code_brute_force_blocked"
	EventExpiredGrace      EventType = "expired_magic_code_grace_period"
	EventExpiredRejected   EventType = "expired_magic_code_rejected"
	EventInactiveSupplier  EventType = "inactive_supplier_access_attempt"
	EventAutoRenewed       EventType = "magic_code_auto_renewed"
	EventExcessiveUsage    EventType = "excessive_magic_code_usage"
	EventRevokedCodeUsed   EventType = "revoked_magic_code_attempt"
)

// SecurityEvent is an append-only operator-facing record. Callers receive
// deliberately vague errors; the precise reason lives here.
type SecurityEvent struct {
	ID         string
	Type       EventType
	Severity   Severity
	IP         string
	UserAgent  string
	Details    map[string]string
	OccurredAt time.Time
}

// Session is the result of a successful validation.
type Session struct {
	Supplier         Supplier
	AssistanceID     string
	SessionExpiresAt time.Time
}
