package magiccode

import (
	"context"
	"time"
)

// Store describes persistence operations required by the authenticator.
type Store interface {
	Suppliers(ctx context.Context) SupplierStore
	Codes(ctx context.Context) CodeStore
	Attempts(ctx context.Context) AttemptStore
	Events(ctx context.Context) EventStore
}

// SupplierStore resolves code owners.
type SupplierStore interface {
	Find(ctx context.Context, id string) (*Supplier, error)
	Create(ctx context.Context, s *Supplier) error
	// LatestOpenAssistance returns the id of the supplier's most recently
	// created non-terminal assistance, or "" when there is none.
	LatestOpenAssistance(ctx context.Context, supplierID string) (string, error)
}

// CodeStore manages access codes. Codes are never deleted; revocation and
// expiry are field state.
type CodeStore interface {
	Create(ctx context.Context, code *AccessCode) error
	FindByHash(ctx context.Context, hash string) (*AccessCode, error)
	// Touch applies a successful use: usage counter, last-used timestamp and
	// the session extension. The session expiry must never move backward,
	// even under concurrent touches.
	Touch(ctx context.Context, id string, accessCount int, lastUsedAt, sessionExpiresAt time.Time) error
	// Bind sets the assistance binding iff the code is still unbound.
	Bind(ctx context.Context, id, assistanceID string) error
	// RevokeForSupplier marks all unrevoked codes of the supplier revoked,
	// returning how many were affected.
	RevokeForSupplier(ctx context.Context, supplierID string, at time.Time) (int, error)
}

// AttemptStore is the append-only attempt ledger.
type AttemptStore interface {
	Append(ctx context.Context, rec *AttemptRecord) error
	// CountFailures returns failed attempts from the IP since the given time.
	CountFailures(ctx context.Context, ip string, since time.Time) (int, error)
}

// EventStore appends immutable security events.
type EventStore interface {
	Append(ctx context.Context, ev *SecurityEvent) error
	// ExistsSince reports whether an event of the given type from the IP was
	// recorded after the given time. Used to de-duplicate burst events.
	ExistsSince(ctx context.Context, typ EventType, ip string, since time.Time) (bool, error)
}
