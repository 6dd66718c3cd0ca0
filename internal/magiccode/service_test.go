package magiccode_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"condoflow.io/internal/magiccode"
	"condoflow.io/internal/store/memory"
	"condoflow.io/internal/workflow"
)

type fixture struct {
	store *memory.Store
	svc   *magiccode.Service
	now   time.Time
}

func newFixture(t *testing.T, opts ...magiccode.ServiceOption) *fixture {
	t.Helper()
	f := &fixture{
		store: memory.New(),
		now:   time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC),
	}
	all := append([]magiccode.ServiceOption{
		magiccode.WithClock(func() time.Time { return f.now }),
	}, opts...)
	svc, err := magiccode.NewService(f.store, all...)
	require.NoError(t, err)
	f.svc = svc
	return f
}

func (f *fixture) addSupplier(t *testing.T, id string, active bool) {
	t.Helper()
	err := f.store.Suppliers(context.Background()).Create(context.Background(), &magiccode.Supplier{
		ID:        id,
		Name:      "Aqua Plumbing",
		Email:     "crew@aquaplumbing.example",
		IsActive:  active,
		CreatedAt: f.now,
	})
	require.NoError(t, err)
}

func (f *fixture) eventsOfType(typ magiccode.EventType) []magiccode.SecurityEvent {
	var out []magiccode.SecurityEvent
	for _, ev := range f.store.SecurityEvents() {
		if ev.Type == typ {
			out = append(out, ev)
		}
	}
	return out
}

func TestIssueAndValidate(t *testing.T) {
	f := newFixture(t)
	f.addSupplier(t, "sup-1", true)
	ctx := context.Background()

	token, rec, err := f.svc.Issue(ctx, "sup-1", false)
	require.NoError(t, err)
	require.NotEmpty(t, token)
	require.Equal(t, magiccode.HashCode(token), rec.CodeHash)
	require.Equal(t, f.now.Add(14*24*time.Hour), rec.ExpiresAt)

	session, err := f.svc.Validate(ctx, token, "10.0.0.1", "portal-ui")
	require.NoError(t, err)
	require.Equal(t, "sup-1", session.Supplier.ID)
	require.Equal(t, f.now.Add(30*time.Minute), session.SessionExpiresAt)

	stored, ok := f.store.CodeByHash(rec.CodeHash)
	require.True(t, ok)
	require.Equal(t, 1, stored.AccessCount)
	require.Equal(t, f.now, stored.LastUsedAt)
}

func TestValidateUnknownCode(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.Validate(ctx, "no-such-code", "10.0.0.2", "portal-ui")
	require.ErrorIs(t, err, magiccode.ErrInvalidCode)

	require.Len(t, f.eventsOfType(magiccode.EventInvalidCode), 1)
	attempts := f.store.AttemptRecords()
	require.Len(t, attempts, 1)
	require.False(t, attempts[0].Success)
}

func TestRateLimitShortCircuitsBeforeLookup(t *testing.T) {
	f := newFixture(t, magiccode.WithRateLimit(time.Minute, 3))
	f.addSupplier(t, "sup-1", true)
	ctx := context.Background()

	token, _, err := f.svc.Issue(ctx, "sup-1", false)
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		_, err := f.svc.Validate(ctx, fmt.Sprintf("wrong-%d", i), "10.0.0.3", "portal-ui")
		require.ErrorIs(t, err, magiccode.ErrInvalidCode)
	}

	// Even the correct code is refused while the window is saturated, and no
	// successful attempt is recorded.
	_, err = f.svc.Validate(ctx, token, "10.0.0.3", "portal-ui")
	require.ErrorIs(t, err, magiccode.ErrRateLimited)
	for _, rec := range f.store.AttemptRecords() {
		require.False(t, rec.Success)
	}

	// One brute-force event per window per IP, not one per blocked call.
	_, err = f.svc.Validate(ctx, token, "10.0.0.3", "portal-ui")
	require.ErrorIs(t, err, magiccode.ErrRateLimited)
	require.Len(t, f.eventsOfType(magiccode.EventBruteForceBlocked), 1)

	// A different IP is unaffected.
	session, err := f.svc.Validate(ctx, token, "10.0.0.4", "portal-ui")
	require.NoError(t, err)
	require.Equal(t, "sup-1", session.Supplier.ID)
}

func TestExpiredCodeGracePeriod(t *testing.T) {
	f := newFixture(t, magiccode.WithCodeTTL(time.Hour), magiccode.WithGracePeriod(5*time.Minute))
	f.addSupplier(t, "sup-1", true)
	ctx := context.Background()

	token, _, err := f.svc.Issue(ctx, "sup-1", false)
	require.NoError(t, err)

	// Just inside the grace window: authenticated, but flagged.
	f.now = f.now.Add(time.Hour + 2*time.Minute)
	session, err := f.svc.Validate(ctx, token, "10.0.0.5", "portal-ui")
	require.NoError(t, err)
	require.Equal(t, "sup-1", session.Supplier.ID)
	require.Len(t, f.eventsOfType(magiccode.EventExpiredGrace), 1)

	// Beyond the grace window: rejected.
	f.now = f.now.Add(4 * time.Minute)
	_, err = f.svc.Validate(ctx, token, "10.0.0.5", "portal-ui")
	require.ErrorIs(t, err, magiccode.ErrExpired)
	require.Len(t, f.eventsOfType(magiccode.EventExpiredRejected), 1)
}

func TestInactiveSupplierRejected(t *testing.T) {
	f := newFixture(t)
	f.addSupplier(t, "sup-1", true)
	ctx := context.Background()

	token, _, err := f.svc.Issue(ctx, "sup-1", false)
	require.NoError(t, err)

	// Deactivate after issue: the still-valid code must stop working.
	require.NoError(t, f.store.Suppliers(ctx).Create(ctx, &magiccode.Supplier{
		ID: "sup-1", Name: "Aqua Plumbing", Email: "crew@aquaplumbing.example", IsActive: false,
	}))

	_, err = f.svc.Validate(ctx, token, "10.0.0.6", "portal-ui")
	require.ErrorIs(t, err, magiccode.ErrSupplierInactive)

	events := f.eventsOfType(magiccode.EventInactiveSupplier)
	require.Len(t, events, 1)
	require.Equal(t, magiccode.SeverityHigh, events[0].Severity)
}

func TestSessionAutoRenewal(t *testing.T) {
	f := newFixture(t, magiccode.WithSessionTTL(30*time.Minute))
	f.addSupplier(t, "sup-1", true)
	ctx := context.Background()

	token, rec, err := f.svc.Issue(ctx, "sup-1", false)
	require.NoError(t, err)

	_, err = f.svc.Validate(ctx, token, "10.0.0.7", "portal-ui")
	require.NoError(t, err)
	require.Empty(t, f.eventsOfType(magiccode.EventAutoRenewed))

	// The session lapsed between visits; the next use renews it silently.
	f.now = f.now.Add(45 * time.Minute)
	session, err := f.svc.Validate(ctx, token, "10.0.0.7", "portal-ui")
	require.NoError(t, err)
	require.Equal(t, f.now.Add(30*time.Minute), session.SessionExpiresAt)
	require.Len(t, f.eventsOfType(magiccode.EventAutoRenewed), 1)

	stored, ok := f.store.CodeByHash(rec.CodeHash)
	require.True(t, ok)
	require.Equal(t, f.now.Add(30*time.Minute), stored.SessionExpiresAt)
	require.Equal(t, 2, stored.AccessCount)
}

func TestFirstUseBindsLatestOpenAssistance(t *testing.T) {
	f := newFixture(t)
	f.addSupplier(t, "sup-1", true)
	ctx := context.Background()

	require.NoError(t, f.store.Assistances(ctx).Create(ctx, &workflow.Assistance{
		ID: "a-old", SupplierID: "sup-1", BuildingID: "b-1", InterventionType: "plumbing",
		Status: workflow.StatusPending, CreatedAt: f.now.Add(-2 * time.Hour),
	}))
	require.NoError(t, f.store.Assistances(ctx).Create(ctx, &workflow.Assistance{
		ID: "a-new", SupplierID: "sup-1", BuildingID: "b-1", InterventionType: "plumbing",
		Status: workflow.StatusPending, CreatedAt: f.now.Add(-time.Hour),
	}))

	token, rec, err := f.svc.Issue(ctx, "sup-1", false)
	require.NoError(t, err)

	session, err := f.svc.Validate(ctx, token, "10.0.0.8", "portal-ui")
	require.NoError(t, err)
	require.Equal(t, "a-new", session.AssistanceID)

	// The binding is first-use-wins: later opens do not rebind.
	require.NoError(t, f.store.Assistances(ctx).Create(ctx, &workflow.Assistance{
		ID: "a-newer", SupplierID: "sup-1", BuildingID: "b-1", InterventionType: "plumbing",
		Status: workflow.StatusPending, CreatedAt: f.now,
	}))
	session, err = f.svc.Validate(ctx, token, "10.0.0.8", "portal-ui")
	require.NoError(t, err)
	require.Equal(t, "a-new", session.AssistanceID)

	stored, ok := f.store.CodeByHash(rec.CodeHash)
	require.True(t, ok)
	require.Equal(t, "a-new", stored.AssistanceID)
}

func TestIssueWithRevocation(t *testing.T) {
	f := newFixture(t)
	f.addSupplier(t, "sup-1", true)
	ctx := context.Background()

	oldToken, _, err := f.svc.Issue(ctx, "sup-1", false)
	require.NoError(t, err)

	newToken, _, err := f.svc.Issue(ctx, "sup-1", true)
	require.NoError(t, err)

	_, err = f.svc.Validate(ctx, oldToken, "10.0.0.9", "portal-ui")
	require.ErrorIs(t, err, magiccode.ErrInvalidCode)
	require.Len(t, f.eventsOfType(magiccode.EventRevokedCodeUsed), 1)

	_, err = f.svc.Validate(ctx, newToken, "10.0.0.9", "portal-ui")
	require.NoError(t, err)
}

func TestRevokedCodeRefusedInsideGraceWindow(t *testing.T) {
	f := newFixture(t, magiccode.WithGracePeriod(5*time.Minute))
	f.addSupplier(t, "sup-1", true)
	ctx := context.Background()

	oldToken, rec, err := f.svc.Issue(ctx, "sup-1", false)
	require.NoError(t, err)
	_, _, err = f.svc.Issue(ctx, "sup-1", true)
	require.NoError(t, err)

	// Expired but still inside the grace window: the grace must never
	// resurrect a revoked credential.
	f.now = rec.ExpiresAt.Add(2 * time.Minute)
	_, err = f.svc.Validate(ctx, oldToken, "10.0.0.9", "portal-ui")
	require.ErrorIs(t, err, magiccode.ErrInvalidCode)
	require.Len(t, f.eventsOfType(magiccode.EventRevokedCodeUsed), 1)
	require.Empty(t, f.eventsOfType(magiccode.EventExpiredGrace))
}

func TestIssueForUnknownSupplier(t *testing.T) {
	f := newFixture(t)
	_, _, err := f.svc.Issue(context.Background(), "ghost", false)
	require.True(t, errors.Is(err, magiccode.ErrNotFound))
}

func TestExcessiveUsageSignal(t *testing.T) {
	f := newFixture(t, magiccode.WithUsageThreshold(3))
	f.addSupplier(t, "sup-1", true)
	ctx := context.Background()

	token, _, err := f.svc.Issue(ctx, "sup-1", false)
	require.NoError(t, err)

	for i := 0; i < 4; i++ {
		_, err := f.svc.Validate(ctx, token, "10.0.0.10", "portal-ui")
		require.NoError(t, err)
	}
	// Emitted exactly when the counter crosses the threshold, not on every
	// call after it.
	require.Len(t, f.eventsOfType(magiccode.EventExcessiveUsage), 1)
}
