package followup_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"condoflow.io/internal/followup"
	"condoflow.io/internal/magiccode"
	"condoflow.io/internal/store/memory"
	"condoflow.io/internal/workflow"
)

type captureNotifier struct {
	mu    sync.Mutex
	calls []string
}

func (n *captureNotifier) Notify(ctx context.Context, recipient, templateID string, payload map[string]string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.calls = append(n.calls, recipient+":"+templateID)
	return nil
}

var sweepClock = time.Date(2026, 6, 1, 7, 0, 0, 0, time.UTC)

func seedAssistance(t *testing.T, store *memory.Store, id string, status workflow.Status, priority workflow.Priority) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, store.Suppliers(ctx).Create(ctx, &magiccode.Supplier{
		ID: "sup-1", Name: "Aqua Plumbing", Email: "crew@aquaplumbing.example", IsActive: true,
	}))
	require.NoError(t, store.Assistances(ctx).Create(ctx, &workflow.Assistance{
		ID: id, BuildingID: "b-1", InterventionType: "hvac", SupplierID: "sup-1",
		Priority: priority, Status: status, CreatedAt: sweepClock, UpdatedAt: sweepClock,
	}))
}

func TestSweepSendsAndReschedules(t *testing.T) {
	store := memory.New()
	ctx := context.Background()
	seedAssistance(t, store, "a-1", workflow.StatusPending, workflow.PriorityCritical)

	sched := followup.NewSchedule("f-1", "a-1", followup.TypeResponse, followup.PriorityCritical, sweepClock.Add(-3*time.Hour))
	require.NoError(t, store.Arm(ctx, sched))

	notifier := &captureNotifier{}
	sweeper := followup.NewSweeper(store, store, notifier,
		followup.WithClock(func() time.Time { return sweepClock }))

	stats, err := sweeper.Run(ctx)
	require.NoError(t, err)
	require.Equal(t, followup.Stats{Claimed: 1, Sent: 1}, stats)

	reminders := store.Reminders()
	require.Len(t, reminders, 1)
	require.Equal(t, "crew@aquaplumbing.example", reminders[0].Recipient)
	require.False(t, reminders[0].Escalation)
	require.Equal(t, "1", reminders[0].Payload["attempt"])

	scheds := store.Schedules()
	require.Len(t, scheds, 1)
	require.Equal(t, followup.StatusPending, scheds[0].Status)
	require.Equal(t, 1, scheds[0].AttemptCount)
	// Second reminder due two base delays after this send.
	require.Equal(t, sweepClock.Add(4*time.Hour), scheds[0].NextAttemptAt)
}

func TestSweepCancelsWhenConditionEvaporated(t *testing.T) {
	store := memory.New()
	ctx := context.Background()
	seedAssistance(t, store, "a-2", workflow.StatusAccepted, workflow.PriorityNormal)

	sched := followup.NewSchedule("f-2", "a-2", followup.TypeResponse, followup.PriorityNormal, sweepClock.Add(-48*time.Hour))
	require.NoError(t, store.Arm(ctx, sched))

	notifier := &captureNotifier{}
	sweeper := followup.NewSweeper(store, store, notifier,
		followup.WithClock(func() time.Time { return sweepClock }))

	stats, err := sweeper.Run(ctx)
	require.NoError(t, err)
	require.Equal(t, followup.Stats{Claimed: 1, Cancelled: 1}, stats)
	require.Empty(t, store.Reminders())
	require.Empty(t, notifier.calls)
}

func TestSweepExhaustsAndEscalates(t *testing.T) {
	store := memory.New()
	ctx := context.Background()
	seedAssistance(t, store, "a-3", workflow.StatusPending, workflow.PriorityNormal)

	sched := followup.NewSchedule("f-3", "a-3", followup.TypeResponse, followup.PriorityNormal, sweepClock.Add(-10*24*time.Hour))
	sched.AttemptCount = sched.MaxAttempts
	require.NoError(t, store.Arm(ctx, sched))

	notifier := &captureNotifier{}
	sweeper := followup.NewSweeper(store, store, notifier,
		followup.WithClock(func() time.Time { return sweepClock }))

	stats, err := sweeper.Run(ctx)
	require.NoError(t, err)
	require.Equal(t, followup.Stats{Claimed: 1, Exhausted: 1}, stats)

	reminders := store.Reminders()
	require.Len(t, reminders, 1)
	require.True(t, reminders[0].Escalation)
	require.Equal(t, "ops@condoflow.io", reminders[0].Recipient)

	scheds := store.Schedules()
	require.Len(t, scheds, 1)
	require.Equal(t, followup.StatusExhausted, scheds[0].Status)
}

func TestConcurrentSweepsClaimOnce(t *testing.T) {
	store := memory.New()
	ctx := context.Background()
	seedAssistance(t, store, "a-4", workflow.StatusPending, workflow.PriorityUrgent)

	sched := followup.NewSchedule("f-4", "a-4", followup.TypeResponse, followup.PriorityUrgent, sweepClock.Add(-24*time.Hour))
	require.NoError(t, store.Arm(ctx, sched))

	notifier := &captureNotifier{}
	newSweeper := func() *followup.Sweeper {
		return followup.NewSweeper(store, store, notifier,
			followup.WithClock(func() time.Time { return sweepClock }))
	}

	var wg sync.WaitGroup
	stats := make([]followup.Stats, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			s, err := newSweeper().Run(ctx)
			if err == nil {
				stats[i] = s
			}
		}(i)
	}
	wg.Wait()

	require.Equal(t, 1, stats[0].Sent+stats[1].Sent)
	require.Len(t, store.Reminders(), 1)

	scheds := store.Schedules()
	require.Len(t, scheds, 1)
	require.Equal(t, 1, scheds[0].AttemptCount)
}

func TestArmReplacesActiveScheduleOfSameType(t *testing.T) {
	store := memory.New()
	ctx := context.Background()
	seedAssistance(t, store, "a-5", workflow.StatusPending, workflow.PriorityNormal)

	first := followup.NewSchedule("f-5a", "a-5", followup.TypeResponse, followup.PriorityNormal, sweepClock)
	require.NoError(t, store.Arm(ctx, first))
	second := followup.NewSchedule("f-5b", "a-5", followup.TypeResponse, followup.PriorityNormal, sweepClock.Add(time.Hour))
	require.NoError(t, store.Arm(ctx, second))

	var pending int
	for _, sched := range store.Schedules() {
		if sched.Status == followup.StatusPending {
			pending++
			require.Equal(t, "f-5b", sched.ID)
		}
	}
	require.Equal(t, 1, pending)
}
