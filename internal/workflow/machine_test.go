package workflow

import (
	"testing"

	"condoflow.io/internal/followup"
)

func TestTransitionTable(t *testing.T) {
	cases := []struct {
		from  Status
		event Event
		to    Status
		actor ActorKind
		ok    bool
	}{
		{StatusPending, EventSupplierAccept, StatusAccepted, ActorSupplier, true},
		{StatusPending, EventSupplierDecline, StatusCancelled, ActorSupplier, true},
		{StatusPending, EventRequestQuotation, StatusAwaitingQuotation, ActorAdmin, true},
		{StatusAccepted, EventRequestQuotation, StatusAwaitingQuotation, ActorAdmin, true},
		{StatusAwaitingQuotation, EventSubmitQuotation, StatusQuotationReceived, ActorSupplier, true},
		{StatusQuotationReceived, EventApproveQuotation, StatusAccepted, ActorAdmin, true},
		{StatusQuotationReceived, EventRejectQuotation, StatusAwaitingQuotation, ActorAdmin, true},
		{StatusAccepted, EventSchedule, StatusScheduled, ActorAdmin, true},
		{StatusAccepted, EventStartWork, StatusInProgress, ActorSupplier, true},
		{StatusScheduled, EventStartWork, StatusInProgress, ActorSupplier, true},
		{StatusInProgress, EventCompleteWork, StatusCompleted, ActorSupplier, true},
		{StatusAwaitingValidation, EventValidate, StatusCompleted, ActorAdmin, true},

		{StatusPending, EventStartWork, "", "", false},
		{StatusPending, EventSubmitQuotation, "", "", false},
		{StatusAccepted, EventSupplierAccept, "", "", false},
		{StatusAwaitingQuotation, EventApproveQuotation, "", "", false},
		{StatusCompleted, EventStartWork, "", "", false},
		{StatusCancelled, EventSupplierAccept, "", "", false},
	}

	for _, tc := range cases {
		tr, ok := transitionFor(tc.from, tc.event)
		if ok != tc.ok {
			t.Fatalf("%s + %s: ok=%v, want %v", tc.from, tc.event, ok, tc.ok)
		}
		if !ok {
			continue
		}
		if tr.To != tc.to {
			t.Fatalf("%s + %s: to=%s, want %s", tc.from, tc.event, tr.To, tc.to)
		}
		if tr.Actor != tc.actor {
			t.Fatalf("%s + %s: actor=%s, want %s", tc.from, tc.event, tr.Actor, tc.actor)
		}
	}
}

func TestCancelFromAnyNonTerminalState(t *testing.T) {
	nonTerminal := []Status{
		StatusPending, StatusAwaitingQuotation, StatusQuotationReceived,
		StatusAccepted, StatusScheduled, StatusInProgress, StatusAwaitingValidation,
	}
	for _, from := range nonTerminal {
		tr, ok := transitionFor(from, EventCancel)
		if !ok {
			t.Fatalf("cancel from %s should be allowed", from)
		}
		if tr.To != StatusCancelled {
			t.Fatalf("cancel from %s lands on %s", from, tr.To)
		}
		if tr.Actor != "" {
			t.Fatalf("cancel from %s should be actor-agnostic", from)
		}
	}
	for _, from := range []Status{StatusCompleted, StatusCancelled} {
		if _, ok := transitionFor(from, EventCancel); ok {
			t.Fatalf("cancel from terminal %s should be refused", from)
		}
	}
}

func TestTerminality(t *testing.T) {
	for _, st := range []Status{StatusCompleted, StatusCancelled} {
		if !st.Terminal() {
			t.Fatalf("%s should be terminal", st)
		}
	}
	for _, st := range []Status{StatusPending, StatusAccepted, StatusInProgress, StatusAwaitingValidation} {
		if st.Terminal() {
			t.Fatalf("%s should not be terminal", st)
		}
	}
}

// The followup package mirrors the status strings its sweeper keys on
// instead of importing this package. Pin them together here.
func TestFollowUpTargetStatusValues(t *testing.T) {
	pairs := []struct {
		mirror string
		status Status
	}{
		{followup.TargetStatusPending, StatusPending},
		{followup.TargetStatusAwaitingQuotation, StatusAwaitingQuotation},
		{followup.TargetStatusAccepted, StatusAccepted},
		{followup.TargetStatusScheduled, StatusScheduled},
		{followup.TargetStatusInProgress, StatusInProgress},
	}
	for _, p := range pairs {
		if p.mirror != string(p.status) {
			t.Fatalf("follow-up target status %q diverged from workflow status %q", p.mirror, p.status)
		}
	}
}
