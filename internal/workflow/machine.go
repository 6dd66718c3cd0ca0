package workflow

// transition is a single allowed edge in the assistance state machine.
type transition struct {
	From  Status
	Event Event
	To    Status
	Actor ActorKind // empty means either kind may drive the edge
}

var transitions = []transition{
	// Supplier response to a new assignment.
	{From: StatusPending, Event: EventSupplierAccept, To: StatusAccepted, Actor: ActorSupplier},
	{From: StatusPending, Event: EventSupplierDecline, To: StatusCancelled, Actor: ActorSupplier},

	// Quotation branch.
	{From: StatusPending, Event: EventRequestQuotation, To: StatusAwaitingQuotation, Actor: ActorAdmin},
	{From: StatusAccepted, Event: EventRequestQuotation, To: StatusAwaitingQuotation, Actor: ActorAdmin},
	{From: StatusAwaitingQuotation, Event: EventSubmitQuotation, To: StatusQuotationReceived, Actor: ActorSupplier},
	{From: StatusQuotationReceived, Event: EventApproveQuotation, To: StatusAccepted, Actor: ActorAdmin},
	{From: StatusQuotationReceived, Event: EventRejectQuotation, To: StatusAwaitingQuotation, Actor: ActorAdmin},

	// Execution.
	{From: StatusAccepted, Event: EventSchedule, To: StatusScheduled, Actor: ActorAdmin},
	{From: StatusAccepted, Event: EventStartWork, To: StatusInProgress, Actor: ActorSupplier},
	{From: StatusScheduled, Event: EventStartWork, To: StatusInProgress, Actor: ActorSupplier},
	// CompleteWork lands on completed; the service redirects to
	// awaiting_validation when the assistance requires validation.
	{From: StatusInProgress, Event: EventCompleteWork, To: StatusCompleted, Actor: ActorSupplier},
	{From: StatusAwaitingValidation, Event: EventValidate, To: StatusCompleted, Actor: ActorAdmin},
}

// transitionFor returns the allowed edge for a state+event pair. EventCancel
// is handled separately: it is valid from every non-terminal state.
func transitionFor(from Status, ev Event) (transition, bool) {
	if ev == EventCancel {
		if from.Terminal() {
			return transition{}, false
		}
		return transition{From: from, Event: EventCancel, To: StatusCancelled}, true
	}
	for _, tr := range transitions {
		if tr.From == from && tr.Event == ev {
			return tr, true
		}
	}
	return transition{}, false
}
