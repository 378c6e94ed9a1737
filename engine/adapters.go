package engine

import "tiximax/labels"

// labelEmitter adapts the engine's EventBus to the labels.EventEmitter interface.
type labelEmitter struct {
	bus *EventBus
}

func (e *labelEmitter) EmitBatchGenerated(codes []labels.Code) {
	e.bus.Emit(Event{Type: EventBatchGenerated, Payload: BatchGeneratedEvent{Codes: codes}})
}

func (e *labelEmitter) EmitScopeChanged(from, to labels.Scope) {
	e.bus.Emit(Event{Type: EventScopeChanged, Payload: ScopeChangedEvent{From: from, To: to}})
}

func (e *labelEmitter) EmitPrinted(job labels.Job, err error) {
	errStr := ""
	if err != nil {
		errStr = err.Error()
	}
	e.bus.Emit(Event{Type: EventLabelsPrinted, Payload: LabelsPrintedEvent{
		JobID: job.ID, Scope: job.Scope.String(), Labels: len(job.Printed()), Error: errStr,
	}})
}
