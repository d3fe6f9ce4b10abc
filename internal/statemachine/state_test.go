package statemachine

import "testing"

func TestCancelFromAnyStateGoesToDone(t *testing.T) {
	states := []State{
		StateIdle, StateIntake, StateClarifying, StateContextBuilding,
		StatePlanning, StateExecuting, StateVerifying, StateSummarizing,
		StateAwaitingConfirmation, StateRecovering, StateBlocked,
	}
	for _, s := range states {
		m := &Machine{state: s}
		if got := m.Step("", EventCancel); got != StateDone {
			t.Errorf("CANCEL from %s: got %s, want DONE", s, got)
		}
		if !m.Terminal() {
			t.Errorf("machine not terminal after CANCEL from %s", s)
		}
	}
}

func TestHappyPathReachesDone(t *testing.T) {
	bus := NewBus("trace-1", "session-1", nil, BackpressureConfig{})
	defer bus.Close()
	m := NewMachine(bus)

	seq := []Event{
		EventUserMessage,     // IDLE -> INTAKE
		EventUserMessage,     // INTAKE -> CONTEXT_BUILDING
		EventUserMessage,     // CONTEXT_BUILDING -> PLANNING
		EventToolCallRequest, // PLANNING -> EXECUTING
		EventStepDone,        // EXECUTING -> VERIFYING
		EventStepDone,        // VERIFYING -> SUMMARIZING
		EventStepDone,        // SUMMARIZING -> DONE
	}
	for _, ev := range seq {
		m.Step("", ev)
	}
	if m.Current() != StateDone {
		t.Fatalf("expected DONE, got %s", m.Current())
	}
}

func TestUnrecognizedEventIsNoOp(t *testing.T) {
	m := &Machine{state: StateIdle}
	got := m.Step("", EventStepDone)
	if got != StateIdle {
		t.Fatalf("expected no-op to stay IDLE, got %s", got)
	}
}
