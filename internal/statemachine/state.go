package statemachine

import "github.com/cluderun/agentcore/pkg/coremodels"

// State is a member of the canonical agent state vocabulary (spec.md
// section 4.1).
type State string

const (
	StateIdle                 State = "IDLE"
	StateIntake                State = "INTAKE"
	StateClarifying             State = "CLARIFYING"
	StateContextBuilding        State = "CONTEXT_BUILDING"
	StatePlanning               State = "PLANNING"
	StateExecuting              State = "EXECUTING"
	StateVerifying              State = "VERIFYING"
	StateSummarizing            State = "SUMMARIZING"
	StateAwaitingConfirmation   State = "AWAITING_CONFIRMATION"
	StateRecovering             State = "RECOVERING"
	StateBlocked                State = "BLOCKED"
	StateDone                   State = "DONE"
)

// Event is a member of the closed event set that drives transitions.
type Event string

const (
	EventUserMessage     Event = "USER_MESSAGE"
	EventToolCallRequest Event = "TOOL_CALL_REQUEST"
	EventToolCallResult  Event = "TOOL_CALL_RESULT"
	EventConfirm         Event = "CONFIRM"
	EventTimeout         Event = "TIMEOUT"
	EventCancel          Event = "CANCEL"
	EventStepDone        Event = "STEP_DONE"
	EventReplan          Event = "REPLAN"
)

// transitions is the deterministic (State, Event) -> State table. Only
// the transitions the orchestrator actually drives are listed; for every
// other (state, event) pair Step leaves the state unchanged and emits no
// `state` event (the orchestrator treats an unrecognized event
// for the current state as a no-op rather than an error, since most
// states only react to a subset of the closed event vocabulary).
var transitions = map[State]map[Event]State{
	StateIdle: {
		EventUserMessage: StateIntake,
		EventCancel:      StateDone,
	},
	StateIntake: {
		EventUserMessage: StateContextBuilding,
		EventCancel:      StateDone,
	},
	StateClarifying: {
		EventUserMessage: StateContextBuilding,
		EventCancel:      StateDone,
	},
	StateContextBuilding: {
		EventUserMessage: StatePlanning,
		EventCancel:      StateDone,
	},
	StatePlanning: {
		EventToolCallRequest: StateExecuting,
		EventReplan:          StatePlanning,
		EventTimeout:         StateRecovering,
		EventCancel:          StateDone,
	},
	StateExecuting: {
		EventToolCallRequest: StateAwaitingConfirmation,
		EventToolCallResult:  StateExecuting,
		EventStepDone:        StateVerifying,
		EventReplan:          StatePlanning,
		EventTimeout:         StateRecovering,
		EventCancel:          StateDone,
	},
	StateAwaitingConfirmation: {
		EventConfirm:         StateExecuting,
		EventTimeout:         StateRecovering,
		EventCancel:          StateDone,
	},
	StateVerifying: {
		EventStepDone: StateSummarizing,
		EventReplan:   StatePlanning,
		EventCancel:   StateDone,
	},
	StateSummarizing: {
		EventStepDone: StateDone,
		EventCancel:   StateDone,
	},
	StateRecovering: {
		EventUserMessage: StatePlanning,
		EventCancel:      StateDone,
	},
	StateBlocked: {
		EventCancel: StateDone,
	},
}

// Machine is the Mealy-style transducer: Step consumes the current state
// plus one event and returns the next state, emitting a `state` TurnEvent
// into bus for every transition actually taken. CANCEL always moves to
// DONE regardless of the table (spec.md section 4.1's invariant).
type Machine struct {
	state State
	bus   *Bus
}

// NewMachine constructs a Machine starting in IDLE.
func NewMachine(bus *Bus) *Machine {
	return &Machine{state: StateIdle, bus: bus}
}

// Current returns the machine's current state.
func (m *Machine) Current() State { return m.state }

// Step advances the machine by one event, emitting a `state` TurnEvent
// describing the transition (from, to, event). If the event is
// unrecognized for the current state, the machine stays put and no
// event is emitted — only an actual transition is observable on the bus.
func (m *Machine) Step(stepID string, ev Event) State {
	if ev == EventCancel {
		from := m.state
		m.state = StateDone
		if m.bus != nil {
			m.bus.Emit(coremodels.EventState, stepID, map[string]any{
				"from": string(from), "to": string(StateDone), "event": string(ev),
			})
		}
		return m.state
	}

	next, ok := transitions[m.state][ev]
	if !ok {
		return m.state
	}
	from := m.state
	m.state = next
	if m.bus != nil {
		m.bus.Emit(coremodels.EventState, stepID, map[string]any{
			"from": string(from), "to": string(next), "event": string(ev),
		})
	}
	return m.state
}

// Terminal reports whether the machine has reached a terminal state.
func (m *Machine) Terminal() bool {
	return m.state == StateDone
}
