// Package statemachine implements the Event Bus and the canonical agent
// state machine (spec.md section 4.1): a Mealy-style transducer over the
// fixed state vocabulary, plus the single-reader-per-consumer, strictly
// ordered TurnEvent stream every other component writes into.
package statemachine

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cluderun/agentcore/pkg/coremodels"
)

// Sink receives TurnEvents from the Bus. Implementations must be safe
// for concurrent use, mirroring internal/agent/event_sink.go's EventSink
// contract.
type Sink interface {
	Emit(ctx context.Context, e coremodels.TurnEvent)
}

// SinkFunc adapts a function to a Sink, mirroring the teacher's
// CallbackSink.
type SinkFunc func(ctx context.Context, e coremodels.TurnEvent)

func (f SinkFunc) Emit(ctx context.Context, e coremodels.TurnEvent) { f(ctx, e) }

// NopSink discards every event.
type NopSink struct{}

func (NopSink) Emit(context.Context, coremodels.TurnEvent) {}

// MultiSink fans an event out to every non-nil member sink, mirroring
// internal/agent/event_sink.go's MultiSink.
type MultiSink struct{ sinks []Sink }

// NewMultiSink constructs a MultiSink, dropping nil members.
func NewMultiSink(sinks ...Sink) *MultiSink {
	out := make([]Sink, 0, len(sinks))
	for _, s := range sinks {
		if s != nil {
			out = append(out, s)
		}
	}
	return &MultiSink{sinks: out}
}

func (m *MultiSink) Emit(ctx context.Context, e coremodels.TurnEvent) {
	for _, s := range m.sinks {
		s.Emit(ctx, e)
	}
}

// droppableKinds is the low-priority lane: streaming deltas and
// informational events that backpressure may discard when the
// consumer falls behind. Lifecycle/tool/plan events are never dropped,
// per the Open Question decision recorded in DESIGN.md (asymmetric
// two-lane backpressure carried over from the teacher's BackpressureSink).
var droppableKinds = map[coremodels.EventKind]bool{
	coremodels.EventLLMRequest:  true,
	coremodels.EventLLMResponse: true,
	coremodels.EventState:       true,
}

func isDroppable(kind coremodels.EventKind) bool {
	return droppableKinds[kind]
}

// BackpressureConfig sizes the Bus's two lanes, mirroring
// internal/agent/event_sink.go's BackpressureConfig.
type BackpressureConfig struct {
	HighPriBuffer int
	LowPriBuffer  int
}

// DefaultBackpressureConfig matches the teacher's defaults.
func DefaultBackpressureConfig() BackpressureConfig {
	return BackpressureConfig{HighPriBuffer: 32, LowPriBuffer: 256}
}

// Bus is the per-session Event Bus: it assigns a monotonically
// increasing sequence number to every TurnEvent (spec.md section 5's
// ordering requirement) and fans events out to a Sink, asynchronously
// draining a bounded queue so the producer side is always non-blocking.
type Bus struct {
	traceID   string
	sessionID string
	sink      Sink
	seq       uint64

	mu      sync.Mutex
	stepID  string
	highPri chan queuedEvent
	lowPri  chan queuedEvent
	done    chan struct{}
	closeOnce sync.Once
}

type queuedEvent struct {
	ctx context.Context
	ev  coremodels.TurnEvent
}

// NewBus constructs a Bus for one turn, starting its drain goroutine.
// If sink is nil, events are discarded (tests may construct a Bus purely
// to observe sequence-number assignment).
func NewBus(traceID, sessionID string, sink Sink, cfg BackpressureConfig) *Bus {
	if sink == nil {
		sink = NopSink{}
	}
	if cfg.HighPriBuffer <= 0 {
		cfg = DefaultBackpressureConfig()
	}
	b := &Bus{
		traceID:   traceID,
		sessionID: sessionID,
		sink:      sink,
		highPri:   make(chan queuedEvent, cfg.HighPriBuffer),
		lowPri:    make(chan queuedEvent, cfg.LowPriBuffer),
		done:      make(chan struct{}),
	}
	go b.drain()
	return b
}

// SetStep scopes subsequent Emit calls to stepID, used by the Step
// Executor to stamp plan_step_start/end and per-step tool events.
func (b *Bus) SetStep(stepID string) {
	b.mu.Lock()
	b.stepID = stepID
	b.mu.Unlock()
}

// Emit assigns the next sequence number and routes e through the
// appropriate lane. It never blocks the caller beyond the channel send:
// a full low-priority lane drops the event (the producer side stays
// non-blocking per spec.md section 5); a full high-priority lane still
// blocks briefly, since lifecycle/tool events must never be silently
// lost.
func (b *Bus) Emit(kind coremodels.EventKind, stepID string, payload any) {
	b.EmitCtx(context.Background(), kind, stepID, payload)
}

// EmitCtx is Emit with an explicit context, used when the caller already
// holds one for cancellation-aware sends.
func (b *Bus) EmitCtx(ctx context.Context, kind coremodels.EventKind, stepID string, payload any) {
	if stepID == "" {
		b.mu.Lock()
		stepID = b.stepID
		b.mu.Unlock()
	}
	ev := coremodels.TurnEvent{
		TraceID:   b.traceID,
		SessionID: b.sessionID,
		StepID:    stepID,
		Timestamp: time.Now(),
		Sequence:  atomic.AddUint64(&b.seq, 1),
		Kind:      kind,
		Payload:   payload,
	}
	qe := queuedEvent{ctx: ctx, ev: ev}
	if isDroppable(kind) {
		select {
		case b.lowPri <- qe:
		default:
			// low-priority lane full: drop, matching the droppable-event
			// policy recorded in DESIGN.md.
		}
		return
	}
	select {
	case b.highPri <- qe:
	case <-b.done:
	}
}

// drain delivers queued events to the sink in strict per-session order:
// the high-priority lane is always drained first so lifecycle/tool
// events never queue behind droppable ones.
func (b *Bus) drain() {
	for {
		select {
		case qe := <-b.highPri:
			b.sink.Emit(qe.ctx, qe.ev)
		case <-b.done:
			b.drainRemaining()
			return
		default:
			select {
			case qe := <-b.highPri:
				b.sink.Emit(qe.ctx, qe.ev)
			case qe := <-b.lowPri:
				b.sink.Emit(qe.ctx, qe.ev)
			case <-b.done:
				b.drainRemaining()
				return
			}
		}
	}
}

func (b *Bus) drainRemaining() {
	for {
		select {
		case qe := <-b.highPri:
			b.sink.Emit(qe.ctx, qe.ev)
		default:
			return
		}
	}
}

// Close stops the drain goroutine after flushing any already-queued
// high-priority events. Call once per turn, at every exit path.
func (b *Bus) Close() {
	b.closeOnce.Do(func() { close(b.done) })
}
