// Tick orchestrator: drains pending intents, runs the safety gate and
// the matching handler, and commits each result as one atomic unit.
package sim

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Sink receives resolved intents, events, and settlement jobs for
// durable storage. A nil sink keeps everything in memory.
type Sink interface {
	RecordIntent(in *Intent) error
	AppendEvents(events []Event) error
	EnqueueJob(job *SettlementJob) error
}

// Observer is notified of resolution outcomes; the metrics package
// implements it.
type Observer interface {
	IntentResolved(status string)
	TickCompleted(d time.Duration, pending int)
}

// Orchestrator serializes all intent resolution for a world.
type Orchestrator struct {
	World          *World
	Sink           Sink
	Observer       Observer
	PlatformFeePct decimal.Decimal
}

// SubmitIntent assigns an id, tick, and PENDING status to a raw
// request and enqueues it.
func (o *Orchestrator) SubmitIntent(actorID string, t IntentType, params map[string]any, priority int) *Intent {
	in := &Intent{
		ID:       uuid.NewString(),
		ActorID:  actorID,
		Type:     t,
		Params:   params,
		Priority: priority,
		Tick:     o.World.Tick + 1,
		Status:   IntentPending,
	}
	o.World.Enqueue(in)
	return in
}

// RunTick advances the world one tick: requeue ripe deferred plans,
// expire finished activities, then resolve every pending intent in
// deterministic order. Each intent is resolved exactly once.
func (o *Orchestrator) RunTick() uint64 {
	start := time.Now()
	o.World.Tick++
	tick := o.World.Tick
	seed := o.World.TickSeed(tick)

	o.requeueDeferred(tick)
	o.expireActivities(tick)

	pending := o.World.Pending
	o.World.Pending = nil
	SortIntents(pending, seed)

	for _, in := range pending {
		o.resolve(in, tick, seed)
	}

	if o.Observer != nil {
		o.Observer.TickCompleted(time.Since(start), len(pending))
	}
	return tick
}

// resolve runs one intent through gate and handler. Handler panics are
// contained here: the unit is discarded, the intent marked failed, and
// no partial mutation is persisted.
func (o *Orchestrator) resolve(in *Intent, tick, seed uint64) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("handler panicked", "intent", in.ID, "type", in.Type, "panic", r)
			o.finish(in, IntentFailed, fmt.Sprintf("handler panic: %v", r))
		}
	}()

	w := o.World
	actor, ok := w.Actors[in.ActorID]
	if !ok {
		o.finish(in, IntentFailed, "actor not found")
		return
	}
	st, ok := w.States[in.ActorID]
	if !ok {
		// Invariant violation: log and skip this unit, never the tick.
		slog.Error("actor missing agent state", "actor", in.ActorID)
		o.finish(in, IntentFailed, "missing agent state")
		return
	}
	wal, ok := w.Wallets[in.ActorID]
	if !ok {
		slog.Error("actor missing wallet", "actor", in.ActorID)
		o.finish(in, IntentFailed, "missing wallet")
		return
	}

	dec := Validate(Decision{Type: in.Type, Params: in.Params, Reason: in.Reason}, GateContext{
		Actor:     actor,
		State:     st,
		Wallet:    wal,
		ActiveJob: w.ActiveEmployment(in.ActorID),
		Tick:      tick,
		Lookup:    w,
	})
	rewritten := dec.Type != in.Type

	handler, ok := LookupHandler(dec.Type)
	if !ok {
		o.finish(in, IntentBlocked, fmt.Sprintf("no handler for %s", dec.Type))
		return
	}

	// The handler sees the decision the gate produced, not the raw
	// submission, stamped APPROVED.
	resolved := *in
	resolved.Type = dec.Type
	resolved.Params = dec.Params
	resolved.Reason = dec.Reason
	resolved.Status = IntentApproved

	res := handler(HandlerContext{
		Intent:         &resolved,
		Actor:          actor,
		State:          st,
		Wallet:         wal,
		Tick:           tick,
		Seed:           seed,
		View:           w,
		CityVault:      w.CityVault,
		PlatformFeePct: o.PlatformFeePct,
	})

	if err := w.Apply(res.Updates); err != nil {
		slog.Error("mutation batch rejected", "intent", in.ID, "error", err)
		o.finish(in, IntentFailed, fmt.Sprintf("apply: %v", err))
		return
	}
	w.CityVault = w.CityVault.Add(res.CityVaultDelta)
	w.PlatformVault = w.PlatformVault.Add(res.PlatformVaultDelta)

	for i := range res.Jobs {
		job := res.Jobs[i]
		job.ID = uuid.NewString()
		job.IntentID = in.ID
		job.Status = JobQueued
		job.UpdatedAt = time.Now().Unix()
		if o.Sink != nil {
			if err := o.Sink.EnqueueJob(&job); err != nil {
				slog.Error("enqueue settlement job", "job", job.ID, "error", err)
			}
		}
	}

	w.Events = append(w.Events, res.Events...)
	if o.Sink != nil {
		if err := o.Sink.AppendEvents(res.Events); err != nil {
			slog.Error("persist events", "intent", in.ID, "error", err)
		}
	}

	status := res.Status
	reason := dec.Reason
	if rewritten && status == IntentExecuted {
		// Keep the substitution visible in the audit trail.
		in.Type = dec.Type
	}
	o.finish(in, status, reason)
}

// finish stamps the terminal status and persists the intent once.
func (o *Orchestrator) finish(in *Intent, status IntentStatus, reason string) {
	in.Status = status
	if reason != "" {
		in.Reason = reason
	}
	if o.Sink != nil {
		if err := o.Sink.RecordIntent(in); err != nil {
			slog.Error("persist intent", "intent", in.ID, "error", err)
		}
	}
	if o.Observer != nil {
		o.Observer.IntentResolved(string(status))
	}
}

// requeueDeferred resubmits founding plans whose cooldown has passed
// and whose actor no longer holds a job.
func (o *Orchestrator) requeueDeferred(tick uint64) {
	for _, st := range o.World.States {
		plan := st.Deferred
		if plan == nil || tick < plan.ReadyTick {
			continue
		}
		if o.World.ActiveEmployment(st.ActorID) != nil {
			continue
		}
		st.Deferred = nil
		in := &Intent{
			ID:       uuid.NewString(),
			ActorID:  st.ActorID,
			Type:     plan.IntentType,
			Params:   plan.Params,
			Priority: 1,
			Tick:     tick,
			Status:   IntentPending,
			Reason:   "deferred plan retry",
		}
		o.World.Enqueue(in)
		slog.Info("deferred plan requeued", "actor", st.ActorID, "intent", plan.IntentType)
	}
}

// expireActivities returns agents to IDLE when their activity ends.
func (o *Orchestrator) expireActivities(tick uint64) {
	for _, st := range o.World.States {
		if st.Activity != ActivityIdle && st.Activity != ActivityJailed && tick >= st.ActivityEndTick {
			st.Activity = ActivityIdle
			st.ActivityEndTick = 0
		}
	}
}

// CleanupStaleIntents drops pending intents older than maxAge ticks,
// at most limit per call (limit <= 0 means unbounded). Safe to run
// against live state; returns the number removed.
func (o *Orchestrator) CleanupStaleIntents(maxAge uint64, limit int) int {
	tick := o.World.Tick
	kept := o.World.Pending[:0]
	removed := 0
	for _, in := range o.World.Pending {
		stale := tick > in.Tick && tick-in.Tick > maxAge
		if stale && (limit <= 0 || removed < limit) {
			o.finish(in, IntentFailed, "expired before resolution")
			removed++
			continue
		}
		kept = append(kept, in)
	}
	o.World.Pending = kept
	return removed
}
