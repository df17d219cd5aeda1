package sim

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// memorySink records everything the orchestrator persists.
type memorySink struct {
	intents []Intent
	events  []Event
	jobs    []SettlementJob
}

func (s *memorySink) RecordIntent(in *Intent) error {
	s.intents = append(s.intents, *in)
	return nil
}

func (s *memorySink) AppendEvents(events []Event) error {
	s.events = append(s.events, events...)
	return nil
}

func (s *memorySink) EnqueueJob(job *SettlementJob) error {
	s.jobs = append(s.jobs, *job)
	return nil
}

func newOrchestrator(w *World) (*Orchestrator, *memorySink) {
	sink := &memorySink{}
	return &Orchestrator{
		World:          w,
		Sink:           sink,
		PlatformFeePct: decimal.NewFromFloat(0.05),
	}, sink
}

func TestRunTickResolvesIntentExactlyOnce(t *testing.T) {
	w := newTestWorld(t)
	orch, sink := newOrchestrator(w)

	in := orch.SubmitIntent("alice", IntentRest, nil, 0)
	assert.Equal(t, IntentPending, in.Status)

	orch.RunTick()

	assert.Equal(t, IntentExecuted, in.Status)
	assert.Empty(t, w.Pending)
	require.Len(t, sink.intents, 1)

	// A second tick must not touch the already-resolved intent.
	orch.RunTick()
	assert.Len(t, sink.intents, 1)
}

func TestRunTickDeterministicAcrossInsertionOrder(t *testing.T) {
	build := func(order []string) []Event {
		w := NewWorld(7)
		for _, id := range []string{"a1", "a2", "a3"} {
			w.Actors[id] = &Actor{ID: id}
			w.States[id] = &AgentState{ActorID: id, Energy: 80, Hunger: 80, Health: 80}
			w.Wallets[id] = &Wallet{ActorID: id, Balance: decimal.NewFromInt(100)}
		}
		orch, sink := newOrchestrator(w)
		for _, id := range order {
			orch.World.Enqueue(&Intent{
				ID: "in-" + id, ActorID: id, Type: IntentRest,
				Tick: 1, Status: IntentPending,
			})
		}
		orch.RunTick()
		return sink.events
	}

	a := build([]string{"a1", "a2", "a3"})
	b := build([]string{"a3", "a1", "a2"})

	require.Equal(t, len(a), len(b))
	for i := range a {
		// Same seed, same intents: identical resolution order
		// regardless of submission order.
		assert.Equal(t, a[i].ActorID, b[i].ActorID, "event %d", i)
	}
}

func TestRunTickPanicContained(t *testing.T) {
	w := newTestWorld(t)
	w.Actors["bob"] = &Actor{ID: "bob"}
	w.States["bob"] = &AgentState{ActorID: "bob", Energy: 80, Hunger: 80, Health: 80}
	w.Wallets["bob"] = &Wallet{ActorID: "bob", Balance: decimal.NewFromInt(100)}

	orig := registry[IntentRest]
	registry[IntentRest] = func(ctx HandlerContext) Result {
		if ctx.Actor.ID == "bob" {
			panic("boom")
		}
		return orig(ctx)
	}
	defer func() { registry[IntentRest] = orig }()

	orch, _ := newOrchestrator(w)
	inAlice := orch.SubmitIntent("alice", IntentRest, nil, 0)
	inBob := orch.SubmitIntent("bob", IntentRest, nil, 0)

	orch.RunTick()

	assert.Equal(t, IntentFailed, inBob.Status)
	assert.Contains(t, inBob.Reason, "panic")
	// The other unit in the same tick is unaffected.
	assert.Equal(t, IntentExecuted, inAlice.Status)
	assert.Equal(t, ActivityResting, w.States["alice"].Activity)
	assert.Equal(t, ActivityIdle, w.States["bob"].Activity)
}

func TestRunTickRequeuesRipeDeferredPlan(t *testing.T) {
	w := newTestWorld(t)
	w.Wallets["alice"].Balance = decimal.NewFromInt(5000)
	w.States["alice"].Deferred = &DeferredPlan{
		IntentType: IntentFoundBusiness,
		Params:     map[string]any{"business_type": "SHOP", "name": "Alice's"},
		ReadyTick:  1,
	}

	orch, _ := newOrchestrator(w)
	orch.RunTick()

	assert.Nil(t, w.States["alice"].Deferred)
	assert.Len(t, w.Businesses, 1, "deferred founding retried and executed")
}

func TestRunTickDeferredWaitsForJobVacancy(t *testing.T) {
	w := newTestWorld(t)
	addJob(w, "alice", "", 100)
	w.States["alice"].Deferred = &DeferredPlan{
		IntentType: IntentFoundBusiness,
		Params:     map[string]any{"business_type": "SHOP", "name": "Alice's"},
		ReadyTick:  1,
	}

	orch, _ := newOrchestrator(w)
	orch.RunTick()

	// Still employed: the plan stays parked.
	assert.NotNil(t, w.States["alice"].Deferred)
	assert.Empty(t, w.Businesses)
}

func TestRunTickExpiresFinishedActivities(t *testing.T) {
	w := newTestWorld(t)
	w.States["alice"].Activity = ActivityResting
	w.States["alice"].ActivityEndTick = 1

	orch, _ := newOrchestrator(w)
	orch.RunTick()

	assert.Equal(t, ActivityIdle, w.States["alice"].Activity)
}

func TestRunTickGateRewriteFlowsToResignation(t *testing.T) {
	w := newTestWorld(t)
	emp := addJob(w, "alice", "", 100)
	w.Wallets["alice"].Balance = decimal.NewFromInt(10000)

	orch, _ := newOrchestrator(w)
	in := orch.SubmitIntent("alice", IntentFoundBusiness, map[string]any{
		"business_type": "RESTAURANT",
		"name":          "Alice's",
	}, 0)

	orch.RunTick()

	// The founding intent became a resignation carrying the plan.
	assert.Equal(t, IntentExecuted, in.Status)
	assert.Equal(t, EmploymentQuit, w.Employments[emp.ID].Status)
	require.NotNil(t, w.States["alice"].Deferred)
	assert.Equal(t, IntentFoundBusiness, w.States["alice"].Deferred.IntentType)
	assert.Empty(t, w.Businesses)
}

func TestCleanupStaleIntents(t *testing.T) {
	w := newTestWorld(t)
	w.Tick = 3000
	orch, sink := newOrchestrator(w)

	stale := &Intent{ID: "old", ActorID: "alice", Type: IntentRest, Tick: 100, Status: IntentPending}
	fresh := &Intent{ID: "new", ActorID: "alice", Type: IntentRest, Tick: 2900, Status: IntentPending}
	w.Enqueue(stale)
	w.Enqueue(fresh)

	removed := orch.CleanupStaleIntents(TicksPerDay, 0)

	assert.Equal(t, 1, removed)
	assert.Equal(t, IntentFailed, stale.Status)
	require.Len(t, w.Pending, 1)
	assert.Equal(t, "new", w.Pending[0].ID)
	require.Len(t, sink.intents, 1)
}

func TestHandlerObservesApprovedStatus(t *testing.T) {
	w := newTestWorld(t)
	orch, _ := newOrchestrator(w)

	var seen IntentStatus
	orig := registry[IntentRest]
	registry[IntentRest] = func(ctx HandlerContext) Result {
		seen = ctx.Intent.Status
		return orig(ctx)
	}
	defer func() { registry[IntentRest] = orig }()

	orch.SubmitIntent("alice", IntentRest, nil, 0)
	orch.RunTick()

	assert.Equal(t, IntentApproved, seen)
}

func TestCleanupStaleIntentsHonorsLimit(t *testing.T) {
	w := newTestWorld(t)
	w.Tick = 3000
	orch, _ := newOrchestrator(w)

	for _, id := range []string{"a", "b", "c"} {
		w.Enqueue(&Intent{ID: id, ActorID: "alice", Type: IntentRest, Tick: 100, Status: IntentPending})
	}

	removed := orch.CleanupStaleIntents(TicksPerDay, 2)
	assert.Equal(t, 2, removed)
	require.Len(t, w.Pending, 1)

	removed = orch.CleanupStaleIntents(TicksPerDay, 2)
	assert.Equal(t, 1, removed)
	assert.Empty(t, w.Pending)
}
