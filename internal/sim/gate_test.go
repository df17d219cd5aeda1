package sim

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newTestWorld builds a world with one idle actor holding 100 in their
// wallet. Shared by the gate, handler, orchestrator, and cycle tests.
func newTestWorld(t *testing.T) *World {
	t.Helper()
	w := NewWorld(42)
	w.Actors["alice"] = &Actor{ID: "alice", Name: "Alice", Reputation: 500}
	w.States["alice"] = &AgentState{
		ActorID: "alice",
		Energy:  80, Hunger: 70, Health: 90,
		Social: 60, Fun: 50, Purpose: 55,
	}
	w.Wallets["alice"] = &Wallet{ActorID: "alice", Balance: decimal.NewFromInt(100)}
	return w
}

func gateCtx(w *World, actorID string, tick uint64) GateContext {
	return GateContext{
		Actor:     w.Actors[actorID],
		State:     w.States[actorID],
		Wallet:    w.Wallets[actorID],
		ActiveJob: w.ActiveEmployment(actorID),
		Tick:      tick,
		Lookup:    w,
	}
}

func addJob(w *World, actorID, businessID string, rate int64) *Employment {
	e := &Employment{
		ID:         "emp-" + actorID,
		ActorID:    actorID,
		BusinessID: businessID,
		JobKey:     "worker",
		DailyRate:  decimal.NewFromInt(rate),
		Status:     EmploymentActive,
	}
	w.Employments[e.ID] = e
	return e
}

func TestGatePassesValidDecisionUnchanged(t *testing.T) {
	w := newTestWorld(t)
	dec := Decision{Type: IntentRest, Reason: "tired"}

	out := Validate(dec, gateCtx(w, "alice", 10))

	assert.Equal(t, IntentRest, out.Type)
	assert.Equal(t, "tired", out.Reason)
}

func TestGateBusyBlocksNonAllowedIntents(t *testing.T) {
	w := newTestWorld(t)
	emp := addJob(w, "alice", "", 100)
	w.States["alice"].Activity = ActivityWorking
	w.States["alice"].ActivityEndTick = 480

	out := Validate(Decision{
		Type:   IntentWork,
		Params: map[string]any{"employment_id": emp.ID},
	}, gateCtx(w, "alice", 10))

	assert.Equal(t, IntentIdle, out.Type)
	assert.Contains(t, out.Reason, "busy")
}

func TestGateEmergencyOverridesBusy(t *testing.T) {
	w := newTestWorld(t)
	st := w.States["alice"]
	st.Activity = ActivityWorking
	st.Energy = 30 // below the emergency threshold

	out := Validate(Decision{Type: IntentRest}, gateCtx(w, "alice", 10))

	assert.Equal(t, IntentRest, out.Type)
}

func TestGateEmergencyRequiresMatchingNeed(t *testing.T) {
	w := newTestWorld(t)
	st := w.States["alice"]
	st.Activity = ActivityWorking
	st.Hunger = 20 // hunger emergency pairs with CONSUME, not REST

	out := Validate(Decision{Type: IntentRest}, gateCtx(w, "alice", 10))

	assert.Equal(t, IntentIdle, out.Type)
}

func TestGateCollectSalaryAllowedWhileBusy(t *testing.T) {
	w := newTestWorld(t)
	emp := addJob(w, "alice", "", 100)
	w.States["alice"].Activity = ActivityWorking

	out := Validate(Decision{
		Type:   IntentCollectSalary,
		Params: map[string]any{"employment_id": emp.ID},
	}, gateCtx(w, "alice", 10))

	assert.Equal(t, IntentCollectSalary, out.Type)
}

func TestGateStartupOverrideRewritesToResignation(t *testing.T) {
	w := newTestWorld(t)
	emp := addJob(w, "alice", "", 100)
	w.Wallets["alice"].Balance = decimal.NewFromInt(10000)

	out := Validate(Decision{
		Type: IntentFoundBusiness,
		Params: map[string]any{
			"business_type": "RESTAURANT",
			"name":          "Alice's",
		},
	}, gateCtx(w, "alice", 100))

	require.Equal(t, IntentResignPublicJob, out.Type)
	assert.Equal(t, emp.ID, out.Params["employment_id"])

	plan, ok := out.Params["deferred_plan"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, string(IntentFoundBusiness), plan["intent_type"])
	assert.Equal(t, uint64(100+StartupCooldownTicks), plan["ready_tick"])
}

func TestGateStartupOverridePrivateJobUsesResignJob(t *testing.T) {
	w := newTestWorld(t)
	w.Businesses["biz"] = &Business{ID: "biz", OwnerID: "bob", Type: BusinessShop, Status: BusinessActive}
	addJob(w, "alice", "biz", 100)
	w.Wallets["alice"].Balance = decimal.NewFromInt(10000)

	out := Validate(Decision{
		Type: IntentFoundBusiness,
		Params: map[string]any{
			"business_type": "SHOP",
			"name":          "Alice's",
		},
	}, gateCtx(w, "alice", 100))

	assert.Equal(t, IntentResignJob, out.Type)
}

func TestGateFoundBusinessUnemployedPassesThrough(t *testing.T) {
	w := newTestWorld(t)
	w.Wallets["alice"].Balance = decimal.NewFromInt(10000)

	out := Validate(Decision{
		Type: IntentFoundBusiness,
		Params: map[string]any{
			"business_type": "RESTAURANT",
			"name":          "Alice's",
		},
	}, gateCtx(w, "alice", 100))

	assert.Equal(t, IntentFoundBusiness, out.Type)
}

func TestGateFundingCheck(t *testing.T) {
	w := newTestWorld(t) // balance 100

	out := Validate(Decision{
		Type:   IntentPayRent,
		Params: map[string]any{"rent_due": 250.0},
	}, gateCtx(w, "alice", 10))

	assert.Equal(t, IntentIdle, out.Type)
	assert.Contains(t, out.Reason, "insufficient funds")

	out = Validate(Decision{
		Type:   IntentPayRent,
		Params: map[string]any{"rent_due": 50.0},
	}, gateCtx(w, "alice", 10))
	assert.Equal(t, IntentPayRent, out.Type)
}

func TestGateFoundBusinessCostIncludesCapitalAndDeposit(t *testing.T) {
	dec := Decision{
		Type: IntentFoundBusiness,
		Params: map[string]any{
			"business_type":       "RESTAURANT",
			"name":                "X",
			"construction_budget": 1000.0,
		},
	}
	// 2000 build + 500 capital + 200 deposit.
	assert.True(t, IntentCost(dec).Equal(decimal.NewFromInt(2700)))
}

func TestGateParamValidation(t *testing.T) {
	w := newTestWorld(t)

	cases := []struct {
		name string
		dec  Decision
	}{
		{"work without employment_id", Decision{Type: IntentWork}},
		{"consume without inventory", Decision{Type: IntentConsume, Params: map[string]any{"item_type": "MEAL"}}},
		{"wager with NaN rejected upstream", Decision{Type: IntentPlaceWager, Params: map[string]any{"amount": -5.0}}},
		{"transfer to unknown actor", Decision{Type: IntentTransfer, Params: map[string]any{"to_actor_id": "ghost", "amount": 10.0}}},
		{"unknown type", Decision{Type: IntentType("INTENT_FLY")}},
		{"set price on missing business", Decision{Type: IntentSetPrice, Params: map[string]any{"business_id": "nope", "price": 5.0}}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			out := Validate(tc.dec, gateCtx(w, "alice", 10))
			assert.Equal(t, IntentIdle, out.Type)
			assert.NotEmpty(t, out.Reason)
		})
	}
}

func TestGateHardStateConflicts(t *testing.T) {
	w := newTestWorld(t)
	w.Actors["alice"].Frozen = true

	out := Validate(Decision{Type: IntentRest}, gateCtx(w, "alice", 10))
	assert.Equal(t, IntentIdle, out.Type)
	assert.Contains(t, out.Reason, "frozen")

	// Idle is always permitted, even frozen.
	out = Validate(Decision{Type: IntentIdle}, gateCtx(w, "alice", 10))
	assert.Equal(t, IntentIdle, out.Type)
	assert.Empty(t, out.Reason)
}

func TestGateJailedActorMayOnlyIdle(t *testing.T) {
	w := newTestWorld(t)
	w.States["alice"].Activity = ActivityJailed
	w.Inventory[InventoryKey("alice", "MEAL")] = &InventoryItem{ActorID: "alice", ItemType: "MEAL", Quantity: 2}
	w.States["alice"].Hunger = 80 // no emergency in play

	out := Validate(Decision{
		Type:   IntentConsume,
		Params: map[string]any{"item_type": "MEAL"},
	}, gateCtx(w, "alice", 10))

	assert.Equal(t, IntentIdle, out.Type)
	assert.Contains(t, out.Reason, "jailed")
}

func TestGateWorkMustReferenceHeldJob(t *testing.T) {
	w := newTestWorld(t)
	addJob(w, "alice", "", 100)
	other := addJob(w, "bob", "", 100)
	w.Actors["bob"] = &Actor{ID: "bob"}

	out := Validate(Decision{
		Type:   IntentWork,
		Params: map[string]any{"employment_id": other.ID},
	}, gateCtx(w, "alice", 10))

	assert.Equal(t, IntentIdle, out.Type)
}

func TestGateIdempotentOnBusyState(t *testing.T) {
	w := newTestWorld(t)
	emp := addJob(w, "alice", "", 100)
	w.States["alice"].Activity = ActivityWorking
	dec := Decision{Type: IntentWork, Params: map[string]any{"employment_id": emp.ID}}

	first := Validate(dec, gateCtx(w, "alice", 10))
	second := Validate(dec, gateCtx(w, "alice", 10))

	assert.Equal(t, first, second)
}

func TestGateFoundingRequiresWealthTier(t *testing.T) {
	w := newTestWorld(t) // balance 100, tier 1

	dec := Decision{
		Type:   IntentFoundBusiness,
		Params: map[string]any{"business_type": "SHOP", "name": "Corner Shop"},
	}

	out := Validate(dec, gateCtx(w, "alice", 10))
	assert.Equal(t, IntentIdle, out.Type)
	assert.Contains(t, out.Reason, "wealth tier")

	// Tier 2 standing clears the screen; funding then prices the venture.
	w.Wallets["alice"].Balance = decimal.NewFromInt(5000)
	out = Validate(dec, gateCtx(w, "alice", 10))
	assert.Equal(t, IntentFoundBusiness, out.Type)
}
