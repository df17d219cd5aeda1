// Handler registry: one pure state-transition function per intent type.
// Handlers never touch storage: they return typed mutations and events
// that the orchestrator applies atomically.
package sim

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Activity durations in ticks.
const (
	RestDuration = 8 * TicksPerHour
	WorkShift    = 8 * TicksPerHour
)

// PartialPayAnger is the anger increase when a salary is only
// partially covered by the paying vault.
const PartialPayAnger = 10

// HandlerContext is everything a handler may read. Handlers treat all
// referenced rows as immutable and emit copies in their mutations.
type HandlerContext struct {
	Intent *Intent
	Actor  *Actor
	State  *AgentState
	Wallet *Wallet
	Tick   uint64
	Seed   uint64 // per-tick seed, for handlers that need determinism
	View   Lookup

	CityVault      decimal.Decimal
	PlatformFeePct decimal.Decimal
}

// Result is a handler's complete output.
type Result struct {
	Updates []Mutation
	Events  []Event
	Jobs    []SettlementJob
	Status  IntentStatus

	// Vault deltas are applied by the orchestrator alongside Updates.
	CityVaultDelta     decimal.Decimal
	PlatformVaultDelta decimal.Decimal
}

// Handler resolves one validated intent into state changes.
type Handler func(ctx HandlerContext) Result

// registry is the closed dispatch table keyed by intent type.
var registry = map[IntentType]Handler{
	IntentIdle:            handleIdle,
	IntentRest:            handleRest,
	IntentWork:            handleWork,
	IntentConsume:         handleConsume,
	IntentCollectSalary:   handleCollectSalary,
	IntentResignJob:       handleResign,
	IntentResignPublicJob: handleResign,
	IntentFoundBusiness:   handleFoundBusiness,
	IntentSetPrice:        handleSetPrice,
	IntentPayRent:         handlePayRent,
	IntentPlaceWager:      handlePlaceWager,
	IntentListItem:        handleListItem,
	IntentTransfer:        handleTransfer,
}

// LookupHandler returns the handler for an intent type.
func LookupHandler(t IntentType) (Handler, bool) {
	h, ok := registry[t]
	return h, ok
}

// blocked builds the uniform failure result: zero updates, one BLOCKED
// event carrying the reason. Failures are never silent.
func blocked(ctx HandlerContext, reason string) Result {
	return Result{
		Status: IntentBlocked,
		Events: []Event{{
			ActorID:     ctx.Actor.ID,
			Type:        string(ctx.Intent.Type),
			Outcome:     OutcomeBlocked,
			SideEffects: map[string]any{"reason": reason},
			Tick:        ctx.Tick,
		}},
	}
}

// executed builds a success event for the intent.
func executed(ctx HandlerContext, sideEffects map[string]any, targets ...string) Event {
	return Event{
		ActorID:     ctx.Actor.ID,
		Type:        string(ctx.Intent.Type),
		TargetIDs:   targets,
		Outcome:     OutcomeOK,
		SideEffects: sideEffects,
		Tick:        ctx.Tick,
	}
}

// stateCopy returns a mutable copy of the agent state (deferred plan
// pointer is shared; handlers that change it must replace it).
func stateCopy(st *AgentState) *AgentState {
	c := *st
	return &c
}

func walletCopy(w *Wallet) *Wallet {
	c := *w
	return &c
}

func updateState(st *AgentState) Mutation {
	return Mutation{Table: TableAgentStates, Op: OpUpdate, ID: st.ActorID, Data: st}
}

func updateWallet(w *Wallet) Mutation {
	return Mutation{Table: TableWallets, Op: OpUpdate, ID: w.ActorID, Data: w}
}

func updateBusiness(b *Business) Mutation {
	return Mutation{Table: TableBusinesses, Op: OpUpdate, ID: b.ID, Data: b}
}

func updateEmployment(e *Employment) Mutation {
	return Mutation{Table: TableEmployments, Op: OpUpdate, ID: e.ID, Data: e}
}

// requireAmount pulls a positive decimal param that the gate has
// already validated; a miss here is a handler precondition failure.
func requireAmount(params map[string]any, key string) (decimal.Decimal, error) {
	d := decimalParam(params, key)
	if d.IsZero() {
		return decimal.Zero, fmt.Errorf("missing or invalid %s", key)
	}
	return d, nil
}
