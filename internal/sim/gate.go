// Safety gate: converts a raw decision into a safe, executable one.
// Pure and synchronous: every check reads the context snapshot only.
package sim

import (
	"fmt"
	"math"

	"github.com/shopspring/decimal"

	"github.com/talgya/mini-economy/internal/ledger"
)

// EmergencyThreshold is the need level at or below which a matching
// relief intent overrides the busy gate.
const EmergencyThreshold = 40.0

// StartupCooldownTicks is how long a deferred founding plan waits after
// a forced resignation before it is retried: one full sim day.
const StartupCooldownTicks = TicksPerDay

// Decision is a proposed action plus the reason it was chosen. The gate
// either passes it through or substitutes a safe alternative.
type Decision struct {
	Type   IntentType
	Params map[string]any
	Reason string
}

// Lookup is the read-only referential view the gate validates against.
type Lookup interface {
	Actor(id string) (*Actor, bool)
	Business(id string) (*Business, bool)
	Employment(id string) (*Employment, bool)
	InventoryItem(actorID, itemType string) (*InventoryItem, bool)
	Binding(actorID string) (*ExternalBinding, bool)
}

// GateContext is the immutable snapshot a single validation runs against.
type GateContext struct {
	Actor     *Actor
	State     *AgentState
	Wallet    *Wallet
	ActiveJob *Employment // nil when unemployed
	Tick      uint64
	Lookup    Lookup
}

// foundingIntents are business-founding/conversion intents subject to
// the startup override.
var foundingIntents = map[IntentType]bool{
	IntentFoundBusiness: true,
}

// allowWhileBusy are intents that never require the IDLE state.
var allowWhileBusy = map[IntentType]bool{
	IntentIdle:          true,
	IntentConsume:       true,
	IntentCollectSalary: true,
}

// activityStarting are intents that begin a new activity and therefore
// must transition from IDLE absent an override.
var activityStarting = map[IntentType]bool{
	IntentWork: true,
	IntentRest: true,
}

// idle builds the safe fallback decision.
func idle(reason string) Decision {
	return Decision{Type: IntentIdle, Reason: reason}
}

// Validate runs the gate checks in order, short-circuiting on the
// first failure. A decision that passes every check is returned
// unchanged, original reason included.
func Validate(dec Decision, ctx GateContext) Decision {
	if d, rewritten := startupOverride(dec, ctx); rewritten {
		return d
	}
	if d, blocked := busyGate(dec, ctx); blocked {
		return d
	}
	if reason := validateParams(dec, ctx); reason != "" {
		return idle(reason)
	}
	if reason := tierEligibility(dec, ctx); reason != "" {
		return idle(reason)
	}
	if reason := fundingCheck(dec, ctx); reason != "" {
		return idle(reason)
	}
	if reason := hardStateConflict(dec, ctx); reason != "" {
		return idle(reason)
	}
	if reason := transitionConsistency(dec, ctx); reason != "" {
		return idle(reason)
	}
	return dec
}

// startupOverride rewrites a founding intent submitted while employed
// into a resignation carrying the original plan. The plan retries
// automatically after a one-day cooldown once the job is vacated.
func startupOverride(dec Decision, ctx GateContext) (Decision, bool) {
	if !foundingIntents[dec.Type] || ctx.ActiveJob == nil {
		return dec, false
	}

	resignType := IntentResignJob
	if ctx.ActiveJob.Public() {
		resignType = IntentResignPublicJob
	}

	plan := map[string]any{
		"intent_type": string(dec.Type),
		"params":      dec.Params,
		"ready_tick":  ctx.Tick + StartupCooldownTicks,
	}
	return Decision{
		Type: resignType,
		Params: map[string]any{
			"employment_id": ctx.ActiveJob.ID,
			"deferred_plan": plan,
		},
		Reason: fmt.Sprintf("must vacate job %s before founding a business; plan deferred until tick %d",
			ctx.ActiveJob.JobKey, ctx.Tick+StartupCooldownTicks),
	}, true
}

// busyGate blocks non-allowed intents while the agent is mid-activity,
// unless an emergency or owner override applies.
func busyGate(dec Decision, ctx GateContext) (Decision, bool) {
	if ctx.State.Activity == ActivityIdle || allowWhileBusy[dec.Type] {
		return dec, false
	}
	if emergencyOverride(dec, ctx.State) || ownerOverride(dec, ctx) {
		return dec, false
	}
	return idle(fmt.Sprintf("busy (%s) until tick %d", ctx.State.Activity, ctx.State.ActivityEndTick)), true
}

// emergencyOverride pairs a critical need with its relief intent.
func emergencyOverride(dec Decision, st *AgentState) bool {
	switch dec.Type {
	case IntentRest:
		return st.Energy <= EmergencyThreshold || st.Health <= EmergencyThreshold
	case IntentConsume:
		return st.Hunger <= EmergencyThreshold || st.Health <= EmergencyThreshold
	default:
		return false
	}
}

// ownerOverride lets a business owner make business decisions while
// otherwise occupied.
func ownerOverride(dec Decision, ctx GateContext) bool {
	if dec.Type != IntentSetPrice {
		return false
	}
	id, _ := stringParam(dec.Params, "business_id")
	b, ok := ctx.Lookup.Business(id)
	return ok && b.OwnerID == ctx.Actor.ID
}

// validateParams performs the per-type structural and referential
// checks. Returns "" when the parameters are acceptable.
func validateParams(dec Decision, ctx GateContext) string {
	switch dec.Type {
	case IntentIdle, IntentRest:
		return ""

	case IntentWork:
		id, ok := stringParam(dec.Params, "employment_id")
		if !ok {
			return "INTENT_WORK requires employment_id"
		}
		if _, found := ctx.Lookup.Employment(id); !found {
			return fmt.Sprintf("employment %s not found", id)
		}
		return ""

	case IntentConsume:
		itemType, ok := stringParam(dec.Params, "item_type")
		if !ok {
			return "INTENT_CONSUME requires item_type"
		}
		item, found := ctx.Lookup.InventoryItem(ctx.Actor.ID, itemType)
		if !found || item.Quantity < 1 {
			return fmt.Sprintf("no %s in inventory", itemType)
		}
		return ""

	case IntentCollectSalary:
		id, ok := stringParam(dec.Params, "employment_id")
		if !ok {
			return "INTENT_COLLECT_SALARY requires employment_id"
		}
		emp, found := ctx.Lookup.Employment(id)
		if !found {
			return fmt.Sprintf("employment %s not found", id)
		}
		if emp.ActorID != ctx.Actor.ID {
			return "cannot collect salary for another actor's job"
		}
		if emp.Status != EmploymentActive {
			return fmt.Sprintf("employment %s is %s", id, emp.Status)
		}
		return ""

	case IntentResignJob, IntentResignPublicJob:
		id, ok := stringParam(dec.Params, "employment_id")
		if !ok {
			return "resignation requires employment_id"
		}
		emp, found := ctx.Lookup.Employment(id)
		if !found {
			return fmt.Sprintf("employment %s not found", id)
		}
		if emp.ActorID != ctx.Actor.ID {
			return "cannot resign another actor's job"
		}
		if emp.Status != EmploymentActive {
			return fmt.Sprintf("employment %s already %s", id, emp.Status)
		}
		return ""

	case IntentFoundBusiness:
		bt, ok := stringParam(dec.Params, "business_type")
		if !ok {
			return "INTENT_FOUND_BUSINESS requires business_type"
		}
		if BuildCost(BusinessType(bt)).IsZero() {
			return fmt.Sprintf("unknown business type %q", bt)
		}
		if _, ok := stringParam(dec.Params, "name"); !ok {
			return "INTENT_FOUND_BUSINESS requires name"
		}
		if budget, present := floatParam(dec.Params, "construction_budget"); present {
			if !finitePositive(budget) {
				return "construction_budget must be finite and positive"
			}
		}
		return ""

	case IntentSetPrice:
		id, ok := stringParam(dec.Params, "business_id")
		if !ok {
			return "INTENT_SET_PRICE requires business_id"
		}
		b, found := ctx.Lookup.Business(id)
		if !found {
			return fmt.Sprintf("business %s not found", id)
		}
		if b.OwnerID != ctx.Actor.ID {
			return "only the owner may set prices"
		}
		if b.Status != BusinessActive {
			return fmt.Sprintf("business %s is %s", id, b.Status)
		}
		price, present := floatParam(dec.Params, "price")
		if !present || !finitePositive(price) {
			return "price must be finite and positive"
		}
		return ""

	case IntentPayRent:
		amt, present := floatParam(dec.Params, "rent_due")
		if !present || !finitePositive(amt) {
			return "rent_due must be finite and positive"
		}
		return ""

	case IntentPlaceWager:
		amt, present := floatParam(dec.Params, "amount")
		if !present || !finitePositive(amt) {
			return "wager amount must be finite and positive"
		}
		return ""

	case IntentListItem:
		itemType, ok := stringParam(dec.Params, "item_type")
		if !ok {
			return "INTENT_LIST_ITEM requires item_type"
		}
		item, found := ctx.Lookup.InventoryItem(ctx.Actor.ID, itemType)
		qty, qok := floatParam(dec.Params, "quantity")
		if !qok || !finitePositive(qty) || qty != math.Trunc(qty) {
			return "quantity must be a positive integer"
		}
		if !found || item.Quantity < int(qty) {
			return fmt.Sprintf("not enough %s to list", itemType)
		}
		price, pok := floatParam(dec.Params, "price")
		if !pok || !finitePositive(price) {
			return "price must be finite and positive"
		}
		return ""

	case IntentTransfer:
		to, ok := stringParam(dec.Params, "to_actor_id")
		if !ok {
			return "INTENT_TRANSFER requires to_actor_id"
		}
		if _, found := ctx.Lookup.Actor(to); !found {
			return fmt.Sprintf("recipient %s not found", to)
		}
		amt, present := floatParam(dec.Params, "amount")
		if !present || !finitePositive(amt) {
			return "transfer amount must be finite and positive"
		}
		return ""

	default:
		return fmt.Sprintf("unknown intent type %q", dec.Type)
	}
}

// FoundingWealthTier is the minimum wealth tier required to found a
// business. The funding check prices the specific venture; the tier
// is the coarse standing screen.
const FoundingWealthTier = 2

// tierEligibility screens founding intents on wealth standing.
func tierEligibility(dec Decision, ctx GateContext) string {
	if !foundingIntents[dec.Type] {
		return ""
	}
	if tier := WealthTierFor(ctx.Wallet.Balance); tier < FoundingWealthTier {
		return fmt.Sprintf("wealth tier %d below founding minimum %d", tier, FoundingWealthTier)
	}
	return ""
}

// fundingCheck compares the wallet balance against the intent's
// monetary cost. Returns "" when affordable.
func fundingCheck(dec Decision, ctx GateContext) string {
	cost := IntentCost(dec)
	if cost.IsZero() {
		return ""
	}
	if !ledger.CanAfford(ctx.Wallet.Balance, cost) {
		return fmt.Sprintf("insufficient funds: need %s, have %s", cost, ctx.Wallet.Balance)
	}
	return ""
}

// IntentCost computes the per-type monetary cost of a decision.
// Types without a cost return zero.
func IntentCost(dec Decision) decimal.Decimal {
	switch dec.Type {
	case IntentPayRent:
		return decimalParam(dec.Params, "rent_due")

	case IntentFoundBusiness:
		bt, _ := stringParam(dec.Params, "business_type")
		cost := BuildCost(BusinessType(bt)).Add(MinimumCapital)
		if budget, present := floatParam(dec.Params, "construction_budget"); present && finitePositive(budget) {
			// Construction deposit: 20% of budget up front.
			deposit := decimal.NewFromFloat(budget).Mul(decimal.NewFromFloat(0.2)).Round(2)
			cost = cost.Add(deposit)
		}
		return cost

	case IntentPlaceWager:
		return decimalParam(dec.Params, "amount")

	case IntentListItem:
		price := decimalParam(dec.Params, "price")
		qty := decimalParam(dec.Params, "quantity")
		return price.Mul(qty)

	case IntentTransfer:
		return decimalParam(dec.Params, "amount")

	default:
		return decimal.Zero
	}
}

// hardStateConflict: jailed, frozen, and dead actors may only idle.
func hardStateConflict(dec Decision, ctx GateContext) string {
	if dec.Type == IntentIdle {
		return ""
	}
	if ctx.Actor.Dead {
		return "actor is dead"
	}
	if ctx.Actor.Frozen {
		return "actor is frozen (economic death)"
	}
	if ctx.State.Activity == ActivityJailed {
		return "actor is jailed"
	}
	return ""
}

// transitionConsistency enforces job references and IDLE-origin
// activity transitions.
func transitionConsistency(dec Decision, ctx GateContext) string {
	if dec.Type == IntentWork {
		id, _ := stringParam(dec.Params, "employment_id")
		if ctx.ActiveJob == nil || ctx.ActiveJob.ID != id {
			return "INTENT_WORK must reference a job the actor holds"
		}
	}
	if activityStarting[dec.Type] && ctx.State.Activity != ActivityIdle {
		if !emergencyOverride(dec, ctx.State) && !ownerOverride(dec, ctx) {
			return fmt.Sprintf("cannot start %s from %s", dec.Type, ctx.State.Activity)
		}
	}
	return ""
}

// MinimumCapital is the treasury every new business must open with.
var MinimumCapital = decimal.NewFromInt(500)

// BuildCost returns the up-front construction cost for a business
// type, or zero for unknown types.
func BuildCost(t BusinessType) decimal.Decimal {
	switch t {
	case BusinessRestaurant:
		return decimal.NewFromInt(2000)
	case BusinessShop:
		return decimal.NewFromInt(1500)
	case BusinessGym:
		return decimal.NewFromInt(2500)
	case BusinessClinic:
		return decimal.NewFromInt(4000)
	case BusinessBank:
		return decimal.NewFromInt(10000)
	case BusinessWorkshop:
		return decimal.NewFromInt(1800)
	default:
		return decimal.Zero
	}
}

// ── param helpers ────────────────────────────────────────────────────

func stringParam(params map[string]any, key string) (string, bool) {
	v, ok := params[key]
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	if !ok || s == "" {
		return "", false
	}
	return s, true
}

// floatParam accepts float64 and integer param encodings (JSON decodes
// numbers as float64, tests often use ints).
func floatParam(params map[string]any, key string) (float64, bool) {
	v, ok := params[key]
	if !ok {
		return 0, false
	}
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	default:
		return 0, false
	}
}

func decimalParam(params map[string]any, key string) decimal.Decimal {
	f, ok := floatParam(params, key)
	if !ok || !finitePositive(f) {
		return decimal.Zero
	}
	return decimal.NewFromFloat(f).Round(2)
}

func finitePositive(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0) && f > 0
}
