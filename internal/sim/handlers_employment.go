// Employment handlers: salary collection and resignation.
package sim

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/talgya/mini-economy/internal/ledger"
)

// handleCollectSalary pays out owed salary from the employer's vault:
// the business treasury for private jobs, the city vault for public
// ones. When the vault cannot cover the net amount, the entire
// remaining vault balance is paid instead, with no fee taken.
func handleCollectSalary(ctx HandlerContext) Result {
	id, _ := stringParam(ctx.Intent.Params, "employment_id")
	emp, ok := ctx.View.Employment(id)
	if !ok || emp.ActorID != ctx.Actor.ID || emp.Status != EmploymentActive {
		return blocked(ctx, fmt.Sprintf("no active employment %s", id))
	}

	daysOwed := (ctx.Tick - emp.LastPaidTick) / TicksPerDay
	if daysOwed < 1 {
		return blocked(ctx, "salary not due yet")
	}
	// Capped at one day per collection.
	gross := emp.DailyRate
	net, fee := ledger.SplitFee(gross, ctx.PlatformFeePct)

	var vault decimal.Decimal
	var biz *Business
	if emp.Public() {
		vault = ctx.CityVault
	} else {
		biz, ok = ctx.View.Business(emp.BusinessID)
		if !ok {
			return blocked(ctx, fmt.Sprintf("employer business %s missing", emp.BusinessID))
		}
		vault = biz.Treasury
	}

	st := stateCopy(ctx.State)
	wal := walletCopy(ctx.Wallet)
	e := *emp
	e.LastPaidTick = ctx.Tick

	res := Result{Status: IntentExecuted}
	partial := vault.LessThan(net)

	var paid, drawn decimal.Decimal
	if partial {
		// Pay whatever the vault still holds; no platform fee on a
		// partial payout.
		paid = ledger.ClampNonNegative(vault)
		drawn = paid
		fee = decimal.Zero
		st.Anger += PartialPayAnger
		st.ExperienceDays = 0
	} else {
		paid = net
		drawn = gross
		st.ExperienceDays++
		res.PlatformVaultDelta = fee
	}

	wal.Balance = wal.Balance.Add(paid)
	st.WealthTier = WealthTierFor(wal.Balance)

	if emp.Public() {
		res.CityVaultDelta = drawn.Neg()
	} else {
		b := *biz
		b.Treasury = b.Treasury.Sub(drawn)
		res.Updates = append(res.Updates, updateBusiness(&b))
	}

	res.Updates = append(res.Updates, updateState(st), updateWallet(wal), updateEmployment(&e))
	res.Events = []Event{executed(ctx, map[string]any{
		"gross":   gross.String(),
		"paid":    paid.String(),
		"fee":     fee.String(),
		"partial": partial,
	}, e.ID)}
	return res
}

// handleResign covers both private and public resignations. Mid-shift
// resignation is refused. A deferred plan attached by the safety gate's
// startup override is carried onto the agent state so the founding
// intent retries after its cooldown.
func handleResign(ctx HandlerContext) Result {
	id, _ := stringParam(ctx.Intent.Params, "employment_id")
	emp, ok := ctx.View.Employment(id)
	if !ok || emp.ActorID != ctx.Actor.ID {
		return blocked(ctx, fmt.Sprintf("employment %s not found", id))
	}
	if emp.Status != EmploymentActive {
		return blocked(ctx, fmt.Sprintf("employment %s already %s", id, emp.Status))
	}
	if ctx.State.Activity == ActivityWorking {
		return blocked(ctx, "cannot resign mid-shift")
	}

	e := *emp
	e.Status = EmploymentResigned
	if ctx.Intent.Type == IntentResignPublicJob {
		e.Status = EmploymentQuit
	}

	st := stateCopy(ctx.State)
	st.JobType = ""

	effects := map[string]any{"job_key": emp.JobKey}
	if plan, ok := ctx.Intent.Params["deferred_plan"].(map[string]any); ok {
		st.Deferred = deferredFromParams(plan)
		if st.Deferred != nil {
			effects["deferred_intent"] = string(st.Deferred.IntentType)
			effects["ready_tick"] = st.Deferred.ReadyTick
		}
	}

	return Result{
		Status:  IntentExecuted,
		Updates: []Mutation{updateState(st), updateEmployment(&e)},
		Events:  []Event{executed(ctx, effects, e.ID)},
	}
}

// deferredFromParams rebuilds a DeferredPlan from the gate's payload.
// Ready tick arrives as uint64 in-process and float64 after a JSON
// round trip.
func deferredFromParams(plan map[string]any) *DeferredPlan {
	it, ok := plan["intent_type"].(string)
	if !ok {
		return nil
	}
	params, _ := plan["params"].(map[string]any)

	var ready uint64
	switch v := plan["ready_tick"].(type) {
	case uint64:
		ready = v
	case float64:
		ready = uint64(v)
	case int:
		ready = uint64(v)
	default:
		return nil
	}

	return &DeferredPlan{
		IntentType: IntentType(it),
		Params:     params,
		ReadyTick:  ready,
	}
}
