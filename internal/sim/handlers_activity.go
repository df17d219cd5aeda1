// Activity handlers: idle, rest, work, consume.
package sim

import (
	"fmt"

	"github.com/talgya/mini-economy/internal/economy"
	"github.com/talgya/mini-economy/internal/ledger"
)

func handleIdle(ctx HandlerContext) Result {
	st := stateCopy(ctx.State)
	st.Activity = ActivityIdle
	st.ActivityEndTick = 0
	return Result{
		Status:  IntentExecuted,
		Updates: []Mutation{updateState(st)},
		Events: []Event{executed(ctx, map[string]any{
			"reason": ctx.Intent.Reason,
		})},
	}
}

func handleRest(ctx HandlerContext) Result {
	st := stateCopy(ctx.State)
	st.Activity = ActivityResting
	st.ActivityEndTick = ctx.Tick + RestDuration
	return Result{
		Status:  IntentExecuted,
		Updates: []Mutation{updateState(st)},
		Events: []Event{executed(ctx, map[string]any{
			"until_tick": st.ActivityEndTick,
		})},
	}
}

func handleWork(ctx HandlerContext) Result {
	id, _ := stringParam(ctx.Intent.Params, "employment_id")
	emp, ok := ctx.View.Employment(id)
	if !ok || emp.ActorID != ctx.Actor.ID || emp.Status != EmploymentActive {
		return blocked(ctx, fmt.Sprintf("no active employment %s", id))
	}

	st := stateCopy(ctx.State)
	st.Activity = ActivityWorking
	st.ActivityEndTick = ctx.Tick + WorkShift
	st.WorkSegments++

	e := *emp
	e.LastWorkTick = ctx.Tick

	updates := []Mutation{updateState(st), updateEmployment(&e)}
	if !e.Public() {
		if biz, ok := ctx.View.Business(e.BusinessID); ok {
			b := *biz
			b.LastStaffedTick = ctx.Tick
			updates = append(updates, updateBusiness(&b))
		}
	}

	return Result{
		Status:  IntentExecuted,
		Updates: updates,
		Events: []Event{executed(ctx, map[string]any{
			"job_key":    e.JobKey,
			"until_tick": st.ActivityEndTick,
		}, e.ID)},
	}
}

// handleConsume decrements inventory by one unit and applies the
// item's need effects, clamped to [0, 100]. The inventory row is
// deleted when the quantity reaches exactly zero.
func handleConsume(ctx HandlerContext) Result {
	itemType, _ := stringParam(ctx.Intent.Params, "item_type")
	item, ok := ctx.View.InventoryItem(ctx.Actor.ID, itemType)
	if !ok || item.Quantity < 1 {
		return blocked(ctx, fmt.Sprintf("no %s in inventory", itemType))
	}

	catalogItem, ok := economy.LookupItem(itemType)
	if !ok {
		return blocked(ctx, fmt.Sprintf("unknown item type %q", itemType))
	}

	st := stateCopy(ctx.State)
	st.Energy = ledger.ClampNeed(st.Energy + catalogItem.Effect.Energy)
	st.Hunger = ledger.ClampNeed(st.Hunger + catalogItem.Effect.Hunger)
	st.Health = ledger.ClampNeed(st.Health + catalogItem.Effect.Health)
	st.Social = ledger.ClampNeed(st.Social + catalogItem.Effect.Social)
	st.Fun = ledger.ClampNeed(st.Fun + catalogItem.Effect.Fun)

	key := InventoryKey(ctx.Actor.ID, itemType)
	var invMut Mutation
	if item.Quantity == 1 {
		invMut = Mutation{Table: TableInventory, Op: OpDelete, ID: key}
	} else {
		next := *item
		next.Quantity--
		invMut = Mutation{Table: TableInventory, Op: OpUpdate, ID: key, Data: &next}
	}

	return Result{
		Status:  IntentExecuted,
		Updates: []Mutation{updateState(st), invMut},
		Events: []Event{executed(ctx, map[string]any{
			"item_type": itemType,
			"remaining": item.Quantity - 1,
		})},
	}
}
