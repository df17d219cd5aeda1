// Business handlers: founding and owner decisions.
package sim

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// handleFoundBusiness debits the build cost plus minimum capital
// (plus any construction deposit), creates the business with its
// treasury seeded, and, when the founder has an external wallet
// binding, queues an on-chain capitalization mirror.
func handleFoundBusiness(ctx HandlerContext) Result {
	bt, _ := stringParam(ctx.Intent.Params, "business_type")
	name, _ := stringParam(ctx.Intent.Params, "name")

	cost := IntentCost(Decision{Type: IntentFoundBusiness, Params: ctx.Intent.Params})
	if ctx.Wallet.Balance.LessThan(cost) {
		return blocked(ctx, fmt.Sprintf("insufficient funds: need %s, have %s", cost, ctx.Wallet.Balance))
	}
	if ctx.State.JobType != "" {
		return blocked(ctx, "cannot found a business while holding a job")
	}

	biz := &Business{
		ID:           uuid.NewString(),
		OwnerID:      ctx.Actor.ID,
		Type:         BusinessType(bt),
		Name:         name,
		Level:        1,
		Treasury:     MinimumCapital,
		Status:       BusinessActive,
		QualityScore: 50,
		Reputation:   500,
		Price:        BuildCost(BusinessType(bt)).Div(decimal.NewFromInt(100)).Round(2),
		CreatedTick:  ctx.Tick,
	}

	wal := walletCopy(ctx.Wallet)
	wal.Balance = wal.Balance.Sub(cost)

	st := stateCopy(ctx.State)
	st.WealthTier = WealthTierFor(wal.Balance)
	st.Deferred = nil // the plan, deferred or not, is now spent

	res := Result{
		Status: IntentExecuted,
		Updates: []Mutation{
			{Table: TableBusinesses, Op: OpCreate, ID: biz.ID, Data: biz},
			updateWallet(wal),
			updateState(st),
		},
		Events: []Event{executed(ctx, map[string]any{
			"business_type": bt,
			"name":          name,
			"cost":          cost.String(),
		}, biz.ID)},
	}

	// Mirror the capitalization on-chain when a binding exists.
	if binding, ok := ctx.View.Binding(ctx.Actor.ID); ok {
		res.Jobs = append(res.Jobs, SettlementJob{
			Type: "business_capitalization",
			Payload: TransferPayload{
				FromActorID: ctx.Actor.ID,
				FromAddress: binding.Address,
				ToAddress:   cityTreasuryAddress,
				Amount:      MinimumCapital,
				Fee:         decimal.Zero,
				Memo:        "capitalize " + biz.ID,
			},
		})
		res.Status = IntentQueued
		res.Events[0].Outcome = OutcomeQueued
	}
	return res
}

// cityTreasuryAddress is the external-ledger account that mirrors the
// city vault.
const cityTreasuryAddress = "0xC17Y0000000000000000000000000000000000001"

func handleSetPrice(ctx HandlerContext) Result {
	id, _ := stringParam(ctx.Intent.Params, "business_id")
	biz, ok := ctx.View.Business(id)
	if !ok || biz.OwnerID != ctx.Actor.ID {
		return blocked(ctx, fmt.Sprintf("business %s not found or not owned", id))
	}
	if biz.Status != BusinessActive {
		return blocked(ctx, fmt.Sprintf("business %s is %s", id, biz.Status))
	}

	price, err := requireAmount(ctx.Intent.Params, "price")
	if err != nil {
		return blocked(ctx, err.Error())
	}

	b := *biz
	old := b.Price
	b.Price = price

	return Result{
		Status:  IntentExecuted,
		Updates: []Mutation{updateBusiness(&b)},
		Events: []Event{executed(ctx, map[string]any{
			"old_price": old.String(),
			"new_price": price.String(),
		}, b.ID)},
	}
}
