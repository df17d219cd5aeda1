// Money-moving handlers: rent, wagers, listings, transfers.
package sim

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/talgya/mini-economy/internal/ledger"
)

func handlePayRent(ctx HandlerContext) Result {
	rent, err := requireAmount(ctx.Intent.Params, "rent_due")
	if err != nil {
		return blocked(ctx, err.Error())
	}
	if ctx.Wallet.Balance.LessThan(rent) {
		return blocked(ctx, fmt.Sprintf("insufficient funds for rent %s", rent))
	}

	wal := walletCopy(ctx.Wallet)
	wal.Balance = wal.Balance.Sub(rent)

	st := stateCopy(ctx.State)
	st.WealthTier = WealthTierFor(wal.Balance)

	return Result{
		Status:        IntentExecuted,
		Updates:       []Mutation{updateWallet(wal), updateState(st)},
		CityVaultDelta: rent,
		Events: []Event{executed(ctx, map[string]any{
			"rent": rent.String(),
		})},
	}
}

// handlePlaceWager resolves a wager against the city vault. The outcome
// derives from the tick seed and actor id, so replays agree.
func handlePlaceWager(ctx HandlerContext) Result {
	amount, err := requireAmount(ctx.Intent.Params, "amount")
	if err != nil {
		return blocked(ctx, err.Error())
	}
	if ctx.Wallet.Balance.LessThan(amount) {
		return blocked(ctx, fmt.Sprintf("insufficient funds for wager %s", amount))
	}

	wal := walletCopy(ctx.Wallet)
	wal.Balance = wal.Balance.Sub(amount)

	res := Result{Status: IntentExecuted, CityVaultDelta: amount}

	won := OrderKey(ctx.Seed, ctx.Actor.ID+"/wager")%2 == 0
	payout := decimal.Zero
	if won {
		payout = amount.Mul(decimal.NewFromInt(2))
		// The house covers what it can; a dry vault pays short.
		available := ctx.CityVault.Add(amount)
		if available.LessThan(payout) {
			payout = ledger.ClampNonNegative(available)
		}
		wal.Balance = wal.Balance.Add(payout)
		res.CityVaultDelta = amount.Sub(payout)
	}

	st := stateCopy(ctx.State)
	st.WealthTier = WealthTierFor(wal.Balance)

	res.Updates = []Mutation{updateWallet(wal), updateState(st)}
	res.Events = []Event{executed(ctx, map[string]any{
		"amount": amount.String(),
		"won":    won,
		"payout": payout.String(),
	})}
	return res
}

// handleListItem sells a stack onto the city market. The actor must be
// able to bond the full listing value (price × quantity); the market
// clears immediately, returning the bond plus proceeds net of the
// platform fee.
func handleListItem(ctx HandlerContext) Result {
	itemType, _ := stringParam(ctx.Intent.Params, "item_type")
	qtyF, _ := floatParam(ctx.Intent.Params, "quantity")
	qty := int(qtyF)
	price, err := requireAmount(ctx.Intent.Params, "price")
	if err != nil {
		return blocked(ctx, err.Error())
	}

	item, ok := ctx.View.InventoryItem(ctx.Actor.ID, itemType)
	if !ok || item.Quantity < qty || qty < 1 {
		return blocked(ctx, fmt.Sprintf("not enough %s to list", itemType))
	}

	gross := price.Mul(decimal.NewFromInt(int64(qty)))
	if ctx.Wallet.Balance.LessThan(gross) {
		return blocked(ctx, fmt.Sprintf("cannot bond listing value %s", gross))
	}

	net, fee := ledger.SplitFee(gross, ctx.PlatformFeePct)

	key := InventoryKey(ctx.Actor.ID, itemType)
	var invMut Mutation
	if item.Quantity == qty {
		invMut = Mutation{Table: TableInventory, Op: OpDelete, ID: key}
	} else {
		next := *item
		next.Quantity -= qty
		invMut = Mutation{Table: TableInventory, Op: OpUpdate, ID: key, Data: &next}
	}

	wal := walletCopy(ctx.Wallet)
	wal.Balance = wal.Balance.Add(net)

	st := stateCopy(ctx.State)
	st.WealthTier = WealthTierFor(wal.Balance)

	return Result{
		Status:             IntentExecuted,
		Updates:            []Mutation{invMut, updateWallet(wal), updateState(st)},
		PlatformVaultDelta: fee,
		Events: []Event{executed(ctx, map[string]any{
			"item_type": itemType,
			"quantity":  qty,
			"gross":     gross.String(),
			"net":       net.String(),
			"fee":       fee.String(),
		})},
	}
}

// handleTransfer moves funds between internal wallets immediately and,
// when both sides hold external bindings, queues the on-chain mirror.
// The internal ledger never waits for the chain.
func handleTransfer(ctx HandlerContext) Result {
	toID, _ := stringParam(ctx.Intent.Params, "to_actor_id")
	amount, err := requireAmount(ctx.Intent.Params, "amount")
	if err != nil {
		return blocked(ctx, err.Error())
	}
	if ctx.Wallet.Balance.LessThan(amount) {
		return blocked(ctx, fmt.Sprintf("insufficient funds for transfer %s", amount))
	}
	if toID == ctx.Actor.ID {
		return blocked(ctx, "cannot transfer to self")
	}
	if _, ok := ctx.View.Actor(toID); !ok {
		return blocked(ctx, fmt.Sprintf("recipient %s not found", toID))
	}

	net, fee := ledger.SplitFee(amount, ctx.PlatformFeePct)

	wal := walletCopy(ctx.Wallet)
	wal.Balance = wal.Balance.Sub(amount)

	st := stateCopy(ctx.State)
	st.WealthTier = WealthTierFor(wal.Balance)

	res := Result{
		Status:             IntentExecuted,
		PlatformVaultDelta: fee,
		Updates:            []Mutation{updateWallet(wal), updateState(st)},
	}

	// Recipient wallet is created lazily on the first credit.
	recipientMut := Mutation{Table: TableWallets, Op: OpCreate, ID: toID,
		Data: &Wallet{ActorID: toID, Balance: net}}
	if existing, ok := lookupWallet(ctx.View, toID); ok {
		next := *existing
		next.Balance = next.Balance.Add(net)
		recipientMut = updateWallet(&next)
	}
	res.Updates = append(res.Updates, recipientMut)

	effects := map[string]any{
		"amount": amount.String(),
		"net":    net.String(),
		"fee":    fee.String(),
	}

	fromBinding, fromOK := ctx.View.Binding(ctx.Actor.ID)
	toBinding, toOK := ctx.View.Binding(toID)
	if fromOK && toOK {
		res.Jobs = append(res.Jobs, SettlementJob{
			Type: "transfer_mirror",
			Payload: TransferPayload{
				FromActorID: ctx.Actor.ID,
				ToActorID:   toID,
				FromAddress: fromBinding.Address,
				ToAddress:   toBinding.Address,
				Amount:      net,
				Fee:         fee,
			},
		})
		res.Status = IntentQueued
		effects["queued"] = true
	}

	ev := executed(ctx, effects, toID)
	if res.Status == IntentQueued {
		ev.Outcome = OutcomeQueued
	}
	res.Events = []Event{ev}
	return res
}

// walletLookup is implemented by views that can resolve wallets beyond
// the acting actor's own (the world does).
type walletLookup interface {
	Wallet(actorID string) (*Wallet, bool)
}

func lookupWallet(view Lookup, actorID string) (*Wallet, bool) {
	wl, ok := view.(walletLookup)
	if !ok {
		return nil, false
	}
	return wl.Wallet(actorID)
}
