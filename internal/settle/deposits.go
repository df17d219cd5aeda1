// Deposit watcher: the inbound half of the external-ledger interface.
package settle

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"github.com/talgya/mini-economy/internal/chain"
	"github.com/talgya/mini-economy/internal/sim"
	"github.com/talgya/mini-economy/internal/store"
)

const depositBlockKey = "deposit_block"

// DepositWatcher observes incoming external transfers and credits the
// internal wallets they target. A frozen actor whose balance reaches
// the revival threshold is unfrozen.
type DepositWatcher struct {
	DB    *store.DB
	Chain chain.Client
	World *sim.World

	RevivalThreshold decimal.Decimal
	PollInterval     time.Duration
}

// NewDepositWatcher creates a watcher with the given revival threshold.
func NewDepositWatcher(db *store.DB, c chain.Client, w *sim.World, threshold decimal.Decimal) *DepositWatcher {
	return &DepositWatcher{
		DB:               db,
		Chain:            c,
		World:            w,
		RevivalThreshold: threshold,
		PollInterval:     5 * time.Second,
	}
}

// Run polls for deposits until the context is cancelled.
func (dw *DepositWatcher) Run(ctx context.Context) {
	ticker := time.NewTicker(dw.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := dw.PollOnce(ctx); err != nil {
				slog.Error("deposit poll failed", "error", err)
			}
		}
	}
}

// PollOnce fetches deposits since the last seen block and credits
// them. Returns the number of newly credited deposits.
func (dw *DepositWatcher) PollOnce(ctx context.Context) (int, error) {
	since := uint64(0)
	if v, err := dw.DB.GetMeta(depositBlockKey); err == nil && v != "" {
		if b, err := strconv.ParseUint(v, 10, 64); err == nil {
			since = b + 1
		}
	}

	deposits, err := dw.Chain.Deposits(ctx, since)
	if err != nil {
		return 0, fmt.Errorf("list deposits: %w", err)
	}

	credited := 0
	maxBlock := since
	for _, d := range deposits {
		if d.Block > maxBlock {
			maxBlock = d.Block
		}
		actorID := dw.actorForAddress(d.ToAddress)
		if actorID == "" {
			continue // deposit to an unbound address; nothing to credit
		}

		// Tx-hash keyed insert is the idempotency gate.
		inserted, err := dw.DB.InsertDeposit(d.TxHash, actorID, d.Amount.String(), d.Block)
		if err != nil {
			return credited, err
		}
		if !inserted {
			continue
		}

		dw.credit(actorID, d)
		credited++
	}

	if len(deposits) > 0 {
		if err := dw.DB.SaveMeta(depositBlockKey, strconv.FormatUint(maxBlock, 10)); err != nil {
			slog.Error("save deposit block", "error", err)
		}
	}
	return credited, nil
}

func (dw *DepositWatcher) actorForAddress(addr string) string {
	actorID := ""
	dw.World.WithLock(func() {
		for _, b := range dw.World.Bindings {
			if b.Address == addr {
				actorID = b.ActorID
				return
			}
		}
	})
	return actorID
}

// credit applies one deposit: wallet credit, binding cache sync, and
// the revival rule for frozen actors.
func (dw *DepositWatcher) credit(actorID string, d chain.Deposit) {
	dw.World.WithLock(func() {
		wal, ok := dw.World.Wallets[actorID]
		if !ok {
			wal = &sim.Wallet{ActorID: actorID}
			dw.World.Wallets[actorID] = wal
		}
		wal.Balance = wal.Balance.Add(d.Amount)

		if b, ok := dw.World.Bindings[actorID]; ok {
			b.LastBalance = b.LastBalance.Add(d.Amount)
			b.LastBlock = d.Block
		}
		if st, ok := dw.World.States[actorID]; ok {
			st.WealthTier = sim.WealthTierFor(wal.Balance)
		}

		ev := sim.Event{
			ActorID: actorID,
			Type:    "DEPOSIT_CREDITED",
			Outcome: sim.OutcomeOK,
			SideEffects: map[string]any{
				"amount": d.Amount.String(),
				"tx":     d.TxHash,
			},
			Tick: dw.World.Tick,
		}
		events := []sim.Event{ev}

		actor, ok := dw.World.Actors[actorID]
		if ok && actor.Frozen && wal.Balance.GreaterThanOrEqual(dw.RevivalThreshold) {
			actor.Frozen = false
			events = append(events, sim.Event{
				ActorID: actorID,
				Type:    "ACTOR_REVIVED",
				Outcome: sim.OutcomeOK,
				SideEffects: map[string]any{
					"balance":   wal.Balance.String(),
					"threshold": dw.RevivalThreshold.String(),
				},
				Tick: dw.World.Tick,
			})
			slog.Info("frozen actor revived by deposit", "actor", actorID)
		}

		dw.World.Events = append(dw.World.Events, events...)
		if err := dw.DB.AppendEvents(events); err != nil {
			slog.Error("persist deposit events", "error", err)
		}
	})
}
