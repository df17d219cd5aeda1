// Business daily cycle: demand, payroll, maintenance, taxation,
// insolvency, and loan servicing for every active business. Order
// matters; later steps depend on earlier ones.
package sim

import (
	"log/slog"
	"math"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/talgya/mini-economy/internal/economy"
	"github.com/talgya/mini-economy/internal/ledger"
)

// Cycle tuning.
const (
	MaintenanceBase     = 20.0
	MaintenanceLevelPct = 0.3
	MissedPayLimit      = 3
	InsolvencyLimit     = 3
	MissedPayRepPenalty = 25
	BankruptRepPenalty  = 100
	LenderDefaultRep    = 50
	BorrowerDefaultRep  = 150
	QualityDecay        = 5.0
)

// DailyCycle runs the per-business economic batch once per sim day.
type DailyCycle struct {
	World       *World
	Sink        Sink
	Index       *economy.MarketIndex
	CityTaxRate decimal.Decimal
}

// Run processes every active business in seeded deterministic order.
// A failure inside one business is logged and skips that business
// only; one broken entity must not stall the world.
func (c *DailyCycle) Run(tick uint64) {
	seed := c.World.TickSeed(tick)
	day := SimDay(tick)

	ids := make([]string, 0, len(c.World.Businesses))
	for id, b := range c.World.Businesses {
		if b.Status == BusinessActive {
			ids = append(ids, id)
		}
	}
	SortActorIDs(ids, seed)

	for _, id := range ids {
		c.runBusiness(id, tick, day, seed)
	}

	c.serviceLoans(tick)
}

// runBusiness executes the daily steps for one business, with panic
// containment at the iteration boundary.
func (c *DailyCycle) runBusiness(id string, tick, day, seed uint64) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("daily cycle panicked, business skipped", "business", id, "panic", r)
		}
	}()

	// Re-read: settlement confirmations may have credited the
	// treasury since the cycle started.
	b, ok := c.World.Businesses[id]
	if !ok || b.Status != BusinessActive {
		return
	}

	revenue := c.demandAndRevenue(b, tick, day, seed)
	payroll := c.payroll(b, tick)
	maintenance := c.maintenance(b, tick)
	c.taxation(b, revenue, tick)
	c.insolvency(b, payroll.Add(maintenance), tick)
}

// demandAndRevenue models customers and collects their payments.
func (c *DailyCycle) demandAndRevenue(b *Business, tick, day, seed uint64) decimal.Decimal {
	w := c.World

	// Presence gate: a staffed business that nobody has worked at in
	// the last sim day serves no customers.
	if b.RequiresStaff && (b.LastStaffedTick == 0 || tick-b.LastStaffedTick > TicksPerDay) {
		c.emit(Event{
			ActorID:     b.OwnerID,
			Type:        "BUSINESS_UNSTAFFED",
			TargetIDs:   []string{b.ID},
			Outcome:     OutcomeBlocked,
			SideEffects: map[string]any{"reason": "no staff present in the last day"},
			Tick:        tick,
		})
		return decimal.Zero
	}

	price := b.Price
	if price.IsZero() || price.IsNegative() {
		price = economy.BaseMarketPrice(string(b.Type))
	}

	// Candidate customers: alive, unfrozen, not the owner.
	var candidates []string
	affordable := 0
	for actorID, a := range w.Actors {
		if a.Dead || a.Frozen || actorID == b.OwnerID {
			continue
		}
		candidates = append(candidates, actorID)
		if wal, ok := w.Wallets[actorID]; ok && ledger.CanAfford(wal.Balance, price) {
			affordable++
		}
	}
	population := len(candidates)
	if population == 0 {
		return decimal.Zero
	}

	marketPrice := c.Index.MarketPrice(string(b.Type), day)
	competition := 1.0 / float64(1+w.CompetitorCount(b))
	demand := float64(population) *
		economy.DemandFactor(string(b.Type)) *
		(b.QualityScore / 100.0) *
		economy.ReputationFactor(b.Reputation) *
		competition *
		economy.PriceElasticity(marketPrice, price)

	// Scale by the fraction of nearby agents who can afford the price.
	demand *= float64(affordable) / float64(population)
	customers := int(math.Floor(demand))
	if customers <= 0 {
		return decimal.Zero
	}
	if customers > population {
		customers = population
	}

	// Seeded selection, reproducible for a given seed.
	SortActorIDs(candidates, seed)

	revenue := decimal.Zero
	served := 0
	for _, actorID := range candidates {
		if served >= customers {
			break
		}
		wal, ok := w.Wallets[actorID]
		if !ok || !ledger.CanAfford(wal.Balance, price) {
			continue
		}
		wal.Balance = wal.Balance.Sub(price)
		revenue = revenue.Add(price)
		served++
	}

	b.Treasury = b.Treasury.Add(revenue)
	if served > 0 {
		c.emit(Event{
			ActorID:   b.OwnerID,
			Type:      "BUSINESS_REVENUE",
			TargetIDs: []string{b.ID},
			Outcome:   OutcomeOK,
			SideEffects: map[string]any{
				"customers": served,
				"revenue":   revenue.String(),
				"price":     price.String(),
			},
			Tick: tick,
		})
	}
	return revenue
}

// payroll pays every due employee, or nobody when the treasury cannot
// cover the full run. Returns the total daily payroll obligation.
func (c *DailyCycle) payroll(b *Business, tick uint64) decimal.Decimal {
	employees := c.World.BusinessEmployees(b.ID)

	// Payable: worked under this job within the last day AND due.
	var payable []*Employment
	total := decimal.Zero
	obligation := decimal.Zero
	for _, e := range employees {
		obligation = obligation.Add(e.DailyRate)
		workedRecently := e.LastWorkTick > 0 && tick-e.LastWorkTick <= TicksPerDay
		due := tick-e.LastPaidTick >= TicksPerDay
		if workedRecently && due {
			payable = append(payable, e)
			total = total.Add(e.DailyRate)
		}
	}
	if len(payable) == 0 {
		return obligation
	}

	if b.Treasury.LessThan(total) {
		// All-or-nothing: a short treasury pays no one.
		for _, e := range payable {
			e.MissedPayDays++
			if e.MissedPayDays >= MissedPayLimit {
				e.Status = EmploymentTerminated
				c.emit(Event{
					ActorID:     e.ActorID,
					Type:        "EMPLOYMENT_TERMINATED",
					TargetIDs:   []string{b.ID, e.ID},
					Outcome:     OutcomeBlocked,
					SideEffects: map[string]any{"reason": "three consecutive missed paydays"},
					Tick:        tick,
				})
			}
		}
		// One reputation penalty per missed-payroll day, not per
		// employee.
		b.Reputation -= MissedPayRepPenalty
		if b.Reputation < 0 {
			b.Reputation = 0
		}
		c.emit(Event{
			ActorID:   b.OwnerID,
			Type:      "PAYROLL_MISSED",
			TargetIDs: []string{b.ID},
			Outcome:   OutcomeBlocked,
			SideEffects: map[string]any{
				"owed":     total.String(),
				"treasury": b.Treasury.String(),
			},
			Tick: tick,
		})
		return obligation
	}

	for _, e := range payable {
		b.Treasury = b.Treasury.Sub(e.DailyRate)
		if wal, ok := c.World.Wallets[e.ActorID]; ok {
			wal.Balance = wal.Balance.Add(e.DailyRate)
		}
		e.LastPaidTick = tick
		e.MissedPayDays = 0
	}
	c.emit(Event{
		ActorID:   b.OwnerID,
		Type:      "PAYROLL_PAID",
		TargetIDs: []string{b.ID},
		Outcome:   OutcomeOK,
		SideEffects: map[string]any{
			"employees": len(payable),
			"total":     total.String(),
		},
		Tick: tick,
	})
	return obligation
}

// maintenance charges the fixed daily cost. Non-payment degrades
// quality instead of blocking.
func (c *DailyCycle) maintenance(b *Business, tick uint64) decimal.Decimal {
	cost := decimal.NewFromFloat(
		MaintenanceBase * (1 + float64(b.Level-1)*MaintenanceLevelPct)).Round(2)

	if b.Treasury.GreaterThanOrEqual(cost) {
		b.Treasury = b.Treasury.Sub(cost)
		c.World.CityVault = c.World.CityVault.Add(cost)
	} else {
		b.QualityScore -= QualityDecay
		if b.QualityScore < 0 {
			b.QualityScore = 0
		}
		c.emit(Event{
			ActorID:     b.OwnerID,
			Type:        "MAINTENANCE_SKIPPED",
			TargetIDs:   []string{b.ID},
			Outcome:     OutcomeBlocked,
			SideEffects: map[string]any{"quality": b.QualityScore},
			Tick:        tick,
		})
	}
	return cost
}

// taxation remits revenue tax to the city vault when affordable and
// queues the on-chain mirror when the owner holds a binding.
func (c *DailyCycle) taxation(b *Business, revenue decimal.Decimal, tick uint64) {
	tax := revenue.Mul(c.CityTaxRate).Round(2)
	if tax.IsZero() {
		return
	}

	if b.Treasury.LessThan(tax) {
		b.MissedTaxDays++
		return
	}

	b.Treasury = b.Treasury.Sub(tax)
	c.World.CityVault = c.World.CityVault.Add(tax)

	if binding, ok := c.World.Bindings[b.OwnerID]; ok && c.Sink != nil {
		job := &SettlementJob{
			ID:   uuid.NewString(),
			Type: "tax_remittance",
			Payload: TransferPayload{
				FromActorID: b.OwnerID,
				FromAddress: binding.Address,
				ToAddress:   cityTreasuryAddress,
				Amount:      tax,
				Fee:         decimal.Zero,
				Memo:        "tax " + b.ID,
			},
			Status:    JobQueued,
			UpdatedAt: time.Now().Unix(),
		}
		if err := c.Sink.EnqueueJob(job); err != nil {
			slog.Error("enqueue tax settlement", "business", b.ID, "error", err)
		}
	}
}

// insolvency tracks negative-treasury days and force-dissolves at the
// limit. Bankruptcy is terminal and its cascade fires exactly once.
func (c *DailyCycle) insolvency(b *Business, dailyExpenses decimal.Decimal, tick uint64) {
	if dailyExpenses.IsPositive() {
		runway, _ := b.Treasury.Div(dailyExpenses).Float64()
		if runway < 1 {
			c.emit(Event{
				ActorID:   b.OwnerID,
				Type:      "EVENT_BUSINESS_CRITICAL_FUNDS",
				TargetIDs: []string{b.ID},
				Outcome:   OutcomeBlocked,
				SideEffects: map[string]any{
					"runway_days": math.Round(runway*100) / 100,
					"treasury":    b.Treasury.String(),
				},
				Tick: tick,
			})
		}
	}

	if b.Treasury.IsNegative() {
		b.InsolvencyDays++
	} else {
		b.InsolvencyDays = 0
		return
	}

	if b.InsolvencyDays < InsolvencyLimit {
		return
	}

	b.Status = BusinessBankrupt
	for _, e := range c.World.BusinessEmployees(b.ID) {
		e.Status = EmploymentFired
	}
	if owner, ok := c.World.Actors[b.OwnerID]; ok {
		owner.Reputation -= BankruptRepPenalty
	}
	c.emit(Event{
		ActorID:     b.OwnerID,
		Type:        "BUSINESS_BANKRUPT",
		TargetIDs:   []string{b.ID},
		Outcome:     OutcomeBlocked,
		SideEffects: map[string]any{"insolvency_days": b.InsolvencyDays},
		Tick:        tick,
	})
	slog.Info("business bankrupt", "business", b.ID, "owner", b.OwnerID)
}

// serviceLoans compounds outstanding balances daily and collects or
// defaults loans at their due tick. Bank businesses only.
func (c *DailyCycle) serviceLoans(tick uint64) {
	ids := make([]string, 0, len(c.World.Loans))
	for id := range c.World.Loans {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	one := decimal.NewFromInt(1)
	for _, id := range ids {
		loan := c.World.Loans[id]
		if loan.Status != LoanActive {
			continue
		}
		lender, ok := c.World.Businesses[loan.LenderID]
		if !ok || lender.Type != BusinessBank {
			slog.Error("loan has no bank lender, skipped", "loan", loan.ID)
			continue
		}

		loan.Outstanding = loan.Outstanding.Mul(one.Add(loan.DailyInterestRate)).Round(2)
		if tick < loan.DueTick {
			continue
		}

		borrower, ok := c.World.Businesses[loan.BorrowerID]
		if ok && borrower.Treasury.GreaterThanOrEqual(loan.Outstanding) {
			borrower.Treasury = borrower.Treasury.Sub(loan.Outstanding)
			lender.Treasury = lender.Treasury.Add(loan.Outstanding)
			loan.Status = LoanRepaid
			c.emit(Event{
				ActorID:     lender.OwnerID,
				Type:        "LOAN_REPAID",
				TargetIDs:   []string{loan.ID, loan.BorrowerID},
				Outcome:     OutcomeOK,
				SideEffects: map[string]any{"amount": loan.Outstanding.String()},
				Tick:        tick,
			})
			continue
		}

		loan.Status = LoanDefaulted
		lender.Reputation -= LenderDefaultRep
		if lender.Reputation < 0 {
			lender.Reputation = 0
		}
		if ok {
			borrower.Reputation -= BorrowerDefaultRep
			if borrower.Reputation < 0 {
				borrower.Reputation = 0
			}
		}
		c.emit(Event{
			ActorID:     lender.OwnerID,
			Type:        "LOAN_DEFAULTED",
			TargetIDs:   []string{loan.ID, loan.BorrowerID},
			Outcome:     OutcomeBlocked,
			SideEffects: map[string]any{"outstanding": loan.Outstanding.String()},
			Tick:        tick,
		})
	}
}

// emit appends an event to the world buffer and the durable sink.
func (c *DailyCycle) emit(ev Event) {
	c.World.Events = append(c.World.Events, ev)
	if c.Sink != nil {
		if err := c.Sink.AppendEvents([]Event{ev}); err != nil {
			slog.Error("persist cycle event", "type", ev.Type, "error", err)
		}
	}
}
