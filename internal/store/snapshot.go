// World snapshot persistence: full-replace save and load.
package store

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/shopspring/decimal"

	"github.com/talgya/mini-economy/internal/sim"
)

func (db *DB) migrateSnapshot() error {
	schema := `
	CREATE TABLE IF NOT EXISTS actors (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		frozen INTEGER NOT NULL,
		dead INTEGER NOT NULL,
		reputation INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS agent_states (
		actor_id TEXT PRIMARY KEY,
		energy REAL NOT NULL,
		hunger REAL NOT NULL,
		health REAL NOT NULL,
		social REAL NOT NULL,
		fun REAL NOT NULL,
		purpose REAL NOT NULL,
		activity INTEGER NOT NULL,
		activity_end_tick INTEGER NOT NULL,
		job_type TEXT NOT NULL,
		wealth_tier INTEGER NOT NULL,
		housing_tier INTEGER NOT NULL,
		work_segments INTEGER NOT NULL,
		anger INTEGER NOT NULL,
		experience_days INTEGER NOT NULL,
		deferred_json TEXT NOT NULL DEFAULT ''
	);

	CREATE TABLE IF NOT EXISTS wallets (
		actor_id TEXT PRIMARY KEY,
		balance TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS bindings (
		actor_id TEXT PRIMARY KEY,
		address TEXT NOT NULL,
		last_balance TEXT NOT NULL,
		last_block INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS businesses (
		id TEXT PRIMARY KEY,
		owner_id TEXT NOT NULL,
		type TEXT NOT NULL,
		name TEXT NOT NULL,
		level INTEGER NOT NULL,
		treasury TEXT NOT NULL,
		status TEXT NOT NULL,
		insolvency_days INTEGER NOT NULL,
		missed_tax_days INTEGER NOT NULL,
		quality_score REAL NOT NULL,
		reputation INTEGER NOT NULL,
		price TEXT NOT NULL,
		last_staffed_tick INTEGER NOT NULL,
		requires_staff INTEGER NOT NULL,
		created_tick INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS employments (
		id TEXT PRIMARY KEY,
		actor_id TEXT NOT NULL,
		business_id TEXT NOT NULL,
		job_key TEXT NOT NULL,
		daily_rate TEXT NOT NULL,
		last_paid_tick INTEGER NOT NULL,
		last_work_tick INTEGER NOT NULL,
		missed_pay_days INTEGER NOT NULL,
		status TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS loans (
		id TEXT PRIMARY KEY,
		borrower_id TEXT NOT NULL,
		lender_id TEXT NOT NULL,
		outstanding TEXT NOT NULL,
		daily_interest_rate TEXT NOT NULL,
		due_tick INTEGER NOT NULL,
		status TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS inventory (
		actor_id TEXT NOT NULL,
		item_type TEXT NOT NULL,
		quantity INTEGER NOT NULL,
		PRIMARY KEY (actor_id, item_type)
	);

	CREATE INDEX IF NOT EXISTS idx_employments_actor ON employments(actor_id);
	CREATE INDEX IF NOT EXISTS idx_employments_business ON employments(business_id);
	CREATE INDEX IF NOT EXISTS idx_businesses_owner ON businesses(owner_id);
	`
	_, err := db.conn.Exec(schema)
	return err
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// SaveWorld performs a full-replace snapshot of all world state.
func (db *DB) SaveWorld(w *sim.World) error {
	slog.Info("saving world snapshot",
		"actors", len(w.Actors), "businesses", len(w.Businesses), "tick", w.Tick)

	tx, err := db.conn.Beginx()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, table := range []string{
		"actors", "agent_states", "wallets", "bindings",
		"businesses", "employments", "loans", "inventory",
	} {
		if _, err := tx.Exec("DELETE FROM " + table); err != nil {
			return fmt.Errorf("clear %s: %w", table, err)
		}
	}

	for _, a := range w.Actors {
		if _, err := tx.Exec(
			"INSERT INTO actors (id, name, frozen, dead, reputation) VALUES (?, ?, ?, ?, ?)",
			a.ID, a.Name, boolInt(a.Frozen), boolInt(a.Dead), a.Reputation); err != nil {
			return fmt.Errorf("insert actor %s: %w", a.ID, err)
		}
	}

	for _, st := range w.States {
		deferred := ""
		if st.Deferred != nil {
			raw, err := json.Marshal(st.Deferred)
			if err != nil {
				return fmt.Errorf("marshal deferred plan: %w", err)
			}
			deferred = string(raw)
		}
		if _, err := tx.Exec(`INSERT INTO agent_states
			(actor_id, energy, hunger, health, social, fun, purpose,
			 activity, activity_end_tick, job_type, wealth_tier, housing_tier,
			 work_segments, anger, experience_days, deferred_json)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			st.ActorID, st.Energy, st.Hunger, st.Health, st.Social, st.Fun, st.Purpose,
			int(st.Activity), st.ActivityEndTick, st.JobType, st.WealthTier, st.HousingTier,
			st.WorkSegments, st.Anger, st.ExperienceDays, deferred); err != nil {
			return fmt.Errorf("insert agent state %s: %w", st.ActorID, err)
		}
	}

	for _, wal := range w.Wallets {
		if _, err := tx.Exec("INSERT INTO wallets (actor_id, balance) VALUES (?, ?)",
			wal.ActorID, wal.Balance.String()); err != nil {
			return fmt.Errorf("insert wallet %s: %w", wal.ActorID, err)
		}
	}

	for _, b := range w.Bindings {
		if _, err := tx.Exec(
			"INSERT INTO bindings (actor_id, address, last_balance, last_block) VALUES (?, ?, ?, ?)",
			b.ActorID, b.Address, b.LastBalance.String(), b.LastBlock); err != nil {
			return fmt.Errorf("insert binding %s: %w", b.ActorID, err)
		}
	}

	for _, b := range w.Businesses {
		if _, err := tx.Exec(`INSERT INTO businesses
			(id, owner_id, type, name, level, treasury, status, insolvency_days,
			 missed_tax_days, quality_score, reputation, price, last_staffed_tick,
			 requires_staff, created_tick)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			b.ID, b.OwnerID, string(b.Type), b.Name, b.Level, b.Treasury.String(),
			string(b.Status), b.InsolvencyDays, b.MissedTaxDays, b.QualityScore,
			b.Reputation, b.Price.String(), b.LastStaffedTick,
			boolInt(b.RequiresStaff), b.CreatedTick); err != nil {
			return fmt.Errorf("insert business %s: %w", b.ID, err)
		}
	}

	for _, e := range w.Employments {
		if _, err := tx.Exec(`INSERT INTO employments
			(id, actor_id, business_id, job_key, daily_rate, last_paid_tick,
			 last_work_tick, missed_pay_days, status)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			e.ID, e.ActorID, e.BusinessID, e.JobKey, e.DailyRate.String(),
			e.LastPaidTick, e.LastWorkTick, e.MissedPayDays, string(e.Status)); err != nil {
			return fmt.Errorf("insert employment %s: %w", e.ID, err)
		}
	}

	for _, l := range w.Loans {
		if _, err := tx.Exec(`INSERT INTO loans
			(id, borrower_id, lender_id, outstanding, daily_interest_rate, due_tick, status)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			l.ID, l.BorrowerID, l.LenderID, l.Outstanding.String(),
			l.DailyInterestRate.String(), l.DueTick, string(l.Status)); err != nil {
			return fmt.Errorf("insert loan %s: %w", l.ID, err)
		}
	}

	for _, it := range w.Inventory {
		if _, err := tx.Exec(
			"INSERT INTO inventory (actor_id, item_type, quantity) VALUES (?, ?, ?)",
			it.ActorID, it.ItemType, it.Quantity); err != nil {
			return fmt.Errorf("insert inventory %s/%s: %w", it.ActorID, it.ItemType, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return err
	}

	if err := db.SaveMeta("last_tick", strconv.FormatUint(w.Tick, 10)); err != nil {
		return fmt.Errorf("save tick meta: %w", err)
	}
	if err := db.SaveMeta("city_vault", w.CityVault.String()); err != nil {
		return fmt.Errorf("save city vault meta: %w", err)
	}
	if err := db.SaveMeta("platform_vault", w.PlatformVault.String()); err != nil {
		return fmt.Errorf("save platform vault meta: %w", err)
	}

	slog.Info("world snapshot saved")
	return nil
}

// HasWorld reports whether a snapshot exists.
func (db *DB) HasWorld() bool {
	var n int
	if err := db.conn.Get(&n, "SELECT COUNT(*) FROM actors"); err != nil {
		return false
	}
	return n > 0
}

// LoadWorld restores a world from the most recent snapshot.
func (db *DB) LoadWorld(seed int64) (*sim.World, error) {
	w := sim.NewWorld(seed)

	rows, err := db.conn.Queryx("SELECT id, name, frozen, dead, reputation FROM actors")
	if err != nil {
		return nil, fmt.Errorf("load actors: %w", err)
	}
	for rows.Next() {
		var a sim.Actor
		var frozen, dead int
		if err := rows.Scan(&a.ID, &a.Name, &frozen, &dead, &a.Reputation); err != nil {
			rows.Close()
			return nil, err
		}
		a.Frozen, a.Dead = frozen != 0, dead != 0
		w.Actors[a.ID] = &a
	}
	rows.Close()

	rows, err = db.conn.Queryx(`SELECT actor_id, energy, hunger, health, social, fun,
		purpose, activity, activity_end_tick, job_type, wealth_tier, housing_tier,
		work_segments, anger, experience_days, deferred_json FROM agent_states`)
	if err != nil {
		return nil, fmt.Errorf("load agent states: %w", err)
	}
	for rows.Next() {
		var st sim.AgentState
		var activity int
		var deferred string
		if err := rows.Scan(&st.ActorID, &st.Energy, &st.Hunger, &st.Health, &st.Social,
			&st.Fun, &st.Purpose, &activity, &st.ActivityEndTick, &st.JobType,
			&st.WealthTier, &st.HousingTier, &st.WorkSegments, &st.Anger,
			&st.ExperienceDays, &deferred); err != nil {
			rows.Close()
			return nil, err
		}
		st.Activity = sim.ActivityState(activity)
		if deferred != "" {
			var plan sim.DeferredPlan
			if err := json.Unmarshal([]byte(deferred), &plan); err != nil {
				rows.Close()
				return nil, fmt.Errorf("unmarshal deferred plan: %w", err)
			}
			st.Deferred = &plan
		}
		w.States[st.ActorID] = &st
	}
	rows.Close()

	rows, err = db.conn.Queryx("SELECT actor_id, balance FROM wallets")
	if err != nil {
		return nil, fmt.Errorf("load wallets: %w", err)
	}
	for rows.Next() {
		var actorID, balance string
		if err := rows.Scan(&actorID, &balance); err != nil {
			rows.Close()
			return nil, err
		}
		bal, err := decimal.NewFromString(balance)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("wallet %s balance: %w", actorID, err)
		}
		w.Wallets[actorID] = &sim.Wallet{ActorID: actorID, Balance: bal}
	}
	rows.Close()

	rows, err = db.conn.Queryx("SELECT actor_id, address, last_balance, last_block FROM bindings")
	if err != nil {
		return nil, fmt.Errorf("load bindings: %w", err)
	}
	for rows.Next() {
		var b sim.ExternalBinding
		var balance string
		if err := rows.Scan(&b.ActorID, &b.Address, &balance, &b.LastBlock); err != nil {
			rows.Close()
			return nil, err
		}
		b.LastBalance, err = decimal.NewFromString(balance)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("binding %s balance: %w", b.ActorID, err)
		}
		w.Bindings[b.ActorID] = &b
	}
	rows.Close()

	rows, err = db.conn.Queryx(`SELECT id, owner_id, type, name, level, treasury, status,
		insolvency_days, missed_tax_days, quality_score, reputation, price,
		last_staffed_tick, requires_staff, created_tick FROM businesses`)
	if err != nil {
		return nil, fmt.Errorf("load businesses: %w", err)
	}
	for rows.Next() {
		var b sim.Business
		var btype, status, treasury, price string
		var requiresStaff int
		if err := rows.Scan(&b.ID, &b.OwnerID, &btype, &b.Name, &b.Level, &treasury,
			&status, &b.InsolvencyDays, &b.MissedTaxDays, &b.QualityScore,
			&b.Reputation, &price, &b.LastStaffedTick, &requiresStaff, &b.CreatedTick); err != nil {
			rows.Close()
			return nil, err
		}
		b.Type = sim.BusinessType(btype)
		b.Status = sim.BusinessStatus(status)
		b.RequiresStaff = requiresStaff != 0
		if b.Treasury, err = decimal.NewFromString(treasury); err != nil {
			rows.Close()
			return nil, fmt.Errorf("business %s treasury: %w", b.ID, err)
		}
		if b.Price, err = decimal.NewFromString(price); err != nil {
			rows.Close()
			return nil, fmt.Errorf("business %s price: %w", b.ID, err)
		}
		w.Businesses[b.ID] = &b
	}
	rows.Close()

	rows, err = db.conn.Queryx(`SELECT id, actor_id, business_id, job_key, daily_rate,
		last_paid_tick, last_work_tick, missed_pay_days, status FROM employments`)
	if err != nil {
		return nil, fmt.Errorf("load employments: %w", err)
	}
	for rows.Next() {
		var e sim.Employment
		var rate, status string
		if err := rows.Scan(&e.ID, &e.ActorID, &e.BusinessID, &e.JobKey, &rate,
			&e.LastPaidTick, &e.LastWorkTick, &e.MissedPayDays, &status); err != nil {
			rows.Close()
			return nil, err
		}
		e.Status = sim.EmploymentStatus(status)
		if e.DailyRate, err = decimal.NewFromString(rate); err != nil {
			rows.Close()
			return nil, fmt.Errorf("employment %s rate: %w", e.ID, err)
		}
		w.Employments[e.ID] = &e
	}
	rows.Close()

	rows, err = db.conn.Queryx(`SELECT id, borrower_id, lender_id, outstanding,
		daily_interest_rate, due_tick, status FROM loans`)
	if err != nil {
		return nil, fmt.Errorf("load loans: %w", err)
	}
	for rows.Next() {
		var l sim.Loan
		var outstanding, rate, status string
		if err := rows.Scan(&l.ID, &l.BorrowerID, &l.LenderID, &outstanding, &rate,
			&l.DueTick, &status); err != nil {
			rows.Close()
			return nil, err
		}
		l.Status = sim.LoanStatus(status)
		if l.Outstanding, err = decimal.NewFromString(outstanding); err != nil {
			rows.Close()
			return nil, fmt.Errorf("loan %s outstanding: %w", l.ID, err)
		}
		if l.DailyInterestRate, err = decimal.NewFromString(rate); err != nil {
			rows.Close()
			return nil, fmt.Errorf("loan %s rate: %w", l.ID, err)
		}
		w.Loans[l.ID] = &l
	}
	rows.Close()

	rows, err = db.conn.Queryx("SELECT actor_id, item_type, quantity FROM inventory")
	if err != nil {
		return nil, fmt.Errorf("load inventory: %w", err)
	}
	for rows.Next() {
		var it sim.InventoryItem
		if err := rows.Scan(&it.ActorID, &it.ItemType, &it.Quantity); err != nil {
			rows.Close()
			return nil, err
		}
		w.Inventory[sim.InventoryKey(it.ActorID, it.ItemType)] = &it
	}
	rows.Close()

	if tickStr, err := db.GetMeta("last_tick"); err == nil && tickStr != "" {
		if t, err := strconv.ParseUint(tickStr, 10, 64); err == nil {
			w.Tick = t
		}
	}
	if v, err := db.GetMeta("city_vault"); err == nil && v != "" {
		if d, err := decimal.NewFromString(v); err == nil {
			w.CityVault = d
		}
	}
	if v, err := db.GetMeta("platform_vault"); err == nil && v != "" {
		if d, err := decimal.NewFromString(v); err == nil {
			w.PlatformVault = d
		}
	}

	slog.Info("world snapshot restored",
		"actors", len(w.Actors), "businesses", len(w.Businesses), "tick", w.Tick)
	return w, nil
}
