// Package store provides SQLite persistence for intents, events,
// settlement jobs, settlement records, and world snapshots.
package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/talgya/mini-economy/internal/sim"
)

// DB wraps a SQLite connection.
type DB struct {
	conn *sqlx.DB
}

// Open opens or creates a SQLite database at the given path.
func Open(path string) (*DB, error) {
	conn, err := sqlx.Open("sqlite", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}

	db := &DB{conn: conn}
	if err := db.migrate(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return db, nil
}

// Close closes the database connection.
func (db *DB) Close() error {
	return db.conn.Close()
}

func (db *DB) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS intents (
		id TEXT PRIMARY KEY,
		actor_id TEXT NOT NULL,
		type TEXT NOT NULL,
		params_json TEXT NOT NULL,
		priority INTEGER NOT NULL,
		tick INTEGER NOT NULL,
		status TEXT NOT NULL,
		reason TEXT NOT NULL DEFAULT ''
	);

	CREATE TABLE IF NOT EXISTS events (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		actor_id TEXT NOT NULL,
		type TEXT NOT NULL,
		target_ids_json TEXT NOT NULL,
		outcome TEXT NOT NULL,
		side_effects_json TEXT NOT NULL,
		tick INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS settlement_jobs (
		id TEXT PRIMARY KEY,
		type TEXT NOT NULL,
		payload_json TEXT NOT NULL,
		status TEXT NOT NULL,
		retry_count INTEGER NOT NULL DEFAULT 0,
		intent_id TEXT NOT NULL DEFAULT '',
		reason TEXT NOT NULL DEFAULT '',
		updated_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS settlement_records (
		tx_hash TEXT PRIMARY KEY,
		job_id TEXT NOT NULL,
		amount TEXT NOT NULL,
		block INTEGER NOT NULL,
		created_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS deposits (
		tx_hash TEXT PRIMARY KEY,
		actor_id TEXT NOT NULL,
		amount TEXT NOT NULL,
		block INTEGER NOT NULL,
		created_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS world_meta (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_events_tick ON events(tick);
	CREATE INDEX IF NOT EXISTS idx_events_actor ON events(actor_id);
	CREATE INDEX IF NOT EXISTS idx_jobs_status ON settlement_jobs(status, updated_at);
	CREATE INDEX IF NOT EXISTS idx_intents_status ON intents(status, tick);
	`
	if _, err := db.conn.Exec(schema); err != nil {
		return err
	}
	return db.migrateSnapshot()
}

// ── intents ──────────────────────────────────────────────────────────

// RecordIntent upserts an intent row; the orchestrator calls it once
// per resolution.
func (db *DB) RecordIntent(in *sim.Intent) error {
	params, err := json.Marshal(in.Params)
	if err != nil {
		return fmt.Errorf("marshal intent params: %w", err)
	}
	_, err = db.conn.Exec(`INSERT OR REPLACE INTO intents
		(id, actor_id, type, params_json, priority, tick, status, reason)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		in.ID, in.ActorID, string(in.Type), string(params), in.Priority, in.Tick, string(in.Status), in.Reason)
	if err != nil {
		return fmt.Errorf("record intent %s: %w", in.ID, err)
	}
	return nil
}

// GetIntent loads one intent by id.
func (db *DB) GetIntent(id string) (*sim.Intent, error) {
	var row struct {
		ID       string `db:"id"`
		ActorID  string `db:"actor_id"`
		Type     string `db:"type"`
		Params   string `db:"params_json"`
		Priority int    `db:"priority"`
		Tick     uint64 `db:"tick"`
		Status   string `db:"status"`
		Reason   string `db:"reason"`
	}
	err := db.conn.Get(&row, "SELECT * FROM intents WHERE id = ?", id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get intent %s: %w", id, err)
	}

	in := &sim.Intent{
		ID:       row.ID,
		ActorID:  row.ActorID,
		Type:     sim.IntentType(row.Type),
		Priority: row.Priority,
		Tick:     row.Tick,
		Status:   sim.IntentStatus(row.Status),
		Reason:   row.Reason,
	}
	if err := json.Unmarshal([]byte(row.Params), &in.Params); err != nil {
		return nil, fmt.Errorf("unmarshal intent params: %w", err)
	}
	return in, nil
}

// ── events ───────────────────────────────────────────────────────────

// AppendEvents inserts events in one transaction.
func (db *DB) AppendEvents(events []sim.Event) error {
	if len(events) == 0 {
		return nil
	}
	tx, err := db.conn.Beginx()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, e := range events {
		targets, err := json.Marshal(e.TargetIDs)
		if err != nil {
			return fmt.Errorf("marshal event targets: %w", err)
		}
		effects, err := json.Marshal(e.SideEffects)
		if err != nil {
			return fmt.Errorf("marshal event side effects: %w", err)
		}
		if _, err := tx.Exec(`INSERT INTO events
			(actor_id, type, target_ids_json, outcome, side_effects_json, tick)
			VALUES (?, ?, ?, ?, ?, ?)`,
			e.ActorID, e.Type, string(targets), string(e.Outcome), string(effects), e.Tick); err != nil {
			return fmt.Errorf("insert event: %w", err)
		}
	}
	return tx.Commit()
}

// RecentEvents returns the most recent N events, newest first.
func (db *DB) RecentEvents(limit int) ([]sim.Event, error) {
	rows, err := db.conn.Queryx(`SELECT id, actor_id, type, target_ids_json,
		outcome, side_effects_json, tick
		FROM events ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("recent events: %w", err)
	}
	defer rows.Close()

	var out []sim.Event
	for rows.Next() {
		var (
			e       sim.Event
			targets string
			effects string
			outcome string
		)
		if err := rows.Scan(&e.ID, &e.ActorID, &e.Type, &targets, &outcome, &effects, &e.Tick); err != nil {
			return nil, err
		}
		e.Outcome = sim.EventOutcome(outcome)
		if err := json.Unmarshal([]byte(targets), &e.TargetIDs); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(effects), &e.SideEffects); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// ── settlement jobs ──────────────────────────────────────────────────

// EnqueueJob inserts a queued job.
func (db *DB) EnqueueJob(job *sim.SettlementJob) error {
	payload, err := json.Marshal(job.Payload)
	if err != nil {
		return fmt.Errorf("marshal job payload: %w", err)
	}
	_, err = db.conn.Exec(`INSERT INTO settlement_jobs
		(id, type, payload_json, status, retry_count, intent_id, reason, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		job.ID, job.Type, string(payload), string(job.Status), job.RetryCount,
		job.IntentID, job.Reason, job.UpdatedAt)
	if err != nil {
		return fmt.Errorf("enqueue job %s: %w", job.ID, err)
	}
	return nil
}

// ClaimQueuedJobs atomically moves up to limit queued jobs into
// processing and returns them.
func (db *DB) ClaimQueuedJobs(limit int) ([]*sim.SettlementJob, error) {
	tx, err := db.conn.Beginx()
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	rows, err := tx.Queryx(`SELECT id, type, payload_json, status, retry_count,
		intent_id, reason, updated_at
		FROM settlement_jobs WHERE status = ? ORDER BY updated_at LIMIT ?`,
		string(sim.JobQueued), limit)
	if err != nil {
		return nil, fmt.Errorf("claim jobs: %w", err)
	}

	jobs, err := scanJobs(rows)
	if err != nil {
		return nil, err
	}

	now := time.Now().Unix()
	for _, job := range jobs {
		job.Status = sim.JobProcessing
		job.UpdatedAt = now
		if _, err := tx.Exec(
			"UPDATE settlement_jobs SET status = ?, updated_at = ? WHERE id = ?",
			string(sim.JobProcessing), now, job.ID); err != nil {
			return nil, fmt.Errorf("mark job %s processing: %w", job.ID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return jobs, nil
}

func scanJobs(rows *sqlx.Rows) ([]*sim.SettlementJob, error) {
	defer rows.Close()
	var out []*sim.SettlementJob
	for rows.Next() {
		var (
			job     sim.SettlementJob
			payload string
			status  string
		)
		if err := rows.Scan(&job.ID, &job.Type, &payload, &status,
			&job.RetryCount, &job.IntentID, &job.Reason, &job.UpdatedAt); err != nil {
			return nil, err
		}
		job.Status = sim.JobStatus(status)
		if err := json.Unmarshal([]byte(payload), &job.Payload); err != nil {
			return nil, fmt.Errorf("unmarshal job %s payload: %w", job.ID, err)
		}
		out = append(out, &job)
	}
	return out, rows.Err()
}

// UpdateJob persists a job's status, retry count, and reason.
func (db *DB) UpdateJob(job *sim.SettlementJob) error {
	job.UpdatedAt = time.Now().Unix()
	_, err := db.conn.Exec(`UPDATE settlement_jobs
		SET status = ?, retry_count = ?, reason = ?, updated_at = ?
		WHERE id = ?`,
		string(job.Status), job.RetryCount, job.Reason, job.UpdatedAt, job.ID)
	if err != nil {
		return fmt.Errorf("update job %s: %w", job.ID, err)
	}
	return nil
}

// JobsByStatus lists jobs in one state, oldest first.
func (db *DB) JobsByStatus(status sim.JobStatus, limit int) ([]*sim.SettlementJob, error) {
	rows, err := db.conn.Queryx(`SELECT id, type, payload_json, status, retry_count,
		intent_id, reason, updated_at
		FROM settlement_jobs WHERE status = ? ORDER BY updated_at LIMIT ?`,
		string(status), limit)
	if err != nil {
		return nil, fmt.Errorf("jobs by status: %w", err)
	}
	return scanJobs(rows)
}

// RequeueStuck returns processing jobs older than the staleness window
// to queued so they can be picked up again after a worker died
// mid-attempt. Each pass requeues a job at most once.
func (db *DB) RequeueStuck(olderThan time.Duration, limit int) (int, error) {
	cutoff := time.Now().Add(-olderThan).Unix()
	res, err := db.conn.Exec(`UPDATE settlement_jobs
		SET status = ?, updated_at = ?
		WHERE id IN (
			SELECT id FROM settlement_jobs
			WHERE status = ? AND updated_at < ?
			ORDER BY updated_at LIMIT ?
		)`,
		string(sim.JobQueued), time.Now().Unix(), string(sim.JobProcessing), cutoff, limit)
	if err != nil {
		return 0, fmt.Errorf("requeue stuck: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// ── settlement records & deposits (idempotency keys) ─────────────────

// InsertSettlementRecord records a confirmed transfer keyed by its tx
// hash. Returns false when the hash was already recorded, which is the
// idempotency signal: never apply the ledger effect twice.
func (db *DB) InsertSettlementRecord(txHash, jobID, amount string, block uint64) (bool, error) {
	res, err := db.conn.Exec(`INSERT OR IGNORE INTO settlement_records
		(tx_hash, job_id, amount, block, created_at) VALUES (?, ?, ?, ?, ?)`,
		txHash, jobID, amount, block, time.Now().Unix())
	if err != nil {
		return false, fmt.Errorf("insert settlement record %s: %w", txHash, err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// InsertDeposit records an observed deposit keyed by tx hash; false
// means it was already credited.
func (db *DB) InsertDeposit(txHash, actorID, amount string, block uint64) (bool, error) {
	res, err := db.conn.Exec(`INSERT OR IGNORE INTO deposits
		(tx_hash, actor_id, amount, block, created_at) VALUES (?, ?, ?, ?, ?)`,
		txHash, actorID, amount, block, time.Now().Unix())
	if err != nil {
		return false, fmt.Errorf("insert deposit %s: %w", txHash, err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// ── metadata ─────────────────────────────────────────────────────────

// SaveMeta stores a key-value pair in world metadata.
func (db *DB) SaveMeta(key, value string) error {
	_, err := db.conn.Exec(
		"INSERT OR REPLACE INTO world_meta (key, value) VALUES (?, ?)", key, value)
	return err
}

// GetMeta retrieves a metadata value; missing keys return "".
func (db *DB) GetMeta(key string) (string, error) {
	var value string
	err := db.conn.Get(&value, "SELECT value FROM world_meta WHERE key = ?", key)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	return value, err
}
