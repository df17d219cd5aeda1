// Package settle runs the asynchronous settlement queue: the one-way
// handoff that mirrors internal transfers onto the external ledger
// without ever blocking the tick loop.
package settle

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/talgya/mini-economy/internal/chain"
	"github.com/talgya/mini-economy/internal/sim"
	"github.com/talgya/mini-economy/internal/store"
)

// Worker claims queued settlement jobs and drives each through the
// queued → processing → confirmed|failed state machine.
type Worker struct {
	DB    *store.DB
	Chain chain.Client
	World *sim.World

	MaxRetries   int
	BackoffBase  time.Duration
	PollInterval time.Duration
	ClaimLimit   int
}

// NewWorker creates a worker with the given dependencies and sane
// retry defaults.
func NewWorker(db *store.DB, c chain.Client, w *sim.World) *Worker {
	return &Worker{
		DB:           db,
		Chain:        c,
		World:        w,
		MaxRetries:   5,
		BackoffBase:  500 * time.Millisecond,
		PollInterval: 2 * time.Second,
		ClaimLimit:   10,
	}
}

// Run polls for queued jobs until the context is cancelled.
func (wk *Worker) Run(ctx context.Context) {
	slog.Info("settlement worker started",
		"max_retries", wk.MaxRetries, "poll", wk.PollInterval)
	ticker := time.NewTicker(wk.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("settlement worker stopped")
			return
		case <-ticker.C:
			if _, err := wk.ProcessOnce(ctx); err != nil {
				slog.Error("settlement pass failed", "error", err)
			}
		}
	}
}

// ProcessOnce claims one batch and processes it to completion.
// Returns the number of jobs handled.
func (wk *Worker) ProcessOnce(ctx context.Context) (int, error) {
	jobs, err := wk.DB.ClaimQueuedJobs(wk.ClaimLimit)
	if err != nil {
		return 0, fmt.Errorf("claim: %w", err)
	}
	for _, job := range jobs {
		wk.process(ctx, job)
	}
	return len(jobs), nil
}

// process attempts the transfer with bounded retries and exponential
// backoff on transient errors. Fatal errors abort immediately.
func (wk *Worker) process(ctx context.Context, job *sim.SettlementJob) {
	var lastErr error
	for attempt := 0; attempt <= wk.MaxRetries; attempt++ {
		if attempt > 0 {
			job.RetryCount++
			if err := wk.DB.UpdateJob(job); err != nil {
				slog.Error("persist retry count", "job", job.ID, "error", err)
			}
			backoff := wk.BackoffBase << (attempt - 1)
			select {
			case <-ctx.Done():
				return
			case <-time.After(backoff):
			}
		}

		receipt, err := wk.Chain.SubmitTransfer(ctx,
			job.Payload.FromAddress, job.Payload.ToAddress, job.Payload.Amount)
		if err == nil {
			wk.confirm(job, receipt)
			return
		}
		lastErr = err
		if !chain.Retryable(err) {
			wk.fail(job, fmt.Sprintf("fatal: %v", err))
			return
		}
		slog.Warn("transfer attempt failed",
			"job", job.ID, "attempt", attempt, "error", err)
	}
	wk.fail(job, fmt.Sprintf("retries exhausted: %v", lastErr))
}

// confirm records the settlement keyed by the transaction hash. The
// record insert is the idempotency gate: a replayed confirmation is a
// no-op on the ledger.
func (wk *Worker) confirm(job *sim.SettlementJob, receipt chain.TxReceipt) {
	inserted, err := wk.DB.InsertSettlementRecord(
		receipt.TxHash, job.ID, job.Payload.Amount.String(), receipt.Block)
	if err != nil {
		slog.Error("record settlement", "job", job.ID, "error", err)
		return
	}
	if inserted {
		wk.applyConfirmation(job, receipt)
	} else {
		slog.Warn("settlement already recorded, skipping ledger apply",
			"job", job.ID, "tx", receipt.TxHash)
	}

	job.Status = sim.JobConfirmed
	job.Reason = receipt.TxHash
	if err := wk.DB.UpdateJob(job); err != nil {
		slog.Error("mark job confirmed", "job", job.ID, "error", err)
	}
	wk.markIntent(job.IntentID, sim.IntentExecuted, "settled "+receipt.TxHash)
	slog.Info("settlement confirmed", "job", job.ID, "tx", receipt.TxHash, "block", receipt.Block)
}

// applyConfirmation refreshes the binding caches; the internal wallet
// moves happened at handler time, so the mirror only syncs state.
func (wk *Worker) applyConfirmation(job *sim.SettlementJob, receipt chain.TxReceipt) {
	wk.World.WithLock(func() {
		if b, ok := wk.World.Bindings[job.Payload.FromActorID]; ok {
			b.LastBalance = b.LastBalance.Sub(job.Payload.Amount)
			b.LastBlock = receipt.Block
		}
		if job.Payload.ToActorID != "" {
			if b, ok := wk.World.Bindings[job.Payload.ToActorID]; ok {
				b.LastBalance = b.LastBalance.Add(job.Payload.Amount)
				b.LastBlock = receipt.Block
			}
		}
	})
}

// fail marks the job failed and leaves the originating intent blocked.
func (wk *Worker) fail(job *sim.SettlementJob, reason string) {
	job.Status = sim.JobFailed
	job.Reason = reason
	if err := wk.DB.UpdateJob(job); err != nil {
		slog.Error("mark job failed", "job", job.ID, "error", err)
	}
	wk.markIntent(job.IntentID, sim.IntentBlocked, reason)
	slog.Error("settlement failed", "job", job.ID, "reason", reason)
}

func (wk *Worker) markIntent(intentID string, status sim.IntentStatus, reason string) {
	if intentID == "" {
		return
	}
	in, err := wk.DB.GetIntent(intentID)
	if err != nil || in == nil {
		return
	}
	in.Status = status
	in.Reason = reason
	if err := wk.DB.RecordIntent(in); err != nil {
		slog.Error("update intent after settlement", "intent", intentID, "error", err)
	}
}
