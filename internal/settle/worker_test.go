package settle

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/talgya/mini-economy/internal/chain"
	"github.com/talgya/mini-economy/internal/sim"
	"github.com/talgya/mini-economy/internal/store"
)

var (
	addrAlice = "0x" + strings.Repeat("a", 40)
	addrBob   = "0x" + strings.Repeat("b", 40)
)

func openTestDB(t *testing.T) *store.DB {
	t.Helper()
	db, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func testWorld() *sim.World {
	w := sim.NewWorld(42)
	w.Actors["alice"] = &sim.Actor{ID: "alice"}
	w.Actors["bob"] = &sim.Actor{ID: "bob"}
	w.Bindings["alice"] = &sim.ExternalBinding{ActorID: "alice", Address: addrAlice, LastBalance: decimal.NewFromInt(500)}
	w.Bindings["bob"] = &sim.ExternalBinding{ActorID: "bob", Address: addrBob}
	return w
}

func newJob(id string) *sim.SettlementJob {
	return &sim.SettlementJob{
		ID:   id,
		Type: "transfer_mirror",
		Payload: sim.TransferPayload{
			FromActorID: "alice",
			ToActorID:   "bob",
			FromAddress: addrAlice,
			ToAddress:   addrBob,
			Amount:      decimal.NewFromInt(95),
			Fee:         decimal.NewFromInt(5),
		},
		Status:    sim.JobQueued,
		IntentID:  "intent-1",
		UpdatedAt: time.Now().Unix(),
	}
}

func newTestWorker(t *testing.T) (*Worker, *store.DB, *chain.Fake, *sim.World) {
	db := openTestDB(t)
	fake := chain.NewFake()
	w := testWorld()
	wk := NewWorker(db, fake, w)
	wk.BackoffBase = time.Millisecond
	return wk, db, fake, w
}

func TestWorkerConfirmsJob(t *testing.T) {
	wk, db, fake, w := newTestWorker(t)
	require.NoError(t, db.EnqueueJob(newJob("job-1")))
	require.NoError(t, db.RecordIntent(&sim.Intent{
		ID: "intent-1", ActorID: "alice", Type: sim.IntentTransfer, Status: sim.IntentQueued,
	}))

	n, err := wk.ProcessOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	require.Len(t, fake.Submitted, 1)
	assert.Equal(t, addrBob, fake.Submitted[0].To)

	jobs, err := db.JobsByStatus(sim.JobConfirmed, 10)
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, 0, jobs[0].RetryCount)
	assert.Equal(t, fake.Submitted[0].TxHash, jobs[0].Reason)

	// Binding caches synced with the confirmed amount.
	assert.True(t, w.Bindings["alice"].LastBalance.Equal(decimal.NewFromInt(405)))
	assert.True(t, w.Bindings["bob"].LastBalance.Equal(decimal.NewFromInt(95)))

	// The originating intent settles to EXECUTED.
	in, err := db.GetIntent("intent-1")
	require.NoError(t, err)
	require.NotNil(t, in)
	assert.Equal(t, sim.IntentExecuted, in.Status)
}

func TestWorkerRetriesTransientErrors(t *testing.T) {
	wk, db, fake, _ := newTestWorker(t)
	fake.FailNext[addrBob] = []error{chain.ErrNetwork, chain.ErrRateLimited}
	require.NoError(t, db.EnqueueJob(newJob("job-1")))

	_, err := wk.ProcessOnce(context.Background())
	require.NoError(t, err)

	jobs, err := db.JobsByStatus(sim.JobConfirmed, 10)
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, 2, jobs[0].RetryCount, "two transient failures before success")
	assert.Len(t, fake.Submitted, 1)
}

func TestWorkerFatalErrorFailsImmediately(t *testing.T) {
	wk, db, fake, _ := newTestWorker(t)
	fake.FailNext[addrBob] = []error{chain.ErrReverted}
	require.NoError(t, db.EnqueueJob(newJob("job-1")))
	require.NoError(t, db.RecordIntent(&sim.Intent{
		ID: "intent-1", ActorID: "alice", Type: sim.IntentTransfer, Status: sim.IntentQueued,
	}))

	_, err := wk.ProcessOnce(context.Background())
	require.NoError(t, err)

	jobs, err := db.JobsByStatus(sim.JobFailed, 10)
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, 0, jobs[0].RetryCount, "no retries on fatal errors")
	assert.Contains(t, jobs[0].Reason, "fatal")
	assert.Empty(t, fake.Submitted)

	in, err := db.GetIntent("intent-1")
	require.NoError(t, err)
	assert.Equal(t, sim.IntentBlocked, in.Status)
}

func TestWorkerExhaustsRetries(t *testing.T) {
	wk, db, fake, _ := newTestWorker(t)
	wk.MaxRetries = 2
	fake.FailNext[addrBob] = []error{
		chain.ErrNetwork, chain.ErrNetwork, chain.ErrNetwork, chain.ErrNetwork,
	}
	require.NoError(t, db.EnqueueJob(newJob("job-1")))

	_, err := wk.ProcessOnce(context.Background())
	require.NoError(t, err)

	jobs, err := db.JobsByStatus(sim.JobFailed, 10)
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, 2, jobs[0].RetryCount)
	assert.Contains(t, jobs[0].Reason, "retries exhausted")
}

func TestWorkerConfirmationReplayDoesNotDoubleApply(t *testing.T) {
	wk, _, _, w := newTestWorker(t)
	job := newJob("job-1")
	receipt := chain.TxReceipt{TxHash: "0xsame", Block: 9}

	wk.confirm(job, receipt)
	// Crash-and-replay: the same confirmation arrives again.
	wk.confirm(job, receipt)

	// The binding cache moved exactly once.
	assert.True(t, w.Bindings["alice"].LastBalance.Equal(decimal.NewFromInt(405)))
	assert.True(t, w.Bindings["bob"].LastBalance.Equal(decimal.NewFromInt(95)))
}

func TestStuckJobsRequeuedExactlyOnce(t *testing.T) {
	db := openTestDB(t)

	stuck := newJob("job-stuck")
	stuck.Status = sim.JobProcessing
	stuck.UpdatedAt = time.Now().Add(-time.Hour).Unix()
	require.NoError(t, db.EnqueueJob(stuck))

	fresh := newJob("job-fresh")
	fresh.Status = sim.JobProcessing
	require.NoError(t, db.EnqueueJob(fresh))

	n, err := db.RequeueStuck(5*time.Minute, 50)
	require.NoError(t, err)
	assert.Equal(t, 1, n, "only the stale job is returned to the queue")

	queued, err := db.JobsByStatus(sim.JobQueued, 10)
	require.NoError(t, err)
	require.Len(t, queued, 1)
	assert.Equal(t, "job-stuck", queued[0].ID)

	// A second sweep finds nothing: the job is queued, not processing.
	n, err = db.RequeueStuck(5*time.Minute, 50)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestDepositCreditedOnce(t *testing.T) {
	db := openTestDB(t)
	fake := chain.NewFake()
	w := testWorld()
	w.Wallets["alice"] = &sim.Wallet{ActorID: "alice", Balance: decimal.NewFromInt(10)}

	dw := NewDepositWatcher(db, fake, w, decimal.NewFromInt(100))
	fake.AddDeposit(addrAlice, decimal.NewFromInt(50))

	n, err := dw.PollOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.True(t, w.Wallets["alice"].Balance.Equal(decimal.NewFromInt(60)))

	// Replaying the poll credits nothing: the tx hash is already
	// recorded and the block cursor advanced.
	n, err = dw.PollOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, n)
	assert.True(t, w.Wallets["alice"].Balance.Equal(decimal.NewFromInt(60)))
}

func TestDepositToUnboundAddressIgnored(t *testing.T) {
	db := openTestDB(t)
	fake := chain.NewFake()
	w := testWorld()

	dw := NewDepositWatcher(db, fake, w, decimal.NewFromInt(100))
	fake.AddDeposit("0x"+strings.Repeat("c", 40), decimal.NewFromInt(50))

	n, err := dw.PollOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestDepositRevivesFrozenActorAtThreshold(t *testing.T) {
	db := openTestDB(t)
	fake := chain.NewFake()
	w := testWorld()
	w.Actors["alice"].Frozen = true
	w.Wallets["alice"] = &sim.Wallet{ActorID: "alice", Balance: decimal.NewFromInt(10)}
	w.States["alice"] = &sim.AgentState{ActorID: "alice"}

	dw := NewDepositWatcher(db, fake, w, decimal.NewFromInt(100))

	// First deposit leaves the balance below the threshold.
	fake.AddDeposit(addrAlice, decimal.NewFromInt(40))
	_, err := dw.PollOnce(context.Background())
	require.NoError(t, err)
	assert.True(t, w.Actors["alice"].Frozen, "50 < 100, still frozen")

	// The second crosses it.
	fake.AddDeposit(addrAlice, decimal.NewFromInt(60))
	_, err = dw.PollOnce(context.Background())
	require.NoError(t, err)
	assert.False(t, w.Actors["alice"].Frozen)
	assert.Equal(t, 1, w.States["alice"].WealthTier)
}
