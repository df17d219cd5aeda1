// World state container and the typed mutation layer handlers return.
package sim

import (
	"fmt"
	"hash/fnv"
	"sort"
	"sync"

	"github.com/shopspring/decimal"
)

// Table names the mutable stores a mutation may touch.
type Table string

const (
	TableAgentStates Table = "agent_states"
	TableWallets     Table = "wallets"
	TableBusinesses  Table = "businesses"
	TableEmployments Table = "employments"
	TableLoans       Table = "loans"
	TableInventory   Table = "inventory"
	TableActors      Table = "actors"
)

// MutationOp is the operation kind.
type MutationOp string

const (
	OpCreate MutationOp = "create"
	OpUpdate MutationOp = "update"
	OpDelete MutationOp = "delete"
)

// Mutation is one typed state change. Handlers return mutations; only
// the orchestrator applies them, all-or-nothing per intent.
type Mutation struct {
	Table Table
	Op    MutationOp
	ID    string // row key; inventory uses actorID+"/"+itemType
	Data  any    // full row for create/update, nil for delete
}

// World holds the complete in-memory simulation state. A single tick
// loop owns it; the settlement worker hands changes back only through
// confirmed-job callbacks run between ticks.
type World struct {
	Actors      map[string]*Actor
	States      map[string]*AgentState // by actor ID
	Wallets     map[string]*Wallet     // by actor ID
	Bindings    map[string]*ExternalBinding
	Businesses  map[string]*Business
	Employments map[string]*Employment
	Loans       map[string]*Loan
	Inventory   map[string]*InventoryItem // actorID+"/"+itemType

	// City and platform vaults are plain balances, not actor wallets.
	CityVault     decimal.Decimal
	PlatformVault decimal.Decimal

	Pending []*Intent
	Events  []Event

	Tick uint64
	Seed int64 // world seed; per-tick seeds derive from it

	mu sync.Mutex
}

// WithLock serializes access for callers outside the tick loop (the
// settlement worker's confirmation handback, the deposit watcher, the
// API's read endpoints).
func (w *World) WithLock(fn func()) {
	w.mu.Lock()
	defer w.mu.Unlock()
	fn()
}

// NewWorld creates an empty world with the given seed.
func NewWorld(seed int64) *World {
	return &World{
		Actors:      make(map[string]*Actor),
		States:      make(map[string]*AgentState),
		Wallets:     make(map[string]*Wallet),
		Bindings:    make(map[string]*ExternalBinding),
		Businesses:  make(map[string]*Business),
		Employments: make(map[string]*Employment),
		Loans:       make(map[string]*Loan),
		Inventory:   make(map[string]*InventoryItem),
		Seed:        seed,
	}
}

// Lookup implementation. The gate and handlers read through these.

func (w *World) Actor(id string) (*Actor, bool) {
	a, ok := w.Actors[id]
	return a, ok
}

func (w *World) Business(id string) (*Business, bool) {
	b, ok := w.Businesses[id]
	return b, ok
}

func (w *World) Employment(id string) (*Employment, bool) {
	e, ok := w.Employments[id]
	return e, ok
}

func (w *World) InventoryItem(actorID, itemType string) (*InventoryItem, bool) {
	it, ok := w.Inventory[InventoryKey(actorID, itemType)]
	return it, ok
}

func (w *World) Binding(actorID string) (*ExternalBinding, bool) {
	b, ok := w.Bindings[actorID]
	return b, ok
}

func (w *World) Wallet(actorID string) (*Wallet, bool) {
	wal, ok := w.Wallets[actorID]
	return wal, ok
}

// InventoryKey builds the composite key for an inventory row.
func InventoryKey(actorID, itemType string) string {
	return actorID + "/" + itemType
}

// Enqueue adds a pending intent for resolution on a future tick.
func (w *World) Enqueue(in *Intent) {
	w.Pending = append(w.Pending, in)
}

// ActiveEmployment returns the actor's active employment, if any.
// An actor holds at most one active job.
func (w *World) ActiveEmployment(actorID string) *Employment {
	for _, e := range w.Employments {
		if e.ActorID == actorID && e.Status == EmploymentActive {
			return e
		}
	}
	return nil
}

// BusinessEmployees returns active employments for a business.
func (w *World) BusinessEmployees(businessID string) []*Employment {
	var out []*Employment
	for _, e := range w.Employments {
		if e.BusinessID == businessID && e.Status == EmploymentActive {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// CompetitorCount returns the number of other active businesses of the
// same type.
func (w *World) CompetitorCount(b *Business) int {
	n := 0
	for _, other := range w.Businesses {
		if other.ID != b.ID && other.Type == b.Type && other.Status == BusinessActive {
			n++
		}
	}
	return n
}

// checkApplicable verifies a mutation can apply without changing state.
func (w *World) checkApplicable(m Mutation) error {
	exists := false
	switch m.Table {
	case TableAgentStates:
		_, exists = w.States[m.ID]
	case TableWallets:
		_, exists = w.Wallets[m.ID]
	case TableBusinesses:
		_, exists = w.Businesses[m.ID]
	case TableEmployments:
		_, exists = w.Employments[m.ID]
	case TableLoans:
		_, exists = w.Loans[m.ID]
	case TableInventory:
		_, exists = w.Inventory[m.ID]
	case TableActors:
		_, exists = w.Actors[m.ID]
	default:
		return fmt.Errorf("unknown table %q", m.Table)
	}

	switch m.Op {
	case OpCreate:
		if exists {
			return fmt.Errorf("%s/%s: create of existing row", m.Table, m.ID)
		}
	case OpUpdate, OpDelete:
		if !exists {
			return fmt.Errorf("%s/%s: %s of missing row", m.Table, m.ID, m.Op)
		}
	default:
		return fmt.Errorf("unknown op %q", m.Op)
	}
	return nil
}

// Apply commits a batch of mutations atomically: either every mutation
// applies or none does.
func (w *World) Apply(muts []Mutation) error {
	for _, m := range muts {
		if err := w.checkApplicable(m); err != nil {
			return err
		}
	}
	for _, m := range muts {
		w.applyOne(m)
	}
	return nil
}

func (w *World) applyOne(m Mutation) {
	switch m.Table {
	case TableAgentStates:
		if m.Op == OpDelete {
			delete(w.States, m.ID)
		} else {
			w.States[m.ID] = m.Data.(*AgentState)
		}
	case TableWallets:
		if m.Op == OpDelete {
			delete(w.Wallets, m.ID)
		} else {
			w.Wallets[m.ID] = m.Data.(*Wallet)
		}
	case TableBusinesses:
		if m.Op == OpDelete {
			delete(w.Businesses, m.ID)
		} else {
			w.Businesses[m.ID] = m.Data.(*Business)
		}
	case TableEmployments:
		if m.Op == OpDelete {
			delete(w.Employments, m.ID)
		} else {
			w.Employments[m.ID] = m.Data.(*Employment)
		}
	case TableLoans:
		if m.Op == OpDelete {
			delete(w.Loans, m.ID)
		} else {
			w.Loans[m.ID] = m.Data.(*Loan)
		}
	case TableInventory:
		if m.Op == OpDelete {
			delete(w.Inventory, m.ID)
		} else {
			w.Inventory[m.ID] = m.Data.(*InventoryItem)
		}
	case TableActors:
		if m.Op == OpDelete {
			delete(w.Actors, m.ID)
		} else {
			w.Actors[m.ID] = m.Data.(*Actor)
		}
	}
}

// TickSeed derives the per-tick seed from the world seed.
func (w *World) TickSeed(tick uint64) uint64 {
	h := fnv.New64a()
	var buf [16]byte
	s := uint64(w.Seed)
	for i := 0; i < 8; i++ {
		buf[i] = byte(s >> (8 * i))
		buf[8+i] = byte(tick >> (8 * i))
	}
	h.Write(buf[:])
	return h.Sum64()
}

// OrderKey is the deterministic tie-break for an actor within a tick:
// fnv64a over the tick seed and actor id. Never insertion order, so
// submission timing confers no advantage.
func OrderKey(tickSeed uint64, actorID string) uint64 {
	h := fnv.New64a()
	var buf [8]byte
	for i := 0; i < 8; i++ {
		buf[i] = byte(tickSeed >> (8 * i))
	}
	h.Write(buf[:])
	h.Write([]byte(actorID))
	return h.Sum64()
}

// SortIntents orders intents by priority (descending), then by the
// seeded tie-break, then by intent ID for actors with multiple intents.
func SortIntents(intents []*Intent, tickSeed uint64) {
	sort.SliceStable(intents, func(i, j int) bool {
		a, b := intents[i], intents[j]
		if a.Priority != b.Priority {
			return a.Priority > b.Priority
		}
		ka, kb := OrderKey(tickSeed, a.ActorID), OrderKey(tickSeed, b.ActorID)
		if ka != kb {
			return ka < kb
		}
		return a.ID < b.ID
	})
}

// SortActorIDs applies the same seeded tie-break to a set of actor IDs.
// The daily cycle uses it to pick customers reproducibly.
func SortActorIDs(ids []string, tickSeed uint64) {
	sort.Slice(ids, func(i, j int) bool {
		ka, kb := OrderKey(tickSeed, ids[i]), OrderKey(tickSeed, ids[j])
		if ka != kb {
			return ka < kb
		}
		return ids[i] < ids[j]
	})
}
