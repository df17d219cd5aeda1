// Package sim provides the intent resolution engine: domain model,
// safety gate, handler registry, tick orchestrator, and the business
// daily cycle.
package sim

import (
	"github.com/shopspring/decimal"
)

// TickSchedule constants. One tick is one sim-minute.
const (
	TicksPerHour = 60
	TicksPerDay  = 1440
)

// ActivityState is what an agent is currently doing. At most one
// non-IDLE activity at a time.
type ActivityState uint8

const (
	ActivityIdle ActivityState = iota
	ActivityWorking
	ActivityResting
	ActivityJailed
)

func (a ActivityState) String() string {
	switch a {
	case ActivityWorking:
		return "WORKING"
	case ActivityResting:
		return "RESTING"
	case ActivityJailed:
		return "JAILED"
	default:
		return "IDLE"
	}
}

// Actor is a world participant. Actors are never hard-deleted:
// economic death freezes them instead.
type Actor struct {
	ID         string `json:"id" db:"id"`
	Name       string `json:"name" db:"name"`
	Frozen     bool   `json:"frozen" db:"frozen"`
	Dead       bool   `json:"dead" db:"dead"`
	Reputation int    `json:"reputation" db:"reputation"`
}

// DeferredPlan carries an intent that was rewritten by the safety gate
// and should be retried automatically once its cooldown passes.
type DeferredPlan struct {
	IntentType IntentType     `json:"intent_type"`
	Params     map[string]any `json:"params"`
	ReadyTick  uint64         `json:"ready_tick"`
}

// AgentState is the mutable simulation state for one actor.
// Needs range 0–100; activity transitions are gated by the safety gate.
type AgentState struct {
	ActorID         string        `json:"actor_id" db:"actor_id"`
	Energy          float64       `json:"energy" db:"energy"`
	Hunger          float64       `json:"hunger" db:"hunger"`
	Health          float64       `json:"health" db:"health"`
	Social          float64       `json:"social" db:"social"`
	Fun             float64       `json:"fun" db:"fun"`
	Purpose         float64       `json:"purpose" db:"purpose"`
	Activity        ActivityState `json:"activity" db:"activity"`
	ActivityEndTick uint64        `json:"activity_end_tick" db:"activity_end_tick"`
	JobType         string        `json:"job_type" db:"job_type"`
	WealthTier      int           `json:"wealth_tier" db:"wealth_tier"`
	HousingTier     int           `json:"housing_tier" db:"housing_tier"`
	WorkSegments    int           `json:"work_segments" db:"work_segments"`
	Anger           int           `json:"anger" db:"anger"`
	ExperienceDays  int           `json:"experience_days" db:"experience_days"`

	// Plan deferred by a startup-override rewrite; survives snapshots.
	Deferred *DeferredPlan `json:"deferred,omitempty"`
}

// Wallet is the authoritative in-simulation balance for one actor.
// Mutated only through handler state updates applied by the orchestrator.
type Wallet struct {
	ActorID string          `json:"actor_id" db:"actor_id"`
	Balance decimal.Decimal `json:"balance" db:"balance"`
}

// ExternalBinding maps an actor to an external-ledger account. The
// cached balance/block are informational, never authoritative.
type ExternalBinding struct {
	ActorID     string          `json:"actor_id" db:"actor_id"`
	Address     string          `json:"address" db:"address"`
	LastBalance decimal.Decimal `json:"last_balance" db:"last_balance"`
	LastBlock   uint64          `json:"last_block" db:"last_block"`
}

// BusinessStatus is the lifecycle state of a business. BANKRUPT is terminal.
type BusinessStatus string

const (
	BusinessActive   BusinessStatus = "ACTIVE"
	BusinessBankrupt BusinessStatus = "BANKRUPT"
)

// BusinessType determines demand characteristics and build cost.
type BusinessType string

const (
	BusinessRestaurant BusinessType = "RESTAURANT"
	BusinessShop       BusinessType = "SHOP"
	BusinessGym        BusinessType = "GYM"
	BusinessClinic     BusinessType = "CLINIC"
	BusinessBank       BusinessType = "BANK"
	BusinessWorkshop   BusinessType = "WORKSHOP"
)

// Business is owned by exactly one actor and has its own treasury.
type Business struct {
	ID              string          `json:"id" db:"id"`
	OwnerID         string          `json:"owner_id" db:"owner_id"`
	Type            BusinessType    `json:"type" db:"type"`
	Name            string          `json:"name" db:"name"`
	Level           int             `json:"level" db:"level"`
	Treasury        decimal.Decimal `json:"treasury" db:"treasury"`
	Status          BusinessStatus  `json:"status" db:"status"`
	InsolvencyDays  int             `json:"insolvency_days" db:"insolvency_days"`
	MissedTaxDays   int             `json:"missed_tax_days" db:"missed_tax_days"`
	QualityScore    float64         `json:"quality_score" db:"quality_score"` // 0–100
	Reputation      int             `json:"reputation" db:"reputation"`       // 0–1000
	Price           decimal.Decimal `json:"price" db:"price"`
	LastStaffedTick uint64          `json:"last_staffed_tick" db:"last_staffed_tick"`
	RequiresStaff   bool            `json:"requires_staff" db:"requires_staff"`
	CreatedTick     uint64          `json:"created_tick" db:"created_tick"`
}

// EmploymentStatus tracks employment lifecycle. Terminal states are one-way.
type EmploymentStatus string

const (
	EmploymentActive     EmploymentStatus = "ACTIVE"
	EmploymentResigned   EmploymentStatus = "RESIGNED"
	EmploymentQuit       EmploymentStatus = "QUIT"
	EmploymentFired      EmploymentStatus = "FIRED"
	EmploymentTerminated EmploymentStatus = "TERMINATED"
)

// Terminal reports whether the status is a one-way end state.
func (s EmploymentStatus) Terminal() bool {
	return s != EmploymentActive
}

// Employment links an agent to a business (private) or the city
// (public, BusinessID empty).
type Employment struct {
	ID            string           `json:"id" db:"id"`
	ActorID       string           `json:"actor_id" db:"actor_id"`
	BusinessID    string           `json:"business_id" db:"business_id"` // "" = public job
	JobKey        string           `json:"job_key" db:"job_key"`
	DailyRate     decimal.Decimal  `json:"daily_rate" db:"daily_rate"`
	LastPaidTick  uint64           `json:"last_paid_tick" db:"last_paid_tick"`
	LastWorkTick  uint64           `json:"last_work_tick" db:"last_work_tick"`
	MissedPayDays int              `json:"missed_pay_days" db:"missed_pay_days"`
	Status        EmploymentStatus `json:"status" db:"status"`
}

// Public reports whether this employment is with a public institution.
func (e *Employment) Public() bool { return e.BusinessID == "" }

// LoanStatus tracks loan lifecycle.
type LoanStatus string

const (
	LoanActive    LoanStatus = "ACTIVE"
	LoanRepaid    LoanStatus = "REPAID"
	LoanDefaulted LoanStatus = "DEFAULTED"
)

// Loan is issued by a bank business to another business. Outstanding
// compounds daily until repaid or defaulted at DueTick.
type Loan struct {
	ID                string          `json:"id" db:"id"`
	BorrowerID        string          `json:"borrower_id" db:"borrower_id"` // business
	LenderID          string          `json:"lender_id" db:"lender_id"`     // bank business
	Outstanding       decimal.Decimal `json:"outstanding" db:"outstanding"`
	DailyInterestRate decimal.Decimal `json:"daily_interest_rate" db:"daily_interest_rate"`
	DueTick           uint64          `json:"due_tick" db:"due_tick"`
	Status            LoanStatus      `json:"status" db:"status"`
}

// InventoryItem is a stack of consumables held by an actor.
type InventoryItem struct {
	ActorID  string `json:"actor_id" db:"actor_id"`
	ItemType string `json:"item_type" db:"item_type"`
	Quantity int    `json:"quantity" db:"quantity"`
}

// IntentType enumerates the closed set of requested actions.
type IntentType string

const (
	IntentIdle            IntentType = "INTENT_IDLE"
	IntentRest            IntentType = "INTENT_REST"
	IntentWork            IntentType = "INTENT_WORK"
	IntentConsume         IntentType = "INTENT_CONSUME"
	IntentCollectSalary   IntentType = "INTENT_COLLECT_SALARY"
	IntentResignJob       IntentType = "INTENT_RESIGN_JOB"
	IntentResignPublicJob IntentType = "INTENT_RESIGN_PUBLIC_JOB"
	IntentFoundBusiness   IntentType = "INTENT_FOUND_BUSINESS"
	IntentSetPrice        IntentType = "INTENT_SET_PRICE"
	IntentPayRent         IntentType = "INTENT_PAY_RENT"
	IntentPlaceWager      IntentType = "INTENT_PLACE_WAGER"
	IntentListItem        IntentType = "INTENT_LIST_ITEM"
	IntentTransfer        IntentType = "INTENT_TRANSFER"
)

// IntentStatus is a one-way progression:
// pending → approved → executed|blocked|queued|failed.
// APPROVED is the in-flight status a handler observes after the gate
// passed its decision; it never persists.
type IntentStatus string

const (
	IntentPending  IntentStatus = "PENDING"
	IntentApproved IntentStatus = "APPROVED"
	IntentBlocked  IntentStatus = "BLOCKED"
	IntentExecuted IntentStatus = "EXECUTED"
	IntentQueued   IntentStatus = "QUEUED"
	IntentFailed   IntentStatus = "FAILED"
)

// Resolved reports whether the intent has reached a terminal status.
func (s IntentStatus) Resolved() bool {
	switch s {
	case IntentExecuted, IntentBlocked, IntentQueued, IntentFailed:
		return true
	}
	return false
}

// Intent is a requested action. Each intent is resolved exactly once.
type Intent struct {
	ID       string         `json:"id" db:"id"`
	ActorID  string         `json:"actor_id" db:"actor_id"`
	Type     IntentType     `json:"type" db:"type"`
	Params   map[string]any `json:"params"`
	Priority int            `json:"priority" db:"priority"`
	Tick     uint64         `json:"tick" db:"tick"`
	Status   IntentStatus   `json:"status" db:"status"`
	Reason   string         `json:"reason,omitempty" db:"reason"`
}

// EventOutcome classifies an event.
type EventOutcome string

const (
	OutcomeOK      EventOutcome = "OK"
	OutcomeBlocked EventOutcome = "BLOCKED"
	OutcomeQueued  EventOutcome = "QUEUED"
)

// Event is an immutable append-only audit record of something that
// happened in the world.
type Event struct {
	ID          int64          `json:"id" db:"id"`
	ActorID     string         `json:"actor_id" db:"actor_id"`
	Type        string         `json:"type" db:"type"`
	TargetIDs   []string       `json:"target_ids,omitempty"`
	Outcome     EventOutcome   `json:"outcome" db:"outcome"`
	SideEffects map[string]any `json:"side_effects,omitempty"`
	Tick        uint64         `json:"tick" db:"tick"`
}

// JobStatus is the settlement job state machine.
type JobStatus string

const (
	JobQueued     JobStatus = "queued"
	JobProcessing JobStatus = "processing"
	JobConfirmed  JobStatus = "confirmed"
	JobFailed     JobStatus = "failed"
)

// TransferPayload fully describes an external-ledger transfer so that
// executing it is a pure replay: amounts and fees are precomputed.
type TransferPayload struct {
	FromActorID string          `json:"from_actor_id"`
	ToActorID   string          `json:"to_actor_id"`
	FromAddress string          `json:"from_address"`
	ToAddress   string          `json:"to_address"`
	Amount      decimal.Decimal `json:"amount"`
	Fee         decimal.Decimal `json:"fee"`
	Memo        string          `json:"memo,omitempty"`
}

// SettlementJob mirrors one internal transfer onto the external ledger.
// Its real-world effect must occur at most once even when retried.
type SettlementJob struct {
	ID         string          `json:"id" db:"id"`
	Type       string          `json:"type" db:"type"`
	Payload    TransferPayload `json:"payload"`
	Status     JobStatus       `json:"status" db:"status"`
	RetryCount int             `json:"retry_count" db:"retry_count"`
	IntentID   string          `json:"intent_id" db:"intent_id"`
	Reason     string          `json:"reason,omitempty" db:"reason"`
	UpdatedAt  int64           `json:"updated_at" db:"updated_at"` // unix seconds
}

// WealthTierFor discretizes a balance into a tier used to gate
// job and business eligibility.
func WealthTierFor(balance decimal.Decimal) int {
	switch {
	case balance.GreaterThanOrEqual(decimal.NewFromInt(100000)):
		return 4
	case balance.GreaterThanOrEqual(decimal.NewFromInt(10000)):
		return 3
	case balance.GreaterThanOrEqual(decimal.NewFromInt(1000)):
		return 2
	case balance.GreaterThanOrEqual(decimal.NewFromInt(100)):
		return 1
	default:
		return 0
	}
}
