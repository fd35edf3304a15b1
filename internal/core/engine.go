package core

import (
	"RedirectLedger/internal/event"
	"RedirectLedger/internal/ledger"
	"RedirectLedger/internal/observability"
	"RedirectLedger/internal/protocol"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	sdkmath "cosmossdk.io/math"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Config holds the facade's tunables.
type Config struct {
	// Pool is the custody address that holds underlying and protocol shares.
	Pool uuid.UUID

	// StartSequence is the first global sequence to assign.
	StartSequence int64

	MaxInheritanceDepth int
	IdempotencyCapacity int

	// SupplyCheckInterval runs the O(accounts) total-supply check every N
	// operations. 1 checks after every operation.
	SupplyCheckInterval int64
}

// LedgerFacade is the single-threaded operation processor. It owns the
// ledger state and is the only component that mutates it. It is not safe
// for concurrent use; Dispatcher serializes callers onto one goroutine.
type LedgerFacade struct {
	cfg         Config
	sequence    int64
	state       *ledger.State
	engine      *Redistributor
	oracle      ExchangeOracle
	token       protocol.Token
	validator   *ledger.InvariantValidator
	hasher      *StateHasher
	idempotency *IdempotencyChecker
	sequences   *SequenceValidator
	metrics     *observability.Metrics
	logger      zerolog.Logger

	// set while an operation is executing
	inFlight bool

	persistChan    chan<- CoreOutput
	projectionChan chan<- CoreOutput
}

// CoreOutput is everything downstream workers need about one applied
// operation.
type CoreOutput struct {
	Envelope *event.EventEnvelope
	Changes  *ledger.ChangeSet

	// Post-operation copies of every touched account.
	Accounts map[uuid.UUID]*ledger.Account

	// Post-operation allowance values for Changes.Allowances, same order.
	Allowances []ledger.AllowanceEntry

	TotalSupply sdkmath.Uint
	Result      Result
}

// Result is the caller-facing outcome of an operation.
type Result struct {
	// HatID is the account's hat after the operation, or the created hat.
	HatID uint64 `json:"hat_id"`

	// Amount is the amount deposited, withdrawn, transferred, approved or
	// paid as interest.
	Amount sdkmath.Uint `json:"amount"`
}

func NewLedgerFacade(
	cfg Config,
	oracle ExchangeOracle,
	token protocol.Token,
	persistChan, projectionChan chan<- CoreOutput,
	dbChecker DBIdempotencyChecker,
	metrics *observability.Metrics,
	logger zerolog.Logger,
) *LedgerFacade {
	if cfg.IdempotencyCapacity <= 0 {
		cfg.IdempotencyCapacity = 1_000_000
	}
	if cfg.SupplyCheckInterval <= 0 {
		cfg.SupplyCheckInterval = 1000
	}

	state := ledger.NewState()
	var observer InheritanceObserver
	if metrics != nil {
		observer = metricsObserver{metrics: metrics, logger: logger}
	}

	return &LedgerFacade{
		cfg:            cfg,
		sequence:       cfg.StartSequence,
		state:          state,
		engine:         NewRedistributor(oracle, cfg.MaxInheritanceDepth, observer),
		oracle:         oracle,
		token:          token,
		validator:      ledger.NewInvariantValidator(state),
		hasher:         NewStateHasher(),
		idempotency:    NewIdempotencyChecker(cfg.IdempotencyCapacity, dbChecker),
		sequences:      NewSequenceValidator(),
		metrics:        metrics,
		logger:         logger,
		persistChan:    persistChan,
		projectionChan: projectionChan,
	}
}

// ProcessEvent is the main processing pipeline. A nil output with a nil
// error means the operation was already applied and was skipped.
func (c *LedgerFacade) ProcessEvent(ctx context.Context, evt event.Event) (*CoreOutput, error) {
	start := time.Now()
	eventType := evt.EventType().String()
	idempotencyKey := evt.IdempotencyKey()

	if c.inFlight {
		c.recordRejected(eventType, ledger.ErrReentrantCall)
		return nil, ledger.ErrReentrantCall
	}
	c.inFlight = true
	defer func() { c.inFlight = false }()

	// Step 1: Idempotency check (two-tier)
	isDuplicate := c.idempotency.IsDuplicate(eventType, idempotencyKey)

	// Step 2: Source sequence validation (sequenced producers only)
	if source := evt.SourceName(); source != "" {
		if err := c.sequences.ValidateSequence(source, evt.SourceSequence(), idempotencyKey, isDuplicate); err != nil {
			c.recordRejected(eventType, err)
			return nil, fmt.Errorf("sequence validation failed: %w", err)
		}
	}

	if isDuplicate {
		if c.metrics != nil {
			c.metrics.CoreEventsRejected.WithLabelValues(eventType, "duplicate").Inc()
		}
		return nil, nil
	}

	// Step 3: Apply inside a ledger transaction
	if err := c.state.Begin(); err != nil {
		return nil, err
	}
	result, err := c.dispatchEvent(ctx, evt)
	if err != nil {
		if rbErr := c.state.Rollback(); rbErr != nil {
			panic(fmt.Sprintf("FATAL: rollback failed: %v", rbErr))
		}
		c.recordRejected(eventType, err)
		return nil, err
	}
	changes, err := c.state.Commit()
	if err != nil {
		panic(fmt.Sprintf("FATAL: commit failed: %v", err))
	}

	// Step 4: Post-checks
	if err := c.postCheckInvariants(changes); err != nil {
		panic(fmt.Sprintf("FATAL: invariant violated: %v", err))
	}

	// Step 5: Digest, hash chain, envelope
	stateDigest := c.computeStateDigest(changes)
	prevHash := c.hasher.GetPrevHash()
	stateHash := c.hasher.ComputeHash(c.sequence, stateDigest)

	payload, err := json.Marshal(evt)
	if err != nil {
		panic(fmt.Sprintf("FATAL: cannot encode %s payload: %v", eventType, err))
	}

	envelope := &event.EventEnvelope{
		Sequence:       c.sequence,
		IdempotencyKey: idempotencyKey,
		EventType:      evt.EventType(),
		Account:        evt.Initiator(),
		Timestamp:      evt.OccurredAt(),
		Source:         evt.SourceName(),
		SourceSequence: evt.SourceSequence(),
		Payload:        payload,
		StateHash:      stateHash,
		PrevHash:       prevHash,
	}

	output := CoreOutput{
		Envelope:    envelope,
		Changes:     changes,
		Accounts:    c.touchedAccounts(changes),
		Allowances:  c.touchedAllowances(changes),
		TotalSupply: c.state.Accounts.TotalSupply(),
		Result:      result,
	}
	c.sequence++

	// Step 6: Emit. Persistence uses a blocking send (backpressure);
	// projections use a non-blocking send and may drop.
	if c.persistChan != nil {
		c.persistChan <- output
	}
	if c.projectionChan != nil {
		select {
		case c.projectionChan <- output:
		default:
			if c.metrics != nil {
				c.metrics.ProjectionDropped.Inc()
			}
		}
	}

	// Step 7: Mark as processed
	c.idempotency.MarkProcessed(eventType, idempotencyKey)

	if c.metrics != nil {
		c.metrics.CoreEventsApplied.WithLabelValues(eventType).Inc()
		c.metrics.CoreEventDuration.WithLabelValues(eventType).Observe(time.Since(start).Seconds())
		c.metrics.CoreSequence.Set(float64(c.sequence))
		c.metrics.LedgerTotalSupply.Set(observability.UintToFloat(output.TotalSupply))
		c.metrics.LedgerAccounts.Set(float64(c.state.Accounts.Len()))
		c.metrics.LedgerHats.Set(float64(c.state.Hats.MaxID()))
	}

	return &output, nil
}

func (c *LedgerFacade) dispatchEvent(ctx context.Context, evt event.Event) (Result, error) {
	switch e := evt.(type) {
	case *event.Deposit:
		return c.handleDeposit(ctx, e)
	case *event.Withdraw:
		return c.handleWithdraw(ctx, e)
	case *event.Transfer:
		return c.handleTransfer(ctx, e)
	case *event.Approve:
		return c.handleApprove(e)
	case *event.CreateHat:
		return c.handleCreateHat(ctx, e)
	case *event.ChangeHat:
		return c.handleChangeHat(ctx, e)
	case *event.PayInterest:
		return c.handlePayInterest(ctx, e)
	default:
		return Result{}, fmt.Errorf("unknown event type: %T", evt)
	}
}

// postCheckInvariants validates invariants for the touched accounts, and
// periodically the global supply.
func (c *LedgerFacade) postCheckInvariants(changes *ledger.ChangeSet) error {
	for _, addr := range changes.Accounts {
		if err := c.validator.ValidateInterestPortion(addr); err != nil {
			return fmt.Errorf("post-check interest portion: %w", err)
		}
		if err := c.validator.ValidateLoanCoverage(addr); err != nil {
			c.logger.Warn().Err(err).Int64("sequence", c.sequence).Msg("loan map drift")
			if c.metrics != nil {
				c.metrics.LoanCoverageDrift.Inc()
			}
		}
	}

	if c.sequence%c.cfg.SupplyCheckInterval == 0 {
		if err := c.validator.ValidateTotalSupply(); err != nil {
			return fmt.Errorf("post-check total supply at seq %d: %w", c.sequence, err)
		}
	}
	return nil
}

func (c *LedgerFacade) touchedAccounts(changes *ledger.ChangeSet) map[uuid.UUID]*ledger.Account {
	out := make(map[uuid.UUID]*ledger.Account, len(changes.Accounts))
	for _, addr := range changes.Accounts {
		if acct, ok := c.state.Accounts.Peek(addr); ok {
			out[addr] = acct.Clone()
		}
	}
	return out
}

func (c *LedgerFacade) touchedAllowances(changes *ledger.ChangeSet) []ledger.AllowanceEntry {
	out := make([]ledger.AllowanceEntry, 0, len(changes.Allowances))
	for _, key := range changes.Allowances {
		out = append(out, ledger.AllowanceEntry{
			Owner:   key.Owner,
			Spender: key.Spender,
			Amount:  c.state.Accounts.Allowance(key.Owner, key.Spender),
		})
	}
	return out
}

func (c *LedgerFacade) recordRejected(eventType string, err error) {
	if c.metrics != nil {
		c.metrics.CoreEventsRejected.WithLabelValues(eventType, RejectionReason(err)).Inc()
	}
}

// RejectionReason maps an operation error to a short metric label.
func RejectionReason(err error) string {
	switch {
	case errors.Is(err, ledger.ErrInvalidAmount):
		return "invalid_amount"
	case errors.Is(err, ledger.ErrInvalidBeneficiarySet):
		return "invalid_hat"
	case errors.Is(err, ledger.ErrUnknownHat):
		return "unknown_hat"
	case errors.Is(err, ledger.ErrSelfReferencingHat):
		return "self_referencing_hat"
	case errors.Is(err, ledger.ErrInsufficientBalance):
		return "insufficient_balance"
	case errors.Is(err, ledger.ErrInsufficientAllowance):
		return "insufficient_allowance"
	case errors.Is(err, ledger.ErrSameAccountTransfer):
		return "same_account"
	case errors.Is(err, ledger.ErrReentrantCall):
		return "reentrant"
	case errors.Is(err, protocol.ErrProtocolFailure):
		return "protocol_failure"
	case errors.Is(err, ErrSequenceGap), errors.Is(err, ErrOutOfOrder):
		return "sequence"
	default:
		return "internal"
	}
}

// metricsObserver reports inheritance events to metrics and logs.
type metricsObserver struct {
	metrics *observability.Metrics
	logger  zerolog.Logger
}

func (o metricsObserver) HatInherited(recipient uuid.UUID, hatID uint64, depth int) {
	o.metrics.HatInheritances.Inc()
	o.logger.Debug().Str("recipient", recipient.String()).Uint64("hat_id", hatID).Int("depth", depth).Msg("hat inherited")
}

func (o metricsObserver) InheritanceTruncated(recipient uuid.UUID, hatID uint64, depth int) {
	o.metrics.InheritanceTruncated.Inc()
	o.logger.Warn().Str("recipient", recipient.String()).Uint64("hat_id", hatID).Int("depth", depth).Msg("hat inheritance depth limit reached")
}

// --- Snapshot Restore & Startup Methods ---

// SnapshotState holds the serializable in-memory state for restore.
type SnapshotState struct {
	Sequence        int64            `json:"sequence"`
	StateHash       [32]byte         `json:"state_hash"`
	Ledger          *ledger.Snapshot `json:"ledger"`
	SequenceState   map[string]int64 `json:"sequence_state"`
	IdempotencyKeys []string         `json:"idempotency_keys"`
}

// RestoreFromSnapshot restores the facade's in-memory state from a
// snapshot. Must be called before any operation is processed.
func (c *LedgerFacade) RestoreFromSnapshot(snap *SnapshotState) error {
	if err := c.state.Import(snap.Ledger); err != nil {
		return fmt.Errorf("restore ledger: %w", err)
	}
	c.sequence = snap.Sequence + 1 // Next sequence to assign
	c.hasher.SetPrevHash(snap.StateHash)
	for source, next := range snap.SequenceState {
		c.sequences.SetExpectedSequence(source, next)
	}
	c.idempotency.lru.WarmFromKeys(snap.IdempotencyKeys)
	return nil
}

// CreateSnapshotState captures the current in-memory state for persistence.
func (c *LedgerFacade) CreateSnapshotState() *SnapshotState {
	return &SnapshotState{
		Sequence:        c.sequence - 1, // Last processed sequence
		StateHash:       c.hasher.GetPrevHash(),
		Ledger:          c.state.Export(),
		SequenceState:   c.sequences.GetAllPartitions(),
		IdempotencyKeys: c.idempotency.lru.GetAllKeys(),
	}
}

// WarmLRU loads recent idempotency keys into the LRU cache.
func (c *LedgerFacade) WarmLRU(keys []string) {
	c.idempotency.lru.WarmFromKeys(keys)
}

// GetSequence returns the next sequence to assign.
func (c *LedgerFacade) GetSequence() int64 {
	return c.sequence
}

// GetStateHash returns the current state hash (chain tip).
func (c *LedgerFacade) GetStateHash() [32]byte {
	return c.hasher.GetPrevHash()
}

// CheckShareBacking compares booked shares with what the protocol reports
// and publishes the result as metrics.
func (c *LedgerFacade) CheckShareBacking(ctx context.Context) (reserve, deficit sdkmath.Uint, err error) {
	total, err := c.oracle.TotalInvestedShares(ctx)
	if err != nil {
		return sdkmath.ZeroUint(), sdkmath.ZeroUint(), err
	}
	reserve, deficit = c.validator.ShareReserve(total)
	if c.metrics != nil {
		c.metrics.ShareReserve.Set(observability.UintToFloat(reserve))
		c.metrics.ShareDeficit.Set(observability.UintToFloat(deficit))
	}
	if !deficit.IsZero() {
		c.logger.Warn().Str("deficit", deficit.String()).Msg("booked shares exceed protocol supply")
	}
	return reserve, deficit, nil
}

// ValidateTotalSupply runs the global supply check on demand.
func (c *LedgerFacade) ValidateTotalSupply() error {
	return c.validator.ValidateTotalSupply()
}
