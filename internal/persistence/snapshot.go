package persistence

import (
	"RedirectLedger/internal/core"
	"RedirectLedger/internal/ledger"
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	sdkmath "cosmossdk.io/math"
	"github.com/google/uuid"
)

// snapshotFormatVersion is bumped when core.SnapshotState changes shape.
const snapshotFormatVersion = 1

// SnapshotStore saves and loads facade snapshots.
type SnapshotStore interface {
	SaveSnapshot(ctx context.Context, snap *core.SnapshotState) error
	LoadLatestSnapshot(ctx context.Context) (*core.SnapshotState, error)
}

// ErrChainBroken is returned when persisted events do not form a hash chain.
var ErrChainBroken = errors.New("event log hash chain broken")

// SnapshotManager keeps snapshots in event_log.snapshots and rebuilds the
// latest state by rolling a snapshot forward over the persisted changes.
type SnapshotManager struct {
	db *sql.DB
}

func NewSnapshotManager(db *sql.DB) *SnapshotManager {
	return &SnapshotManager{db: db}
}

// SaveSnapshot persists a snapshot. It starts unverified.
func (sm *SnapshotManager) SaveSnapshot(ctx context.Context, snap *core.SnapshotState) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}

	_, err = sm.db.ExecContext(ctx, `
		INSERT INTO event_log.snapshots
			(snapshot_id, sequence, data, state_hash, format_version, size_bytes, verified, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, FALSE, $7)
		ON CONFLICT (sequence) DO UPDATE SET data = $3, state_hash = $4, size_bytes = $6
	`, uuid.New(), snap.Sequence, data, snap.StateHash[:], snapshotFormatVersion, len(data), time.Now().UTC())
	return err
}

// LoadLatestSnapshot loads the most recent verified snapshot, or nil when
// there is none.
func (sm *SnapshotManager) LoadLatestSnapshot(ctx context.Context) (*core.SnapshotState, error) {
	var data []byte
	var version int32
	err := sm.db.QueryRowContext(ctx, `
		SELECT data, format_version FROM event_log.snapshots
		WHERE verified = TRUE
		ORDER BY sequence DESC
		LIMIT 1
	`).Scan(&data, &version)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load snapshot: %w", err)
	}
	if version != snapshotFormatVersion {
		return nil, fmt.Errorf("load snapshot: unsupported format version %d", version)
	}

	var snap core.SnapshotState
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("unmarshal snapshot: %w", err)
	}
	return &snap, nil
}

// MarkVerified marks a snapshot as verified after its hash was checked
// against the event log.
func (sm *SnapshotManager) MarkVerified(ctx context.Context, sequence int64) error {
	_, err := sm.db.ExecContext(ctx, `
		UPDATE event_log.snapshots SET verified = TRUE WHERE sequence = $1
	`, sequence)
	return err
}

// VerifySnapshot checks that the snapshot's hash matches the persisted
// event at its sequence, and marks it verified if so.
func (sm *SnapshotManager) VerifySnapshot(ctx context.Context, snap *core.SnapshotState) error {
	var stateHash []byte
	err := sm.db.QueryRowContext(ctx, `
		SELECT state_hash FROM event_log.events WHERE sequence = $1
	`, snap.Sequence).Scan(&stateHash)
	if err != nil {
		return fmt.Errorf("load event %d: %w", snap.Sequence, err)
	}
	if !bytes.Equal(stateHash, snap.StateHash[:]) {
		return fmt.Errorf("%w: snapshot %d hash does not match event log", ErrChainBroken, snap.Sequence)
	}
	return sm.MarkVerified(ctx, snap.Sequence)
}

// LoadEventsFrom loads events with sequence >= fromSequence in order.
func (sm *SnapshotManager) LoadEventsFrom(ctx context.Context, fromSequence int64, limit int) ([]EventRow, error) {
	rows, err := sm.db.QueryContext(ctx, `
		SELECT sequence, event_type, idempotency_key, account, source, payload,
		       state_hash, prev_hash, timestamp, source_sequence
		FROM event_log.events
		WHERE sequence >= $1
		ORDER BY sequence ASC
		LIMIT $2
	`, fromSequence, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []EventRow
	for rows.Next() {
		var e EventRow
		if err := rows.Scan(
			&e.Sequence, &e.EventType, &e.IdempotencyKey, &e.Account, &e.Source,
			&e.Payload, &e.StateHash, &e.PrevHash, &e.Timestamp, &e.SourceSequence,
		); err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

// GetLatestSequence returns the highest sequence in the event log, or -1
// when it is empty.
func (sm *SnapshotManager) GetLatestSequence(ctx context.Context) (int64, error) {
	var seq sql.NullInt64
	if err := sm.db.QueryRowContext(ctx, `SELECT MAX(sequence) FROM event_log.events`).Scan(&seq); err != nil {
		return 0, err
	}
	if !seq.Valid {
		return -1, nil
	}
	return seq.Int64, nil
}

// VerifyChain checks that events are contiguous from tipSequence+1 and that
// each one links to the hash before it.
func VerifyChain(tipSequence int64, tip [32]byte, events []EventRow) error {
	prev := tip[:]
	expected := tipSequence + 1
	for _, e := range events {
		if e.Sequence != expected {
			return fmt.Errorf("%w: expected sequence %d, got %d", ErrChainBroken, expected, e.Sequence)
		}
		if !bytes.Equal(e.PrevHash, prev) {
			return fmt.Errorf("%w: prev hash mismatch at sequence %d", ErrChainBroken, e.Sequence)
		}
		prev = e.StateHash
		expected++
	}
	return nil
}

// GenesisSnapshot is the state of an empty ledger before sequence 0.
func GenesisSnapshot() *core.SnapshotState {
	return &core.SnapshotState{
		Sequence:      -1,
		StateHash:     core.NewStateHasher().GetPrevHash(),
		Ledger:        ledger.NewState().Export(),
		SequenceState: map[string]int64{},
	}
}

const rollForwardPage = 10000

// RollForward applies every change persisted after snap (or after genesis
// when snap is nil) and returns the resulting state. The post-operation
// rows are authoritative, so nothing is re-executed against the protocol.
func (sm *SnapshotManager) RollForward(ctx context.Context, snap *core.SnapshotState, idempotencyKeys int) (*core.SnapshotState, error) {
	if snap == nil {
		snap = GenesisSnapshot()
	}
	state := cloneSnapshot(snap)

	var events []EventRow
	for from := snap.Sequence + 1; ; {
		page, err := sm.LoadEventsFrom(ctx, from, rollForwardPage)
		if err != nil {
			return nil, fmt.Errorf("load events: %w", err)
		}
		events = append(events, page...)
		if len(page) < rollForwardPage {
			break
		}
		from = page[len(page)-1].Sequence + 1
	}
	if len(events) == 0 {
		return state, nil
	}
	if err := VerifyChain(snap.Sequence, snap.StateHash, events); err != nil {
		return nil, err
	}

	if err := sm.applyAccountChanges(ctx, state.Ledger, snap.Sequence); err != nil {
		return nil, err
	}
	if err := sm.applyAllowanceChanges(ctx, state.Ledger, snap.Sequence); err != nil {
		return nil, err
	}
	if err := sm.applyHats(ctx, state.Ledger, snap.Sequence); err != nil {
		return nil, err
	}

	supply := sdkmath.ZeroUint()
	for _, acct := range state.Ledger.Accounts {
		supply = supply.Add(acct.Redeemable)
	}
	state.Ledger.TotalSupply = supply

	last := events[len(events)-1]
	state.Sequence = last.Sequence
	copy(state.StateHash[:], last.StateHash)

	for _, e := range events {
		if e.Source == "" {
			continue
		}
		if next := e.SourceSequence + 1; next > state.SequenceState[e.Source] {
			state.SequenceState[e.Source] = next
		}
	}

	state.IdempotencyKeys = recentKeys(events, state.IdempotencyKeys, idempotencyKeys)
	return state, nil
}

func (sm *SnapshotManager) applyAccountChanges(ctx context.Context, snap *ledger.Snapshot, after int64) error {
	rows, err := sm.db.QueryContext(ctx, `
		SELECT account, hat_id, redeemable, redeemable_from_interest, loaned_debt,
		       invested_share, cumulative_interest, loaned_to
		FROM event_log.account_changes
		WHERE sequence > $1
		ORDER BY sequence ASC, account ASC
	`, after)
	if err != nil {
		return fmt.Errorf("load account changes: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var r AccountChangeRow
		var hatID int64
		if err := rows.Scan(
			&r.Account, &hatID, &r.Redeemable, &r.RedeemableFromInterest, &r.LoanedDebt,
			&r.InvestedShare, &r.CumulativeInterest, &r.LoanedTo,
		); err != nil {
			return err
		}
		r.HatID = uint64(hatID)

		addr, acct, err := accountFromRow(r)
		if err != nil {
			return err
		}
		snap.Accounts[addr] = acct
	}
	return rows.Err()
}

func (sm *SnapshotManager) applyAllowanceChanges(ctx context.Context, snap *ledger.Snapshot, after int64) error {
	rows, err := sm.db.QueryContext(ctx, `
		SELECT owner, spender, amount
		FROM event_log.allowance_changes
		WHERE sequence > $1
		ORDER BY sequence ASC
	`, after)
	if err != nil {
		return fmt.Errorf("load allowance changes: %w", err)
	}
	defer rows.Close()

	allowances := make(map[ledger.AllowanceKey]sdkmath.Uint, len(snap.Allowances))
	for _, a := range snap.Allowances {
		allowances[ledger.AllowanceKey{Owner: a.Owner, Spender: a.Spender}] = a.Amount
	}

	for rows.Next() {
		var owner, spender, amount string
		if err := rows.Scan(&owner, &spender, &amount); err != nil {
			return err
		}
		key, err := parseAllowanceKey(owner, spender)
		if err != nil {
			return err
		}
		v, err := sdkmath.ParseUint(amount)
		if err != nil {
			return fmt.Errorf("allowance %s/%s: %w", owner, spender, err)
		}
		if v.IsZero() {
			delete(allowances, key)
			continue
		}
		allowances[key] = v
	}
	if err := rows.Err(); err != nil {
		return err
	}

	snap.Allowances = snap.Allowances[:0]
	for key, amount := range allowances {
		snap.Allowances = append(snap.Allowances, ledger.AllowanceEntry{Owner: key.Owner, Spender: key.Spender, Amount: amount})
	}
	sort.Slice(snap.Allowances, func(i, j int) bool {
		a, b := snap.Allowances[i], snap.Allowances[j]
		if c := bytes.Compare(a.Owner[:], b.Owner[:]); c != 0 {
			return c < 0
		}
		return bytes.Compare(a.Spender[:], b.Spender[:]) < 0
	})
	return nil
}

func (sm *SnapshotManager) applyHats(ctx context.Context, snap *ledger.Snapshot, after int64) error {
	rows, err := sm.db.QueryContext(ctx, `
		SELECT hat_id, recipients, weights
		FROM event_log.hats
		WHERE sequence > $1
		ORDER BY hat_id ASC
	`, after)
	if err != nil {
		return fmt.Errorf("load hats: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var r HatRow
		var hatID int64
		if err := rows.Scan(&hatID, &r.Recipients, &r.Weights); err != nil {
			return err
		}
		r.HatID = uint64(hatID)
		hat, err := hatFromRow(r)
		if err != nil {
			return err
		}
		snap.Hats = append(snap.Hats, hat)
	}
	return rows.Err()
}

func accountFromRow(r AccountChangeRow) (uuid.UUID, *ledger.Account, error) {
	addr, err := uuid.Parse(r.Account)
	if err != nil {
		return uuid.Nil, nil, fmt.Errorf("account %q: %w", r.Account, err)
	}

	acct := ledger.NewAccount()
	acct.HatID = r.HatID
	fields := []struct {
		dst *sdkmath.Uint
		src string
	}{
		{&acct.Redeemable, r.Redeemable},
		{&acct.RedeemableFromInterest, r.RedeemableFromInterest},
		{&acct.LoanedDebt, r.LoanedDebt},
		{&acct.InvestedShare, r.InvestedShare},
		{&acct.Stats.CumulativeInterest, r.CumulativeInterest},
	}
	for _, f := range fields {
		v, err := sdkmath.ParseUint(f.src)
		if err != nil {
			return uuid.Nil, nil, fmt.Errorf("account %s: %w", r.Account, err)
		}
		*f.dst = v
	}

	var loanedTo map[string]string
	if len(r.LoanedTo) > 0 {
		if err := json.Unmarshal(r.LoanedTo, &loanedTo); err != nil {
			return uuid.Nil, nil, fmt.Errorf("account %s loaned_to: %w", r.Account, err)
		}
	}
	for recipient, amount := range loanedTo {
		id, err := uuid.Parse(recipient)
		if err != nil {
			return uuid.Nil, nil, fmt.Errorf("account %s loaned_to: %w", r.Account, err)
		}
		v, err := sdkmath.ParseUint(amount)
		if err != nil {
			return uuid.Nil, nil, fmt.Errorf("account %s loaned_to: %w", r.Account, err)
		}
		acct.LoanedTo[id] = v
	}
	return addr, acct, nil
}

func hatFromRow(r HatRow) (ledger.BeneficiarySet, error) {
	var recipients []string
	if err := json.Unmarshal(r.Recipients, &recipients); err != nil {
		return ledger.BeneficiarySet{}, fmt.Errorf("hat %d recipients: %w", r.HatID, err)
	}
	hat := ledger.BeneficiarySet{ID: r.HatID}
	if err := json.Unmarshal(r.Weights, &hat.Weights); err != nil {
		return ledger.BeneficiarySet{}, fmt.Errorf("hat %d weights: %w", r.HatID, err)
	}
	for _, s := range recipients {
		id, err := uuid.Parse(s)
		if err != nil {
			return ledger.BeneficiarySet{}, fmt.Errorf("hat %d recipient: %w", r.HatID, err)
		}
		hat.Recipients = append(hat.Recipients, id)
	}
	if len(hat.Recipients) != len(hat.Weights) {
		return ledger.BeneficiarySet{}, fmt.Errorf("hat %d: %d recipients but %d weights", r.HatID, len(hat.Recipients), len(hat.Weights))
	}
	return hat, nil
}

func parseAllowanceKey(owner, spender string) (ledger.AllowanceKey, error) {
	o, err := uuid.Parse(owner)
	if err != nil {
		return ledger.AllowanceKey{}, fmt.Errorf("allowance owner %q: %w", owner, err)
	}
	s, err := uuid.Parse(spender)
	if err != nil {
		return ledger.AllowanceKey{}, fmt.Errorf("allowance spender %q: %w", spender, err)
	}
	return ledger.AllowanceKey{Owner: o, Spender: s}, nil
}

// recentKeys returns up to limit composite keys, newest first: the rolled
// events in reverse, then whatever the snapshot carried.
func recentKeys(events []EventRow, previous []string, limit int) []string {
	keys := make([]string, 0, limit)
	for i := len(events) - 1; i >= 0 && len(keys) < limit; i-- {
		keys = append(keys, events[i].EventType+":"+events[i].IdempotencyKey)
	}
	for _, k := range previous {
		if len(keys) >= limit {
			break
		}
		keys = append(keys, k)
	}
	return keys
}

// cloneSnapshot deep-copies snap so rolling forward never mutates the
// loaded snapshot.
func cloneSnapshot(snap *core.SnapshotState) *core.SnapshotState {
	out := &core.SnapshotState{
		Sequence:        snap.Sequence,
		StateHash:       snap.StateHash,
		SequenceState:   make(map[string]int64, len(snap.SequenceState)),
		IdempotencyKeys: append([]string(nil), snap.IdempotencyKeys...),
		Ledger: &ledger.Snapshot{
			TotalSupply: sdkmath.ZeroUint(),
			Accounts:    map[uuid.UUID]*ledger.Account{},
		},
	}
	for k, v := range snap.SequenceState {
		out.SequenceState[k] = v
	}
	if snap.Ledger == nil {
		return out
	}
	out.Ledger.TotalSupply = snap.Ledger.TotalSupply
	for addr, acct := range snap.Ledger.Accounts {
		out.Ledger.Accounts[addr] = acct.Clone()
	}
	out.Ledger.Allowances = append([]ledger.AllowanceEntry(nil), snap.Ledger.Allowances...)
	out.Ledger.Hats = append([]ledger.BeneficiarySet(nil), snap.Ledger.Hats...)
	return out
}
