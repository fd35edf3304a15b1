package query

import (
	"RedirectLedger/internal/core"
	"RedirectLedger/internal/projection"
	"context"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"

	sdkmath "cosmossdk.io/math"
	"github.com/google/uuid"
)

// ErrNoDatabase is returned by projection-backed queries when the service
// runs without Postgres.
var ErrNoDatabase = errors.New("query: no projection database configured")

// QueryService answers read requests. Balances, hats and stats come from
// live state through the dispatcher; history and loan listings come from
// the Postgres projections. Every live response carries the sequence it
// was read at.
type QueryService struct {
	db         *sql.DB
	dispatcher *core.Dispatcher
	history    *projection.InterestHistory
}

// NewQueryService builds a service. db and history may be nil.
func NewQueryService(db *sql.DB, dispatcher *core.Dispatcher, history *projection.InterestHistory) *QueryService {
	return &QueryService{db: db, dispatcher: dispatcher, history: history}
}

// GetBalance returns the account's balance and redirection figures.
func (qs *QueryService) GetBalance(ctx context.Context, account uuid.UUID) (*BalanceResponse, error) {
	resp := &BalanceResponse{Account: account}
	err := qs.dispatcher.Read(ctx, func(f *core.LedgerFacade) error {
		savings, err := f.ReceivedSavingsOf(ctx, account)
		if err != nil {
			return err
		}
		payable, err := f.InterestPayableOf(ctx, account)
		if err != nil {
			return err
		}
		hat, err := f.GetHatByAddress(account)
		if err != nil {
			return err
		}

		resp.HatID = hat.ID
		resp.Balance = f.BalanceOf(account)
		resp.ReceivedLoan = f.ReceivedLoanOf(account)
		resp.CumulativeInterest = f.GetAccountStats(account).CumulativeInterest
		resp.ReceivedSavings = savings
		resp.InterestPayable = payable
		resp.AsOfSequence = f.GetSequence() - 1
		return nil
	})
	if err != nil {
		return nil, err
	}
	return resp, nil
}

func (qs *QueryService) GetAllowance(ctx context.Context, owner, spender uuid.UUID) (*AllowanceResponse, error) {
	resp := &AllowanceResponse{Owner: owner, Spender: spender}
	err := qs.dispatcher.Read(ctx, func(f *core.LedgerFacade) error {
		resp.Amount = f.Allowance(owner, spender)
		resp.AsOfSequence = f.GetSequence() - 1
		return nil
	})
	if err != nil {
		return nil, err
	}
	return resp, nil
}

// GetHat returns a beneficiary set by id.
func (qs *QueryService) GetHat(ctx context.Context, hatID uint64) (*HatResponse, error) {
	var resp *HatResponse
	err := qs.dispatcher.Read(ctx, func(f *core.LedgerFacade) error {
		hat, err := f.GetHatByID(hatID)
		if err != nil {
			return err
		}
		resp = &HatResponse{
			HatID:        hatID,
			Recipients:   hat.Recipients,
			Weights:      hat.Weights,
			AsOfSequence: f.GetSequence() - 1,
		}
		return nil
	})
	return resp, err
}

// GetHatByAddress returns the hat the account currently wears.
func (qs *QueryService) GetHatByAddress(ctx context.Context, account uuid.UUID) (*HatResponse, error) {
	var resp *HatResponse
	err := qs.dispatcher.Read(ctx, func(f *core.LedgerFacade) error {
		hat, err := f.GetHatByAddress(account)
		if err != nil {
			return err
		}
		resp = &HatResponse{
			HatID:        hat.ID,
			Recipients:   hat.Recipients,
			Weights:      hat.Weights,
			AsOfSequence: f.GetSequence() - 1,
		}
		return nil
	})
	return resp, err
}

func (qs *QueryService) GetGlobalStats(ctx context.Context) (*GlobalStatsResponse, error) {
	var resp *GlobalStatsResponse
	err := qs.dispatcher.Read(ctx, func(f *core.LedgerFacade) error {
		stats, err := f.GetGlobalStats(ctx)
		if err != nil {
			return err
		}
		bal, err := f.GetSavingAssetBalance(ctx)
		if err != nil {
			return err
		}
		hash := f.GetStateHash()
		resp = &GlobalStatsResponse{
			TotalSupply:        stats.TotalSupply,
			TotalSavingsAmount: stats.TotalSavingsAmount,
			InvestedShares:     bal.Shares,
			MaximumHatID:       f.GetMaximumHatID(),
			StateHash:          hex.EncodeToString(hash[:]),
			AsOfSequence:       f.GetSequence() - 1,
		}
		return nil
	})
	return resp, err
}

// GetInterestHistory returns recently realized interest for an account,
// newest first.
func (qs *QueryService) GetInterestHistory(account uuid.UUID, limit int) *InterestHistoryResponse {
	resp := &InterestHistoryResponse{Account: account, Entries: []projection.InterestEntry{}}
	if qs.history != nil {
		resp.Entries = qs.history.QueryByAccount(account, clampLimit(limit))
	}
	return resp
}

// GetLoansTo lists who has directed principal at recipient.
func (qs *QueryService) GetLoansTo(ctx context.Context, recipient uuid.UUID, limit int) ([]LoanEntry, error) {
	if qs.db == nil {
		return nil, ErrNoDatabase
	}
	rows, err := qs.db.QueryContext(ctx, `
		SELECT owner, amount, last_sequence
		FROM projections.loans
		WHERE recipient = $1
		ORDER BY amount DESC, owner
		LIMIT $2
	`, recipient, clampLimit(limit))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	loans := []LoanEntry{}
	for rows.Next() {
		var owner, amount string
		l := LoanEntry{Recipient: recipient}
		if err := rows.Scan(&owner, &amount, &l.Sequence); err != nil {
			return nil, err
		}
		if l.Owner, err = uuid.Parse(owner); err != nil {
			return nil, err
		}
		if l.Amount, err = sdkmath.ParseUint(amount); err != nil {
			return nil, err
		}
		loans = append(loans, l)
	}
	return loans, rows.Err()
}

// GetEventHistory returns operations initiated by account, newest first,
// with cursor pagination on sequence.
func (qs *QueryService) GetEventHistory(
	ctx context.Context,
	account uuid.UUID,
	limit int,
	beforeSequence *int64,
) ([]EventHistoryEntry, error) {
	if qs.db == nil {
		return nil, ErrNoDatabase
	}

	query := `
		SELECT sequence, event_type, idempotency_key, source, payload, state_hash, timestamp
		FROM event_log.events
		WHERE account = $1
	`
	args := []interface{}{account}
	argIdx := 2

	if beforeSequence != nil {
		query += fmt.Sprintf(" AND sequence < $%d", argIdx)
		args = append(args, *beforeSequence)
		argIdx++
	}

	query += " ORDER BY sequence DESC"
	query += fmt.Sprintf(" LIMIT $%d", argIdx)
	args = append(args, clampLimit(limit))

	rows, err := qs.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	entries := []EventHistoryEntry{}
	for rows.Next() {
		var e EventHistoryEntry
		var payload, stateHash []byte
		if err := rows.Scan(
			&e.Sequence, &e.EventType, &e.IdempotencyKey, &e.Source,
			&payload, &stateHash, &e.Timestamp,
		); err != nil {
			return nil, err
		}
		e.Payload = payload
		e.StateHash = hex.EncodeToString(stateHash)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// --- Admin APIs ---

// VerifyIntegrity checks the live supply invariant and, when Postgres is
// available, the persisted hash chain and the supply projection.
func (qs *QueryService) VerifyIntegrity(ctx context.Context) (*IntegrityReport, error) {
	report := &IntegrityReport{}

	var live sdkmath.Uint
	var liveSeq int64
	err := qs.dispatcher.Read(ctx, func(f *core.LedgerFacade) error {
		if err := f.ValidateTotalSupply(); err != nil {
			report.LiveSupplyError = err.Error()
		}
		live = f.TotalSupply()
		liveSeq = f.GetSequence() - 1
		return nil
	})
	if err != nil {
		return nil, err
	}

	if qs.db != nil {
		breaks, err := qs.hashChainBreaks(ctx)
		if err != nil {
			return nil, err
		}
		report.HashChainBreaks = breaks

		// A lagging projection is not a mismatch; only compare at the same sequence.
		projected, seq, err := qs.projectedSupply(ctx)
		if err != nil {
			return nil, err
		}
		if projected != nil && seq == liveSeq && !projected.Equal(live) {
			report.SupplyMismatch = &SupplyMismatch{Live: live, Projected: *projected}
		}
	}

	report.IsHealthy = len(report.HashChainBreaks) == 0 && report.SupplyMismatch == nil && report.LiveSupplyError == ""
	return report, nil
}

// --- helpers ---

func (qs *QueryService) hashChainBreaks(ctx context.Context) ([]int64, error) {
	rows, err := qs.db.QueryContext(ctx, `
		SELECT e1.sequence
		FROM event_log.events e1
		LEFT JOIN event_log.events e2 ON e2.sequence = e1.sequence - 1
		WHERE e1.sequence > 0 AND (e2.sequence IS NULL OR e1.prev_hash <> e2.state_hash)
		ORDER BY e1.sequence
		LIMIT 10
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var breaks []int64
	for rows.Next() {
		var seq int64
		if err := rows.Scan(&seq); err != nil {
			return nil, err
		}
		breaks = append(breaks, seq)
	}
	return breaks, rows.Err()
}

// projectedSupply returns nil when the projection has not been written yet.
func (qs *QueryService) projectedSupply(ctx context.Context) (*sdkmath.Uint, int64, error) {
	var s string
	var seq int64
	err := qs.db.QueryRowContext(ctx, `
		SELECT total_supply, last_sequence FROM projections.supply WHERE id = 1
	`).Scan(&s, &seq)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, 0, nil
	}
	if err != nil {
		return nil, 0, err
	}
	v, err := sdkmath.ParseUint(s)
	if err != nil {
		return nil, 0, err
	}
	return &v, seq, nil
}

// GetWatermark returns the last sequence the projections have applied, or
// -1 when they are empty.
func (qs *QueryService) GetWatermark(ctx context.Context) (int64, error) {
	if qs.db == nil {
		return 0, ErrNoDatabase
	}
	var seq int64
	err := qs.db.QueryRowContext(ctx, `
		SELECT last_sequence FROM projections.watermark WHERE projection_name = 'main'
	`).Scan(&seq)
	if errors.Is(err, sql.ErrNoRows) {
		return -1, nil
	}
	return seq, err
}

func clampLimit(limit int) int {
	switch {
	case limit <= 0:
		return 50
	case limit > 500:
		return 500
	default:
		return limit
	}
}
