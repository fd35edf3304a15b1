package projection

import (
	"RedirectLedger/internal/core"
	"RedirectLedger/internal/observability"
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	sdkmath "cosmossdk.io/math"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// ProjectionOutput is the slice of a core output the read models need.
type ProjectionOutput struct {
	Sequence    int64
	EventType   string
	Timestamp   time.Time
	Accounts    []AccountView
	Allowances  []AllowanceView
	Hats        []HatView
	TotalSupply sdkmath.Uint
}

// AccountView is the post-operation state of one account.
type AccountView struct {
	Account                uuid.UUID
	HatID                  uint64
	Redeemable             sdkmath.Uint
	RedeemableFromInterest sdkmath.Uint
	LoanedDebt             sdkmath.Uint
	InvestedShare          sdkmath.Uint
	CumulativeInterest     sdkmath.Uint
	LoanedTo               map[uuid.UUID]sdkmath.Uint
}

type AllowanceView struct {
	Owner   uuid.UUID
	Spender uuid.UUID
	Amount  sdkmath.Uint
}

type HatView struct {
	HatID      uint64
	Recipients []uuid.UUID
	Weights    []uint32
}

// FromCoreOutput copies what projections need out of a facade output.
func FromCoreOutput(out core.CoreOutput) ProjectionOutput {
	po := ProjectionOutput{
		Sequence:    out.Envelope.Sequence,
		EventType:   out.Envelope.EventType.String(),
		Timestamp:   out.Envelope.Timestamp,
		TotalSupply: out.TotalSupply,
	}
	if out.Changes == nil {
		return po
	}

	for _, addr := range out.Changes.Accounts {
		acct, ok := out.Accounts[addr]
		if !ok {
			continue
		}
		loanedTo := make(map[uuid.UUID]sdkmath.Uint, len(acct.LoanedTo))
		for r, amt := range acct.LoanedTo {
			loanedTo[r] = amt
		}
		po.Accounts = append(po.Accounts, AccountView{
			Account:                addr,
			HatID:                  acct.HatID,
			Redeemable:             acct.Redeemable,
			RedeemableFromInterest: acct.RedeemableFromInterest,
			LoanedDebt:             acct.LoanedDebt,
			InvestedShare:          acct.InvestedShare,
			CumulativeInterest:     acct.Stats.CumulativeInterest,
			LoanedTo:               loanedTo,
		})
	}
	for _, a := range out.Allowances {
		po.Allowances = append(po.Allowances, AllowanceView{Owner: a.Owner, Spender: a.Spender, Amount: a.Amount})
	}
	for _, h := range out.Changes.NewHats {
		po.Hats = append(po.Hats, HatView{HatID: h.ID, Recipients: h.Recipients, Weights: h.Weights})
	}
	return po
}

// ProjectionWorker updates projection tables from processed operations.
// Its channel is fed with a non-blocking send, so it may miss operations
// under load; the tables can always be rebuilt from the event log.
type ProjectionWorker struct {
	db        *sql.DB
	inputChan <-chan ProjectionOutput
	history   *InterestHistory
	metrics   *observability.Metrics
	logger    zerolog.Logger
	lastSeq   int64
}

func NewProjectionWorker(
	db *sql.DB,
	inputChan <-chan ProjectionOutput,
	history *InterestHistory,
	metrics *observability.Metrics,
	logger zerolog.Logger,
) *ProjectionWorker {
	return &ProjectionWorker{
		db:        db,
		inputChan: inputChan,
		history:   history,
		metrics:   metrics,
		logger:    logger,
		lastSeq:   -1,
	}
}

// Run starts the projection worker loop.
func (pw *ProjectionWorker) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case output, ok := <-pw.inputChan:
			if !ok {
				return nil
			}

			if pw.lastSeq >= 0 && output.Sequence != pw.lastSeq+1 {
				pw.logger.Warn().Int64("expected", pw.lastSeq+1).Int64("got", output.Sequence).
					Msg("projection skipped operations; rebuild to catch up")
			}

			if pw.history != nil {
				for _, a := range output.Accounts {
					pw.history.Observe(output.Sequence, output.EventType, output.Timestamp, a.Account, a.CumulativeInterest)
				}
			}

			start := time.Now()
			if pw.db != nil {
				if err := pw.processOutput(ctx, output); err != nil {
					// Projections are eventually consistent and rebuildable.
					pw.logger.Warn().Err(err).Int64("sequence", output.Sequence).Msg("projection update failed")
					if pw.metrics != nil {
						pw.metrics.ProjectionErrors.Inc()
					}
				}
			}
			if pw.metrics != nil {
				pw.metrics.ProjectionUpdateDur.Observe(time.Since(start).Seconds())
				pw.metrics.ProjectionLastSeq.Set(float64(output.Sequence))
			}

			pw.lastSeq = output.Sequence
		}
	}
}

// LastSequence returns the sequence of the last output handled.
func (pw *ProjectionWorker) LastSequence() int64 {
	return pw.lastSeq
}

func (pw *ProjectionWorker) processOutput(ctx context.Context, output ProjectionOutput) error {
	tx, err := pw.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, a := range output.Accounts {
		if err := upsertAccount(ctx, tx, output.Sequence, a); err != nil {
			return fmt.Errorf("account projection: %w", err)
		}
	}
	for _, a := range output.Allowances {
		if err := upsertAllowance(ctx, tx, output.Sequence, a); err != nil {
			return fmt.Errorf("allowance projection: %w", err)
		}
	}
	for _, h := range output.Hats {
		if err := insertHat(ctx, tx, output.Sequence, h); err != nil {
			return fmt.Errorf("hat projection: %w", err)
		}
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO projections.supply (id, total_supply, last_sequence)
		VALUES (1, $1, $2)
		ON CONFLICT (id) DO UPDATE SET total_supply = $1, last_sequence = $2
	`, output.TotalSupply.String(), output.Sequence); err != nil {
		return fmt.Errorf("supply projection: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO projections.watermark (projection_name, last_sequence, updated_at)
		VALUES ('main', $1, NOW())
		ON CONFLICT (projection_name) DO UPDATE SET last_sequence = $1, updated_at = NOW()
	`, output.Sequence); err != nil {
		return fmt.Errorf("watermark update: %w", err)
	}

	return tx.Commit()
}

func upsertAccount(ctx context.Context, tx *sql.Tx, seq int64, a AccountView) error {
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO projections.accounts
			(account, hat_id, redeemable, redeemable_from_interest, loaned_debt,
			 invested_share, cumulative_interest, last_sequence, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NOW())
		ON CONFLICT (account) DO UPDATE SET
			hat_id = $2, redeemable = $3, redeemable_from_interest = $4, loaned_debt = $5,
			invested_share = $6, cumulative_interest = $7, last_sequence = $8, updated_at = NOW()
	`, a.Account, int64(a.HatID), a.Redeemable.String(), a.RedeemableFromInterest.String(),
		a.LoanedDebt.String(), a.InvestedShare.String(), a.CumulativeInterest.String(), seq); err != nil {
		return err
	}

	// LoanedTo is replaced wholesale: it is the full post-operation map.
	if _, err := tx.ExecContext(ctx, `DELETE FROM projections.loans WHERE owner = $1`, a.Account); err != nil {
		return err
	}
	for recipient, amount := range a.LoanedTo {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO projections.loans (owner, recipient, amount, last_sequence)
			VALUES ($1, $2, $3, $4)
		`, a.Account, recipient, amount.String(), seq); err != nil {
			return err
		}
	}
	return nil
}

func upsertAllowance(ctx context.Context, tx *sql.Tx, seq int64, a AllowanceView) error {
	if a.Amount.IsZero() {
		_, err := tx.ExecContext(ctx, `
			DELETE FROM projections.allowances WHERE owner = $1 AND spender = $2
		`, a.Owner, a.Spender)
		return err
	}
	_, err := tx.ExecContext(ctx, `
		INSERT INTO projections.allowances (owner, spender, amount, last_sequence)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (owner, spender) DO UPDATE SET amount = $3, last_sequence = $4
	`, a.Owner, a.Spender, a.Amount.String(), seq)
	return err
}

func insertHat(ctx context.Context, tx *sql.Tx, seq int64, h HatView) error {
	recipients, err := json.Marshal(h.Recipients)
	if err != nil {
		return err
	}
	weights, err := json.Marshal(h.Weights)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO projections.hats (hat_id, recipients, weights, created_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (hat_id) DO NOTHING
	`, int64(h.HatID), recipients, weights, seq)
	return err
}

// RebuildProjections rebuilds all projection tables from the event log.
func RebuildProjections(ctx context.Context, db *sql.DB, logger zerolog.Logger) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	statements := []struct {
		name string
		sql  string
	}{
		{"truncate", `TRUNCATE projections.accounts, projections.loans, projections.hats,
			projections.allowances, projections.supply`},
		{"watermark reset", `DELETE FROM projections.watermark WHERE projection_name = 'main'`},
		{"accounts", `
			INSERT INTO projections.accounts
				(account, hat_id, redeemable, redeemable_from_interest, loaned_debt,
				 invested_share, cumulative_interest, last_sequence, updated_at)
			SELECT DISTINCT ON (account)
				account, hat_id, redeemable, redeemable_from_interest, loaned_debt,
				invested_share, cumulative_interest, sequence, NOW()
			FROM event_log.account_changes
			ORDER BY account, sequence DESC`},
		{"loans", `
			INSERT INTO projections.loans (owner, recipient, amount, last_sequence)
			SELECT latest.account, l.key::uuid, l.value::numeric, latest.sequence
			FROM (
				SELECT DISTINCT ON (account) account, sequence, loaned_to
				FROM event_log.account_changes
				ORDER BY account, sequence DESC
			) latest, jsonb_each_text(latest.loaned_to) AS l`},
		{"allowances", `
			INSERT INTO projections.allowances (owner, spender, amount, last_sequence)
			SELECT owner, spender, amount, sequence FROM (
				SELECT DISTINCT ON (owner, spender) owner, spender, amount, sequence
				FROM event_log.allowance_changes
				ORDER BY owner, spender, sequence DESC
			) latest
			WHERE amount > 0`},
		{"hats", `
			INSERT INTO projections.hats (hat_id, recipients, weights, created_at)
			SELECT hat_id, recipients, weights, sequence FROM event_log.hats`},
		{"supply", `
			INSERT INTO projections.supply (id, total_supply, last_sequence)
			SELECT 1, COALESCE(SUM(redeemable), 0), COALESCE(MAX(last_sequence), -1)
			FROM projections.accounts`},
		{"watermark", `
			INSERT INTO projections.watermark (projection_name, last_sequence, updated_at)
			SELECT 'main', COALESCE(MAX(sequence), -1), NOW() FROM event_log.events`},
	}

	for _, stmt := range statements {
		if _, err := tx.ExecContext(ctx, stmt.sql); err != nil {
			return fmt.Errorf("rebuild %s: %w", stmt.name, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return err
	}

	logger.Info().Msg("projection rebuild complete")
	return nil
}
