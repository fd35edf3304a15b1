package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"
)

// DBTX is satisfied by *sql.DB and *sql.Tx.
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

// EventLogWriter batch-writes the event log with multi-row INSERTs.
type EventLogWriter struct{}

// EventRow represents a row in event_log.events
type EventRow struct {
	Sequence       int64
	EventType      string
	IdempotencyKey string
	Account        string
	Source         string
	Payload        []byte // JSON-encoded command
	StateHash      []byte
	PrevHash       []byte
	Timestamp      time.Time
	SourceSequence int64
}

// AccountChangeRow is the post-operation state of one touched account, a
// row in event_log.account_changes. Amounts are decimal strings so they
// land in NUMERIC columns without precision loss.
type AccountChangeRow struct {
	Sequence               int64
	Account                string
	HatID                  uint64
	Redeemable             string
	RedeemableFromInterest string
	LoanedDebt             string
	InvestedShare          string
	CumulativeInterest     string
	LoanedTo               []byte // JSON object recipient -> amount
}

// AllowanceChangeRow is the post-operation allowance for one pair, a row
// in event_log.allowance_changes. "0" means the allowance was removed.
type AllowanceChangeRow struct {
	Sequence int64
	Owner    string
	Spender  string
	Amount   string
}

// HatRow is a newly registered beneficiary set, a row in event_log.hats.
type HatRow struct {
	HatID      uint64
	Sequence   int64
	Recipients []byte // JSON array
	Weights    []byte // JSON array
}

func NewEventLogWriter() *EventLogWriter {
	return &EventLogWriter{}
}

// WriteEventBatch writes a batch of events to event_log.events.
func (w *EventLogWriter) WriteEventBatch(ctx context.Context, events []EventRow, tx DBTX) error {
	if len(events) == 0 {
		return nil
	}

	const cols = 10
	values := make([]string, 0, len(events))
	args := make([]interface{}, 0, len(events)*cols)

	for i, e := range events {
		values = append(values, placeholders(i*cols, cols))
		args = append(args,
			e.Sequence, e.EventType, e.IdempotencyKey, e.Account, e.Source,
			e.Payload, e.StateHash, e.PrevHash, e.Timestamp, e.SourceSequence,
		)
	}

	query := `INSERT INTO event_log.events
		(sequence, event_type, idempotency_key, account, source, payload, state_hash, prev_hash, timestamp, source_sequence)
		VALUES ` + strings.Join(values, ", ") +
		" ON CONFLICT (sequence) DO NOTHING"

	_, err := tx.ExecContext(ctx, query, args...)
	return err
}

// WriteAccountChangeBatch writes touched-account rows to event_log.account_changes.
func (w *EventLogWriter) WriteAccountChangeBatch(ctx context.Context, changes []AccountChangeRow, tx DBTX) error {
	if len(changes) == 0 {
		return nil
	}

	const cols = 9
	values := make([]string, 0, len(changes))
	args := make([]interface{}, 0, len(changes)*cols)

	for i, c := range changes {
		values = append(values, placeholders(i*cols, cols))
		args = append(args,
			c.Sequence, c.Account, int64(c.HatID), c.Redeemable, c.RedeemableFromInterest,
			c.LoanedDebt, c.InvestedShare, c.CumulativeInterest, c.LoanedTo,
		)
	}

	query := `INSERT INTO event_log.account_changes
		(sequence, account, hat_id, redeemable, redeemable_from_interest, loaned_debt, invested_share, cumulative_interest, loaned_to)
		VALUES ` + strings.Join(values, ", ") +
		" ON CONFLICT (sequence, account) DO NOTHING"

	_, err := tx.ExecContext(ctx, query, args...)
	return err
}

// WriteAllowanceChangeBatch writes allowance rows to event_log.allowance_changes.
func (w *EventLogWriter) WriteAllowanceChangeBatch(ctx context.Context, changes []AllowanceChangeRow, tx DBTX) error {
	if len(changes) == 0 {
		return nil
	}

	const cols = 4
	values := make([]string, 0, len(changes))
	args := make([]interface{}, 0, len(changes)*cols)

	for i, c := range changes {
		values = append(values, placeholders(i*cols, cols))
		args = append(args, c.Sequence, c.Owner, c.Spender, c.Amount)
	}

	query := `INSERT INTO event_log.allowance_changes (sequence, owner, spender, amount) VALUES ` +
		strings.Join(values, ", ") +
		" ON CONFLICT (sequence, owner, spender) DO NOTHING"

	_, err := tx.ExecContext(ctx, query, args...)
	return err
}

// WriteHatBatch writes newly registered hats to event_log.hats.
func (w *EventLogWriter) WriteHatBatch(ctx context.Context, hats []HatRow, tx DBTX) error {
	if len(hats) == 0 {
		return nil
	}

	const cols = 4
	values := make([]string, 0, len(hats))
	args := make([]interface{}, 0, len(hats)*cols)

	for i, h := range hats {
		values = append(values, placeholders(i*cols, cols))
		args = append(args, int64(h.HatID), h.Sequence, h.Recipients, h.Weights)
	}

	query := `INSERT INTO event_log.hats (hat_id, sequence, recipients, weights) VALUES ` +
		strings.Join(values, ", ") +
		" ON CONFLICT (hat_id) DO NOTHING"

	_, err := tx.ExecContext(ctx, query, args...)
	return err
}

// placeholders renders "($base+1, ..., $base+n)".
func placeholders(base, n int) string {
	var b strings.Builder
	b.WriteByte('(')
	for i := 1; i <= n; i++ {
		if i > 1 {
			b.WriteString(", ")
		}
		fmt.Fprintf(&b, "$%d", base+i)
	}
	b.WriteByte(')')
	return b.String()
}
