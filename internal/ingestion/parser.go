package ingestion

import (
	"RedirectLedger/internal/event"
	fpmath "RedirectLedger/internal/math"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	sdkmath "cosmossdk.io/math"
	"github.com/google/uuid"
)

// ErrMalformed wraps every parse failure. Malformed commands are never
// retried.
var ErrMalformed = errors.New("ingestion: malformed command")

// ParseRawEvent converts a RawEvent (JSON bytes + event type name) into a
// typed command for the ledger.
func ParseRawEvent(raw RawEvent, eventType string) (event.Event, error) {
	evt, err := parse(raw, event.ParseEventType(eventType))
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrMalformed, eventType, err)
	}
	return evt, nil
}

func parse(raw RawEvent, et event.EventType) (event.Event, error) {
	switch et {
	case event.EventTypeDeposit:
		return parseDeposit(raw)
	case event.EventTypeWithdraw:
		return parseWithdraw(raw)
	case event.EventTypeTransfer:
		return parseTransfer(raw)
	case event.EventTypeApprove:
		return parseApprove(raw)
	case event.EventTypeCreateHat:
		return parseCreateHat(raw)
	case event.EventTypeChangeHat:
		return parseChangeHat(raw)
	case event.EventTypePayInterest:
		return parsePayInterest(raw)
	default:
		return nil, fmt.Errorf("unknown event type")
	}
}

// --- JSON wire formats ---
// Field names use snake_case to match upstream producers. Amounts are
// decimal strings since they routinely exceed 2^53.

type metaJSON struct {
	OperationID string `json:"operation_id"`
	Source      string `json:"source"`
	Sequence    int64  `json:"sequence"`
	TimestampUs int64  `json:"timestamp_us"`
}

func (m metaJSON) toMeta(raw RawEvent) (event.Meta, error) {
	opID, err := uuid.Parse(m.OperationID)
	if err != nil {
		return event.Meta{}, fmt.Errorf("operation_id: %w", err)
	}
	if m.Sequence < 0 {
		return event.Meta{}, fmt.Errorf("sequence must not be negative")
	}
	source := m.Source
	if source == "" {
		source = raw.Source
	}
	ts := raw.Timestamp
	if m.TimestampUs != 0 {
		ts = time.UnixMicro(m.TimestampUs).UTC()
	}
	return event.Meta{OperationID: opID, Source: source, Sequence: m.Sequence, Timestamp: ts}, nil
}

type hatSpecJSON struct {
	Recipients []string `json:"recipients"`
	Weights    []uint32 `json:"weights"`
}

func (h hatSpecJSON) toSpec() (event.HatSpec, error) {
	recipients := make([]uuid.UUID, 0, len(h.Recipients))
	for i, r := range h.Recipients {
		id, err := uuid.Parse(r)
		if err != nil {
			return event.HatSpec{}, fmt.Errorf("recipients[%d]: %w", i, err)
		}
		recipients = append(recipients, id)
	}
	return event.HatSpec{Recipients: recipients, Weights: h.Weights}, nil
}

type depositJSON struct {
	metaJSON
	Account string       `json:"account"`
	Amount  string       `json:"amount"`
	HatID   *uint64      `json:"hat_id"`
	NewHat  *hatSpecJSON `json:"new_hat"`
}

func parseDeposit(raw RawEvent) (*event.Deposit, error) {
	var j depositJSON
	if err := json.Unmarshal(raw.Data, &j); err != nil {
		return nil, err
	}
	meta, err := j.toMeta(raw)
	if err != nil {
		return nil, err
	}
	account, err := parseAddress("account", j.Account)
	if err != nil {
		return nil, err
	}
	amount, err := parseAmount("amount", j.Amount)
	if err != nil {
		return nil, err
	}
	if j.HatID != nil && j.NewHat != nil {
		return nil, fmt.Errorf("hat_id and new_hat are mutually exclusive")
	}

	d := &event.Deposit{Meta: meta, Account: account, Amount: amount, HatID: j.HatID}
	if j.NewHat != nil {
		spec, err := j.NewHat.toSpec()
		if err != nil {
			return nil, fmt.Errorf("new_hat: %w", err)
		}
		d.NewHat = &spec
	}
	return d, nil
}

type withdrawJSON struct {
	metaJSON
	Account   string `json:"account"`
	Amount    string `json:"amount"`
	All       bool   `json:"all"`
	Recipient string `json:"recipient"`
}

func parseWithdraw(raw RawEvent) (*event.Withdraw, error) {
	var j withdrawJSON
	if err := json.Unmarshal(raw.Data, &j); err != nil {
		return nil, err
	}
	meta, err := j.toMeta(raw)
	if err != nil {
		return nil, err
	}
	account, err := parseAddress("account", j.Account)
	if err != nil {
		return nil, err
	}

	w := &event.Withdraw{Meta: meta, Account: account, All: j.All, Amount: sdkmath.ZeroUint()}
	if !j.All {
		if w.Amount, err = parseAmount("amount", j.Amount); err != nil {
			return nil, err
		}
	}
	if j.Recipient != "" {
		if w.Recipient, err = parseAddress("recipient", j.Recipient); err != nil {
			return nil, err
		}
	}
	return w, nil
}

type transferJSON struct {
	metaJSON
	Spender string `json:"spender"`
	Src     string `json:"src"`
	Dst     string `json:"dst"`
	Amount  string `json:"amount"`
	All     bool   `json:"all"`
}

func parseTransfer(raw RawEvent) (*event.Transfer, error) {
	var j transferJSON
	if err := json.Unmarshal(raw.Data, &j); err != nil {
		return nil, err
	}
	meta, err := j.toMeta(raw)
	if err != nil {
		return nil, err
	}
	src, err := parseAddress("src", j.Src)
	if err != nil {
		return nil, err
	}
	dst, err := parseAddress("dst", j.Dst)
	if err != nil {
		return nil, err
	}

	t := &event.Transfer{Meta: meta, Src: src, Dst: dst, All: j.All, Amount: sdkmath.ZeroUint()}
	if j.Spender != "" {
		if t.Spender, err = parseAddress("spender", j.Spender); err != nil {
			return nil, err
		}
	}
	if !j.All {
		if t.Amount, err = parseAmount("amount", j.Amount); err != nil {
			return nil, err
		}
	}
	return t, nil
}

type approveJSON struct {
	metaJSON
	Owner   string `json:"owner"`
	Spender string `json:"spender"`
	Amount  string `json:"amount"`
}

func parseApprove(raw RawEvent) (*event.Approve, error) {
	var j approveJSON
	if err := json.Unmarshal(raw.Data, &j); err != nil {
		return nil, err
	}
	meta, err := j.toMeta(raw)
	if err != nil {
		return nil, err
	}
	owner, err := parseAddress("owner", j.Owner)
	if err != nil {
		return nil, err
	}
	spender, err := parseAddress("spender", j.Spender)
	if err != nil {
		return nil, err
	}

	amount := fpmath.MaxUint256
	if !strings.EqualFold(j.Amount, "max") {
		if amount, err = parseAmount("amount", j.Amount); err != nil {
			return nil, err
		}
	}
	return &event.Approve{Meta: meta, Owner: owner, Spender: spender, Amount: amount}, nil
}

type createHatJSON struct {
	metaJSON
	Creator string `json:"creator"`
	hatSpecJSON
	Apply bool `json:"apply"`
}

func parseCreateHat(raw RawEvent) (*event.CreateHat, error) {
	var j createHatJSON
	if err := json.Unmarshal(raw.Data, &j); err != nil {
		return nil, err
	}
	meta, err := j.toMeta(raw)
	if err != nil {
		return nil, err
	}
	creator, err := parseAddress("creator", j.Creator)
	if err != nil {
		return nil, err
	}
	spec, err := j.hatSpecJSON.toSpec()
	if err != nil {
		return nil, err
	}
	return &event.CreateHat{Meta: meta, Creator: creator, HatSpec: spec, Apply: j.Apply}, nil
}

type changeHatJSON struct {
	metaJSON
	Account string  `json:"account"`
	HatID   *uint64 `json:"hat_id"`
}

func parseChangeHat(raw RawEvent) (*event.ChangeHat, error) {
	var j changeHatJSON
	if err := json.Unmarshal(raw.Data, &j); err != nil {
		return nil, err
	}
	meta, err := j.toMeta(raw)
	if err != nil {
		return nil, err
	}
	account, err := parseAddress("account", j.Account)
	if err != nil {
		return nil, err
	}
	if j.HatID == nil {
		return nil, fmt.Errorf("hat_id is required")
	}
	return &event.ChangeHat{Meta: meta, Account: account, HatID: *j.HatID}, nil
}

type payInterestJSON struct {
	metaJSON
	Account string `json:"account"`
}

func parsePayInterest(raw RawEvent) (*event.PayInterest, error) {
	var j payInterestJSON
	if err := json.Unmarshal(raw.Data, &j); err != nil {
		return nil, err
	}
	meta, err := j.toMeta(raw)
	if err != nil {
		return nil, err
	}
	account, err := parseAddress("account", j.Account)
	if err != nil {
		return nil, err
	}
	return &event.PayInterest{Meta: meta, Account: account}, nil
}

// --- field helpers ---

func parseAddress(field, s string) (uuid.UUID, error) {
	id, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, fmt.Errorf("%s: %w", field, err)
	}
	if id == uuid.Nil {
		return uuid.Nil, fmt.Errorf("%s: nil address", field)
	}
	return id, nil
}

// parseAmount accepts a base-10 unsigned integer up to 2^256-1.
func parseAmount(field, s string) (sdkmath.Uint, error) {
	if s == "" {
		return sdkmath.ZeroUint(), fmt.Errorf("%s is required", field)
	}
	for _, c := range s {
		if c < '0' || c > '9' {
			return sdkmath.ZeroUint(), fmt.Errorf("%s: %q is not a decimal integer", field, s)
		}
	}
	v, err := sdkmath.ParseUint(s)
	if err != nil {
		return sdkmath.ZeroUint(), fmt.Errorf("%s: %w", field, err)
	}
	if v.GT(fpmath.MaxUint256) {
		return sdkmath.ZeroUint(), fmt.Errorf("%s: exceeds 256 bits", field)
	}
	return v, nil
}
