package ingestion_test

import (
	"RedirectLedger/internal/event"
	"RedirectLedger/internal/ingestion"
	fpmath "RedirectLedger/internal/math"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	alice = "550e8400-e29b-41d4-a716-446655440000"
	bob   = "660e8400-e29b-41d4-a716-446655440001"
	carol = "770e8400-e29b-41d4-a716-446655440002"
	opID  = "880e8400-e29b-41d4-a716-446655440003"
)

var received = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func rawFromJSON(t *testing.T, v interface{}) ingestion.RawEvent {
	t.Helper()
	data, err := json.Marshal(v)
	require.NoError(t, err)
	return ingestion.RawEvent{
		Subject:   "ledger.cmd.test.bank",
		Source:    "bank",
		Data:      data,
		Timestamp: received,
		AckFunc:   func() {},
		NakFunc:   func() {},
	}
}

func TestParseDeposit(t *testing.T) {
	raw := rawFromJSON(t, map[string]interface{}{
		"operation_id": opID,
		"sequence":     7,
		"timestamp_us": int64(1700000000000000),
		"account":      alice,
		"amount":       "1000000000000000000000",
	})

	evt, err := ingestion.ParseRawEvent(raw, "Deposit")
	require.NoError(t, err)

	d, ok := evt.(*event.Deposit)
	require.True(t, ok, "got %T", evt)
	assert.Equal(t, uuid.MustParse(alice), d.Account)
	assert.Equal(t, "1000000000000000000000", d.Amount.String())
	assert.Nil(t, d.HatID)
	assert.Nil(t, d.NewHat)
	assert.Equal(t, "bank", d.Source, "source falls back to the subject's producer")
	assert.Equal(t, int64(7), d.Sequence)
	assert.Equal(t, time.UnixMicro(1700000000000000).UTC(), d.Timestamp)
	assert.Equal(t, opID, d.IdempotencyKey())
}

func TestParseDeposit_WithNewHat(t *testing.T) {
	raw := rawFromJSON(t, map[string]interface{}{
		"operation_id": opID,
		"account":      alice,
		"amount":       "100",
		"new_hat": map[string]interface{}{
			"recipients": []string{bob, carol},
			"weights":    []uint32{1, 3},
		},
	})

	evt, err := ingestion.ParseRawEvent(raw, "Deposit")
	require.NoError(t, err)

	d := evt.(*event.Deposit)
	require.NotNil(t, d.NewHat)
	assert.Equal(t, []uuid.UUID{uuid.MustParse(bob), uuid.MustParse(carol)}, d.NewHat.Recipients)
	assert.Equal(t, []uint32{1, 3}, d.NewHat.Weights)
	assert.Equal(t, received, d.Timestamp, "receive time is used without timestamp_us")
}

func TestParseDeposit_HatAndNewHatConflict(t *testing.T) {
	raw := rawFromJSON(t, map[string]interface{}{
		"operation_id": opID,
		"account":      alice,
		"amount":       "100",
		"hat_id":       1,
		"new_hat":      map[string]interface{}{"recipients": []string{bob}, "weights": []uint32{1}},
	})

	_, err := ingestion.ParseRawEvent(raw, "Deposit")
	assert.ErrorIs(t, err, ingestion.ErrMalformed)
}

func TestParseWithdraw(t *testing.T) {
	t.Run("amount to recipient", func(t *testing.T) {
		raw := rawFromJSON(t, map[string]interface{}{
			"operation_id": opID,
			"account":      alice,
			"amount":       "42",
			"recipient":    bob,
		})
		evt, err := ingestion.ParseRawEvent(raw, "Withdraw")
		require.NoError(t, err)

		w := evt.(*event.Withdraw)
		assert.False(t, w.All)
		assert.Equal(t, "42", w.Amount.String())
		assert.Equal(t, uuid.MustParse(bob), w.Recipient)
	})

	t.Run("all without amount", func(t *testing.T) {
		raw := rawFromJSON(t, map[string]interface{}{
			"operation_id": opID,
			"account":      alice,
			"all":          true,
		})
		evt, err := ingestion.ParseRawEvent(raw, "Withdraw")
		require.NoError(t, err)

		w := evt.(*event.Withdraw)
		assert.True(t, w.All)
		assert.True(t, w.Amount.IsZero())
		assert.Equal(t, uuid.Nil, w.Recipient)
	})

	t.Run("amount required unless all", func(t *testing.T) {
		raw := rawFromJSON(t, map[string]interface{}{
			"operation_id": opID,
			"account":      alice,
		})
		_, err := ingestion.ParseRawEvent(raw, "Withdraw")
		assert.ErrorIs(t, err, ingestion.ErrMalformed)
	})
}

func TestParseTransfer_WithSpender(t *testing.T) {
	raw := rawFromJSON(t, map[string]interface{}{
		"operation_id": opID,
		"spender":      carol,
		"src":          alice,
		"dst":          bob,
		"amount":       "5",
	})

	evt, err := ingestion.ParseRawEvent(raw, "Transfer")
	require.NoError(t, err)

	tr := evt.(*event.Transfer)
	assert.Equal(t, uuid.MustParse(carol), tr.Spender)
	assert.Equal(t, uuid.MustParse(alice), tr.Src)
	assert.Equal(t, uuid.MustParse(bob), tr.Dst)
	assert.Equal(t, "5", tr.Amount.String())
}

func TestParseApprove_Max(t *testing.T) {
	raw := rawFromJSON(t, map[string]interface{}{
		"operation_id": opID,
		"owner":        alice,
		"spender":      bob,
		"amount":       "MAX",
	})

	evt, err := ingestion.ParseRawEvent(raw, "Approve")
	require.NoError(t, err)
	assert.Equal(t, fpmath.MaxUint256.String(), evt.(*event.Approve).Amount.String())
}

func TestParseCreateHat(t *testing.T) {
	raw := rawFromJSON(t, map[string]interface{}{
		"operation_id": opID,
		"creator":      alice,
		"recipients":   []string{alice, bob},
		"weights":      []uint32{10, 90},
		"apply":        true,
	})

	evt, err := ingestion.ParseRawEvent(raw, "CreateHat")
	require.NoError(t, err)

	c := evt.(*event.CreateHat)
	assert.Equal(t, uuid.MustParse(alice), c.Creator)
	assert.True(t, c.Apply)
	assert.Len(t, c.Recipients, 2)
	assert.Equal(t, []uint32{10, 90}, c.Weights)
}

func TestParseChangeHat(t *testing.T) {
	raw := rawFromJSON(t, map[string]interface{}{
		"operation_id": opID,
		"account":      alice,
		"hat_id":       0,
	})

	evt, err := ingestion.ParseRawEvent(raw, "ChangeHat")
	require.NoError(t, err)
	assert.Equal(t, uint64(0), evt.(*event.ChangeHat).HatID, "hat_id 0 clears the hat")

	missing := rawFromJSON(t, map[string]interface{}{"operation_id": opID, "account": alice})
	_, err = ingestion.ParseRawEvent(missing, "ChangeHat")
	assert.ErrorIs(t, err, ingestion.ErrMalformed)
}

func TestParsePayInterest(t *testing.T) {
	raw := rawFromJSON(t, map[string]interface{}{
		"operation_id": opID,
		"source":       "scheduler",
		"account":      bob,
	})

	evt, err := ingestion.ParseRawEvent(raw, "PayInterest")
	require.NoError(t, err)

	p := evt.(*event.PayInterest)
	assert.Equal(t, uuid.MustParse(bob), p.Account)
	assert.Equal(t, "scheduler", p.Source, "payload source wins over the subject")
}

func TestParseRawEvent_Malformed(t *testing.T) {
	tooBig := "1" + strings.Repeat("0", 78)

	cases := []struct {
		name      string
		eventType string
		payload   map[string]interface{}
	}{
		{"unknown type", "Liquidate", map[string]interface{}{"operation_id": opID}},
		{"bad operation id", "PayInterest", map[string]interface{}{"operation_id": "nope", "account": alice}},
		{"negative sequence", "PayInterest", map[string]interface{}{"operation_id": opID, "sequence": -1, "account": alice}},
		{"nil address", "PayInterest", map[string]interface{}{"operation_id": opID, "account": uuid.Nil.String()}},
		{"signed amount", "Deposit", map[string]interface{}{"operation_id": opID, "account": alice, "amount": "-5"}},
		{"fractional amount", "Deposit", map[string]interface{}{"operation_id": opID, "account": alice, "amount": "1.5"}},
		{"amount over 256 bits", "Deposit", map[string]interface{}{"operation_id": opID, "account": alice, "amount": tooBig}},
		{"bad recipient", "CreateHat", map[string]interface{}{
			"operation_id": opID, "creator": alice, "recipients": []string{"x"}, "weights": []uint32{1},
		}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := ingestion.ParseRawEvent(rawFromJSON(t, tc.payload), tc.eventType)
			assert.ErrorIs(t, err, ingestion.ErrMalformed)
		})
	}
}

func TestParseRawEvent_InvalidJSON(t *testing.T) {
	raw := ingestion.RawEvent{Data: []byte(`{not json`)}
	_, err := ingestion.ParseRawEvent(raw, "Deposit")
	assert.ErrorIs(t, err, ingestion.ErrMalformed)
}

func TestSourceFromSubject(t *testing.T) {
	assert.Equal(t, "bank", ingestion.SourceFromSubject("ledger.cmd.deposit.bank"))
	assert.Equal(t, "bank.eu", ingestion.SourceFromSubject("ledger.cmd.deposit.bank.eu"))
	assert.Equal(t, "", ingestion.SourceFromSubject("ledger.cmd.deposit"))
}

func TestDefaultSubjects_CoverEveryCommand(t *testing.T) {
	seen := map[string]bool{}
	for _, s := range ingestion.DefaultSubjects() {
		assert.Equal(t, ingestion.CommandStream, s.StreamName)
		assert.True(t, strings.HasPrefix(s.Subject, "ledger.cmd."))
		assert.NotEqual(t, event.EventTypeUnknown, event.ParseEventType(s.EventType), s.EventType)
		seen[s.EventType] = true
	}
	assert.Len(t, seen, 7)
}
