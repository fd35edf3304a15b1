package persistence

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func chain(tip [32]byte, from int64, n int) []EventRow {
	events := make([]EventRow, 0, n)
	prev := tip
	for i := 0; i < n; i++ {
		next := [32]byte{byte(from) + byte(i) + 1, 0xAA}
		events = append(events, EventRow{
			Sequence:       from + int64(i),
			EventType:      "Deposit",
			IdempotencyKey: string(rune('a' + i)),
			PrevHash:       append([]byte(nil), prev[:]...),
			StateHash:      append([]byte(nil), next[:]...),
		})
		prev = next
	}
	return events
}

func TestVerifyChain(t *testing.T) {
	tip := [32]byte{9}
	events := chain(tip, 5, 4)
	assert.NoError(t, VerifyChain(4, tip, events))
	assert.NoError(t, VerifyChain(4, tip, nil))
}

func TestVerifyChainDetectsGap(t *testing.T) {
	tip := [32]byte{9}
	events := chain(tip, 5, 4)
	events = append(events[:1], events[2:]...)

	err := VerifyChain(4, tip, events)
	assert.True(t, errors.Is(err, ErrChainBroken))
}

func TestVerifyChainDetectsWrongTip(t *testing.T) {
	events := chain([32]byte{9}, 0, 2)
	err := VerifyChain(-1, [32]byte{8}, events)
	assert.True(t, errors.Is(err, ErrChainBroken))
}

func TestVerifyChainDetectsTamperedLink(t *testing.T) {
	tip := [32]byte{9}
	events := chain(tip, 0, 3)
	events[1].StateHash[1] ^= 0xFF

	err := VerifyChain(-1, tip, events)
	assert.True(t, errors.Is(err, ErrChainBroken))
}

func TestRecentKeysNewestFirst(t *testing.T) {
	events := chain([32]byte{}, 0, 3)
	keys := recentKeys(events, []string{"Withdraw:old", "Withdraw:older"}, 4)
	assert.Equal(t, []string{"Deposit:c", "Deposit:b", "Deposit:a", "Withdraw:old"}, keys)
}

func TestGenesisSnapshot(t *testing.T) {
	g := GenesisSnapshot()
	assert.Equal(t, int64(-1), g.Sequence)
	assert.Equal(t, "0", g.Ledger.TotalSupply.String())
	assert.Empty(t, g.Ledger.Accounts)

	c := cloneSnapshot(g)
	c.SequenceState["x"] = 1
	assert.Empty(t, g.SequenceState)
}
