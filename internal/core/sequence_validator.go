package core

import (
	"errors"
	"fmt"
)

var (
	ErrSequenceGap = errors.New("source sequence gap")
	ErrOutOfOrder  = errors.New("source sequence out of order")
)

// SequenceValidator enforces gap-free ordering per producing source. A
// source seen for the first time may start at any sequence.
// Only accessed from the facade goroutine.
type SequenceValidator struct {
	expectedNextSeq map[string]int64 // source -> next expected sequence
	gaps            map[string]int64
	outOfOrder      map[string]int64
}

func NewSequenceValidator() *SequenceValidator {
	return &SequenceValidator{
		expectedNextSeq: make(map[string]int64),
		gaps:            make(map[string]int64),
		outOfOrder:      make(map[string]int64),
	}
}

// ValidateSequence checks sourceSequence against the next expected value
// and advances it. Replays of already-applied commands pass.
func (sv *SequenceValidator) ValidateSequence(source string, sourceSequence int64, idempotencyKey string, isDuplicate bool) error {
	expected, known := sv.expectedNextSeq[source]
	if !known {
		sv.expectedNextSeq[source] = sourceSequence + 1
		return nil
	}

	switch {
	case sourceSequence == expected:
		sv.expectedNextSeq[source] = expected + 1
		return nil
	case sourceSequence < expected:
		if isDuplicate {
			return nil
		}
		sv.outOfOrder[source]++
		return fmt.Errorf("%w: source=%s key=%s expected=%d got=%d",
			ErrOutOfOrder, source, idempotencyKey, expected, sourceSequence)
	default:
		sv.gaps[source]++
		return fmt.Errorf("%w: source=%s key=%s expected=%d got=%d",
			ErrSequenceGap, source, idempotencyKey, expected, sourceSequence)
	}
}

// GetExpectedSequence returns the next expected sequence for a source, or
// false if the source has not been seen.
func (sv *SequenceValidator) GetExpectedSequence(source string) (int64, bool) {
	seq, ok := sv.expectedNextSeq[source]
	return seq, ok
}

// SetExpectedSequence is used during recovery.
func (sv *SequenceValidator) SetExpectedSequence(source string, seq int64) {
	sv.expectedNextSeq[source] = seq
}

// GetAllPartitions copies the per-source expectations for a snapshot.
func (sv *SequenceValidator) GetAllPartitions() map[string]int64 {
	out := make(map[string]int64, len(sv.expectedNextSeq))
	for source, seq := range sv.expectedNextSeq {
		out[source] = seq
	}
	return out
}

func (sv *SequenceValidator) Gaps(source string) int64 {
	return sv.gaps[source]
}

func (sv *SequenceValidator) OutOfOrder(source string) int64 {
	return sv.outOfOrder[source]
}
