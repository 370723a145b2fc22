package document

import (
	"encoding/json"
	"errors"
	"fmt"
)

// StartingSequenceNumber is the sequencing state of a document with no
// committed history. Callers pass it into InitialSequenceState explicitly
// so tests can substitute their own starting point.
const StartingSequenceNumber int64 = 0

// AttributesPath is where a commit's tree records the document's
// sequencing state at that commit.
const AttributesPath = ".attributes"

// ErrCorruptHistory indicates a document has a head commit whose
// attributes are missing or unparseable. Sequencing state must never be
// defaulted in that case; the stored values are authoritative.
var ErrCorruptHistory = errors.New("corrupt document history")

// SequenceState is a document's sequencing snapshot: the highest operation
// sequence number reflected in its state, and the low-water mark below
// which history may be collapsed.
type SequenceState struct {
	SequenceNumber        int64
	MinimumSequenceNumber int64
}

// InitialSequenceState is the sequencing state for a document with no
// history: both numbers equal start.
func InitialSequenceState(start int64) SequenceState {
	return SequenceState{
		SequenceNumber:        start,
		MinimumSequenceNumber: start,
	}
}

// documentAttributes is the attributes blob schema. Pointer fields
// distinguish absent fields from explicit zeros.
type documentAttributes struct {
	SequenceNumber        *int64 `json:"sequenceNumber"`
	MinimumSequenceNumber *int64 `json:"minimumSequenceNumber"`
}

// ParseSequenceState decodes an attributes blob. The stored values are
// returned verbatim, with no recomputation or clamping. A blob that does
// not decode, or that lacks either sequencing field, is ErrCorruptHistory.
func ParseSequenceState(data []byte) (SequenceState, error) {
	var attrs documentAttributes
	if err := json.Unmarshal(data, &attrs); err != nil {
		return SequenceState{}, fmt.Errorf("%w: decoding attributes: %v", ErrCorruptHistory, err)
	}
	if attrs.SequenceNumber == nil || attrs.MinimumSequenceNumber == nil {
		return SequenceState{}, fmt.Errorf("%w: attributes missing sequencing fields", ErrCorruptHistory)
	}
	return SequenceState{
		SequenceNumber:        *attrs.SequenceNumber,
		MinimumSequenceNumber: *attrs.MinimumSequenceNumber,
	}, nil
}
