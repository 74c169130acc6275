package types

import "time"

// FraudKind names how the updater misbehaved.
type FraudKind string

const (
	FraudDoubleUpdate   FraudKind = "double_update"
	FraudImproperUpdate FraudKind = "improper_update"
	FraudRootMismatch   FraudKind = "root_mismatch"
)

// FraudRecord is why a pair was halted.
type FraudRecord struct {
	Pair     Pair          `json:"pair"`
	Kind     FraudKind     `json:"kind"`
	Reason   string        `json:"reason"`
	Evidence *DoubleUpdate `json:"evidence,omitempty"`
	Observed *Commitment   `json:"observed,omitempty"`
	SetAt    time.Time     `json:"set_at"`
}
