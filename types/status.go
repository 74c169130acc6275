package types

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/pkg/errors"
)

// MessageStatus tracks a message on one replica.
type MessageStatus uint8

const (
	StatusPending MessageStatus = iota
	StatusProven
	StatusProcessed
	StatusFailed
)

var statusNames = map[MessageStatus]string{
	StatusPending:   "pending",
	StatusProven:    "proven",
	StatusProcessed: "processed",
	StatusFailed:    "failed",
}

func (s MessageStatus) String() string {
	if name, ok := statusNames[s]; ok {
		return name
	}
	return "unknown"
}

func (s MessageStatus) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

func (s *MessageStatus) UnmarshalText(text []byte) error {
	for status, name := range statusNames {
		if name == string(text) {
			*s = status
			return nil
		}
	}
	return errors.Errorf("unknown message status %q", text)
}

// validTransitions lists the allowed moves of the status machine. Processed is terminal.
var validTransitions = map[MessageStatus][]MessageStatus{
	StatusPending: {StatusProven},
	StatusProven:  {StatusProcessed, StatusFailed},
	StatusFailed:  {StatusProven},
}

func CanTransition(from, to MessageStatus) bool {
	for _, allowed := range validTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// TransitionError is returned for a move the status machine does not allow.
type TransitionError struct {
	Replica uint32
	Index   uint32
	From    MessageStatus
	To      MessageStatus
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("message %d on replica %d: invalid status transition %s -> %s", e.Index, e.Replica, e.From, e.To)
}

// MessageRecord is the persisted status of one message on one replica.
type MessageRecord struct {
	Replica     uint32        `json:"replica"`
	Index       uint32        `json:"index"`
	Leaf        Hash          `json:"leaf"`
	Status      MessageStatus `json:"status"`
	Reason      string        `json:"reason,omitempty"`
	Attempts    int           `json:"attempts"`
	NextAttempt time.Time     `json:"next_attempt,omitempty"`
	UpdatedAt   time.Time     `json:"updated_at"`
	TxHash      *Hash         `json:"tx_hash,omitempty"`
}

// Transition moves the record to the next status, stamping the update time.
func (r *MessageRecord) Transition(to MessageStatus, now time.Time) error {
	if !CanTransition(r.Status, to) {
		return &TransitionError{Replica: r.Replica, Index: r.Index, From: r.Status, To: to}
	}
	r.Status = to
	r.UpdatedAt = now
	if to != StatusFailed {
		r.Reason = ""
	}
	return nil
}

// Due reports whether the message should be handed to the processor at now.
func (r MessageRecord) Due(now time.Time, maxAttempts int) bool {
	switch r.Status {
	case StatusPending, StatusProven:
		return true
	case StatusFailed:
		if maxAttempts > 0 && r.Attempts >= maxAttempts {
			return false
		}
		return !now.Before(r.NextAttempt)
	default:
		return false
	}
}

func (r MessageRecord) Marshal() ([]byte, error) { return json.Marshal(r) }

func UnmarshalMessageRecord(b []byte) (MessageRecord, error) {
	var r MessageRecord
	err := json.Unmarshal(b, &r)
	return r, err
}
