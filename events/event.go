// Package events carries alarms and status changes between agents and out to operators.
package events

import (
	"fmt"
	"time"

	"github.com/supragya/NomadConnector/types"
)

// Event types published on the bus.
const (
	TypeCommitmentSigned    = "commitment.signed"
	TypeCommitmentSubmitted = "commitment.submitted"
	TypeCommitmentConfirmed = "commitment.confirmed"
	TypeSignerMismatch      = "signer.mismatch"
	TypeFraudDetected       = "fraud.detected"
	TypeFraudReset          = "fraud.reset"
	TypeFraudProofSubmitted = "fraud.proof_submitted"
	TypeProofMismatch       = "proof.mismatch"
	TypeMessageStatus       = "message.status"
	TypeExecutionReverted   = "execution.reverted"
	TypeExecutionAbandoned  = "execution.abandoned"
	TypeAgentFailed         = "agent.failed"
)

// Keys events are indexed under for subscription queries.
const (
	TypeKey     = "alarm.type"
	SeverityKey = "alarm.severity"
	PairKey     = "alarm.pair"
	AlarmKey    = "alarm.raised"
)

type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

var severities = map[string]Severity{
	TypeSignerMismatch:     SeverityWarning,
	TypeProofMismatch:      SeverityWarning,
	TypeExecutionReverted:  SeverityWarning,
	TypeExecutionAbandoned: SeverityCritical,
	TypeFraudDetected:      SeverityCritical,
	TypeFraudReset:         SeverityWarning,
	TypeAgentFailed:        SeverityCritical,
}

// SeverityOf returns the default severity of an event type.
func SeverityOf(eventType string) Severity {
	if s, ok := severities[eventType]; ok {
		return s
	}
	return SeverityInfo
}

type Event struct {
	ID       string            `json:"id"`
	Type     string            `json:"type"`
	Severity Severity          `json:"severity"`
	Time     time.Time         `json:"time"`
	Agent    string            `json:"agent,omitempty"`
	Home     uint32            `json:"home"`
	Replica  uint32            `json:"replica,omitempty"`
	Index    *uint32           `json:"index,omitempty"`
	Message  string            `json:"message"`
	Error    string            `json:"error,omitempty"`
	Data     map[string]string `json:"data,omitempty"`
}

// IsAlarm reports whether operators need to look at the event.
func (e Event) IsAlarm() bool {
	return e.Severity == SeverityWarning || e.Severity == SeverityCritical
}

func (e Event) Pair() types.Pair {
	return types.Pair{Home: e.Home, Replica: e.Replica}
}

func (e Event) String() string {
	return fmt.Sprintf("[%s] %s %s: %s", e.Severity, e.Type, e.Pair(), e.Message)
}

// Builder assembles an Event.
type Builder struct {
	event Event
}

func New(eventType string) *Builder {
	return &Builder{event: Event{Type: eventType, Severity: SeverityOf(eventType)}}
}

func (b *Builder) Agent(agent string) *Builder {
	b.event.Agent = agent
	return b
}

func (b *Builder) Pair(p types.Pair) *Builder {
	b.event.Home = p.Home
	b.event.Replica = p.Replica
	return b
}

func (b *Builder) Home(domain uint32) *Builder {
	b.event.Home = domain
	return b
}

func (b *Builder) Index(index uint32) *Builder {
	b.event.Index = &index
	return b
}

func (b *Builder) Message(format string, args ...interface{}) *Builder {
	b.event.Message = fmt.Sprintf(format, args...)
	return b
}

func (b *Builder) Err(err error) *Builder {
	if err != nil {
		b.event.Error = err.Error()
	}
	return b
}

func (b *Builder) With(key, value string) *Builder {
	if b.event.Data == nil {
		b.event.Data = make(map[string]string)
	}
	b.event.Data[key] = value
	return b
}

func (b *Builder) Build() Event {
	return b.event
}
