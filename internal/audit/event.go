package audit

import "time"

// Relay outcomes recorded per chat call.
const (
	OutcomeCompleted = "completed"
	OutcomeAborted   = "aborted"
)

// Event is one relayed chat call, published to the broker by the gateway and
// persisted by the worker.
type Event struct {
	EventID      string    `json:"event_id"`
	Subject      string    `json:"subject"`
	SessionID    string    `json:"session_id"`
	Outcome      string    `json:"outcome"`
	BytesRelayed int64     `json:"bytes_relayed"`
	DurationMs   int64     `json:"duration_ms"`
	OccurredAt   time.Time `json:"occurred_at"`
}
