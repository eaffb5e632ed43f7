package audit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

// Processor turns queued event payloads into stored entries.
type Processor struct {
	repo *Repo
}

func NewProcessor(repo *Repo) *Processor {
	return &Processor{repo: repo}
}

// Disposition tells the consumer what to do with a delivery after processing.
type Disposition int

const (
	// DispositionAck acknowledges and drops the delivery.
	DispositionAck Disposition = iota
	// DispositionRetry schedules the delivery on the retry queue.
	DispositionRetry
	// DispositionDead sends the delivery to the DLQ.
	DispositionDead
)

// Classify maps a Process result onto broker handling. Poison payloads will
// never succeed and dead-letter immediately; anything else is treated as a
// transient store failure and retried.
func Classify(err error) Disposition {
	switch {
	case err == nil:
		return DispositionAck
	case errors.Is(err, ErrPoisonPayload):
		return DispositionDead
	default:
		return DispositionRetry
	}
}

// Process decodes one broker delivery and persists it. A payload that cannot
// decode is poison and should go to the DLQ; the caller distinguishes that
// from transient store failures via Classify.
func (p *Processor) Process(ctx context.Context, payload []byte) error {
	var ev Event
	if err := json.Unmarshal(payload, &ev); err != nil {
		return fmt.Errorf("%w: %v", ErrPoisonPayload, err)
	}
	if ev.EventID == "" {
		return fmt.Errorf("%w: empty event_id", ErrPoisonPayload)
	}

	entry := &Entry{
		EventID:      ev.EventID,
		Subject:      ev.Subject,
		SessionID:    ev.SessionID,
		Outcome:      ev.Outcome,
		BytesRelayed: ev.BytesRelayed,
		DurationMs:   ev.DurationMs,
		OccurredAt:   ev.OccurredAt,
	}
	_, err := p.repo.Insert(ctx, entry)
	return err
}
