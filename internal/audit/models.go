package audit

import "time"

// Entry is the persisted form of a relay Event.
type Entry struct {
	ID           uint64    `gorm:"primaryKey;autoIncrement" json:"id"`
	EventID      string    `gorm:"type:varchar(36);uniqueIndex;not null" json:"event_id"`
	Subject      string    `gorm:"type:varchar(255);index;not null" json:"subject"`
	SessionID    string    `gorm:"type:varchar(64);index;not null" json:"session_id"`
	Outcome      string    `gorm:"type:varchar(16);index;not null" json:"outcome"`
	BytesRelayed int64     `gorm:"not null" json:"bytes_relayed"`
	DurationMs   int64     `gorm:"not null" json:"duration_ms"`
	OccurredAt   time.Time `gorm:"index;not null" json:"occurred_at"`
	CreatedAt    time.Time `json:"created_at"`
}

func (Entry) TableName() string { return "relay_audit_entries" }
