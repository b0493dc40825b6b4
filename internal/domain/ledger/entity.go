// internal/domain/ledger/entity.go
package ledger

import "time"

// EventStatus represents the processing state of a gateway event
type EventStatus string

const (
	EventStatusProcessing EventStatus = "processing"
	EventStatusProcessed  EventStatus = "processed"
	EventStatusError      EventStatus = "error"
)

// maxErrorDetail bounds the stored failure detail
const maxErrorDetail = 2000

// WebhookEvent is one gateway event, keyed by the gateway's event id
type WebhookEvent struct {
	EventID     string      `gorm:"primaryKey;size:255" json:"event_id"`
	Type        string      `gorm:"not null;size:128;index" json:"type"`
	Status      EventStatus `gorm:"not null;size:32;index" json:"status"`
	ErrorDetail string      `gorm:"type:text" json:"error_detail,omitempty"`
	Attempts    int         `gorm:"not null" json:"attempts"`
	Outcome     string      `gorm:"size:32" json:"outcome,omitempty"`
	ProcessedAt *time.Time  `json:"processed_at,omitempty"`
	CreatedAt   time.Time   `json:"created_at"`
	UpdatedAt   time.Time   `json:"updated_at"`
}

// TableName overrides
func (WebhookEvent) TableName() string { return "webhook_events" }
