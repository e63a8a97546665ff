package models

import "time"

// Webhook event ledger states. processing -> {processed|failed|skipped} is the
// only legal transition; terminal records are immutable.
const (
	WebhookEventProcessing = "processing"
	WebhookEventProcessed  = "processed"
	WebhookEventFailed     = "failed"
	WebhookEventSkipped    = "skipped"
)

// WebhookEvent is the idempotency ledger entry for one provider event. The
// unique (gateway, event_id) index is what turns provider at-least-once
// delivery into exactly-once application.
type WebhookEvent struct {
	ID              uint       `gorm:"primaryKey" json:"id"`
	Gateway         string     `gorm:"type:varchar(20);not null;index:ux_webhook_events_gateway_event,unique,priority:1;index" json:"gateway"`
	EventID         string     `gorm:"type:varchar(191);not null;index:ux_webhook_events_gateway_event,unique,priority:2" json:"event_id"`
	EventType       string     `gorm:"type:varchar(100);not null;index" json:"event_type"`
	State           string     `gorm:"type:varchar(16);not null;default:'processing';index" json:"state"`
	PayloadSnapshot string     `gorm:"type:text" json:"payload_snapshot"`
	Error           string     `gorm:"type:text" json:"error"`
	CompletedAt     *time.Time `gorm:"type:timestamp;default:null" json:"completed_at,omitempty"`
	CreatedAt       time.Time  `gorm:"autoCreateTime;index" json:"created_at"`
	UpdatedAt       time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

// IsTerminal reports whether the ledger entry reached a final state.
func (e *WebhookEvent) IsTerminal() bool {
	switch e.State {
	case WebhookEventProcessed, WebhookEventFailed, WebhookEventSkipped:
		return true
	default:
		return false
	}
}
