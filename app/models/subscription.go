package models

import "time"

// Gateway identifiers used across billing models.
const (
	GatewayStripe       = "stripe"
	GatewayLemonSqueezy = "lemonsqueezy"
	GatewayPaymob       = "paymob"
	GatewayFawry        = "fawry"
)

const (
	BillingCycleMonthly = "monthly"
	BillingCycleYearly  = "yearly"
)

// Canonical subscription statuses. Every provider-native status is mapped onto
// this set before it touches storage.
const (
	SubscriptionStatusActive            = "active"
	SubscriptionStatusTrialing          = "trialing"
	SubscriptionStatusPastDue           = "past_due"
	SubscriptionStatusPaused            = "paused"
	SubscriptionStatusCanceled          = "canceled"
	SubscriptionStatusIncomplete        = "incomplete"
	SubscriptionStatusIncompleteExpired = "incomplete_expired"
)

// Subscription mirrors one user's billing relationship with one gateway.
// Mutated only by the webhook processor or an explicit cancel call; history is
// kept by status changes, rows are never deleted.
type Subscription struct {
	ID                   uint       `gorm:"primaryKey" json:"id"`
	UserID               uint       `gorm:"not null;index" json:"user_id"`
	Gateway              string     `gorm:"type:varchar(20);not null;index:ux_subscriptions_gateway_txn,unique,priority:1" json:"gateway"`
	GatewayTransactionID string     `gorm:"type:varchar(191);not null;index:ux_subscriptions_gateway_txn,unique,priority:2" json:"gateway_transaction_id"`
	Plan                 string     `gorm:"type:varchar(32);not null;default:'free';index" json:"plan"`
	BillingCycle         string     `gorm:"type:varchar(16);not null;default:'monthly'" json:"billing_cycle"`
	Status               string     `gorm:"type:varchar(32);not null;default:'incomplete';index" json:"status"`
	CurrentPeriodStart   *time.Time `gorm:"type:timestamp;default:null" json:"current_period_start,omitempty"`
	CurrentPeriodEnd     *time.Time `gorm:"type:timestamp;default:null" json:"current_period_end,omitempty"`
	CancelAtPeriodEnd    bool       `gorm:"default:false" json:"cancel_at_period_end"`
	RawPayloadJSON       string     `gorm:"type:longtext" json:"raw_payload_json"`
	CreatedAt            time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt            time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

// IsEntitling reports whether this subscription grants paid entitlements.
func (s *Subscription) IsEntitling() bool {
	switch s.Status {
	case SubscriptionStatusActive, SubscriptionStatusTrialing:
		return true
	default:
		return false
	}
}
