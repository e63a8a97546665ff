package models

import "time"

// PlanPriceMapping maps (gateway, plan, billing_cycle) to the provider-side
// price reference or, for gateways billed by raw amount, to minor units.
type PlanPriceMapping struct {
	ID               uint      `gorm:"primaryKey" json:"id"`
	Gateway          string    `gorm:"type:varchar(20);not null;index:ux_plan_price_mappings,unique,priority:1" json:"gateway"`
	Plan             string    `gorm:"type:varchar(32);not null;index:ux_plan_price_mappings,unique,priority:2" json:"plan"`
	BillingCycle     string    `gorm:"type:varchar(16);not null;index:ux_plan_price_mappings,unique,priority:3" json:"billing_cycle"`
	ProviderPriceRef string    `gorm:"type:varchar(191);default:''" json:"provider_price_ref"`
	AmountMinorUnits int64     `gorm:"default:0" json:"amount_minor_units"`
	Currency         string    `gorm:"type:varchar(8);default:'usd'" json:"currency"`
	IsActive         bool      `gorm:"default:true;index" json:"is_active"`
	CreatedAt        time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt        time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}
