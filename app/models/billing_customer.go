package models

import "time"

// BillingCustomer stores the provider-side billing identity for a user. For
// gateways without a customer object the CustomerID is synthesized locally.
// At most one row per (user, gateway); a user may have one per gateway.
type BillingCustomer struct {
	ID           uint      `gorm:"primaryKey" json:"id"`
	UserID       uint      `gorm:"not null;index:ux_billing_customers_user_gateway,unique,priority:1" json:"user_id"`
	Gateway      string    `gorm:"type:varchar(20);not null;index:ux_billing_customers_user_gateway,unique,priority:2;index:ux_billing_customers_gateway_customer,unique,priority:1" json:"gateway"`
	CustomerID   string    `gorm:"type:varchar(191);not null;index:ux_billing_customers_gateway_customer,unique,priority:2" json:"customer_id"`
	Email        string    `gorm:"type:varchar(200);not null;index" json:"email"`
	Name         string    `gorm:"type:varchar(200);default:''" json:"name"`
	MetadataJSON string    `gorm:"type:text" json:"metadata_json"`
	CreatedAt    time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt    time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}
