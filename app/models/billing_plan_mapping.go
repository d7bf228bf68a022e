package models

import "time"

// BillingPlanMapping maps a provider product reference to an internal plan id.
// Active rows override the catalog defaults at startup.
type BillingPlanMapping struct {
	ID                 uint      `gorm:"primaryKey" json:"id"`
	Provider           string    `gorm:"type:varchar(20);not null;index:ux_billing_plan_mappings_ref,unique,priority:1" json:"provider"`
	ProviderProductRef string    `gorm:"type:varchar(191);not null;index:ux_billing_plan_mappings_ref,unique,priority:2" json:"provider_product_ref"`
	PlanID             string    `gorm:"type:varchar(50);not null;index" json:"plan_id"`
	IsActive           bool      `gorm:"default:true;index" json:"is_active"`
	CreatedAt          time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt          time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}
