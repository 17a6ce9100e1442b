// internal/storage/models/rate.go
package models

import "time"

// RateSample stores a protocol's rates for an asset at poll time.
type RateSample struct {
	BaseModel
	Asset              string    `gorm:"index:idx_rate_asset_time,priority:1;not null;type:varchar(32)"`
	Protocol           string    `gorm:"not null;type:varchar(32)"`
	SupplyRate         string    `gorm:"not null;type:varchar(80)"`
	BorrowRate         string    `gorm:"not null;type:varchar(80)"`
	Utilization        string    `gorm:"type:varchar(80)"`
	AvailableLiquidity string    `gorm:"type:varchar(80)"`
	SampledAt          time.Time `gorm:"index:idx_rate_asset_time,priority:2;not null"`
}
