// internal/storage/models/transaction.go
package models

import "time"

// Transaction — подтверждённая операция. Integers are stored as decimal
// strings; native amounts and RAY rates overflow int64.
type Transaction struct {
	BaseModel
	TxID          string    `gorm:"uniqueIndex;not null;type:varchar(36)"`
	Kind          string    `gorm:"index:idx_provenance,priority:3;not null;type:varchar(16)"`
	Protocol      string    `gorm:"not null;type:varchar(32)"`
	Asset         string    `gorm:"index:idx_provenance,priority:2;not null;type:varchar(32)"`
	Amount        string    `gorm:"not null;type:varchar(80)"`
	UserAddress   string    `gorm:"index:idx_provenance,priority:1;not null;type:varchar(42)"`
	TxRef         string    `gorm:"not null;type:varchar(66)"`
	ResourceCost  string    `gorm:"type:varchar(80)"`
	EffectiveRate string    `gorm:"type:varchar(80)"`
	ExecutedAt    time.Time `gorm:"index;not null"`
}
