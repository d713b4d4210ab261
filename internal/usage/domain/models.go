// Package domain contains the usage audit models. Usage logs are a
// reporting projection only; they are never read back to compute balance.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

// UsageLog records one metered charge. Append-only, immutable once written.
type UsageLog struct {
	ID        snowflake.ID      `json:"id" gorm:"primaryKey"`
	UserID    string            `json:"user_id" gorm:"not null;index:ix_usage_logs_user_created,priority:1"`
	Operation string            `json:"operation" gorm:"type:text;not null"`
	Units     int64             `json:"units" gorm:"not null"`
	UnitPrice float64           `json:"unit_price" gorm:"not null"`
	TotalCost int64             `json:"total_cost" gorm:"not null"`
	Metadata  datatypes.JSONMap `json:"metadata" gorm:"type:jsonb"`
	CreatedAt time.Time         `json:"created_at" gorm:"not null;index:ix_usage_logs_user_created,priority:2;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (UsageLog) TableName() string { return "usage_logs" }
