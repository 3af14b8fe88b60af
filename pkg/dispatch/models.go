package dispatch

import (
	"time"

	"gorm.io/datatypes"
)

type AlertRecord struct {
	ID        string            `json:"id" gorm:"primaryKey;column:id"`
	PatientID string            `json:"patient_id" gorm:"column:patient_id;index"`
	Severity  int               `json:"severity" gorm:"column:severity;index"`
	Reason    string            `json:"reason" gorm:"column:reason"`
	Rule      string            `json:"rule" gorm:"column:rule"`
	DedupKey  string            `json:"dedup_key" gorm:"column:dedup_key"`
	Actions   datatypes.JSON    `json:"actions" gorm:"column:actions"`
	Failures  datatypes.JSONMap `json:"failures" gorm:"column:failures"`
	CreatedAt time.Time         `json:"created_at" gorm:"column:created_at;index"`
}

func (AlertRecord) TableName() string {
	return "alerts"
}
