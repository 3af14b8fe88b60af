package audit

import (
	"time"

	"github.com/healthguard-ai/platform/pkg/common/models"
	"gorm.io/datatypes"
)

// Record types.
const (
	TypeInfoLogged         = "info_logged"
	TypeDelivery           = "delivery"
	TypeDeduplicated       = "deduplicated"
	TypeCycleError         = "cycle_error"
	TypeMediaDestroyed     = "media_destroyed"
	TypeRetentionViolation = "retention_violation"
	TypeDegradedFusion     = "degraded_fusion"
	TypePatientCreated     = "patient_created"
)

// GenesisHash links the first record of the chain.
const GenesisHash = "genesis"

type Row struct {
	Sequence   int64             `json:"sequence" gorm:"primaryKey;autoIncrement:false;column:sequence"`
	ActionID   string            `json:"action_id" gorm:"column:action_id"`
	RecordType string            `json:"record_type" gorm:"column:record_type;index"`
	PatientRef string            `json:"patient_ref" gorm:"column:patient_ref;index"`
	Payload    datatypes.JSONMap `json:"payload" gorm:"column:payload"`
	PrevHash   string            `json:"prev_hash" gorm:"column:prev_hash"`
	Hash       string            `json:"hash" gorm:"column:hash"`
	CreatedAt  time.Time         `json:"created_at" gorm:"column:created_at"`
}

func (Row) TableName() string {
	return "audit_records"
}

func (r Row) toModel() models.AuditRecord {
	return models.AuditRecord{
		Sequence:   r.Sequence,
		ActionID:   r.ActionID,
		RecordType: r.RecordType,
		PatientRef: r.PatientRef,
		Payload:    map[string]interface{}(r.Payload),
		PrevHash:   r.PrevHash,
		Hash:       r.Hash,
		CreatedAt:  r.CreatedAt,
	}
}

// Filter narrows audit reads. Zero values mean no restriction; results
// are always returned in ascending sequence order.
type Filter struct {
	RecordType string
	PatientRef string
	AfterSeq   int64
	Since      time.Time
	Limit      int
}
