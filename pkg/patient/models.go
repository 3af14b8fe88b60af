package patient

import (
	"time"

	"github.com/healthguard-ai/platform/pkg/common/models"
	"gorm.io/datatypes"
)

type PatientRecord struct {
	ID            string     `json:"id" gorm:"primaryKey;column:id"`
	Name          string     `json:"name" gorm:"column:name"`
	CreatedAt     time.Time  `json:"created_at" gorm:"column:created_at"`
	LastEvaluated *time.Time `json:"last_evaluated,omitempty" gorm:"column:last_evaluated"`
}

func (PatientRecord) TableName() string {
	return "patients"
}

type SignalRecord struct {
	ID         string    `json:"id" gorm:"primaryKey;column:id"`
	PatientID  string    `json:"patient_id" gorm:"column:patient_id;index:idx_signals_patient"`
	Kind       string    `json:"kind" gorm:"column:kind"`
	Metric     string    `json:"metric" gorm:"column:metric"`
	Value      float64   `json:"value" gorm:"column:value"`
	Unit       string    `json:"unit" gorm:"column:unit"`
	Text       string    `json:"text" gorm:"column:text"`
	SessionID  string    `json:"session_id" gorm:"column:session_id"`
	CapturedAt time.Time `json:"captured_at" gorm:"column:captured_at;index:idx_signals_patient"`
	CreatedAt  time.Time `json:"created_at" gorm:"column:created_at"`
}

func (SignalRecord) TableName() string {
	return "signals"
}

type VerdictRecord struct {
	ID           string            `json:"id" gorm:"primaryKey;column:id"`
	PatientID    string            `json:"patient_id" gorm:"column:patient_id;index"`
	Severity     int               `json:"severity" gorm:"column:severity"`
	Reason       string            `json:"reason" gorm:"column:reason"`
	Rule         string            `json:"rule" gorm:"column:rule"`
	Source       string            `json:"source" gorm:"column:source"`
	AnomalyScore float64           `json:"anomaly_score" gorm:"column:anomaly_score"`
	Degraded     bool              `json:"degraded" gorm:"column:degraded"`
	Detail       datatypes.JSONMap `json:"detail" gorm:"column:detail"`
	EvaluatedAt  time.Time         `json:"evaluated_at" gorm:"column:evaluated_at;index"`
}

func (VerdictRecord) TableName() string {
	return "verdicts"
}

func toSignalRecord(sig models.Signal) SignalRecord {
	return SignalRecord{
		ID:         sig.ID,
		PatientID:  sig.PatientID,
		Kind:       sig.Kind,
		Metric:     sig.Metric,
		Value:      sig.Value,
		Unit:       sig.Unit,
		Text:       sig.Text,
		SessionID:  sig.SessionID,
		CapturedAt: sig.CapturedAt,
	}
}

func (r SignalRecord) toModel() models.Signal {
	return models.Signal{
		ID:         r.ID,
		PatientID:  r.PatientID,
		Kind:       r.Kind,
		Metric:     r.Metric,
		Value:      r.Value,
		Unit:       r.Unit,
		Text:       r.Text,
		SessionID:  r.SessionID,
		CapturedAt: r.CapturedAt,
	}
}
