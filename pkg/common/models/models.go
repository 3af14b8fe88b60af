package models

import (
	"time"
)

// Severity tiers. Lower value means more urgent.
const (
	SeverityCritical = 1
	SeverityWarning  = 2
	SeverityInfo     = 3
)

// Signal kinds.
const (
	SignalVital       = "vital"
	SignalSymptomText = "symptom_text"
	SignalVoice       = "transcribed_voice"
	SignalImage       = "image_finding"
)

// Delivery actions.
const (
	ActionTelegram     = "telegram_alert"
	ActionTTS          = "tts_alert"
	ActionDoctorNotify = "doctor_notify"
)

type Patient struct {
	ID        string    `json:"id"`
	Name      string    `json:"name,omitempty"` // display only, never sent to inference
	CreatedAt time.Time `json:"created_at"`
}

type Signal struct {
	ID         string    `json:"id"`
	PatientID  string    `json:"patient_id"`
	Kind       string    `json:"kind"` // vital, symptom_text, transcribed_voice, image_finding
	Metric     string    `json:"metric,omitempty"`
	Value      float64   `json:"value,omitempty"`
	Unit       string    `json:"unit,omitempty"`
	Text       string    `json:"text,omitempty"`
	SessionID  string    `json:"session_id,omitempty"` // ephemeral, rotated per inference call
	CapturedAt time.Time `json:"captured_at"`
}

type SubmitSignalRequest struct {
	PatientID  string    `json:"patient_id"`
	Kind       string    `json:"kind"`
	Metric     string    `json:"metric,omitempty"`
	Value      float64   `json:"value,omitempty"`
	Unit       string    `json:"unit,omitempty"`
	Text       string    `json:"text,omitempty"`
	CapturedAt time.Time `json:"captured_at,omitempty"`
}

// Summary is the structured result returned by the external reasoning
// service. AnomalyScore is normalized to [0,1].
type Summary struct {
	Subjective   string   `json:"subjective,omitempty"`
	Assessment   string   `json:"assessment,omitempty"`
	Urgency      string   `json:"urgency,omitempty"` // routine, urgent, emergency
	PainLevel    *float64 `json:"pain_level,omitempty"`
	AnomalyScore float64  `json:"anomaly_score"`
	Model        string   `json:"model,omitempty"`
}

type Verdict struct {
	PatientID    string    `json:"patient_id"`
	Severity     int       `json:"severity"`
	Reason       string    `json:"reason"`
	Rule         string    `json:"rule,omitempty"` // stable identifier of the triggering threshold
	Metric       string    `json:"metric,omitempty"`
	Value        float64   `json:"value,omitempty"`
	Source       string    `json:"source"` // rule_engine, rule_engine+ai, ai_engine
	AnomalyScore float64   `json:"anomaly_score"`
	Summary      string    `json:"summary,omitempty"`
	Degraded     bool      `json:"degraded"` // external summarization failed or timed out
	EvaluatedAt  time.Time `json:"evaluated_at"`
}

type Alert struct {
	ID        string    `json:"id"`
	PatientID string    `json:"patient_id"`
	Severity  int       `json:"severity"`
	Reason    string    `json:"reason"`
	Rule      string    `json:"rule,omitempty"`
	DedupKey  string    `json:"dedup_key"`
	Actions   []string  `json:"actions"`
	CreatedAt time.Time `json:"created_at"`
}

// Receipt summarizes per-action delivery outcomes for one alert. Exactly
// one receipt is produced per dispatch, even when every action fails.
type Receipt struct {
	AlertID      string            `json:"alert_id,omitempty"`
	PatientID    string            `json:"patient_id"`
	Severity     int               `json:"severity"`
	Deduplicated bool              `json:"deduplicated"`
	ActionsTaken []string          `json:"actions_taken"`
	Failures     map[string]string `json:"failures,omitempty"`
	DeliveredAt  time.Time         `json:"delivered_at"`
}

type AuditRecord struct {
	Sequence   int64                  `json:"sequence"`
	ActionID   string                 `json:"action_id"`
	RecordType string                 `json:"record_type"`
	PatientRef string                 `json:"patient_ref,omitempty"` // truncated, never full identity
	Payload    map[string]interface{} `json:"payload,omitempty"`
	PrevHash   string                 `json:"prev_hash"`
	Hash       string                 `json:"hash"`
	CreatedAt  time.Time              `json:"created_at"`
}

type StatusReport struct {
	PatientsMonitored int        `json:"patients_monitored"`
	LastCycleTime     *time.Time `json:"last_cycle_time,omitempty"`
	CycleCount        int64      `json:"cycle_count"`
	AlertsLast24h     int64      `json:"alerts_last_24h"`
	PendingMedia      int        `json:"pending_media"`
	InferenceCalls    int64      `json:"inference_calls"`
}

// Event Bus models
type Event struct {
	ID        string                 `json:"id"`
	Type      string                 `json:"type"` // signal, alert, audit
	Source    string                 `json:"source"`
	Data      map[string]interface{} `json:"data"`
	Timestamp time.Time              `json:"timestamp"`
	Metadata  map[string]string      `json:"metadata,omitempty"`
}
