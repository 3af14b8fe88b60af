package audit

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"
)

// chainInput is the canonical serialization hashed for each record.
// json.Marshal sorts map keys, so the payload encoding is stable.
// Timestamps are hashed at microsecond precision, the finest Postgres
// persists, so a stored row re-hashes to the same value.
type chainInput struct {
	Sequence   int64                  `json:"sequence"`
	ActionID   string                 `json:"action_id"`
	RecordType string                 `json:"record_type"`
	PatientRef string                 `json:"patient_ref"`
	Payload    map[string]interface{} `json:"payload"`
	CreatedAt  string                 `json:"created_at"`
	PrevHash   string                 `json:"prev_hash"`
}

func computeHash(seq int64, actionID, recordType, patientRef string, payload map[string]interface{}, createdAt time.Time, prevHash string) (string, error) {
	input := chainInput{
		Sequence:   seq,
		ActionID:   actionID,
		RecordType: recordType,
		PatientRef: patientRef,
		Payload:    payload,
		CreatedAt:  createdAt.UTC().Truncate(time.Microsecond).Format(time.RFC3339Nano),
		PrevHash:   prevHash,
	}
	raw, err := json.Marshal(input)
	if err != nil {
		return "", fmt.Errorf("serializing chain input: %w", err)
	}
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:]), nil
}
