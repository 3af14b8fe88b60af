package pipeline

import (
	"fmt"
	"strings"

	"github.com/healthguard-ai/platform/pkg/common/models"
)

// ValidationError rejects a malformed submission before it reaches the
// rule engine. Validation failures are surfaced to the caller and are
// not audited as clinical events.
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed on %s: %s", e.Field, e.Message)
}

var signalKinds = map[string]bool{
	models.SignalVital:       true,
	models.SignalSymptomText: true,
	models.SignalVoice:       true,
	models.SignalImage:       true,
}

func validateSignal(req *models.SubmitSignalRequest) *ValidationError {
	if strings.TrimSpace(req.PatientID) == "" {
		return &ValidationError{Field: "patient_id", Message: "patient_id is required"}
	}
	if !signalKinds[req.Kind] {
		return &ValidationError{Field: "kind", Message: fmt.Sprintf("unknown signal kind %q", req.Kind)}
	}
	switch req.Kind {
	case models.SignalVital:
		if strings.TrimSpace(req.Metric) == "" {
			return &ValidationError{Field: "metric", Message: "vital readings require a metric"}
		}
		if req.Value < 0 {
			return &ValidationError{Field: "value", Message: "vital readings cannot be negative"}
		}
	default:
		if strings.TrimSpace(req.Text) == "" {
			return &ValidationError{Field: "text", Message: "text signals require a non-empty text"}
		}
	}
	return nil
}

func validatePatient(p *models.Patient) *ValidationError {
	if strings.TrimSpace(p.Name) == "" {
		return &ValidationError{Field: "name", Message: "name is required"}
	}
	return nil
}
