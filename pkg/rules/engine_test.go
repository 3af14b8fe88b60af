package rules

import (
	"testing"

	"github.com/healthguard-ai/platform/pkg/common/models"
)

func vital(metric string, value float64) models.Signal {
	return models.Signal{Kind: models.SignalVital, Metric: metric, Value: value}
}

func TestCriticalThresholds(t *testing.T) {
	engine := NewEngine(DefaultThresholds())

	cases := []struct {
		metric string
		value  float64
	}{
		{"bp_systolic", 180},
		{"bp_systolic", 195},
		{"glucose", 50},
		{"glucose", 32},
		{"pain_level", 9},
		{"oxygen_saturation", 90},
		{"oxygen_saturation", 84},
		{"heart_rate", 150},
		{"heart_rate", 40},
		{"bp_diastolic", 45},
	}

	for _, tc := range cases {
		result := engine.Evaluate(vital(tc.metric, tc.value), nil)
		if result.Severity != models.SeverityCritical {
			t.Fatalf("%s=%g: expected severity 1, got %d (%s)", tc.metric, tc.value, result.Severity, result.Reason)
		}
	}
}

func TestWarningBands(t *testing.T) {
	engine := NewEngine(DefaultThresholds())

	cases := []struct {
		metric string
		value  float64
	}{
		{"glucose", 65},
		{"glucose", 70},
		{"oxygen_saturation", 92},
		{"oxygen_saturation", 94},
		{"heart_rate", 48},
		{"temperature", 96},
	}

	for _, tc := range cases {
		result := engine.Evaluate(vital(tc.metric, tc.value), nil)
		if result.Severity != models.SeverityWarning {
			t.Fatalf("%s=%g: expected severity 2, got %d (%s)", tc.metric, tc.value, result.Severity, result.Reason)
		}
	}
}

func TestBoundaryResolvesCritical(t *testing.T) {
	engine := NewEngine(DefaultThresholds())

	// glucose 50 sits in both the critical (<=50) and warning (<=70)
	// rows; the critical row has priority.
	result := engine.Evaluate(vital("glucose", 50), nil)
	if result.Severity != models.SeverityCritical {
		t.Fatalf("expected critical at boundary, got %d", result.Severity)
	}
	if result.Rule != "glucose_low_critical" {
		t.Fatalf("unexpected rule %q", result.Rule)
	}
}

func TestNormalVitalIsInfo(t *testing.T) {
	engine := NewEngine(DefaultThresholds())

	result := engine.Evaluate(vital("bp_systolic", 120), nil)
	if result.Severity != models.SeverityInfo {
		t.Fatalf("expected severity 3, got %d", result.Severity)
	}
	if result.Reason != ReasonNormal {
		t.Fatalf("unexpected reason %q", result.Reason)
	}
}

func TestUnknownMetricIsInfoNotError(t *testing.T) {
	engine := NewEngine(DefaultThresholds())

	result := engine.Evaluate(vital("shoe_size", 44), nil)
	if result.Severity != models.SeverityInfo {
		t.Fatalf("expected severity 3, got %d", result.Severity)
	}
	if result.Reason != ReasonUnrecognized {
		t.Fatalf("unexpected reason %q", result.Reason)
	}
}

func TestPainTrendEscalation(t *testing.T) {
	engine := NewEngine(DefaultThresholds())

	history := []models.Signal{ // newest first
		vital("pain_level", 5),
		vital("pain_level", 3),
	}
	result := engine.Evaluate(vital("pain_level", 6), history)
	if result.Severity != models.SeverityWarning {
		t.Fatalf("expected escalation to warning, got %d (%s)", result.Severity, result.Reason)
	}
	if result.Rule != "pain_trend_escalation" {
		t.Fatalf("unexpected rule %q", result.Rule)
	}

	// Flat readings do not escalate.
	flat := []models.Signal{vital("pain_level", 6), vital("pain_level", 6)}
	result = engine.Evaluate(vital("pain_level", 6), flat)
	if result.Severity != models.SeverityInfo {
		t.Fatalf("expected info for flat trend, got %d", result.Severity)
	}
}

func TestPainTrendIgnoresSignalAlreadyInHistory(t *testing.T) {
	engine := NewEngine(DefaultThresholds())

	current := vital("pain_level", 6)
	current.ID = "sig-current"
	stored := []models.Signal{ // history already holds the appended signal
		current,
		vital("pain_level", 5),
		vital("pain_level", 3),
	}
	result := engine.Evaluate(current, stored)
	if result.Rule != "pain_trend_escalation" {
		t.Fatalf("expected trend escalation, got %q (%s)", result.Rule, result.Reason)
	}
}

func TestNonVitalSignalIsInfo(t *testing.T) {
	engine := NewEngine(DefaultThresholds())

	result := engine.Evaluate(models.Signal{Kind: models.SignalSymptomText, Text: "feeling fine"}, nil)
	if result.Severity != models.SeverityInfo {
		t.Fatalf("expected severity 3 for text signal, got %d", result.Severity)
	}
}
