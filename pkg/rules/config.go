package rules

import (
	"errors"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Threshold is one row of the clinical threshold table. Rows are
// evaluated in order; the first match wins.
type Threshold struct {
	Name     string  `yaml:"name" json:"name"`
	Metric   string  `yaml:"metric" json:"metric"`
	Label    string  `yaml:"label" json:"label"`
	Unit     string  `yaml:"unit" json:"unit"`
	Op       string  `yaml:"op" json:"op"` // gte, lte (boundary values inclusive)
	Value    float64 `yaml:"value" json:"value"`
	Severity int     `yaml:"severity" json:"severity"`
	Note     string  `yaml:"note" json:"note"`
	Enabled  bool    `yaml:"enabled" json:"enabled"`
}

type ThresholdConfig struct {
	Thresholds []Threshold `yaml:"thresholds" json:"thresholds"`
}

func LoadThresholds(path string) (ThresholdConfig, error) {
	if path == "" {
		return DefaultThresholds(), nil
	}
	content, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return DefaultThresholds(), err
	}

	var cfg ThresholdConfig
	if err := yaml.Unmarshal(content, &cfg); err != nil {
		return ThresholdConfig{}, err
	}

	if len(cfg.Thresholds) == 0 {
		return ThresholdConfig{}, errors.New("no thresholds configured")
	}

	return cfg, nil
}

// DefaultThresholds returns the built-in clinical threshold table.
// Critical rows come before warning rows so an exact boundary value
// (e.g. systolic BP 180) resolves critical, not warning.
func DefaultThresholds() ThresholdConfig {
	return ThresholdConfig{Thresholds: []Threshold{
		// Critical
		{Name: "bp_systolic_high_critical", Metric: "bp_systolic", Label: "Systolic BP", Unit: "mmHg", Op: "gte", Value: 180, Severity: 1, Note: "Hypertensive crisis", Enabled: true},
		{Name: "glucose_low_critical", Metric: "glucose", Label: "Blood glucose", Unit: "mg/dL", Op: "lte", Value: 50, Severity: 1, Note: "Severe hypoglycemia", Enabled: true},
		{Name: "pain_critical", Metric: "pain_level", Label: "Pain level", Unit: "/10", Op: "gte", Value: 9, Severity: 1, Note: "Severe pain", Enabled: true},
		{Name: "spo2_low_critical", Metric: "oxygen_saturation", Label: "SpO2", Unit: "%", Op: "lte", Value: 90, Severity: 1, Note: "Severe hypoxia", Enabled: true},
		{Name: "heart_rate_high_critical", Metric: "heart_rate", Label: "Heart rate", Unit: "bpm", Op: "gte", Value: 150, Severity: 1, Note: "Tachycardia", Enabled: true},
		{Name: "heart_rate_low_critical", Metric: "heart_rate", Label: "Heart rate", Unit: "bpm", Op: "lte", Value: 40, Severity: 1, Note: "Bradycardia", Enabled: true},
		{Name: "bp_systolic_low_critical", Metric: "bp_systolic", Label: "Systolic BP", Unit: "mmHg", Op: "lte", Value: 80, Severity: 1, Note: "Hypotension", Enabled: true},
		{Name: "bp_diastolic_high_critical", Metric: "bp_diastolic", Label: "Diastolic BP", Unit: "mmHg", Op: "gte", Value: 120, Severity: 1, Note: "Hypertensive crisis", Enabled: true},
		{Name: "glucose_high_critical", Metric: "glucose", Label: "Blood glucose", Unit: "mg/dL", Op: "gte", Value: 400, Severity: 1, Note: "Diabetic emergency", Enabled: true},
		{Name: "temperature_high_critical", Metric: "temperature", Label: "Temperature", Unit: "F", Op: "gte", Value: 104, Severity: 1, Note: "High fever", Enabled: true},
		{Name: "temperature_low_critical", Metric: "temperature", Label: "Temperature", Unit: "F", Op: "lte", Value: 95, Severity: 1, Note: "Hypothermia", Enabled: true},
		{Name: "bp_diastolic_low_critical", Metric: "bp_diastolic", Label: "Diastolic BP", Unit: "mmHg", Op: "lte", Value: 50, Severity: 1, Note: "Hypotension", Enabled: true},
		// Warning
		{Name: "glucose_low_warning", Metric: "glucose", Label: "Blood glucose", Unit: "mg/dL", Op: "lte", Value: 70, Severity: 2, Note: "Low glucose", Enabled: true},
		{Name: "spo2_low_warning", Metric: "oxygen_saturation", Label: "SpO2", Unit: "%", Op: "lte", Value: 94, Severity: 2, Note: "Low oxygen", Enabled: true},
		{Name: "bp_systolic_high_warning", Metric: "bp_systolic", Label: "Systolic BP", Unit: "mmHg", Op: "gte", Value: 150, Severity: 2, Note: "Elevated", Enabled: true},
		{Name: "bp_diastolic_high_warning", Metric: "bp_diastolic", Label: "Diastolic BP", Unit: "mmHg", Op: "gte", Value: 100, Severity: 2, Note: "Elevated", Enabled: true},
		{Name: "glucose_high_warning", Metric: "glucose", Label: "Blood glucose", Unit: "mg/dL", Op: "gte", Value: 250, Severity: 2, Note: "Hyperglycemia", Enabled: true},
		{Name: "heart_rate_high_warning", Metric: "heart_rate", Label: "Heart rate", Unit: "bpm", Op: "gte", Value: 120, Severity: 2, Note: "Elevated heart rate", Enabled: true},
		{Name: "temperature_high_warning", Metric: "temperature", Label: "Temperature", Unit: "F", Op: "gte", Value: 101.5, Severity: 2, Note: "Fever", Enabled: true},
		{Name: "pain_warning", Metric: "pain_level", Label: "Pain level", Unit: "/10", Op: "gte", Value: 7, Severity: 2, Note: "Significant pain", Enabled: true},
		{Name: "heart_rate_low_warning", Metric: "heart_rate", Label: "Heart rate", Unit: "bpm", Op: "lte", Value: 50, Severity: 2, Note: "Low heart rate", Enabled: true},
		{Name: "temperature_low_warning", Metric: "temperature", Label: "Temperature", Unit: "F", Op: "lte", Value: 96.5, Severity: 2, Note: "Low temperature", Enabled: true},
	}}
}
