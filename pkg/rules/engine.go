package rules

import (
	"fmt"
	"strings"

	"github.com/healthguard-ai/platform/pkg/common/models"
)

const (
	ReasonNormal       = "All vitals within normal range"
	ReasonUnrecognized = "unrecognized metric"

	// painTrendDepth is how many recent pain readings (including the
	// current one) must be strictly increasing before an otherwise
	// unremarkable reading escalates to warning.
	painTrendDepth = 3
)

// Result is the outcome of one deterministic evaluation pass.
type Result struct {
	Severity  int
	Rule      string
	Metric    string
	Value     float64
	Threshold float64
	Reason    string
}

// Engine maps a typed signal to a severity verdict using the fixed
// threshold table. Evaluate is a pure function: no I/O, and history is
// consulted only for trend rules.
type Engine struct {
	thresholds []Threshold
	known      map[string]struct{}
}

func NewEngine(cfg ThresholdConfig) *Engine {
	known := make(map[string]struct{})
	var active []Threshold
	for _, th := range cfg.Thresholds {
		if !th.Enabled {
			continue
		}
		active = append(active, th)
		known[strings.ToLower(th.Metric)] = struct{}{}
	}
	return &Engine{thresholds: active, known: known}
}

// Evaluate runs the signal through the threshold table in priority
// order; the first matching row wins. Unknown metrics evaluate to info
// rather than erroring, so a bad submission never blocks the pipeline.
func (e *Engine) Evaluate(sig models.Signal, history []models.Signal) Result {
	if sig.Kind != models.SignalVital {
		return Result{Severity: models.SeverityInfo, Reason: "non-vital signal, deferred to summarization"}
	}

	metric := strings.ToLower(strings.TrimSpace(sig.Metric))
	if _, ok := e.known[metric]; !ok {
		return Result{Severity: models.SeverityInfo, Metric: sig.Metric, Value: sig.Value, Reason: ReasonUnrecognized}
	}

	for _, th := range e.thresholds {
		if th.Metric != metric {
			continue
		}
		if !matches(th.Op, sig.Value, th.Value) {
			continue
		}
		return Result{
			Severity:  th.Severity,
			Rule:      th.Name,
			Metric:    metric,
			Value:     sig.Value,
			Threshold: th.Value,
			Reason:    formatReason(th, sig.Value),
		}
	}

	if r, ok := e.painTrend(sig, metric, history); ok {
		return r
	}

	return Result{Severity: models.SeverityInfo, Metric: metric, Value: sig.Value, Reason: ReasonNormal}
}

// painTrend escalates info to warning when the most recent pain
// readings are strictly increasing.
func (e *Engine) painTrend(sig models.Signal, metric string, history []models.Signal) (Result, bool) {
	if metric != "pain_level" {
		return Result{}, false
	}

	value := sig.Value
	recent := []float64{value}
	for _, h := range history {
		if h.Kind != models.SignalVital || strings.ToLower(h.Metric) != "pain_level" {
			continue
		}
		// history may already contain the signal under evaluation
		if h.ID != "" && h.ID == sig.ID {
			continue
		}
		recent = append(recent, h.Value)
		if len(recent) == painTrendDepth {
			break
		}
	}
	if len(recent) < painTrendDepth {
		return Result{}, false
	}

	// recent is newest-first; escalation means each older reading is
	// strictly below the one that followed it.
	for i := 0; i < len(recent)-1; i++ {
		if recent[i] <= recent[i+1] {
			return Result{}, false
		}
	}

	return Result{
		Severity: models.SeverityWarning,
		Rule:     "pain_trend_escalation",
		Metric:   metric,
		Value:    value,
		Reason:   fmt.Sprintf("WARNING: Pain level rising across last %d readings, now %g/10.", painTrendDepth, value),
	}, true
}

func matches(op string, value, threshold float64) bool {
	switch op {
	case "gte":
		return value >= threshold
	case "lte":
		return value <= threshold
	default:
		return false
	}
}

func formatReason(th Threshold, value float64) string {
	level := "WARNING"
	if th.Severity == models.SeverityCritical {
		level = "CRITICAL"
	}
	symbol := ">="
	if th.Op == "lte" {
		symbol = "<="
	}
	return fmt.Sprintf("%s: %s %g %s %s %g. %s.", level, th.Label, value, th.Unit, symbol, th.Value, th.Note)
}
