// Package fusion combines a deterministic rule verdict with an external
// anomaly score. The combinator is a min over the severity order, so a
// rule-triggered severity can be escalated by the external score but
// never downgraded.
package fusion

import (
	"fmt"
	"time"

	"github.com/healthguard-ai/platform/pkg/common/models"
	"github.com/healthguard-ai/platform/pkg/rules"
)

const (
	// Scores above EscalationScore escalate to at least warning.
	EscalationScore = 0.7
	// Scores above NotableScore are attached as context without
	// changing severity.
	NotableScore = 0.4

	// severityNone sorts after every real severity in the min
	// combinator.
	severityNone = 99
)

const (
	SourceRules    = "rule_engine"
	SourceRulesAI  = "rule_engine+ai"
	SourceAI       = "ai_engine"
	SourceDegraded = "rule_engine_degraded"
)

// UrgencyEmergency is the summary urgency that escalates on its own,
// even when the anomaly score stays low.
const UrgencyEmergency = "emergency"

// anomalySeverity maps the external summary onto the severity order. A
// score above EscalationScore or an explicit emergency urgency
// escalates to at least warning. Anything at or below NotableScore has
// no severity of its own.
func anomalySeverity(summary models.Summary) int {
	if summary.AnomalyScore > EscalationScore || summary.Urgency == UrgencyEmergency {
		return models.SeverityWarning
	}
	return severityNone
}

// Fuse merges the rule result with the external summary into the final
// verdict. Degraded means the external call failed or timed out; the
// rule verdict then stands alone and the verdict is flagged so the
// audit trail shows the external context was missing.
func Fuse(patientID string, rule rules.Result, summary models.Summary, degraded bool) models.Verdict {
	verdict := models.Verdict{
		PatientID:    patientID,
		Severity:     rule.Severity,
		Reason:       rule.Reason,
		Rule:         rule.Rule,
		Metric:       rule.Metric,
		Value:        rule.Value,
		Source:       SourceRules,
		AnomalyScore: summary.AnomalyScore,
		Summary:      summary.Assessment,
		Degraded:     degraded,
		EvaluatedAt:  time.Now().UTC(),
	}

	if degraded {
		verdict.Source = SourceDegraded
		verdict.AnomalyScore = 0
		verdict.Summary = ""
		return verdict
	}

	if sev := anomalySeverity(summary); sev < verdict.Severity {
		verdict.Severity = sev
		verdict.Source = SourceAI
		switch {
		case summary.Assessment != "":
			verdict.Reason = summary.Assessment
		case summary.Urgency == UrgencyEmergency:
			verdict.Reason = "External assessment reported emergency urgency"
		default:
			verdict.Reason = fmt.Sprintf("Anomaly pattern detected (score %.2f)", summary.AnomalyScore)
		}
		return verdict
	}

	if summary.AnomalyScore > NotableScore {
		if rule.Severity < models.SeverityInfo {
			verdict.Source = SourceRulesAI
			verdict.Reason = fmt.Sprintf("%s (anomaly score: %.2f)", rule.Reason, summary.AnomalyScore)
		} else {
			verdict.Source = SourceAI
			if summary.Assessment != "" {
				verdict.Reason = summary.Assessment
			}
		}
	}

	return verdict
}
