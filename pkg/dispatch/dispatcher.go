// Package dispatch turns a verdict into delivery actions and exactly
// one receipt. Actions are attempted independently: a failed channel is
// recorded in the receipt and never blocks the others or the audit
// write.
package dispatch

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/healthguard-ai/platform/pkg/audit"
	"github.com/healthguard-ai/platform/pkg/common/logger"
	"github.com/healthguard-ai/platform/pkg/common/models"
)

// Messenger is the notification transport. *delivery.TelegramClient is
// the production implementation.
type Messenger interface {
	SendMessage(ctx context.Context, text string) error
	SendDoctorMessage(ctx context.Context, text string) error
	SendAudio(ctx context.Context, caption string, audio []byte) error
}

// Speaker synthesizes spoken audio for critical alerts.
type Speaker interface {
	Speak(ctx context.Context, text string) ([]byte, error)
}

// Recorder is the audit sink; the terminal record for every dispatch
// goes through it.
type Recorder interface {
	Append(ctx context.Context, recordType, patientRef string, payload map[string]interface{}) (int64, error)
}

// AlertStore persists created alerts. *Repository is the production
// implementation.
type AlertStore interface {
	Create(ctx context.Context, alert *models.Alert, failures map[string]string) error
}

// Publisher pushes dispatch outcomes onto the event bus. Optional.
type Publisher interface {
	PublishEvent(ctx context.Context, eventType, source string, data map[string]interface{}) error
}

type Dispatcher struct {
	store     AlertStore
	dedup     *DedupGuard
	messenger Messenger
	speaker   Speaker
	recorder  Recorder
	publisher Publisher
}

func NewDispatcher(store AlertStore, dedup *DedupGuard, messenger Messenger, speaker Speaker, recorder Recorder, publisher Publisher) *Dispatcher {
	return &Dispatcher{
		store:     store,
		dedup:     dedup,
		messenger: messenger,
		speaker:   speaker,
		recorder:  recorder,
		publisher: publisher,
	}
}

// Dispatch converts the verdict into zero or more delivery actions and
// produces exactly one receipt. The audit write is the only fatal path:
// if the trail cannot be extended the outcome is untrustworthy and the
// caller must retry the cycle.
func (d *Dispatcher) Dispatch(ctx context.Context, verdict models.Verdict) (*models.Alert, models.Receipt, error) {
	receipt := models.Receipt{
		PatientID:    verdict.PatientID,
		Severity:     verdict.Severity,
		ActionsTaken: []string{},
		Failures:     map[string]string{},
		DeliveredAt:  time.Now().UTC(),
	}

	dedupKey := DedupKey(verdict.PatientID, verdict.Severity, verdict.Rule)
	if !d.dedup.Claim(ctx, dedupKey) {
		receipt.Deduplicated = true
		if _, err := d.recorder.Append(ctx, audit.TypeDeduplicated, verdict.PatientID, map[string]interface{}{
			"severity":  verdict.Severity,
			"rule":      verdict.Rule,
			"dedup_key": dedupKey,
		}); err != nil {
			return nil, receipt, fmt.Errorf("audit write failed: %w", err)
		}
		return nil, receipt, nil
	}

	if verdict.Severity >= models.SeverityInfo {
		if _, err := d.recorder.Append(ctx, audit.TypeInfoLogged, verdict.PatientID, map[string]interface{}{
			"severity":         verdict.Severity,
			"reason":           verdict.Reason,
			"source":           verdict.Source,
			"anomaly_score":    verdict.AnomalyScore,
			"actions_taken":    []string{},
			"delivery_outcome": "logged_only",
		}); err != nil {
			return nil, receipt, fmt.Errorf("audit write failed: %w", err)
		}
		return nil, receipt, nil
	}

	alert := &models.Alert{
		ID:        uuid.New().String(),
		PatientID: verdict.PatientID,
		Severity:  verdict.Severity,
		Reason:    verdict.Reason,
		Rule:      verdict.Rule,
		DedupKey:  dedupKey,
		CreatedAt: time.Now().UTC(),
	}
	receipt.AlertID = alert.ID

	switch verdict.Severity {
	case models.SeverityCritical:
		d.deliverCritical(ctx, verdict, &receipt)
	case models.SeverityWarning:
		d.deliverWarning(ctx, verdict, &receipt)
	}
	alert.Actions = receipt.ActionsTaken

	if err := d.store.Create(ctx, alert, receipt.Failures); err != nil {
		// The alert row is secondary; the audit record below is the
		// authoritative receipt.
		logger.Log.WithError(err).Error("failed to persist alert")
	}

	outcome := "delivered"
	if len(receipt.ActionsTaken) == 0 {
		outcome = "all_actions_failed"
	} else if len(receipt.Failures) > 0 {
		outcome = "partial"
	}

	if _, err := d.recorder.Append(ctx, audit.TypeDelivery, verdict.PatientID, map[string]interface{}{
		"alert_id":         alert.ID,
		"severity":         verdict.Severity,
		"reason":           verdict.Reason,
		"source":           verdict.Source,
		"anomaly_score":    verdict.AnomalyScore,
		"degraded":         verdict.Degraded,
		"actions_taken":    receipt.ActionsTaken,
		"failures":         receipt.Failures,
		"delivery_outcome": outcome,
	}); err != nil {
		return alert, receipt, fmt.Errorf("audit write failed: %w", err)
	}

	d.publish(ctx, alert, receipt)

	logger.Log.WithFields(map[string]interface{}{
		"alert_id": alert.ID,
		"severity": alert.Severity,
		"actions":  receipt.ActionsTaken,
	}).Info("alert dispatched")

	return alert, receipt, nil
}

// deliverCritical fans out to every channel: immediate message, spoken
// alert, doctor notification. Each failure is per-action.
func (d *Dispatcher) deliverCritical(ctx context.Context, verdict models.Verdict, receipt *models.Receipt) {
	msg := fmt.Sprintf("🚨 <b>CRITICAL ALERT</b>\n\n%s\n\nPatient: %s\nAction required immediately.", verdict.Reason, shortRef(verdict.PatientID))
	d.attempt(ctx, receipt, models.ActionTelegram, func() error {
		return d.messenger.SendMessage(ctx, msg)
	})

	d.attempt(ctx, receipt, models.ActionTTS, func() error {
		text := fmt.Sprintf("Critical health alert. %s. Please seek immediate medical attention or contact your doctor.", verdict.Reason)
		audio, err := d.speaker.Speak(ctx, text)
		if err != nil {
			return err
		}
		return d.messenger.SendAudio(ctx, "🚨 Critical alert audio", audio)
	})

	d.attempt(ctx, receipt, models.ActionDoctorNotify, func() error {
		doc := fmt.Sprintf("👨‍⚕️ <b>DOCTOR NOTIFICATION</b>\n\nPatient %s requires immediate review.\n\n%s", shortRef(verdict.PatientID), verdict.Reason)
		return d.messenger.SendDoctorMessage(ctx, doc)
	})
}

func (d *Dispatcher) deliverWarning(ctx context.Context, verdict models.Verdict, receipt *models.Receipt) {
	msg := fmt.Sprintf("⚠️ <b>WARNING</b>\n\n%s\n\nPatient: %s\nMonitor closely.", verdict.Reason, shortRef(verdict.PatientID))
	d.attempt(ctx, receipt, models.ActionTelegram, func() error {
		return d.messenger.SendMessage(ctx, msg)
	})
}

func (d *Dispatcher) attempt(ctx context.Context, receipt *models.Receipt, action string, fn func() error) {
	if err := fn(); err != nil {
		receipt.Failures[action] = err.Error()
		logger.Log.WithError(err).WithField("action", action).Warn("delivery action failed")
		return
	}
	receipt.ActionsTaken = append(receipt.ActionsTaken, action)
}

func (d *Dispatcher) publish(ctx context.Context, alert *models.Alert, receipt models.Receipt) {
	if d.publisher == nil {
		return
	}
	err := d.publisher.PublishEvent(ctx, "alert", "dispatcher", map[string]interface{}{
		"alert_id":      alert.ID,
		"patient_id":    alert.PatientID,
		"severity":      alert.Severity,
		"actions_taken": receipt.ActionsTaken,
	})
	if err != nil {
		logger.Log.WithError(err).Warn("failed to publish alert event")
	}
}

func shortRef(patientID string) string {
	if len(patientID) > 8 {
		return patientID[:8] + "..."
	}
	return patientID
}
