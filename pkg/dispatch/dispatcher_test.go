package dispatch

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/healthguard-ai/platform/pkg/audit"
	"github.com/healthguard-ai/platform/pkg/common/logger"
	"github.com/healthguard-ai/platform/pkg/common/models"
)

func init() {
	logger.Init()
}

type fakeMessenger struct {
	mu       sync.Mutex
	messages []string
	doctor   []string
	audio    int
	fail     bool
}

func (m *fakeMessenger) SendMessage(ctx context.Context, text string) error {
	if m.fail {
		return errors.New("telegram unreachable")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.messages = append(m.messages, text)
	return nil
}

func (m *fakeMessenger) SendDoctorMessage(ctx context.Context, text string) error {
	if m.fail {
		return errors.New("telegram unreachable")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.doctor = append(m.doctor, text)
	return nil
}

func (m *fakeMessenger) SendAudio(ctx context.Context, caption string, audio []byte) error {
	if m.fail {
		return errors.New("telegram unreachable")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.audio++
	return nil
}

type fakeSpeaker struct {
	fail bool
}

func (s *fakeSpeaker) Speak(ctx context.Context, text string) ([]byte, error) {
	if s.fail {
		return nil, errors.New("tts upstream error")
	}
	return []byte("audio-bytes"), nil
}

type auditEntry struct {
	recordType string
	patientRef string
	payload    map[string]interface{}
}

type fakeRecorder struct {
	mu      sync.Mutex
	entries []auditEntry
	fail    bool
}

func (r *fakeRecorder) Append(ctx context.Context, recordType, patientRef string, payload map[string]interface{}) (int64, error) {
	if r.fail {
		return 0, errors.New("audit store down")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, auditEntry{recordType: recordType, patientRef: patientRef, payload: payload})
	return int64(len(r.entries)), nil
}

func (r *fakeRecorder) ofType(t string) []auditEntry {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []auditEntry
	for _, e := range r.entries {
		if e.recordType == t {
			out = append(out, e)
		}
	}
	return out
}

type fakeAlertStore struct {
	mu     sync.Mutex
	alerts []*models.Alert
}

func (s *fakeAlertStore) Create(ctx context.Context, alert *models.Alert, failures map[string]string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.alerts = append(s.alerts, alert)
	return nil
}

func newTestDispatcher(t *testing.T) (*Dispatcher, *fakeMessenger, *fakeSpeaker, *fakeRecorder, *fakeAlertStore) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	guard := NewDedupGuard(client, 5*time.Minute)

	messenger := &fakeMessenger{}
	speaker := &fakeSpeaker{}
	recorder := &fakeRecorder{}
	store := &fakeAlertStore{}
	return NewDispatcher(store, guard, messenger, speaker, recorder, nil), messenger, speaker, recorder, store
}

func TestDispatchInfoLoggedOnly(t *testing.T) {
	d, messenger, _, recorder, store := newTestDispatcher(t)

	verdict := models.Verdict{
		PatientID: "patient-1",
		Severity:  models.SeverityInfo,
		Reason:    "All vitals within normal range",
		Source:    "rule_engine",
	}
	alert, receipt, err := d.Dispatch(context.Background(), verdict)
	if err != nil {
		t.Fatalf("Dispatch failed: %v", err)
	}
	if alert != nil {
		t.Fatalf("expected no alert for informational verdict, got %+v", alert)
	}
	if len(receipt.ActionsTaken) != 0 {
		t.Fatalf("expected no actions, got %v", receipt.ActionsTaken)
	}
	if len(messenger.messages) != 0 {
		t.Fatalf("expected no messages, got %d", len(messenger.messages))
	}
	logged := recorder.ofType(audit.TypeInfoLogged)
	if len(logged) != 1 {
		t.Fatalf("expected 1 info_logged record, got %d", len(logged))
	}
	if len(store.alerts) != 0 {
		t.Fatalf("expected no persisted alerts, got %d", len(store.alerts))
	}
}

func TestDispatchWarningSendsSingleMessage(t *testing.T) {
	d, messenger, _, recorder, store := newTestDispatcher(t)

	verdict := models.Verdict{
		PatientID: "patient-1",
		Severity:  models.SeverityWarning,
		Reason:    "WARNING: Glucose 65 mg/dL <= 70. Low blood sugar.",
		Rule:      "glucose_low_warning",
		Source:    "rule_engine",
	}
	alert, receipt, err := d.Dispatch(context.Background(), verdict)
	if err != nil {
		t.Fatalf("Dispatch failed: %v", err)
	}
	if alert == nil {
		t.Fatal("expected an alert for warning verdict")
	}
	if len(receipt.ActionsTaken) != 1 || receipt.ActionsTaken[0] != models.ActionTelegram {
		t.Fatalf("expected single telegram action, got %v", receipt.ActionsTaken)
	}
	if len(messenger.messages) != 1 {
		t.Fatalf("expected 1 message, got %d", len(messenger.messages))
	}
	if len(messenger.doctor) != 0 || messenger.audio != 0 {
		t.Fatal("warning must not notify doctor or send audio")
	}
	delivered := recorder.ofType(audit.TypeDelivery)
	if len(delivered) != 1 {
		t.Fatalf("expected exactly 1 delivery record, got %d", len(delivered))
	}
	if len(store.alerts) != 1 {
		t.Fatalf("expected 1 persisted alert, got %d", len(store.alerts))
	}
}

func TestDispatchCriticalFansOutAllActions(t *testing.T) {
	d, messenger, _, recorder, _ := newTestDispatcher(t)

	verdict := models.Verdict{
		PatientID: "patient-1",
		Severity:  models.SeverityCritical,
		Reason:    "CRITICAL: Systolic BP 190 mmHg >= 180. Hypertensive crisis.",
		Rule:      "bp_systolic_high_critical",
		Source:    "rule_engine",
		Degraded:  true,
	}
	_, receipt, err := d.Dispatch(context.Background(), verdict)
	if err != nil {
		t.Fatalf("Dispatch failed: %v", err)
	}
	want := map[string]bool{
		models.ActionTelegram:     true,
		models.ActionTTS:          true,
		models.ActionDoctorNotify: true,
	}
	if len(receipt.ActionsTaken) != len(want) {
		t.Fatalf("expected %d actions, got %v", len(want), receipt.ActionsTaken)
	}
	for _, a := range receipt.ActionsTaken {
		if !want[a] {
			t.Fatalf("unexpected action %q", a)
		}
	}
	if len(messenger.messages) != 1 || len(messenger.doctor) != 1 || messenger.audio != 1 {
		t.Fatalf("expected full fan-out, got messages=%d doctor=%d audio=%d",
			len(messenger.messages), len(messenger.doctor), messenger.audio)
	}
	delivered := recorder.ofType(audit.TypeDelivery)
	if len(delivered) != 1 {
		t.Fatalf("expected exactly 1 delivery record, got %d", len(delivered))
	}
	if delivered[0].payload["degraded"] != true {
		t.Fatal("delivery record must carry degraded flag")
	}
}

func TestDispatchDeduplicatesRepeatedCondition(t *testing.T) {
	d, messenger, _, recorder, _ := newTestDispatcher(t)

	verdict := models.Verdict{
		PatientID: "patient-1",
		Severity:  models.SeverityCritical,
		Reason:    "CRITICAL: Systolic BP 190 mmHg >= 180. Hypertensive crisis.",
		Rule:      "bp_systolic_high_critical",
		Source:    "rule_engine",
	}
	if _, _, err := d.Dispatch(context.Background(), verdict); err != nil {
		t.Fatalf("first Dispatch failed: %v", err)
	}
	alert, receipt, err := d.Dispatch(context.Background(), verdict)
	if err != nil {
		t.Fatalf("second Dispatch failed: %v", err)
	}
	if alert != nil {
		t.Fatal("duplicate within cooldown must not produce an alert")
	}
	if !receipt.Deduplicated {
		t.Fatal("expected receipt marked deduplicated")
	}
	if len(messenger.messages) != 1 {
		t.Fatalf("expected single delivery across duplicates, got %d messages", len(messenger.messages))
	}
	deduped := recorder.ofType(audit.TypeDeduplicated)
	if len(deduped) != 1 {
		t.Fatalf("expected 1 deduplicated record, got %d", len(deduped))
	}
}

func TestDispatchDifferentRuleNotSuppressed(t *testing.T) {
	d, messenger, _, _, _ := newTestDispatcher(t)

	first := models.Verdict{
		PatientID: "patient-1",
		Severity:  models.SeverityCritical,
		Reason:    "CRITICAL: Systolic BP 190 mmHg >= 180. Hypertensive crisis.",
		Rule:      "bp_systolic_high_critical",
	}
	second := models.Verdict{
		PatientID: "patient-1",
		Severity:  models.SeverityCritical,
		Reason:    "CRITICAL: SpO2 88 % <= 90. Severe hypoxemia.",
		Rule:      "spo2_low_critical",
	}
	if _, _, err := d.Dispatch(context.Background(), first); err != nil {
		t.Fatalf("first Dispatch failed: %v", err)
	}
	_, receipt, err := d.Dispatch(context.Background(), second)
	if err != nil {
		t.Fatalf("second Dispatch failed: %v", err)
	}
	if receipt.Deduplicated {
		t.Fatal("a different critical condition must never be suppressed")
	}
	if len(messenger.messages) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(messenger.messages))
	}
}

func TestDispatchReceiptSurvivesActionFailures(t *testing.T) {
	d, messenger, speaker, recorder, _ := newTestDispatcher(t)
	messenger.fail = true
	speaker.fail = true

	verdict := models.Verdict{
		PatientID: "patient-1",
		Severity:  models.SeverityCritical,
		Reason:    "CRITICAL: Heart rate 160 bpm >= 150. Severe tachycardia.",
		Rule:      "heart_rate_high_critical",
	}
	alert, receipt, err := d.Dispatch(context.Background(), verdict)
	if err != nil {
		t.Fatalf("Dispatch must not fail on delivery errors: %v", err)
	}
	if alert == nil {
		t.Fatal("expected alert despite failed actions")
	}
	if len(receipt.ActionsTaken) != 0 {
		t.Fatalf("expected no successful actions, got %v", receipt.ActionsTaken)
	}
	if len(receipt.Failures) != 3 {
		t.Fatalf("expected 3 recorded failures, got %v", receipt.Failures)
	}
	delivered := recorder.ofType(audit.TypeDelivery)
	if len(delivered) != 1 {
		t.Fatalf("expected exactly 1 delivery record, got %d", len(delivered))
	}
	if delivered[0].payload["delivery_outcome"] != "all_actions_failed" {
		t.Fatalf("unexpected outcome: %v", delivered[0].payload["delivery_outcome"])
	}
}

func TestDispatchAuditFailureIsFatal(t *testing.T) {
	d, _, _, recorder, _ := newTestDispatcher(t)
	recorder.fail = true

	verdict := models.Verdict{
		PatientID: "patient-1",
		Severity:  models.SeverityWarning,
		Reason:    "WARNING: Glucose 65 mg/dL <= 70. Low blood sugar.",
		Rule:      "glucose_low_warning",
	}
	if _, _, err := d.Dispatch(context.Background(), verdict); err == nil {
		t.Fatal("expected error when audit trail cannot be written")
	}
}
