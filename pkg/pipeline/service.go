// Package pipeline orchestrates the evaluation flow: signal intake,
// rule evaluation, anonymized summarization, fusion, dispatch, audit.
// At most one evaluation runs per patient at a time.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/healthguard-ai/platform/pkg/audit"
	"github.com/healthguard-ai/platform/pkg/common/logger"
	"github.com/healthguard-ai/platform/pkg/common/models"
	"github.com/healthguard-ai/platform/pkg/fusion"
	"github.com/healthguard-ai/platform/pkg/inference"
	"github.com/healthguard-ai/platform/pkg/patient"
	"github.com/healthguard-ai/platform/pkg/privacy"
	"github.com/healthguard-ai/platform/pkg/retention"
	"github.com/healthguard-ai/platform/pkg/rules"
)

// Summarizer is the external reasoning service. It receives scrubbed
// text under an ephemeral session ID, never raw media or names.
type Summarizer interface {
	Analyze(ctx context.Context, sessionID, mediaType string, payload []byte) (inference.AnalysisResult, error)
	Summarize(ctx context.Context, sessionID, textSignals, anonymizedHistory string) (models.Summary, error)
	Calls() int64
}

// Dispatcher turns a verdict into delivery actions and a receipt.
type Dispatcher interface {
	Dispatch(ctx context.Context, verdict models.Verdict) (*models.Alert, models.Receipt, error)
}

// Recorder appends to the audit trail.
type Recorder interface {
	Append(ctx context.Context, recordType, patientRef string, payload map[string]interface{}) (int64, error)
}

// AlertCounter reports recent alert volume for the status endpoint.
type AlertCounter interface {
	CountSince(ctx context.Context, cutoff time.Time) (int64, error)
}

type Service struct {
	store      *patient.Store
	engine     *rules.Engine
	scrubber   *privacy.Scrubber
	summarizer Summarizer
	dispatcher Dispatcher
	recorder   Recorder
	enforcer   *retention.Enforcer
	alerts     AlertCounter

	cycleCount atomic.Int64

	mu        sync.Mutex
	lastCycle *time.Time
}

func NewService(store *patient.Store, engine *rules.Engine, scrubber *privacy.Scrubber, summarizer Summarizer, dispatcher Dispatcher, recorder Recorder, enforcer *retention.Enforcer, alerts AlertCounter) *Service {
	return &Service{
		store:      store,
		engine:     engine,
		scrubber:   scrubber,
		summarizer: summarizer,
		dispatcher: dispatcher,
		recorder:   recorder,
		enforcer:   enforcer,
		alerts:     alerts,
	}
}

// CreatePatient onboards a patient and registers the name with the
// privacy scrubber so it is masked before any external call.
func (s *Service) CreatePatient(ctx context.Context, p *models.Patient) (*models.Patient, error) {
	if verr := validatePatient(p); verr != nil {
		return nil, verr
	}
	if p.ID == "" {
		p.ID = uuid.New().String()
	}
	p.CreatedAt = time.Now().UTC()
	if err := s.store.CreatePatient(ctx, p); err != nil {
		return nil, fmt.Errorf("failed to create patient: %w", err)
	}
	s.scrubber.AddName(p.Name)

	if _, err := s.recorder.Append(ctx, audit.TypePatientCreated, p.ID, map[string]interface{}{
		"created_at": p.CreatedAt,
	}); err != nil {
		return nil, fmt.Errorf("audit write failed: %w", err)
	}
	return p, nil
}

// LoadRoster registers every stored patient name with the privacy
// scrubber. Runs once at startup so names onboarded in earlier runs are
// masked before the first external call.
func (s *Service) LoadRoster(ctx context.Context) (int, error) {
	patients, err := s.store.ListPatients(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to list patients: %w", err)
	}
	for _, p := range patients {
		s.scrubber.AddName(p.Name)
	}
	return len(patients), nil
}

// Submit appends a signal and synchronously runs the full evaluation
// flow for that patient.
func (s *Service) Submit(ctx context.Context, req *models.SubmitSignalRequest) (*models.Verdict, error) {
	if verr := validateSignal(req); verr != nil {
		return nil, verr
	}
	if _, err := s.store.GetPatient(ctx, req.PatientID); err != nil {
		if errors.Is(err, patient.ErrNotFound) {
			return nil, &ValidationError{Field: "patient_id", Message: "unknown patient"}
		}
		return nil, fmt.Errorf("failed to resolve patient: %w", err)
	}

	unlock := s.store.LockPatient(req.PatientID)
	defer unlock()

	sig := &models.Signal{
		PatientID:  req.PatientID,
		Kind:       req.Kind,
		Metric:     req.Metric,
		Value:      req.Value,
		Unit:       req.Unit,
		Text:       req.Text,
		CapturedAt: req.CapturedAt,
	}
	if err := s.store.AppendSignal(ctx, sig); err != nil {
		return nil, fmt.Errorf("failed to append signal: %w", err)
	}

	verdict, err := s.evaluate(ctx, req.PatientID, *sig)
	if err != nil {
		return nil, err
	}
	return &verdict, nil
}

// SubmitMedia registers raw media with the retention enforcer, hands it
// to the analysis service under an ephemeral session ID, releases the
// asset, and feeds the textual finding back through the evaluation
// flow. The asset is destroyed whether or not analysis succeeded.
func (s *Service) SubmitMedia(ctx context.Context, patientID, mediaType string, payload []byte) (*models.Verdict, error) {
	if strings.TrimSpace(patientID) == "" {
		return nil, &ValidationError{Field: "patient_id", Message: "patient_id is required"}
	}
	if len(payload) == 0 {
		return nil, &ValidationError{Field: "payload", Message: "empty media payload"}
	}
	if _, err := s.store.GetPatient(ctx, patientID); err != nil {
		if errors.Is(err, patient.ErrNotFound) {
			return nil, &ValidationError{Field: "patient_id", Message: "unknown patient"}
		}
		return nil, fmt.Errorf("failed to resolve patient: %w", err)
	}

	asset := s.enforcer.Register(patientID, mediaType, payload)
	defer s.enforcer.Release(ctx, asset.ID)

	sessionID := uuid.New().String()
	result, err := s.summarizer.Analyze(ctx, sessionID, mediaType, asset.Bytes())
	if err != nil {
		return nil, fmt.Errorf("media analysis failed: %w", err)
	}

	kind := models.SignalVoice
	text := result.Transcript
	if mediaType == inference.MediaPhoto {
		kind = models.SignalImage
		text = result.Observations
	}

	unlock := s.store.LockPatient(patientID)
	defer unlock()

	sig := &models.Signal{
		PatientID: patientID,
		Kind:      kind,
		Text:      text,
		SessionID: sessionID,
	}
	if err := s.store.AppendSignal(ctx, sig); err != nil {
		return nil, fmt.Errorf("failed to append signal: %w", err)
	}

	verdict, err := s.evaluate(ctx, patientID, *sig)
	if err != nil {
		return nil, err
	}
	return &verdict, nil
}

// EvaluateStored re-drives the evaluation flow from stored history, no
// new inbound signal required. The scheduler calls this once per
// patient per cycle; it is what catches a slow unattended trend.
func (s *Service) EvaluateStored(ctx context.Context, patientID string) error {
	unlock := s.store.LockPatient(patientID)
	defer unlock()

	latest, err := s.store.LatestVitals(ctx, patientID)
	if err != nil {
		return fmt.Errorf("failed to read latest vitals: %w", err)
	}
	if len(latest) == 0 {
		return nil
	}

	history, err := s.store.History(ctx, patientID)
	if err != nil {
		return fmt.Errorf("failed to read history: %w", err)
	}

	// Re-check every current vital and keep the most urgent outcome.
	var worst *models.Signal
	worstSev := models.SeverityInfo + 1
	for _, sig := range latest {
		if res := s.engine.Evaluate(sig, history); res.Severity < worstSev {
			worstSev = res.Severity
			current := sig
			worst = &current
		}
	}
	if worst == nil {
		return nil
	}

	_, err = s.evaluate(ctx, patientID, *worst)
	return err
}

// ListPatientIDs returns the roster the scheduler iterates.
func (s *Service) ListPatientIDs(ctx context.Context) ([]string, error) {
	patients, err := s.store.ListPatients(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list patients: %w", err)
	}
	ids := make([]string, 0, len(patients))
	for _, p := range patients {
		ids = append(ids, p.ID)
	}
	return ids, nil
}

// NoteCycle records scheduler cycle completion for the status report.
func (s *Service) NoteCycle(at time.Time) {
	s.cycleCount.Add(1)
	s.mu.Lock()
	s.lastCycle = &at
	s.mu.Unlock()
}

// RecordCycleError appends a per-patient cycle failure to the audit
// trail so the scheduler can move on to the next patient.
func (s *Service) RecordCycleError(ctx context.Context, patientID string, cause error) {
	if _, err := s.recorder.Append(ctx, audit.TypeCycleError, patientID, map[string]interface{}{
		"error": cause.Error(),
	}); err != nil {
		logger.Log.WithError(err).Error("failed to record cycle error")
	}
}

// Sweep destroys every registered media asset past its deadline.
func (s *Service) Sweep(ctx context.Context) int {
	return s.enforcer.Sweep(ctx)
}

func (s *Service) Status(ctx context.Context) (models.StatusReport, error) {
	patients, err := s.store.ListPatients(ctx)
	if err != nil {
		return models.StatusReport{}, fmt.Errorf("failed to list patients: %w", err)
	}

	var alerts24h int64
	if s.alerts != nil {
		alerts24h, err = s.alerts.CountSince(ctx, time.Now().Add(-24*time.Hour))
		if err != nil {
			logger.Log.WithError(err).Warn("failed to count recent alerts")
		}
	}

	s.mu.Lock()
	lastCycle := s.lastCycle
	s.mu.Unlock()

	return models.StatusReport{
		PatientsMonitored: len(patients),
		LastCycleTime:     lastCycle,
		CycleCount:        s.cycleCount.Load(),
		AlertsLast24h:     alerts24h,
		PendingMedia:      s.enforcer.Pending(),
		InferenceCalls:    s.summarizer.Calls(),
	}, nil
}

// evaluate runs rule evaluation, optional summarization, fusion and
// dispatch for one signal. The caller holds the patient lock.
func (s *Service) evaluate(ctx context.Context, patientID string, sig models.Signal) (models.Verdict, error) {
	history, err := s.store.History(ctx, patientID)
	if err != nil {
		return models.Verdict{}, fmt.Errorf("failed to read history: %w", err)
	}

	result := s.engine.Evaluate(sig, history)

	var summary models.Summary
	degraded := false
	if s.shouldSummarize(result, sig, history) {
		summary, err = s.summarizer.Summarize(ctx, uuid.New().String(), s.textSignals(sig, history), s.anonymizedHistory(history))
		if err != nil {
			degraded = true
			summary = models.Summary{}
			logger.Log.WithError(err).WithField("patient_id", patientID).Warn("summarization degraded")
			if _, aerr := s.recorder.Append(ctx, audit.TypeDegradedFusion, patientID, map[string]interface{}{
				"error": err.Error(),
				"rule":  result.Rule,
			}); aerr != nil {
				return models.Verdict{}, fmt.Errorf("audit write failed: %w", aerr)
			}
		}

		// A pain level extracted from prose is a vital in its own
		// right. Record it and re-run the rules so a severe reading is
		// not lost in the narrative summary.
		if !degraded && summary.PainLevel != nil {
			derived := &models.Signal{
				PatientID:  patientID,
				Kind:       models.SignalVital,
				Metric:     "pain_level",
				Value:      *summary.PainLevel,
				Unit:       "/10",
				SessionID:  sig.SessionID,
				CapturedAt: time.Now().UTC(),
			}
			if err := s.store.AppendSignal(ctx, derived); err != nil {
				return models.Verdict{}, fmt.Errorf("failed to append derived pain signal: %w", err)
			}
			history, err = s.store.History(ctx, patientID)
			if err != nil {
				return models.Verdict{}, fmt.Errorf("failed to read history: %w", err)
			}
			if res := s.engine.Evaluate(*derived, history); res.Severity < result.Severity {
				result = res
			}
		}
	}

	verdict := fusion.Fuse(patientID, result, summary, degraded)

	if err := s.store.RecordVerdict(ctx, &verdict); err != nil {
		return models.Verdict{}, fmt.Errorf("failed to record verdict: %w", err)
	}

	if _, _, err := s.dispatcher.Dispatch(ctx, verdict); err != nil {
		return models.Verdict{}, err
	}
	return verdict, nil
}

// shouldSummarize gates the external call. A rule-triggered critical
// never waits on the external service, and there is nothing to
// summarize without textual signals.
func (s *Service) shouldSummarize(result rules.Result, sig models.Signal, history []models.Signal) bool {
	if result.Severity == models.SeverityCritical {
		return false
	}
	if sig.Kind != models.SignalVital {
		return true
	}
	for _, h := range history {
		if h.Kind != models.SignalVital {
			return true
		}
	}
	return false
}

// textSignals collects recent textual signals, scrubbed of direct
// identifiers, newest first.
func (s *Service) textSignals(sig models.Signal, history []models.Signal) string {
	var parts []string
	if sig.Kind != models.SignalVital && sig.Text != "" {
		parts = append(parts, s.scrubber.Scrub(sig.Text))
	}
	for _, h := range history {
		if h.Kind == models.SignalVital || h.Text == "" || h.ID == sig.ID {
			continue
		}
		parts = append(parts, s.scrubber.Scrub(h.Text))
		if len(parts) >= 5 {
			break
		}
	}
	return strings.Join(parts, "\n")
}

// anonymizedHistory renders recent vitals as metric/value pairs with no
// identity attached.
func (s *Service) anonymizedHistory(history []models.Signal) string {
	var parts []string
	for _, h := range history {
		if h.Kind != models.SignalVital {
			continue
		}
		parts = append(parts, fmt.Sprintf("%s=%.1f%s at %s", h.Metric, h.Value, h.Unit, h.CapturedAt.Format(time.RFC3339)))
		if len(parts) >= 10 {
			break
		}
	}
	return strings.Join(parts, "; ")
}
