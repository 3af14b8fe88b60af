package patient

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/healthguard-ai/platform/pkg/common/logger"
	"github.com/healthguard-ai/platform/pkg/common/models"
	"github.com/redis/go-redis/v9"
)

// Storage is the durable side of the state store. *Repository is the
// production implementation; tests substitute an in-memory one.
type Storage interface {
	CreatePatient(ctx context.Context, p *models.Patient) error
	GetPatient(ctx context.Context, id string) (*models.Patient, error)
	ListPatients(ctx context.Context) ([]models.Patient, error)
	AppendSignal(ctx context.Context, sig *models.Signal) error
	SignalHistory(ctx context.Context, patientID string, limit int, window time.Duration) ([]models.Signal, error)
	AppendVerdict(ctx context.Context, v *models.Verdict) error
	SetLastEvaluated(ctx context.Context, patientID string, at time.Time) error
}

type cachedVital struct {
	Value      float64   `json:"value"`
	Unit       string    `json:"unit"`
	CapturedAt time.Time `json:"captured_at"`
}

// Store is the per-patient rolling state: append-only signal history,
// verdict history, last-evaluated timestamps, and a Redis hot cache of
// the latest reading per metric. Writes go straight to the repository,
// so a read issued after an append always observes it; the per-patient
// lock keeps concurrent evaluations from interleaving.
type Store struct {
	repo          Storage
	cache         *redis.Client
	historyLimit  int
	historyWindow time.Duration

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func NewStore(repo Storage, cache *redis.Client, historyLimit int, historyWindow time.Duration) *Store {
	return &Store{
		repo:          repo,
		cache:         cache,
		historyLimit:  historyLimit,
		historyWindow: historyWindow,
		locks:         make(map[string]*sync.Mutex),
	}
}

// LockPatient serializes evaluation per patient. The returned function
// releases the lock. Locks for different patients are independent.
func (s *Store) LockPatient(patientID string) func() {
	s.mu.Lock()
	lock, ok := s.locks[patientID]
	if !ok {
		lock = &sync.Mutex{}
		s.locks[patientID] = lock
	}
	s.mu.Unlock()

	lock.Lock()
	return lock.Unlock
}

func (s *Store) CreatePatient(ctx context.Context, p *models.Patient) error {
	return s.repo.CreatePatient(ctx, p)
}

func (s *Store) GetPatient(ctx context.Context, id string) (*models.Patient, error) {
	return s.repo.GetPatient(ctx, id)
}

func (s *Store) ListPatients(ctx context.Context) ([]models.Patient, error) {
	return s.repo.ListPatients(ctx)
}

func (s *Store) AppendSignal(ctx context.Context, sig *models.Signal) error {
	if sig.CapturedAt.IsZero() {
		sig.CapturedAt = time.Now().UTC()
	}
	if err := s.repo.AppendSignal(ctx, sig); err != nil {
		return fmt.Errorf("appending signal: %w", err)
	}
	s.cacheLatest(ctx, *sig)
	return nil
}

func (s *Store) History(ctx context.Context, patientID string) ([]models.Signal, error) {
	return s.repo.SignalHistory(ctx, patientID, s.historyLimit, s.historyWindow)
}

// LatestVitals returns the most recent reading per metric, served from
// the Redis hot cache with a fallback to the signal history.
func (s *Store) LatestVitals(ctx context.Context, patientID string) (map[string]models.Signal, error) {
	if s.cache != nil {
		entries, err := s.cache.HGetAll(ctx, latestKey(patientID)).Result()
		if err == nil && len(entries) > 0 {
			latest := make(map[string]models.Signal, len(entries))
			for metric, raw := range entries {
				var cv cachedVital
				if err := json.Unmarshal([]byte(raw), &cv); err != nil {
					continue
				}
				latest[metric] = models.Signal{
					PatientID:  patientID,
					Kind:       models.SignalVital,
					Metric:     metric,
					Value:      cv.Value,
					Unit:       cv.Unit,
					CapturedAt: cv.CapturedAt,
				}
			}
			return latest, nil
		}
		if err != nil {
			logger.Log.WithError(err).Warn("latest-vitals cache read failed, falling back to history")
		}
	}

	history, err := s.History(ctx, patientID)
	if err != nil {
		return nil, err
	}
	latest := make(map[string]models.Signal)
	for _, sig := range history { // newest first
		if sig.Kind != models.SignalVital {
			continue
		}
		if _, ok := latest[sig.Metric]; !ok {
			latest[sig.Metric] = sig
		}
	}
	return latest, nil
}

func (s *Store) RecordVerdict(ctx context.Context, v *models.Verdict) error {
	if err := s.repo.AppendVerdict(ctx, v); err != nil {
		return fmt.Errorf("recording verdict: %w", err)
	}
	return s.repo.SetLastEvaluated(ctx, v.PatientID, v.EvaluatedAt)
}

func (s *Store) cacheLatest(ctx context.Context, sig models.Signal) {
	if s.cache == nil || sig.Kind != models.SignalVital {
		return
	}
	payload, err := json.Marshal(cachedVital{Value: sig.Value, Unit: sig.Unit, CapturedAt: sig.CapturedAt})
	if err != nil {
		return
	}
	key := latestKey(sig.PatientID)
	if err := s.cache.HSet(ctx, key, sig.Metric, payload).Err(); err != nil {
		logger.Log.WithError(err).Warn("failed to cache latest vital")
		return
	}
	if s.historyWindow > 0 {
		s.cache.Expire(ctx, key, s.historyWindow)
	}
}

func latestKey(patientID string) string {
	return fmt.Sprintf("vitals:latest:%s", patientID)
}
