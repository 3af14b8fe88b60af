package patient

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/healthguard-ai/platform/pkg/common/logger"
	"github.com/healthguard-ai/platform/pkg/common/models"
	"github.com/redis/go-redis/v9"
)

func init() {
	logger.Init()
}

type memoryStorage struct {
	mu       sync.Mutex
	patients map[string]models.Patient
	signals  []models.Signal
	verdicts []models.Verdict
	lastEval map[string]time.Time
}

func newMemoryStorage() *memoryStorage {
	return &memoryStorage{
		patients: make(map[string]models.Patient),
		lastEval: make(map[string]time.Time),
	}
}

func (m *memoryStorage) CreatePatient(ctx context.Context, p *models.Patient) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p.CreatedAt = time.Now().UTC()
	m.patients[p.ID] = *p
	return nil
}

func (m *memoryStorage) GetPatient(ctx context.Context, id string) (*models.Patient, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.patients[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &p, nil
}

func (m *memoryStorage) ListPatients(ctx context.Context) ([]models.Patient, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]models.Patient, 0, len(m.patients))
	for _, p := range m.patients {
		out = append(out, p)
	}
	return out, nil
}

func (m *memoryStorage) AppendSignal(ctx context.Context, sig *models.Signal) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.signals = append([]models.Signal{*sig}, m.signals...)
	return nil
}

func (m *memoryStorage) SignalHistory(ctx context.Context, patientID string, limit int, window time.Duration) ([]models.Signal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Signal
	for _, sig := range m.signals {
		if sig.PatientID != patientID {
			continue
		}
		out = append(out, sig)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (m *memoryStorage) AppendVerdict(ctx context.Context, v *models.Verdict) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.verdicts = append(m.verdicts, *v)
	return nil
}

func (m *memoryStorage) SetLastEvaluated(ctx context.Context, patientID string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastEval[patientID] = at
	return nil
}

func testStore(t *testing.T) (*Store, *memoryStorage) {
	t.Helper()
	mr := miniredis.RunT(t)
	cache := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	storage := newMemoryStorage()
	return NewStore(storage, cache, 50, 7*24*time.Hour), storage
}

func TestAppendSignalPopulatesLatestVitalsCache(t *testing.T) {
	store, _ := testStore(t)
	ctx := context.Background()

	sig := &models.Signal{PatientID: "p1", Kind: models.SignalVital, Metric: "glucose", Value: 65, Unit: "mg/dL"}
	if err := store.AppendSignal(ctx, sig); err != nil {
		t.Fatalf("append: %v", err)
	}

	latest, err := store.LatestVitals(ctx, "p1")
	if err != nil {
		t.Fatalf("latest vitals: %v", err)
	}
	got, ok := latest["glucose"]
	if !ok {
		t.Fatalf("expected glucose in latest vitals, got %v", latest)
	}
	if got.Value != 65 {
		t.Fatalf("expected 65, got %g", got.Value)
	}
}

func TestLatestVitalsFallsBackToHistory(t *testing.T) {
	storage := newMemoryStorage()
	store := NewStore(storage, nil, 50, 0) // no cache configured
	ctx := context.Background()

	for _, v := range []float64{120, 130} {
		if err := store.AppendSignal(ctx, &models.Signal{PatientID: "p1", Kind: models.SignalVital, Metric: "bp_systolic", Value: v}); err != nil {
			t.Fatalf("append: %v", err)
		}
	}

	latest, err := store.LatestVitals(ctx, "p1")
	if err != nil {
		t.Fatalf("latest vitals: %v", err)
	}
	if latest["bp_systolic"].Value != 130 {
		t.Fatalf("expected newest reading 130, got %g", latest["bp_systolic"].Value)
	}
}

func TestLockPatientSerializesPerPatient(t *testing.T) {
	store, _ := testStore(t)

	unlock := store.LockPatient("p1")

	acquired := make(chan struct{})
	go func() {
		u := store.LockPatient("p1")
		close(acquired)
		u()
	}()

	select {
	case <-acquired:
		t.Fatal("second lock acquired while first held")
	case <-time.After(50 * time.Millisecond):
	}

	// A different patient is not blocked.
	done := make(chan struct{})
	go func() {
		u := store.LockPatient("p2")
		u()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("lock for unrelated patient blocked")
	}

	unlock()
	select {
	case <-acquired:
	case <-time.After(time.Second):
		t.Fatal("lock not released")
	}
}

func TestRecordVerdictUpdatesLastEvaluated(t *testing.T) {
	store, storage := testStore(t)
	ctx := context.Background()

	at := time.Now().UTC()
	v := &models.Verdict{PatientID: "p1", Severity: models.SeverityInfo, Reason: "ok", EvaluatedAt: at}
	if err := store.RecordVerdict(ctx, v); err != nil {
		t.Fatalf("record verdict: %v", err)
	}

	if got := storage.lastEval["p1"]; !got.Equal(at) {
		t.Fatalf("expected last evaluated %v, got %v", at, got)
	}
}
