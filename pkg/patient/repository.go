package patient

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/healthguard-ai/platform/pkg/common/models"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

var ErrNotFound = errors.New("patient not found")

type Repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) AutoMigrate() error {
	return r.db.AutoMigrate(&PatientRecord{}, &SignalRecord{}, &VerdictRecord{})
}

func (r *Repository) CreatePatient(ctx context.Context, p *models.Patient) error {
	rec := PatientRecord{ID: p.ID, Name: p.Name, CreatedAt: time.Now().UTC()}
	if err := r.db.WithContext(ctx).Create(&rec).Error; err != nil {
		return err
	}
	p.CreatedAt = rec.CreatedAt
	return nil
}

func (r *Repository) GetPatient(ctx context.Context, id string) (*models.Patient, error) {
	var rec PatientRecord
	result := r.db.WithContext(ctx).First(&rec, "id = ?", id)
	if errors.Is(result.Error, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if result.Error != nil {
		return nil, result.Error
	}
	return &models.Patient{ID: rec.ID, Name: rec.Name, CreatedAt: rec.CreatedAt}, nil
}

func (r *Repository) ListPatients(ctx context.Context) ([]models.Patient, error) {
	var recs []PatientRecord
	if err := r.db.WithContext(ctx).Order("created_at").Find(&recs).Error; err != nil {
		return nil, err
	}
	patients := make([]models.Patient, 0, len(recs))
	for _, rec := range recs {
		patients = append(patients, models.Patient{ID: rec.ID, Name: rec.Name, CreatedAt: rec.CreatedAt})
	}
	return patients, nil
}

func (r *Repository) AppendSignal(ctx context.Context, sig *models.Signal) error {
	if sig.ID == "" {
		sig.ID = uuid.New().String()
	}
	rec := toSignalRecord(*sig)
	rec.CreatedAt = time.Now().UTC()
	return r.db.WithContext(ctx).Create(&rec).Error
}

// SignalHistory returns the patient's most recent signals, newest
// first, bounded by both count and age.
func (r *Repository) SignalHistory(ctx context.Context, patientID string, limit int, window time.Duration) ([]models.Signal, error) {
	query := r.db.WithContext(ctx).
		Where("patient_id = ?", patientID).
		Order("captured_at DESC")
	if window > 0 {
		query = query.Where("captured_at >= ?", time.Now().UTC().Add(-window))
	}
	if limit > 0 {
		query = query.Limit(limit)
	}

	var recs []SignalRecord
	if err := query.Find(&recs).Error; err != nil {
		return nil, err
	}
	signals := make([]models.Signal, 0, len(recs))
	for _, rec := range recs {
		signals = append(signals, rec.toModel())
	}
	return signals, nil
}

func (r *Repository) AppendVerdict(ctx context.Context, v *models.Verdict) error {
	rec := VerdictRecord{
		ID:           uuid.New().String(),
		PatientID:    v.PatientID,
		Severity:     v.Severity,
		Reason:       v.Reason,
		Rule:         v.Rule,
		Source:       v.Source,
		AnomalyScore: v.AnomalyScore,
		Degraded:     v.Degraded,
		EvaluatedAt:  v.EvaluatedAt,
	}
	if v.Summary != "" || v.Metric != "" {
		rec.Detail = datatypes.JSONMap{
			"summary": v.Summary,
			"metric":  v.Metric,
			"value":   v.Value,
		}
	}
	return r.db.WithContext(ctx).Create(&rec).Error
}

func (r *Repository) SetLastEvaluated(ctx context.Context, patientID string, at time.Time) error {
	return r.db.WithContext(ctx).Model(&PatientRecord{}).
		Where("id = ?", patientID).
		Update("last_evaluated", at.UTC()).Error
}
