package dispatch

import (
	"context"
	"encoding/json"
	"time"

	"github.com/healthguard-ai/platform/pkg/common/models"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) AutoMigrate() error {
	return r.db.AutoMigrate(&AlertRecord{})
}

func (r *Repository) Create(ctx context.Context, alert *models.Alert, failures map[string]string) error {
	actions, err := json.Marshal(alert.Actions)
	if err != nil {
		return err
	}
	failureMap := datatypes.JSONMap{}
	for action, reason := range failures {
		failureMap[action] = reason
	}

	rec := AlertRecord{
		ID:        alert.ID,
		PatientID: alert.PatientID,
		Severity:  alert.Severity,
		Reason:    alert.Reason,
		Rule:      alert.Rule,
		DedupKey:  alert.DedupKey,
		Actions:   datatypes.JSON(actions),
		Failures:  failureMap,
		CreatedAt: alert.CreatedAt,
	}
	return r.db.WithContext(ctx).Create(&rec).Error
}

// CountSince reports alerts created after the cutoff, for the status
// endpoint's alerts_last_24h counter.
func (r *Repository) CountSince(ctx context.Context, cutoff time.Time) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&AlertRecord{}).
		Where("created_at >= ?", cutoff).
		Count(&count).Error
	return count, err
}
