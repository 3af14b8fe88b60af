package audit

import (
	"context"
	"errors"

	"gorm.io/gorm"
)

type GormStore struct {
	db *gorm.DB
}

func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

func (s *GormStore) AutoMigrate() error {
	return s.db.AutoMigrate(&Row{})
}

func (s *GormStore) Insert(ctx context.Context, row *Row) error {
	return s.db.WithContext(ctx).Create(row).Error
}

func (s *GormStore) Last(ctx context.Context) (*Row, error) {
	var row Row
	result := s.db.WithContext(ctx).Order("sequence DESC").First(&row)
	if errors.Is(result.Error, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if result.Error != nil {
		return nil, result.Error
	}
	return &row, nil
}

func (s *GormStore) List(ctx context.Context, filter Filter) ([]Row, error) {
	query := s.db.WithContext(ctx).Order("sequence ASC")
	if filter.RecordType != "" {
		query = query.Where("record_type = ?", filter.RecordType)
	}
	if filter.PatientRef != "" {
		query = query.Where("patient_ref = ?", filter.PatientRef)
	}
	if filter.AfterSeq > 0 {
		query = query.Where("sequence > ?", filter.AfterSeq)
	}
	if !filter.Since.IsZero() {
		query = query.Where("created_at >= ?", filter.Since)
	}
	if filter.Limit > 0 {
		query = query.Limit(filter.Limit)
	}

	var rows []Row
	if err := query.Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}
