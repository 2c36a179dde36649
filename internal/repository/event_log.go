package repository

import (
	"context"

	"marketplace/internal/models"

	"gorm.io/gorm"
)

// EventLogRepository persists the audit trail.
type EventLogRepository interface {
	Append(ctx context.Context, entry *models.EventLog) error
	ListRecent(ctx context.Context, limit int) ([]*models.EventLog, error)
}

type eventLogRepository struct {
	db *gorm.DB
}

// NewEventLogRepository creates a new EventLogRepository
func NewEventLogRepository(db *gorm.DB) EventLogRepository {
	return &eventLogRepository{db: db}
}

func (r *eventLogRepository) Append(ctx context.Context, entry *models.EventLog) error {
	return r.db.WithContext(ctx).Create(entry).Error
}

func (r *eventLogRepository) ListRecent(ctx context.Context, limit int) ([]*models.EventLog, error) {
	entries := []*models.EventLog{}
	if limit <= 0 {
		return entries, nil
	}
	err := r.db.WithContext(ctx).Order("id DESC").Limit(limit).Find(&entries).Error
	return entries, err
}
