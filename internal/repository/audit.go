package repository

import (
	"context"
	"flagpost/internal/model"

	"gorm.io/gorm"
)

// AuditInterface is append-only: records are created and listed, never
// updated or deleted.
type AuditInterface interface {
	Create(ctx context.Context, rec *model.AuditRecord) error
	ListByFlag(ctx context.Context, flagID uint64) ([]model.AuditRecord, error)
	WithTx(tx *gorm.DB) AuditInterface
}

type AuditRepository struct {
	db *gorm.DB
}

func NewAuditRepository(db *gorm.DB) *AuditRepository {
	return &AuditRepository{db: db}
}

func (r *AuditRepository) Create(ctx context.Context, rec *model.AuditRecord) error {
	return r.db.WithContext(ctx).Create(rec).Error
}

// ListByFlag returns records newest first for display.
func (r *AuditRepository) ListByFlag(ctx context.Context, flagID uint64) ([]model.AuditRecord, error) {
	var recs []model.AuditRecord
	err := r.db.WithContext(ctx).
		Where("flag_id = ?", flagID).
		Order("created_at DESC, id DESC").
		Find(&recs).Error
	return recs, err
}

func (r *AuditRepository) WithTx(tx *gorm.DB) AuditInterface {
	return &AuditRepository{db: tx}
}
