package repository

import (
	"context"
	"errors"
	"flagpost/internal/model"

	"gorm.io/gorm"
)

type OverrideInterface interface {
	GetByID(ctx context.Context, id uint64) (*model.Override, error)
	GetByFlagAndUser(ctx context.Context, flagID, userID uint64) (*model.Override, error)
	ListByUser(ctx context.Context, userID uint64) ([]model.Override, error)
	ListByFlag(ctx context.Context, flagID uint64) ([]model.Override, error)
	Save(ctx context.Context, ov *model.Override) error
	Delete(ctx context.Context, id uint64) error
	DeleteByFlag(ctx context.Context, flagID uint64) error
	WithTx(tx *gorm.DB) OverrideInterface
}

type OverrideRepository struct {
	db *gorm.DB
}

func NewOverrideRepository(db *gorm.DB) *OverrideRepository {
	return &OverrideRepository{db: db}
}

func (r *OverrideRepository) GetByID(ctx context.Context, id uint64) (*model.Override, error) {
	var ov model.Override
	if err := r.db.WithContext(ctx).First(&ov, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &ov, nil
}

func (r *OverrideRepository) GetByFlagAndUser(ctx context.Context, flagID, userID uint64) (*model.Override, error) {
	var ov model.Override
	err := r.db.WithContext(ctx).
		Where("flag_id = ? AND user_id = ?", flagID, userID).
		First(&ov).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &ov, nil
}

func (r *OverrideRepository) ListByUser(ctx context.Context, userID uint64) ([]model.Override, error) {
	var ovs []model.Override
	err := r.db.WithContext(ctx).Where("user_id = ?", userID).Find(&ovs).Error
	return ovs, err
}

func (r *OverrideRepository) ListByFlag(ctx context.Context, flagID uint64) ([]model.Override, error) {
	var ovs []model.Override
	err := r.db.WithContext(ctx).Where("flag_id = ?", flagID).Find(&ovs).Error
	return ovs, err
}

func (r *OverrideRepository) Save(ctx context.Context, ov *model.Override) error {
	return r.db.WithContext(ctx).Save(ov).Error
}

func (r *OverrideRepository) Delete(ctx context.Context, id uint64) error {
	return r.db.WithContext(ctx).Delete(&model.Override{}, id).Error
}

func (r *OverrideRepository) DeleteByFlag(ctx context.Context, flagID uint64) error {
	return r.db.WithContext(ctx).Where("flag_id = ?", flagID).Delete(&model.Override{}).Error
}

func (r *OverrideRepository) WithTx(tx *gorm.DB) OverrideInterface {
	return &OverrideRepository{db: tx}
}
