package repository

import (
	"context"
	"errors"
	"flagpost/internal/model"

	"gorm.io/gorm"
)

// FlagInterface defines persistence for flag definitions. Lookup methods
// return (nil, nil) when the row does not exist; absence is not an error at
// this layer.
type FlagInterface interface {
	GetByID(ctx context.Context, id uint64) (*model.Flag, error)
	GetByKeyInScope(ctx context.Context, scope model.Scope, key string) (*model.Flag, error)
	ListPersonal(ctx context.Context, ownerID uint64) ([]model.Flag, error)
	ListByOrgs(ctx context.Context, orgIDs []uint64) ([]model.Flag, error)
	Create(ctx context.Context, flag *model.Flag) error
	Save(ctx context.Context, flag *model.Flag) error
	Delete(ctx context.Context, id uint64) error
	PingContext(ctx context.Context) error
	WithTx(tx *gorm.DB) FlagInterface
}

type FlagRepository struct {
	db *gorm.DB
}

func NewFlagRepository(db *gorm.DB) *FlagRepository {
	return &FlagRepository{db: db}
}

func (r *FlagRepository) GetByID(ctx context.Context, id uint64) (*model.Flag, error) {
	var flag model.Flag
	if err := r.db.WithContext(ctx).First(&flag, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &flag, nil
}

func (r *FlagRepository) GetByKeyInScope(ctx context.Context, scope model.Scope, key string) (*model.Flag, error) {
	var flag model.Flag
	query := r.db.WithContext(ctx).Where("`key` = ?", key)
	switch scope.Kind {
	case model.ScopeOrganization:
		query = query.Where("org_id = ?", scope.OrgID)
	default:
		query = query.Where("org_id IS NULL AND owner_id = ?", scope.OwnerID)
	}
	if err := query.First(&flag).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &flag, nil
}

func (r *FlagRepository) ListPersonal(ctx context.Context, ownerID uint64) ([]model.Flag, error) {
	var flags []model.Flag
	err := r.db.WithContext(ctx).
		Where("org_id IS NULL AND owner_id = ?", ownerID).
		Order("`key` ASC").
		Find(&flags).Error
	return flags, err
}

func (r *FlagRepository) ListByOrgs(ctx context.Context, orgIDs []uint64) ([]model.Flag, error) {
	if len(orgIDs) == 0 {
		return nil, nil
	}
	var flags []model.Flag
	err := r.db.WithContext(ctx).
		Where("org_id IN ?", orgIDs).
		Order("`key` ASC").
		Find(&flags).Error
	return flags, err
}

func (r *FlagRepository) Create(ctx context.Context, flag *model.Flag) error {
	return r.db.WithContext(ctx).Create(flag).Error
}

func (r *FlagRepository) Save(ctx context.Context, flag *model.Flag) error {
	return r.db.WithContext(ctx).Save(flag).Error
}

func (r *FlagRepository) Delete(ctx context.Context, id uint64) error {
	return r.db.WithContext(ctx).Delete(&model.Flag{}, id).Error
}

func (r *FlagRepository) PingContext(ctx context.Context) error {
	sqlDB, err := r.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

func (r *FlagRepository) WithTx(tx *gorm.DB) FlagInterface {
	return &FlagRepository{db: tx}
}
