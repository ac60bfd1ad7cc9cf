package repository

import (
	"context"
	"errors"
	"flagpost/internal/model"

	"gorm.io/gorm"
)

type OrganizationInterface interface {
	GetByID(ctx context.Context, id uint64) (*model.Organization, error)
	Create(ctx context.Context, org *model.Organization) error
	WithTx(tx *gorm.DB) OrganizationInterface
}

type OrganizationRepository struct {
	db *gorm.DB
}

func NewOrganizationRepository(db *gorm.DB) *OrganizationRepository {
	return &OrganizationRepository{db: db}
}

func (r *OrganizationRepository) GetByID(ctx context.Context, id uint64) (*model.Organization, error) {
	var org model.Organization
	if err := r.db.WithContext(ctx).First(&org, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &org, nil
}

func (r *OrganizationRepository) Create(ctx context.Context, org *model.Organization) error {
	return r.db.WithContext(ctx).Create(org).Error
}

func (r *OrganizationRepository) WithTx(tx *gorm.DB) OrganizationInterface {
	return &OrganizationRepository{db: tx}
}
