package repository

import (
	"context"
	"errors"
	"flagpost/internal/model"
	"flagpost/pkg/constraints"

	"gorm.io/gorm"
)

type MembershipInterface interface {
	Get(ctx context.Context, orgID, userID uint64) (*model.Membership, error)
	ListByOrg(ctx context.Context, orgID uint64) ([]model.Membership, error)
	ListOrgIDsByUser(ctx context.Context, userID uint64) ([]uint64, error)
	CountAdmins(ctx context.Context, orgID uint64) (int64, error)
	Create(ctx context.Context, m *model.Membership) error
	Save(ctx context.Context, m *model.Membership) error
	Delete(ctx context.Context, id uint64) error
	WithTx(tx *gorm.DB) MembershipInterface
}

type MembershipRepository struct {
	db *gorm.DB
}

func NewMembershipRepository(db *gorm.DB) *MembershipRepository {
	return &MembershipRepository{db: db}
}

func (r *MembershipRepository) Get(ctx context.Context, orgID, userID uint64) (*model.Membership, error) {
	var m model.Membership
	err := r.db.WithContext(ctx).
		Where("org_id = ? AND user_id = ?", orgID, userID).
		First(&m).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &m, nil
}

func (r *MembershipRepository) ListByOrg(ctx context.Context, orgID uint64) ([]model.Membership, error) {
	var ms []model.Membership
	err := r.db.WithContext(ctx).
		Where("org_id = ?", orgID).
		Order("created_at ASC").
		Find(&ms).Error
	return ms, err
}

func (r *MembershipRepository) ListOrgIDsByUser(ctx context.Context, userID uint64) ([]uint64, error) {
	var ids []uint64
	err := r.db.WithContext(ctx).
		Model(&model.Membership{}).
		Where("user_id = ?", userID).
		Pluck("org_id", &ids).Error
	return ids, err
}

func (r *MembershipRepository) CountAdmins(ctx context.Context, orgID uint64) (int64, error) {
	var n int64
	err := r.db.WithContext(ctx).
		Model(&model.Membership{}).
		Where("org_id = ? AND role = ?", orgID, constraints.RoleAdmin).
		Count(&n).Error
	return n, err
}

func (r *MembershipRepository) Create(ctx context.Context, m *model.Membership) error {
	return r.db.WithContext(ctx).Create(m).Error
}

func (r *MembershipRepository) Save(ctx context.Context, m *model.Membership) error {
	return r.db.WithContext(ctx).Save(m).Error
}

func (r *MembershipRepository) Delete(ctx context.Context, id uint64) error {
	return r.db.WithContext(ctx).Delete(&model.Membership{}, id).Error
}

func (r *MembershipRepository) WithTx(tx *gorm.DB) MembershipInterface {
	return &MembershipRepository{db: tx}
}
