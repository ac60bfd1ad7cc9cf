package service

import (
	"context"
	"flagpost/internal/model"
	"flagpost/internal/repository"

	"gorm.io/gorm"
)

// AuditTrail appends immutable mutation records. Record is meant to run
// inside the same transaction as the mutation it describes (via WithTx), so
// persist and audit commit or roll back as one unit.
type AuditTrail struct {
	repo repository.AuditInterface
}

func NewAuditTrail(repo repository.AuditInterface) *AuditTrail {
	return &AuditTrail{repo: repo}
}

func (a *AuditTrail) WithTx(tx *gorm.DB) *AuditTrail {
	return &AuditTrail{repo: a.repo.WithTx(tx)}
}

func (a *AuditTrail) Record(ctx context.Context, kind, message string, flagID, actorID uint64) error {
	rec := &model.AuditRecord{
		FlagID:  flagID,
		ActorID: actorID,
		Kind:    kind,
		Message: message,
	}
	if err := a.repo.Create(ctx, rec); err != nil {
		return storagef("audit append", err)
	}
	return nil
}

// History returns the flag's records, newest first. Records survive flag
// deletion; history of a deleted flag stays retrievable by id.
func (a *AuditTrail) History(ctx context.Context, flagID uint64) ([]model.AuditRecord, error) {
	recs, err := a.repo.ListByFlag(ctx, flagID)
	if err != nil {
		return nil, storagef("audit list", err)
	}
	return recs, nil
}
