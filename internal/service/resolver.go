package service

import (
	"context"
	"flagpost/internal/model"
	"flagpost/internal/repository"
)

// EffectiveValue is the result of resolving one flag for one viewer. The
// value is the stored text, returned as-is: no coercion or validation
// against the declared type happens at resolve time.
type EffectiveValue struct {
	Value        string `json:"value"`
	IsOverridden bool   `json:"is_overridden"`
}

// Resolver applies the fixed two-level precedence: a (flag, viewer) override
// wins, otherwise the flag's default applies.
type Resolver struct {
	overrides repository.OverrideInterface
}

func NewResolver(overrides repository.OverrideInterface) *Resolver {
	return &Resolver{overrides: overrides}
}

func (r *Resolver) Resolve(ctx context.Context, flag *model.Flag, viewerID uint64) (EffectiveValue, error) {
	ov, err := r.overrides.GetByFlagAndUser(ctx, flag.ID, viewerID)
	if err != nil {
		return EffectiveValue{}, storagef("override lookup", err)
	}
	if ov != nil {
		return EffectiveValue{Value: ov.Value, IsOverridden: true}, nil
	}
	return EffectiveValue{Value: flag.DefaultValue, IsOverridden: false}, nil
}

// ResolveAll builds a per-viewer snapshot keyed by flag key. It is all or
// nothing: if the override store cannot be read the whole batch fails
// rather than silently falling back to defaults.
func (r *Resolver) ResolveAll(ctx context.Context, flags []model.Flag, viewerID uint64) (map[string]EffectiveValue, error) {
	ovs, err := r.overrides.ListByUser(ctx, viewerID)
	if err != nil {
		return nil, storagef("override list", err)
	}
	byFlag := make(map[uint64]string, len(ovs))
	for _, ov := range ovs {
		byFlag[ov.FlagID] = ov.Value
	}

	out := make(map[string]EffectiveValue, len(flags))
	for i := range flags {
		f := &flags[i]
		if val, ok := byFlag[f.ID]; ok {
			out[f.Key] = EffectiveValue{Value: val, IsOverridden: true}
		} else {
			out[f.Key] = EffectiveValue{Value: f.DefaultValue, IsOverridden: false}
		}
	}
	return out, nil
}
