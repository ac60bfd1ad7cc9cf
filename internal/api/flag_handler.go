package api

import (
	"context"
	"net/http"
	"strconv"

	"flagpost/internal/dto/req"
	"flagpost/internal/dto/resp"
	"flagpost/internal/model"
	"flagpost/internal/service"

	"github.com/gin-gonic/gin"
)

type FlagProvider interface {
	CreateFlag(ctx context.Context, in service.CreateFlagInput) (*model.Flag, error)
	UpdateFlag(ctx context.Context, flagID uint64, patch service.FlagPatch, actorID uint64) (*model.Flag, error)
	DeleteFlag(ctx context.Context, flagID, actorID uint64) error
	ToggleFlag(ctx context.Context, flagID, actorID uint64) (*model.Flag, error)
	UpsertOverride(ctx context.Context, flagID, targetUserID uint64, value string, actorID uint64) (*model.Override, error)
	DeleteOverride(ctx context.Context, overrideID, actorID uint64) error
	GetFlag(ctx context.Context, flagID, viewerID uint64) (*model.Flag, service.EffectiveValue, error)
	ListFlags(ctx context.Context, viewerID uint64) ([]model.Flag, map[string]service.EffectiveValue, error)
	History(ctx context.Context, flagID, viewerID uint64) ([]model.AuditRecord, error)
	Health(ctx context.Context) error
}

type FlagHandler struct {
	service FlagProvider
}

func NewFlagHandler(service FlagProvider) *FlagHandler {
	return &FlagHandler{service: service}
}

// operator returns the authenticated actor. The JWT middleware guarantees it
// on protected routes; a nil here means a wiring mistake, not a user error.
func operator(c *gin.Context) (*service.OperatorInfo, bool) {
	op := service.GetOperatorInfo(c.Request.Context())
	if op == nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return nil, false
	}
	return op, true
}

func pathID(c *gin.Context, name string) (uint64, bool) {
	id, err := strconv.ParseUint(c.Param(name), 10, 64)
	if err != nil || id == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid " + name})
		return 0, false
	}
	return id, true
}

func toFlagItem(f *model.Flag, eff service.EffectiveValue) resp.FlagItem {
	return resp.FlagItem{
		ID:             f.ID,
		Key:            f.Key,
		Type:           f.Type,
		DefaultValue:   f.DefaultValue,
		Description:    f.Description,
		OwnerID:        f.OwnerID,
		OrganizationID: f.OrgID,
		Enabled:        f.Enabled,
		Value:          eff.Value,
		IsOverridden:   eff.IsOverridden,
		CreatedAt:      f.CreatedAt,
		UpdatedAt:      f.UpdatedAt,
	}
}

func (h *FlagHandler) CreateFlag(c *gin.Context) {
	op, ok := operator(c)
	if !ok {
		return
	}
	var r req.CreateFlagRequest
	if err := c.ShouldBindJSON(&r); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "JSON format error"})
		return
	}

	flag, err := h.service.CreateFlag(c.Request.Context(), service.CreateFlagInput{
		Key:          r.Key,
		Type:         r.Type,
		DefaultValue: r.DefaultValue,
		Description:  r.Description,
		OwnerID:      op.UserID,
		OrgID:        r.OrganizationID,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, toFlagItem(flag, service.EffectiveValue{Value: flag.DefaultValue}))
}

func (h *FlagHandler) GetFlag(c *gin.Context) {
	op, ok := operator(c)
	if !ok {
		return
	}
	id, ok := pathID(c, "id")
	if !ok {
		return
	}

	flag, eff, err := h.service.GetFlag(c.Request.Context(), id, op.UserID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, toFlagItem(flag, eff))
}

func (h *FlagHandler) ListFlags(c *gin.Context) {
	op, ok := operator(c)
	if !ok {
		return
	}

	flags, effective, err := h.service.ListFlags(c.Request.Context(), op.UserID)
	if err != nil {
		writeError(c, err)
		return
	}
	items := make([]resp.FlagItem, 0, len(flags))
	for i := range flags {
		items = append(items, toFlagItem(&flags[i], effective[flags[i].Key]))
	}
	c.JSON(http.StatusOK, items)
}

// Snapshot is the pull half of the change feed: subscribers fetch the full
// resolved view here on (re)connect instead of replaying missed events.
func (h *FlagHandler) Snapshot(c *gin.Context) {
	op, ok := operator(c)
	if !ok {
		return
	}

	flags, effective, err := h.service.ListFlags(c.Request.Context(), op.UserID)
	if err != nil {
		writeError(c, err)
		return
	}
	out := resp.SnapshotResponse{Flags: make(map[string]resp.EffectiveItem, len(flags))}
	for i := range flags {
		f := &flags[i]
		eff := effective[f.Key]
		out.Flags[f.Key] = resp.EffectiveItem{FlagID: f.ID, Value: eff.Value, IsOverridden: eff.IsOverridden}
	}
	c.JSON(http.StatusOK, out)
}

func (h *FlagHandler) UpdateFlag(c *gin.Context) {
	op, ok := operator(c)
	if !ok {
		return
	}
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	var r req.UpdateFlagRequest
	if err := c.ShouldBindJSON(&r); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "JSON format error"})
		return
	}

	flag, err := h.service.UpdateFlag(c.Request.Context(), id, service.FlagPatch{
		Key:          r.Key,
		Type:         r.Type,
		DefaultValue: r.DefaultValue,
		Description:  r.Description,
	}, op.UserID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, toFlagItem(flag, service.EffectiveValue{Value: flag.DefaultValue}))
}

func (h *FlagHandler) DeleteFlag(c *gin.Context) {
	op, ok := operator(c)
	if !ok {
		return
	}
	id, ok := pathID(c, "id")
	if !ok {
		return
	}

	if err := h.service.DeleteFlag(c.Request.Context(), id, op.UserID); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "deleted"})
}

func (h *FlagHandler) ToggleFlag(c *gin.Context) {
	op, ok := operator(c)
	if !ok {
		return
	}
	id, ok := pathID(c, "id")
	if !ok {
		return
	}

	flag, err := h.service.ToggleFlag(c.Request.Context(), id, op.UserID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, toFlagItem(flag, service.EffectiveValue{Value: flag.DefaultValue}))
}

func (h *FlagHandler) GetFlagAudits(c *gin.Context) {
	op, ok := operator(c)
	if !ok {
		return
	}
	id, ok := pathID(c, "id")
	if !ok {
		return
	}

	records, err := h.service.History(c.Request.Context(), id, op.UserID)
	if err != nil {
		writeError(c, err)
		return
	}
	items := make([]resp.AuditLogItem, 0, len(records))
	for _, rec := range records {
		items = append(items, resp.AuditLogItem{
			ID:        rec.ID,
			FlagID:    rec.FlagID,
			ActorID:   rec.ActorID,
			Kind:      rec.Kind,
			Message:   rec.Message,
			CreatedAt: rec.CreatedAt,
		})
	}
	c.JSON(http.StatusOK, items)
}

func (h *FlagHandler) UpsertOverride(c *gin.Context) {
	op, ok := operator(c)
	if !ok {
		return
	}
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	var r req.UpsertOverrideRequest
	if err := c.ShouldBindJSON(&r); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "JSON format error"})
		return
	}

	ov, err := h.service.UpsertOverride(c.Request.Context(), id, r.UserID, r.Value, op.UserID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp.OverrideItem{
		ID:        ov.ID,
		FlagID:    ov.FlagID,
		UserID:    ov.UserID,
		Value:     ov.Value,
		UpdatedAt: ov.UpdatedAt,
	})
}

func (h *FlagHandler) DeleteOverride(c *gin.Context) {
	op, ok := operator(c)
	if !ok {
		return
	}
	id, ok := pathID(c, "id")
	if !ok {
		return
	}

	if err := h.service.DeleteOverride(c.Request.Context(), id, op.UserID); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "deleted"})
}

func (h *FlagHandler) HealthCheck(c *gin.Context) {
	if err := h.service.Health(c.Request.Context()); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unhealthy", "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
