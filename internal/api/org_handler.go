package api

import (
	"context"
	"net/http"

	"flagpost/internal/dto/req"
	"flagpost/internal/dto/resp"
	"flagpost/internal/model"

	"github.com/gin-gonic/gin"
)

type OrgProvider interface {
	CreateOrganization(ctx context.Context, name string, creatorID uint64) (*model.Organization, error)
	AddMember(ctx context.Context, orgID, userID uint64, role string, actorID uint64) (*model.Membership, error)
	UpdateMemberRole(ctx context.Context, orgID, userID uint64, role string, actorID uint64) (*model.Membership, error)
	RemoveMember(ctx context.Context, orgID, userID, actorID uint64) error
	Members(ctx context.Context, orgID, viewerID uint64) ([]model.Membership, error)
}

type OrgHandler struct {
	service OrgProvider
}

func NewOrgHandler(service OrgProvider) *OrgHandler {
	return &OrgHandler{service: service}
}

func toMemberItem(m *model.Membership) resp.MemberItem {
	return resp.MemberItem{UserID: m.UserID, Role: m.Role, CreatedAt: m.CreatedAt}
}

func (h *OrgHandler) CreateOrganization(c *gin.Context) {
	op, ok := operator(c)
	if !ok {
		return
	}
	var r req.CreateOrganizationRequest
	if err := c.ShouldBindJSON(&r); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "JSON format error"})
		return
	}

	org, err := h.service.CreateOrganization(c.Request.Context(), r.Name, op.UserID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, resp.OrganizationItem{
		ID:        org.ID,
		Name:      org.Name,
		CreatedBy: org.CreatedBy,
		CreatedAt: org.CreatedAt,
	})
}

func (h *OrgHandler) ListMembers(c *gin.Context) {
	op, ok := operator(c)
	if !ok {
		return
	}
	orgID, ok := pathID(c, "id")
	if !ok {
		return
	}

	members, err := h.service.Members(c.Request.Context(), orgID, op.UserID)
	if err != nil {
		writeError(c, err)
		return
	}
	items := make([]resp.MemberItem, 0, len(members))
	for i := range members {
		items = append(items, toMemberItem(&members[i]))
	}
	c.JSON(http.StatusOK, items)
}

func (h *OrgHandler) AddMember(c *gin.Context) {
	op, ok := operator(c)
	if !ok {
		return
	}
	orgID, ok := pathID(c, "id")
	if !ok {
		return
	}
	var r req.AddMemberRequest
	if err := c.ShouldBindJSON(&r); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "JSON format error"})
		return
	}

	m, err := h.service.AddMember(c.Request.Context(), orgID, r.UserID, r.Role, op.UserID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, toMemberItem(m))
}

func (h *OrgHandler) UpdateMemberRole(c *gin.Context) {
	op, ok := operator(c)
	if !ok {
		return
	}
	orgID, ok := pathID(c, "id")
	if !ok {
		return
	}
	userID, ok := pathID(c, "userID")
	if !ok {
		return
	}
	var r req.UpdateMemberRoleRequest
	if err := c.ShouldBindJSON(&r); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "JSON format error"})
		return
	}

	m, err := h.service.UpdateMemberRole(c.Request.Context(), orgID, userID, r.Role, op.UserID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, toMemberItem(m))
}

func (h *OrgHandler) RemoveMember(c *gin.Context) {
	op, ok := operator(c)
	if !ok {
		return
	}
	orgID, ok := pathID(c, "id")
	if !ok {
		return
	}
	userID, ok := pathID(c, "userID")
	if !ok {
		return
	}

	if err := h.service.RemoveMember(c.Request.Context(), orgID, userID, op.UserID); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "removed"})
}
