package req

type CreateFlagRequest struct {
	Key            string  `json:"key" binding:"required"`
	Type           string  `json:"type" binding:"required"`
	DefaultValue   string  `json:"default_value"`
	Description    string  `json:"description"`
	OrganizationID *uint64 `json:"organization_id"`
}

type UpdateFlagRequest struct {
	Key          *string `json:"key"`
	Type         *string `json:"type"`
	DefaultValue *string `json:"default_value"`
	Description  *string `json:"description"`
}

type UpsertOverrideRequest struct {
	UserID uint64 `json:"user_id" binding:"required"`
	Value  string `json:"value"`
}
