package adminapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/ledgerlinkhq/invoicebridge_backend/mapping"
	"github.com/ledgerlinkhq/invoicebridge_backend/models"
	"github.com/ledgerlinkhq/invoicebridge_backend/utils"
)

// GetEffectiveMappingHandler shows the merged mapping the transform worker
// would use for a source right now, plus any required target fields the
// merge still leaves uncovered.
func GetEffectiveMappingHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		tenantId, err := resolveTenantID(c)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}

		sourceId := strings.TrimSpace(c.Query("source_id"))
		if sourceId == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "source_id is required"})
			return
		}

		ctx := utils.SetTenantIdInContext(c.Request.Context(), tenantId)
		resolver := mapping.NewResolver(models.NewMappingStore())
		em, err := resolver.Resolve(ctx, tenantId, sourceId)
		if err != nil {
			if errors.Is(err, mapping.ErrSourceNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}

		writeEffectiveMapping(c, em)
	}
}

type previewRequest struct {
	SourceId      string                 `json:"source_id" binding:"required"`
	OverrideId    int                    `json:"override_id"`
	FieldMappings []mapping.FieldMapping `json:"field_mappings" binding:"required"`
	StaticValues  map[string]interface{} `json:"static_values"`
	Priority      *int                   `json:"priority"`
	AllSources    bool                   `json:"all_sources"`
}

// PreviewMappingHandler merges a draft override into the live layers without
// persisting anything, so operators can see the blast radius before saving.
// OverrideId targets an existing override for replacement; zero previews a
// new one.
func PreviewMappingHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		tenantId, err := resolveTenantID(c)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}

		var req previewRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			writeBindError(c, err)
			return
		}

		priority := 50
		if req.Priority != nil {
			priority = *req.Priority
		}
		proposed := mapping.TenantOverride{
			ID:            req.OverrideId,
			TenantID:      tenantId,
			FieldMappings: req.FieldMappings,
			StaticValues:  req.StaticValues,
			Priority:      priority,
			IsActive:      true,
		}
		if !req.AllSources {
			proposed.SourceID = &req.SourceId
		}

		ctx := utils.SetTenantIdInContext(c.Request.Context(), tenantId)
		resolver := mapping.NewResolver(models.NewMappingStore())
		em, err := resolver.PreviewMerge(ctx, tenantId, req.SourceId, proposed)
		if err != nil {
			if errors.Is(err, mapping.ErrSourceNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}

		writeEffectiveMapping(c, em)
	}
}

type transformTestRequest struct {
	SourceId string          `json:"source_id" binding:"required"`
	Payload  json.RawMessage `json:"payload" binding:"required"`
}

// TransformTestHandler runs a sample payload through the live mapping and
// returns the result without writing an event or a sync record.
func TransformTestHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		tenantId, err := resolveTenantID(c)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}

		var req transformTestRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			writeBindError(c, err)
			return
		}

		ctx := utils.SetTenantIdInContext(c.Request.Context(), tenantId)
		resolver := mapping.NewResolver(models.NewMappingStore())
		em, err := resolver.Resolve(ctx, tenantId, req.SourceId)
		if err != nil {
			if errors.Is(err, mapping.ErrSourceNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		if em == nil {
			c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "no effective mapping for source"})
			return
		}

		var payload interface{}
		if err := json.Unmarshal(req.Payload, &payload); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "payload is not valid JSON"})
			return
		}

		result := mapping.Transform(payload, em)
		c.JSON(http.StatusOK, gin.H{"result": result, "merge_log": em.MergeLog})
	}
}

func writeEffectiveMapping(c *gin.Context, em *mapping.EffectiveMapping) {
	if em == nil {
		c.JSON(http.StatusOK, gin.H{
			"configured":              false,
			"missing_required_fields": mapping.MissingRequiredFields(nil),
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"configured":              true,
		"mapping":                 em,
		"missing_required_fields": mapping.MissingRequiredFields(em),
	})
}
