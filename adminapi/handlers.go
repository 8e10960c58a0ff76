package adminapi

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/ledgerlinkhq/invoicebridge_backend/models"
	"github.com/ledgerlinkhq/invoicebridge_backend/utils"
	"gorm.io/gorm"
)

// CreateSourceHandler registers a webhook sender. The plaintext API key is
// returned exactly once; only its hash is stored.
func CreateSourceHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		tenantId, err := resolveTenantID(c)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}

		var input models.NewSource
		if err := c.ShouldBindJSON(&input); err != nil {
			writeBindError(c, err)
			return
		}

		ctx := utils.SetTenantIdInContext(c.Request.Context(), tenantId)
		created, err := models.CreateSource(ctx, &input)
		if err != nil {
			writeModelError(c, err)
			return
		}
		c.JSON(http.StatusOK, created)
	}
}

func ListSourcesHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		tenantId, err := resolveTenantID(c)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		ctx := utils.SetTenantIdInContext(c.Request.Context(), tenantId)

		var name *string
		if v := strings.TrimSpace(c.Query("name")); v != "" {
			name = &v
		}
		var sourceType *models.SourceType
		if v := strings.TrimSpace(c.Query("source_type")); v != "" {
			st := models.SourceType(v)
			sourceType = &st
		}

		sources, err := models.GetSources(ctx, name, sourceType)
		if err != nil {
			writeModelError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"sources": sources})
	}
}

func GetSourceHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		tenantId, err := resolveTenantID(c)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		ctx := utils.SetTenantIdInContext(c.Request.Context(), tenantId)

		source, err := models.GetSourceById(ctx, c.Param("id"))
		if err != nil {
			writeModelError(c, err)
			return
		}
		c.JSON(http.StatusOK, source)
	}
}

func UpdateSourceHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		tenantId, err := resolveTenantID(c)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}

		var input models.NewSource
		if err := c.ShouldBindJSON(&input); err != nil {
			writeBindError(c, err)
			return
		}

		ctx := utils.SetTenantIdInContext(c.Request.Context(), tenantId)
		source, err := models.UpdateSource(ctx, c.Param("id"), &input)
		if err != nil {
			writeModelError(c, err)
			return
		}
		c.JSON(http.StatusOK, source)
	}
}

func DeleteSourceHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		tenantId, err := resolveTenantID(c)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		ctx := utils.SetTenantIdInContext(c.Request.Context(), tenantId)

		if _, err := models.DeleteSource(ctx, c.Param("id")); err != nil {
			writeModelError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"success": true})
	}
}

// RotateSourceKeyHandler issues a fresh API key and invalidates the old one
// everywhere, including the ingest verdict cache.
func RotateSourceKeyHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		tenantId, err := resolveTenantID(c)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		ctx := utils.SetTenantIdInContext(c.Request.Context(), tenantId)

		created, err := models.RotateSourceKey(ctx, c.Param("id"))
		if err != nil {
			writeModelError(c, err)
			return
		}
		c.JSON(http.StatusOK, created)
	}
}

// ToggleSourceHandler flips a source active or inactive. An inactive source
// keeps its history but the ingest endpoint rejects its traffic.
func ToggleSourceHandler(isActive bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		tenantId, err := resolveTenantID(c)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		ctx := utils.SetTenantIdInContext(c.Request.Context(), tenantId)

		source, err := models.ToggleActiveSource(ctx, c.Param("id"), isActive)
		if err != nil {
			writeModelError(c, err)
			return
		}
		c.JSON(http.StatusOK, source)
	}
}

// resolveTenantID reads the tenant set by the session middleware. Admin users
// may act on another tenant by passing ?tenant_id=.
func resolveTenantID(c *gin.Context) (string, error) {
	tenantId, ok := utils.GetTenantIdFromContext(c.Request.Context())
	if !ok || strings.TrimSpace(tenantId) == "" {
		return "", errors.New("unauthorized")
	}

	if override := strings.TrimSpace(c.Query("tenant_id")); override != "" && override != tenantId {
		isAdmin, _ := utils.GetIsAdminFromContext(c.Request.Context())
		if !isAdmin {
			return "", errors.New("unauthorized")
		}
		return override, nil
	}
	return tenantId, nil
}

// requireAdmin writes the 403 itself; callers return immediately on false.
func requireAdmin(c *gin.Context) bool {
	isAdmin, _ := utils.GetIsAdminFromContext(c.Request.Context())
	if !isAdmin {
		c.JSON(http.StatusForbidden, gin.H{"error": "admin only"})
		return false
	}
	return true
}

func writeBindError(c *gin.Context, err error) {
	var fieldErrors validator.ValidationErrors
	if errors.As(err, &fieldErrors) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request", "fields": utils.ProcessValidationErrors(err)})
		return
	}
	c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
}

func writeModelError(c *gin.Context, err error) {
	if errors.Is(err, utils.ErrorRecordNotFound) || errors.Is(err, gorm.ErrRecordNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
		return
	}
	c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
}
