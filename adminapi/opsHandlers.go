package adminapi

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/ledgerlinkhq/invoicebridge_backend/config"
	"github.com/ledgerlinkhq/invoicebridge_backend/models"
	"github.com/ledgerlinkhq/invoicebridge_backend/utils"
)

// ListOutboxHandler exposes stuck outbox rows so operators can see what the
// dispatcher gave up on before resetting anything.
func ListOutboxHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !requireAdmin(c) {
			return
		}
		tenantId, err := resolveTenantID(c)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		ctx := utils.SetTenantIdInContext(c.Request.Context(), tenantId)

		statuses := []string{models.OutboxPublishStatusDead, models.OutboxPublishStatusFailed}
		if v := strings.TrimSpace(c.Query("publish_status")); v != "" {
			statuses = []string{v}
		}

		db := config.GetDB()
		var records []*models.OutboxRecord
		err = db.WithContext(ctx).
			Where("tenant_id = ? AND publish_status IN ?", tenantId, statuses).
			Order("id DESC").
			Limit(config.SearchLimit).
			Find(&records).Error
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"records": records})
	}
}

type outboxReplayRequest struct {
	Ids []int `json:"ids"`
}

// ReplayOutboxHandler resets DEAD and FAILED outbox rows to PENDING so the
// dispatcher picks them up again. With no ids in the body every stuck row
// for the tenant is reset.
func ReplayOutboxHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !requireAdmin(c) {
			return
		}
		tenantId, err := resolveTenantID(c)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		ctx := utils.SetTenantIdInContext(c.Request.Context(), tenantId)

		var req outboxReplayRequest
		if c.Request.ContentLength > 0 {
			if err := c.ShouldBindJSON(&req); err != nil {
				writeBindError(c, err)
				return
			}
		}

		db := config.GetDB()
		q := db.WithContext(ctx).Model(&models.OutboxRecord{}).
			Where("tenant_id = ?", tenantId).
			Where("publish_status IN ?", []string{models.OutboxPublishStatusDead, models.OutboxPublishStatusFailed})
		if len(req.Ids) > 0 {
			q = q.Where("id IN ?", req.Ids)
		}

		result := q.Updates(map[string]interface{}{
			"PublishStatus":    models.OutboxPublishStatusPending,
			"PublishAttempts":  0,
			"NextAttemptAt":    nil,
			"LockedAt":         nil,
			"LockedBy":         nil,
			"LastPublishError": nil,
		})
		if result.Error != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": result.Error.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"reset": result.RowsAffected})
	}
}
