package ingest

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/ledgerlinkhq/invoicebridge_backend/config"
	"github.com/ledgerlinkhq/invoicebridge_backend/models"
	"github.com/ledgerlinkhq/invoicebridge_backend/utils"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

type acceptedResponse struct {
	EventId   string `json:"event_id"`
	Status    string `json:"status"`
	Duplicate bool   `json:"duplicate,omitempty"`
}

// WebhookHandler accepts one raw payload on POST /webhooks/:sourceId. The
// row is committed together with its transform outbox entry before the 202
// goes out; everything after intake happens asynchronously.
func WebhookHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		logger := config.GetLogger()
		sourceId := strings.TrimSpace(c.Param("sourceId"))

		apiKey := strings.TrimSpace(c.GetHeader("X-API-Key"))
		if apiKey == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "X-API-Key header is required"})
			return
		}

		source, err := models.AuthenticateSource(c.Request.Context(), sourceId, apiKey)
		if err != nil {
			switch {
			case errors.Is(err, gorm.ErrRecordNotFound) || errors.Is(err, utils.ErrorRecordNotFound):
				c.JSON(http.StatusNotFound, gin.H{"error": "unknown source"})
			case errors.Is(err, utils.ErrorInvalidAPIKey):
				c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid api key"})
			case errors.Is(err, utils.ErrorSourceDisabled):
				c.JSON(http.StatusForbidden, gin.H{"error": "source is disabled"})
			default:
				config.LogError(logger, "ingest", "WebhookHandler", "AuthenticateSource", sourceId, err)
				c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
			}
			return
		}

		body, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, maxBodyBytes()))
		if err != nil {
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "payload too large"})
			return
		}
		if len(body) == 0 || !json.Valid(body) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "body must be valid json"})
			return
		}

		externalEventId := strings.TrimSpace(c.GetHeader("X-Event-Id"))
		if externalEventId == "" {
			sum := sha256.Sum256(body)
			externalEventId = hex.EncodeToString(sum[:])
		}

		ctx := utils.SetTenantIdInContext(c.Request.Context(), source.TenantId)
		event := &models.WebhookEvent{
			TenantId:        source.TenantId,
			SourceId:        source.ID,
			ExternalEventId: &externalEventId,
			EventType:       deriveEventType(c.GetHeader("X-Event-Type"), body),
			Payload:         json.RawMessage(body),
		}

		db := config.GetDB()
		err = db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			if err := models.CreateWebhookEvent(ctx, tx, event); err != nil {
				return err
			}
			return models.EnqueueOutbox(ctx, tx, source.TenantId, source.ID, event.ReceivedAt,
				event.ID, models.OutboxReferenceTypeEvent, models.PubSubMessageActionCreate, nil)
		})
		if err != nil {
			if errors.Is(err, utils.ErrorDuplicateEvent) {
				original, findErr := models.FindDuplicateEvent(ctx, source.TenantId, source.ID, externalEventId)
				if findErr != nil {
					config.LogError(logger, "ingest", "WebhookHandler", "FindDuplicateEvent", externalEventId, findErr)
					c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
					return
				}
				c.JSON(http.StatusOK, acceptedResponse{
					EventId:   original.ID,
					Status:    string(original.Status),
					Duplicate: true,
				})
				return
			}
			config.LogError(logger, "ingest", "WebhookHandler", "store webhook event", event.EventType, err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
			return
		}

		_ = models.TouchSourceLastEvent(ctx, source.TenantId, source.ID, event.ReceivedAt)

		if config.ArchiveRawPayloads() {
			key := utils.ArchivePayloadObjectKey(source.TenantId, source.ID, event.ID, event.ReceivedAt)
			if archiveErr := utils.ArchivePayload(ctx, key, body); archiveErr != nil {
				config.LogError(logger, "ingest", "WebhookHandler", "ArchivePayload", key, archiveErr)
			} else if markErr := models.SetEventArchiveKey(ctx, source.TenantId, event.ID, key); markErr != nil {
				config.LogError(logger, "ingest", "WebhookHandler", "SetEventArchiveKey", key, markErr)
			}
		}

		if config.InlineTransformMode() {
			if procErr := ProcessTransformJob(ctx, source.TenantId, event.ID); procErr != nil {
				logger.WithFields(logrus.Fields{
					"tenant_id": source.TenantId,
					"event_id":  event.ID,
				}).Error("inline transform failed: " + procErr.Error())
			}
		}

		c.JSON(http.StatusAccepted, acceptedResponse{
			EventId: event.ID,
			Status:  string(event.Status),
		})
	}
}

func maxBodyBytes() int64 {
	if v := strings.TrimSpace(os.Getenv("WEBHOOK_MAX_BODY_BYTES")); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil && n > 0 {
			return n
		}
	}
	return 1 << 20
}

// deriveEventType pulls a best-effort event label from the header or from the
// conventional type fields of the major webhook platforms. Informational
// only; nothing branches on it.
func deriveEventType(header string, body []byte) string {
	if t := strings.TrimSpace(header); t != "" {
		return truncateType(t)
	}

	var payload map[string]interface{}
	if err := json.Unmarshal(body, &payload); err != nil {
		return ""
	}
	for _, key := range []string{"type", "event_type", "topic", "event"} {
		if v, ok := payload[key].(string); ok && strings.TrimSpace(v) != "" {
			return truncateType(v)
		}
	}
	return ""
}

func truncateType(t string) string {
	if len(t) > 100 {
		return t[:100]
	}
	return t
}
