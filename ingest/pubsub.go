package ingest

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/bsm/redislock"
	"github.com/gin-gonic/gin"
	"github.com/ledgerlinkhq/invoicebridge_backend/config"
	"github.com/ledgerlinkhq/invoicebridge_backend/models"
	"github.com/ledgerlinkhq/invoicebridge_backend/utils"
	"github.com/ledgerlinkhq/invoicebridge_backend/workflow"
	"github.com/sirupsen/logrus"
)

const transformHandlerName = "transform"

type pubSubPushEnvelope struct {
	Message struct {
		Data []byte `json:"data"`
		ID   string `json:"messageId"`
	} `json:"message"`
	Subscription string `json:"subscription"`
}

// TransformPushHandler consumes transform tasks from the Pub/Sub push
// subscription. Malformed messages are acked and dropped to avoid infinite
// retries; retryable failures return non-2xx so Pub/Sub redelivers.
func TransformPushHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		logger := config.GetLogger()

		body, err := io.ReadAll(c.Request.Body)
		if err != nil {
			config.LogError(logger, "ingest", "TransformPushHandler", "io.ReadAll", nil, err)
			// Malformed request body: ack/drop to avoid infinite retries.
			c.Status(http.StatusNoContent)
			return
		}

		// byte slice unmarshalling handles base64 decoding.
		var envelope pubSubPushEnvelope
		if err := json.Unmarshal(body, &envelope); err != nil {
			config.LogError(logger, "ingest", "TransformPushHandler", "Unmarshal body", body, err)
			// Malformed request: ack/drop to avoid infinite retries.
			c.Status(http.StatusNoContent)
			return
		}

		var m config.PubSubMessage
		if err := json.Unmarshal(envelope.Message.Data, &m); err != nil {
			config.LogError(logger, "ingest", "TransformPushHandler", "Unmarshal pubsub message", envelope.Message.Data, err)
			// Malformed Pub/Sub payload: ack/drop to avoid infinite retries.
			c.Status(http.StatusNoContent)
			return
		}

		// Basic validation to avoid retry loops on poisoned messages.
		if m.TenantId == "" || m.ReferenceType != string(models.OutboxReferenceTypeEvent) || m.ReferenceId == "" {
			config.LogError(logger, "ingest", "TransformPushHandler", "Invalid transform message (missing required fields)", m,
				fmt.Errorf("tenant_id/reference_type/reference_id required"))
			c.Status(http.StatusNoContent)
			return
		}

		// Correlation ID propagation: prefer payload correlation_id; fall back to Pub/Sub message ID.
		correlationID := m.CorrelationId
		if correlationID == "" {
			correlationID = envelope.Message.ID
		}

		// Best-effort: serialize transforms per tenant so config cache churn
		// and sync-record writes do not interleave. Processing is safe without
		// the lock; proceed when redis cannot grant it.
		var lock *redislock.Lock
		locker := config.GetRedisLock()
		if locker == nil {
			logger.WithFields(logrus.Fields{
				"field":      "TransformPushHandler",
				"tenant_id":  m.TenantId,
				"event_id":   m.ReferenceId,
				"message_id": envelope.Message.ID,
			}).Warn("redis lock not ready; proceeding without redis lock")
		} else {
			lock, err = locker.Obtain(c.Request.Context(), fmt.Sprintf("lock:transform:%s", m.TenantId), 30*time.Second, nil)
			if err == redislock.ErrNotObtained {
				logger.WithFields(logrus.Fields{
					"field":      "TransformPushHandler",
					"tenant_id":  m.TenantId,
					"event_id":   m.ReferenceId,
					"message_id": envelope.Message.ID,
				}).Warn("could not obtain redis lock; proceeding without redis lock")
				lock = nil
			} else if err != nil {
				logger.WithFields(logrus.Fields{
					"field":      "TransformPushHandler",
					"tenant_id":  m.TenantId,
					"event_id":   m.ReferenceId,
					"message_id": envelope.Message.ID,
				}).Warn("error obtaining redis lock; proceeding without redis lock: " + err.Error())
				lock = nil
			}
		}
		defer func() {
			if lock == nil {
				return
			}
			if releaseErr := lock.Release(c.Request.Context()); releaseErr != nil {
				logger.WithFields(logrus.Fields{
					"field":      "TransformPushHandler",
					"tenant_id":  m.TenantId,
					"event_id":   m.ReferenceId,
					"message_id": envelope.Message.ID,
				}).Warn("failed to release redis lock: " + releaseErr.Error())
			}
		}()

		ctx := utils.SetTenantIdInContext(c.Request.Context(), m.TenantId)
		ctx = utils.SetUserIdInContext(ctx, 0)
		ctx = utils.SetUsernameInContext(ctx, "System")
		ctx = utils.SetCorrelationIdInContext(ctx, correlationID)

		db := config.GetDB().WithContext(ctx)
		skip, err := workflow.BeginIdempotency(db, m.TenantId, transformHandlerName, envelope.Message.ID)
		if err != nil {
			if errors.Is(err, workflow.ErrIdempotencyInProgress) {
				logger.WithFields(logrus.Fields{
					"field":      "TransformPushHandler",
					"tenant_id":  m.TenantId,
					"event_id":   m.ReferenceId,
					"message_id": envelope.Message.ID,
				}).Warn("transform in progress elsewhere; requesting redelivery")
			} else {
				config.LogError(logger, "ingest", "TransformPushHandler", "BeginIdempotency", m, err)
			}
			c.Status(http.StatusInternalServerError)
			return
		}
		if skip {
			c.Status(http.StatusNoContent)
			return
		}

		if err := ProcessTransformJob(ctx, m.TenantId, m.ReferenceId); err != nil {
			_ = workflow.MarkIdempotencyFailed(db, m.TenantId, transformHandlerName, envelope.Message.ID, err)
			_ = models.MarkOutboxProcessed(ctx, m.ID, err)
			logger.WithFields(logrus.Fields{
				"field":          "TransformPushHandler",
				"tenant_id":      m.TenantId,
				"event_id":       m.ReferenceId,
				"message_id":     envelope.Message.ID,
				"correlation_id": correlationID,
			}).Error("transform processing failed: " + err.Error())
			// Non-2xx tells Pub/Sub to retry (and potentially route to DLQ).
			c.Status(http.StatusInternalServerError)
			return
		}

		if err := workflow.MarkIdempotencySucceeded(db, m.TenantId, transformHandlerName, envelope.Message.ID); err != nil {
			config.LogError(logger, "ingest", "TransformPushHandler", "MarkIdempotencySucceeded", m, err)
		}
		if err := models.MarkOutboxProcessed(ctx, m.ID, nil); err != nil {
			config.LogError(logger, "ingest", "TransformPushHandler", "MarkOutboxProcessed", m, err)
		}

		// Success: ack.
		c.Status(http.StatusNoContent)
	}
}
