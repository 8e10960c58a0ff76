package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/ledgerlinkhq/invoicebridge_backend/config"
	"github.com/ledgerlinkhq/invoicebridge_backend/mapping"
	"github.com/ledgerlinkhq/invoicebridge_backend/models"
	"github.com/ledgerlinkhq/invoicebridge_backend/utils"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"
)

var tracer = otel.Tracer("invoicebridge/ingest")

// ProcessTransformJob runs resolve, transform and persist for one stored
// event. A non-nil return means the attempt failed retryably and the caller
// should request redelivery; terminal outcomes land on the event row and
// return nil.
func ProcessTransformJob(ctx context.Context, tenantId string, eventId string) error {
	ctx = utils.SetTenantIdInContext(ctx, tenantId)
	ctx, span := tracer.Start(ctx, "transform.process", trace.WithAttributes(
		attribute.String("tenant_id", tenantId),
		attribute.String("event_id", eventId),
	))
	defer span.End()

	logger := config.GetLogger()
	db := config.GetDB()

	var event models.WebhookEvent
	err := db.WithContext(ctx).
		Where("id = ? AND tenant_id = ?", eventId, tenantId).
		Take(&event).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil
	}
	if err != nil {
		return err
	}

	_ = models.MarkEventProcessing(ctx, tenantId, event.ID)

	resolver := mapping.NewResolver(models.NewMappingStore())
	em, err := resolver.Resolve(ctx, tenantId, event.SourceId)
	if errors.Is(err, mapping.ErrSourceNotFound) {
		// The source row is gone; the event can never transform.
		msg := err.Error()
		if err := models.CompleteEvent(ctx, tenantId, event.ID, models.EventStatusFailed, &msg); err != nil {
			return err
		}
		return nil
	}
	if err != nil {
		return err
	}
	if em == nil {
		// Store-but-do-not-transform: the payload is kept, nothing else
		// happens until the tenant configures a mapping and replays.
		if err := models.CompleteEvent(ctx, tenantId, event.ID, models.EventStatusSkipped, nil); err != nil {
			return err
		}
		config.LogInfo(logger, "ingest", "ProcessTransformJob", "no effective mapping; event skipped", event.ID)
		return nil
	}

	var payload interface{}
	if err := json.Unmarshal(event.Payload, &payload); err != nil {
		msg := "stored payload is not valid json: " + err.Error()
		if err := models.CompleteEvent(ctx, tenantId, event.ID, models.EventStatusFailed, &msg); err != nil {
			return err
		}
		return nil
	}

	result := mapping.Transform(payload, em)
	record := models.NewSyncRecordFromResult(&event, result, em.MergeLog)

	if record.DeliveryStatus == models.DeliveryStatusPending {
		source, srcErr := models.GetSourceById(ctx, event.SourceId)
		if srcErr != nil && !errors.Is(srcErr, utils.ErrorRecordNotFound) {
			return srcErr
		}
		if source != nil && !config.DeliveryEnabledFor(string(source.SourceType)) {
			record.DeliveryStatus = models.DeliveryStatusSkipped
		}
	}

	err = db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := models.SaveSyncRecord(ctx, tx, record); err != nil {
			return err
		}
		// SaveSyncRecord keeps a DELIVERED state across replays; only a
		// pending record gets a delivery task.
		if record.DeliveryStatus == models.DeliveryStatusPending {
			return models.EnqueueOutbox(ctx, tx, tenantId, event.SourceId, time.Now().UTC(),
				strconv.Itoa(record.ID), models.OutboxReferenceTypeSyncRecord, models.PubSubMessageActionCreate, nil)
		}
		return nil
	})
	if err != nil {
		return err
	}

	status := models.EventStatusTransformed
	var lastError *string
	if !result.Success {
		status = models.EventStatusInvalid
		msg := strings.Join(result.ValidationErrors, "; ")
		lastError = &msg
	}
	if err := models.CompleteEvent(ctx, tenantId, event.ID, status, lastError); err != nil {
		return err
	}

	logger.WithFields(logrus.Fields{
		"tenant_id":      tenantId,
		"event_id":       event.ID,
		"source_id":      event.SourceId,
		"sync_record_id": record.ID,
		"success":        result.Success,
		"warnings":       len(result.Warnings),
		"correlation_id": event.CorrelationId,
	}).Info("webhook event transformed")
	return nil
}
