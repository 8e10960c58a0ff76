package models

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/ledgerlinkhq/invoicebridge_backend/config"
	"github.com/ledgerlinkhq/invoicebridge_backend/utils"
	"github.com/go-sql-driver/mysql"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// WebhookEvent is one received payload. The row is written before any
// transformation so nothing a sender posts is ever lost, whatever the
// mapping configuration looks like.
//
// Dedupe: (tenant_id, source_id, external_event_id) is unique. Senders that
// do not set an event id header get NULL there, which MySQL keeps out of the
// unique check.
type WebhookEvent struct {
	ID                string             `gorm:"primary_key;size:36" json:"id"`
	TenantId          string             `gorm:"size:64;not null;uniqueIndex:idx_event_dedupe,priority:1" json:"tenant_id"`
	SourceId          string             `gorm:"size:36;not null;index;uniqueIndex:idx_event_dedupe,priority:2" json:"source_id"`
	ExternalEventId   *string            `gorm:"size:128;uniqueIndex:idx_event_dedupe,priority:3" json:"external_event_id"`
	EventType         string             `gorm:"size:100" json:"event_type"`
	Status            WebhookEventStatus `gorm:"size:20;not null;index" json:"status"`
	Payload           json.RawMessage    `gorm:"type:json" json:"payload"`
	PayloadArchiveKey string             `gorm:"size:255" json:"payload_archive_key"`
	ReceivedAt        time.Time          `gorm:"index;not null" json:"received_at"`
	ProcessedAt       *time.Time         `json:"processed_at"`
	ProcessAttempts   int                `gorm:"not null;default:0" json:"process_attempts"`
	LastError         *string            `gorm:"type:text" json:"last_error"`
	CorrelationId     string             `gorm:"size:64;index" json:"correlation_id"`
	CreatedAt         time.Time          `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt         time.Time          `gorm:"autoUpdateTime" json:"updated_at"`
}

// CreateWebhookEvent stores the event row inside the caller's transaction,
// so intake and its outbox row commit together. Returns ErrorDuplicateEvent
// when the sender's event id was seen before for this source.
func CreateWebhookEvent(ctx context.Context, tx *gorm.DB, event *WebhookEvent) error {

	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.Status == "" {
		event.Status = EventStatusReceived
	}
	if event.ReceivedAt.IsZero() {
		event.ReceivedAt = time.Now().UTC()
	}
	if event.CorrelationId == "" {
		event.CorrelationId = correlationIdFromContextOrNew(ctx)
	}

	if err := tx.WithContext(ctx).Create(event).Error; err != nil {
		var mysqlErr *mysql.MySQLError
		if errors.As(err, &mysqlErr) && mysqlErr.Number == 1062 {
			return utils.ErrorDuplicateEvent
		}
		return err
	}
	return nil
}

// FindDuplicateEvent fetches the previously stored row for a replayed
// external event id, so ingest can answer with the original event id.
func FindDuplicateEvent(ctx context.Context, tenantId string, sourceId string, externalEventId string) (*WebhookEvent, error) {
	db := config.GetDB()
	var event WebhookEvent
	err := db.WithContext(ctx).
		Where("tenant_id = ? AND source_id = ? AND external_event_id = ?", tenantId, sourceId, externalEventId).
		First(&event).Error
	if err != nil {
		return nil, err
	}
	return &event, nil
}

func GetWebhookEvent(ctx context.Context, id string) (*WebhookEvent, error) {

	tenantId, ok := utils.GetTenantIdFromContext(ctx)
	if !ok || tenantId == "" {
		return nil, errors.New("tenant id is required")
	}

	db := config.GetDB()
	var event WebhookEvent
	err := db.WithContext(ctx).Where("tenant_id = ? AND id = ?", tenantId, id).First(&event).Error
	if err != nil {
		return nil, err
	}
	return &event, nil
}

// MarkEventProcessing flips the row to PROCESSING and counts the attempt.
// Workers call it before transforming.
func MarkEventProcessing(ctx context.Context, tenantId string, id string) error {
	db := config.GetDB()
	return db.WithContext(ctx).Model(&WebhookEvent{}).
		Where("tenant_id = ? AND id = ?", tenantId, id).
		Updates(map[string]interface{}{
			"Status":          EventStatusProcessing,
			"ProcessAttempts": gorm.Expr("process_attempts + 1"),
		}).Error
}

// CompleteEvent records the terminal status of one processing attempt.
func CompleteEvent(ctx context.Context, tenantId string, id string, status WebhookEventStatus, processErr *string) error {
	now := time.Now().UTC()
	db := config.GetDB()
	return db.WithContext(ctx).Model(&WebhookEvent{}).
		Where("tenant_id = ? AND id = ?", tenantId, id).
		Updates(map[string]interface{}{
			"Status":      status,
			"ProcessedAt": &now,
			"LastError":   processErr,
		}).Error
}

// SetEventArchiveKey records where the raw payload was archived.
func SetEventArchiveKey(ctx context.Context, tenantId string, id string, objectKey string) error {
	db := config.GetDB()
	return db.WithContext(ctx).Model(&WebhookEvent{}).
		Where("tenant_id = ? AND id = ?", tenantId, id).
		UpdateColumn("payload_archive_key", objectKey).Error
}

type WebhookEventFilter struct {
	SourceId  *string             `form:"source_id"`
	Status    *WebhookEventStatus `form:"status"`
	EventType *string             `form:"event_type"`
	From      *time.Time          `form:"from" time_format:"2006-01-02T15:04:05Z07:00"`
	To        *time.Time          `form:"to" time_format:"2006-01-02T15:04:05Z07:00"`
	Limit     int                 `form:"limit"`
	After     *string             `form:"after"`
}

type WebhookEventConnection struct {
	Events   []*WebhookEvent `json:"events"`
	PageInfo PageInfo        `json:"page_info"`
}

// GetWebhookEvents pages newest first on (received_at, id).
func GetWebhookEvents(ctx context.Context, filter *WebhookEventFilter) (*WebhookEventConnection, error) {

	tenantId, ok := utils.GetTenantIdFromContext(ctx)
	if !ok || tenantId == "" {
		return nil, errors.New("tenant id is required")
	}

	limit := filter.Limit
	if limit <= 0 || limit > 100 {
		limit = config.SearchLimit
	}

	db := config.GetDB()
	dbCtx := db.WithContext(ctx).Where("tenant_id = ?", tenantId)
	if filter.SourceId != nil && *filter.SourceId != "" {
		dbCtx = dbCtx.Where("source_id = ?", *filter.SourceId)
	}
	if filter.Status != nil && *filter.Status != "" {
		dbCtx = dbCtx.Where("status = ?", *filter.Status)
	}
	if filter.EventType != nil && *filter.EventType != "" {
		dbCtx = dbCtx.Where("event_type = ?", *filter.EventType)
	}
	if filter.From != nil {
		dbCtx = dbCtx.Where("received_at >= ?", *filter.From)
	}
	if filter.To != nil {
		dbCtx = dbCtx.Where("received_at <= ?", *filter.To)
	}

	receivedAt, id := DecodeCompositeCursor(filter.After)
	if receivedAt != "" {
		dbCtx = dbCtx.Where("received_at < ? OR (received_at = ? AND id < ?)", receivedAt, receivedAt, id)
	}

	var events []*WebhookEvent
	if err := dbCtx.Order("received_at DESC, id DESC").Limit(limit + 1).Find(&events).Error; err != nil {
		return nil, err
	}

	hasNext := len(events) > limit
	if hasNext {
		events = events[:limit]
	}

	conn := &WebhookEventConnection{Events: events, PageInfo: PageInfo{HasNextPage: &hasNext}}
	if len(events) > 0 {
		last := events[len(events)-1]
		conn.PageInfo.EndCursor = EncodeCompositeCursor(last.ReceivedAt.UTC().Format(time.RFC3339Nano), last.ID)
		first := events[0]
		conn.PageInfo.StartCursor = EncodeCompositeCursor(first.ReceivedAt.UTC().Format(time.RFC3339Nano), first.ID)
	}
	return conn, nil
}
