package models

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"time"

	"github.com/ledgerlinkhq/invoicebridge_backend/config"
	"github.com/ledgerlinkhq/invoicebridge_backend/mapping"
	"github.com/ledgerlinkhq/invoicebridge_backend/utils"
	"gorm.io/gorm"
)

// InvoiceSyncRecord is the transform output for one event: the normalized
// invoice document, the validation outcome, and the delivery state toward
// the accounting connection. One row per event; a replay replaces it.
type InvoiceSyncRecord struct {
	ID                int             `gorm:"primary_key" json:"id"`
	TenantId          string          `gorm:"size:64;not null;index:idx_sync_delivery,priority:1" json:"tenant_id"`
	SourceId          string          `gorm:"size:36;not null;index" json:"source_id"`
	EventId           string          `gorm:"size:36;not null;uniqueIndex" json:"event_id"`
	Document          json.RawMessage `gorm:"type:json" json:"document"`
	Success           bool            `gorm:"not null;index" json:"success"`
	ValidationErrors  json.RawMessage `gorm:"type:json" json:"validation_errors"`
	Warnings          json.RawMessage `gorm:"type:json" json:"warnings"`
	MergeLog          json.RawMessage `gorm:"type:json" json:"merge_log"`
	DeliveryStatus    DeliveryStatus  `gorm:"size:20;not null;default:'PENDING';index:idx_sync_delivery,priority:2" json:"delivery_status"`
	DeliveryAttempts  int             `gorm:"not null;default:0" json:"delivery_attempts"`
	NextDeliveryAt    *time.Time      `gorm:"index:idx_sync_delivery,priority:3" json:"next_delivery_at"`
	LastDeliveryError *string         `gorm:"type:text" json:"last_delivery_error"`
	ExternalInvoiceId *string         `gorm:"size:64" json:"external_invoice_id"`
	DeliveredAt       *time.Time      `json:"delivered_at"`
	CorrelationId     string          `gorm:"size:64;index" json:"correlation_id"`
	CreatedAt         time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt         time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

// NewSyncRecordFromResult packs an engine result into a row. Marshal errors
// cannot happen for engine output shapes and degrade to null columns.
func NewSyncRecordFromResult(event *WebhookEvent, result mapping.TransformResult, mergeLog []mapping.MergeLogEntry) *InvoiceSyncRecord {
	doc, _ := json.Marshal(result.Document)
	validationErrors, _ := json.Marshal(result.ValidationErrors)
	warnings, _ := json.Marshal(result.Warnings)
	log, _ := json.Marshal(mergeLog)

	status := DeliveryStatusPending
	if !result.Success {
		status = DeliveryStatusSkipped
	}
	return &InvoiceSyncRecord{
		TenantId:         event.TenantId,
		SourceId:         event.SourceId,
		EventId:          event.ID,
		Document:         doc,
		Success:          result.Success,
		ValidationErrors: validationErrors,
		Warnings:         warnings,
		MergeLog:         log,
		DeliveryStatus:   status,
		CorrelationId:    event.CorrelationId,
	}
}

// SaveSyncRecord writes the transform outcome inside the caller's
// transaction. A replayed event replaces its previous record; delivery
// state survives the replace only when the invoice already went out.
func SaveSyncRecord(ctx context.Context, tx *gorm.DB, record *InvoiceSyncRecord) error {

	var existing InvoiceSyncRecord
	err := tx.WithContext(ctx).
		Where("tenant_id = ? AND event_id = ?", record.TenantId, record.EventId).
		First(&existing).Error
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return err
	}

	if errors.Is(err, gorm.ErrRecordNotFound) {
		return tx.WithContext(ctx).Create(record).Error
	}

	updates := map[string]interface{}{
		"Document":         record.Document,
		"Success":          record.Success,
		"ValidationErrors": record.ValidationErrors,
		"Warnings":         record.Warnings,
		"MergeLog":         record.MergeLog,
		"CorrelationId":    record.CorrelationId,
	}
	if existing.DeliveryStatus != DeliveryStatusDelivered {
		updates["DeliveryStatus"] = record.DeliveryStatus
		updates["DeliveryAttempts"] = 0
		updates["NextDeliveryAt"] = nil
		updates["LastDeliveryError"] = nil
	}
	if err := tx.WithContext(ctx).Model(&existing).Updates(updates).Error; err != nil {
		return err
	}
	*record = existing
	return nil
}

func GetInvoiceSyncRecord(ctx context.Context, id int) (*InvoiceSyncRecord, error) {

	tenantId, ok := utils.GetTenantIdFromContext(ctx)
	if !ok || tenantId == "" {
		return nil, errors.New("tenant id is required")
	}
	return utils.FetchModel[InvoiceSyncRecord](ctx, tenantId, id)
}

func GetInvoiceSyncRecordByEvent(ctx context.Context, eventId string) (*InvoiceSyncRecord, error) {

	tenantId, ok := utils.GetTenantIdFromContext(ctx)
	if !ok || tenantId == "" {
		return nil, errors.New("tenant id is required")
	}

	db := config.GetDB()
	var record InvoiceSyncRecord
	err := db.WithContext(ctx).
		Where("tenant_id = ? AND event_id = ?", tenantId, eventId).
		First(&record).Error
	if err != nil {
		return nil, err
	}
	return &record, nil
}

type InvoiceSyncFilter struct {
	SourceId       *string         `form:"source_id"`
	Success        *bool           `form:"success"`
	DeliveryStatus *DeliveryStatus `form:"delivery_status"`
	Limit          int             `form:"limit"`
	After          *string         `form:"after"`
}

type InvoiceSyncConnection struct {
	Records  []*InvoiceSyncRecord `json:"records"`
	PageInfo PageInfo             `json:"page_info"`
}

// GetInvoiceSyncRecords pages newest first on (created_at, id).
func GetInvoiceSyncRecords(ctx context.Context, filter *InvoiceSyncFilter) (*InvoiceSyncConnection, error) {

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
	if filter.Success != nil {
		dbCtx = dbCtx.Where("success = ?", *filter.Success)
	}
	if filter.DeliveryStatus != nil && *filter.DeliveryStatus != "" {
		dbCtx = dbCtx.Where("delivery_status = ?", *filter.DeliveryStatus)
	}

	createdAt, cursorId := DecodeCompositeCursor(filter.After)
	if createdAt != "" {
		id, _ := strconv.Atoi(cursorId)
		dbCtx = dbCtx.Where("created_at < ? OR (created_at = ? AND id < ?)", createdAt, createdAt, id)
	}

	var records []*InvoiceSyncRecord
	if err := dbCtx.Order("created_at DESC, id DESC").Limit(limit + 1).Find(&records).Error; err != nil {
		return nil, err
	}

	hasNext := len(records) > limit
	if hasNext {
		records = records[:limit]
	}

	conn := &InvoiceSyncConnection{Records: records, PageInfo: PageInfo{HasNextPage: &hasNext}}
	if len(records) > 0 {
		last := records[len(records)-1]
		conn.PageInfo.EndCursor = EncodeCompositeCursor(last.CreatedAt.UTC().Format(time.RFC3339Nano), strconv.Itoa(last.ID))
		first := records[0]
		conn.PageInfo.StartCursor = EncodeCompositeCursor(first.CreatedAt.UTC().Format(time.RFC3339Nano), strconv.Itoa(first.ID))
	}
	return conn, nil
}

// MarkSyncDelivering claims the record for one delivery attempt.
func MarkSyncDelivering(ctx context.Context, tenantId string, id int) error {
	db := config.GetDB()
	return db.WithContext(ctx).Model(&InvoiceSyncRecord{}).
		Where("tenant_id = ? AND id = ?", tenantId, id).
		Updates(map[string]interface{}{
			"DeliveryStatus":   DeliveryStatusProcessing,
			"DeliveryAttempts": gorm.Expr("delivery_attempts + 1"),
		}).Error
}

func MarkSyncDelivered(ctx context.Context, tenantId string, id int, externalInvoiceId string) error {
	now := time.Now().UTC()
	db := config.GetDB()
	return db.WithContext(ctx).Model(&InvoiceSyncRecord{}).
		Where("tenant_id = ? AND id = ?", tenantId, id).
		Updates(map[string]interface{}{
			"DeliveryStatus":    DeliveryStatusDelivered,
			"ExternalInvoiceId": externalInvoiceId,
			"DeliveredAt":       &now,
			"LastDeliveryError": nil,
			"NextDeliveryAt":    nil,
		}).Error
}

// MarkSyncDeliveryFailed schedules the retry, or parks the record as DEAD
// when retries ran out.
func MarkSyncDeliveryFailed(ctx context.Context, tenantId string, id int, deliveryErr string, nextAttemptAt *time.Time, dead bool) error {
	status := DeliveryStatusFailed
	if dead {
		status = DeliveryStatusDead
	}
	db := config.GetDB()
	return db.WithContext(ctx).Model(&InvoiceSyncRecord{}).
		Where("tenant_id = ? AND id = ?", tenantId, id).
		Updates(map[string]interface{}{
			"DeliveryStatus":    status,
			"LastDeliveryError": deliveryErr,
			"NextDeliveryAt":    nextAttemptAt,
		}).Error
}
