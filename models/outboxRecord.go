package models

import (
	"context"
	"encoding/json"
	"time"

	"github.com/ledgerlinkhq/invoicebridge_backend/config"
	"gorm.io/gorm"
)

// OutboxRecord is the transactional outbox row. Writers insert it inside
// the same transaction as the state change it announces; the dispatcher
// publishes it to Pub/Sub after commit and consumers report their outcome
// back onto the row.
type OutboxRecord struct {
	ID            int                 `gorm:"primary_key;index:idx_outbox_dispatch,priority:3;index:idx_outbox_reconcile,priority:3" json:"id"`
	TenantId      string              `gorm:"size:64;not null;index;index:idx_outbox_reconcile,priority:1" json:"tenant_id"`
	SourceId      string              `gorm:"size:36;index" json:"source_id"`
	OccurredAt    time.Time           `gorm:"index;not null" json:"occurred_at"`
	ReferenceId   string              `gorm:"size:36;not null;index" json:"reference_id"`
	ReferenceType OutboxReferenceType `gorm:"type:enum('EV','SY','CF')" json:"reference_type"`
	Action        PubSubMessageAction `gorm:"type:enum('C','U','D')" json:"action"`
	Payload       []byte              `gorm:"type:blob" json:"payload"`
	IsProcessed   bool                `gorm:"index;not null;index:idx_outbox_reconcile,priority:2" json:"is_processed"`
	// Publish metadata (publish happens after commit via dispatcher).
	PublishStatus    string     `gorm:"size:20;index;not null;default:'PENDING';index:idx_outbox_dispatch,priority:1" json:"publish_status"` // PENDING|PROCESSING|SENT|FAILED|DEAD
	PublishedAt      *time.Time `gorm:"index" json:"published_at"`
	PubSubMessageId  *string    `gorm:"size:255" json:"pubsub_message_id"`
	PublishAttempts  int        `gorm:"not null;default:0" json:"publish_attempts"`
	NextAttemptAt    *time.Time `gorm:"index;index:idx_outbox_dispatch,priority:2" json:"next_attempt_at"`
	LockedAt         *time.Time `gorm:"index" json:"locked_at"`
	LockedBy         *string    `gorm:"size:100" json:"locked_by"`
	LastPublishError *string    `gorm:"type:text" json:"last_publish_error"`
	// Processing metadata (consumer/worker)
	LastProcessError *string    `gorm:"type:text" json:"last_process_error"`
	ProcessedAt      *time.Time `gorm:"index" json:"processed_at"`
	CorrelationId    string     `gorm:"size:64;index" json:"correlation_id"`
	CreatedAt        time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt        time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

// EnqueueOutbox writes the outbox row inside the caller's DB transaction
// but does NOT publish to Pub/Sub. Publishing is performed asynchronously
// by the outbox dispatcher after commit.
func EnqueueOutbox(ctx context.Context, db *gorm.DB, tenantId string, sourceId string, occurredAt time.Time, refId string, refType OutboxReferenceType, action PubSubMessageAction, payload interface{}) error {

	var payloadInByte []byte
	var err error
	if payload != nil {
		payloadInByte, err = json.Marshal(payload)
		if err != nil {
			return err
		}
	}

	record := OutboxRecord{
		TenantId:      tenantId,
		SourceId:      sourceId,
		OccurredAt:    occurredAt,
		ReferenceId:   refId,
		ReferenceType: refType,
		Action:        action,
		Payload:       payloadInByte,
		IsProcessed:   false,
		PublishStatus: OutboxPublishStatusPending,
		CorrelationId: correlationIdFromContextOrNew(ctx),
	}
	return db.Create(&record).Error
}

func ConvertToPubSubMessage(record OutboxRecord) config.PubSubMessage {
	return config.PubSubMessage{
		ID:            record.ID,
		TenantId:      record.TenantId,
		SourceId:      record.SourceId,
		OccurredAt:    record.OccurredAt,
		ReferenceId:   record.ReferenceId,
		ReferenceType: string(record.ReferenceType),
		Action:        string(record.Action),
		Payload:       record.Payload,
		CorrelationId: record.CorrelationId,
	}
}

// MarkOutboxProcessed reports the consumer outcome back onto the outbox row.
// The flag feeds reconciliation, not dispatch, so a missed update is simply
// re-reported on the next redelivery.
func MarkOutboxProcessed(ctx context.Context, recordId int, processErr error) error {
	if recordId == 0 {
		return nil
	}
	var updates map[string]interface{}
	if processErr != nil {
		msg := processErr.Error()
		updates = map[string]interface{}{"LastProcessError": &msg}
	} else {
		now := time.Now().UTC()
		updates = map[string]interface{}{
			"IsProcessed":      true,
			"ProcessedAt":      &now,
			"LastProcessError": nil,
		}
	}
	db := config.GetDB()
	return db.WithContext(ctx).Model(&OutboxRecord{}).Where("id = ?", recordId).Updates(updates).Error
}
