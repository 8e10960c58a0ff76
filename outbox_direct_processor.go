package main

import (
	"context"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/ledgerlinkhq/invoicebridge_backend/ingest"
	"github.com/ledgerlinkhq/invoicebridge_backend/models"
	"github.com/ledgerlinkhq/invoicebridge_backend/quickbooks"
	"github.com/ledgerlinkhq/invoicebridge_backend/utils"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// OutboxDirectProcessor consumes outbox records without Pub/Sub: it claims
// unprocessed rows and invokes the transform and delivery workers in-process.
// Intended for local/dev environments where Pub/Sub is not configured; it
// runs instead of the dispatcher, never alongside it.
type OutboxDirectProcessor struct {
	DB        *gorm.DB
	Logger    *logrus.Logger
	WorkerID  string
	BatchSize int
	Interval  time.Duration
	LockTTL   time.Duration
}

func NewOutboxDirectProcessor(db *gorm.DB, logger *logrus.Logger) *OutboxDirectProcessor {
	return &OutboxDirectProcessor{
		DB:        db,
		Logger:    logger,
		WorkerID:  "direct-" + time.Now().Format("20060102-150405.000"),
		BatchSize: 50,
		Interval:  2 * time.Second,
		LockTTL:   30 * time.Second,
	}
}

// shouldRunDirectOutboxProcessor defaults to off: the invoice post to the
// accounting connection is not idempotent, so direct processing must not run
// as a second consumer next to the Pub/Sub push path. Enable it explicitly
// with OUTBOX_DIRECT_PROCESSING=true when Pub/Sub is absent.
func shouldRunDirectOutboxProcessor() bool {
	return strings.EqualFold(strings.TrimSpace(os.Getenv("OUTBOX_DIRECT_PROCESSING")), "true")
}

func (p *OutboxDirectProcessor) Run(ctx context.Context) {
	if p == nil || p.DB == nil {
		return
	}
	if ctx == nil {
		ctx = context.Background()
	}
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		p.processOnce(ctx)
		select {
		case <-ctx.Done():
			return
		case <-time.After(p.Interval):
		}
	}
}

func (p *OutboxDirectProcessor) processOnce(ctx context.Context) {
	now := time.Now().UTC()
	staleBefore := now.Add(-p.LockTTL)

	var claimed []models.OutboxRecord
	err := p.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		q := tx.
			Where("is_processed = 0").
			Where("(locked_at IS NULL OR locked_at <= ?)", staleBefore).
			Order("id ASC").
			Limit(p.BatchSize).
			Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"})
		if err := q.Find(&claimed).Error; err != nil {
			return err
		}
		if len(claimed) == 0 {
			return nil
		}
		for i := range claimed {
			claimed[i].LockedAt = &now
			claimed[i].LockedBy = &p.WorkerID
			if err := tx.Model(&models.OutboxRecord{}).
				Where("id = ?", claimed[i].ID).
				Updates(map[string]interface{}{
					"locked_at": claimed[i].LockedAt,
					"locked_by": claimed[i].LockedBy,
				}).Error; err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil || len(claimed) == 0 {
		return
	}

	for _, rec := range claimed {
		procCtx := utils.SetTenantIdInContext(ctx, rec.TenantId)
		procCtx = utils.SetUserIdInContext(procCtx, 0)
		procCtx = utils.SetUsernameInContext(procCtx, "System")
		procCtx = utils.SetCorrelationIdInContext(procCtx, rec.CorrelationId)

		if err := p.processRecord(procCtx, rec); err != nil {
			errMsg := err.Error()
			_ = p.DB.WithContext(ctx).Model(&models.OutboxRecord{}).
				Where("id = ?", rec.ID).
				Updates(map[string]interface{}{
					"last_process_error": &errMsg,
					"locked_at":          nil,
					"locked_by":          nil,
				}).Error
			if p.Logger != nil {
				p.Logger.WithFields(logrus.Fields{
					"field":          "OutboxDirectProcessor",
					"tenant_id":      rec.TenantId,
					"reference_type": rec.ReferenceType,
					"reference_id":   rec.ReferenceId,
					"record_id":      rec.ID,
				}).Error("direct processing failed: " + errMsg)
			}
			continue
		}

		_ = p.DB.WithContext(ctx).Model(&models.OutboxRecord{}).
			Where("id = ?", rec.ID).
			Updates(map[string]interface{}{
				"is_processed":       true,
				"processed_at":       &now,
				"last_process_error": nil,
				"locked_at":          nil,
				"locked_by":          nil,
			}).Error
	}
}

func (p *OutboxDirectProcessor) processRecord(ctx context.Context, rec models.OutboxRecord) error {
	switch rec.ReferenceType {
	case models.OutboxReferenceTypeEvent:
		return ingest.ProcessTransformJob(ctx, rec.TenantId, rec.ReferenceId)
	case models.OutboxReferenceTypeSyncRecord:
		recordId, err := strconv.Atoi(rec.ReferenceId)
		if err != nil {
			return err
		}
		return quickbooks.DeliverSyncRecord(ctx, rec.TenantId, recordId)
	default:
		// No direct consumer for this reference type; park the row instead of
		// re-claiming it every poll.
		if p.Logger != nil {
			p.Logger.WithFields(logrus.Fields{
				"field":          "OutboxDirectProcessor",
				"tenant_id":      rec.TenantId,
				"reference_type": rec.ReferenceType,
				"record_id":      rec.ID,
			}).Warn("no direct handler for reference type; marking processed")
		}
		return nil
	}
}
