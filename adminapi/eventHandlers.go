package adminapi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/ledgerlinkhq/invoicebridge_backend/config"
	"github.com/ledgerlinkhq/invoicebridge_backend/models"
	"github.com/ledgerlinkhq/invoicebridge_backend/utils"
	"github.com/shopspring/decimal"
	"github.com/xuri/excelize/v2"
	"gorm.io/gorm"
)

const archiveDownloadTTL = 15 * time.Minute

func ListWebhookEventsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		tenantId, err := resolveTenantID(c)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}

		var filter models.WebhookEventFilter
		if err := c.ShouldBindQuery(&filter); err != nil {
			writeBindError(c, err)
			return
		}

		ctx := utils.SetTenantIdInContext(c.Request.Context(), tenantId)
		conn, err := models.GetWebhookEvents(ctx, &filter)
		if err != nil {
			writeModelError(c, err)
			return
		}
		c.JSON(http.StatusOK, conn)
	}
}

func GetWebhookEventHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		tenantId, err := resolveTenantID(c)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}

		ctx := utils.SetTenantIdInContext(c.Request.Context(), tenantId)
		event, err := models.GetWebhookEvent(ctx, c.Param("id"))
		if err != nil {
			writeModelError(c, err)
			return
		}
		c.JSON(http.StatusOK, event)
	}
}

// ReplayWebhookEventHandler requeues a stored event through the transform
// pipeline. The status flip and the outbox row commit together, same as
// intake; the stored payload is reused, nothing is re-fetched from the
// sender.
func ReplayWebhookEventHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		tenantId, err := resolveTenantID(c)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}

		ctx := utils.SetTenantIdInContext(c.Request.Context(), tenantId)
		event, err := models.GetWebhookEvent(ctx, c.Param("id"))
		if err != nil {
			writeModelError(c, err)
			return
		}

		db := config.GetDB()
		err = db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			err := tx.WithContext(ctx).Model(&models.WebhookEvent{}).
				Where("tenant_id = ? AND id = ?", tenantId, event.ID).
				Updates(map[string]interface{}{
					"Status":    models.EventStatusQueued,
					"LastError": nil,
				}).Error
			if err != nil {
				return err
			}
			return models.EnqueueOutbox(ctx, tx, tenantId, event.SourceId, time.Now().UTC(),
				event.ID, models.OutboxReferenceTypeEvent, models.PubSubMessageActionUpdate, nil)
		})
		if err != nil {
			writeModelError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"success": true, "event_id": event.ID})
	}
}

// GetEventArchiveURLHandler signs a short-lived download link for the
// archived raw payload. Events ingested with archiving off have no object
// to link.
func GetEventArchiveURLHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		tenantId, err := resolveTenantID(c)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}

		ctx := utils.SetTenantIdInContext(c.Request.Context(), tenantId)
		event, err := models.GetWebhookEvent(ctx, c.Param("id"))
		if err != nil {
			writeModelError(c, err)
			return
		}
		if event.PayloadArchiveKey == "" {
			c.JSON(http.StatusNotFound, gin.H{"error": "no archived payload for this event"})
			return
		}

		signed, err := utils.SignPayloadDownload(ctx, event.PayloadArchiveKey, archiveDownloadTTL)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, signed)
	}
}

func ListInvoiceSyncsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		tenantId, err := resolveTenantID(c)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}

		var filter models.InvoiceSyncFilter
		if err := c.ShouldBindQuery(&filter); err != nil {
			writeBindError(c, err)
			return
		}

		ctx := utils.SetTenantIdInContext(c.Request.Context(), tenantId)
		conn, err := models.GetInvoiceSyncRecords(ctx, &filter)
		if err != nil {
			writeModelError(c, err)
			return
		}
		c.JSON(http.StatusOK, conn)
	}
}

func GetInvoiceSyncHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		tenantId, err := resolveTenantID(c)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}

		id, err := strconv.Atoi(c.Param("id"))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid sync record id"})
			return
		}

		ctx := utils.SetTenantIdInContext(c.Request.Context(), tenantId)
		record, err := models.GetInvoiceSyncRecord(ctx, id)
		if err != nil {
			writeModelError(c, err)
			return
		}
		c.JSON(http.StatusOK, record)
	}
}

// ExportInvoiceSyncsHandler streams the filtered sync records as an xlsx
// workbook with a totals row at the bottom.
func ExportInvoiceSyncsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		tenantId, err := resolveTenantID(c)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}

		var filter models.InvoiceSyncFilter
		if err := c.ShouldBindQuery(&filter); err != nil {
			writeBindError(c, err)
			return
		}

		ctx := utils.SetTenantIdInContext(c.Request.Context(), tenantId)
		records, err := collectInvoiceSyncs(ctx, filter)
		if err != nil {
			writeModelError(c, err)
			return
		}

		f := buildInvoiceSyncWorkbook(records)

		c.Header("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
		c.Header("Content-Disposition", "attachment; filename=invoice-syncs.xlsx")
		if err := f.Write(c.Writer); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "unable to write Excel file"})
			return
		}
	}
}

// collectInvoiceSyncs pages through the connection API so the export sees
// every matching row, not just the first page.
func collectInvoiceSyncs(ctx context.Context, filter models.InvoiceSyncFilter) ([]*models.InvoiceSyncRecord, error) {
	filter.Limit = 100
	filter.After = nil

	var all []*models.InvoiceSyncRecord
	for {
		conn, err := models.GetInvoiceSyncRecords(ctx, &filter)
		if err != nil {
			return nil, err
		}
		all = append(all, conn.Records...)
		if conn.PageInfo.HasNextPage == nil || !*conn.PageInfo.HasNextPage {
			break
		}
		after := conn.PageInfo.EndCursor
		filter.After = &after
	}
	return all, nil
}

func buildInvoiceSyncWorkbook(records []*models.InvoiceSyncRecord) *excelize.File {
	f := excelize.NewFile()
	index, _ := f.NewSheet("Sheet1")

	f.SetCellValue("Sheet1", "A1", "ID")
	f.SetCellValue("Sheet1", "B1", "Event ID")
	f.SetCellValue("Sheet1", "C1", "Source ID")
	f.SetCellValue("Sheet1", "D1", "Success")
	f.SetCellValue("Sheet1", "E1", "Delivery Status")
	f.SetCellValue("Sheet1", "F1", "Delivery Attempts")
	f.SetCellValue("Sheet1", "G1", "External Invoice ID")
	f.SetCellValue("Sheet1", "H1", "Total Amount")
	f.SetCellValue("Sheet1", "I1", "Delivered At")
	f.SetCellValue("Sheet1", "J1", "Created At")

	total := decimal.Zero
	for i, rec := range records {
		row := fmt.Sprint(i + 2)
		f.SetCellValue("Sheet1", "A"+row, rec.ID)
		f.SetCellValue("Sheet1", "B"+row, rec.EventId)
		f.SetCellValue("Sheet1", "C"+row, rec.SourceId)
		f.SetCellValue("Sheet1", "D"+row, rec.Success)
		f.SetCellValue("Sheet1", "E"+row, string(rec.DeliveryStatus))
		f.SetCellValue("Sheet1", "F"+row, rec.DeliveryAttempts)
		f.SetCellValue("Sheet1", "G"+row, utils.DereferencePtr(rec.ExternalInvoiceId))
		amount := documentTotal(rec.Document)
		total = total.Add(amount)
		f.SetCellValue("Sheet1", "H"+row, amount.InexactFloat64())
		if rec.DeliveredAt != nil {
			f.SetCellValue("Sheet1", "I"+row, rec.DeliveredAt.UTC().Format(time.RFC3339))
		}
		f.SetCellValue("Sheet1", "J"+row, rec.CreatedAt.UTC().Format(time.RFC3339))
	}

	summaryRow := fmt.Sprint(len(records) + 2)
	f.SetCellValue("Sheet1", "G"+summaryRow, "Total")
	f.SetCellValue("Sheet1", "H"+summaryRow, total.InexactFloat64())

	f.SetActiveSheet(index)
	return f
}

// documentTotal pulls TotalAmt out of a normalized invoice document. Mappings
// usually set line amounts rather than TotalAmt, so an absent or unparseable
// total falls back to the sum of Line[].Amount; a document with neither counts
// as zero rather than failing the export.
func documentTotal(doc json.RawMessage) decimal.Decimal {
	if len(doc) == 0 {
		return decimal.Zero
	}
	var m map[string]interface{}
	if err := json.Unmarshal(doc, &m); err != nil {
		return decimal.Zero
	}
	if d, ok := toDecimal(m["TotalAmt"]); ok {
		return d
	}

	lines, _ := m["Line"].([]interface{})
	total := decimal.Zero
	for _, entry := range lines {
		line, ok := entry.(map[string]interface{})
		if !ok {
			continue
		}
		if d, ok := toDecimal(line["Amount"]); ok {
			total = total.Add(d)
		}
	}
	return total
}

func toDecimal(v interface{}) (decimal.Decimal, bool) {
	switch n := v.(type) {
	case float64:
		return decimal.NewFromFloat(n), true
	case string:
		d, err := utils.ParseDecimal(n)
		if err != nil {
			return decimal.Zero, false
		}
		return d, true
	}
	return decimal.Zero, false
}
