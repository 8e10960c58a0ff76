package quickbooks

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/bsm/redislock"
	"github.com/ledgerlinkhq/invoicebridge_backend/config"
	"github.com/ledgerlinkhq/invoicebridge_backend/models"
	"github.com/ledgerlinkhq/invoicebridge_backend/utils"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"
)

var tracer = otel.Tracer("invoicebridge/quickbooks")

// Access tokens last 60 minutes; refresh inside the final 5.
const tokenRefreshSkew = 5 * time.Minute

var errRefreshInProgress = errors.New("token refresh in progress on another worker")

// missingRefError marks a document value that has no entry in the tenant's
// entity-ref directory. The invoice can never post until the mapping exists,
// so the failure is permanent.
type missingRefError struct {
	RefType    models.EntityRefType
	ExternalId string
}

func (e *missingRefError) Error() string {
	return fmt.Sprintf("no %s entity ref mapped for external id %q", e.RefType, e.ExternalId)
}

// DeliverSyncRecord posts one transformed document to QuickBooks. A non-nil
// return means the attempt failed retryably and the caller should request
// redelivery; permanent outcomes are recorded on the row and return nil.
func DeliverSyncRecord(ctx context.Context, tenantId string, recordId int) error {
	logger := config.GetLogger()
	ctx = utils.SetTenantIdInContext(ctx, tenantId)
	ctx, span := tracer.Start(ctx, "invoice.deliver", trace.WithAttributes(
		attribute.String("tenant_id", tenantId),
		attribute.Int("sync_record_id", recordId),
	))
	defer span.End()

	db := config.GetDB()
	var record models.InvoiceSyncRecord
	if err := db.WithContext(ctx).
		Where("id = ? AND tenant_id = ?", recordId, tenantId).
		Take(&record).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil
		}
		return err
	}

	switch record.DeliveryStatus {
	case models.DeliveryStatusDelivered, models.DeliveryStatusSkipped, models.DeliveryStatusDead:
		return nil
	}
	if !record.Success {
		return nil
	}

	if err := models.MarkSyncDelivering(ctx, tenantId, record.ID); err != nil {
		return err
	}
	attempt := record.DeliveryAttempts + 1

	conn, err := models.FetchDeliverableConnection(ctx, tenantId, models.AccountingProviderQuickBooks)
	if err != nil {
		return err
	}
	if conn == nil {
		return recordFailure(ctx, tenantId, record.ID, attempt,
			errors.New("no active quickbooks connection"), true)
	}

	client, err := newQBOClient()
	if err != nil {
		return recordFailure(ctx, tenantId, record.ID, attempt, err, true)
	}

	document, err := translateDocumentRefs(ctx, tenantId, record.Document)
	if err != nil {
		var missing *missingRefError
		if errors.As(err, &missing) {
			return recordFailure(ctx, tenantId, record.ID, attempt, err, false)
		}
		return recordFailure(ctx, tenantId, record.ID, attempt, err, true)
	}

	accessToken, err := ensureFreshTokens(ctx, client, conn)
	if err != nil {
		return recordFailure(ctx, tenantId, record.ID, attempt, err, refreshErrRetryable(err))
	}

	envelope, err := client.createInvoice(ctx, conn.RealmId, accessToken, document)
	if isAuthError(err) {
		// The token was rejected despite not being near expiry. Refresh once
		// and retry before giving up on this attempt.
		accessToken, refreshErr := forceRefreshTokens(ctx, client, conn)
		if refreshErr != nil {
			return recordFailure(ctx, tenantId, record.ID, attempt, refreshErr, refreshErrRetryable(refreshErr))
		}
		envelope, err = client.createInvoice(ctx, conn.RealmId, accessToken, document)
	}
	if err != nil {
		retryable := true
		if apiErr, ok := err.(*apiError); ok {
			retryable = apiErr.retryable() || apiErr.StatusCode == http.StatusUnauthorized
		}
		return recordFailure(ctx, tenantId, record.ID, attempt, err, retryable)
	}

	if err := models.MarkSyncDelivered(ctx, tenantId, record.ID, envelope.Invoice.Id); err != nil {
		return err
	}
	_ = models.TouchConnectionDelivery(ctx, tenantId, conn.ID)

	logger.WithFields(logrus.Fields{
		"tenant_id":           tenantId,
		"sync_record_id":      record.ID,
		"event_id":            record.EventId,
		"external_invoice_id": envelope.Invoice.Id,
		"attempt":             attempt,
		"correlation_id":      record.CorrelationId,
	}).Info("invoice delivered to quickbooks")
	return nil
}

// recordFailure writes the delivery outcome. Permanent failures and exhausted
// retry budgets go DEAD and return nil so the message is acked; retryable
// failures schedule the next attempt and bubble the cause up for redelivery.
func recordFailure(ctx context.Context, tenantId string, recordId int, attempt int, cause error, retryable bool) error {
	dead := !retryable || attempt >= deliveryMaxAttempts()

	var next *time.Time
	if !dead {
		at := time.Now().Add(deliveryBackoff(attempt))
		next = &at
	}
	if err := models.MarkSyncDeliveryFailed(ctx, tenantId, recordId, cause.Error(), next, dead); err != nil {
		return err
	}

	logger := config.GetLogger()
	logger.WithFields(logrus.Fields{
		"tenant_id":      tenantId,
		"sync_record_id": recordId,
		"attempt":        attempt,
		"dead":           dead,
	}).Error("invoice delivery failed: " + cause.Error())

	if dead {
		return nil
	}
	return cause
}

func deliveryMaxAttempts() int {
	if v := strings.TrimSpace(os.Getenv("QBO_DELIVERY_MAX_ATTEMPTS")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
	}
	return 8
}

func deliveryBackoff(attempt int) time.Duration {
	backoff := time.Minute * time.Duration(1<<min(attempt, 6))
	if backoff > time.Hour {
		backoff = time.Hour
	}
	return backoff
}

// translateDocumentRefs rewrites CustomerRef.value and each line item's
// ItemRef.value from source-side ids to the tenant's accounting ids. The
// transform engine passes lookup values through untouched; the rewrite
// happens here, at the last step before the provider boundary.
func translateDocumentRefs(ctx context.Context, tenantId string, raw json.RawMessage) ([]byte, error) {
	var doc map[string]interface{}
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, err
	}

	if err := rewriteRef(ctx, tenantId, doc, "CustomerRef", models.EntityRefTypeCustomer); err != nil {
		return nil, err
	}

	lines, _ := doc["Line"].([]interface{})
	for _, entry := range lines {
		line, ok := entry.(map[string]interface{})
		if !ok {
			continue
		}
		detail, ok := line["SalesItemLineDetail"].(map[string]interface{})
		if !ok {
			continue
		}
		if err := rewriteRef(ctx, tenantId, detail, "ItemRef", models.EntityRefTypeItem); err != nil {
			return nil, err
		}
	}

	return json.Marshal(doc)
}

func rewriteRef(ctx context.Context, tenantId string, parent map[string]interface{}, key string, refType models.EntityRefType) error {
	ref, ok := parent[key].(map[string]interface{})
	if !ok {
		return nil
	}
	value, ok := ref["value"]
	if !ok {
		return nil
	}
	externalId := strings.TrimSpace(fmt.Sprintf("%v", value))
	if externalId == "" {
		return nil
	}

	mapped, err := models.ResolveEntityRef(ctx, tenantId, refType, externalId)
	if err != nil {
		return err
	}
	if mapped == nil {
		return &missingRefError{RefType: refType, ExternalId: externalId}
	}

	ref["value"] = mapped.AccountingId
	_ = models.TouchEntityRefLastUsed(ctx, tenantId, mapped.ID)
	return nil
}

func ensureFreshTokens(ctx context.Context, client *qboClient, conn *models.AccountingConnection) (string, error) {
	if conn.TokenExpiresAt != nil && time.Until(*conn.TokenExpiresAt) > tokenRefreshSkew {
		access, _, err := conn.Tokens()
		return access, err
	}
	return forceRefreshTokens(ctx, client, conn)
}

// forceRefreshTokens rotates the token pair under a per-tenant lock. Intuit
// rotates the refresh token on every use, so two replicas must never refresh
// concurrently; the loser backs off and retries with the rotated pair.
func forceRefreshTokens(ctx context.Context, client *qboClient, conn *models.AccountingConnection) (string, error) {
	locker := config.GetRedisLock()
	if locker != nil {
		lock, err := locker.Obtain(ctx, "QBOTokenRefresh:"+conn.TenantId, 30*time.Second, nil)
		if err == redislock.ErrNotObtained {
			return "", errRefreshInProgress
		} else if err != nil {
			return "", err
		}
		defer func() {
			_ = lock.Release(ctx)
		}()
	}

	// Re-read after taking the lock; another worker may have rotated already.
	fresh, err := models.FetchDeliverableConnection(ctx, conn.TenantId, conn.Provider)
	if err != nil {
		return "", err
	}
	if fresh == nil {
		return "", errors.New("quickbooks connection is no longer deliverable")
	}
	if fresh.TokenExpiresAt != nil && fresh.UpdatedAt.After(conn.UpdatedAt) && time.Until(*fresh.TokenExpiresAt) > tokenRefreshSkew {
		access, _, err := fresh.Tokens()
		return access, err
	}

	_, refreshToken, err := fresh.Tokens()
	if err != nil {
		return "", err
	}

	tok, err := client.refreshTokens(ctx, refreshToken)
	if err != nil {
		if apiErr, ok := err.(*apiError); ok && apiErr.StatusCode >= 400 && apiErr.StatusCode < 500 {
			msg := err.Error()
			_ = models.MarkConnectionStatus(ctx, conn.TenantId, fresh.ID, models.ConnectionStatusExpired, &msg)
		}
		return "", err
	}

	expiresAt := time.Now().Add(time.Hour)
	if tok.ExpiresIn > 0 {
		expiresAt = time.Now().Add(time.Duration(tok.ExpiresIn) * time.Second)
	}
	if err := models.UpdateConnectionTokens(ctx, conn.TenantId, fresh.ID, tok.AccessToken, tok.RefreshToken, &expiresAt); err != nil {
		return "", err
	}
	return tok.AccessToken, nil
}

// refreshErrRetryable: a rejected refresh token means the tenant must
// reconnect; retrying cannot help. Everything else (network, 5xx, lock
// contention) may clear up.
func refreshErrRetryable(err error) bool {
	if apiErr, ok := err.(*apiError); ok {
		return apiErr.StatusCode == http.StatusTooManyRequests || apiErr.StatusCode >= 500
	}
	return true
}
