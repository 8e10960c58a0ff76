package models_test

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"os/exec"
	"regexp"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/ledgerlinkhq/invoicebridge_backend/config"
	"github.com/ledgerlinkhq/invoicebridge_backend/ingest"
	"github.com/ledgerlinkhq/invoicebridge_backend/models"
	"github.com/ledgerlinkhq/invoicebridge_backend/utils"
	"gorm.io/gorm"
)

func TestStripeInvoiceEventTransformsToDeliverableSyncRecord(t *testing.T) {
	if strings.TrimSpace(os.Getenv("INTEGRATION_TESTS")) == "" {
		t.Skip("set INTEGRATION_TESTS=1 to run integration tests (requires docker)")
	}

	ctx := context.Background()

	redisName, redisPort := startRedisContainer(t)
	t.Cleanup(func() { _ = dockerRmForce(redisName) })

	mysqlName, mysqlPort := startMySQLContainer(t)
	t.Cleanup(func() { _ = dockerRmForce(mysqlName) })

	// Wire env for config.Connect* helpers.
	t.Setenv("REDIS_ADDRESS", fmt.Sprintf("127.0.0.1:%s", redisPort))
	t.Setenv("DB_USER", "root")
	t.Setenv("DB_PASSWORD", "testpw")
	t.Setenv("DB_HOST", "127.0.0.1")
	t.Setenv("DB_PORT", mysqlPort)
	t.Setenv("DB_NAME", "invoicebridge_test")
	// Empty list keeps the delivery gate open for every source type.
	t.Setenv("DELIVERY_SOURCE_TYPES", "")

	config.ConnectDatabaseWithRetry()
	config.ConnectRedisWithRetry()
	models.MigrateTable()

	// History hooks require user context.
	ctx = utils.SetUserIdInContext(ctx, 1)
	ctx = utils.SetUsernameInContext(ctx, "test@local")
	tenantID := "tenant-reg-stripe"
	ctx = utils.SetTenantIdInContext(ctx, tenantID)

	if err := models.SeedDefaultMappingTemplates(ctx); err != nil {
		t.Fatalf("SeedDefaultMappingTemplates: %v", err)
	}

	created, err := models.CreateSource(ctx, &models.NewSource{
		Name:       "Stripe Billing",
		SourceType: models.SourceTypeStripe,
	})
	if err != nil {
		t.Fatalf("CreateSource: %v", err)
	}
	source := created.Source

	// Stripe invoice.payment_succeeded shape matched by the seeded template.
	payload := json.RawMessage(`{
		"id": "evt_0001",
		"type": "invoice.payment_succeeded",
		"data": {"object": {
			"customer": "cus_7Q4",
			"number": "INV-0042",
			"currency": "usd",
			"customer_email": "billing@acme.test",
			"amount_due": 12500,
			"lines": {"data": [
				{"description": "Pro plan (monthly)", "price": {"product": "prod_basic"}}
			]}
		}}
	}`)

	db := config.GetDB()
	if db == nil {
		t.Fatalf("db is nil after ConnectDatabaseWithRetry")
	}

	extID := "evt_0001"
	event := &models.WebhookEvent{
		TenantId:        tenantID,
		SourceId:        source.ID,
		ExternalEventId: &extID,
		EventType:       "invoice.payment_succeeded",
		Payload:         payload,
	}
	err = db.Transaction(func(tx *gorm.DB) error {
		return models.CreateWebhookEvent(ctx, tx, event)
	})
	if err != nil {
		t.Fatalf("CreateWebhookEvent: %v", err)
	}

	if err := ingest.ProcessTransformJob(ctx, tenantID, event.ID); err != nil {
		t.Fatalf("ProcessTransformJob: %v", err)
	}

	var stored models.WebhookEvent
	if err := db.WithContext(ctx).Where("tenant_id = ? AND id = ?", tenantID, event.ID).First(&stored).Error; err != nil {
		t.Fatalf("fetch event after transform: %v", err)
	}
	if stored.Status != models.EventStatusTransformed {
		t.Fatalf("expected event status TRANSFORMED; got %s (last_error=%v)", stored.Status, stored.LastError)
	}
	if stored.ProcessedAt == nil {
		t.Fatalf("expected processed_at to be set")
	}
	if stored.ProcessAttempts != 1 {
		t.Fatalf("expected process_attempts=1; got %d", stored.ProcessAttempts)
	}

	record, err := models.GetInvoiceSyncRecordByEvent(ctx, event.ID)
	if err != nil {
		t.Fatalf("GetInvoiceSyncRecordByEvent: %v", err)
	}
	if !record.Success {
		t.Fatalf("expected successful transform; validation_errors=%s", record.ValidationErrors)
	}
	if record.DeliveryStatus != models.DeliveryStatusPending {
		t.Fatalf("expected delivery status PENDING; got %s", record.DeliveryStatus)
	}
	if record.CorrelationId == "" {
		t.Fatalf("expected correlation id to carry over from the event")
	}

	var doc map[string]interface{}
	if err := json.Unmarshal(record.Document, &doc); err != nil {
		t.Fatalf("unmarshal document: %v", err)
	}
	if got := nestedString(t, doc, "CustomerRef", "value"); got != "cus_7Q4" {
		t.Fatalf("expected CustomerRef.value=cus_7Q4; got %q", got)
	}
	if got := nestedString(t, doc, "CurrencyRef", "value"); got != "USD" {
		t.Fatalf("expected CurrencyRef.value=USD; got %q", got)
	}
	if got, ok := doc["DocNumber"].(string); !ok || got != "INV-0042" {
		t.Fatalf("expected DocNumber=INV-0042; got %v", doc["DocNumber"])
	}
	if got := nestedString(t, doc, "BillEmail", "Address"); got != "billing@acme.test" {
		t.Fatalf("expected BillEmail.Address=billing@acme.test; got %q", got)
	}
	if got, ok := doc["PrivateNote"].(string); !ok || got != "Imported from Stripe" {
		t.Fatalf("expected template static PrivateNote; got %v", doc["PrivateNote"])
	}

	line := firstLine(t, doc)
	amount, ok := line["Amount"].(float64)
	if !ok || math.Abs(amount-125) > 1e-6 {
		// 12500 minor units through multiply:0.01.
		t.Fatalf("expected Line[0].Amount=125; got %v", line["Amount"])
	}
	if got, ok := line["Description"].(string); !ok || got != "Pro plan (monthly)" {
		t.Fatalf("expected Line[0].Description from lines.data[0]; got %v", line["Description"])
	}
	if got := nestedString(t, line, "SalesItemLineDetail", "ItemRef", "value"); got != "prod_basic" {
		t.Fatalf("expected ItemRef.value=prod_basic; got %q", got)
	}

	// A pending record gets exactly one delivery task in the outbox.
	var outbox models.OutboxRecord
	err = db.WithContext(ctx).
		Where("tenant_id = ? AND reference_type = ? AND reference_id = ?",
			tenantID, models.OutboxReferenceTypeSyncRecord, strconv.Itoa(record.ID)).
		Order("id DESC").
		First(&outbox).Error
	if err != nil {
		t.Fatalf("expected outbox record for sync record: %v", err)
	}
	if outbox.PublishStatus != "PENDING" {
		t.Fatalf("expected outbox publish status PENDING; got %s", outbox.PublishStatus)
	}
	if outbox.IsProcessed {
		t.Fatalf("expected outbox record to be unprocessed")
	}
	if outbox.Action != models.PubSubMessageActionCreate {
		t.Fatalf("expected outbox action C; got %s", outbox.Action)
	}
}

func TestMissingRequiredFieldMarksEventInvalidAndSkipsDelivery(t *testing.T) {
	if strings.TrimSpace(os.Getenv("INTEGRATION_TESTS")) == "" {
		t.Skip("set INTEGRATION_TESTS=1 to run integration tests (requires docker)")
	}

	ctx := context.Background()

	redisName, redisPort := startRedisContainer(t)
	t.Cleanup(func() { _ = dockerRmForce(redisName) })

	mysqlName, mysqlPort := startMySQLContainer(t)
	t.Cleanup(func() { _ = dockerRmForce(mysqlName) })

	t.Setenv("REDIS_ADDRESS", fmt.Sprintf("127.0.0.1:%s", redisPort))
	t.Setenv("DB_USER", "root")
	t.Setenv("DB_PASSWORD", "testpw")
	t.Setenv("DB_HOST", "127.0.0.1")
	t.Setenv("DB_PORT", mysqlPort)
	t.Setenv("DB_NAME", "invoicebridge_test")
	t.Setenv("DELIVERY_SOURCE_TYPES", "")

	config.ConnectDatabaseWithRetry()
	config.ConnectRedisWithRetry()
	models.MigrateTable()

	ctx = utils.SetUserIdInContext(ctx, 1)
	ctx = utils.SetUsernameInContext(ctx, "test@local")
	tenantID := "tenant-reg-invalid"
	ctx = utils.SetTenantIdInContext(ctx, tenantID)

	if err := models.SeedDefaultMappingTemplates(ctx); err != nil {
		t.Fatalf("SeedDefaultMappingTemplates: %v", err)
	}

	created, err := models.CreateSource(ctx, &models.NewSource{
		Name:       "Stripe Billing",
		SourceType: models.SourceTypeStripe,
	})
	if err != nil {
		t.Fatalf("CreateSource: %v", err)
	}

	// No data.object.customer: CustomerRef.value is a required mapping in the
	// seeded Stripe template.
	payload := json.RawMessage(`{
		"id": "evt_0002",
		"type": "invoice.payment_succeeded",
		"data": {"object": {
			"number": "INV-0043",
			"currency": "usd",
			"amount_due": 900
		}}
	}`)

	db := config.GetDB()
	event := &models.WebhookEvent{
		TenantId:  tenantID,
		SourceId:  created.Source.ID,
		EventType: "invoice.payment_succeeded",
		Payload:   payload,
	}
	err = db.Transaction(func(tx *gorm.DB) error {
		return models.CreateWebhookEvent(ctx, tx, event)
	})
	if err != nil {
		t.Fatalf("CreateWebhookEvent: %v", err)
	}

	if err := ingest.ProcessTransformJob(ctx, tenantID, event.ID); err != nil {
		t.Fatalf("ProcessTransformJob: %v", err)
	}

	var stored models.WebhookEvent
	if err := db.WithContext(ctx).Where("tenant_id = ? AND id = ?", tenantID, event.ID).First(&stored).Error; err != nil {
		t.Fatalf("fetch event after transform: %v", err)
	}
	if stored.Status != models.EventStatusInvalid {
		t.Fatalf("expected event status INVALID; got %s", stored.Status)
	}
	if stored.LastError == nil || *stored.LastError == "" {
		t.Fatalf("expected last_error to name the missing field")
	}

	record, err := models.GetInvoiceSyncRecordByEvent(ctx, event.ID)
	if err != nil {
		t.Fatalf("GetInvoiceSyncRecordByEvent: %v", err)
	}
	if record.Success {
		t.Fatalf("expected failed transform")
	}
	if record.DeliveryStatus != models.DeliveryStatusSkipped {
		t.Fatalf("expected delivery status SKIPPED; got %s", record.DeliveryStatus)
	}
	var validationErrors []string
	if err := json.Unmarshal(record.ValidationErrors, &validationErrors); err != nil {
		t.Fatalf("unmarshal validation errors: %v", err)
	}
	if len(validationErrors) == 0 {
		t.Fatalf("expected at least one validation error")
	}

	// Invalid records never reach the outbox.
	var count int64
	err = db.WithContext(ctx).Model(&models.OutboxRecord{}).
		Where("tenant_id = ? AND reference_type = ? AND reference_id = ?",
			tenantID, models.OutboxReferenceTypeSyncRecord, strconv.Itoa(record.ID)).
		Count(&count).Error
	if err != nil {
		t.Fatalf("count outbox records: %v", err)
	}
	if count != 0 {
		t.Fatalf("expected no outbox record for a skipped delivery; got %d", count)
	}
}

func nestedString(t *testing.T, obj map[string]interface{}, keys ...string) string {
	t.Helper()
	cur := interface{}(obj)
	for _, k := range keys {
		m, ok := cur.(map[string]interface{})
		if !ok {
			t.Fatalf("document path %v: not an object at %q (got %T)", keys, k, cur)
		}
		cur = m[k]
	}
	s, ok := cur.(string)
	if !ok {
		t.Fatalf("document path %v: expected string; got %T", keys, cur)
	}
	return s
}

func firstLine(t *testing.T, doc map[string]interface{}) map[string]interface{} {
	t.Helper()
	lines, ok := doc["Line"].([]interface{})
	if !ok || len(lines) == 0 {
		t.Fatalf("document has no Line array (got %T)", doc["Line"])
	}
	line, ok := lines[0].(map[string]interface{})
	if !ok {
		t.Fatalf("Line[0] is %T; want object", lines[0])
	}
	return line
}

func startRedisContainer(t *testing.T) (containerName, hostPort string) {
	t.Helper()
	name := fmt.Sprintf("invoicebridge-test-redis-%d", time.Now().UnixNano())
	out, err := dockerRun(
		"run", "-d", "--name", name,
		"-p", "127.0.0.1:0:6379",
		"redis:7-alpine",
	)
	if err != nil {
		t.Fatalf("start redis container: %v\n%s", err, out)
	}
	port, err := dockerHostPort(name, "6379/tcp")
	if err != nil {
		t.Fatalf("redis docker port: %v", err)
	}
	// wait until ready
	deadline := time.Now().Add(60 * time.Second)
	for time.Now().Before(deadline) {
		_, err := dockerRun("exec", name, "redis-cli", "ping")
		if err == nil {
			return name, port
		}
		time.Sleep(250 * time.Millisecond)
	}
	t.Fatalf("redis did not become ready")
	return "", ""
}

func startMySQLContainer(t *testing.T) (containerName, hostPort string) {
	t.Helper()
	name := fmt.Sprintf("invoicebridge-test-mysql-%d", time.Now().UnixNano())
	out, err := dockerRun(
		"run", "-d", "--name", name,
		"-e", "MYSQL_ROOT_PASSWORD=testpw",
		"-e", "MYSQL_DATABASE=invoicebridge_test",
		"-p", "127.0.0.1:0:3306",
		"mysql:8.0",
		"--default-authentication-plugin=mysql_native_password",
	)
	if err != nil {
		t.Fatalf("start mysql container: %v\n%s", err, out)
	}
	port, err := dockerHostPort(name, "3306/tcp")
	if err != nil {
		t.Fatalf("mysql docker port: %v", err)
	}
	// wait until ready
	deadline := time.Now().Add(120 * time.Second)
	for time.Now().Before(deadline) {
		_, err := dockerRun("exec", name, "mysqladmin", "ping", "-h", "127.0.0.1", "-ptestpw", "--silent")
		if err == nil {
			return name, port
		}
		time.Sleep(500 * time.Millisecond)
	}
	t.Fatalf("mysql did not become ready")
	return "", ""
}

func dockerHostPort(container, portProto string) (string, error) {
	out, err := dockerRun("port", container, portProto)
	if err != nil {
		return "", fmt.Errorf("docker port: %w: %s", err, out)
	}
	// Example: "127.0.0.1:49154\n"
	re := regexp.MustCompile(`:(\d+)`)
	m := re.FindStringSubmatch(out)
	if len(m) != 2 {
		return "", fmt.Errorf("unexpected docker port output: %q", out)
	}
	return m[1], nil
}

func dockerRmForce(container string) error {
	if strings.TrimSpace(container) == "" {
		return nil
	}
	_, err := dockerRun("rm", "-f", container)
	return err
}

func dockerRun(args ...string) (string, error) {
	cmd := exec.Command("docker", args...)
	b, err := cmd.CombinedOutput()
	return string(b), err
}
