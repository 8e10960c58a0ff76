package config

import (
	"os"
	"strings"
)

// InlineTransformMode runs the transform synchronously inside the webhook
// request instead of handing off through Pub/Sub. Meant for local dev and
// single-instance deployments without a Pub/Sub push subscription.
//
// Set via env:
// - TRANSFORM_INLINE=true
func InlineTransformMode() bool {
	v := strings.ToLower(strings.TrimSpace(os.Getenv("TRANSFORM_INLINE")))
	return v == "1" || v == "true" || v == "yes" || v == "y"
}

// ArchiveRawPayloads enables uploading every accepted webhook body to the
// archive bucket. Requires PAYLOAD_ARCHIVE_BUCKET.
//
// Set via env:
// - ARCHIVE_RAW_PAYLOADS=true
func ArchiveRawPayloads() bool {
	v := strings.ToLower(strings.TrimSpace(os.Getenv("ARCHIVE_RAW_PAYLOADS")))
	return v == "1" || v == "true" || v == "yes" || v == "y"
}

// DeliveryEnabledFor gates outbound accounting delivery per source type while
// tenants are migrated one platform at a time.
//
// Set via env:
// - DELIVERY_SOURCE_TYPES="stripe,shopify,woocommerce"
//
// Source types are case-insensitive. Empty means delivery is on for everyone.
func DeliveryEnabledFor(sourceType string) bool {
	sourceType = strings.ToLower(strings.TrimSpace(sourceType))
	if sourceType == "" {
		return false
	}
	raw := os.Getenv("DELIVERY_SOURCE_TYPES")
	if strings.TrimSpace(raw) == "" {
		return true
	}
	for _, part := range strings.Split(raw, ",") {
		if strings.ToLower(strings.TrimSpace(part)) == sourceType {
			return true
		}
	}
	return false
}
