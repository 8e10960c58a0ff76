package models

import "errors"

type SourceType string

const (
	SourceTypeShopify     SourceType = "shopify"
	SourceTypeWooCommerce SourceType = "woocommerce"
	SourceTypeStripe      SourceType = "stripe"
	SourceTypeSquare      SourceType = "square"
	SourceTypeBigCommerce SourceType = "bigcommerce"
	SourceTypeCustom      SourceType = "custom"
)

// KnownSourceTypes are the types with seeded global templates. "custom" is
// both a real type and the wildcard template slot.
var KnownSourceTypes = []SourceType{
	SourceTypeShopify,
	SourceTypeWooCommerce,
	SourceTypeStripe,
	SourceTypeSquare,
	SourceTypeBigCommerce,
	SourceTypeCustom,
}

func (t *SourceType) Validate() error {
	if *t == "" {
		*t = SourceTypeCustom
		return nil
	}
	for _, known := range KnownSourceTypes {
		if *t == known {
			return nil
		}
	}
	return errors.New("invalid source type")
}

type WebhookEventStatus string

const (
	EventStatusReceived    WebhookEventStatus = "RECEIVED"
	EventStatusQueued      WebhookEventStatus = "QUEUED"
	EventStatusProcessing  WebhookEventStatus = "PROCESSING"
	EventStatusTransformed WebhookEventStatus = "TRANSFORMED"
	EventStatusInvalid     WebhookEventStatus = "INVALID"
	EventStatusSkipped     WebhookEventStatus = "SKIPPED"
	EventStatusFailed      WebhookEventStatus = "FAILED"
)

type DeliveryStatus string

const (
	DeliveryStatusPending    DeliveryStatus = "PENDING"
	DeliveryStatusProcessing DeliveryStatus = "PROCESSING"
	DeliveryStatusDelivered  DeliveryStatus = "DELIVERED"
	DeliveryStatusFailed     DeliveryStatus = "FAILED"
	DeliveryStatusDead       DeliveryStatus = "DEAD"
	DeliveryStatusSkipped    DeliveryStatus = "SKIPPED"
)

type PubSubMessageAction string

const (
	PubSubMessageActionCreate PubSubMessageAction = "C"
	PubSubMessageActionUpdate PubSubMessageAction = "U"
	PubSubMessageActionDelete PubSubMessageAction = "D"
)

// OutboxReferenceType identifies what an outbox row points at.
type OutboxReferenceType string

const (
	OutboxReferenceTypeEvent      OutboxReferenceType = "EV"
	OutboxReferenceTypeSyncRecord OutboxReferenceType = "SY"
	OutboxReferenceTypeConfig     OutboxReferenceType = "CF"
)

type EntityRefType string

const (
	EntityRefTypeCustomer      EntityRefType = "customer"
	EntityRefTypeItem          EntityRefType = "item"
	EntityRefTypeAccount       EntityRefType = "account"
	EntityRefTypeTaxCode       EntityRefType = "taxcode"
	EntityRefTypeTerm          EntityRefType = "term"
	EntityRefTypePaymentMethod EntityRefType = "paymentmethod"
)

func (t EntityRefType) Valid() bool {
	switch t {
	case EntityRefTypeCustomer, EntityRefTypeItem, EntityRefTypeAccount,
		EntityRefTypeTaxCode, EntityRefTypeTerm, EntityRefTypePaymentMethod:
		return true
	}
	return false
}

type ConnectionStatus string

const (
	ConnectionStatusConnected    ConnectionStatus = "connected"
	ConnectionStatusDisconnected ConnectionStatus = "disconnected"
	ConnectionStatusExpired      ConnectionStatus = "expired"
	ConnectionStatusError        ConnectionStatus = "error"
)

type UserRole string

const (
	UserRoleAdmin    UserRole = "A"
	UserRoleOperator UserRole = "O"
	UserRoleViewer   UserRole = "V"
)
