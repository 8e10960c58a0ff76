package models

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	"github.com/ledgerlinkhq/invoicebridge_backend/config"
	"github.com/ledgerlinkhq/invoicebridge_backend/mapping"
	"github.com/ledgerlinkhq/invoicebridge_backend/utils"
	"gorm.io/gorm"
)

// SeedDefaultMappingTemplates inserts the platform templates that ship with
// the service. Idempotent by template name; an operator-edited template is
// never overwritten.
func SeedDefaultMappingTemplates(ctx context.Context) error {
	db := config.GetDB()

	inserted := false
	for _, def := range defaultMappingTemplates() {
		template := def
		var count int64
		if err := db.WithContext(ctx).Model(&MappingTemplate{}).
			Where("name = ?", template.Name).
			Count(&count).Error; err != nil {
			return err
		}
		if count > 0 {
			continue
		}
		if err := db.WithContext(ctx).Create(&template).Error; err != nil {
			return err
		}
		inserted = true
	}
	if inserted {
		return MappingTemplate{}.RemoveAllRedis()
	}
	return nil
}

// CreateDefaultAdminUser creates (or re-activates) the console admin.
func CreateDefaultAdminUser(ctx context.Context, username string, password string) (*User, error) {

	if username == "" || password == "" {
		return nil, errors.New("username and password are required")
	}

	hashedPassword, err := utils.HashPassword(password)
	if err != nil {
		return nil, err
	}

	db := config.GetDB()
	var user User
	err = db.WithContext(ctx).Where("username = ?", username).First(&user).Error
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	if errors.Is(err, gorm.ErrRecordNotFound) {
		user = User{
			Username: strings.TrimSpace(username),
			Name:     "Administrator",
			Password: string(hashedPassword),
			IsActive: utils.NewTrue(),
			Role:     UserRoleAdmin,
		}
		if err := db.WithContext(ctx).Create(&user).Error; err != nil {
			return nil, err
		}
	} else {
		if err := db.WithContext(ctx).Model(&user).Updates(map[string]interface{}{
			"Password": string(hashedPassword),
			"IsActive": true,
			"Role":     UserRoleAdmin,
		}).Error; err != nil {
			return nil, err
		}
	}

	if err := user.RemoveInstanceRedis(); err != nil {
		return nil, err
	}
	user.PrepareGive()
	return &user, nil
}

// marshalRules encodes seed rule literals. Inputs are static, marshal
// cannot fail on them.
func marshalRules(rules []mapping.FieldMapping) json.RawMessage {
	data, _ := json.Marshal(rules)
	return data
}

func marshalStatics(statics map[string]interface{}) json.RawMessage {
	data, _ := json.Marshal(statics)
	return data
}

func defaultMappingTemplates() []MappingTemplate {
	return []MappingTemplate{
		{
			Name:       "Shopify order defaults",
			SourceType: SourceTypeShopify,
			FieldMappings: marshalRules([]mapping.FieldMapping{
				{TargetField: "CustomerRef.value", SourceField: "customer.id", Transformation: "toString", IsRequired: true, LookupType: "customer"},
				{TargetField: "DocNumber", SourceField: "order_number", Transformation: "toString"},
				{TargetField: "TxnDate", SourceField: "created_at", Transformation: "formatDate"},
				{TargetField: "CurrencyRef.value", SourceField: "currency"},
				{TargetField: "BillEmail.Address", SourceField: "email"},
				{TargetField: "CustomerMemo.value", SourceField: "note"},
				{TargetField: "Line[0].Amount", SourceField: "total_price", Transformation: "toNumber", IsRequired: true},
				{TargetField: "Line[0].Description", SourceField: "line_items[0].title"},
				{TargetField: "Line[0].SalesItemLineDetail.Qty", SourceField: "line_items[0].quantity", Transformation: "toNumber"},
				{TargetField: "Line[0].SalesItemLineDetail.UnitPrice", SourceField: "line_items[0].price", Transformation: "toNumber"},
				{TargetField: "Line[0].SalesItemLineDetail.ItemRef.value", SourceField: "line_items[0].product_id", Transformation: "toString", LookupType: "item"},
			}),
			StaticValues: marshalStatics(map[string]interface{}{
				"PrivateNote": "Imported from Shopify",
			}),
			Priority:    100,
			Description: "Shopify orders/create payloads",
			IsActive:    utils.NewTrue(),
		},
		{
			Name:       "WooCommerce order defaults",
			SourceType: SourceTypeWooCommerce,
			FieldMappings: marshalRules([]mapping.FieldMapping{
				{TargetField: "CustomerRef.value", SourceField: "customer_id", Transformation: "toString", IsRequired: true, LookupType: "customer"},
				{TargetField: "DocNumber", SourceField: "number", Transformation: "toString"},
				{TargetField: "TxnDate", SourceField: "date_created", Transformation: "formatDate"},
				{TargetField: "CurrencyRef.value", SourceField: "currency"},
				{TargetField: "BillEmail.Address", SourceField: "billing.email"},
				{TargetField: "Line[0].Amount", SourceField: "total", Transformation: "toNumber", IsRequired: true},
				{TargetField: "Line[0].Description", SourceField: "line_items[0].name"},
				{TargetField: "Line[0].SalesItemLineDetail.Qty", SourceField: "line_items[0].quantity", Transformation: "toNumber"},
				{TargetField: "Line[0].SalesItemLineDetail.UnitPrice", SourceField: "line_items[0].price", Transformation: "toNumber"},
				{TargetField: "Line[0].SalesItemLineDetail.ItemRef.value", SourceField: "line_items[0].product_id", Transformation: "toString", LookupType: "item"},
			}),
			StaticValues: marshalStatics(map[string]interface{}{
				"PrivateNote": "Imported from WooCommerce",
			}),
			Priority:    100,
			Description: "WooCommerce order.created payloads",
			IsActive:    utils.NewTrue(),
		},
		{
			Name:       "Stripe invoice defaults",
			SourceType: SourceTypeStripe,
			FieldMappings: marshalRules([]mapping.FieldMapping{
				{TargetField: "CustomerRef.value", SourceField: "data.object.customer", IsRequired: true, LookupType: "customer"},
				{TargetField: "DocNumber", SourceField: "data.object.number"},
				{TargetField: "CurrencyRef.value", SourceField: "data.object.currency", Transformation: "toUpperCase"},
				{TargetField: "BillEmail.Address", SourceField: "data.object.customer_email"},
				// Stripe amounts are integer minor units.
				{TargetField: "Line[0].Amount", SourceField: "data.object.amount_due", Transformation: "multiply:0.01", IsRequired: true},
				{TargetField: "Line[0].Description", SourceField: "data.object.lines.data[0].description"},
				{TargetField: "Line[0].SalesItemLineDetail.ItemRef.value", SourceField: "data.object.lines.data[0].price.product", LookupType: "item"},
			}),
			StaticValues: marshalStatics(map[string]interface{}{
				"PrivateNote": "Imported from Stripe",
			}),
			Priority:    100,
			Description: "Stripe invoice.* event payloads",
			IsActive:    utils.NewTrue(),
		},
		{
			Name:       "Square invoice defaults",
			SourceType: SourceTypeSquare,
			FieldMappings: marshalRules([]mapping.FieldMapping{
				{TargetField: "CustomerRef.value", SourceField: "data.object.invoice.primary_recipient.customer_id", IsRequired: true, LookupType: "customer"},
				{TargetField: "DocNumber", SourceField: "data.object.invoice.invoice_number"},
				{TargetField: "CurrencyRef.value", SourceField: "data.object.invoice.payment_requests[0].computed_amount_money.currency"},
				{TargetField: "Line[0].Amount", SourceField: "data.object.invoice.payment_requests[0].computed_amount_money.amount", Transformation: "multiply:0.01", IsRequired: true},
				{TargetField: "Line[0].Description", SourceField: "data.object.invoice.title"},
			}),
			StaticValues: marshalStatics(map[string]interface{}{
				"Line[0].SalesItemLineDetail.ItemRef.value": "1",
				"PrivateNote": "Imported from Square",
			}),
			Priority:    100,
			Description: "Square invoice.published payloads",
			IsActive:    utils.NewTrue(),
		},
		{
			Name:       "BigCommerce order defaults",
			SourceType: SourceTypeBigCommerce,
			FieldMappings: marshalRules([]mapping.FieldMapping{
				{TargetField: "CustomerRef.value", SourceField: "customer_id", Transformation: "toString", IsRequired: true, LookupType: "customer"},
				{TargetField: "DocNumber", SourceField: "id", Transformation: "toString"},
				{TargetField: "TxnDate", SourceField: "date_created", Transformation: "formatDate"},
				{TargetField: "CurrencyRef.value", SourceField: "currency_code"},
				{TargetField: "BillEmail.Address", SourceField: "billing_address.email"},
				{TargetField: "Line[0].Amount", SourceField: "total_inc_tax", Transformation: "toNumber", IsRequired: true},
			}),
			StaticValues: marshalStatics(map[string]interface{}{
				"Line[0].SalesItemLineDetail.ItemRef.value": "1",
				"PrivateNote": "Imported from BigCommerce",
			}),
			Priority:    100,
			Description: "BigCommerce store/order/created payloads",
			IsActive:    utils.NewTrue(),
		},
		{
			Name:       "Generic payload defaults",
			SourceType: SourceTypeCustom,
			FieldMappings: marshalRules([]mapping.FieldMapping{
				{TargetField: "CustomerRef.value", SourceField: "customer.id", IsRequired: true},
				{TargetField: "DocNumber", SourceField: "invoice_number"},
				{TargetField: "CurrencyRef.value", SourceField: "currency"},
				{TargetField: "BillEmail.Address", SourceField: "email"},
				{TargetField: "Line[0].Amount", SourceField: "total", Transformation: "toNumber", IsRequired: true},
				{TargetField: "Line[0].Description", SourceField: "description"},
			}),
			StaticValues: marshalStatics(map[string]interface{}{
				"Line[0].SalesItemLineDetail.ItemRef.value": "1",
				"Line[0].DetailType":                        "SalesItemLineDetail",
			}),
			Priority:    200,
			Description: "Wildcard fallback for unrecognized source types",
			IsActive:    utils.NewTrue(),
		},
	}
}
