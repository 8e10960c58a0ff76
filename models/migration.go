package models

import (
	"log"

	"github.com/ledgerlinkhq/invoicebridge_backend/config"
)

func MigrateTable() {
	db := config.GetDB()

	err := db.AutoMigrate(
		&Source{}, &MappingTemplate{}, &TenantMappingOverride{}, &SourceMapping{},
		&WebhookEvent{}, &InvoiceSyncRecord{},
		&EntityRef{}, &AccountingConnection{},
		&OutboxRecord{}, &IdempotencyKey{},
		&History{},
		&User{},
	)
	if err != nil {
		log.Fatal(err)
	}
}
