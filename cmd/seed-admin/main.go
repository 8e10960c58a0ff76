// seed-admin creates or updates the console admin user for a tenant and makes
// sure the built-in mapping templates are present.
//
// Usage (from backend directory):
//   DB_USER=... DB_PASSWORD=... DB_HOST=... DB_PORT=... DB_NAME=... \
//   SEED_TENANT_ID=acme SEED_ADMIN_PASSWORD=... go run ./cmd/seed-admin
//
// SEED_ADMIN_USERNAME defaults to "bridgeAdmin". The password has no default;
// the tool refuses to seed a guessable credential.
package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/ledgerlinkhq/invoicebridge_backend/config"
	"github.com/ledgerlinkhq/invoicebridge_backend/models"
	"github.com/ledgerlinkhq/invoicebridge_backend/utils"
	"gorm.io/gorm"
)

const defaultAdminUsername = "bridgeAdmin"

func main() {
	ctx := context.Background()

	tenantId := strings.TrimSpace(os.Getenv("SEED_TENANT_ID"))
	if tenantId == "" {
		fmt.Fprintln(os.Stderr, "SEED_TENANT_ID is required")
		os.Exit(2)
	}
	username := strings.TrimSpace(os.Getenv("SEED_ADMIN_USERNAME"))
	if username == "" {
		username = defaultAdminUsername
	}
	password := os.Getenv("SEED_ADMIN_PASSWORD")
	if password == "" {
		fmt.Fprintln(os.Stderr, "SEED_ADMIN_PASSWORD is required")
		os.Exit(2)
	}

	config.ConnectDatabaseWithRetry()
	db := config.GetDB()
	if db == nil {
		fmt.Fprintln(os.Stderr, "database not initialized (config.GetDB returned nil). Set DB_* env vars.")
		os.Exit(1)
	}

	// Model hooks expect caller identity in context.
	ctx = utils.SetTenantIdInContext(ctx, tenantId)
	ctx = utils.SetUserIdInContext(ctx, 1)
	ctx = utils.SetUsernameInContext(ctx, username)
	ctx = utils.SetIsAdminInContext(ctx, true)
	ctx = utils.SetSkipTenantScopeInContext(ctx, true)

	if err := models.SeedDefaultMappingTemplates(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "failed to seed default mapping templates: %v\n", err)
		os.Exit(1)
	}

	hashed, err := utils.HashPassword(password)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to hash password: %v\n", err)
		os.Exit(1)
	}
	hashedStr := string(hashed)

	var existing models.User
	err = db.WithContext(ctx).Model(&models.User{}).Where("username = ?", username).First(&existing).Error
	if err != nil {
		if err != gorm.ErrRecordNotFound {
			fmt.Fprintf(os.Stderr, "failed to lookup user: %v\n", err)
			os.Exit(1)
		}
		u := models.User{
			TenantId: tenantId,
			Username: username,
			Name:     "Bridge Admin",
			Password: hashedStr,
			IsActive: utils.NewTrue(),
			Role:     models.UserRoleAdmin,
		}
		if err := db.WithContext(ctx).Create(&u).Error; err != nil {
			fmt.Fprintf(os.Stderr, "failed to create admin user: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Created admin user: username=%q tenant=%q (role=Admin)\n", username, tenantId)
		return
	}

	// Update existing user: ensure password, tenant, and admin role.
	if err := db.WithContext(ctx).Model(&models.User{}).Where("username = ?", username).Updates(map[string]any{
		"password":  hashedStr,
		"is_active": utils.NewTrue(),
		"tenant_id": tenantId,
		"role":      models.UserRoleAdmin,
	}).Error; err != nil {
		fmt.Fprintf(os.Stderr, "failed to update admin user: %v\n", err)
		os.Exit(1)
	}
	_ = existing.RemoveInstanceRedis()
	fmt.Printf("Updated admin user: username=%q tenant=%q (role=Admin)\n", username, tenantId)
}
