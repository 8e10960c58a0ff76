package models

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/ledgerlinkhq/invoicebridge_backend/config"
	"github.com/ledgerlinkhq/invoicebridge_backend/utils"
	"gorm.io/gorm"
)

const (
	AccountingProviderQuickBooks = "quickbooks"
)

// AccountingConnection is the tenant's link to an accounting provider. One
// connection per (tenant, provider); tokens are sealed before they touch
// the row and never serialize into API responses.
type AccountingConnection struct {
	ID             string           `gorm:"primary_key;size:36" json:"id"`
	TenantId       string           `gorm:"uniqueIndex:idx_accounting_connection,priority:1;size:64;not null" json:"tenant_id"`
	Provider       string           `gorm:"uniqueIndex:idx_accounting_connection,priority:2;size:50;not null" json:"provider"`
	Status         ConnectionStatus `gorm:"size:20;not null" json:"status"`
	RealmId        string           `gorm:"size:100" json:"realm_id"`
	CompanyName    string           `gorm:"size:255" json:"company_name"`
	AccessToken    string           `gorm:"type:text" json:"-"`
	RefreshToken   string           `gorm:"type:text" json:"-"`
	TokenExpiresAt *time.Time       `json:"token_expires_at"`
	LastDeliveryAt *time.Time       `json:"last_delivery_at"`
	LastError      *string          `gorm:"type:text" json:"last_error"`
	IsActive       *bool            `gorm:"default:true" json:"is_active"`
	CreatedAt      time.Time        `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt      time.Time        `gorm:"autoUpdateTime" json:"updated_at"`
}

// ConnectAccountingInput carries the result of a completed OAuth exchange.
// Tokens arrive in plaintext and are sealed here.
type ConnectAccountingInput struct {
	Provider       string
	RealmId        string
	CompanyName    string
	AccessToken    string
	RefreshToken   string
	TokenExpiresAt *time.Time
}

// ConnectAccounting creates the connection, or replaces tokens and realm on
// the existing one. Called from the OAuth callback.
func ConnectAccounting(ctx context.Context, input ConnectAccountingInput) (*AccountingConnection, error) {

	tenantId, ok := utils.GetTenantIdFromContext(ctx)
	if !ok || tenantId == "" {
		return nil, errors.New("tenant id is required")
	}
	if input.Provider == "" || input.RealmId == "" {
		return nil, errors.New("provider and realm id are required")
	}
	if input.AccessToken == "" || input.RefreshToken == "" {
		return nil, errors.New("tokens are required")
	}

	sealedAccess, err := utils.SealToken(input.AccessToken)
	if err != nil {
		return nil, err
	}
	sealedRefresh, err := utils.SealToken(input.RefreshToken)
	if err != nil {
		return nil, err
	}

	db := config.GetDB()
	var existing AccountingConnection
	err = db.WithContext(ctx).
		Where("tenant_id = ? AND provider = ?", tenantId, input.Provider).
		First(&existing).Error
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	tx := db.Begin()
	defer tx.Rollback()

	if errors.Is(err, gorm.ErrRecordNotFound) {
		conn := &AccountingConnection{
			ID:             uuid.NewString(),
			TenantId:       tenantId,
			Provider:       input.Provider,
			Status:         ConnectionStatusConnected,
			RealmId:        input.RealmId,
			CompanyName:    input.CompanyName,
			AccessToken:    sealedAccess,
			RefreshToken:   sealedRefresh,
			TokenExpiresAt: input.TokenExpiresAt,
			IsActive:       utils.NewTrue(),
		}
		if err := tx.WithContext(ctx).Create(conn).Error; err != nil {
			return nil, err
		}
		if err := createHistory(tx.WithContext(ctx), "CONNECT", conn.ID, "accounting_connections",
			nil, conn, "connected "+conn.Provider+" realm "+conn.RealmId); err != nil {
			return nil, err
		}
		if err := tx.Commit().Error; err != nil {
			return nil, err
		}
		return conn, nil
	}

	before := existing
	updates := map[string]interface{}{
		"Status":         ConnectionStatusConnected,
		"RealmId":        input.RealmId,
		"CompanyName":    input.CompanyName,
		"AccessToken":    sealedAccess,
		"RefreshToken":   sealedRefresh,
		"TokenExpiresAt": input.TokenExpiresAt,
		"LastError":      nil,
		"IsActive":       true,
	}
	if err := tx.WithContext(ctx).Model(&existing).Updates(updates).Error; err != nil {
		return nil, err
	}
	if err := createHistory(tx.WithContext(ctx), "CONNECT", existing.ID, "accounting_connections",
		before, existing, "reconnected "+existing.Provider+" realm "+input.RealmId); err != nil {
		return nil, err
	}
	if err := tx.Commit().Error; err != nil {
		return nil, err
	}
	return &existing, nil
}

// DisconnectAccounting clears tokens and parks the connection.
func DisconnectAccounting(ctx context.Context, provider string) (*AccountingConnection, error) {

	tenantId, ok := utils.GetTenantIdFromContext(ctx)
	if !ok || tenantId == "" {
		return nil, errors.New("tenant id is required")
	}

	db := config.GetDB()
	var conn AccountingConnection
	err := db.WithContext(ctx).
		Where("tenant_id = ? AND provider = ?", tenantId, provider).
		First(&conn).Error
	if err != nil {
		return nil, utils.ErrorRecordNotFound
	}

	before := conn
	tx := db.Begin()
	defer tx.Rollback()

	updates := map[string]interface{}{
		"Status":       ConnectionStatusDisconnected,
		"AccessToken":  "",
		"RefreshToken": "",
		"IsActive":     false,
	}
	if err := tx.WithContext(ctx).Model(&conn).Updates(updates).Error; err != nil {
		return nil, err
	}
	if err := createHistory(tx.WithContext(ctx), "DISCONNECT", conn.ID, "accounting_connections",
		before, conn, "disconnected "+conn.Provider); err != nil {
		return nil, err
	}
	if err := tx.Commit().Error; err != nil {
		return nil, err
	}
	return &conn, nil
}

func GetAccountingConnections(ctx context.Context) ([]*AccountingConnection, error) {

	tenantId, ok := utils.GetTenantIdFromContext(ctx)
	if !ok || tenantId == "" {
		return nil, errors.New("tenant id is required")
	}

	db := config.GetDB()
	var conns []*AccountingConnection
	if err := db.WithContext(ctx).
		Where("tenant_id = ?", tenantId).
		Order("provider").
		Find(&conns).Error; err != nil {
		return nil, err
	}
	return conns, nil
}

// FetchDeliverableConnection returns the active connected row for the
// delivery worker, or (nil, nil) when the tenant has none. Not cached;
// sealed tokens stay out of redis.
func FetchDeliverableConnection(ctx context.Context, tenantId string, provider string) (*AccountingConnection, error) {

	db := config.GetDB()
	var conn AccountingConnection
	err := db.WithContext(ctx).
		Where("tenant_id = ? AND provider = ? AND is_active = ? AND status = ?",
			tenantId, provider, true, ConnectionStatusConnected).
		First(&conn).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &conn, nil
}

// Tokens unseals the stored pair.
func (conn *AccountingConnection) Tokens() (string, string, error) {
	access, err := utils.OpenToken(conn.AccessToken)
	if err != nil {
		return "", "", err
	}
	refresh, err := utils.OpenToken(conn.RefreshToken)
	if err != nil {
		return "", "", err
	}
	return access, refresh, nil
}

// UpdateConnectionTokens persists a refreshed token pair. System write.
func UpdateConnectionTokens(ctx context.Context, tenantId string, id string, accessToken, refreshToken string, expiresAt *time.Time) error {

	sealedAccess, err := utils.SealToken(accessToken)
	if err != nil {
		return err
	}
	sealedRefresh, err := utils.SealToken(refreshToken)
	if err != nil {
		return err
	}

	db := config.GetDB()
	return db.WithContext(ctx).Model(&AccountingConnection{}).
		Where("tenant_id = ? AND id = ?", tenantId, id).
		Updates(map[string]interface{}{
			"AccessToken":    sealedAccess,
			"RefreshToken":   sealedRefresh,
			"TokenExpiresAt": expiresAt,
			"Status":         ConnectionStatusConnected,
			"LastError":      nil,
		}).Error
}

// MarkConnectionStatus records a delivery-side status change, for example
// an expired grant.
func MarkConnectionStatus(ctx context.Context, tenantId string, id string, status ConnectionStatus, lastError *string) error {
	db := config.GetDB()
	return db.WithContext(ctx).Model(&AccountingConnection{}).
		Where("tenant_id = ? AND id = ?", tenantId, id).
		Updates(map[string]interface{}{
			"Status":    status,
			"LastError": lastError,
		}).Error
}

// TouchConnectionDelivery stamps the connection after a successful send.
func TouchConnectionDelivery(ctx context.Context, tenantId string, id string) error {
	now := time.Now().UTC()
	db := config.GetDB()
	return db.WithContext(ctx).Model(&AccountingConnection{}).
		Where("tenant_id = ? AND id = ?", tenantId, id).
		UpdateColumn("last_delivery_at", &now).Error
}
