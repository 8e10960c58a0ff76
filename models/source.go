package models

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/ledgerlinkhq/invoicebridge_backend/config"
	"github.com/ledgerlinkhq/invoicebridge_backend/utils"
	"gorm.io/gorm"
)

// Source is one registered webhook sender for a tenant. The ingest endpoint
// authenticates with the per-source API key; only the bcrypt hash is stored.
type Source struct {
	ID           string     `gorm:"primary_key;size:36" json:"id"`
	TenantId     string     `gorm:"size:64;not null;uniqueIndex:idx_source_name,priority:1" json:"tenant_id"`
	Name         string     `gorm:"size:100;not null;uniqueIndex:idx_source_name,priority:2" json:"name" binding:"required"`
	SourceType   SourceType `gorm:"size:30;not null;index" json:"source_type"`
	ApiKeyHash   string     `gorm:"size:255;not null" json:"-"`
	ApiKeyPrefix string     `gorm:"size:16" json:"api_key_prefix"`
	Description  string     `gorm:"type:text" json:"description"`
	IsActive     *bool      `gorm:"not null;default:true" json:"is_active"`
	LastEventAt  *time.Time `json:"last_event_at"`
	CreatedAt    time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt    time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

type NewSource struct {
	Name        string     `json:"name" binding:"required"`
	SourceType  SourceType `json:"source_type"`
	Description string     `json:"description"`
}

// CreatedSource carries the plaintext API key exactly once, at creation or
// rotation. It is never persisted and never shown again.
type CreatedSource struct {
	Source *Source `json:"source"`
	ApiKey string  `json:"api_key"`
}

func (source Source) GetId() string {
	return source.ID
}

// validate input for both create & update. (id = "" for create)
func (input *NewSource) validate(ctx context.Context, tenantId string, id string) error {
	if err := input.SourceType.Validate(); err != nil {
		return err
	}
	if err := utils.ValidateUnique[Source](ctx, tenantId, "name", input.Name, id); err != nil {
		return err
	}
	return nil
}

func CreateSource(ctx context.Context, input *NewSource) (*CreatedSource, error) {

	db := config.GetDB()
	tenantId, ok := utils.GetTenantIdFromContext(ctx)
	if !ok || tenantId == "" {
		return nil, errors.New("tenant id is required")
	}

	if err := input.validate(ctx, tenantId, ""); err != nil {
		return nil, err
	}

	apiKey, err := utils.GenerateAPIKey()
	if err != nil {
		return nil, err
	}
	hash, err := utils.HashPassword(apiKey)
	if err != nil {
		return nil, err
	}

	source := Source{
		ID:           uuid.NewString(),
		TenantId:     tenantId,
		Name:         input.Name,
		SourceType:   input.SourceType,
		ApiKeyHash:   string(hash),
		ApiKeyPrefix: apiKey[:12],
		Description:  input.Description,
		IsActive:     utils.NewTrue(),
	}

	tx := db.Begin()
	if err := tx.WithContext(ctx).Create(&source).Error; err != nil {
		tx.Rollback()
		return nil, err
	}
	if err := createHistory(tx.WithContext(ctx), "CREATE", source.ID, "sources", nil, source, "registered source "+source.Name); err != nil {
		tx.Rollback()
		return nil, err
	}
	if err := tx.Commit().Error; err != nil {
		return nil, err
	}

	if err := source.RemoveAllRedis(); err != nil {
		return nil, err
	}
	return &CreatedSource{Source: &source, ApiKey: apiKey}, nil
}

func UpdateSource(ctx context.Context, id string, input *NewSource) (*Source, error) {

	tenantId, ok := utils.GetTenantIdFromContext(ctx)
	if !ok || tenantId == "" {
		return nil, errors.New("tenant id is required")
	}
	if err := input.validate(ctx, tenantId, id); err != nil {
		return nil, err
	}

	source, err := fetchSource(ctx, tenantId, id)
	if err != nil {
		return nil, err
	}
	before := *source

	db := config.GetDB()
	tx := db.Begin()
	err = tx.WithContext(ctx).Model(source).Updates(map[string]interface{}{
		"Name":        input.Name,
		"SourceType":  input.SourceType,
		"Description": input.Description,
	}).Error
	if err != nil {
		tx.Rollback()
		return nil, err
	}
	if err := createHistory(tx.WithContext(ctx), "UPDATE", id, "sources", before, source, "updated source "+source.Name); err != nil {
		tx.Rollback()
		return nil, err
	}
	if err := tx.Commit().Error; err != nil {
		return nil, err
	}

	if err := RemoveRedisBoth(*source); err != nil {
		return nil, err
	}
	return source, nil
}

func DeleteSource(ctx context.Context, id string) (*Source, error) {

	tenantId, ok := utils.GetTenantIdFromContext(ctx)
	if !ok || tenantId == "" {
		return nil, errors.New("tenant id is required")
	}

	source, err := fetchSource(ctx, tenantId, id)
	if err != nil {
		return nil, err
	}

	// Events referencing the source survive; only the ingest credential and
	// the mapping config rows go.
	db := config.GetDB()
	tx := db.Begin()
	if err := tx.WithContext(ctx).Where("tenant_id = ? AND source_id = ?", tenantId, id).Delete(&SourceMapping{}).Error; err != nil {
		tx.Rollback()
		return nil, err
	}
	if err := tx.WithContext(ctx).Where("tenant_id = ? AND source_id = ?", tenantId, id).Delete(&TenantMappingOverride{}).Error; err != nil {
		tx.Rollback()
		return nil, err
	}
	if err := tx.WithContext(ctx).Delete(source).Error; err != nil {
		tx.Rollback()
		return nil, err
	}
	if err := createHistory(tx.WithContext(ctx), "DELETE", id, "sources", source, nil, "deleted source "+source.Name); err != nil {
		tx.Rollback()
		return nil, err
	}
	if err := tx.Commit().Error; err != nil {
		return nil, err
	}

	if err := RemoveRedisBoth(*source); err != nil {
		return nil, err
	}
	return source, nil
}

func GetSourceById(ctx context.Context, id string) (*Source, error) {

	tenantId, ok := utils.GetTenantIdFromContext(ctx)
	if !ok || tenantId == "" {
		return nil, errors.New("tenant id is required")
	}
	return fetchSource(ctx, tenantId, id)
}

func GetSources(ctx context.Context, name *string, sourceType *SourceType) ([]*Source, error) {

	db := config.GetDB()
	tenantId, ok := utils.GetTenantIdFromContext(ctx)
	if !ok || tenantId == "" {
		return nil, errors.New("tenant id is required")
	}

	var results []*Source
	dbCtx := db.WithContext(ctx).Where("tenant_id = ?", tenantId)
	if name != nil && len(*name) > 0 {
		dbCtx = dbCtx.Where("name LIKE ?", "%"+*name+"%")
	}
	if sourceType != nil && len(*sourceType) > 0 {
		dbCtx = dbCtx.Where("source_type = ?", *sourceType)
	}
	if err := dbCtx.Order("name").Find(&results).Error; err != nil {
		return nil, err
	}
	return results, nil
}

func ToggleActiveSource(ctx context.Context, id string, isActive bool) (*Source, error) {

	tenantId, ok := utils.GetTenantIdFromContext(ctx)
	if !ok || tenantId == "" {
		return nil, errors.New("tenant id is required")
	}

	source, err := fetchSource(ctx, tenantId, id)
	if err != nil {
		return nil, err
	}

	db := config.GetDB()
	tx := db.Begin()
	if err := tx.WithContext(ctx).Model(source).UpdateColumn("IsActive", isActive).Error; err != nil {
		tx.Rollback()
		return nil, err
	}
	actionType := "*INACTIVE*"
	if isActive {
		actionType = "*ACTIVE*"
	}
	if err := createHistory(tx.WithContext(ctx), actionType, id, "sources", nil, nil, "toggled source "+source.Name); err != nil {
		tx.Rollback()
		return nil, err
	}
	if err := tx.Commit().Error; err != nil {
		return nil, err
	}

	if err := RemoveRedisBoth(*source); err != nil {
		return nil, err
	}
	return source, nil
}

// RotateSourceKey issues a replacement API key. The old key stops working
// immediately.
func RotateSourceKey(ctx context.Context, id string) (*CreatedSource, error) {

	tenantId, ok := utils.GetTenantIdFromContext(ctx)
	if !ok || tenantId == "" {
		return nil, errors.New("tenant id is required")
	}

	source, err := fetchSource(ctx, tenantId, id)
	if err != nil {
		return nil, err
	}

	apiKey, err := utils.GenerateAPIKey()
	if err != nil {
		return nil, err
	}
	hash, err := utils.HashPassword(apiKey)
	if err != nil {
		return nil, err
	}

	db := config.GetDB()
	tx := db.Begin()
	err = tx.WithContext(ctx).Model(source).Updates(map[string]interface{}{
		"ApiKeyHash":   string(hash),
		"ApiKeyPrefix": apiKey[:12],
	}).Error
	if err != nil {
		tx.Rollback()
		return nil, err
	}
	if err := createHistory(tx.WithContext(ctx), "*ROTATE*", id, "sources", nil, nil, "rotated api key for "+source.Name); err != nil {
		tx.Rollback()
		return nil, err
	}
	if err := tx.Commit().Error; err != nil {
		return nil, err
	}

	if err := RemoveRedisBoth(*source); err != nil {
		return nil, err
	}
	return &CreatedSource{Source: source, ApiKey: apiKey}, nil
}

// AuthenticateSource resolves a source by id and verifies the presented API
// key against the stored hash. Used by the ingest endpoint, which runs
// without a session; the source row is what names the tenant.
func AuthenticateSource(ctx context.Context, sourceId string, apiKey string) (*Source, error) {

	source, err := fetchSourceById(ctx, sourceId)
	if err != nil {
		return nil, err
	}
	if !utils.DereferencePtr(source.IsActive) {
		return nil, utils.ErrorSourceDisabled
	}
	if err := verifySourceKey(source, apiKey); err != nil {
		return nil, err
	}
	return source, nil
}

// verifySourceKey caches the digest of the last accepted key so steady-state
// webhook traffic does not pay for bcrypt on every request. Rotation clears
// the cached digest together with the source item cache.
func verifySourceKey(source *Source, apiKey string) error {
	sum := sha256.Sum256([]byte(apiKey))
	presented := hex.EncodeToString(sum[:])

	cached, exists, err := config.GetRedisValue("SourceKey:" + source.ID)
	if err == nil && exists && subtle.ConstantTimeCompare([]byte(cached), []byte(presented)) == 1 {
		return nil
	}

	if err := utils.ComparePassword(source.ApiKeyHash, apiKey); err != nil {
		return utils.ErrorInvalidAPIKey
	}
	_ = config.SetRedisValue("SourceKey:"+source.ID, presented, utils.GetCacheLifespan())
	return nil
}

// TouchSourceLastEvent stamps the source on every accepted webhook. Best
// effort: ingest does not fail on it.
func TouchSourceLastEvent(ctx context.Context, tenantId string, sourceId string, at time.Time) error {
	db := config.GetDB()
	return db.WithContext(ctx).Model(&Source{}).
		Where("tenant_id = ? AND id = ?", tenantId, sourceId).
		UpdateColumn("last_event_at", at).Error
}

// fetchSourceById reads a source with no tenant filter. Ingest only; every
// session-scoped path goes through fetchSource.
func fetchSourceById(ctx context.Context, id string) (*Source, error) {

	result, err := retrieveSourceRedis(id)
	if err != nil {
		return nil, err
	}
	if result != nil {
		return result, nil
	}

	db := config.GetDB()
	var source Source
	if err := db.WithContext(ctx).Where("id = ?", id).First(&source).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, utils.ErrorRecordNotFound
		}
		return nil, err
	}
	if err := storeSourceRedis(&source); err != nil {
		return nil, err
	}
	return &source, nil
}

// fetchSource reads through the redis item cache first.
func fetchSource(ctx context.Context, tenantId string, id string) (*Source, error) {

	result, err := retrieveSourceRedis(id)
	if err != nil {
		return nil, err
	}
	if result != nil {
		if result.TenantId != tenantId {
			return nil, utils.ErrorTenantMismatch
		}
		return result, nil
	}

	db := config.GetDB()
	var source Source
	err = db.WithContext(ctx).Where("tenant_id = ? AND id = ?", tenantId, id).First(&source).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, utils.ErrorRecordNotFound
		}
		return nil, err
	}
	if err := storeSourceRedis(&source); err != nil {
		return nil, err
	}
	return &source, nil
}

func storeSourceRedis(source *Source) error {
	return config.SetRedisObject("Source:"+source.ID, source, utils.GetCacheLifespan())
}

func retrieveSourceRedis(id string) (*Source, error) {
	var source Source
	exists, err := config.GetRedisObject("Source:"+id, &source)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, nil
	}
	return &source, nil
}
