package models

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ledgerlinkhq/invoicebridge_backend/config"
	"github.com/ledgerlinkhq/invoicebridge_backend/utils"
	"gorm.io/gorm"
)

// EntityRef translates a source-side identifier into the accounting entity
// id the delivery payload must carry, keyed by (tenant, ref type, external
// id). Lookup rules in mapping configuration point at these rows.
type EntityRef struct {
	ID           int           `gorm:"primary_key" json:"id"`
	TenantId     string        `gorm:"uniqueIndex:idx_entity_ref,priority:1;size:64;not null" json:"tenant_id"`
	RefType      EntityRefType `gorm:"uniqueIndex:idx_entity_ref,priority:2;size:30;not null" json:"ref_type"`
	ExternalId   string        `gorm:"uniqueIndex:idx_entity_ref,priority:3;size:128;not null" json:"external_id"`
	AccountingId string        `gorm:"size:128;not null" json:"accounting_id"`
	DisplayName  string        `gorm:"size:255" json:"display_name"`
	LastUsedAt   *time.Time    `json:"last_used_at"`
	CreatedAt    time.Time     `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt    time.Time     `gorm:"autoUpdateTime" json:"updated_at"`
}

type NewEntityRef struct {
	RefType      EntityRefType `json:"ref_type" binding:"required"`
	ExternalId   string        `json:"external_id" binding:"required"`
	AccountingId string        `json:"accounting_id" binding:"required"`
	DisplayName  *string       `json:"display_name"`
}

func (input *NewEntityRef) validate(ctx context.Context, tenantId string, id int) error {
	if !input.RefType.Valid() {
		return fmt.Errorf("unknown ref type %q", input.RefType)
	}
	if input.ExternalId == "" {
		return errors.New("external id is required")
	}
	if input.AccountingId == "" {
		return errors.New("accounting id is required")
	}

	db := config.GetDB()
	var count int64
	dbCtx := db.WithContext(ctx).Model(&EntityRef{}).
		Where("tenant_id = ? AND ref_type = ? AND external_id = ?", tenantId, input.RefType, input.ExternalId)
	if id > 0 {
		dbCtx = dbCtx.Where("id <> ?", id)
	}
	if err := dbCtx.Count(&count).Error; err != nil {
		return err
	}
	if count > 0 {
		return fmt.Errorf("entity ref for %s %q already exists", input.RefType, input.ExternalId)
	}
	return nil
}

func CreateEntityRef(ctx context.Context, input NewEntityRef) (*EntityRef, error) {

	tenantId, ok := utils.GetTenantIdFromContext(ctx)
	if !ok || tenantId == "" {
		return nil, errors.New("tenant id is required")
	}
	if err := input.validate(ctx, tenantId, 0); err != nil {
		return nil, err
	}

	ref := &EntityRef{
		TenantId:     tenantId,
		RefType:      input.RefType,
		ExternalId:   input.ExternalId,
		AccountingId: input.AccountingId,
		DisplayName:  utils.DereferencePtr(input.DisplayName),
	}

	db := config.GetDB()
	tx := db.Begin()
	defer tx.Rollback()

	if err := tx.WithContext(ctx).Create(ref).Error; err != nil {
		return nil, err
	}
	if err := createHistory(tx.WithContext(ctx), "CREATE", fmt.Sprint(ref.ID), "entity_refs",
		nil, ref, "created entity ref "+ref.ExternalId); err != nil {
		return nil, err
	}
	if err := tx.Commit().Error; err != nil {
		return nil, err
	}
	return ref, nil
}

func UpdateEntityRef(ctx context.Context, id int, input NewEntityRef) (*EntityRef, error) {

	tenantId, ok := utils.GetTenantIdFromContext(ctx)
	if !ok || tenantId == "" {
		return nil, errors.New("tenant id is required")
	}

	ref, err := utils.FetchModel[EntityRef](ctx, tenantId, id)
	if err != nil {
		return nil, err
	}
	if err := input.validate(ctx, tenantId, id); err != nil {
		return nil, err
	}

	before := *ref
	updated := &EntityRef{
		ID:           ref.ID,
		TenantId:     ref.TenantId,
		RefType:      input.RefType,
		ExternalId:   input.ExternalId,
		AccountingId: input.AccountingId,
		DisplayName:  utils.DereferencePtr(input.DisplayName),
		LastUsedAt:   ref.LastUsedAt,
		CreatedAt:    ref.CreatedAt,
	}

	db := config.GetDB()
	tx := db.Begin()
	defer tx.Rollback()

	if err := tx.WithContext(ctx).Save(updated).Error; err != nil {
		return nil, err
	}
	if err := createHistory(tx.WithContext(ctx), "UPDATE", fmt.Sprint(id), "entity_refs",
		before, updated, "updated entity ref "+updated.ExternalId); err != nil {
		return nil, err
	}
	if err := tx.Commit().Error; err != nil {
		return nil, err
	}

	// the cache key carries ref type and external id, so clear the old one
	if err := RemoveRedisBoth(before); err != nil {
		return nil, err
	}
	return updated, nil
}

func DeleteEntityRef(ctx context.Context, id int) (*EntityRef, error) {

	tenantId, ok := utils.GetTenantIdFromContext(ctx)
	if !ok || tenantId == "" {
		return nil, errors.New("tenant id is required")
	}

	ref, err := utils.FetchModel[EntityRef](ctx, tenantId, id)
	if err != nil {
		return nil, err
	}

	db := config.GetDB()
	tx := db.Begin()
	defer tx.Rollback()

	if err := tx.WithContext(ctx).Delete(ref).Error; err != nil {
		return nil, err
	}
	if err := createHistory(tx.WithContext(ctx), "DELETE", fmt.Sprint(id), "entity_refs",
		ref, nil, "deleted entity ref "+ref.ExternalId); err != nil {
		return nil, err
	}
	if err := tx.Commit().Error; err != nil {
		return nil, err
	}

	if err := RemoveRedisBoth(*ref); err != nil {
		return nil, err
	}
	return ref, nil
}

func GetEntityRefs(ctx context.Context, refType *EntityRefType, search *string) ([]*EntityRef, error) {

	tenantId, ok := utils.GetTenantIdFromContext(ctx)
	if !ok || tenantId == "" {
		return nil, errors.New("tenant id is required")
	}

	db := config.GetDB()
	dbCtx := db.WithContext(ctx).Where("tenant_id = ?", tenantId)
	if refType != nil && *refType != "" {
		dbCtx = dbCtx.Where("ref_type = ?", *refType)
	}
	if search != nil && *search != "" {
		dbCtx = dbCtx.Where("external_id LIKE ? OR display_name LIKE ?", "%"+*search+"%", "%"+*search+"%")
	}

	var refs []*EntityRef
	if err := dbCtx.Order("ref_type, external_id").Limit(config.SearchLimit).Find(&refs).Error; err != nil {
		return nil, err
	}
	return refs, nil
}

// UpsertEntityRef records a translation learned from the accounting side,
// for example after the first delivery creates the counterpart entity.
// System write, no history row.
func UpsertEntityRef(ctx context.Context, tenantId string, refType EntityRefType, externalId, accountingId, displayName string) (*EntityRef, error) {

	db := config.GetDB()
	var ref EntityRef
	err := db.WithContext(ctx).
		Where("tenant_id = ? AND ref_type = ? AND external_id = ?", tenantId, refType, externalId).
		First(&ref).Error
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	if errors.Is(err, gorm.ErrRecordNotFound) {
		ref = EntityRef{
			TenantId:     tenantId,
			RefType:      refType,
			ExternalId:   externalId,
			AccountingId: accountingId,
			DisplayName:  displayName,
		}
		if err := db.WithContext(ctx).Create(&ref).Error; err != nil {
			return nil, err
		}
		return &ref, nil
	}

	updates := map[string]interface{}{"AccountingId": accountingId}
	if displayName != "" {
		updates["DisplayName"] = displayName
	}
	if err := db.WithContext(ctx).Model(&ref).Updates(updates).Error; err != nil {
		return nil, err
	}
	if err := ref.RemoveInstanceRedis(); err != nil {
		return nil, err
	}
	return &ref, nil
}

// ResolveEntityRef looks up one translation, redis first. A missing row is
// (nil, nil) so the caller can fall back to the untranslated value.
func ResolveEntityRef(ctx context.Context, tenantId string, refType EntityRefType, externalId string) (*EntityRef, error) {

	key := entityRefRedisKey(tenantId, refType, externalId)
	var cached EntityRef
	exists, err := config.GetRedisObject(key, &cached)
	if err != nil {
		return nil, err
	}
	if exists {
		return &cached, nil
	}

	db := config.GetDB()
	var ref EntityRef
	err = db.WithContext(ctx).
		Where("tenant_id = ? AND ref_type = ? AND external_id = ?", tenantId, refType, externalId).
		First(&ref).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	if err := config.SetRedisObject(key, &ref, utils.GetCacheLifespan()); err != nil {
		return nil, err
	}
	return &ref, nil
}

// TouchEntityRefLastUsed stamps usage on delivery. Best effort.
func TouchEntityRefLastUsed(ctx context.Context, tenantId string, id int) error {
	now := time.Now().UTC()
	db := config.GetDB()
	return db.WithContext(ctx).Model(&EntityRef{}).
		Where("tenant_id = ? AND id = ?", tenantId, id).
		UpdateColumn("last_used_at", &now).Error
}

func entityRefRedisKey(tenantId string, refType EntityRefType, externalId string) string {
	return "EntityRef:" + tenantId + ":" + string(refType) + ":" + externalId
}
