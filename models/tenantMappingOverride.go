package models

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/ledgerlinkhq/invoicebridge_backend/config"
	"github.com/ledgerlinkhq/invoicebridge_backend/mapping"
	"github.com/ledgerlinkhq/invoicebridge_backend/utils"
)

// TenantMappingOverride layers tenant-specific rules over the global
// template. SourceId nil applies the override to every source of the tenant.
type TenantMappingOverride struct {
	ID            int             `gorm:"primary_key" json:"id"`
	TenantId      string          `gorm:"size:64;not null;index" json:"tenant_id"`
	SourceId      *string         `gorm:"size:36;index" json:"source_id"`
	TemplateId    *int            `gorm:"index" json:"template_id"`
	Name          string          `gorm:"size:100" json:"name"`
	FieldMappings json.RawMessage `gorm:"type:json" json:"field_mappings"`
	StaticValues  json.RawMessage `gorm:"type:json" json:"static_values"`
	Priority      int             `gorm:"not null;default:50" json:"priority"`
	IsActive      *bool           `gorm:"not null;default:true" json:"is_active"`
	CreatedAt     time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt     time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

type NewTenantMappingOverride struct {
	SourceId      *string         `json:"source_id"`
	TemplateId    *int            `json:"template_id"`
	Name          string          `json:"name"`
	FieldMappings json.RawMessage `json:"field_mappings" binding:"required"`
	StaticValues  json.RawMessage `json:"static_values"`
	Priority      *int            `json:"priority"`
}

func (o *TenantMappingOverride) Rules() ([]mapping.FieldMapping, error) {
	return decodeFieldMappings(o.FieldMappings)
}

func (o *TenantMappingOverride) Statics() (map[string]interface{}, error) {
	return decodeStaticValues(o.StaticValues)
}

func (input *NewTenantMappingOverride) validate(ctx context.Context, tenantId string) error {
	if err := validateMappingRules(input.FieldMappings); err != nil {
		return err
	}
	if err := validateStaticValues(input.StaticValues); err != nil {
		return err
	}
	if input.SourceId != nil && *input.SourceId != "" {
		if err := utils.ValidateResourceId[Source](ctx, tenantId, *input.SourceId); err != nil {
			return errors.New("source not found")
		}
	}
	if input.TemplateId != nil && *input.TemplateId != 0 {
		if err := utils.ValidateResourceId[MappingTemplate](ctx, "", *input.TemplateId); err != nil {
			return errors.New("template not found")
		}
	}
	return nil
}

func (input *NewTenantMappingOverride) priorityOrDefault() int {
	if input.Priority != nil {
		return *input.Priority
	}
	return 50
}

func CreateTenantMappingOverride(ctx context.Context, input *NewTenantMappingOverride) (*TenantMappingOverride, error) {

	tenantId, ok := utils.GetTenantIdFromContext(ctx)
	if !ok || tenantId == "" {
		return nil, errors.New("tenant id is required")
	}
	if err := input.validate(ctx, tenantId); err != nil {
		return nil, err
	}

	override := TenantMappingOverride{
		TenantId:      tenantId,
		SourceId:      utils.NilIfEmpty(utils.DereferencePtr(input.SourceId)),
		TemplateId:    input.TemplateId,
		Name:          input.Name,
		FieldMappings: input.FieldMappings,
		StaticValues:  input.StaticValues,
		Priority:      input.priorityOrDefault(),
		IsActive:      utils.NewTrue(),
	}

	db := config.GetDB()
	tx := db.Begin()
	if err := tx.WithContext(ctx).Create(&override).Error; err != nil {
		tx.Rollback()
		return nil, err
	}
	if err := createHistory(tx.WithContext(ctx), "CREATE", fmt.Sprint(override.ID), "tenant_mapping_overrides", nil, override, "created mapping override"); err != nil {
		tx.Rollback()
		return nil, err
	}
	if err := tx.Commit().Error; err != nil {
		return nil, err
	}

	if err := override.RemoveAllRedis(); err != nil {
		return nil, err
	}
	return &override, nil
}

func UpdateTenantMappingOverride(ctx context.Context, id int, input *NewTenantMappingOverride) (*TenantMappingOverride, error) {

	tenantId, ok := utils.GetTenantIdFromContext(ctx)
	if !ok || tenantId == "" {
		return nil, errors.New("tenant id is required")
	}
	if err := input.validate(ctx, tenantId); err != nil {
		return nil, err
	}

	override, err := utils.FetchModel[TenantMappingOverride](ctx, tenantId, id)
	if err != nil {
		return nil, err
	}
	before := *override

	db := config.GetDB()
	tx := db.Begin()
	err = tx.WithContext(ctx).Model(override).Updates(map[string]interface{}{
		"SourceId":      utils.NilIfEmpty(utils.DereferencePtr(input.SourceId)),
		"TemplateId":    input.TemplateId,
		"Name":          input.Name,
		"FieldMappings": input.FieldMappings,
		"StaticValues":  input.StaticValues,
		"Priority":      input.priorityOrDefault(),
	}).Error
	if err != nil {
		tx.Rollback()
		return nil, err
	}
	if err := createHistory(tx.WithContext(ctx), "UPDATE", fmt.Sprint(id), "tenant_mapping_overrides", before, override, "updated mapping override"); err != nil {
		tx.Rollback()
		return nil, err
	}
	if err := tx.Commit().Error; err != nil {
		return nil, err
	}

	if err := override.RemoveAllRedis(); err != nil {
		return nil, err
	}
	return override, nil
}

func DeleteTenantMappingOverride(ctx context.Context, id int) (*TenantMappingOverride, error) {

	tenantId, ok := utils.GetTenantIdFromContext(ctx)
	if !ok || tenantId == "" {
		return nil, errors.New("tenant id is required")
	}

	override, err := utils.FetchModel[TenantMappingOverride](ctx, tenantId, id)
	if err != nil {
		return nil, err
	}

	db := config.GetDB()
	tx := db.Begin()
	if err := tx.WithContext(ctx).Delete(override).Error; err != nil {
		tx.Rollback()
		return nil, err
	}
	if err := createHistory(tx.WithContext(ctx), "DELETE", fmt.Sprint(id), "tenant_mapping_overrides", override, nil, "deleted mapping override"); err != nil {
		tx.Rollback()
		return nil, err
	}
	if err := tx.Commit().Error; err != nil {
		return nil, err
	}

	if err := override.RemoveAllRedis(); err != nil {
		return nil, err
	}
	return override, nil
}

func GetTenantMappingOverride(ctx context.Context, id int) (*TenantMappingOverride, error) {

	tenantId, ok := utils.GetTenantIdFromContext(ctx)
	if !ok || tenantId == "" {
		return nil, errors.New("tenant id is required")
	}
	return utils.FetchModel[TenantMappingOverride](ctx, tenantId, id)
}

func GetTenantMappingOverrides(ctx context.Context, sourceId *string) ([]*TenantMappingOverride, error) {

	tenantId, ok := utils.GetTenantIdFromContext(ctx)
	if !ok || tenantId == "" {
		return nil, errors.New("tenant id is required")
	}

	db := config.GetDB()
	var results []*TenantMappingOverride
	dbCtx := db.WithContext(ctx).Where("tenant_id = ?", tenantId)
	if sourceId != nil && *sourceId != "" {
		dbCtx = dbCtx.Where("source_id = ? OR source_id IS NULL", *sourceId)
	}
	if err := dbCtx.Order("priority DESC, id").Find(&results).Error; err != nil {
		return nil, err
	}
	return results, nil
}

func ToggleActiveTenantMappingOverride(ctx context.Context, id int, isActive bool) (*TenantMappingOverride, error) {

	tenantId, ok := utils.GetTenantIdFromContext(ctx)
	if !ok || tenantId == "" {
		return nil, errors.New("tenant id is required")
	}

	override, err := utils.FetchModel[TenantMappingOverride](ctx, tenantId, id)
	if err != nil {
		return nil, err
	}

	db := config.GetDB()
	if err := db.WithContext(ctx).Model(override).UpdateColumn("IsActive", isActive).Error; err != nil {
		return nil, err
	}

	if err := override.RemoveAllRedis(); err != nil {
		return nil, err
	}
	return override, nil
}

// ListTenantMappingOverrides serves the resolver: every override of the
// tenant, redis first. Source and active filtering happen in the resolver.
func ListTenantMappingOverrides(ctx context.Context, tenantId string) ([]*TenantMappingOverride, error) {
	return utils.ListModel[TenantMappingOverride](ctx, tenantId)
}
