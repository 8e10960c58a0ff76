package models

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/ledgerlinkhq/invoicebridge_backend/config"
	"github.com/ledgerlinkhq/invoicebridge_backend/mapping"
	"github.com/ledgerlinkhq/invoicebridge_backend/utils"
)

// MappingTemplate is a platform-wide default mapping for one source type.
// Templates have no tenant: the resolver picks at most one per source type,
// and tenant overrides layer on top.
type MappingTemplate struct {
	ID            int             `gorm:"primary_key" json:"id"`
	Name          string          `gorm:"size:100;not null;unique" json:"name" binding:"required"`
	SourceType    SourceType      `gorm:"size:30;not null;index" json:"source_type"`
	FieldMappings json.RawMessage `gorm:"type:json" json:"field_mappings"`
	StaticValues  json.RawMessage `gorm:"type:json" json:"static_values"`
	Priority      int             `gorm:"not null;default:100" json:"priority"`
	Description   string          `gorm:"type:text" json:"description"`
	IsActive      *bool           `gorm:"not null;default:true" json:"is_active"`
	CreatedAt     time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt     time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

type NewMappingTemplate struct {
	Name          string          `json:"name" binding:"required"`
	SourceType    SourceType      `json:"source_type"`
	FieldMappings json.RawMessage `json:"field_mappings" binding:"required"`
	StaticValues  json.RawMessage `json:"static_values"`
	Priority      *int            `json:"priority"`
	Description   string          `json:"description"`
}

func (t *MappingTemplate) Rules() ([]mapping.FieldMapping, error) {
	return decodeFieldMappings(t.FieldMappings)
}

func (t *MappingTemplate) Statics() (map[string]interface{}, error) {
	return decodeStaticValues(t.StaticValues)
}

func (input *NewMappingTemplate) validate(ctx context.Context, id int) error {
	if err := input.SourceType.Validate(); err != nil {
		return err
	}
	if err := validateMappingRules(input.FieldMappings); err != nil {
		return err
	}
	if err := validateStaticValues(input.StaticValues); err != nil {
		return err
	}
	// Global resource: unique name across the platform.
	if err := utils.ValidateUnique[MappingTemplate](ctx, "", "name", input.Name, id); err != nil {
		return err
	}
	return nil
}

func (input *NewMappingTemplate) priorityOrDefault() int {
	if input.Priority != nil {
		return *input.Priority
	}
	if input.SourceType == SourceTypeCustom {
		return 200
	}
	return 100
}

func CreateMappingTemplate(ctx context.Context, input *NewMappingTemplate) (*MappingTemplate, error) {

	if err := input.validate(ctx, 0); err != nil {
		return nil, err
	}

	template := MappingTemplate{
		Name:          input.Name,
		SourceType:    input.SourceType,
		FieldMappings: input.FieldMappings,
		StaticValues:  input.StaticValues,
		Priority:      input.priorityOrDefault(),
		Description:   input.Description,
		IsActive:      utils.NewTrue(),
	}

	db := config.GetDB()
	if err := db.WithContext(ctx).Create(&template).Error; err != nil {
		return nil, err
	}

	if err := template.RemoveAllRedis(); err != nil {
		return nil, err
	}
	return &template, nil
}

func UpdateMappingTemplate(ctx context.Context, id int, input *NewMappingTemplate) (*MappingTemplate, error) {

	if err := input.validate(ctx, id); err != nil {
		return nil, err
	}

	template, err := utils.FetchSingleModel[MappingTemplate](ctx, id)
	if err != nil {
		return nil, err
	}

	db := config.GetDB()
	err = db.WithContext(ctx).Model(template).Updates(map[string]interface{}{
		"Name":          input.Name,
		"SourceType":    input.SourceType,
		"FieldMappings": input.FieldMappings,
		"StaticValues":  input.StaticValues,
		"Priority":      input.priorityOrDefault(),
		"Description":   input.Description,
	}).Error
	if err != nil {
		return nil, err
	}

	if err := RemoveRedisBoth(*template); err != nil {
		return nil, err
	}
	return template, nil
}

func DeleteMappingTemplate(ctx context.Context, id int) (*MappingTemplate, error) {

	template, err := utils.FetchSingleModel[MappingTemplate](ctx, id)
	if err != nil {
		return nil, err
	}

	// Overrides may pin a template id for provenance. Block the delete
	// instead of silently orphaning them.
	db := config.GetDB()
	var refs int64
	if err := db.WithContext(ctx).Model(&TenantMappingOverride{}).
		Where("template_id = ?", id).Count(&refs).Error; err != nil {
		return nil, err
	}
	if refs > 0 {
		return nil, errors.New("template is referenced by tenant overrides")
	}

	if err := db.WithContext(ctx).Delete(template).Error; err != nil {
		return nil, err
	}

	if err := RemoveRedisBoth(*template); err != nil {
		return nil, err
	}
	return template, nil
}

func GetMappingTemplate(ctx context.Context, id int) (*MappingTemplate, error) {
	return utils.FetchSingleModel[MappingTemplate](ctx, id)
}

func GetMappingTemplates(ctx context.Context, sourceType *SourceType, name *string) ([]*MappingTemplate, error) {

	db := config.GetDB()
	var results []*MappingTemplate
	dbCtx := db.WithContext(ctx).Model(&MappingTemplate{})
	if sourceType != nil && len(*sourceType) > 0 {
		dbCtx = dbCtx.Where("source_type = ?", *sourceType)
	}
	if name != nil && len(*name) > 0 {
		dbCtx = dbCtx.Where("name LIKE ?", "%"+*name+"%")
	}
	if err := dbCtx.Order("source_type, priority, id").Find(&results).Error; err != nil {
		return nil, err
	}
	return results, nil
}

func ToggleActiveMappingTemplate(ctx context.Context, id int, isActive bool) (*MappingTemplate, error) {

	template, err := utils.FetchSingleModel[MappingTemplate](ctx, id)
	if err != nil {
		return nil, err
	}

	db := config.GetDB()
	if err := db.WithContext(ctx).Model(template).UpdateColumn("IsActive", isActive).Error; err != nil {
		return nil, err
	}

	if err := RemoveRedisBoth(*template); err != nil {
		return nil, err
	}
	return template, nil
}

// ListActiveMappingTemplates serves the resolver: all active templates,
// redis first. The per-source-type pick happens in the resolver.
func ListActiveMappingTemplates(ctx context.Context) ([]*MappingTemplate, error) {

	results, err := utils.RetrieveRedisList[MappingTemplate]("")
	if err != nil {
		return nil, err
	}
	if results == nil {
		db := config.GetDB()
		if err := db.WithContext(ctx).
			Where("is_active = ?", true).
			Order("priority, id").
			Find(&results).Error; err != nil {
			return nil, err
		}
		if err := utils.StoreRedisList[MappingTemplate](results, ""); err != nil {
			return nil, err
		}
	}
	return results, nil
}
