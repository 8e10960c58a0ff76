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
	"gorm.io/gorm"
)

// SourceMapping is the per-source mapping with unconditional precedence over
// templates and overrides. One row per (tenant, source); saves replace it
// and bump the version.
type SourceMapping struct {
	ID            int             `gorm:"primary_key" json:"id"`
	TenantId      string          `gorm:"size:64;not null;uniqueIndex:idx_source_mapping,priority:1" json:"tenant_id"`
	SourceId      string          `gorm:"size:36;not null;uniqueIndex:idx_source_mapping,priority:2" json:"source_id" binding:"required"`
	FieldMappings json.RawMessage `gorm:"type:json" json:"field_mappings"`
	StaticValues  json.RawMessage `gorm:"type:json" json:"static_values"`
	Version       int             `gorm:"not null;default:1" json:"version"`
	IsActive      *bool           `gorm:"not null;default:true" json:"is_active"`
	CreatedAt     time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt     time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

type NewSourceMapping struct {
	SourceId      string          `json:"source_id" binding:"required"`
	FieldMappings json.RawMessage `json:"field_mappings" binding:"required"`
	StaticValues  json.RawMessage `json:"static_values"`
}

func (m *SourceMapping) Rules() ([]mapping.FieldMapping, error) {
	return decodeFieldMappings(m.FieldMappings)
}

func (m *SourceMapping) Statics() (map[string]interface{}, error) {
	return decodeStaticValues(m.StaticValues)
}

func (input *NewSourceMapping) validate(ctx context.Context, tenantId string) error {
	if err := validateMappingRules(input.FieldMappings); err != nil {
		return err
	}
	if err := validateStaticValues(input.StaticValues); err != nil {
		return err
	}
	if err := utils.ValidateResourceId[Source](ctx, tenantId, input.SourceId); err != nil {
		return errors.New("source not found")
	}
	return nil
}

// SetSourceMapping creates the mapping on first save and replaces it on
// every following one.
func SetSourceMapping(ctx context.Context, input *NewSourceMapping) (*SourceMapping, error) {

	tenantId, ok := utils.GetTenantIdFromContext(ctx)
	if !ok || tenantId == "" {
		return nil, errors.New("tenant id is required")
	}
	if err := input.validate(ctx, tenantId); err != nil {
		return nil, err
	}

	db := config.GetDB()

	var existing SourceMapping
	err := db.WithContext(ctx).
		Where("tenant_id = ? AND source_id = ?", tenantId, input.SourceId).
		First(&existing).Error
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	tx := db.Begin()
	var saved *SourceMapping
	if errors.Is(err, gorm.ErrRecordNotFound) {
		record := SourceMapping{
			TenantId:      tenantId,
			SourceId:      input.SourceId,
			FieldMappings: input.FieldMappings,
			StaticValues:  input.StaticValues,
			IsActive:      utils.NewTrue(),
			Version:       1,
		}
		if err := tx.WithContext(ctx).Create(&record).Error; err != nil {
			tx.Rollback()
			return nil, err
		}
		if err := createHistory(tx.WithContext(ctx), "CREATE", fmt.Sprint(record.ID), "source_mappings", nil, record, "created source mapping"); err != nil {
			tx.Rollback()
			return nil, err
		}
		saved = &record
	} else {
		before := existing
		err = tx.WithContext(ctx).Model(&existing).Updates(map[string]interface{}{
			"FieldMappings": input.FieldMappings,
			"StaticValues":  input.StaticValues,
			"Version":       existing.Version + 1,
			"IsActive":      true,
		}).Error
		if err != nil {
			tx.Rollback()
			return nil, err
		}
		if err := createHistory(tx.WithContext(ctx), "UPDATE", fmt.Sprint(existing.ID), "source_mappings", before, existing, "replaced source mapping"); err != nil {
			tx.Rollback()
			return nil, err
		}
		saved = &existing
	}
	if err := tx.Commit().Error; err != nil {
		return nil, err
	}

	if err := RemoveRedisBoth(*saved); err != nil {
		return nil, err
	}
	return saved, nil
}

func DeleteSourceMapping(ctx context.Context, sourceId string) (*SourceMapping, error) {

	tenantId, ok := utils.GetTenantIdFromContext(ctx)
	if !ok || tenantId == "" {
		return nil, errors.New("tenant id is required")
	}

	db := config.GetDB()
	var record SourceMapping
	err := db.WithContext(ctx).
		Where("tenant_id = ? AND source_id = ?", tenantId, sourceId).
		First(&record).Error
	if err != nil {
		return nil, err
	}

	tx := db.Begin()
	if err := tx.WithContext(ctx).Delete(&record).Error; err != nil {
		tx.Rollback()
		return nil, err
	}
	if err := createHistory(tx.WithContext(ctx), "DELETE", fmt.Sprint(record.ID), "source_mappings", record, nil, "deleted source mapping"); err != nil {
		tx.Rollback()
		return nil, err
	}
	if err := tx.Commit().Error; err != nil {
		return nil, err
	}

	if err := RemoveRedisBoth(record); err != nil {
		return nil, err
	}
	return &record, nil
}

func GetSourceMappingBySource(ctx context.Context, sourceId string) (*SourceMapping, error) {

	tenantId, ok := utils.GetTenantIdFromContext(ctx)
	if !ok || tenantId == "" {
		return nil, errors.New("tenant id is required")
	}

	db := config.GetDB()
	var record SourceMapping
	err := db.WithContext(ctx).
		Where("tenant_id = ? AND source_id = ?", tenantId, sourceId).
		First(&record).Error
	if err != nil {
		return nil, err
	}
	return &record, nil
}

func ToggleActiveSourceMapping(ctx context.Context, sourceId string, isActive bool) (*SourceMapping, error) {

	record, err := GetSourceMappingBySource(ctx, sourceId)
	if err != nil {
		return nil, err
	}

	db := config.GetDB()
	if err := db.WithContext(ctx).Model(record).UpdateColumn("IsActive", isActive).Error; err != nil {
		return nil, err
	}

	if err := RemoveRedisBoth(*record); err != nil {
		return nil, err
	}
	return record, nil
}

// FetchActiveSourceMapping serves the resolver, redis first. Returns nil
// when the source has no mapping row.
func FetchActiveSourceMapping(ctx context.Context, tenantId string, sourceId string) (*SourceMapping, error) {

	key := "SourceMapping:" + tenantId + ":" + sourceId
	var cached SourceMapping
	exists, err := config.GetRedisObject(key, &cached)
	if err != nil {
		return nil, err
	}
	if exists {
		return &cached, nil
	}

	db := config.GetDB()
	var record SourceMapping
	err = db.WithContext(ctx).
		Where("tenant_id = ? AND source_id = ?", tenantId, sourceId).
		First(&record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if err := config.SetRedisObject(key, &record, utils.GetCacheLifespan()); err != nil {
		return nil, err
	}
	return &record, nil
}
