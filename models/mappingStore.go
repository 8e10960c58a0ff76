package models

import (
	"context"
	"errors"

	"github.com/ledgerlinkhq/invoicebridge_backend/mapping"
	"github.com/ledgerlinkhq/invoicebridge_backend/utils"
)

// MappingStore adapts the persistence layer to mapping.ConfigStore. Reads
// go through the redis layer caches; admin writes invalidate them, so the
// resolver always sees committed configuration.
type MappingStore struct{}

func NewMappingStore() *MappingStore {
	return &MappingStore{}
}

func (s *MappingStore) GetSource(ctx context.Context, tenantId string, sourceId string) (*mapping.SourceInfo, error) {
	source, err := fetchSource(ctx, tenantId, sourceId)
	if err != nil {
		if errors.Is(err, utils.ErrorRecordNotFound) || errors.Is(err, utils.ErrorTenantMismatch) {
			return nil, nil
		}
		return nil, err
	}
	return &mapping.SourceInfo{
		ID:         source.ID,
		TenantID:   source.TenantId,
		SourceType: string(source.SourceType),
		IsActive:   utils.DereferencePtr(source.IsActive),
	}, nil
}

// GetGlobalTemplatesBySourceType returns the active templates matching the
// type or the wildcard. The resolver picks the single applicable one.
func (s *MappingStore) GetGlobalTemplatesBySourceType(ctx context.Context, sourceType string) ([]mapping.GlobalTemplate, error) {
	templates, err := ListActiveMappingTemplates(ctx)
	if err != nil {
		return nil, err
	}

	var out []mapping.GlobalTemplate
	for _, t := range templates {
		if string(t.SourceType) != sourceType && string(t.SourceType) != mapping.SourceTypeWildcard {
			continue
		}
		converted, err := t.toResolverTemplate()
		if err != nil {
			return nil, err
		}
		out = append(out, converted)
	}
	return out, nil
}

// GetTenantOverrides returns every stored override of the tenant. Active,
// source and priority filtering happen in the resolver.
func (s *MappingStore) GetTenantOverrides(ctx context.Context, tenantId string, sourceId string) ([]mapping.TenantOverride, error) {
	overrides, err := ListTenantMappingOverrides(ctx, tenantId)
	if err != nil {
		return nil, err
	}

	out := make([]mapping.TenantOverride, 0, len(overrides))
	for _, ov := range overrides {
		converted, err := ov.toResolverOverride()
		if err != nil {
			return nil, err
		}
		out = append(out, converted)
	}
	return out, nil
}

func (s *MappingStore) GetActiveSourceMapping(ctx context.Context, tenantId string, sourceId string) (*mapping.SourceMapping, error) {
	record, err := FetchActiveSourceMapping(ctx, tenantId, sourceId)
	if err != nil {
		return nil, err
	}
	if record == nil {
		return nil, nil
	}
	converted, err := record.toResolverMapping()
	if err != nil {
		return nil, err
	}
	return &converted, nil
}

func (t *MappingTemplate) toResolverTemplate() (mapping.GlobalTemplate, error) {
	rules, err := t.Rules()
	if err != nil {
		return mapping.GlobalTemplate{}, err
	}
	statics, err := t.Statics()
	if err != nil {
		return mapping.GlobalTemplate{}, err
	}
	return mapping.GlobalTemplate{
		ID:            t.ID,
		SourceType:    string(t.SourceType),
		FieldMappings: rules,
		StaticValues:  statics,
		Priority:      t.Priority,
		IsActive:      utils.DereferencePtr(t.IsActive),
	}, nil
}

func (ov *TenantMappingOverride) toResolverOverride() (mapping.TenantOverride, error) {
	rules, err := decodeFieldMappings(ov.FieldMappings)
	if err != nil {
		return mapping.TenantOverride{}, err
	}
	statics, err := decodeStaticValues(ov.StaticValues)
	if err != nil {
		return mapping.TenantOverride{}, err
	}
	return mapping.TenantOverride{
		ID:            ov.ID,
		TenantID:      ov.TenantId,
		SourceID:      ov.SourceId,
		TemplateID:    ov.TemplateId,
		FieldMappings: rules,
		StaticValues:  statics,
		Priority:      ov.Priority,
		IsActive:      utils.DereferencePtr(ov.IsActive),
	}, nil
}

func (record *SourceMapping) toResolverMapping() (mapping.SourceMapping, error) {
	rules, err := decodeFieldMappings(record.FieldMappings)
	if err != nil {
		return mapping.SourceMapping{}, err
	}
	statics, err := decodeStaticValues(record.StaticValues)
	if err != nil {
		return mapping.SourceMapping{}, err
	}
	return mapping.SourceMapping{
		ID:            record.ID,
		TenantID:      record.TenantId,
		SourceID:      record.SourceId,
		FieldMappings: rules,
		StaticValues:  statics,
		IsActive:      utils.DereferencePtr(record.IsActive),
	}, nil
}
