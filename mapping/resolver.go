package mapping

import (
	"context"
	"sort"
)

// ConfigStore supplies configuration records to the resolver. Implementations
// do the actual storage access; the resolver only asks for records and never
// writes. A lookup that finds nothing returns (nil, nil) / an empty slice,
// not an error.
type ConfigStore interface {
	GetSource(ctx context.Context, tenantID string, sourceID string) (*SourceInfo, error)
	GetGlobalTemplatesBySourceType(ctx context.Context, sourceType string) ([]GlobalTemplate, error)
	GetTenantOverrides(ctx context.Context, tenantID string, sourceID string) ([]TenantOverride, error)
	GetActiveSourceMapping(ctx context.Context, tenantID string, sourceID string) (*SourceMapping, error)
}

// Resolver merges the three configuration layers into effective mappings.
// Stateless; safe for concurrent use.
type Resolver struct {
	store ConfigStore
}

func NewResolver(store ConfigStore) *Resolver {
	return &Resolver{store: store}
}

// Resolve computes the effective mapping for one (tenant, source) pair.
//
// Layer order: selected global template, then tenant overrides sorted least
// important first (priority descending, ties by id descending so the smallest
// id ends up applied last and wins), then the explicit source mapping.
// Last writer wins per target field, wholesale replacement.
//
// Returns ErrSourceNotFound when the source does not exist. Returns
// (nil, nil) when no layer contributes any field mapping; callers treat that
// as "store the event but do not transform".
func (r *Resolver) Resolve(ctx context.Context, tenantID string, sourceID string) (*EffectiveMapping, error) {
	return r.resolve(ctx, tenantID, sourceID, nil)
}

// PreviewMerge computes what Resolve would return if proposed were saved.
// A proposed override with the id of a stored one replaces it for the
// computation; id 0 (or any unknown id) is treated as a new override.
// Nothing is persisted and stored records are not modified.
func (r *Resolver) PreviewMerge(ctx context.Context, tenantID string, sourceID string, proposed TenantOverride) (*EffectiveMapping, error) {
	return r.resolve(ctx, tenantID, sourceID, &proposed)
}

func (r *Resolver) resolve(ctx context.Context, tenantID string, sourceID string, proposed *TenantOverride) (*EffectiveMapping, error) {
	src, err := r.store.GetSource(ctx, tenantID, sourceID)
	if err != nil {
		return nil, err
	}
	if src == nil {
		return nil, ErrSourceNotFound
	}

	em := &EffectiveMapping{
		TenantID:     tenantID,
		SourceID:     sourceID,
		StaticValues: map[string]interface{}{},
	}

	// Layer 1: global template for the source type (or the wildcard type).
	templates, err := r.store.GetGlobalTemplatesBySourceType(ctx, src.SourceType)
	if err != nil {
		return nil, err
	}
	if tpl := selectGlobalTemplate(templates, src.SourceType); tpl != nil {
		em.FieldMappings = mergeFieldMappings(em.FieldMappings, tpl.FieldMappings)
		mergeStaticValues(em.StaticValues, tpl.StaticValues)
		em.MergeLog = append(em.MergeLog, MergeLogEntry{
			Layer:         LayerGlobalTemplate,
			LayerID:       tpl.ID,
			FieldsApplied: appliedFields(tpl.FieldMappings),
			Priority:      tpl.Priority,
		})
	}

	// Layer 2: tenant overrides, least important applied first.
	overrides, err := r.store.GetTenantOverrides(ctx, tenantID, sourceID)
	if err != nil {
		return nil, err
	}
	overrides = filterOverrides(overrides, sourceID)
	if proposed != nil {
		overrides = spliceProposedOverride(overrides, *proposed, sourceID)
	}
	sort.SliceStable(overrides, func(i, j int) bool {
		if overrides[i].Priority != overrides[j].Priority {
			return overrides[i].Priority > overrides[j].Priority
		}
		return overrides[i].ID > overrides[j].ID
	})
	for _, ov := range overrides {
		em.FieldMappings = mergeFieldMappings(em.FieldMappings, ov.FieldMappings)
		mergeStaticValues(em.StaticValues, ov.StaticValues)
		em.MergeLog = append(em.MergeLog, MergeLogEntry{
			Layer:         LayerTenantOverride,
			LayerID:       ov.ID,
			FieldsApplied: appliedFields(ov.FieldMappings),
			Priority:      ov.Priority,
		})
	}

	// Layer 3: explicit source mapping, unconditionally highest precedence.
	sm, err := r.store.GetActiveSourceMapping(ctx, tenantID, sourceID)
	if err != nil {
		return nil, err
	}
	if sm != nil && sm.IsActive {
		em.FieldMappings = mergeFieldMappings(em.FieldMappings, sm.FieldMappings)
		mergeStaticValues(em.StaticValues, sm.StaticValues)
		em.MergeLog = append(em.MergeLog, MergeLogEntry{
			Layer:         LayerSourceMapping,
			LayerID:       sm.ID,
			FieldsApplied: appliedFields(sm.FieldMappings),
			Priority:      0,
		})
	}

	// No field from any layer means this source has no mapping configured.
	if len(em.FieldMappings) == 0 {
		return nil, nil
	}
	return em, nil
}

// MissingRequiredFields returns the mandatory target fields absent from the
// effective mapping's target-field set. A nil mapping misses everything.
func MissingRequiredFields(em *EffectiveMapping) []string {
	if em == nil {
		return append([]string(nil), RequiredTargetFields...)
	}
	have := make(map[string]bool, len(em.FieldMappings))
	for _, fm := range em.FieldMappings {
		have[fm.TargetField] = true
	}
	var missing []string
	for _, f := range RequiredTargetFields {
		if !have[f] {
			missing = append(missing, f)
		}
	}
	return missing
}

// selectGlobalTemplate picks the single applicable template: active, lowest
// priority number; ties prefer the exact source type over the wildcard, then
// the smallest id.
func selectGlobalTemplate(templates []GlobalTemplate, sourceType string) *GlobalTemplate {
	var best *GlobalTemplate
	for i := range templates {
		tpl := &templates[i]
		if !tpl.IsActive {
			continue
		}
		if tpl.SourceType != sourceType && tpl.SourceType != SourceTypeWildcard {
			continue
		}
		if best == nil || templateBefore(tpl, best, sourceType) {
			best = tpl
		}
	}
	return best
}

func templateBefore(a, b *GlobalTemplate, sourceType string) bool {
	if a.Priority != b.Priority {
		return a.Priority < b.Priority
	}
	aExact := a.SourceType == sourceType
	bExact := b.SourceType == sourceType
	if aExact != bExact {
		return aExact
	}
	return a.ID < b.ID
}

// filterOverrides keeps active overrides that target the requested source or
// all sources (nil SourceID).
func filterOverrides(overrides []TenantOverride, sourceID string) []TenantOverride {
	out := overrides[:0:0]
	for _, ov := range overrides {
		if !ov.IsActive {
			continue
		}
		if ov.SourceID != nil && *ov.SourceID != sourceID {
			continue
		}
		out = append(out, ov)
	}
	return out
}

// spliceProposedOverride swaps the proposed override in for its stored
// version (matched by id) or appends it as new. Inactive proposals and
// proposals scoped to a different source drop out, mirroring filterOverrides.
func spliceProposedOverride(overrides []TenantOverride, proposed TenantOverride, sourceID string) []TenantOverride {
	out := make([]TenantOverride, 0, len(overrides)+1)
	for _, ov := range overrides {
		if proposed.ID != 0 && ov.ID == proposed.ID {
			continue
		}
		out = append(out, ov)
	}
	applies := proposed.IsActive &&
		(proposed.SourceID == nil || *proposed.SourceID == sourceID)
	if applies {
		out = append(out, proposed)
	}
	return out
}

// mergeFieldMappings applies the last-writer-wins merge rule keyed by
// targetField. Base order is preserved; keys new in incoming append in
// incoming order. Rules without a target field cannot be keyed and are
// dropped.
func mergeFieldMappings(base, incoming []FieldMapping) []FieldMapping {
	out := make([]FieldMapping, 0, len(base)+len(incoming))
	idx := make(map[string]int, len(base)+len(incoming))
	for _, fm := range base {
		if fm.TargetField == "" {
			continue
		}
		if i, ok := idx[fm.TargetField]; ok {
			out[i] = fm
			continue
		}
		idx[fm.TargetField] = len(out)
		out = append(out, fm)
	}
	for _, fm := range incoming {
		if fm.TargetField == "" {
			continue
		}
		if i, ok := idx[fm.TargetField]; ok {
			out[i] = fm
			continue
		}
		idx[fm.TargetField] = len(out)
		out = append(out, fm)
	}
	return out
}

func mergeStaticValues(dst map[string]interface{}, src map[string]interface{}) {
	for k, v := range src {
		dst[k] = v
	}
}

func appliedFields(mappings []FieldMapping) []string {
	fields := make([]string, 0, len(mappings))
	for _, fm := range mappings {
		if fm.TargetField == "" {
			continue
		}
		fields = append(fields, fm.TargetField)
	}
	return fields
}
