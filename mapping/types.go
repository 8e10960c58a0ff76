// Package mapping implements the field-mapping resolution and transformation
// engine: hierarchical configuration merge per (tenant, source), path-based
// value extraction, a closed transformation registry, and fixed-schema
// validation of the assembled invoice document.
//
// The package is pure. It performs no I/O and keeps no state between calls;
// configuration records arrive through the ConfigStore interface and results
// leave as plain values. Callers may run any number of resolutions and
// transforms concurrently.
package mapping

import "errors"

// ErrSourceNotFound is returned by Resolve when the (tenant, source) pair does
// not identify a registered source.
var ErrSourceNotFound = errors.New("source not found")

// Merge-log layer names, ordered lowest precedence first.
const (
	LayerGlobalTemplate = "global_template"
	LayerTenantOverride = "tenant_override"
	LayerSourceMapping  = "source_mapping"
)

// SourceTypeWildcard is the catch-all source type. Templates registered under
// it apply to any source whose own type has no template.
const SourceTypeWildcard = "custom"

// DefaultDetailType is written into line items that do not configure one.
const DefaultDetailType = "SalesItemLineDetail"

// FieldMapping is one mapping rule. TargetField is the merge key; at most one
// rule per target survives resolution. StaticValue wins over SourceField when
// both are set; a rule with neither contributes nothing.
type FieldMapping struct {
	TargetField    string      `json:"targetField"`
	SourceField    string      `json:"sourceField,omitempty"`
	StaticValue    interface{} `json:"staticValue,omitempty"`
	Transformation string      `json:"transformation,omitempty"`
	IsRequired     bool        `json:"isRequired,omitempty"`
	LookupType     string      `json:"lookupType,omitempty"`
}

// SourceInfo is the resolver's view of a registered source.
type SourceInfo struct {
	ID         string `json:"id"`
	TenantID   string `json:"tenantId"`
	SourceType string `json:"sourceType"`
	IsActive   bool   `json:"isActive"`
}

// GlobalTemplate is platform-level default configuration for a source type.
// Larger priority number = lower importance (100 type-specific, 200 wildcard).
type GlobalTemplate struct {
	ID            int                    `json:"id"`
	SourceType    string                 `json:"sourceType"`
	FieldMappings []FieldMapping         `json:"fieldMappings"`
	StaticValues  map[string]interface{} `json:"staticValues,omitempty"`
	Priority      int                    `json:"priority"`
	IsActive      bool                   `json:"isActive"`
}

// TenantOverride is tenant-level configuration. A nil SourceID applies the
// override to every source of the tenant. Default priority 50.
type TenantOverride struct {
	ID            int                    `json:"id"`
	TenantID      string                 `json:"tenantId"`
	SourceID      *string                `json:"sourceId,omitempty"`
	TemplateID    *int                   `json:"templateId,omitempty"`
	FieldMappings []FieldMapping         `json:"fieldMappings"`
	StaticValues  map[string]interface{} `json:"staticValues,omitempty"`
	Priority      int                    `json:"priority"`
	IsActive      bool                   `json:"isActive"`
}

// SourceMapping is an explicit per-source mapping. Implicit priority 0, the
// highest precedence layer.
type SourceMapping struct {
	ID            int                    `json:"id"`
	TenantID      string                 `json:"tenantId"`
	SourceID      string                 `json:"sourceId"`
	FieldMappings []FieldMapping         `json:"fieldMappings"`
	StaticValues  map[string]interface{} `json:"staticValues,omitempty"`
	IsActive      bool                   `json:"isActive"`
}

// MergeLogEntry records one configuration layer's contribution, in the order
// layers were applied (lowest precedence first). FieldsApplied lists the
// target fields the layer defined regardless of whether a later layer
// overwrote them.
type MergeLogEntry struct {
	Layer         string   `json:"layer"`
	LayerID       int      `json:"layerId"`
	FieldsApplied []string `json:"fieldsApplied"`
	Priority      int      `json:"priority"`
}

// EffectiveMapping is the resolved configuration for one (tenant, source)
// pair. FieldMappings holds at most one rule per target field, the one from
// the highest-precedence layer that defined it. Request-scoped, never
// persisted.
type EffectiveMapping struct {
	TenantID      string                 `json:"tenantId"`
	SourceID      string                 `json:"sourceId"`
	FieldMappings []FieldMapping         `json:"fieldMappings"`
	StaticValues  map[string]interface{} `json:"staticValues"`
	MergeLog      []MergeLogEntry        `json:"mergeLog"`
}

// TransformResult carries the assembled document plus diagnostics. Warnings
// never affect Success; only schema violations do.
type TransformResult struct {
	Success          bool                   `json:"success"`
	Document         map[string]interface{} `json:"document"`
	ValidationErrors []string               `json:"validationErrors"`
	Warnings         []string               `json:"warnings"`
}

// RequiredTargetFields is the fixed set of target fields MissingRequiredFields
// checks for. DetailType is listed even though Transform defaults it, so admin
// tooling can flag mappings that rely on the default.
var RequiredTargetFields = []string{
	"CustomerRef.value",
	"Line[0].Amount",
	"Line[0].SalesItemLineDetail.ItemRef.value",
	"Line[0].DetailType",
}
