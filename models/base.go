package models

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/ledgerlinkhq/invoicebridge_backend/mapping"
	"github.com/ledgerlinkhq/invoicebridge_backend/utils"
	"github.com/google/uuid"
)

// decodeFieldMappings parses a stored rule list. A null/empty column is an
// empty rule list, not an error.
func decodeFieldMappings(raw json.RawMessage) ([]mapping.FieldMapping, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var rules []mapping.FieldMapping
	if err := json.Unmarshal(raw, &rules); err != nil {
		return nil, fmt.Errorf("field mappings: %w", err)
	}
	return rules, nil
}

func decodeStaticValues(raw json.RawMessage) (map[string]interface{}, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var statics map[string]interface{}
	if err := json.Unmarshal(raw, &statics); err != nil {
		return nil, fmt.Errorf("static values: %w", err)
	}
	return statics, nil
}

// validateMappingRules rejects rule lists that could never transform
// anything sensible: malformed JSON, rules without a target field, rules
// with neither a source field nor a static value, and transformation names
// the engine does not know. Stored configs that predate a transformation
// removal still go through the engine (which downgrades them to identity
// with a warning); new saves are held to the closed set.
func validateMappingRules(raw json.RawMessage) error {
	rules, err := decodeFieldMappings(raw)
	if err != nil {
		return err
	}
	for i, rule := range rules {
		if rule.TargetField == "" {
			return fmt.Errorf("rule %d: targetField is required", i)
		}
		if rule.SourceField == "" && rule.StaticValue == nil {
			return fmt.Errorf("rule %d (%s): sourceField or staticValue is required", i, rule.TargetField)
		}
		if tf := mapping.ParseTransformation(rule.Transformation); tf.Kind == mapping.TransformUnknown {
			return fmt.Errorf("rule %d (%s): unknown transformation %q", i, rule.TargetField, rule.Transformation)
		}
		if rule.LookupType != "" && !EntityRefType(rule.LookupType).Valid() {
			return fmt.Errorf("rule %d (%s): unknown lookupType %q", i, rule.TargetField, rule.LookupType)
		}
	}
	return nil
}

func validateStaticValues(raw json.RawMessage) error {
	_, err := decodeStaticValues(raw)
	return err
}

func correlationIdFromContextOrNew(ctx context.Context) string {
	if ctx != nil {
		if v, ok := utils.GetCorrelationIdFromContext(ctx); ok && v != "" {
			return v
		}
	}
	return uuid.NewString()
}
