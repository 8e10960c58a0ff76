package mapping

import (
	"fmt"
	"sort"
)

// Transform applies an effective mapping to a decoded webhook payload and
// assembles the invoice document. Deterministic and side-effect free: the
// payload and the mapping are never mutated, and every call builds a fresh
// document. Composite values copied out of the payload or out of static
// values are deep-copied so later normalization cannot reach back into the
// inputs.
func Transform(payload interface{}, em *EffectiveMapping) TransformResult {
	result := TransformResult{
		Document:         map[string]interface{}{},
		ValidationErrors: []string{},
		Warnings:         []string{},
	}
	if em == nil {
		result.ValidationErrors = append(result.ValidationErrors, "no effective mapping")
		return result
	}

	for _, fm := range em.FieldMappings {
		if fm.TargetField == "" {
			continue
		}

		var raw interface{}
		resolved := false
		if fm.StaticValue != nil {
			raw = fm.StaticValue
			resolved = true
		} else if fm.SourceField != "" {
			v, ok := Get(payload, fm.SourceField)
			if !ok {
				if fm.IsRequired {
					result.Warnings = append(result.Warnings, fmt.Sprintf(
						"required field %s: source path %s not found in payload",
						fm.TargetField, fm.SourceField))
				}
			} else {
				raw = v
				resolved = true
			}
		}
		if !resolved {
			// No static value and nothing extracted: the field is skipped,
			// no key is written.
			continue
		}

		tf := ParseTransformation(fm.Transformation)
		if tf.Kind == TransformUnknown {
			result.Warnings = append(result.Warnings, fmt.Sprintf(
				"field %s: unknown transformation %q applied as identity",
				fm.TargetField, fm.Transformation))
		}
		value := deepCopyValue(tf.Apply(raw))
		if err := Set(result.Document, fm.TargetField, value); err != nil {
			result.Warnings = append(result.Warnings, fmt.Sprintf(
				"field %s: %v", fm.TargetField, err))
		}
	}

	// Static values act as unconditional overrides after the field rules.
	// Sorted path order keeps nested writes deterministic when one static
	// path is a prefix of another.
	staticPaths := make([]string, 0, len(em.StaticValues))
	for p := range em.StaticValues {
		staticPaths = append(staticPaths, p)
	}
	sort.Strings(staticPaths)
	for _, p := range staticPaths {
		if err := Set(result.Document, p, deepCopyValue(em.StaticValues[p])); err != nil {
			result.Warnings = append(result.Warnings, fmt.Sprintf(
				"static value %s: %v", p, err))
		}
	}

	normalizeLineItems(result.Document)

	result.ValidationErrors = validateDocument(result.Document)
	result.Success = len(result.ValidationErrors) == 0
	return result
}

// normalizeLineItems defaults DetailType on every line object that lacks one.
func normalizeLineItems(doc map[string]interface{}) {
	lines, ok := doc["Line"].([]interface{})
	if !ok {
		return
	}
	for _, raw := range lines {
		line, ok := raw.(map[string]interface{})
		if !ok {
			continue
		}
		if _, ok := line["DetailType"]; !ok {
			line["DetailType"] = DefaultDetailType
		}
	}
}

// validateDocument checks the fixed invoice schema and returns one
// human-readable string per violation. Callers branch on the list, not on
// errors.
func validateDocument(doc map[string]interface{}) []string {
	errs := []string{}

	if v, ok := Get(doc, "CustomerRef.value"); !ok || asString(v) == "" {
		errs = append(errs, "CustomerRef.value is missing or empty")
	}

	lines, ok := doc["Line"].([]interface{})
	if !ok || len(lines) == 0 {
		errs = append(errs, "Line must contain at least one line item")
		return errs
	}

	for i, raw := range lines {
		line, ok := raw.(map[string]interface{})
		if !ok {
			errs = append(errs, fmt.Sprintf("Line[%d] is not an object", i))
			continue
		}
		amount, ok := line["Amount"]
		if !ok {
			errs = append(errs, fmt.Sprintf("Line[%d].Amount is missing", i))
		} else if !isNumeric(amount) {
			errs = append(errs, fmt.Sprintf("Line[%d].Amount is not a valid number", i))
		}
		if _, ok := line["DetailType"]; !ok {
			errs = append(errs, fmt.Sprintf("Line[%d].DetailType is missing", i))
		}
		if _, ok := Get(line, "SalesItemLineDetail.ItemRef.value"); !ok {
			errs = append(errs, fmt.Sprintf("Line[%d].SalesItemLineDetail.ItemRef.value is missing", i))
		}
	}
	return errs
}
