package mapping

import (
	"context"
	"errors"
	"reflect"
	"testing"
)

// fakeConfigStore serves in-memory configuration records. Tests assemble the
// exact layer combinations they need.
type fakeConfigStore struct {
	sources        map[string]*SourceInfo
	templates      []GlobalTemplate
	overrides      []TenantOverride
	sourceMappings map[string]*SourceMapping
	err            error
}

func (s *fakeConfigStore) GetSource(ctx context.Context, tenantID, sourceID string) (*SourceInfo, error) {
	if s.err != nil {
		return nil, s.err
	}
	src, ok := s.sources[tenantID+"/"+sourceID]
	if !ok {
		return nil, nil
	}
	return src, nil
}

func (s *fakeConfigStore) GetGlobalTemplatesBySourceType(ctx context.Context, sourceType string) ([]GlobalTemplate, error) {
	if s.err != nil {
		return nil, s.err
	}
	var out []GlobalTemplate
	for _, tpl := range s.templates {
		if tpl.SourceType == sourceType || tpl.SourceType == SourceTypeWildcard {
			out = append(out, tpl)
		}
	}
	return out, nil
}

func (s *fakeConfigStore) GetTenantOverrides(ctx context.Context, tenantID, sourceID string) ([]TenantOverride, error) {
	if s.err != nil {
		return nil, s.err
	}
	var out []TenantOverride
	for _, ov := range s.overrides {
		if ov.TenantID != tenantID {
			continue
		}
		if ov.SourceID == nil || *ov.SourceID == sourceID {
			out = append(out, ov)
		}
	}
	return out, nil
}

func (s *fakeConfigStore) GetActiveSourceMapping(ctx context.Context, tenantID, sourceID string) (*SourceMapping, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.sourceMappings[tenantID+"/"+sourceID], nil
}

func strPtr(s string) *string { return &s }

func rule(target, source string) FieldMapping {
	return FieldMapping{TargetField: target, SourceField: source}
}

func newTestStore() *fakeConfigStore {
	return &fakeConfigStore{
		sources: map[string]*SourceInfo{
			"t1/src1": {ID: "src1", TenantID: "t1", SourceType: "shopify", IsActive: true},
			"t1/src2": {ID: "src2", TenantID: "t1", SourceType: "shopify", IsActive: true},
		},
		sourceMappings: map[string]*SourceMapping{},
	}
}

func TestResolveLayerPrecedence(t *testing.T) {
	store := newTestStore()
	store.templates = []GlobalTemplate{{
		ID:         1,
		SourceType: "shopify",
		Priority:   100,
		IsActive:   true,
		FieldMappings: []FieldMapping{
			rule("CustomerRef.value", "template.customer"),
			rule("DocNumber", "order_number"),
		},
	}}
	store.overrides = []TenantOverride{{
		ID:       10,
		TenantID: "t1",
		SourceID: strPtr("src1"),
		Priority: 50,
		IsActive: true,
		FieldMappings: []FieldMapping{
			rule("CustomerRef.value", "override.customer"),
		},
	}}
	store.sourceMappings["t1/src1"] = &SourceMapping{
		ID:       100,
		TenantID: "t1",
		SourceID: "src1",
		IsActive: true,
		FieldMappings: []FieldMapping{
			rule("CustomerRef.value", "source.customer"),
		},
	}

	em, err := NewResolver(store).Resolve(context.Background(), "t1", "src1")
	if err != nil {
		t.Fatalf("Resolve error: %v", err)
	}
	if em == nil {
		t.Fatal("Resolve returned nil mapping")
	}

	var customerRule *FieldMapping
	for i := range em.FieldMappings {
		if em.FieldMappings[i].TargetField == "CustomerRef.value" {
			customerRule = &em.FieldMappings[i]
		}
	}
	if customerRule == nil {
		t.Fatal("CustomerRef.value missing from effective mapping")
	}
	if customerRule.SourceField != "source.customer" {
		t.Fatalf("CustomerRef.value sourceField = %q, expected source mapping to win", customerRule.SourceField)
	}

	// DocNumber comes only from the template and must survive.
	found := false
	for _, fm := range em.FieldMappings {
		if fm.TargetField == "DocNumber" && fm.SourceField == "order_number" {
			found = true
		}
	}
	if !found {
		t.Fatal("template-only field DocNumber lost in merge")
	}

	wantLayers := []string{LayerGlobalTemplate, LayerTenantOverride, LayerSourceMapping}
	if len(em.MergeLog) != len(wantLayers) {
		t.Fatalf("merge log has %d entries, expected %d: %+v", len(em.MergeLog), len(wantLayers), em.MergeLog)
	}
	for i, entry := range em.MergeLog {
		if entry.Layer != wantLayers[i] {
			t.Fatalf("merge log[%d].Layer = %q, expected %q", i, entry.Layer, wantLayers[i])
		}
	}
	if em.MergeLog[2].Priority != 0 {
		t.Fatalf("source mapping log priority = %d, expected 0", em.MergeLog[2].Priority)
	}
}

func TestResolveWildcardOverrideAppliesToAllSources(t *testing.T) {
	store := newTestStore()
	store.overrides = []TenantOverride{{
		ID:       11,
		TenantID: "t1",
		SourceID: nil,
		Priority: 50,
		IsActive: true,
		FieldMappings: []FieldMapping{
			rule("PrivateNote", "note"),
		},
	}}

	for _, sourceID := range []string{"src1", "src2"} {
		em, err := NewResolver(store).Resolve(context.Background(), "t1", sourceID)
		if err != nil {
			t.Fatalf("Resolve(%s) error: %v", sourceID, err)
		}
		if em == nil {
			t.Fatalf("Resolve(%s) returned nil", sourceID)
		}
		if len(em.FieldMappings) != 1 || em.FieldMappings[0].TargetField != "PrivateNote" {
			t.Fatalf("Resolve(%s) mappings = %+v", sourceID, em.FieldMappings)
		}
	}
}

func TestResolveOverridePriorityOrdering(t *testing.T) {
	store := newTestStore()
	store.overrides = []TenantOverride{
		{
			ID: 20, TenantID: "t1", Priority: 50, IsActive: true,
			FieldMappings: []FieldMapping{rule("DocNumber", "important")},
		},
		{
			ID: 21, TenantID: "t1", Priority: 80, IsActive: true,
			FieldMappings: []FieldMapping{rule("DocNumber", "less_important")},
		},
	}

	em, err := NewResolver(store).Resolve(context.Background(), "t1", "src1")
	if err != nil {
		t.Fatalf("Resolve error: %v", err)
	}
	if em.FieldMappings[0].SourceField != "important" {
		t.Fatalf("DocNumber = %q, expected priority 50 override to win over 80", em.FieldMappings[0].SourceField)
	}
	// Least important first in the log.
	if em.MergeLog[0].LayerID != 21 || em.MergeLog[1].LayerID != 20 {
		t.Fatalf("merge log order wrong: %+v", em.MergeLog)
	}
}

func TestResolveNoConfigurationReturnsNil(t *testing.T) {
	store := newTestStore()
	em, err := NewResolver(store).Resolve(context.Background(), "t1", "src1")
	if err != nil {
		t.Fatalf("Resolve error: %v", err)
	}
	if em != nil {
		t.Fatalf("expected nil mapping, got %+v", em)
	}
}

func TestResolveUnknownSource(t *testing.T) {
	store := newTestStore()
	_, err := NewResolver(store).Resolve(context.Background(), "t1", "nope")
	if !errors.Is(err, ErrSourceNotFound) {
		t.Fatalf("expected ErrSourceNotFound, got %v", err)
	}
}

func TestResolvePropagatesStoreErrors(t *testing.T) {
	store := newTestStore()
	store.err = errors.New("db down")
	_, err := NewResolver(store).Resolve(context.Background(), "t1", "src1")
	if err == nil || err.Error() != "db down" {
		t.Fatalf("expected store error to propagate, got %v", err)
	}
}

func TestResolveIgnoresInactiveLayers(t *testing.T) {
	store := newTestStore()
	store.templates = []GlobalTemplate{{
		ID: 1, SourceType: "shopify", Priority: 100, IsActive: false,
		FieldMappings: []FieldMapping{rule("DocNumber", "a")},
	}}
	store.overrides = []TenantOverride{{
		ID: 10, TenantID: "t1", Priority: 50, IsActive: false,
		FieldMappings: []FieldMapping{rule("DocNumber", "b")},
	}}
	store.sourceMappings["t1/src1"] = &SourceMapping{
		ID: 100, TenantID: "t1", SourceID: "src1", IsActive: false,
		FieldMappings: []FieldMapping{rule("DocNumber", "c")},
	}

	em, err := NewResolver(store).Resolve(context.Background(), "t1", "src1")
	if err != nil {
		t.Fatalf("Resolve error: %v", err)
	}
	if em != nil {
		t.Fatalf("inactive layers must not contribute, got %+v", em)
	}
}

func TestSelectGlobalTemplateTieBreak(t *testing.T) {
	// Same priority: exact type beats wildcard, then smallest id.
	templates := []GlobalTemplate{
		{ID: 3, SourceType: SourceTypeWildcard, Priority: 100, IsActive: true},
		{ID: 2, SourceType: "shopify", Priority: 100, IsActive: true},
		{ID: 5, SourceType: "shopify", Priority: 100, IsActive: true},
	}
	tpl := selectGlobalTemplate(templates, "shopify")
	if tpl == nil || tpl.ID != 2 {
		t.Fatalf("selected template %+v, expected id 2", tpl)
	}

	// Lower priority number wins outright.
	templates = append(templates, GlobalTemplate{ID: 9, SourceType: SourceTypeWildcard, Priority: 40, IsActive: true})
	tpl = selectGlobalTemplate(templates, "shopify")
	if tpl == nil || tpl.ID != 9 {
		t.Fatalf("selected template %+v, expected id 9", tpl)
	}
}

func TestResolveMergesStaticValues(t *testing.T) {
	store := newTestStore()
	store.templates = []GlobalTemplate{{
		ID: 1, SourceType: "shopify", Priority: 100, IsActive: true,
		FieldMappings: []FieldMapping{rule("DocNumber", "order_number")},
		StaticValues:  map[string]interface{}{"CurrencyRef.value": "USD", "PrivateNote": "from template"},
	}}
	store.overrides = []TenantOverride{{
		ID: 10, TenantID: "t1", Priority: 50, IsActive: true,
		StaticValues: map[string]interface{}{"PrivateNote": "from override"},
	}}

	em, err := NewResolver(store).Resolve(context.Background(), "t1", "src1")
	if err != nil {
		t.Fatalf("Resolve error: %v", err)
	}
	want := map[string]interface{}{
		"CurrencyRef.value": "USD",
		"PrivateNote":       "from override",
	}
	if !reflect.DeepEqual(em.StaticValues, want) {
		t.Fatalf("StaticValues = %#v, expected %#v", em.StaticValues, want)
	}
}

func TestPreviewMergeDoesNotMutateStore(t *testing.T) {
	store := newTestStore()
	store.overrides = []TenantOverride{{
		ID: 10, TenantID: "t1", Priority: 50, IsActive: true,
		FieldMappings: []FieldMapping{rule("DocNumber", "persisted")},
	}}

	proposed := TenantOverride{
		ID: 10, TenantID: "t1", Priority: 50, IsActive: true,
		FieldMappings: []FieldMapping{rule("DocNumber", "proposed")},
	}
	r := NewResolver(store)
	em, err := r.PreviewMerge(context.Background(), "t1", "src1", proposed)
	if err != nil {
		t.Fatalf("PreviewMerge error: %v", err)
	}
	if em.FieldMappings[0].SourceField != "proposed" {
		t.Fatalf("preview did not apply proposed override: %+v", em.FieldMappings)
	}

	// Stored override must be untouched and a normal resolve unchanged.
	if store.overrides[0].FieldMappings[0].SourceField != "persisted" {
		t.Fatalf("PreviewMerge mutated stored override: %+v", store.overrides[0])
	}
	em2, err := r.Resolve(context.Background(), "t1", "src1")
	if err != nil {
		t.Fatalf("Resolve error: %v", err)
	}
	if em2.FieldMappings[0].SourceField != "persisted" {
		t.Fatalf("Resolve after preview = %+v, store state leaked", em2.FieldMappings)
	}
}

func TestPreviewMergeNewOverride(t *testing.T) {
	store := newTestStore()
	store.templates = []GlobalTemplate{{
		ID: 1, SourceType: "shopify", Priority: 100, IsActive: true,
		FieldMappings: []FieldMapping{rule("CustomerRef.value", "customer.id")},
	}}

	proposed := TenantOverride{
		TenantID: "t1", Priority: 50, IsActive: true,
		FieldMappings: []FieldMapping{rule("CustomerRef.value", "buyer.ref")},
	}
	em, err := NewResolver(store).PreviewMerge(context.Background(), "t1", "src1", proposed)
	if err != nil {
		t.Fatalf("PreviewMerge error: %v", err)
	}
	if em.FieldMappings[0].SourceField != "buyer.ref" {
		t.Fatalf("proposed override did not win: %+v", em.FieldMappings)
	}
	if len(em.MergeLog) != 2 {
		t.Fatalf("merge log = %+v, expected template + proposed override", em.MergeLog)
	}
}

func TestMissingRequiredFields(t *testing.T) {
	em := &EffectiveMapping{
		FieldMappings: []FieldMapping{
			rule("CustomerRef.value", "customer.id"),
			rule("Line[0].Amount", "total"),
		},
	}
	missing := MissingRequiredFields(em)
	want := []string{
		"Line[0].SalesItemLineDetail.ItemRef.value",
		"Line[0].DetailType",
	}
	if !reflect.DeepEqual(missing, want) {
		t.Fatalf("MissingRequiredFields = %v, expected %v", missing, want)
	}

	if got := MissingRequiredFields(nil); len(got) != len(RequiredTargetFields) {
		t.Fatalf("nil mapping should miss all required fields, got %v", got)
	}
}

func TestMergeFieldMappingsOrder(t *testing.T) {
	base := []FieldMapping{
		rule("A", "a1"),
		rule("B", "b1"),
	}
	incoming := []FieldMapping{
		rule("B", "b2"),
		rule("C", "c1"),
		{TargetField: "", SourceField: "dropped"},
	}
	merged := mergeFieldMappings(base, incoming)
	if len(merged) != 3 {
		t.Fatalf("merged length = %d, expected 3", len(merged))
	}
	wantOrder := []string{"A", "B", "C"}
	for i, fm := range merged {
		if fm.TargetField != wantOrder[i] {
			t.Fatalf("merged[%d] = %q, expected %q", i, fm.TargetField, wantOrder[i])
		}
	}
	if merged[1].SourceField != "b2" {
		t.Fatalf("incoming rule should replace base wholesale, got %+v", merged[1])
	}
}
