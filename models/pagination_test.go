package models

import "testing"

func TestCompositeCursorRoundTrip(t *testing.T) {
	cursor := EncodeCompositeCursor("2026-01-02T03:04:05.000000006Z", "3f1c2a9e")
	ts, id := DecodeCompositeCursor(&cursor)
	if ts != "2026-01-02T03:04:05.000000006Z" || id != "3f1c2a9e" {
		t.Fatalf("round trip mismatch: ts=%q id=%q", ts, id)
	}
}

func TestDecodeCompositeCursorMalformed(t *testing.T) {
	cases := []struct {
		name   string
		cursor *string
	}{
		{"nil cursor", nil},
		{"empty cursor", ptr("")},
		{"not base64", ptr("%%%")},
		{"no separator", ptr(EncodeCursor("just-a-timestamp"))},
	}
	for _, tc := range cases {
		ts, id := DecodeCompositeCursor(tc.cursor)
		if ts != "" || id != "" {
			t.Fatalf("%s: expected zero values, got ts=%q id=%q", tc.name, ts, id)
		}
	}
}

func TestDecodeCompositeCursorKeepsSeparatorInId(t *testing.T) {
	// Ids never contain "|" today; the split still has to be a SplitN so a
	// future id format cannot silently truncate.
	cursor := EncodeCursor("2026-01-02|abc|def")
	ts, id := DecodeCompositeCursor(&cursor)
	if ts != "2026-01-02" || id != "abc|def" {
		t.Fatalf("expected split on first separator only, got ts=%q id=%q", ts, id)
	}
}

func ptr(s string) *string {
	return &s
}
