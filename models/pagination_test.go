package models

import "testing"

func TestCursorRoundTrip(t *testing.T) {
	raw := "2026-08-01 10:30:00 +0000 UTC"
	encoded := EncodeCursor(raw)

	decoded, err := DecodeCursor(&encoded)
	if err != nil {
		t.Fatalf("DecodeCursor: %v", err)
	}
	if decoded != raw {
		t.Fatalf("got %q, want %q", decoded, raw)
	}
}

func TestDecodeCursorNil(t *testing.T) {
	decoded, err := DecodeCursor(nil)
	if err != nil {
		t.Fatalf("DecodeCursor(nil): %v", err)
	}
	if decoded != "" {
		t.Fatalf("got %q, want empty", decoded)
	}
}

func TestDecodeCursorInvalidBase64(t *testing.T) {
	bad := "not-base64!!"
	if _, err := DecodeCursor(&bad); err == nil {
		t.Fatal("expected error for invalid base64")
	}
}

func TestCompositeCursorRoundTrip(t *testing.T) {
	encoded := EncodeCompositeCursor("2026-08-01 10:30:00", 42)

	value, id := DecodeCompositeCursor(&encoded)
	if value != "2026-08-01 10:30:00" || id != 42 {
		t.Fatalf("got (%q, %d), want (%q, 42)", value, id, "2026-08-01 10:30:00")
	}
}

func TestDecodeCompositeCursorMalformed(t *testing.T) {
	// Not base64, wrong part count, and non-numeric id all decode to zero values.
	for _, bad := range []string{"%%%", EncodeCursor("no-separator"), EncodeCursor("a|b|c"), EncodeCursor("x|notanint")} {
		bad := bad
		value, id := DecodeCompositeCursor(&bad)
		if value != "" || id != 0 {
			t.Errorf("cursor %q: got (%q, %d), want zero values", bad, value, id)
		}
	}
}
