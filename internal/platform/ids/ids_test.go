package ids

import (
	"strings"
	"testing"
)

func TestGeneratePrefixedIDRoundTrip(t *testing.T) {
	id, err := GeneratePrefixedID("watch")
	if err != nil {
		t.Fatalf("generate id: %v", err)
	}
	if !strings.HasPrefix(id, "watch_") {
		t.Fatalf("unexpected prefix: %q", id)
	}
	raw, ok := DecodeSuffix(id, "watch")
	if !ok || len(raw) != 12 {
		t.Fatalf("expected decodable suffix, got ok=%v len=%d", ok, len(raw))
	}
	if _, ok := DecodeSuffix(id, "sub"); ok {
		t.Fatal("prefix mismatch must not decode")
	}
}

func TestGeneratePrefixedIDIsUnique(t *testing.T) {
	seen := make(map[string]struct{}, 256)
	for i := 0; i < 256; i++ {
		id, err := GeneratePrefixedID("sub")
		if err != nil {
			t.Fatalf("generate id: %v", err)
		}
		if _, dup := seen[id]; dup {
			t.Fatalf("duplicate id %q", id)
		}
		seen[id] = struct{}{}
	}
}
