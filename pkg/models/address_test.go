package models

import "testing"

func TestNormalizeAddress(t *testing.T) {
	cases := map[string]string{
		"+1 (555) 010-0100": "+15550100100",
		" 555.010.0100 ":    "5550100100",
		"ACME-Bank":         "ACMEBank",
		"":                  "",
		"   ":               "",
	}
	for in, want := range cases {
		if got := NormalizeAddress(in); got != want {
			t.Fatalf("NormalizeAddress(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestMessageFilterMatchesNormalizedAddress(t *testing.T) {
	rec := NormalizeRecord(SMSRecord{ID: " m1 ", Address: "+1 555 010 0100"})
	if rec.ID != "m1" {
		t.Fatalf("expected trimmed id, got %q", rec.ID)
	}
	if !(MessageFilter{Address: "+1-555-010-0100"}).Matches(rec) {
		t.Fatal("expected formatted filter to match normalized record")
	}
	if !(MessageFilter{Address: "acmebank"}).Matches(SMSRecord{Address: "ACME-Bank"}) {
		t.Fatal("sender ids must match case-insensitively")
	}
	if (MessageFilter{Address: "+15550100101"}).Matches(rec) {
		t.Fatal("different number must not match")
	}
	if !(MessageFilter{}).Matches(rec) {
		t.Fatal("empty filter must match every record")
	}
}
