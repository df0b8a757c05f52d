package serper

import "testing"

func TestStrTolerantOfMissingFields(t *testing.T) {
	m := map[string]any{"title": "A", "num": 3}
	if got := str(m["title"]); got != "A" {
		t.Fatalf("unexpected title: %q", got)
	}
	if got := str(m["num"]); got != "3" {
		t.Fatalf("unexpected number rendering: %q", got)
	}
	if got := str(m["missing"]); got != "" {
		t.Fatalf("missing key must render empty, got %q", got)
	}
}
