package canonicalize

import (
	"testing"
	"time"
)

func TestJCS_Sorting(t *testing.T) {
	input := map[string]interface{}{
		"c": 3,
		"a": 1,
		"b": 2,
	}
	expected := `{"a":1,"b":2,"c":3}`

	b, err := JCS(input)
	if err != nil {
		t.Fatalf("JCS failed: %v", err)
	}
	if string(b) != expected {
		t.Errorf("Expected %s, got %s", expected, string(b))
	}
}

func TestJCS_NoHTMLEscaping(t *testing.T) {
	input := map[string]string{
		"notes": "<reviewed> & approved",
	}
	expected := `{"notes":"<reviewed> & approved"}`

	b, err := JCS(input)
	if err != nil {
		t.Fatalf("JCS failed: %v", err)
	}
	if string(b) != expected {
		t.Errorf("Expected %s, got %s", expected, string(b))
	}
}

func TestJCS_StructTagsApply(t *testing.T) {
	type rec struct {
		AgentID string  `json:"agent_id"`
		Alpha   float64 `json:"alpha"`
	}
	b, err := JCS(rec{AgentID: "agent-1", Alpha: 2})
	if err != nil {
		t.Fatalf("JCS failed: %v", err)
	}
	expected := `{"agent_id":"agent-1","alpha":2}`
	if string(b) != expected {
		t.Errorf("Expected %s, got %s", expected, string(b))
	}
}

func TestJCS_DeterministicAcrossRuns(t *testing.T) {
	input := map[string]interface{}{
		"outcome":   0.85,
		"weight":    1.0,
		"timestamp": time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
	first, err := JCS(input)
	if err != nil {
		t.Fatalf("JCS failed: %v", err)
	}
	for i := 0; i < 50; i++ {
		again, err := JCS(input)
		if err != nil {
			t.Fatalf("JCS failed on run %d: %v", i, err)
		}
		if string(again) != string(first) {
			t.Fatalf("canonical form unstable: %s vs %s", first, again)
		}
	}
}

func TestCanonicalHash_IgnoresKeyOrder(t *testing.T) {
	a := map[string]interface{}{"x": 1, "y": "z"}
	b := map[string]interface{}{"y": "z", "x": 1}

	ha, err := CanonicalHash(a)
	if err != nil {
		t.Fatal(err)
	}
	hb, err := CanonicalHash(b)
	if err != nil {
		t.Fatal(err)
	}
	if ha != hb {
		t.Fatalf("hash depends on key order: %s vs %s", ha, hb)
	}
	if len(ha) != 64 {
		t.Fatalf("expected sha256 hex digest, got %q", ha)
	}
}

func TestTransform_RawDocument(t *testing.T) {
	raw := []byte(`{"b": 2, "a": 1}`)
	out, err := Transform(raw)
	if err != nil {
		t.Fatal(err)
	}
	if string(out) != `{"a":1,"b":2}` {
		t.Errorf("unexpected canonical form %s", out)
	}
}
