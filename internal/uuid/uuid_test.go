package uuid

import "testing"

// TestNew verifies generated identifiers are valid and unique.
func TestNew(t *testing.T) {
	a := New()
	b := New()

	if a == "" || b == "" {
		t.Fatal("expected non-empty identifiers")
	}
	if a == b {
		t.Error("expected unique identifiers")
	}
	if !IsValid(a) {
		t.Errorf("generated identifier %q is not valid", a)
	}
}

// TestValidate verifies rejection of malformed identifiers.
func TestValidate(t *testing.T) {
	if err := Validate("not-a-uuid"); err == nil {
		t.Error("expected error for malformed identifier")
	}
	if err := Validate(New()); err != nil {
		t.Errorf("unexpected error for generated identifier: %v", err)
	}
}
