package ledger

import (
	"errors"
	"strings"
	"testing"
)

func TestValidateName(t *testing.T) {
	for _, ok := range []string{"aa", "bb-1", "svc.v2", "A_b"} {
		if err := ValidateName(ok); err != nil {
			t.Fatalf("%q should be valid: %v", ok, err)
		}
	}
	for _, bad := range []string{"", "..", "a/b", `a\b`, "a b", "x..y", "ü", strings.Repeat("a", MaxNameLen+1)} {
		if err := ValidateName(bad); !errors.Is(err, ErrInvalidName) {
			t.Fatalf("%q should be invalid, got %v", bad, err)
		}
	}
}
