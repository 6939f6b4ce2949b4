package ledger

import (
	"errors"
	"fmt"
	"strings"
)

// MaxNameLen bounds server names; they end up in filenames.
const MaxNameLen = 128

var ErrInvalidName = errors.New("invalid server name")

// ValidateName accepts A-Z a-z 0-9 . _ - and rejects "..", so a name is
// always safe to embed in a filename.
func ValidateName(name string) error {
	if name == "" || len(name) > MaxNameLen || strings.Contains(name, "..") {
		return fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	for _, r := range name {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') || r == '.' || r == '_' || r == '-' {
			continue
		}
		return fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	return nil
}
