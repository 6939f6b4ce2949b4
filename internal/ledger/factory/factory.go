package factory

import (
	"errors"
	"strings"

	"github.com/loykin/hexanator/internal/ledger"
	pg "github.com/loykin/hexanator/internal/ledger/postgres"
	sq "github.com/loykin/hexanator/internal/ledger/sqlite"
)

// NewFromDSN selects a ledger implementation based on DSN.
// Supported:
//   - sqlite:  "sqlite:///<path>" or bare filepath (treated as sqlite)
//   - postgres: DSN starting with "postgres://" or "postgresql://"
func NewFromDSN(dsn string) (ledger.Ledger, error) {
	d := strings.TrimSpace(dsn)
	ld := strings.ToLower(d)
	if ld == "" {
		return nil, errors.New("empty DSN")
	}
	if strings.HasPrefix(ld, "postgres://") || strings.HasPrefix(ld, "postgresql://") {
		return pg.New(d)
	}
	if strings.HasPrefix(ld, "sqlite://") {
		return sq.New(d[len("sqlite://"):])
	}
	if strings.Contains(ld, "://") {
		return nil, errors.New("unsupported ledger DSN: " + d)
	}
	return sq.New(d)
}
