package sqlite

import (
	"database/sql"
	"errors"
	"net/url"
	"strconv"
	"strings"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/loykin/hexanator/internal/ledger"
)

// BusyTimeoutMillis bounds how long a transaction waits for the write lock
// held by another process before failing with SQLITE_BUSY.
const BusyTimeoutMillis = 5000

// New opens the SQLite ledger at path (modernc.org/sqlite, CGO-free).
// Every transaction starts with BEGIN IMMEDIATE so the write lock is taken
// up front and concurrent supervisors serialise on it.
func New(path string) (*ledger.SQL, error) {
	p := strings.TrimSpace(path)
	if p == "" {
		return nil, errors.New("empty sqlite path")
	}
	d, err := sql.Open("sqlite", dsn(p))
	if err != nil {
		return nil, err
	}
	if p == ":memory:" {
		// each connection would otherwise see its own empty database
		d.SetMaxOpenConns(1)
	}
	return ledger.NewSQL(d, ledger.Dialect{
		Name:              "sqlite",
		IsUniqueViolation: IsUniqueViolation,
	}), nil
}

func dsn(path string) string {
	q := url.Values{}
	q.Set("_txlock", "immediate")
	q.Add("_pragma", "busy_timeout("+strconv.Itoa(BusyTimeoutMillis)+")")
	return path + "?" + q.Encode()
}

// IsUniqueViolation reports whether err is a primary key or unique constraint failure.
func IsUniqueViolation(err error) bool {
	var se *sqlite.Error
	if !errors.As(err, &se) {
		return false
	}
	switch se.Code() {
	case sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY, sqlite3.SQLITE_CONSTRAINT_UNIQUE:
		return true
	}
	return se.Code()&0xff == sqlite3.SQLITE_CONSTRAINT && strings.Contains(se.Error(), "UNIQUE")
}
