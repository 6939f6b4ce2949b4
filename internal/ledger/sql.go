package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// Dialect carries the backend specific parts of a SQL ledger.
type Dialect struct {
	// Name is used in error messages only.
	Name string
	// Numbered rewrites "?" placeholders into "$1", "$2", ...
	Numbered bool
	// Lock, when set, is executed first in every transaction.
	Lock string
	// IsUniqueViolation classifies driver errors raised by Insert.
	IsUniqueViolation func(error) bool
}

const schema = `CREATE TABLE IF NOT EXISTS server (
	name TEXT PRIMARY KEY,
	pid INTEGER,
	port INTEGER,
	up BOOLEAN NOT NULL DEFAULT TRUE
)`

// SQL implements Ledger on top of database/sql.
type SQL struct {
	db      *sql.DB
	dialect Dialect
}

// NewSQL wraps an opened database handle. The caller hands over ownership;
// Close closes db.
func NewSQL(db *sql.DB, d Dialect) *SQL {
	if d.IsUniqueViolation == nil {
		d.IsUniqueViolation = func(error) bool { return false }
	}
	return &SQL{db: db, dialect: d}
}

func (s *SQL) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("%s ledger: create schema: %w", s.dialect.Name, err)
	}
	return nil
}

func (s *SQL) Close() error { return s.db.Close() }

// DB exposes the underlying handle for tests and diagnostics.
func (s *SQL) DB() *sql.DB { return s.db }

func (s *SQL) Tx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) (err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%s ledger: begin: %w", s.dialect.Name, err)
	}
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
		if err != nil {
			_ = tx.Rollback()
			return
		}
		if cerr := tx.Commit(); cerr != nil {
			err = fmt.Errorf("%s ledger: commit: %w", s.dialect.Name, cerr)
		}
	}()
	if s.dialect.Lock != "" {
		if _, err = tx.ExecContext(ctx, s.dialect.Lock); err != nil {
			return fmt.Errorf("%s ledger: lock: %w", s.dialect.Name, err)
		}
	}
	return fn(ctx, &sqlTx{tx: tx, d: s.dialect})
}

type sqlTx struct {
	tx *sql.Tx
	d  Dialect
}

func (t *sqlTx) q(query string) string {
	if !t.d.Numbered {
		return query
	}
	return rebind(query)
}

func (t *sqlTx) Get(ctx context.Context, name string) (Record, error) {
	var (
		pid, port sql.NullInt64
		up        bool
	)
	row := t.tx.QueryRowContext(ctx, t.q(`SELECT pid, port, up FROM server WHERE name = ?`), name)
	if err := row.Scan(&pid, &port, &up); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Record{}, ErrNotFound
		}
		return Record{}, err
	}
	return Record{Name: name, PID: int(pid.Int64), Port: int(port.Int64), Up: up}, nil
}

func (t *sqlTx) Insert(ctx context.Context, name string) error {
	_, err := t.tx.ExecContext(ctx, t.q(`INSERT INTO server (name) VALUES (?)`), name)
	if err != nil && t.d.IsUniqueViolation(err) {
		return fmt.Errorf("%w: %s", ErrExists, name)
	}
	return err
}

func (t *sqlTx) Delete(ctx context.Context, name string) error {
	_, err := t.tx.ExecContext(ctx, t.q(`DELETE FROM server WHERE name = ?`), name)
	return err
}

func (t *sqlTx) DeleteIfPID(ctx context.Context, name string, pid int) error {
	_, err := t.tx.ExecContext(ctx, t.q(`DELETE FROM server WHERE name = ? AND pid = ?`), name, pid)
	return err
}

func (t *sqlTx) Claim(ctx context.Context, name string, pid int) error {
	_, err := t.tx.ExecContext(ctx, t.q(`
		INSERT INTO server (name, pid, port, up) VALUES (?, ?, NULL, FALSE)
		ON CONFLICT (name) DO UPDATE SET pid = excluded.pid, port = NULL, up = FALSE`), name, pid)
	return err
}

func (t *sqlTx) SetPort(ctx context.Context, name string, port int) error {
	res, err := t.tx.ExecContext(ctx, t.q(`UPDATE server SET port = ?, up = TRUE WHERE name = ?`), port, name)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	return nil
}

func (t *sqlTx) Names(ctx context.Context) ([]string, error) {
	rows, err := t.tx.QueryContext(ctx, `SELECT name FROM server`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	names := make([]string, 0)
	for rows.Next() {
		var n string
		if err := rows.Scan(&n); err != nil {
			return nil, err
		}
		names = append(names, n)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	sort.Strings(names)
	return names, nil
}

// rebind turns "?" placeholders into numbered ones. Queries in this package
// never contain a literal question mark.
func rebind(query string) string {
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}
