package ledger

import (
	"context"
	"errors"
)

var (
	// ErrNotFound is returned by Tx.Get when no record exists for the name.
	ErrNotFound = errors.New("ledger: record not found")
	// ErrExists is returned by Tx.Insert when a record for the name already exists.
	ErrExists = errors.New("ledger: record already exists")
)

// Record is one row of the server table.
// PID and Port are zero while unset. Up is a hint written by the server
// process itself and must never be trusted as proof of liveness.
type Record struct {
	Name string `json:"name"`
	PID  int    `json:"pid,omitempty"`
	Port int    `json:"port,omitempty"`
	Up   bool   `json:"up"`
}

func (r Record) HasPID() bool  { return r.PID > 0 }
func (r Record) HasPort() bool { return r.Port > 0 }

// Tx is the set of operations available inside one exclusive transaction.
type Tx interface {
	Get(ctx context.Context, name string) (Record, error)
	// Insert creates a name-only record.
	Insert(ctx context.Context, name string) error
	Delete(ctx context.Context, name string) error
	// DeleteIfPID deletes the record only while it still belongs to pid.
	DeleteIfPID(ctx context.Context, name string, pid int) error
	// Claim records pid as the owner of name, clearing port and the up hint.
	// The record is created when missing.
	Claim(ctx context.Context, name string, pid int) error
	// SetPort publishes the listening port and marks the record up.
	SetPort(ctx context.Context, name string, port int) error
	Names(ctx context.Context) ([]string, error)
}

// Ledger is the durable name -> process table shared by every supervisor
// and server process. All access goes through Tx, which behaves like a
// system-wide mutex scoped to one read-modify-write unit.
type Ledger interface {
	EnsureSchema(ctx context.Context) error
	// Tx runs fn inside one exclusive transaction. An error returned by fn
	// rolls the transaction back; nil commits it.
	Tx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
	Close() error
}
