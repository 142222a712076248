// Package store defines the columnar key/value interface the chain
// core persists its state through: cells, headers, block bodies, and
// chain metadata all live behind the same Database/Cursor/Transaction
// contract, grounded on the database2 package.
package store

import "github.com/pkg/errors"

// ErrNotFound is returned by Get when the requested key is absent, and
// by Cursor.Key and Cursor.Value when the cursor has no current pair.
var ErrNotFound = errors.New("key not found")

// DataAccessor is the read/write surface shared by a Database and a
// Transaction.
type DataAccessor interface {
	// Put sets the value for key, overwriting any previous value.
	Put(key []byte, value []byte) error

	// Get returns the value for key, or ErrNotFound if it is absent.
	Get(key []byte) ([]byte, error)

	// Has reports whether key is present.
	Has(key []byte) (bool, error)

	// Delete removes key. It is not an error for key to be absent.
	Delete(key []byte) error

	// Cursor begins a new cursor over every key sharing the given
	// prefix.
	Cursor(prefix []byte) (Cursor, error)
}

// Cursor iterates over the key/value pairs sharing a bucket prefix, in
// key order.
type Cursor interface {
	// Next advances the cursor. It returns false once exhausted or
	// after the cursor is closed.
	Next() bool

	// First moves the cursor to the first pair in the bucket. It
	// returns whether such a pair exists.
	First() bool

	// Seek moves the cursor to the first pair whose key is greater
	// than or equal to key. It returns whether such a pair exists.
	Seek(key []byte) bool

	// Key returns the current key with the bucket prefix trimmed off.
	Key() ([]byte, error)

	// Value returns the current value.
	Value() ([]byte, error)

	// Close releases the cursor's resources.
	Close() error
}

// Transaction is a Database snapshot that batches writes atomically on
// Commit.
type Transaction interface {
	DataAccessor

	// Commit applies every Put/Delete made through this transaction
	// atomically.
	Commit() error

	// Rollback discards the transaction's writes.
	Rollback() error

	// RollbackUnlessClosed rolls back unless Commit or Rollback has
	// already run; safe to defer unconditionally.
	RollbackUnlessClosed() error
}

// Database is a DataAccessor that can also begin transactions and
// close itself.
type Database interface {
	DataAccessor

	// Begin starts a new transaction.
	Begin() (Transaction, error)

	// Close closes the database.
	Close() error
}
