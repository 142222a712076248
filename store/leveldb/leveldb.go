// Package leveldb implements store.Database on top of goleveldb, the
// way the ffldb/ldb driver wraps the same library.
package leveldb

import (
	"bytes"

	"github.com/pkg/errors"
	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/iterator"
	"github.com/syndtr/goleveldb/leveldb/opt"
	"github.com/syndtr/goleveldb/leveldb/util"

	"github.com/cellnetio/cellchaind/store"
)

// LevelDB is a store.Database backed by a goleveldb instance on disk.
type LevelDB struct {
	ldb *leveldb.DB
}

// Open opens (creating if absent) a LevelDB at path.
func Open(path string) (*LevelDB, error) {
	db, err := leveldb.OpenFile(path, &opt.Options{})
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open leveldb at %s", path)
	}
	return &LevelDB{ldb: db}, nil
}

// Put implements store.DataAccessor.
func (db *LevelDB) Put(key, value []byte) error {
	return db.ldb.Put(key, value, nil)
}

// Get implements store.DataAccessor.
func (db *LevelDB) Get(key []byte) ([]byte, error) {
	value, err := db.ldb.Get(key, nil)
	if err != nil {
		if errors.Is(err, leveldb.ErrNotFound) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return value, nil
}

// Has implements store.DataAccessor.
func (db *LevelDB) Has(key []byte) (bool, error) {
	return db.ldb.Has(key, nil)
}

// Delete implements store.DataAccessor.
func (db *LevelDB) Delete(key []byte) error {
	return db.ldb.Delete(key, nil)
}

// Cursor implements store.DataAccessor.
func (db *LevelDB) Cursor(prefix []byte) (store.Cursor, error) {
	it := db.ldb.NewIterator(util.BytesPrefix(prefix), nil)
	return &cursor{it: it, prefix: prefix}, nil
}

// Begin implements store.Database.
func (db *LevelDB) Begin() (store.Transaction, error) {
	ldbTx, err := db.ldb.OpenTransaction()
	if err != nil {
		return nil, errors.Wrap(err, "failed to begin leveldb transaction")
	}
	return &transaction{ldbTx: ldbTx}, nil
}

// Close implements store.Database.
func (db *LevelDB) Close() error {
	return db.ldb.Close()
}

type cursor struct {
	it       iterator.Iterator
	prefix   []byte
	isClosed bool
}

func (c *cursor) Next() bool {
	if c.isClosed {
		return false
	}
	return c.it.Next()
}

func (c *cursor) First() bool {
	if c.isClosed {
		return false
	}
	return c.it.First()
}

func (c *cursor) Seek(key []byte) bool {
	if c.isClosed {
		return false
	}
	return c.it.Seek(key)
}

func (c *cursor) Key() ([]byte, error) {
	if c.isClosed {
		return nil, errors.New("cannot get the key of a closed cursor")
	}
	full := c.it.Key()
	if full == nil {
		return nil, store.ErrNotFound
	}
	key := make([]byte, len(full)-len(c.prefix))
	copy(key, bytes.TrimPrefix(full, c.prefix))
	return key, nil
}

func (c *cursor) Value() ([]byte, error) {
	if c.isClosed {
		return nil, errors.New("cannot get the value of a closed cursor")
	}
	value := c.it.Value()
	if value == nil {
		return nil, store.ErrNotFound
	}
	out := make([]byte, len(value))
	copy(out, value)
	return out, nil
}

func (c *cursor) Close() error {
	if c.isClosed {
		return errors.New("cannot close an already closed cursor")
	}
	c.isClosed = true
	c.it.Release()
	return nil
}

// transaction is a goleveldb-backed store.Transaction.
type transaction struct {
	ldbTx  *leveldb.Transaction
	closed bool
}

func (tx *transaction) Put(key, value []byte) error {
	return tx.ldbTx.Put(key, value, nil)
}

func (tx *transaction) Get(key []byte) ([]byte, error) {
	value, err := tx.ldbTx.Get(key, nil)
	if err != nil {
		if errors.Is(err, leveldb.ErrNotFound) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return value, nil
}

func (tx *transaction) Has(key []byte) (bool, error) {
	return tx.ldbTx.Has(key, nil)
}

func (tx *transaction) Delete(key []byte) error {
	return tx.ldbTx.Delete(key, nil)
}

func (tx *transaction) Cursor(prefix []byte) (store.Cursor, error) {
	it := tx.ldbTx.NewIterator(util.BytesPrefix(prefix), nil)
	return &cursor{it: it, prefix: prefix}, nil
}

func (tx *transaction) Commit() error {
	if tx.closed {
		return errors.New("cannot commit an already closed transaction")
	}
	tx.closed = true
	return tx.ldbTx.Commit()
}

func (tx *transaction) Rollback() error {
	if tx.closed {
		return errors.New("cannot rollback an already closed transaction")
	}
	tx.closed = true
	tx.ldbTx.Discard()
	return nil
}

func (tx *transaction) RollbackUnlessClosed() error {
	if tx.closed {
		return nil
	}
	return tx.Rollback()
}
