package leveldb

import (
	"path/filepath"
	"testing"

	"github.com/cellnetio/cellchaind/store"
)

func openTestDB(t *testing.T) *LevelDB {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "db"))
	if err != nil {
		t.Fatalf("opening leveldb: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestPutGetDelete(t *testing.T) {
	db := openTestDB(t)
	if err := db.Put([]byte("k"), []byte("v")); err != nil {
		t.Fatalf("put: %v", err)
	}
	got, err := db.Get([]byte("k"))
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if string(got) != "v" {
		t.Fatalf("expected v, got %s", got)
	}
	if ok, err := db.Has([]byte("k")); err != nil || !ok {
		t.Fatalf("expected Has to report true, got %v, %v", ok, err)
	}
	if err := db.Delete([]byte("k")); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := db.Get([]byte("k")); err != store.ErrNotFound {
		t.Fatalf("expected ErrNotFound after delete, got %v", err)
	}
}

func TestCursorIteratesPrefixAndTrimsIt(t *testing.T) {
	db := openTestDB(t)
	if err := db.Put([]byte("cells/a"), []byte("1")); err != nil {
		t.Fatalf("put: %v", err)
	}
	if err := db.Put([]byte("cells/b"), []byte("2")); err != nil {
		t.Fatalf("put: %v", err)
	}
	if err := db.Put([]byte("headers/a"), []byte("3")); err != nil {
		t.Fatalf("put: %v", err)
	}

	cur, err := db.Cursor([]byte("cells/"))
	if err != nil {
		t.Fatalf("cursor: %v", err)
	}
	defer cur.Close()

	seen := map[string]string{}
	for cur.First(); ; {
		key, err := cur.Key()
		if err != nil {
			t.Fatalf("key: %v", err)
		}
		value, err := cur.Value()
		if err != nil {
			t.Fatalf("value: %v", err)
		}
		seen[string(key)] = string(value)
		if !cur.Next() {
			break
		}
	}
	if len(seen) != 2 || seen["a"] != "1" || seen["b"] != "2" {
		t.Fatalf("expected trimmed keys a/b from the cells/ prefix, got %v", seen)
	}
}

func TestTransactionCommit(t *testing.T) {
	db := openTestDB(t)
	txn, err := db.Begin()
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	if err := txn.Put([]byte("k"), []byte("v")); err != nil {
		t.Fatalf("put: %v", err)
	}
	if _, err := db.Get([]byte("k")); err != store.ErrNotFound {
		t.Fatal("expected the write to be invisible outside the transaction before commit")
	}
	if err := txn.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}
	got, err := db.Get([]byte("k"))
	if err != nil || string(got) != "v" {
		t.Fatalf("expected the committed write to be visible, got %v, %v", got, err)
	}
}

func TestTransactionRollback(t *testing.T) {
	db := openTestDB(t)
	txn, err := db.Begin()
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	if err := txn.Put([]byte("k"), []byte("v")); err != nil {
		t.Fatalf("put: %v", err)
	}
	if err := txn.Rollback(); err != nil {
		t.Fatalf("rollback: %v", err)
	}
	if _, err := db.Get([]byte("k")); err != store.ErrNotFound {
		t.Fatal("expected a rolled-back write to never become visible")
	}
}

func TestRollbackUnlessClosedIsSafeAfterCommit(t *testing.T) {
	db := openTestDB(t)
	txn, err := db.Begin()
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	if err := txn.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}
	if err := txn.RollbackUnlessClosed(); err != nil {
		t.Fatalf("expected a no-op rollback after commit, got %v", err)
	}
}

func TestCommitTwiceErrors(t *testing.T) {
	db := openTestDB(t)
	txn, err := db.Begin()
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	if err := txn.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}
	if err := txn.Commit(); err == nil {
		t.Fatal("expected committing an already-closed transaction to error")
	}
}
