// internal/store/store.go
package store

import (
	"context"
	"errors"
	"fmt"
	"regexp"
)

// Backend is the persistence contract: durably write a named collection, and
// read it back or report ErrNotFound. Each instance is the only writer of its
// backend.
type Backend interface {
	Write(ctx context.Context, collection string, data []byte) error
	Read(ctx context.Context, collection string) ([]byte, error)
	Close() error
}

var (
	ErrNotFound          = errors.New("collection not found")
	ErrClosed            = errors.New("store is closed")
	ErrUnknownBackend    = errors.New("unknown storage backend")
	ErrInvalidCollection = errors.New("invalid collection name")
)

const (
	KindFile    = "file"
	KindPebble  = "pebble"
	KindLevelDB = "leveldb"
	KindSQLite  = "sqlite"
	KindMemory  = "memory"
)

// ValidKind reports whether Open understands kind. Empty selects file.
func ValidKind(kind string) bool {
	switch kind {
	case "", KindFile, KindPebble, KindLevelDB, KindSQLite, KindMemory:
		return true
	}
	return false
}

var collectionRe = regexp.MustCompile(`^[a-z0-9_]{1,64}$`)

func checkCollection(name string) error {
	if !collectionRe.MatchString(name) {
		return fmt.Errorf("%w: %q", ErrInvalidCollection, name)
	}
	return nil
}

// Open returns the backend of the given kind rooted at path. path is a
// directory for file, pebble and leveldb, and a database file for sqlite.
func Open(kind, path string) (Backend, error) {
	switch kind {
	case KindFile, "":
		return NewFileStore(path)
	case KindPebble:
		return OpenPebble(path)
	case KindLevelDB:
		return OpenLevelDB(path)
	case KindSQLite:
		return OpenSQLite(path)
	case KindMemory:
		return NewMemory(), nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownBackend, kind)
	}
}

func copyBytes(b []byte) []byte {
	out := make([]byte, len(b))
	copy(out, b)
	return out
}
