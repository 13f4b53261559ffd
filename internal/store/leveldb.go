package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/opt"
)

// LevelDBStore keeps each collection under the key "collection/<name>".
type LevelDBStore struct {
	db *leveldb.DB
}

func OpenLevelDB(dir string) (*LevelDBStore, error) {
	db, err := leveldb.OpenFile(dir, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open leveldb store: %w", err)
	}
	return &LevelDBStore{db: db}, nil
}

func (s *LevelDBStore) Write(ctx context.Context, collection string, data []byte) error {
	if err := checkCollection(collection); err != nil {
		return err
	}
	if s.db == nil {
		return ErrClosed
	}
	if err := s.db.Put([]byte(collectionPrefix+collection), data, &opt.WriteOptions{Sync: true}); err != nil {
		return fmt.Errorf("failed to store collection %s: %w", collection, err)
	}
	return nil
}

func (s *LevelDBStore) Read(ctx context.Context, collection string) ([]byte, error) {
	if err := checkCollection(collection); err != nil {
		return nil, err
	}
	if s.db == nil {
		return nil, ErrClosed
	}
	data, err := s.db.Get([]byte(collectionPrefix+collection), nil)
	if errors.Is(err, leveldb.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to fetch collection %s: %w", collection, err)
	}
	return data, nil
}

func (s *LevelDBStore) Close() error {
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}
