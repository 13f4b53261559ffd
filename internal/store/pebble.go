package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/cockroachdb/pebble"
)

const collectionPrefix = "collection/"

// PebbleStore keeps each collection under the key "collection/<name>".
type PebbleStore struct {
	db *pebble.DB
}

func OpenPebble(dir string) (*PebbleStore, error) {
	db, err := pebble.Open(dir, &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("failed to open pebble store: %w", err)
	}
	return &PebbleStore{db: db}, nil
}

func (p *PebbleStore) Write(ctx context.Context, collection string, data []byte) error {
	if err := checkCollection(collection); err != nil {
		return err
	}
	if p.db == nil {
		return ErrClosed
	}
	return p.db.Set([]byte(collectionPrefix+collection), data, pebble.Sync)
}

func (p *PebbleStore) Read(ctx context.Context, collection string) ([]byte, error) {
	if err := checkCollection(collection); err != nil {
		return nil, err
	}
	if p.db == nil {
		return nil, ErrClosed
	}
	val, closer, err := p.db.Get([]byte(collectionPrefix + collection))
	if err != nil {
		if errors.Is(err, pebble.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	defer closer.Close()
	// pebble owns val until closer.Close
	return copyBytes(val), nil
}

func (p *PebbleStore) Close() error {
	if p.db == nil {
		return nil
	}
	err := p.db.Close()
	p.db = nil
	return err
}
