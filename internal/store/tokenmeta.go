package store

import (
	"encoding/json"

	"github.com/dgraph-io/badger/v3"
	"github.com/pkg/errors"
)

// GetTokenMeta loads cached metadata for a token contract. The bool is false
// on a cache miss.
func (s *Store) GetTokenMeta(tokenAddress string) (TokenMeta, bool, error) {
	var meta TokenMeta
	found := false

	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(tokenMetaKey(tokenAddress))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return errors.Wrap(err, "failed to read token metadata")
		}
		found = true
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &meta)
		})
	})
	if err != nil {
		return TokenMeta{}, false, err
	}

	return meta, found, nil
}

// GetOrPutTokenMeta returns cached metadata for a token contract, calling
// fetch and persisting its result on a miss. The monitor's per-block
// metadata map is filled through this call; the sweeper reads the table
// directly and keeps no cache of its own.
func (s *Store) GetOrPutTokenMeta(tokenAddress string, fetch func() (TokenMeta, error)) (TokenMeta, error) {
	meta, found, err := s.GetTokenMeta(tokenAddress)
	if err != nil {
		return TokenMeta{}, err
	}
	if found {
		return meta, nil
	}

	meta, err = fetch()
	if err != nil {
		return TokenMeta{}, errors.Wrap(err, "token metadata fetch failed")
	}

	err = s.db.Update(func(txn *badger.Txn) error {
		// Another writer may have raced us; last write wins, the values are
		// identical for a well-behaved contract.
		return setJSON(txn, tokenMetaKey(tokenAddress), meta)
	})
	if err != nil {
		return TokenMeta{}, errors.Wrap(err, "failed to cache token metadata")
	}

	return meta, nil
}
