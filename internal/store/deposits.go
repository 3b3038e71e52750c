package store

import (
	"encoding/json"
	"strconv"

	"github.com/dgraph-io/badger/v3"
	"github.com/pkg/errors"
)

// CommitBlock atomically inserts the deposits extracted from one scanned
// block and advances the scan cursor to that block. Deposits whose key
// already exists are skipped, so replaying a block is a no-op. Returns the
// deposits that were actually inserted, in input order.
func (s *Store) CommitBlock(blockNumber uint64, deposits []Deposit) ([]Deposit, error) {
	var inserted []Deposit

	err := s.db.Update(func(txn *badger.Txn) error {
		inserted = inserted[:0]

		for _, deposit := range deposits {
			key := depositKey(deposit.Key)
			_, err := txn.Get(key)
			if err == nil {
				continue // duplicate observation
			}
			if !errors.Is(err, badger.ErrKeyNotFound) {
				return errors.Wrap(err, "failed to read deposit")
			}

			if err := setJSON(txn, key, deposit); err != nil {
				return errors.Wrap(err, "failed to write deposit")
			}
			inserted = append(inserted, deposit)
		}

		return setCursor(txn, blockNumber)
	})
	if err != nil {
		return nil, errors.Wrapf(err, "failed to commit block %d", blockNumber)
	}

	return inserted, nil
}

// RecordDeposit inserts a single deposit, idempotent on its key. The bool
// reports whether a row was inserted (false means duplicate).
func (s *Store) RecordDeposit(deposit Deposit) (bool, error) {
	insertedRows, err := s.CommitBlockless([]Deposit{deposit})
	if err != nil {
		return false, err
	}
	return len(insertedRows) == 1, nil
}

// CommitBlockless inserts deposits without touching the cursor. Used by
// RecordDeposit and tests; the monitor always goes through CommitBlock.
func (s *Store) CommitBlockless(deposits []Deposit) ([]Deposit, error) {
	var inserted []Deposit

	err := s.db.Update(func(txn *badger.Txn) error {
		inserted = inserted[:0]

		for _, deposit := range deposits {
			key := depositKey(deposit.Key)
			_, err := txn.Get(key)
			if err == nil {
				continue
			}
			if !errors.Is(err, badger.ErrKeyNotFound) {
				return errors.Wrap(err, "failed to read deposit")
			}
			if err := setJSON(txn, key, deposit); err != nil {
				return errors.Wrap(err, "failed to write deposit")
			}
			inserted = append(inserted, deposit)
		}
		return nil
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to record deposits")
	}

	return inserted, nil
}

// PendingDeposits returns all deposits still in the detected state. Order is
// unspecified.
func (s *Store) PendingDeposits() ([]Deposit, error) {
	var pending []Deposit

	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		prefix := []byte(depositPrefix)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			var deposit Deposit
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &deposit)
			}); err != nil {
				return errors.Wrap(err, "failed to decode deposit")
			}
			if deposit.State == StateDetected {
				pending = append(pending, deposit)
			}
		}
		return nil
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to list pending deposits")
	}

	return pending, nil
}

// GetDeposit loads one deposit by key. Returns ErrNotFound if absent.
func (s *Store) GetDeposit(key DepositKey) (Deposit, error) {
	var deposit Deposit

	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(depositKey(key))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return ErrNotFound
		}
		if err != nil {
			return errors.Wrap(err, "failed to read deposit")
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &deposit)
		})
	})

	return deposit, err
}

// MarkSwept transitions a deposit from detected to swept. Returns
// ErrNotFound for an unknown key and ErrNotPending when the deposit is
// already terminal; the row is immutable once swept.
func (s *Store) MarkSwept(key DepositKey) error {
	return s.db.Update(func(txn *badger.Txn) error {
		item, err := txn.Get(depositKey(key))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return ErrNotFound
		}
		if err != nil {
			return errors.Wrap(err, "failed to read deposit")
		}

		var deposit Deposit
		if err := item.Value(func(val []byte) error {
			return json.Unmarshal(val, &deposit)
		}); err != nil {
			return errors.Wrap(err, "failed to decode deposit")
		}

		if deposit.State != StateDetected {
			return ErrNotPending
		}

		deposit.State = StateSwept
		return setJSON(txn, depositKey(key), deposit)
	})
}

// ScanCursor returns the last fully processed block. The bool is false on a
// fresh store that has never committed a block.
func (s *Store) ScanCursor() (uint64, bool, error) {
	var cursor uint64
	found := false

	err := s.db.View(func(txn *badger.Txn) error {
		raw, err := getString(txn, []byte(cursorKey))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return errors.Wrap(err, "failed to read scan cursor")
		}

		parsed, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			return errors.Wrapf(err, "corrupt scan cursor %q", raw)
		}
		cursor = parsed
		found = true
		return nil
	})
	if err != nil {
		return 0, false, err
	}

	return cursor, found, nil
}

// SetScanCursor moves the cursor forward without inserting deposits. Used to
// initialize a fresh store at the safe head.
func (s *Store) SetScanCursor(blockNumber uint64) error {
	err := s.db.Update(func(txn *badger.Txn) error {
		return setCursor(txn, blockNumber)
	})
	return errors.Wrap(err, "failed to set scan cursor")
}

// setCursor enforces monotonicity: the cursor never regresses.
func setCursor(txn *badger.Txn, blockNumber uint64) error {
	raw, err := getString(txn, []byte(cursorKey))
	if err != nil && !errors.Is(err, badger.ErrKeyNotFound) {
		return errors.Wrap(err, "failed to read scan cursor")
	}
	if err == nil {
		current, parseErr := strconv.ParseUint(raw, 10, 64)
		if parseErr != nil {
			return errors.Wrapf(parseErr, "corrupt scan cursor %q", raw)
		}
		if blockNumber < current {
			return errors.Errorf("scan cursor regression: %d < %d", blockNumber, current)
		}
	}

	return txn.Set([]byte(cursorKey), []byte(strconv.FormatUint(blockNumber, 10)))
}
