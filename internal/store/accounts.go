package store

import (
	"encoding/json"
	"strings"

	"github.com/dgraph-io/badger/v3"
	"github.com/pkg/errors"
)

// RegisterAccount atomically writes the account row and the address->id
// binding. Re-registering the same id against its own address reports
// RegisterExists; an address already bound to a different id, or an id
// already bound to a different address, reports RegisterConflict and writes
// nothing.
func (s *Store) RegisterAccount(account Account) (RegisterResult, error) {
	result := RegisterCreated

	err := s.db.Update(func(txn *badger.Txn) error {
		existingOwner, err := getString(txn, addressKey(account.Address))
		if err != nil && !errors.Is(err, badger.ErrKeyNotFound) {
			return errors.Wrap(err, "failed to read address binding")
		}
		if err == nil && existingOwner != account.ID {
			result = RegisterConflict
			return nil
		}

		if existing, err := getAccount(txn, account.ID); err == nil {
			result = RegisterExists
			if !strings.EqualFold(existing.Address, account.Address) {
				result = RegisterConflict
			}
			return nil
		} else if !errors.Is(err, ErrNotFound) {
			return err
		}

		if err := setJSON(txn, accountKey(account.ID), account); err != nil {
			return errors.Wrap(err, "failed to write account")
		}
		if err := txn.Set(addressKey(account.Address), []byte(account.ID)); err != nil {
			return errors.Wrap(err, "failed to write address binding")
		}
		return nil
	})
	if err != nil {
		return RegisterCreated, errors.Wrap(err, "register transaction failed")
	}

	return result, nil
}

// UpdateWebhookURL overwrites the webhook URL of an existing account. The
// address and derivation index never change.
func (s *Store) UpdateWebhookURL(accountID, webhookURL string) error {
	err := s.db.Update(func(txn *badger.Txn) error {
		account, err := getAccount(txn, accountID)
		if err != nil {
			return err
		}
		account.WebhookURL = webhookURL
		return setJSON(txn, accountKey(accountID), account)
	})
	return errors.Wrap(err, "failed to update webhook url")
}

// GetAccount loads an account by id. Returns ErrNotFound if absent.
func (s *Store) GetAccount(accountID string) (Account, error) {
	var account Account
	err := s.db.View(func(txn *badger.Txn) error {
		loaded, err := getAccount(txn, accountID)
		if err != nil {
			return err
		}
		account = loaded
		return nil
	})
	return account, err
}

// ResolveAddress maps a managed address back to its account id. The bool is
// false when the address is not managed.
func (s *Store) ResolveAddress(address string) (string, bool, error) {
	var accountID string
	found := false

	err := s.db.View(func(txn *badger.Txn) error {
		owner, err := getString(txn, addressKey(address))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return errors.Wrap(err, "failed to read address binding")
		}
		accountID = owner
		found = true
		return nil
	})
	if err != nil {
		return "", false, err
	}

	return accountID, found, nil
}

// ListAccounts iterates all registered accounts. Used on startup and by
// maintenance tooling only; the monitor hot path goes through ResolveAddress.
func (s *Store) ListAccounts() ([]Account, error) {
	var accounts []Account

	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		prefix := []byte(accountPrefix)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			var account Account
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &account)
			}); err != nil {
				return errors.Wrap(err, "failed to decode account")
			}
			accounts = append(accounts, account)
		}
		return nil
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to list accounts")
	}

	return accounts, nil
}

func getAccount(txn *badger.Txn, accountID string) (Account, error) {
	var account Account

	item, err := txn.Get(accountKey(accountID))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return account, ErrNotFound
	}
	if err != nil {
		return account, errors.Wrap(err, "failed to read account")
	}

	if err := item.Value(func(val []byte) error {
		return json.Unmarshal(val, &account)
	}); err != nil {
		return account, errors.Wrap(err, "failed to decode account")
	}

	return account, nil
}

func getString(txn *badger.Txn, key []byte) (string, error) {
	item, err := txn.Get(key)
	if err != nil {
		return "", err
	}

	var value string
	err = item.Value(func(val []byte) error {
		value = string(val)
		return nil
	})
	return value, err
}

func setJSON(txn *badger.Txn, key []byte, value interface{}) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return errors.Wrap(err, "failed to encode value")
	}
	return txn.Set(key, raw)
}
