package store

import (
	"fmt"
	"strings"

	"github.com/dgraph-io/badger/v3"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// Key layout. One badger database holds every table; prefixes keep them
// apart and let iteration stay within one table.
const (
	accountPrefix   = "acc:"
	addressPrefix   = "addr:"
	depositPrefix   = "dep:"
	tokenMetaPrefix = "tok:"
	cursorKey       = "scan:last"
)

// Store is the embedded persistent store shared by the registry, monitor and
// sweeper. Badger gives serializable single-writer transactions, so every
// multi-table update below is atomic and crash-safe, and the database
// directory can be copied while the process is stopped.
type Store struct {
	db *badger.DB
}

// Open opens (or creates) the badger database at dir.
func Open(dir string) (*Store, error) {
	opts := badger.DefaultOptions(dir)
	opts.Logger = badgerLogger{}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open store at %s", dir)
	}

	return &Store{db: db}, nil
}

// Close releases the database.
func (s *Store) Close() error {
	return errors.Wrap(s.db.Close(), "failed to close store")
}

func accountKey(id string) []byte {
	return []byte(accountPrefix + id)
}

func addressKey(address string) []byte {
	return []byte(addressPrefix + strings.ToLower(address))
}

func depositKey(key DepositKey) []byte {
	return []byte(fmt.Sprintf("%s%s:%d:%s", depositPrefix, strings.ToLower(key.TxHash), key.LogIndex, key.Kind))
}

func tokenMetaKey(tokenAddress string) []byte {
	return []byte(tokenMetaPrefix + strings.ToLower(tokenAddress))
}

// badgerLogger forwards badger's internal logging to zerolog.
type badgerLogger struct{}

func (badgerLogger) Errorf(format string, args ...interface{}) {
	log.Error().Str("component", "badger").Msgf(format, args...)
}

func (badgerLogger) Warningf(format string, args ...interface{}) {
	log.Warn().Str("component", "badger").Msgf(format, args...)
}

func (badgerLogger) Infof(format string, args ...interface{}) {
	log.Debug().Str("component", "badger").Msgf(format, args...)
}

func (badgerLogger) Debugf(format string, args ...interface{}) {
	log.Debug().Str("component", "badger").Msgf(format, args...)
}
