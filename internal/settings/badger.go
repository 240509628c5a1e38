package settings

import (
	"context"
	"log"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/pkg/errors"
)

// Badger is a Store backed by an embedded BadgerDB.
type Badger struct {
	db *badger.DB
}

type BadgerOptions struct {
	Dir      string
	InMemory bool
}

func OpenBadger(opts BadgerOptions) (*Badger, error) {
	if !opts.InMemory && opts.Dir == "" {
		return nil, errors.New("settings: badger dir is required")
	}
	dbOpts := badger.DefaultOptions(opts.Dir).WithLogger(badgerLogger{})
	if opts.InMemory {
		dbOpts = dbOpts.WithInMemory(true)
	}
	db, err := badger.Open(dbOpts)
	if err != nil {
		return nil, errors.Wrap(err, "open badger")
	}
	return &Badger{db: db}, nil
}

func badgerKey(collection, matchKey, matchValue string) []byte {
	return []byte(collection + "/" + matchKey + "/" + matchValue)
}

func (b *Badger) Pull(_ context.Context, collection, matchKey, matchValue string, out any) (bool, error) {
	var raw []byte
	err := b.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(badgerKey(collection, matchKey, matchValue))
		if err != nil {
			return err
		}
		raw, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return false, nil
	}
	if err != nil {
		return false, errors.Wrap(err, "get setting")
	}
	if err := decodeRecord(raw, out); err != nil {
		return false, err
	}
	return true, nil
}

func (b *Badger) Push(_ context.Context, collection, matchKey string, record any) error {
	value, raw, err := encodeRecord(matchKey, record)
	if err != nil {
		return err
	}
	err = b.db.Update(func(txn *badger.Txn) error {
		return txn.Set(badgerKey(collection, matchKey, value), raw)
	})
	return errors.Wrap(err, "set setting")
}

func (b *Badger) Close() error { return b.db.Close() }

type badgerLogger struct{}

func (badgerLogger) Errorf(f string, v ...interface{})   { log.Printf("settings: badger: "+f, v...) }
func (badgerLogger) Warningf(f string, v ...interface{}) { log.Printf("settings: badger: "+f, v...) }
func (badgerLogger) Infof(string, ...interface{})        {}
func (badgerLogger) Debugf(string, ...interface{})       {}
