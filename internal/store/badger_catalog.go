package store

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"

	"github.com/dgraph-io/badger/v4"
	"github.com/dgraph-io/badger/v4/options"

	woerrors "github.com/Aman-CERP/woochi/internal/errors"
)

// Key layout. Collection names never contain NUL, so "<name>\x00" is an
// unambiguous prefix.
//
//	c/<name>                 -> collectionMeta
//	k/<name>\x00<seq:%020d>  -> badgerRecord
//	i/<name>\x00<chunk id>   -> empty (uniqueness guard)
const (
	collectionPrefix = "c/"
	recordPrefix     = "k/"
	idPrefix         = "i/"
)

type collectionMeta struct {
	Count int64 `json:"count"`
}

type badgerRecord struct {
	ID        string            `json:"id"`
	Text      string            `json:"text"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	Embedding []byte            `json:"embedding"`
}

// BadgerCatalog stores collections in a badger key-value store.
type BadgerCatalog struct {
	db *badger.DB
}

// badgerLoggerAdapter adapts slog to badger.Logger.
type badgerLoggerAdapter struct {
	logger *slog.Logger
}

var _ badger.Logger = (*badgerLoggerAdapter)(nil)

func (bl *badgerLoggerAdapter) Errorf(msg string, items ...any) {
	bl.logger.Error(fmt.Sprintf(msg, items...))
}

func (bl *badgerLoggerAdapter) Warningf(msg string, items ...any) {
	bl.logger.Warn(fmt.Sprintf(msg, items...))
}

func (bl *badgerLoggerAdapter) Infof(msg string, items ...any) {
	bl.logger.Debug(fmt.Sprintf(msg, items...))
}

func (bl *badgerLoggerAdapter) Debugf(msg string, items ...any) {
	bl.logger.Debug(fmt.Sprintf(msg, items...))
}

// NewBadgerCatalog opens or creates a catalog in dir.
// If dir is empty, the store is in-memory.
func NewBadgerCatalog(dir string) (*BadgerCatalog, error) {
	var opts badger.Options
	if dir == "" {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		opts = badger.DefaultOptions(dir)
	}
	opts.Logger = &badgerLoggerAdapter{logger: slog.Default().With("component", "badger")}
	opts.Compression = options.None

	db, err := badger.Open(opts)
	if err != nil {
		return nil, woerrors.New(woerrors.ErrCodeStorageOpen, "failed to open badger catalog", err)
	}
	return &BadgerCatalog{db: db}, nil
}

func collectionKey(name string) []byte {
	return []byte(collectionPrefix + name)
}

func recordKeyPrefix(name string) []byte {
	return []byte(recordPrefix + name + "\x00")
}

func recordKey(name string, seq int64) []byte {
	return fmt.Appendf(recordKeyPrefix(name), "%020d", seq)
}

func idKey(name, id string) []byte {
	return []byte(idPrefix + name + "\x00" + id)
}

// Append writes the batch in one transaction.
func (c *BadgerCatalog) Append(ctx context.Context, collection string, chunks []*Chunk, vectors [][]float32) error {
	if err := checkBatch(chunks, vectors); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	err := c.db.Update(func(txn *badger.Txn) error {
		var meta collectionMeta
		item, err := txn.Get(collectionKey(collection))
		switch {
		case errors.Is(err, badger.ErrKeyNotFound):
		case err != nil:
			return err
		default:
			if err := item.Value(func(val []byte) error {
				return json.Unmarshal(val, &meta)
			}); err != nil {
				return err
			}
		}

		for i, ch := range chunks {
			key := idKey(collection, ch.ID)
			if _, err := txn.Get(key); err == nil {
				return woerrors.DuplicateID(collection, ch.ID)
			} else if !errors.Is(err, badger.ErrKeyNotFound) {
				return err
			}
			if err := txn.Set(key, nil); err != nil {
				return err
			}

			val, err := json.Marshal(badgerRecord{
				ID:        ch.ID,
				Text:      ch.Text,
				Metadata:  ch.Metadata,
				Embedding: encodeVector(vectors[i]),
			})
			if err != nil {
				return err
			}
			if err := txn.Set(recordKey(collection, meta.Count), val); err != nil {
				return err
			}
			meta.Count++
		}

		val, err := json.Marshal(meta)
		if err != nil {
			return err
		}
		return txn.Set(collectionKey(collection), val)
	})
	if err != nil {
		if errors.Is(err, woerrors.ErrDuplicateID) {
			return err
		}
		return woerrors.StorageError("failed to append batch", err)
	}
	return nil
}

// Load returns a collection's records in insertion order.
func (c *BadgerCatalog) Load(ctx context.Context, collection string) ([]*Chunk, [][]float32, error) {
	var (
		chunks  []*Chunk
		vectors [][]float32
	)

	err := c.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = recordKeyPrefix(collection)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			var rec badgerRecord
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &rec)
			}); err != nil {
				return woerrors.New(woerrors.ErrCodeStorageCorrupt, "corrupt record", err)
			}
			vec, err := decodeVector(rec.Embedding)
			if err != nil {
				return woerrors.New(woerrors.ErrCodeStorageCorrupt, "corrupt embedding for "+rec.ID, err)
			}
			chunks = append(chunks, &Chunk{
				ID:         rec.ID,
				Text:       rec.Text,
				Metadata:   rec.Metadata,
				Collection: collection,
			})
			vectors = append(vectors, vec)
		}
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	return chunks, vectors, nil
}

// Collections returns all registered collection names, sorted.
func (c *BadgerCatalog) Collections(_ context.Context) ([]string, error) {
	var names []string
	err := c.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(collectionPrefix)
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			key := it.Item().Key()
			names = append(names, string(bytes.TrimPrefix(key, []byte(collectionPrefix))))
		}
		return nil
	})
	if err != nil {
		return nil, woerrors.New(woerrors.ErrCodeStorageRead, "failed to list collections", err)
	}
	sort.Strings(names)
	return names, nil
}

// Drop deletes every key belonging to the collection in one transaction.
func (c *BadgerCatalog) Drop(_ context.Context, collection string) error {
	err := c.db.Update(func(txn *badger.Txn) error {
		var keys [][]byte
		for _, prefix := range [][]byte{recordKeyPrefix(collection), []byte(idPrefix + collection + "\x00")} {
			opts := badger.DefaultIteratorOptions
			opts.Prefix = prefix
			opts.PrefetchValues = false
			it := txn.NewIterator(opts)
			for it.Rewind(); it.Valid(); it.Next() {
				keys = append(keys, it.Item().KeyCopy(nil))
			}
			it.Close()
		}
		keys = append(keys, collectionKey(collection))

		for _, k := range keys {
			if err := txn.Delete(k); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return woerrors.StorageError("failed to drop collection", err)
	}
	return nil
}

// Close closes the database.
func (c *BadgerCatalog) Close() error {
	if c.db.IsClosed() {
		return nil
	}
	return c.db.Close()
}

var _ Catalog = (*BadgerCatalog)(nil)
