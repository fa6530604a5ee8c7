// Package storage keeps a local history of finished transcriptions.
package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dgraph-io/badger/v3"
	"github.com/harunnryd/bodhi/pkg/errorsx"
)

var ErrNotFound = errors.New("transcript not found")

const (
	recordPrefix = "rec/"
	indexPrefix  = "tx/"
)

// Record is one stored transcription.
type Record struct {
	TransactionID string    `json:"transaction_id"`
	CallID        string    `json:"call_id,omitempty"`
	Provider      string    `json:"provider"`
	Mode          string    `json:"mode"`
	Model         string    `json:"model,omitempty"`
	Source        string    `json:"source,omitempty"`
	Segments      []string  `json:"segments,omitempty"`
	Text          string    `json:"text"`
	EOS           bool      `json:"eos"`
	CreatedAt     time.Time `json:"created_at"`
}

type TranscriptStore struct {
	db *badger.DB
}

// Open opens the store under path. An empty path keeps everything in memory.
func Open(path string) (*TranscriptStore, error) {
	var opts badger.Options
	if strings.TrimSpace(path) == "" {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(path, 0o755); err != nil {
			return nil, errorsx.Wrap(fmt.Errorf("failed to create storage directory: %w", err), errorsx.ReasonStorage)
		}
		opts = badger.DefaultOptions(filepath.Join(path, "badger"))
	}
	opts = opts.WithLogger(nil)

	db, err := badger.Open(opts)
	if err != nil {
		return nil, errorsx.Wrap(fmt.Errorf("failed to open badger database: %w", err), errorsx.ReasonStorage)
	}
	return &TranscriptStore{db: db}, nil
}

// recordKey sorts records by creation time.
func recordKey(r Record) []byte {
	return []byte(fmt.Sprintf("%s%020d/%s", recordPrefix, r.CreatedAt.UnixNano(), r.TransactionID))
}

func (s *TranscriptStore) Save(r Record) error {
	if strings.TrimSpace(r.TransactionID) == "" {
		return errorsx.Errorf(errorsx.ReasonStorage, "transaction id is required")
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now()
	}
	r.CreatedAt = r.CreatedAt.UTC()
	data, err := json.Marshal(r)
	if err != nil {
		return errorsx.Wrap(fmt.Errorf("failed to marshal record: %w", err), errorsx.ReasonStorage)
	}
	key := recordKey(r)
	err = s.db.Update(func(txn *badger.Txn) error {
		idx := []byte(indexPrefix + r.TransactionID)
		if item, err := txn.Get(idx); err == nil {
			old, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}
			if err := txn.Delete(old); err != nil {
				return err
			}
		} else if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}
		if err := txn.Set(key, data); err != nil {
			return err
		}
		return txn.Set(idx, key)
	})
	if err != nil {
		return errorsx.Wrap(fmt.Errorf("failed to save record: %w", err), errorsx.ReasonStorage)
	}
	return nil
}

func (s *TranscriptStore) Get(transactionID string) (Record, error) {
	var r Record
	err := s.db.View(func(txn *badger.Txn) error {
		idx, err := txn.Get([]byte(indexPrefix + transactionID))
		if err != nil {
			return err
		}
		key, err := idx.ValueCopy(nil)
		if err != nil {
			return err
		}
		item, err := txn.Get(key)
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &r)
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return Record{}, ErrNotFound
	}
	if err != nil {
		return Record{}, errorsx.Wrap(fmt.Errorf("failed to get record: %w", err), errorsx.ReasonStorage)
	}
	return r, nil
}

// List returns up to limit records, newest first. A limit <= 0 returns all.
func (s *TranscriptStore) List(limit int) ([]Record, error) {
	var out []Record
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Reverse = true
		opts.Prefix = []byte(recordPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()

		// Reverse iteration starts from the largest key under the prefix.
		seek := append([]byte(recordPrefix), 0xFF)
		for it.Seek(seek); it.ValidForPrefix([]byte(recordPrefix)); it.Next() {
			var r Record
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &r)
			}); err != nil {
				return err
			}
			out = append(out, r)
			if limit > 0 && len(out) >= limit {
				break
			}
		}
		return nil
	})
	if err != nil {
		return nil, errorsx.Wrap(fmt.Errorf("failed to list records: %w", err), errorsx.ReasonStorage)
	}
	return out, nil
}

func (s *TranscriptStore) Close() error {
	return s.db.Close()
}
