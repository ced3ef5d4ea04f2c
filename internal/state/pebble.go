package state

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"strconv"

	"github.com/cockroachdb/pebble"
)

var (
	pebblePrefix = []byte("wm/")
	pebbleUpper  = []byte("wm/\xff")
)

// PebbleStore keeps watermarks in a Pebble directory.
// key:   wm/{group}\x00{topic_id}
// value: message id, 8 bytes big-endian
type PebbleStore struct {
	db *pebble.DB
}

func OpenPebble(dir string) (*PebbleStore, error) {
	db, err := pebble.Open(dir, &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("open pebble: %w", err)
	}
	return &PebbleStore{db: db}, nil
}

func (s *PebbleStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *PebbleStore) Load(_ context.Context) (Watermarks, error) {
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: pebblePrefix,
		UpperBound: pebbleUpper,
	})
	if err != nil {
		return nil, fmt.Errorf("open iterator: %w", err)
	}
	defer func() { _ = iter.Close() }()

	marks := make(Watermarks)
	for iter.First(); iter.Valid(); iter.Next() {
		k, err := decodePebbleKey(iter.Key())
		if err != nil {
			return nil, err
		}
		val := iter.Value()
		if len(val) != 8 {
			return nil, fmt.Errorf("watermark %s: invalid value length %d", k, len(val))
		}
		marks[k] = int(binary.BigEndian.Uint64(val))
	}
	if err := iter.Error(); err != nil {
		return nil, fmt.Errorf("iterate watermarks: %w", err)
	}
	return marks, nil
}

// Save replaces all watermarks in a single synced batch.
func (s *PebbleStore) Save(_ context.Context, w Watermarks) error {
	b := s.db.NewBatch()
	defer func() { _ = b.Close() }()

	if err := b.DeleteRange(pebblePrefix, pebbleUpper, nil); err != nil {
		return &PersistError{Backend: BackendPebble, Err: fmt.Errorf("clear watermarks: %w", err)}
	}
	for _, k := range w.Keys() {
		val := make([]byte, 8)
		binary.BigEndian.PutUint64(val, uint64(w[k]))
		if err := b.Set(encodePebbleKey(k), val, nil); err != nil {
			return &PersistError{Backend: BackendPebble, Err: fmt.Errorf("set watermark %s: %w", k, err)}
		}
	}
	if err := b.Commit(pebble.Sync); err != nil {
		return &PersistError{Backend: BackendPebble, Err: fmt.Errorf("commit watermarks: %w", err)}
	}
	return nil
}

func encodePebbleKey(k Key) []byte {
	buf := make([]byte, 0, len(pebblePrefix)+len(k.Group)+12)
	buf = append(buf, pebblePrefix...)
	buf = append(buf, k.Group...)
	buf = append(buf, 0)
	return strconv.AppendInt(buf, int64(k.TopicID), 10)
}

func decodePebbleKey(raw []byte) (Key, error) {
	rest := bytes.TrimPrefix(raw, pebblePrefix)
	i := bytes.LastIndexByte(rest, 0)
	if i < 0 {
		return Key{}, errors.New("invalid watermark key: missing separator")
	}
	topic, err := strconv.Atoi(string(rest[i+1:]))
	if err != nil {
		return Key{}, fmt.Errorf("invalid watermark key %q: %w", raw, err)
	}
	return Key{Group: string(rest[:i]), TopicID: topic}, nil
}
