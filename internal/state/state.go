// Package state persists per-source watermarks: the id of the last message
// relayed for each group topic.
package state

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"slices"
	"strconv"
	"strings"
)

const (
	BackendYAML   = "yaml"
	BackendSQLite = "sqlite"
	BackendPebble = "pebble"
)

// Key identifies one polled group topic.
type Key struct {
	Group   string
	TopicID int
}

// String returns the serialized form "{group}:{topic_id}".
func (k Key) String() string {
	return k.Group + ":" + strconv.Itoa(k.TopicID)
}

// Compare orders keys by group, then topic id.
func (k Key) Compare(o Key) int {
	if c := strings.Compare(k.Group, o.Group); c != 0 {
		return c
	}
	return cmp.Compare(k.TopicID, o.TopicID)
}

// ParseKey parses "{group}:{topic_id}". The topic id follows the last colon,
// so groups that contain a colon still parse.
func ParseKey(s string) (Key, error) {
	i := strings.LastIndex(s, ":")
	if i <= 0 || i == len(s)-1 {
		return Key{}, fmt.Errorf("invalid source key %q: want group:topic_id", s)
	}
	topic, err := strconv.Atoi(s[i+1:])
	if err != nil {
		return Key{}, fmt.Errorf("invalid source key %q: topic id: %w", s, err)
	}
	return Key{Group: s[:i], TopicID: topic}, nil
}

// Watermarks maps each source to its last relayed message id.
type Watermarks map[Key]int

// Get returns the watermark for k and whether one is recorded.
func (w Watermarks) Get(k Key) (int, bool) {
	v, ok := w[k]
	return v, ok
}

// Keys returns the recorded keys in order.
func (w Watermarks) Keys() []Key {
	keys := make([]Key, 0, len(w))
	for k := range w {
		keys = append(keys, k)
	}
	slices.SortFunc(keys, Key.Compare)
	return keys
}

// Store loads and saves the full watermark mapping.
type Store interface {
	// Load returns the persisted mapping, or an empty one when nothing was
	// saved yet.
	Load(ctx context.Context) (Watermarks, error)

	// Save replaces the persisted mapping with w. A failed Save leaves the
	// previously saved mapping intact.
	Save(ctx context.Context, w Watermarks) error

	Close() error
}

// PersistError reports a failed Save.
type PersistError struct {
	Backend string
	Err     error
}

func (e *PersistError) Error() string {
	return fmt.Sprintf("persist state (%s): %v", e.Backend, e.Err)
}

func (e *PersistError) Unwrap() error { return e.Err }

// Open opens the store for backend at path.
func Open(backend, path string) (Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("state path is required")
	}
	switch backend {
	case BackendYAML, "":
		return NewYAML(path), nil
	case BackendSQLite:
		st, err := OpenSQLite(path)
		if err != nil {
			return nil, err
		}
		return st, nil
	case BackendPebble:
		st, err := OpenPebble(path)
		if err != nil {
			return nil, err
		}
		return st, nil
	default:
		return nil, fmt.Errorf("unknown state backend %q (want yaml, sqlite, or pebble)", backend)
	}
}
