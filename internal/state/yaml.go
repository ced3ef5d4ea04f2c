package state

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

const groupTopicsKey = "group_topics"

// YAMLStore keeps watermarks in a YAML file under the group_topics key.
// Other top-level keys found in the file are written back unchanged.
type YAMLStore struct {
	path string
}

func NewYAML(path string) *YAMLStore {
	return &YAMLStore{path: path}
}

func (s *YAMLStore) Load(_ context.Context) (Watermarks, error) {
	doc, err := s.read()
	if err != nil {
		return nil, err
	}

	marks := make(Watermarks)
	raw, ok := doc[groupTopicsKey]
	if !ok || raw == nil {
		return marks, nil
	}
	entries, ok := raw.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("read state %s: %s is not a mapping", s.path, groupTopicsKey)
	}
	for k, v := range entries {
		key, err := ParseKey(k)
		if err != nil {
			return nil, fmt.Errorf("read state %s: %w", s.path, err)
		}
		id, ok := v.(int)
		if !ok {
			return nil, fmt.Errorf("read state %s: %s: message id %v is not an integer", s.path, k, v)
		}
		marks[key] = id
	}
	return marks, nil
}

func (s *YAMLStore) Save(_ context.Context, w Watermarks) error {
	doc, err := s.read()
	if err != nil {
		return &PersistError{Backend: BackendYAML, Err: err}
	}

	entries := make(map[string]int, len(w))
	for k, v := range w {
		entries[k.String()] = v
	}
	doc[groupTopicsKey] = entries

	data, err := yaml.Marshal(doc)
	if err != nil {
		return &PersistError{Backend: BackendYAML, Err: fmt.Errorf("encode state: %w", err)}
	}
	if err := writeFileAtomic(s.path, data); err != nil {
		return &PersistError{Backend: BackendYAML, Err: err}
	}
	return nil
}

func (s *YAMLStore) Close() error { return nil }

func (s *YAMLStore) read() (map[string]any, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return map[string]any{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read state: %w", err)
	}

	var doc map[string]any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse state %s: %w", s.path, err)
	}
	if doc == nil {
		doc = map[string]any{}
	}
	return doc, nil
}

// writeFileAtomic writes data to a temp file next to path and renames it
// into place, so readers see either the old or the new content.
func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create state dir: %w", err)
		}
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp state: %w", err)
	}
	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write temp state: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("sync temp state: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp state: %w", err)
	}
	if err := os.Chmod(tmpName, 0o644); err != nil {
		return fmt.Errorf("chmod temp state: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("replace state: %w", err)
	}
	return nil
}
