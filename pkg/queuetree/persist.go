package queuetree

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// ErrNoLastKnownGood means no usable snapshot exists on disk.
var ErrNoLastKnownGood = errors.New("no last-known-good tree")

// Save writes the tree as indented JSON, replacing any previous snapshot
// atomically.
func (t *QueueTree) Save(path string) error {
	b, err := json.MarshalIndent(t, "", "  ")
	if err != nil {
		return fmt.Errorf("encode tree: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create state dir: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".lkg-*")
	if err != nil {
		return fmt.Errorf("create temp snapshot: %w", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(b); err != nil {
		tmp.Close()
		return fmt.Errorf("write snapshot: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync snapshot: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close snapshot: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("replace snapshot: %w", err)
	}
	return nil
}

// Load reads a snapshot written by Save. Missing, unreadable or invalid
// snapshots wrap ErrNoLastKnownGood.
func Load(path string) (*QueueTree, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNoLastKnownGood, err)
	}
	var t QueueTree
	if err := json.Unmarshal(b, &t); err != nil {
		return nil, fmt.Errorf("%w: decode %s: %v", ErrNoLastKnownGood, path, err)
	}
	if err := t.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrNoLastKnownGood, path, err)
	}
	if t.IPToSite == nil {
		t.IPToSite = map[string]string{}
	}
	return &t, nil
}
