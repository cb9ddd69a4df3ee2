// Package snapshot dumps and loads the full tally store.
package snapshot

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"rpn/internal/state"
)

const fileName = "state.json"

var ErrNotFound = errors.New("snapshot: not found")

type Snapshotter interface {
	WriteSnapshot(snapshotID string, st state.Store) error
}

type Loader interface {
	LoadSnapshot(snapshotID string) (map[string]state.Tally, error)
}

// NewID returns a sortable snapshot id: UTC timestamp plus a random suffix.
func NewID(now time.Time) string {
	return now.UTC().Format("20060102T150405Z") + "-" + uuid.NewString()[:8]
}

type FilesystemSnapshotter struct {
	baseDir string
}

func NewFilesystemSnapshotter(baseDir string) *FilesystemSnapshotter {
	return &FilesystemSnapshotter{baseDir: baseDir}
}

func (f *FilesystemSnapshotter) path(snapshotID string) string {
	return filepath.Join(f.baseDir, snapshotID, fileName)
}

// WriteSnapshot writes <base>/<id>/state.json. The file is written to a
// temporary name and renamed, so a crash never leaves a torn snapshot.
func (f *FilesystemSnapshotter) WriteSnapshot(snapshotID string, st state.Store) error {
	dir := filepath.Join(f.baseDir, snapshotID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("mkdir: %w", err)
	}

	dump := make(map[string]state.Tally)
	if err := st.Range(func(key string, t state.Tally) error {
		dump[key] = t
		return nil
	}); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, fileName+".*")
	if err != nil {
		return fmt.Errorf("create: %w", err)
	}
	defer os.Remove(tmp.Name())

	enc := json.NewEncoder(tmp)
	enc.SetIndent("", "  ")
	if err := enc.Encode(dump); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("encode: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("sync: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), f.path(snapshotID))
}

func (f *FilesystemSnapshotter) LoadSnapshot(snapshotID string) (map[string]state.Tally, error) {
	data, err := os.ReadFile(f.path(snapshotID))
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, snapshotID)
	}
	if err != nil {
		return nil, fmt.Errorf("read snapshot: %w", err)
	}
	var dump map[string]state.Tally
	if err := json.Unmarshal(data, &dump); err != nil {
		return nil, fmt.Errorf("unmarshal snapshot: %w", err)
	}
	return dump, nil
}
