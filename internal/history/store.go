package history

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"time"

	"github.com/gofrs/flock"
)

//go:generate mockgen -destination=mocks/mock_store.go -package=mocks -source=store.go Store

// FileName is the name of the history file inside the data directory
const FileName = "sync_history.json"

const lockTimeout = 5 * time.Second

// Store persists run records
type Store interface {
	// Load returns up to limit records, newest first
	Load(ctx context.Context, limit int) ([]Record, error)

	// Append adds rec and drops everything beyond the newest limit records
	Append(ctx context.Context, rec Record, limit int) error
}

type historyFile struct {
	Records []Record `json:"records"`
}

// fileStore keeps the ring in a JSON file guarded by an advisory lock
type fileStore struct {
	path string
	lock *flock.Flock
}

// NewFileStore creates a file-backed store in dir
func NewFileStore(dir string) Store {
	path := filepath.Join(dir, FileName)
	return &fileStore{
		path: path,
		lock: flock.New(path + ".lock"),
	}
}

func (f *fileStore) Load(ctx context.Context, limit int) ([]Record, error) {
	if err := f.acquire(ctx); err != nil {
		return nil, err
	}
	defer func() { _ = f.lock.Unlock() }()

	records, err := f.read()
	if err != nil {
		return nil, err
	}
	return newestFirst(records, limit), nil
}

func (f *fileStore) Append(ctx context.Context, rec Record, limit int) error {
	if err := f.acquire(ctx); err != nil {
		return err
	}
	defer func() { _ = f.lock.Unlock() }()

	records, err := f.read()
	if err != nil {
		return err
	}
	records = append(records, rec)
	if limit > 0 && len(records) > limit {
		records = records[len(records)-limit:]
	}

	data, err := json.MarshalIndent(historyFile{Records: records}, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal sync history: %w", err)
	}

	// Write to temporary file first for atomic operation
	tempPath := f.path + ".tmp"
	if err := os.WriteFile(tempPath, data, 0600); err != nil {
		return fmt.Errorf("failed to write temporary history file: %w", err)
	}
	if err := os.Rename(tempPath, f.path); err != nil {
		_ = os.Remove(tempPath)
		return fmt.Errorf("failed to rename history file: %w", err)
	}
	return nil
}

func (f *fileStore) acquire(ctx context.Context) error {
	if err := os.MkdirAll(filepath.Dir(f.path), 0750); err != nil {
		return fmt.Errorf("failed to create history directory: %w", err)
	}
	lockCtx, cancel := context.WithTimeout(ctx, lockTimeout)
	defer cancel()

	locked, err := f.lock.TryLockContext(lockCtx, 50*time.Millisecond)
	if err != nil {
		return fmt.Errorf("failed to lock history file: %w", err)
	}
	if !locked {
		return errors.New("failed to lock history file: lock is held elsewhere")
	}
	return nil
}

// read returns the stored records in append order, oldest first
func (f *fileStore) read() ([]Record, error) {
	// #nosec G304 -- path is built from the configured data directory
	data, err := os.ReadFile(f.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read history file: %w", err)
	}
	var parsed historyFile
	if err := json.Unmarshal(data, &parsed); err != nil {
		return nil, fmt.Errorf("failed to unmarshal history file: %w", err)
	}
	return parsed.Records, nil
}

func newestFirst(records []Record, limit int) []Record {
	out := slices.Clone(records)
	slices.Reverse(out)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}
