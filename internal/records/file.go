package records

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"slices"
)

type usersFile struct {
	Users []User `json:"users"`
}

// FileStore reads the central user set from a JSON export on every call
type FileStore struct {
	path string
}

// NewFileStore creates a store backed by the JSON file at path
func NewFileStore(path string) *FileStore {
	return &FileStore{path: filepath.Clean(path)}
}

// ListUsers parses the export and returns users ordered by uid
func (f *FileStore) ListUsers(_ context.Context) ([]User, error) {
	data, err := os.ReadFile(f.path)
	if err != nil {
		return nil, fmt.Errorf("failed to read user file %s: %w", f.path, err)
	}

	var parsed usersFile
	if err := json.Unmarshal(data, &parsed); err != nil {
		return nil, fmt.Errorf("failed to decode user file %s: %w", f.path, err)
	}

	seen := make(map[int]bool, len(parsed.Users))
	users := make([]User, 0, len(parsed.Users))
	for _, u := range parsed.Users {
		if u.UID <= 0 {
			return nil, fmt.Errorf("user file %s: uid must be positive, got %d", f.path, u.UID)
		}
		if seen[u.UID] {
			return nil, fmt.Errorf("user file %s: duplicate uid %d", f.path, u.UID)
		}
		seen[u.UID] = true
		users = append(users, u.Normalize())
	}
	slices.SortFunc(users, func(a, b User) int { return a.UID - b.UID })
	return users, nil
}
