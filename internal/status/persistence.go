// Package status tracks the auto-sync policy and persists it across restarts.
package status

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

//go:generate mockgen -destination=mocks/mock_policy_persistence.go -package=mocks -source=persistence.go PolicyPersistence

const (
	// PolicyFileName is the name of the policy file
	PolicyFileName = "auto_sync_policy.json"
)

// PolicyPersistence stores the auto-sync policy
type PolicyPersistence interface {
	// SavePolicy writes the policy, replacing any previous one
	SavePolicy(ctx context.Context, policy *AutoSyncPolicy) error

	// LoadPolicy returns the stored policy, or nil when nothing was saved yet (first run)
	LoadPolicy(ctx context.Context) (*AutoSyncPolicy, error)
}

// filePolicyPersistence implements PolicyPersistence using the local filesystem
type filePolicyPersistence struct {
	basePath string
}

// NewFilePolicyPersistence creates a file-based policy persistence rooted at basePath
func NewFilePolicyPersistence(basePath string) PolicyPersistence {
	return &filePolicyPersistence{
		basePath: basePath,
	}
}

// SavePolicy saves the policy to a JSON file
func (f *filePolicyPersistence) SavePolicy(_ context.Context, policy *AutoSyncPolicy) error {
	if policy == nil {
		return errors.New("policy cannot be nil")
	}
	if err := os.MkdirAll(f.basePath, 0750); err != nil {
		return fmt.Errorf("failed to create policy directory: %w", err)
	}

	filePath := filepath.Join(f.basePath, PolicyFileName)

	data, err := json.MarshalIndent(policy, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal policy: %w", err)
	}

	// Write to temporary file first for atomic operation
	tempPath := filePath + ".tmp"
	if err := os.WriteFile(tempPath, data, 0600); err != nil {
		return fmt.Errorf("failed to write temporary policy file: %w", err)
	}

	if err := os.Rename(tempPath, filePath); err != nil {
		_ = os.Remove(tempPath)
		return fmt.Errorf("failed to rename policy file: %w", err)
	}

	return nil
}

// LoadPolicy loads the policy from the JSON file
func (f *filePolicyPersistence) LoadPolicy(_ context.Context) (*AutoSyncPolicy, error) {
	filePath := filepath.Join(f.basePath, PolicyFileName)

	// #nosec G304 -- filePath is built from the configured data directory
	data, err := os.ReadFile(filePath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read policy file: %w", err)
	}

	var policy AutoSyncPolicy
	if err := json.Unmarshal(data, &policy); err != nil {
		return nil, fmt.Errorf("failed to unmarshal policy: %w", err)
	}

	return &policy, nil
}
