package status

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/facilityops/accesscontrol-sync/database"
)

func TestFilePolicyPersistence_SaveAndLoad(t *testing.T) {
	t.Parallel()

	tmpDir := filepath.Join(t.TempDir(), "state")
	persistence := NewFilePolicyPersistence(tmpDir)
	ctx := context.Background()

	last := time.Date(2025, 4, 2, 3, 0, 0, 0, time.UTC)
	policy := &AutoSyncPolicy{Enabled: true, IntervalHours: 6, LastSyncTime: &last, TotalSyncsPerformed: 17}
	require.NoError(t, persistence.SavePolicy(ctx, policy))

	_, err := os.Stat(filepath.Join(tmpDir, PolicyFileName))
	require.NoError(t, err)
	_, err = os.Stat(filepath.Join(tmpDir, PolicyFileName+".tmp"))
	require.True(t, os.IsNotExist(err))

	loaded, err := persistence.LoadPolicy(ctx)
	require.NoError(t, err)
	require.NotNil(t, loaded)
	assert.Equal(t, policy.Enabled, loaded.Enabled)
	assert.Equal(t, policy.IntervalHours, loaded.IntervalHours)
	assert.True(t, last.Equal(*loaded.LastSyncTime))
	assert.Equal(t, int64(17), loaded.TotalSyncsPerformed)
}

func TestFilePolicyPersistence_LoadNonExistent(t *testing.T) {
	t.Parallel()

	loaded, err := NewFilePolicyPersistence(t.TempDir()).LoadPolicy(context.Background())
	require.NoError(t, err)
	assert.Nil(t, loaded)
}

func TestFilePolicyPersistence_LoadCorrupt(t *testing.T) {
	t.Parallel()

	tmpDir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(tmpDir, PolicyFileName), []byte("{not json"), 0600))

	_, err := NewFilePolicyPersistence(tmpDir).LoadPolicy(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to unmarshal policy")
}

func TestFilePolicyPersistence_SaveNil(t *testing.T) {
	t.Parallel()
	require.Error(t, NewFilePolicyPersistence(t.TempDir()).SavePolicy(context.Background(), nil))
}

func TestDBPolicyPersistence(t *testing.T) {
	t.Parallel()

	pool, _ := database.SetupTestDB(t)
	persistence := NewDBPolicyPersistence(pool)
	ctx := context.Background()

	loaded, err := persistence.LoadPolicy(ctx)
	require.NoError(t, err)
	assert.Nil(t, loaded)

	require.NoError(t, persistence.SavePolicy(ctx, &AutoSyncPolicy{Enabled: true, IntervalHours: 12}))

	last := time.Date(2025, 4, 2, 3, 0, 0, 0, time.UTC)
	require.NoError(t, persistence.SavePolicy(ctx, &AutoSyncPolicy{
		Enabled: false, IntervalHours: 12, LastSyncTime: &last, TotalSyncsPerformed: 3,
	}))

	loaded, err = persistence.LoadPolicy(ctx)
	require.NoError(t, err)
	require.NotNil(t, loaded)
	assert.False(t, loaded.Enabled)
	assert.Equal(t, 12, loaded.IntervalHours)
	assert.True(t, last.Equal(*loaded.LastSyncTime))
	assert.Equal(t, int64(3), loaded.TotalSyncsPerformed)
}

func TestValidateInterval(t *testing.T) {
	t.Parallel()

	for _, hours := range []int{1, 12, 24} {
		assert.NoError(t, ValidateInterval(hours))
	}
	for _, hours := range []int{-1, 0, 25, 100} {
		err := ValidateInterval(hours)
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrInvalidInterval)
	}
}
