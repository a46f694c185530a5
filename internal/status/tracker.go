package status

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// PolicyTracker owns the live auto-sync policy and writes every change through to persistence
type PolicyTracker struct {
	mu          sync.Mutex
	policy      AutoSyncPolicy
	persistence PolicyPersistence
}

// NewPolicyTracker restores the persisted policy, falling back to initial when none was saved.
// A nil persistence keeps the policy in memory only.
func NewPolicyTracker(ctx context.Context, persistence PolicyPersistence, initial AutoSyncPolicy) (*PolicyTracker, error) {
	if initial.IntervalHours == 0 {
		initial.IntervalHours = DefaultIntervalHours
	}
	t := &PolicyTracker{policy: initial, persistence: persistence}
	if persistence == nil {
		return t, nil
	}

	stored, err := persistence.LoadPolicy(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to restore auto-sync policy: %w", err)
	}
	if stored != nil {
		if ValidateInterval(stored.IntervalHours) != nil {
			slog.Warn("Persisted auto-sync interval out of range, using default",
				"interval_hours", stored.IntervalHours)
			stored.IntervalHours = DefaultIntervalHours
		}
		t.policy = *stored
		slog.Info("Restored auto-sync policy",
			"enabled", stored.Enabled,
			"interval_hours", stored.IntervalHours,
			"total_syncs", stored.TotalSyncsPerformed)
	}
	return t, nil
}

// Snapshot returns a copy of the current policy
func (t *PolicyTracker) Snapshot() AutoSyncPolicy {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.policy.clone()
}

// Enable turns auto-sync on with the given interval. The policy is unchanged on validation failure.
func (t *PolicyTracker) Enable(ctx context.Context, hours int) (AutoSyncPolicy, error) {
	if err := ValidateInterval(hours); err != nil {
		return t.Snapshot(), err
	}
	return t.update(ctx, func(p *AutoSyncPolicy) {
		p.Enabled = true
		p.IntervalHours = hours
	}), nil
}

// Disable turns auto-sync off; the interval is kept for the next Enable
func (t *PolicyTracker) Disable(ctx context.Context) AutoSyncPolicy {
	return t.update(ctx, func(p *AutoSyncPolicy) {
		p.Enabled = false
	})
}

// RecordRun notes a completed run of any type
func (t *PolicyTracker) RecordRun(ctx context.Context, endTime time.Time) AutoSyncPolicy {
	return t.update(ctx, func(p *AutoSyncPolicy) {
		if p.LastSyncTime == nil || endTime.After(*p.LastSyncTime) {
			end := endTime
			p.LastSyncTime = &end
		}
		p.TotalSyncsPerformed++
	})
}

// update applies fn and persists the result. Persistence errors are logged;
// the in-memory policy stays authoritative.
func (t *PolicyTracker) update(ctx context.Context, fn func(p *AutoSyncPolicy)) AutoSyncPolicy {
	t.mu.Lock()
	defer t.mu.Unlock()

	fn(&t.policy)
	snapshot := t.policy.clone()

	if t.persistence != nil {
		if err := t.persistence.SavePolicy(ctx, &snapshot); err != nil {
			slog.ErrorContext(ctx, "Failed to persist auto-sync policy", "error", err)
		}
	}
	return snapshot
}
