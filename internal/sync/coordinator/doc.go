// Package coordinator schedules synchronization runs and guarantees that at
// most one run is in flight at any time.
//
// The Scheduler owns three things:
//
//   - the auto-sync ticker, restarted whenever the interval changes
//   - the single-flight guard shared by manual and scheduled runs
//   - the run listeners notified after every recorded run
//
// # Lifecycle
//
//	sched := coordinator.New(directory, executor, policy)
//	if err := sched.Start(ctx); err != nil {
//	    return err
//	}
//	defer sched.Stop()
//
// Start arms the ticker when the restored policy is enabled. Stop disarms it
// and waits for the in-flight run, if any.
//
// # Ticks
//
// A tick that arrives while a run is active is skipped and counted, never
// queued. The ticker cadence is not affected.
//
// # Manual runs
//
// ManualSync decides synchronously: it returns ErrSyncInProgress or a Handle
// whose Done channel closes when the run has been recorded. The run is
// detached from the caller's context so an impatient caller cannot abort a
// run half way through a fleet.
package coordinator
