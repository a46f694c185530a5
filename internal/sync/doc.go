// Package sync reconciles access terminals against the central record store.
//
// # Executor
//
// Executor.Run performs one synchronization run over a set of devices:
//
//   - loads the central user set once from a records.Store
//   - dials each device with bounded concurrency and a per-device timeout
//   - lists the users on the terminal and computes a records.Plan
//     (insert missing, update differing, delete extraneous, keyed by uid)
//   - applies the plan and reports the contact outcome to the health.Registry
//   - appends exactly one history.Record and notes the run on the policy
//
// Per-device failures never abort a run. They are returned inside the record
// as history.DeviceResult entries and surface as *DeviceError values in logs.
// A run over an empty device set is recorded with outcome failure.
//
// # Coordinator Package
//
// The sync/coordinator subpackage owns the auto-sync ticker and the
// single-flight guard that keeps at most one Run in flight. Nothing outside
// the coordinator should call Run directly in a running process.
package sync
