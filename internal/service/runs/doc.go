// Package runs memoizes analysis executions.
//
// A run is keyed by (analysis version, configuration hash) where the
// configuration is the validated input map with defaults filled in. Calling
// GetOrExecute twice with equivalent inputs invokes the entry point once.
//
// Run states:
//   - pending: the run row and its inputs are persisted, nothing executed yet.
//   - running: the entry point has been invoked.
//   - succeeded: outputs are attached; the run is immutable.
//   - failed: the invocation or output validation failed; the run keeps the
//     command and cause for audit.
//
// Only pending and running runs and succeeded runs answer cache lookups. A
// failed run does not: the next call for the same configuration creates a
// new run with the next attempt number. Nothing is retried automatically.
//
// Creation is serialized per key twice. Inside one process, concurrent calls
// share one lookup-or-create through singleflight. Across processes the store
// allows a single non-failed run per key, and the losing writer returns the
// winner's run. The entry point itself runs outside both.
package runs
