// Package store provides SQLite-backed persistence for the orchestration
// core: worker agents, work items, sessions, workflows with their phase
// transition log, and the dead letter queue.
//
// The store is the single source of truth for scheduling decisions. The
// conditional updates it exposes (claiming a pending item, completing an
// in-flight one) are plain UPDATE statements guarded by a status predicate;
// RowsAffected tells the caller whether its transition won. Concurrent
// schedulers rely on that, never on in-process locks.
package store
