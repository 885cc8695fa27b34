// Package services holds the shared error taxonomy and context annotation
// helpers used across the orchestration core and the agent-facing surfaces.
//
// Errors raised by agent dispatch, payload validation, and store access are
// wrapped with one of the exported sentinel markers so that callers can
// classify a failure (transient vs. permanent) without string matching.
package services
