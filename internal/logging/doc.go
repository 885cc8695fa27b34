// Package logging builds the daemon's slog loggers and provides the attr
// helpers and field-name constants used for structured output across the
// orchestration components.
package logging
