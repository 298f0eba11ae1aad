// Package logging provides structured slog logging for woochi with optional
// size-rotated JSON log files under ~/.woochi/logs/.
//
// Without a log file, records go to stderr only. The CLI enables file logging
// with --debug so ingest and retrieval events can be inspected later with
// `woochi logs`.
package logging
