// Package logging configures the gateway's slog-based logger.
//
// Output format, level, and destination come from the logging section
// of the config file. JSON is the default so lines are machine-parsed
// in production; text format reads better during development. Every
// line carries service and version attributes, and subsystems tag
// their lines with a component attribute via With.
//
// Secrets never go into log fields. API keys are logged as a short
// prefix at most.
package logging
