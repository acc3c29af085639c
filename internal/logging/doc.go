// Package logging provides a simple leveled logging interface for the
// media gallery service.
//
// It supports the following log levels:
//   - DEBUG: Verbose debugging information
//   - INFO: General operational messages
//   - WARN: Warning conditions, including single-item indexing failures
//   - ERROR: Error conditions, including failed sync or index runs
//   - FATAL: Fatal errors that terminate the application
//
// The log level is configured via the LOG_LEVEL environment variable.
// Configure adds a size-rotated log file next to stderr output.
package logging
