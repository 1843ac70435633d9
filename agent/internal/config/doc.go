// Package config loads and validates the agent-side YAML configuration:
// the server endpoint, poll cadence, and the list of CI sources to poll.
// Secrets are never stored in the file; fields like token_env name the
// environment variable that holds the value. Watch provides fsnotify-based
// hot reload.
package config
