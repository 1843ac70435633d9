// Package normalize turns provider ingest payloads into canonical build
// records. It validates the hard requirements (status, started_at),
// substitutes fallbacks for best-effort identity fields, and derives the
// build duration when the adapter did not supply one.
package normalize
