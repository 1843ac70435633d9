// Package collector polls CI systems for newly completed builds and maps
// them to the canonical ingest payload. Each collector tracks a per-source
// cursor so a build is emitted exactly once, after it has finished.
package collector
