// Package types defines shared Go types used by both the agent and server.
// These are the canonical representations of a pipeline execution, separate
// from any provider's native payload format.
package types
