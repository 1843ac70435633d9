// Package receiver orchestrates ingestion. It validates each incoming
// provider payload, persists the canonical build, and runs the post-commit
// side effects (failure alert, WebSocket broadcast) in a fixed order per
// event. Side-effect failures degrade gracefully and are never reported to
// the ingestion caller.
package receiver
