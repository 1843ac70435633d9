// Package ws implements the WebSocket hub for pipepulse-server.
//
// Hub tracks the set of connected dashboard clients and fans a
// build_ingested notification out to all of them whenever the receiver
// persists a build. Delivery per client is independent: a failed or lagging
// client is evicted without affecting the others or the ingestion path.
//
// Message format sent to clients:
//
//	{
//	  "event": "build_ingested",
//	  "data":  { "pipeline": "...", "repo": "...", "status": "...", "provider": "..." }
//	}
//
// The upgrader accepts all origins. Apply CORS restrictions at the reverse
// proxy level. The WebSocket endpoint is mounted at /ws by the server.
package ws
