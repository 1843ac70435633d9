// Package api exposes the HTTP surface: provider ingestion and raw webhook
// endpoints on the write path, build queries and rolling metrics on the read
// path. Routing is chi with per-IP rate limiting on writes.
package api
