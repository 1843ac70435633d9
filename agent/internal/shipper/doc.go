// Package shipper delivers collected build events to the pipepulse server
// over HTTP. It decouples polling from delivery with a bounded in-memory
// buffer: collectors never block on a slow or unreachable server, and the
// oldest events are dropped first when the buffer fills.
package shipper
