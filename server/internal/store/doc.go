// Package store persists canonical builds and serves range queries over
// them. The Store interface is the contract the rest of the server codes
// against; SQLite is the production implementation. Builds are immutable
// after append, and the assigned id is the insertion order.
package store
