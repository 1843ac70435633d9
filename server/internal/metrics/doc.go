// Package metrics computes rolling health statistics over canonical builds:
// windowed success/failure rates, mean build duration, and each pipeline's
// most recent status. Summaries are pure derivations — they are recomputed
// from the store on every request and hold no state of their own.
package metrics
