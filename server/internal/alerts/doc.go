// Package alerts owns the failure-notification decision and its delivery.
//
// ShouldAlert is the predicate: a build alerts iff its status is failure,
// evaluated exactly once per persisted build, after the store acknowledged
// the append. Notifier delivers to the configured Slack/HTTP webhooks and
// SMTP target; every delivery failure is contained and logged — it never
// reaches the ingestion caller.
package alerts
