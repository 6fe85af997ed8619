// Package metrics defines Prometheus metrics for bulkmail, covering message
// dispatch, SMTP connection attempts, batch pacing and the log digest.
package metrics
