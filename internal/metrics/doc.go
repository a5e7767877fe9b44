// Package metrics defines the Prometheus instruments of the lip-sync service:
// pipeline runs, segment analyses, timeline merges, cache lookups and HTTP traffic.
package metrics
