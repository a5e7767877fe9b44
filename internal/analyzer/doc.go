// Package analyzer turns one audio segment into mouth cues.
//
// Three backends implement Analyzer: a process adapter for the Rhubarb Lip
// Sync binary, an HTTP client for a remote analyzer that answers in Rhubarb's
// JSON format, and an energy analyzer built on the vad package that needs no
// external recognizer. The external backends apply per-segment timeouts,
// bounded retries with exponential backoff and scoped cleanup of temporary
// artifacts.
package analyzer
