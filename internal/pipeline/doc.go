// Package pipeline orchestrates a lip-sync request end to end.
//
// Raw audio is normalized by a transcode.Transcoder, split into bounded
// segments, analyzed on a bounded worker pool and merged into one global
// mouth-cue timeline. The first failing segment cancels the remaining work and
// its index is reported in the returned *Error. Every request runs inside its
// own workspace directory, which is removed before Process returns.
//
// With a SilenceDetector set, segments without voice activity bypass the
// analyzer and contribute a single rest cue.
package pipeline
