// Package server implements the HTTP API of the lip-sync service.
// POST /predict accepts base64 audio and answers with the merged mouth-cue
// timeline; health, configuration, statistics and Prometheus metrics endpoints
// support monitoring.
package server
