// Package config provides configuration loading and validation for the lip-sync service.
// A YAML file is decoded over built-in defaults, LIPSYNC_* environment variables
// override individual keys, and every section is validated before use.
package config
