// Package config handles YAML configuration loading with environment variable substitution.
//
// Configuration files support ${VAR} syntax for environment variable interpolation.
// An empty feed.ws_url is valid and puts the daemon into pure polling mode.
package config
