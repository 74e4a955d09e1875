// Package config loads the coordinator's YAML configuration.
//
// Load starts from built-in defaults, overlays the file, then applies
// NODELINK_* environment overrides (serial device and baud rate, database
// path, broker host and credentials, InfluxDB token, log level, log sink
// address, API port and JWT secret) before Validate runs. Keep secrets in
// the environment rather than the file.
//
//	cfg, err := config.Load(config.PathFromEnv())
package config
