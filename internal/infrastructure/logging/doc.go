// Package logging builds the coordinator's slog logger from the logging
// config section: JSON or text, a minimum level, and stdout, stderr or a
// lumberjack-rotated file.
//
//	logging:
//	  level: info
//	  format: json
//	  output: file
//	  file:
//	    path: ./logs/nodelink.log
//	    max_size: 50
//	    max_backups: 5
//
// Subsystems receive log.Component("serial"), log.Component("registry") and
// so on, so entries can be filtered by component. Broker passwords, the
// InfluxDB token and the API secret are never logged.
package logging
