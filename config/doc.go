// Package config defines the engine's configuration surface: typed sections
// for the server, stores, evolution policy, logging, telemetry, and auth,
// loaded from defaults, YAML, and environment variables, with optional
// file-watch based hot reload.
package config
