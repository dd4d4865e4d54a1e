// Package config handles configuration loading and validation for Fleetgate.
//
// Configuration is read from a YAML file, merged over hardcoded defaults,
// and finally overridden by FLEETGATE_* environment variables. The loaded
// Config is treated as read-only for the lifetime of the process.
//
// # Usage
//
//	cfg, err := config.Load("configs/config.yaml")
//	if err != nil {
//	    return err
//	}
//	fmt.Println(cfg.Gateway.Port)
//
// Secrets (JWT signing key, MQTT credentials, InfluxDB token) should be
// supplied via environment variables rather than committed to the file.
package config
