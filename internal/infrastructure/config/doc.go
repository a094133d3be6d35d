// Package config loads and validates probebench configuration.
//
// This package manages:
//   - Loading configuration from YAML files
//   - Overriding with PROBEBENCH_* environment variables
//   - Validation of required fields (all failures reported together)
//   - Default value handling
//
// Secrets (MQTT password, InfluxDB token) should be supplied through the
// environment rather than committed to the YAML file.
//
// Usage:
//
//	cfg, err := config.Load("configs/config.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(cfg.Plugins.Dir)
package config
