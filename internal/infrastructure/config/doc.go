// Package config handles loading and validating grayrelay configuration.
//
// This package manages:
//   - Loading configuration from YAML files
//   - Overriding with environment variables
//   - Validation of required fields
//   - Default value handling
//
// Defaults match a local Redis broker (127.0.0.1:6379, no password) with an
// initial-connection budget of three attempts five seconds apart.
//
// Security Considerations:
//   - The broker password should be set via GRAYRELAY_BROKER_PASSWORD
//   - The config file should have restricted permissions (0600)
//
// Usage:
//
//	cfg, err := config.Load("configs/config.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(cfg.BrokerAddr())
package config
