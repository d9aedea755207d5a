// Package config handles loading and validating the input emulator daemon
// configuration.
//
// This package manages:
//   - Loading configuration from YAML files
//   - Overriding with environment variables (INPUTEMU_*)
//   - Validation of required fields
//   - Default value handling
//
// The driver override keys here are fallbacks; values set in the runtime's
// settings store (section driver_inputemulator) win.
//
// Security Considerations:
//   - Broker credentials and InfluxDB tokens should be set via environment variables
//   - The status API binds to loopback by default
//
// Usage:
//
//	cfg, err := config.Load("configs/config.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(cfg.IPC.ServerChannel)
package config
