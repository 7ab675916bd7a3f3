// Package config provides user configuration management for lanblast.
//
// This package manages a YAML-based configuration file that stores pipeline
// tuning preferences (discovery timeout, control concurrency, settle delay,
// port and service-type overrides) and user-defined display nicknames for
// devices. The configuration follows OS-specific conventions for storage
// location.
//
// # Configuration File Location
//
// The configuration file is stored in platform-appropriate locations:
//   - Linux: $XDG_CONFIG_HOME/lanblast/config.yaml or $HOME/.config/lanblast/config.yaml
//   - macOS: $HOME/.config/lanblast/config.yaml
//   - Windows: %LOCALAPPDATA%\lanblast\config.yaml
//
// # What Is Persisted
//
// Only preferences and user labelling are saved. Discovered device records
// are never written to disk; every run rediscovers the network from scratch.
//
// # Usage Example
//
//	// Load the global registry
//	registry, err := config.LoadRegistry()
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	// Label a device for display
//	registry.Devices["192.168.1.43:1400"] = &config.DeviceMeta{
//	    Nickname: "Kitchen Sonos",
//	}
//
//	// Save changes atomically
//	if err := registry.Save(); err != nil {
//	    log.Fatal(err)
//	}
//
// # Thread Safety
//
// The global registry uses sync.Once for safe initialization across goroutines.
// File operations are protected by a mutex to ensure atomic writes.
package config
