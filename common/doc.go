// Package common provides shared constants, types, utilities, and interfaces
// used throughout pvpn.
//
// This package serves as the foundation for cross-cutting concerns:
//
//   - Constants: file names, API headers, OpenVPN ports, timeouts
//   - Errors: Sentinel errors for consistent error handling across packages
//   - Interfaces: Abstractions for credential storage and logging
//   - Logger: Leveled logging with file output and rotation
//   - Utils: Config directory and atomic file helpers
//
// # Usage
//
//	timeout := common.ConnectionTimeout
//
//	common.LogInfo("Connecting to %s", server.Name)
//
//	if errors.Is(err, common.ErrNamedServerNotFound) {
//	    // Handle unknown server name
//	}
package common
