// Package common provides shared constants, types, and utilities
// used across the pvpn application.
package common

import "time"

// Application metadata.
const (
	// AppName is the display name of the application.
	AppName = "pvpn"
	// ConfigDirName is the name of the configuration directory.
	ConfigDirName = "pvpn"
	// ClientTag identifies this client to the directory API.
	ClientTag = "LinuxVPN"
	// CredentialSuffix is appended to the username in the credential file.
	CredentialSuffix = "plc"
)

// Build metadata, overridden from main via ldflags. AppVersion is also
// reported to the directory API.
var (
	AppVersion = "0.1.0"
	BuildTime  = "unknown"
	CommitSHA  = "unknown"
)

// File names used by the application. All live in the config directory.
const (
	SettingsFileName    = "settings.yaml"
	ServerCacheFileName = "serverinfo.json"
	OpenVPNConfigName   = "connect.ovpn"
	OpenVPNLogName      = "openvpn.log"
	SplitTunnelFileName = "split_tunnel.txt"
	SessionFileName     = "session.yaml"
	CACertFileName      = "ca.crt"
	TLSAuthFileName     = "ta.key"
	CredentialsFileName = ".credentials"
	LogFileName         = "pvpn.log"
)

// Directory API.
const (
	// DefaultAPIBase is the directory API used when the settings do not name one.
	DefaultAPIBase = "https://api.protonvpn.ch"
	// APIVersion is sent as x-pm-apiversion.
	APIVersion = "3"
	// APIAccept is sent as the Accept header.
	APIAccept = "application/vnd.protonmail.v1+json"
	// APISuccessCode is the Code value of a successful API response.
	APISuccessCode = 1000
)

// OpenVPN invocation.
const (
	// OpenVPNBinary is the native client executable.
	OpenVPNBinary = "openvpn"
	// SessionEnv is set in the OpenVPN environment to the session ID, so
	// that a recorded PID can be matched to the process it was given to.
	SessionEnv = "PVPN_SESSION"
	// TunDevice is the tun interface name passed with --dev.
	TunDevice = "proton0"
	// PortUDP is the remote port used with the UDP protocol.
	PortUDP = 1194
	// PortTCP is the remote port used with the TCP protocol.
	PortTCP = 443
)

// Default timeouts and intervals.
const (
	// CatalogMaxAge is how long a fetched server list stays fresh.
	CatalogMaxAge = 15 * time.Minute
	// APITimeout bounds a single directory API request.
	APITimeout = 10 * time.Second
	// ConnectionTimeout is the maximum time to wait for the tunnel to come up.
	ConnectionTimeout = 30 * time.Second
	// MonitorInterval is how often the OpenVPN log is polled.
	MonitorInterval = 500 * time.Millisecond
	// StopTimeout is how long Stop waits after SIGTERM before killing.
	StopTimeout = 5 * time.Second
)
