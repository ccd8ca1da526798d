// Package common provides shared constants, types, and utilities
// used across the pvpn application.
package common

import "errors"

// Sentinel errors for VPN operations.
// These can be checked with errors.Is() for proper error handling.
var (
	// Server catalog errors.
	ErrRemoteUnavailable = errors.New("directory API unavailable")
	ErrMalformedResponse = errors.New("malformed directory API response")
	ErrCacheIO           = errors.New("server cache i/o error")

	// Resolution errors.
	ErrNoMatchingServer    = errors.New("no matching server")
	ErrNamedServerNotFound = errors.New("server not found")

	// Config rendering errors.
	ErrSplitTunnelParse = errors.New("invalid split tunnel entry")
	ErrTemplate         = errors.New("openvpn config template error")

	// Connection errors.
	ErrConfigWrite      = errors.New("failed to write openvpn config")
	ErrSpawn            = errors.New("failed to start openvpn")
	ErrConnectionFailed = errors.New("connection failed")
	ErrAuthFailed       = errors.New("authentication failed")
	ErrNotConnected     = errors.New("no active connection")
	ErrAlreadyConnected = errors.New("already connected")
	ErrTimeout          = errors.New("operation timed out")

	// Credential errors.
	ErrCredential          = errors.New("failed to stage credentials")
	ErrCredentialsNotFound = errors.New("credentials not found")
	ErrCredentialStorage   = errors.New("failed to store credentials")
	ErrEncryption          = errors.New("encryption error")
	ErrDecryption          = errors.New("decryption error")

	// Configuration errors.
	ErrConfigLoad      = errors.New("failed to load configuration")
	ErrConfigSave      = errors.New("failed to save configuration")
	ErrNotInitialized  = errors.New("settings not initialized, run `pvpn init`")
	ErrInvalidInput    = errors.New("invalid input")
	ErrInvalidSettings = errors.New("invalid settings")

	// Permission errors.
	ErrPermissionDenied = errors.New("permission denied")
)

// WrapError wraps an error with additional context.
func WrapError(err error, message string) error {
	if err == nil {
		return nil
	}
	return &wrappedError{
		msg: message,
		err: err,
	}
}

type wrappedError struct {
	msg string
	err error
}

func (e *wrappedError) Error() string {
	return e.msg + ": " + e.err.Error()
}

func (e *wrappedError) Unwrap() error {
	return e.err
}
