// Package common provides shared constants, types, and utilities
// used across the pvpn application.
package common

// CredentialStore defines the interface for account secret storage.
// Implementations may use system keyring, encrypted files, etc.
type CredentialStore interface {
	// Store saves the secret for a username.
	Store(username, secret string) error
	// Get retrieves the secret for a username.
	Get(username string) (string, error)
	// Delete removes the secret for a username.
	Delete(username string) error
}

// Logger defines the interface for structured logging.
type Logger interface {
	// Debug logs a debug message.
	Debug(msg string, args ...interface{})
	// Info logs an informational message.
	Info(msg string, args ...interface{})
	// Warn logs a warning message.
	Warn(msg string, args ...interface{})
	// Error logs an error message.
	Error(msg string, args ...interface{})
}
