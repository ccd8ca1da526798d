// Package config provides the settings record and file locations for pvpn.
// It handles loading, saving, and validating the account settings.
package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/yllada/pvpn/common"
	"gopkg.in/yaml.v3"
)

// Paths holds every on-disk location used by pvpn. It is built once and
// passed to each component so tests can point everything at a temp dir.
type Paths struct {
	// Dir is the configuration directory.
	Dir string
	// Settings is the YAML settings file.
	Settings string
	// ServerCache is the JSON mirror of the last server list.
	ServerCache string
	// OpenVPNConfig is the generated OpenVPN config.
	OpenVPNConfig string
	// OpenVPNLog captures the OpenVPN process output.
	OpenVPNLog string
	// SplitTunnel lists the routes excluded from the tunnel.
	SplitTunnel string
	// Session records the running connection.
	Session string
	// CACert and TLSAuth are optional inline key material for the config.
	CACert  string
	TLSAuth string
	// Credentials is the encrypted fallback secret store.
	Credentials string
	// Logs is the application log directory.
	Logs string
	// TempDir is where credential files are staged. Empty means os.TempDir.
	TempDir string
}

// NewPaths returns the standard layout rooted at dir.
func NewPaths(dir string) Paths {
	return Paths{
		Dir:           dir,
		Settings:      filepath.Join(dir, common.SettingsFileName),
		ServerCache:   filepath.Join(dir, common.ServerCacheFileName),
		OpenVPNConfig: filepath.Join(dir, common.OpenVPNConfigName),
		OpenVPNLog:    filepath.Join(dir, common.OpenVPNLogName),
		SplitTunnel:   filepath.Join(dir, common.SplitTunnelFileName),
		Session:       filepath.Join(dir, common.SessionFileName),
		CACert:        filepath.Join(dir, common.CACertFileName),
		TLSAuth:       filepath.Join(dir, common.TLSAuthFileName),
		Credentials:   filepath.Join(dir, common.CredentialsFileName),
		Logs:          filepath.Join(dir, "logs"),
	}
}

// DefaultPaths returns the layout under ~/.config/pvpn, creating the directory.
func DefaultPaths() (Paths, error) {
	dir, err := common.GetConfigDir()
	if err != nil {
		return Paths{}, err
	}
	return NewPaths(dir), nil
}

// Load reads the account settings from path.
// Returns common.ErrNotInitialized if the file does not exist.
func Load(path string) (*Account, error) {
	file, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, common.ErrNotInitialized
		}
		return nil, fmt.Errorf("%w: %w", common.ErrConfigLoad, err)
	}
	defer file.Close()

	decoder := yaml.NewDecoder(file)
	decoder.KnownFields(true) // Strict validation: reject unknown fields

	account := DefaultAccount()
	if err := decoder.Decode(account); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, common.ErrNotInitialized
		}
		return nil, fmt.Errorf("%w: error parsing settings: %w", common.ErrConfigLoad, err)
	}

	if err := account.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", common.ErrConfigLoad, err)
	}

	return account, nil
}

// Save writes the account settings to path. The password is not written.
func Save(path string, account *Account) error {
	if err := account.Validate(); err != nil {
		return fmt.Errorf("%w: %w", common.ErrConfigSave, err)
	}

	if err := common.EnsureDir(filepath.Dir(path)); err != nil {
		return fmt.Errorf("%w: error creating config directory: %w", common.ErrConfigSave, err)
	}

	data, err := yaml.Marshal(account)
	if err != nil {
		return fmt.Errorf("%w: error serializing settings: %w", common.ErrConfigSave, err)
	}

	if err := common.WriteFileAtomic(path, data, 0600); err != nil {
		return fmt.Errorf("%w: %w", common.ErrConfigSave, err)
	}

	return nil
}
