package vpn

import (
	"errors"
	"fmt"
	"os"
	"runtime"
	"strings"
	"sync"

	"github.com/yllada/pvpn/common"
)

// CredentialFile is a staged --auth-user-pass file. It owns the file on
// disk: Close removes it unless Keep was called first. Every code path
// that stages credentials must defer Close.
type CredentialFile struct {
	mu      sync.Mutex
	path    string
	kept    bool
	removed bool
}

// CredentialContent returns the exact file content for username and secret.
func CredentialContent(username, secret string) string {
	return fmt.Sprintf("%s+%s\n%s\n", username, common.CredentialSuffix, secret)
}

// StageCredentials writes username and secret to a new uniquely named file
// in dir (os.TempDir when empty) and makes it owner-read-only. Line breaks
// in either value are rejected since the file is line-oriented.
func StageCredentials(dir, username, secret string) (*CredentialFile, error) {
	if strings.ContainsAny(username, "\r\n") {
		return nil, fmt.Errorf("%w: username contains a line break", common.ErrCredential)
	}
	if strings.ContainsAny(secret, "\r\n") {
		return nil, fmt.Errorf("%w: password contains a line break", common.ErrCredential)
	}

	file, err := os.CreateTemp(dir, "pvpn-auth-*")
	if err != nil {
		return nil, fmt.Errorf("%w: %w", common.ErrCredential, err)
	}
	cred := &CredentialFile{path: file.Name()}

	fail := func(err error) (*CredentialFile, error) {
		file.Close()
		cred.Close()
		return nil, err
	}

	if _, err := file.WriteString(CredentialContent(username, secret)); err != nil {
		return fail(fmt.Errorf("%w: %w", common.ErrCredential, err))
	}
	if err := file.Sync(); err != nil {
		return fail(fmt.Errorf("%w: %w", common.ErrCredential, err))
	}
	if runtime.GOOS != "windows" {
		if err := file.Chmod(0400); err != nil {
			return fail(fmt.Errorf("%w: %w: %w", common.ErrCredential, common.ErrPermissionDenied, err))
		}
	}
	if err := file.Close(); err != nil {
		cred.Close()
		return nil, fmt.Errorf("%w: %w", common.ErrCredential, err)
	}

	common.LogDebug("Credentials staged in %s", cred.path)
	return cred, nil
}

// Path returns the file location.
func (c *CredentialFile) Path() string {
	return c.path
}

// Keep releases ownership: Close will leave the file in place.
func (c *CredentialFile) Keep() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.kept = true
}

// Close removes the file unless it was kept. It is safe to call more than once.
func (c *CredentialFile) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.kept || c.removed {
		return nil
	}
	c.removed = true

	if err := os.Remove(c.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		common.LogError("Could not remove credential file %s: %v", c.path, err)
		return fmt.Errorf("%w: %w", common.ErrCredential, err)
	}
	common.LogDebug("Credential file removed")
	return nil
}
