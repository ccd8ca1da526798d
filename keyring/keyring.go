// Package keyring provides secure storage for the account password.
// It uses the system keyring when available, falling back to
// encrypted local file storage when not.
package keyring

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/yllada/pvpn/common"
	"github.com/zalando/go-keyring"
	"golang.org/x/crypto/hkdf"
)

const (
	// serviceName is the identifier used in the system keyring.
	serviceName = "pvpn"
	detectKey   = "pvpn-detect"
)

// Store keeps account secrets in the system keyring, or in an AES-GCM
// encrypted file when no keyring service is reachable.
type Store struct {
	mu        sync.RWMutex
	file      string
	useLocal  bool
	detected  bool
	local     map[string]string
	key       []byte
	machineID func() string
}

// New returns a Store whose fallback file is credentialsFile.
// The system keyring is detected on first use.
func New(credentialsFile string) *Store {
	return &Store{
		file:      credentialsFile,
		machineID: getMachineID,
	}
}

var _ common.CredentialStore = (*Store)(nil)

// detect decides the backend once. Callers must hold s.mu for writing.
func (s *Store) detect() {
	if s.detected {
		return
	}
	s.detected = true

	if err := keyring.Set(serviceName, detectKey, "detect"); err == nil {
		_ = keyring.Delete(serviceName, detectKey)
		return
	}

	common.LogDebug("System keyring unavailable, using encrypted file %s", s.file)
	s.enableLocal()
}

// enableLocal switches to the file backend. Callers must hold s.mu for writing.
func (s *Store) enableLocal() {
	if s.useLocal {
		return
	}
	s.useLocal = true
	s.key = s.deriveKey()
	s.local = make(map[string]string)
	s.loadLocal()
}

// deriveKey derives the file encryption key from machine-specific data.
func (s *Store) deriveKey() []byte {
	hostname, _ := os.Hostname()
	secret := fmt.Sprintf("%s-%s-%d", hostname, s.machineID(), os.Getuid())

	key := make([]byte, 32)
	kdf := hkdf.New(sha256.New, []byte(secret), []byte(serviceName), []byte("credential-store"))
	if _, err := io.ReadFull(kdf, key); err != nil {
		sum := sha256.Sum256([]byte(secret))
		return sum[:]
	}
	return key
}

func getMachineID() string {
	data, err := os.ReadFile("/etc/machine-id")
	if err == nil {
		return strings.TrimSpace(string(data))
	}
	return "default-machine-id"
}

func (s *Store) loadLocal() {
	data, err := os.ReadFile(s.file)
	if err != nil {
		return
	}

	decrypted, err := s.decrypt(data)
	if err != nil {
		common.LogWarn("Ignoring unreadable credential store %s: %v", s.file, err)
		return
	}

	if err := json.Unmarshal(decrypted, &s.local); err != nil {
		common.LogWarn("Ignoring corrupt credential store %s: %v", s.file, err)
	}
}

// saveLocal persists the file backend. Callers must hold s.mu.
func (s *Store) saveLocal() error {
	data, err := json.Marshal(s.local)
	if err != nil {
		return err
	}

	encrypted, err := s.encrypt(data)
	if err != nil {
		return fmt.Errorf("%w: %w", common.ErrEncryption, err)
	}

	if err := common.EnsureDir(filepath.Dir(s.file)); err != nil {
		return err
	}
	return common.WriteFileAtomic(s.file, encrypted, 0600)
}

func (s *Store) encrypt(plaintext []byte) ([]byte, error) {
	block, err := aes.NewCipher(s.key)
	if err != nil {
		return nil, err
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, err
	}

	ciphertext := gcm.Seal(nonce, nonce, plaintext, nil)
	return []byte(base64.StdEncoding.EncodeToString(ciphertext)), nil
}

func (s *Store) decrypt(data []byte) ([]byte, error) {
	ciphertext, err := base64.StdEncoding.DecodeString(string(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", common.ErrDecryption, err)
	}

	block, err := aes.NewCipher(s.key)
	if err != nil {
		return nil, err
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}

	if len(ciphertext) < gcm.NonceSize() {
		return nil, fmt.Errorf("%w: ciphertext too short", common.ErrDecryption)
	}

	nonce, ciphertext := ciphertext[:gcm.NonceSize()], ciphertext[gcm.NonceSize():]
	plain, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", common.ErrDecryption, err)
	}
	return plain, nil
}

// Store saves the secret for username.
func (s *Store) Store(username, secret string) error {
	if username == "" {
		return errors.New("username cannot be empty")
	}
	if secret == "" {
		return errors.New("secret cannot be empty")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.detect()

	if !s.useLocal {
		if err := keyring.Set(serviceName, username, secret); err == nil {
			return nil
		}
		common.LogWarn("System keyring rejected the secret, falling back to %s", s.file)
		s.enableLocal()
	}

	s.local[username] = secret
	if err := s.saveLocal(); err != nil {
		return fmt.Errorf("%w: %w", common.ErrCredentialStorage, err)
	}
	return nil
}

// Get retrieves the secret for username.
func (s *Store) Get(username string) (string, error) {
	if username == "" {
		return "", errors.New("username cannot be empty")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.detect()

	if !s.useLocal {
		secret, err := keyring.Get(serviceName, username)
		if err == nil {
			return secret, nil
		}
		if errors.Is(err, keyring.ErrNotFound) {
			return "", common.ErrCredentialsNotFound
		}
		common.LogWarn("System keyring lookup failed: %v", err)
		return "", fmt.Errorf("%w: %w", common.ErrCredentialsNotFound, err)
	}

	secret, exists := s.local[username]
	if !exists {
		return "", common.ErrCredentialsNotFound
	}
	return secret, nil
}

// Delete removes the secret for username.
func (s *Store) Delete(username string) error {
	if username == "" {
		return errors.New("username cannot be empty")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.detect()

	if !s.useLocal {
		err := keyring.Delete(serviceName, username)
		if err != nil && !errors.Is(err, keyring.ErrNotFound) {
			return fmt.Errorf("%w: %w", common.ErrCredentialStorage, err)
		}
		return nil
	}

	delete(s.local, username)
	return s.saveLocal()
}

// UsesFallback reports whether secrets are kept in the encrypted file.
func (s *Store) UsesFallback() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.detect()
	return s.useLocal
}
