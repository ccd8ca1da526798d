package vpn

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/yllada/pvpn/common"
	"github.com/yllada/pvpn/config"
)

// Session is the on-disk record of the running connection, so that later
// invocations can report on it or end it.
type Session struct {
	// ID matches Handle.ID and the SessionEnv entry of the process.
	ID string `yaml:"id"`
	// Server is the logical server name.
	Server string `yaml:"server"`
	// Country is the exit country code.
	Country  string          `yaml:"country,omitempty"`
	Protocol config.Protocol `yaml:"protocol"`
	// PID of the OpenVPN process.
	PID         int       `yaml:"pid"`
	ConnectedAt time.Time `yaml:"connected_at"`
	ConfigPath  string    `yaml:"config_path"`
	LogPath     string    `yaml:"log_path"`
}

// NewSession records h.
func NewSession(h *Handle) *Session {
	return &Session{
		ID:          h.ID,
		Server:      h.Server.Name,
		Country:     h.Server.ExitCountry,
		Protocol:    h.Protocol,
		PID:         h.PID(),
		ConnectedAt: time.Now(),
		ConfigPath:  h.ConfigPath,
		LogPath:     h.LogPath,
	}
}

// Uptime returns how long the session has been connected.
func (s *Session) Uptime() time.Duration {
	return time.Since(s.ConnectedAt).Truncate(time.Second)
}

// procDir is where process information is read from.
var procDir = "/proc"

// Alive reports whether the recorded process is still running and is the
// one started for this session. A PID that was recycled by another
// process is not alive. The process is identified by its SessionEnv
// entry, or by its --config argument when its environment belongs to
// another user. Without a proc filesystem only existence is checked.
func (s *Session) Alive() bool {
	if s.PID <= 0 || s.ID == "" {
		return false
	}
	if _, err := os.Stat(filepath.Join(procDir, "self")); err != nil {
		return signalable(s.PID)
	}

	dir := filepath.Join(procDir, strconv.Itoa(s.PID))
	env, err := os.ReadFile(filepath.Join(dir, "environ"))
	if err == nil {
		return hasField(env, common.SessionEnv+"="+s.ID)
	}
	if !errors.Is(err, os.ErrPermission) || s.ConfigPath == "" {
		return false
	}
	cmdline, err := os.ReadFile(filepath.Join(dir, "cmdline"))
	if err != nil {
		return false
	}
	return hasField(cmdline, "--config") && hasField(cmdline, s.ConfigPath)
}

func signalable(pid int) bool {
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	err = proc.Signal(syscall.Signal(0))
	return err == nil || errors.Is(err, syscall.EPERM)
}

// hasField reports whether the NUL separated data contains want.
func hasField(data []byte, want string) bool {
	for _, field := range bytes.Split(data, []byte{0}) {
		if string(field) == want {
			return true
		}
	}
	return false
}

// Terminate sends SIGTERM to the recorded process. It returns
// common.ErrNotConnected without signalling anything when the PID no
// longer belongs to this session.
func (s *Session) Terminate() error {
	if !s.Alive() {
		return common.ErrNotConnected
	}
	proc, err := os.FindProcess(s.PID)
	if err != nil {
		return fmt.Errorf("%w: %w", common.ErrNotConnected, err)
	}
	if err := proc.Signal(syscall.SIGTERM); err != nil {
		if errors.Is(err, syscall.EPERM) {
			return fmt.Errorf("%w: pid %d: %w", common.ErrPermissionDenied, s.PID, err)
		}
		return fmt.Errorf("%w: %w", common.ErrConnectionFailed, err)
	}
	common.LogInfo("Sent SIGTERM to OpenVPN (PID %d, session %s)", s.PID, s.ID)
	return nil
}

// SaveSession writes s to path.
func SaveSession(path string, s *Session) error {
	data, err := yaml.Marshal(s)
	if err != nil {
		return fmt.Errorf("failed to serialize session: %w", err)
	}
	if err := common.WriteFileAtomic(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write session file: %w", err)
	}
	return nil
}

// LoadSession reads the session at path. It returns common.ErrNotConnected
// when there is none.
func LoadSession(path string) (*Session, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, common.ErrNotConnected
		}
		return nil, fmt.Errorf("failed to read session file: %w", err)
	}

	var s Session
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("failed to parse session file: %w", err)
	}
	return &s, nil
}

// ClearSession removes the session file. A missing file is not an error.
func ClearSession(path string) error {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to remove session file: %w", err)
	}
	return nil
}
