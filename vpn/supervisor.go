package vpn

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/yllada/pvpn/catalog"
	"github.com/yllada/pvpn/common"
	"github.com/yllada/pvpn/config"
)

// State is a step of a connection attempt. Attempts only move forward;
// any failure ends in StateFailed.
type State int

const (
	StateIdle State = iota
	StateConfigWritten
	StateCredentialStaged
	StateProcessSpawned
	StateFailed
)

// String returns a human-readable representation of the state.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "Idle"
	case StateConfigWritten:
		return "ConfigWritten"
	case StateCredentialStaged:
		return "CredentialStaged"
	case StateProcessSpawned:
		return "ProcessSpawned"
	case StateFailed:
		return "Failed"
	default:
		return "Unknown"
	}
}

// ConnectError reports the last state reached before a connection attempt
// failed. Err wraps one of common.ErrConfigWrite, common.ErrCredential or
// common.ErrSpawn.
type ConnectError struct {
	Stage State
	Err   error
}

func (e *ConnectError) Error() string {
	return fmt.Sprintf("connect failed after %s: %v", e.Stage, e.Err)
}

func (e *ConnectError) Unwrap() error {
	return e.Err
}

// Supervisor writes the OpenVPN config, stages credentials and spawns the
// client. It never retries.
type Supervisor struct {
	// Binary is the OpenVPN executable; common.OpenVPNBinary when empty.
	Binary string
	// TempDir holds staged credential files; os.TempDir() when empty.
	TempDir string
	// SplitTunnelPath lists routes that bypass the tunnel, one per line.
	// Only read when the account enables split tunneling.
	SplitTunnelPath string
	// CACertPath and TLSAuthPath are inlined into the config when present.
	CACertPath  string
	TLSAuthPath string
}

// NewSupervisor returns a Supervisor using the files under paths.
func NewSupervisor(paths config.Paths) *Supervisor {
	return &Supervisor{
		Binary:          common.OpenVPNBinary,
		TempDir:         paths.TempDir,
		SplitTunnelPath: paths.SplitTunnel,
		CACertPath:      paths.CACert,
		TLSAuthPath:     paths.TLSAuth,
	}
}

// Connect runs one connection attempt against server. On failure every
// staged credential is removed; a partially written config is left in
// place and is overwritten by the next attempt.
func (s *Supervisor) Connect(server catalog.LogicalServer, protocol config.Protocol, account *config.Account, configPath, logPath string) (*Handle, error) {
	state := StateIdle
	fail := func(err error) (*Handle, error) {
		common.LogError("Connection to %s failed after %s: %v", server.Name, state, err)
		return nil, &ConnectError{Stage: state, Err: err}
	}

	common.LogInfo("Connecting to %s over %s", server.Name, protocol)

	rendered, err := s.render(server, protocol, account)
	if err != nil {
		return fail(fmt.Errorf("%w: %w", common.ErrConfigWrite, err))
	}
	if err := os.WriteFile(configPath, []byte(rendered), 0600); err != nil {
		return fail(fmt.Errorf("%w: %w", common.ErrConfigWrite, err))
	}
	state = StateConfigWritten
	common.LogDebug("OpenVPN config written to %s", configPath)

	cred, err := StageCredentials(s.TempDir, account.Username, account.Password)
	if err != nil {
		return fail(err)
	}
	state = StateCredentialStaged

	logFile, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		cred.Close()
		return fail(fmt.Errorf("%w: open log: %w", common.ErrSpawn, err))
	}

	binary := s.Binary
	if binary == "" {
		binary = common.OpenVPNBinary
	}
	cmd := exec.Command(binary,
		"--config", configPath,
		"--auth-user-pass", cred.Path(),
		"--dev", common.TunDevice,
		"--dev-type", "tun",
	)
	id := uuid.New().String()
	cmd.Env = append(os.Environ(), common.SessionEnv+"="+id)
	cmd.Stdin = nil
	cmd.Stdout = logFile
	cmd.Stderr = logFile

	if err := cmd.Start(); err != nil {
		logFile.Close()
		cred.Close()
		return fail(fmt.Errorf("%w: %s: %w", common.ErrSpawn, binary, err))
	}
	state = StateProcessSpawned
	common.LogInfo("OpenVPN process started with PID %d (session %s)", cmd.Process.Pid, id)

	h := &Handle{
		ID:         id,
		Server:     server,
		Protocol:   protocol,
		ConfigPath: configPath,
		LogPath:    logPath,
		StartedAt:  time.Now(),
		cmd:        cmd,
		cred:       cred,
		logFile:    logFile,
		done:       make(chan struct{}),
	}
	go h.wait()
	return h, nil
}

func (s *Supervisor) render(server catalog.LogicalServer, protocol config.Protocol, account *config.Account) (string, error) {
	in := NewRenderInput(protocol, server.EntryIPs())
	in.DNS = account.DNSServers()

	if account.SplitTunnel && s.SplitTunnelPath != "" {
		data, err := os.ReadFile(s.SplitTunnelPath)
		if err != nil && !errors.Is(err, os.ErrNotExist) {
			return "", fmt.Errorf("%w: %w", common.ErrSplitTunnelParse, err)
		}
		routes, err := ParseSplitTunnel(string(data))
		if err != nil {
			return "", err
		}
		in.Split = true
		in.Routes = routes
		common.LogDebug("Split tunneling %d routes", len(routes))
	}

	var err error
	if in.CACert, err = readOptional(s.CACertPath); err != nil {
		return "", err
	}
	if in.TLSAuth, err = readOptional(s.TLSAuthPath); err != nil {
		return "", err
	}
	return Render(in)
}

func readOptional(path string) (string, error) {
	if path == "" {
		return "", nil
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// Handle is a spawned OpenVPN process together with its staged credential
// file. Close releases both.
type Handle struct {
	ID         string
	Server     catalog.LogicalServer
	Protocol   config.Protocol
	ConfigPath string
	LogPath    string
	StartedAt  time.Time

	cmd     *exec.Cmd
	cred    *CredentialFile
	logFile *os.File

	done    chan struct{}
	waitErr error

	closeOnce sync.Once
	closeErr  error
}

func (h *Handle) wait() {
	h.waitErr = h.cmd.Wait()
	if h.waitErr != nil {
		common.LogWarn("OpenVPN exited (session %s): %v", h.ID, h.waitErr)
	} else {
		common.LogInfo("OpenVPN exited normally (session %s)", h.ID)
	}
	close(h.done)
}

// PID returns the OpenVPN process id.
func (h *Handle) PID() int {
	return h.cmd.Process.Pid
}

// CredentialPath returns the staged credential file location.
func (h *Handle) CredentialPath() string {
	return h.cred.Path()
}

// Done is closed once the process has exited.
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

// Alive reports whether the process is still running.
func (h *Handle) Alive() bool {
	select {
	case <-h.done:
		return false
	default:
		return true
	}
}

// Wait blocks until the process exits and returns its exit error.
func (h *Handle) Wait() error {
	<-h.done
	return h.waitErr
}

// Stop sends SIGTERM and kills the process if it is still running after
// common.StopTimeout.
func (h *Handle) Stop() error {
	if !h.Alive() {
		return nil
	}
	common.LogInfo("Stopping OpenVPN (PID %d, session %s)", h.PID(), h.ID)

	if err := h.cmd.Process.Signal(syscall.SIGTERM); err != nil && !errors.Is(err, os.ErrProcessDone) {
		common.LogWarn("SIGTERM failed: %v", err)
	}

	select {
	case <-h.done:
		return nil
	case <-time.After(common.StopTimeout):
	}

	common.LogWarn("OpenVPN did not stop within %v, killing it", common.StopTimeout)
	if err := h.cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return fmt.Errorf("%w: %w", common.ErrConnectionFailed, err)
	}
	<-h.done
	return nil
}

// Close removes the credential file and closes the log. The process is
// left running; call Stop first to end it. Close is idempotent.
func (h *Handle) Close() error {
	h.closeOnce.Do(func() {
		h.closeErr = h.cred.Close()
		if err := h.logFile.Close(); err != nil && !errors.Is(err, os.ErrClosed) {
			h.closeErr = errors.Join(h.closeErr, err)
		}
	})
	return h.closeErr
}
