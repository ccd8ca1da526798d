package vpn

import (
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"syscall"
	"testing"
	"time"

	"github.com/yllada/pvpn/common"
	"github.com/yllada/pvpn/config"
)

func TestSession_SaveLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.yaml")
	want := &Session{
		ID:          "0b7e5c1a-9d8f-4c3b-8a2e-1f6d5e4c3b2a",
		Server:      "CH#1",
		Country:     "CH",
		Protocol:    config.ProtocolTCP,
		PID:         4242,
		ConnectedAt: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC),
		ConfigPath:  "/tmp/connect.ovpn",
		LogPath:     "/tmp/openvpn.log",
	}

	if err := SaveSession(path, want); err != nil {
		t.Fatalf("SaveSession() error = %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile() error = %v", err)
	}
	if !strings.Contains(string(data), "protocol: tcp") {
		t.Errorf("session file = %q, want protocol keyword", data)
	}

	got, err := LoadSession(path)
	if err != nil {
		t.Fatalf("LoadSession() error = %v", err)
	}
	if got.ID != want.ID || got.Server != want.Server || got.PID != want.PID || got.Protocol != want.Protocol {
		t.Errorf("LoadSession() = %+v, want %+v", got, want)
	}
	if !got.ConnectedAt.Equal(want.ConnectedAt) {
		t.Errorf("ConnectedAt = %v, want %v", got.ConnectedAt, want.ConnectedAt)
	}

	if err := ClearSession(path); err != nil {
		t.Fatalf("ClearSession() error = %v", err)
	}
	if _, err := LoadSession(path); !errors.Is(err, common.ErrNotConnected) {
		t.Errorf("LoadSession() after clear error = %v, want %v", err, common.ErrNotConnected)
	}
	if err := ClearSession(path); err != nil {
		t.Errorf("ClearSession() on missing file error = %v", err)
	}
}

// startSleep runs sleep with env added to its environment and kills it
// when the test ends.
func startSleep(t *testing.T, env ...string) *exec.Cmd {
	t.Helper()
	if _, err := os.Stat("/proc/self/environ"); err != nil {
		t.Skip("proc filesystem not available")
	}
	bin, err := exec.LookPath("sleep")
	if err != nil {
		t.Skip("sleep not available")
	}
	cmd := exec.Command(bin, "30")
	cmd.Env = append(os.Environ(), env...)
	if err := cmd.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	t.Cleanup(func() {
		cmd.Process.Kill()
		cmd.Wait()
	})
	return cmd
}

func TestSession_Alive(t *testing.T) {
	const id = "0b7e5c1a-9d8f-4c3b-8a2e-1f6d5e4c3b2a"
	owned := startSleep(t, common.SessionEnv+"="+id)
	foreign := startSleep(t)
	other := startSleep(t, common.SessionEnv+"=another-session")

	tests := []struct {
		name    string
		session *Session
		want    bool
	}{
		{"own process", &Session{ID: id, PID: owned.Process.Pid}, true},
		{"recycled pid", &Session{ID: id, PID: foreign.Process.Pid}, false},
		{"other session", &Session{ID: id, PID: other.Process.Pid}, false},
		{"test process", &Session{ID: id, PID: os.Getpid()}, false},
		{"no id", &Session{PID: owned.Process.Pid}, false},
		{"pid 0", &Session{ID: id}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.session.Alive(); got != tt.want {
				t.Errorf("Alive() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestSession_AliveProcFiles(t *testing.T) {
	dir := t.TempDir()
	old := procDir
	procDir = dir
	defer func() { procDir = old }()

	for _, sub := range []string{"self", "4242", "4343"} {
		if err := os.Mkdir(filepath.Join(dir, sub), 0700); err != nil {
			t.Fatalf("Mkdir() error = %v", err)
		}
	}
	env := "HOME=/root\x00" + common.SessionEnv + "=abc\x00PATH=/usr/bin\x00"
	if err := os.WriteFile(filepath.Join(dir, "4242", "environ"), []byte(env), 0600); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	prefix := "HOME=/root\x00" + common.SessionEnv + "=abcdef\x00"
	if err := os.WriteFile(filepath.Join(dir, "4343", "environ"), []byte(prefix), 0600); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	tests := []struct {
		name string
		pid  int
		want bool
	}{
		{"matching entry", 4242, true},
		{"longer id", 4343, false},
		{"missing process", 4444, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := &Session{ID: "abc", PID: tt.pid}
			if got := s.Alive(); got != tt.want {
				t.Errorf("Alive() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestSession_TerminateForeignProcess(t *testing.T) {
	foreign := startSleep(t)
	s := &Session{ID: "0b7e5c1a-9d8f-4c3b-8a2e-1f6d5e4c3b2a", PID: foreign.Process.Pid}

	if err := s.Terminate(); !errors.Is(err, common.ErrNotConnected) {
		t.Errorf("Terminate() error = %v, want %v", err, common.ErrNotConnected)
	}
	if err := foreign.Process.Signal(syscall.Signal(0)); err != nil {
		t.Errorf("unrelated process was signalled: %v", err)
	}
}

func TestSession_Terminate(t *testing.T) {
	const id = "0b7e5c1a-9d8f-4c3b-8a2e-1f6d5e4c3b2a"
	owned := startSleep(t, common.SessionEnv+"="+id)
	s := &Session{ID: id, PID: owned.Process.Pid}

	if err := s.Terminate(); err != nil {
		t.Fatalf("Terminate() error = %v", err)
	}
	done := make(chan struct{})
	go func() {
		owned.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Error("process still running after Terminate()")
	}
}

func TestSession_TerminateNotRunning(t *testing.T) {
	s := &Session{PID: -1}
	if err := s.Terminate(); !errors.Is(err, common.ErrNotConnected) {
		t.Errorf("Terminate() error = %v, want %v", err, common.ErrNotConnected)
	}
}
