package cli

import (
	"bytes"
	"context"
	"errors"
	"net"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"syscall"
	"testing"
	"time"

	"github.com/yllada/pvpn/catalog"
	"github.com/yllada/pvpn/common"
	"github.com/yllada/pvpn/config"
	"github.com/yllada/pvpn/vpn"
)

type memStore map[string]string

func (m memStore) Store(username, secret string) error {
	m[username] = secret
	return nil
}

func (m memStore) Get(username string) (string, error) {
	secret, ok := m[username]
	if !ok {
		return "", common.ErrCredentialsNotFound
	}
	return secret, nil
}

func (m memStore) Delete(username string) error {
	if _, ok := m[username]; !ok {
		return common.ErrCredentialsNotFound
	}
	delete(m, username)
	return nil
}

type fakeDirectory struct {
	servers []catalog.LogicalServer
	calls   int
}

func (f *fakeDirectory) Logicals(ctx context.Context, apiBase string) ([]catalog.LogicalServer, error) {
	f.calls++
	return f.servers, nil
}

func (f *fakeDirectory) Location(ctx context.Context, apiBase string) (*catalog.Location, error) {
	return &catalog.Location{IP: "203.0.113.7", ISP: "Example ISP"}, nil
}

func testServer(name, country string, tier config.PlanTier, score float64) catalog.LogicalServer {
	return catalog.LogicalServer{
		Name:         name,
		EntryCountry: country,
		ExitCountry:  country,
		Tier:         tier,
		Status:       catalog.StatusUp,
		Score:        score,
		Load:         20,
		Servers: []catalog.PhysicalServer{
			{EntryIP: net.IPv4(108, 59, 0, 40), Status: catalog.StatusUp},
		},
	}
}

func newTestApp(t *testing.T) (*App, memStore) {
	t.Helper()
	dir := t.TempDir()
	paths := config.NewPaths(dir)
	paths.TempDir = filepath.Join(dir, "tmp")
	if err := os.Mkdir(paths.TempDir, 0700); err != nil {
		t.Fatalf("Mkdir() error = %v", err)
	}

	store := memStore{}
	app := &App{
		Paths: paths,
		Store: store,
		Directory: &fakeDirectory{servers: []catalog.LogicalServer{
			testServer("US-FREE#1", "US", config.TierFree, 3.0),
			testServer("US-FREE#2", "US", config.TierFree, 2.0),
			testServer("CH#1", "CH", config.TierPlus, 0.5),
		}},
		In: strings.NewReader(""),
	}
	return app, store
}

// initialize writes settings for a Free account with a stored password.
func initialize(t *testing.T, app *App, store memStore) {
	t.Helper()
	account := config.DefaultAccount()
	account.Username = "hybras"
	if err := config.Save(app.Paths.Settings, account); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	store["hybras"] = "shitty password"
}

const testSessionID = "0b7e5c1a-9d8f-4c3b-8a2e-1f6d5e4c3b2a"

// startSession runs sleep in place of openvpn, records it as session and
// returns a channel that receives its exit. With owned false the process
// lacks the session environment, like a recycled PID.
func startSession(t *testing.T, app *App, session *vpn.Session, owned bool) (*os.Process, <-chan error) {
	t.Helper()
	if _, err := os.Stat("/proc/self/environ"); err != nil {
		t.Skip("proc filesystem not available")
	}
	sleep, err := exec.LookPath("sleep")
	if err != nil {
		t.Skip("sleep not available")
	}

	proc := exec.Command(sleep, "30")
	if owned {
		proc.Env = append(os.Environ(), common.SessionEnv+"="+testSessionID)
	}
	if err := proc.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	exited := make(chan error, 1)
	go func() { exited <- proc.Wait() }()
	t.Cleanup(func() { proc.Process.Kill() })

	session.ID = testSessionID
	session.PID = proc.Process.Pid
	if err := vpn.SaveSession(app.Paths.Session, session); err != nil {
		t.Fatalf("SaveSession() error = %v", err)
	}
	return proc.Process, exited
}

func executeCommand(app *App, args ...string) (string, error) {
	buf := new(bytes.Buffer)
	root := NewRootCmd(app)
	root.SetOut(buf)
	root.SetErr(buf)
	root.SetArgs(args)
	err := root.Execute()
	return buf.String(), err
}

func TestVersionCommand(t *testing.T) {
	app, _ := newTestApp(t)
	out, err := executeCommand(app, "version")
	if err != nil {
		t.Fatalf("version command failed: %v", err)
	}
	if !strings.Contains(out, "pvpn version "+common.AppVersion) {
		t.Errorf("expected version output, got: %s", out)
	}
}

func TestExamplesCommand(t *testing.T) {
	app, _ := newTestApp(t)
	out, err := executeCommand(app, "examples")
	if err != nil {
		t.Fatalf("examples command failed: %v", err)
	}
	for _, want := range []string{"pvpn connect cc CH", "pvpn connect server CH#1", "pvpn disconnect", "ca.crt", "ta.key"} {
		if !strings.Contains(out, want) {
			t.Errorf("expected output to contain %q, got: %s", want, out)
		}
	}
}

func TestInitCommand(t *testing.T) {
	app, store := newTestApp(t)
	app.In = strings.NewReader("hybras\nshitty password\n2\n1\n")

	out, err := executeCommand(app, "init")
	if err != nil {
		t.Fatalf("init command failed: %v", err)
	}
	if !strings.Contains(out, "Settings saved") {
		t.Errorf("expected confirmation, got: %s", out)
	}
	for _, want := range []string{app.Paths.CACert, app.Paths.TLSAuth} {
		if !strings.Contains(out, want) {
			t.Errorf("expected init to point at %s, got: %s", want, out)
		}
	}

	account, err := config.Load(app.Paths.Settings)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if account.Username != "hybras" {
		t.Errorf("Username = %q, want %q", account.Username, "hybras")
	}
	if account.Tier != config.TierPlus {
		t.Errorf("Tier = %v, want %v", account.Tier, config.TierPlus)
	}
	if account.Protocol != config.ProtocolTCP {
		t.Errorf("Protocol = %v, want %v", account.Protocol, config.ProtocolTCP)
	}
	if store["hybras"] != "shitty password" {
		t.Errorf("stored password = %q, want %q", store["hybras"], "shitty password")
	}

	data, err := os.ReadFile(app.Paths.Settings)
	if err != nil {
		t.Fatalf("ReadFile() error = %v", err)
	}
	if strings.Contains(string(data), "shitty password") {
		t.Error("settings file must not contain the password")
	}
}

func TestInitCommand_EndOfInput(t *testing.T) {
	app, _ := newTestApp(t)
	app.In = strings.NewReader("hybras\n")

	_, err := executeCommand(app, "init")
	if !errors.Is(err, common.ErrInvalidInput) {
		t.Fatalf("init error = %v, want %v", err, common.ErrInvalidInput)
	}
	if _, err := os.Stat(app.Paths.Settings); !os.IsNotExist(err) {
		t.Error("settings should not be written after aborted init")
	}
}

func TestConfigureCommand(t *testing.T) {
	app, store := newTestApp(t)
	initialize(t, app, store)
	app.In = strings.NewReader("0\nnewname\n")

	out, err := executeCommand(app, "configure")
	if err != nil {
		t.Fatalf("configure command failed: %v", err)
	}
	if !strings.Contains(out, "set to newname") {
		t.Errorf("expected confirmation, got: %s", out)
	}

	account, err := config.Load(app.Paths.Settings)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if account.Username != "newname" {
		t.Errorf("Username = %q, want %q", account.Username, "newname")
	}
	if store["newname"] != "shitty password" {
		t.Errorf("password should move to the new username, store = %v", store)
	}
	if _, ok := store["hybras"]; ok {
		t.Error("old username should be removed from the store")
	}
}

func TestConfigureCommand_NotInitialized(t *testing.T) {
	app, _ := newTestApp(t)
	_, err := executeCommand(app, "configure")
	if !errors.Is(err, common.ErrNotInitialized) {
		t.Errorf("configure error = %v, want %v", err, common.ErrNotInitialized)
	}
}

func TestServersCommand(t *testing.T) {
	app, store := newTestApp(t)
	initialize(t, app, store)

	out, err := executeCommand(app, "servers")
	if err != nil {
		t.Fatalf("servers command failed: %v", err)
	}
	if !strings.Contains(out, "US-FREE#1") || !strings.Contains(out, "US-FREE#2") {
		t.Errorf("expected free servers in output, got: %s", out)
	}
	if strings.Contains(out, "CH#1") {
		t.Errorf("Plus server listed for a Free account: %s", out)
	}
	if strings.Index(out, "US-FREE#2") > strings.Index(out, "US-FREE#1") {
		t.Errorf("servers should be sorted by score, got: %s", out)
	}
}

func TestServersCommand_Filters(t *testing.T) {
	app, store := newTestApp(t)
	initialize(t, app, store)

	out, err := executeCommand(app, "servers", "--country", "ch")
	if err != nil {
		t.Fatalf("servers command failed: %v", err)
	}
	if !strings.Contains(out, "No servers found.") {
		t.Errorf("expected empty result, got: %s", out)
	}

	if _, err := executeCommand(app, "servers", "--feature", "warp"); err == nil {
		t.Error("expected error for unknown feature")
	}
}

func TestRefreshCommand(t *testing.T) {
	app, store := newTestApp(t)
	initialize(t, app, store)

	out, err := executeCommand(app, "refresh")
	if err != nil {
		t.Fatalf("refresh command failed: %v", err)
	}
	if !strings.Contains(out, "Fetched 3 servers, 2 available") {
		t.Errorf("unexpected output: %s", out)
	}
	if _, err := os.Stat(app.Paths.ServerCache); err != nil {
		t.Errorf("server cache not written: %v", err)
	}
}

func TestIPCommand(t *testing.T) {
	app, _ := newTestApp(t)
	out, err := executeCommand(app, "ip")
	if err != nil {
		t.Fatalf("ip command failed: %v", err)
	}
	if !strings.Contains(out, "203.0.113.7") || !strings.Contains(out, "Example ISP") {
		t.Errorf("unexpected output: %s", out)
	}
}

// fakeOpenVPN writes a shell script standing in for openvpn.
func fakeOpenVPN(t *testing.T, dir, body string) string {
	t.Helper()
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}
	path := filepath.Join(dir, "openvpn")
	if err := os.WriteFile(path, []byte("#!/bin/sh\n"+body+"\n"), 0700); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	return path
}

func TestConnectCommand(t *testing.T) {
	app, store := newTestApp(t)
	initialize(t, app, store)
	app.Binary = fakeOpenVPN(t, app.Paths.Dir, "echo 'Initialization Sequence Completed'\nsleep 1")

	out, err := executeCommand(app, "connect", "--protocol", "tcp")
	if err != nil {
		t.Fatalf("connect command failed: %v\n%s", err, out)
	}
	if !strings.Contains(out, "Connecting to US-FREE#2") {
		t.Errorf("expected fastest free server, got: %s", out)
	}
	if !strings.Contains(out, "Connected to US-FREE#2") {
		t.Errorf("expected connected message, got: %s", out)
	}
	if !strings.Contains(out, "Disconnected.") {
		t.Errorf("expected disconnected message, got: %s", out)
	}

	conf, err := os.ReadFile(app.Paths.OpenVPNConfig)
	if err != nil {
		t.Fatalf("ReadFile(config) error = %v", err)
	}
	if !strings.Contains(string(conf), "remote 108.59.0.40 443\n") {
		t.Errorf("config missing TCP remote line:\n%s", conf)
	}

	if _, err := os.Stat(app.Paths.Session); !os.IsNotExist(err) {
		t.Error("session file should be removed after openvpn exits")
	}
	staged, _ := filepath.Glob(filepath.Join(app.Paths.TempDir, "pvpn-auth-*"))
	if len(staged) != 0 {
		t.Errorf("credential files left behind: %v", staged)
	}
}

func TestConnectCommand_KeyMaterial(t *testing.T) {
	app, store := newTestApp(t)
	initialize(t, app, store)
	app.Binary = fakeOpenVPN(t, app.Paths.Dir, "echo 'Initialization Sequence Completed'")

	out, err := executeCommand(app, "connect")
	if err != nil {
		t.Fatalf("connect command failed: %v\n%s", err, out)
	}
	for _, want := range []string{app.Paths.CACert + " not found", app.Paths.TLSAuth + " not found"} {
		if !strings.Contains(out, want) {
			t.Errorf("expected output to contain %q, got: %s", want, out)
		}
	}

	if err := os.WriteFile(app.Paths.CACert, []byte("-----BEGIN CERTIFICATE-----\n"), 0600); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	if err := os.WriteFile(app.Paths.TLSAuth, []byte("-----BEGIN OpenVPN Static key V1-----\n"), 0600); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	out, err = executeCommand(app, "connect")
	if err != nil {
		t.Fatalf("connect command failed: %v\n%s", err, out)
	}
	if strings.Contains(out, "not found") {
		t.Errorf("unexpected key material warning: %s", out)
	}
}

func TestConnectCommand_HealthStopsBeforeDisconnect(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen() error = %v", err)
	}
	deadHost := ln.Addr().String()
	ln.Close()

	app, store := newTestApp(t)
	initialize(t, app, store)
	app.Binary = fakeOpenVPN(t, app.Paths.Dir, "echo 'Initialization Sequence Completed'\nsleep 1")
	app.Health = &vpn.HealthConfig{
		CheckInterval:    10 * time.Millisecond,
		FailureThreshold: 1,
		Timeout:          100 * time.Millisecond,
		TestHosts:        []string{deadHost},
	}

	out, err := executeCommand(app, "connect")
	if err != nil {
		t.Fatalf("connect command failed: %v\n%s", err, out)
	}
	if !strings.Contains(out, "Tunnel looks down") {
		t.Errorf("expected health warning, got: %s", out)
	}
	if !strings.HasSuffix(out, "Disconnected.\n") {
		t.Errorf("output should end with the disconnect line, got: %s", out)
	}
}

func TestConnectCommand_AuthFailed(t *testing.T) {
	app, store := newTestApp(t)
	initialize(t, app, store)
	app.Binary = fakeOpenVPN(t, app.Paths.Dir, "echo 'AUTH: Received control message: AUTH_FAILED'\nexec sleep 5")

	_, err := executeCommand(app, "connect", "cc", "us")
	if !errors.Is(err, common.ErrAuthFailed) {
		t.Fatalf("connect error = %v, want %v", err, common.ErrAuthFailed)
	}
	staged, _ := filepath.Glob(filepath.Join(app.Paths.TempDir, "pvpn-auth-*"))
	if len(staged) != 0 {
		t.Errorf("credential files left behind: %v", staged)
	}
}

func TestConnectCommand_Errors(t *testing.T) {
	tests := []struct {
		name string
		args []string
		want error
	}{
		{"unknown server", []string{"connect", "server", "NOPE#9"}, common.ErrNamedServerNotFound},
		{"server above tier", []string{"connect", "server", "CH#1"}, common.ErrNamedServerNotFound},
		{"no tor servers", []string{"connect", "tor"}, common.ErrNoMatchingServer},
		{"bad protocol", []string{"connect", "-p", "icmp"}, common.ErrInvalidInput},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			app, store := newTestApp(t)
			initialize(t, app, store)
			app.Binary = filepath.Join(app.Paths.Dir, "missing-openvpn")

			_, err := executeCommand(app, tt.args...)
			if !errors.Is(err, tt.want) {
				t.Errorf("connect error = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestConnectCommand_MissingPassword(t *testing.T) {
	app, store := newTestApp(t)
	initialize(t, app, store)
	delete(store, "hybras")

	_, err := executeCommand(app, "connect")
	if !errors.Is(err, common.ErrCredentialsNotFound) {
		t.Errorf("connect error = %v, want %v", err, common.ErrCredentialsNotFound)
	}
}

func TestConnectCommand_AlreadyConnected(t *testing.T) {
	app, store := newTestApp(t)
	initialize(t, app, store)
	startSession(t, app, &vpn.Session{Server: "US-FREE#1", ConnectedAt: time.Now()}, true)

	_, err := executeCommand(app, "connect")
	if !errors.Is(err, common.ErrAlreadyConnected) {
		t.Errorf("connect error = %v, want %v", err, common.ErrAlreadyConnected)
	}
}

func TestStatusCommand_NotConnected(t *testing.T) {
	app, store := newTestApp(t)
	initialize(t, app, store)

	out, err := executeCommand(app, "status")
	if err != nil {
		t.Fatalf("status command failed: %v", err)
	}
	if !strings.Contains(out, "Not connected.") {
		t.Errorf("expected not connected, got: %s", out)
	}
	if !strings.Contains(out, "hybras") {
		t.Errorf("expected account summary, got: %s", out)
	}
	if strings.Contains(out, "shitty password") {
		t.Errorf("status must not print the password: %s", out)
	}
}

func TestStatusCommand_Connected(t *testing.T) {
	app, _ := newTestApp(t)
	startSession(t, app, &vpn.Session{
		Server:      "CH#1",
		Country:     "CH",
		Protocol:    config.ProtocolUDP,
		ConnectedAt: time.Now().Add(-90 * time.Second),
	}, true)

	out, err := executeCommand(app, "status")
	if err != nil {
		t.Fatalf("status command failed: %v", err)
	}
	for _, want := range []string{"CH#1", "port 1194", "1m 30s", testSessionID} {
		if !strings.Contains(out, want) {
			t.Errorf("expected output to contain %q, got: %s", want, out)
		}
	}
}

func TestDisconnectCommand(t *testing.T) {
	app, _ := newTestApp(t)
	_, exited := startSession(t, app, &vpn.Session{Server: "CH#1", ConnectedAt: time.Now()}, true)

	out, err := executeCommand(app, "disconnect")
	if err != nil {
		t.Fatalf("disconnect command failed: %v", err)
	}
	if !strings.Contains(out, "Disconnected from CH#1") {
		t.Errorf("unexpected output: %s", out)
	}

	select {
	case <-exited:
	case <-time.After(5 * time.Second):
		t.Fatal("process was not terminated")
	}
	if _, err := os.Stat(app.Paths.Session); !os.IsNotExist(err) {
		t.Error("session file should be removed")
	}
}

func TestDisconnectCommand_RecycledPID(t *testing.T) {
	app, _ := newTestApp(t)
	proc, exited := startSession(t, app, &vpn.Session{Server: "CH#1", ConnectedAt: time.Now()}, false)

	if _, err := executeCommand(app, "disconnect"); err != nil {
		t.Fatalf("disconnect command failed: %v", err)
	}

	select {
	case err := <-exited:
		t.Fatalf("unrelated process was terminated: %v", err)
	case <-time.After(200 * time.Millisecond):
	}
	if err := proc.Signal(syscall.Signal(0)); err != nil {
		t.Errorf("unrelated process is gone: %v", err)
	}
	if _, err := os.Stat(app.Paths.Session); !os.IsNotExist(err) {
		t.Error("stale session file should be removed")
	}
}

func TestStatusCommand_RecycledPID(t *testing.T) {
	app, _ := newTestApp(t)
	startSession(t, app, &vpn.Session{Server: "CH#1", ConnectedAt: time.Now()}, false)

	out, err := executeCommand(app, "status")
	if err != nil {
		t.Fatalf("status command failed: %v", err)
	}
	if !strings.Contains(out, "no longer running") {
		t.Errorf("expected stale session warning, got: %s", out)
	}
	if _, err := os.Stat(app.Paths.Session); !os.IsNotExist(err) {
		t.Error("stale session file should be removed")
	}
}

func TestDisconnectCommand_NotConnected(t *testing.T) {
	app, _ := newTestApp(t)
	_, err := executeCommand(app, "disconnect")
	if !errors.Is(err, common.ErrNotConnected) {
		t.Errorf("disconnect error = %v, want %v", err, common.ErrNotConnected)
	}
}

func TestFormatDuration(t *testing.T) {
	tests := []struct {
		d        time.Duration
		expected string
	}{
		{0, "0s"},
		{45 * time.Second, "45s"},
		{90 * time.Second, "1m 30s"},
		{2*time.Hour + 5*time.Minute + 3*time.Second, "2h 5m 3s"},
	}

	for _, tt := range tests {
		t.Run(tt.expected, func(t *testing.T) {
			if got := formatDuration(tt.d); got != tt.expected {
				t.Errorf("formatDuration(%v) = %q, want %q", tt.d, got, tt.expected)
			}
		})
	}
}

type recordingNotifier struct {
	events []string
}

func (r *recordingNotifier) Connected(server string) {
	r.events = append(r.events, "connected "+server)
}
func (r *recordingNotifier) Disconnected(server string) {
	r.events = append(r.events, "disconnected "+server)
}
func (r *recordingNotifier) Failed(server string, err error) {
	r.events = append(r.events, "failed "+server)
}

func TestConnectCommand_Notify(t *testing.T) {
	app, store := newTestApp(t)
	initialize(t, app, store)
	app.Binary = fakeOpenVPN(t, app.Paths.Dir, "echo 'Initialization Sequence Completed'")
	rec := &recordingNotifier{}
	app.Notifier = rec

	if _, err := executeCommand(app, "connect", "server", "US-FREE#1", "--notify"); err != nil {
		t.Fatalf("connect command failed: %v", err)
	}
	want := "connected US-FREE#1,disconnected US-FREE#1"
	if got := strings.Join(rec.events, ","); got != want {
		t.Errorf("events = %q, want %q", got, want)
	}

	rec.events = nil
	if _, err := executeCommand(app, "connect", "server", "US-FREE#1"); err != nil {
		t.Fatalf("connect command failed: %v", err)
	}
	if len(rec.events) != 0 {
		t.Errorf("events without --notify = %v, want none", rec.events)
	}
}
