// Package cli provides the pvpn command-line interface.
package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/yllada/pvpn/catalog"
	"github.com/yllada/pvpn/common"
	"github.com/yllada/pvpn/config"
	"github.com/yllada/pvpn/keyring"
	"github.com/yllada/pvpn/notify"
	"github.com/yllada/pvpn/vpn"
)

// Directory is the remote API the commands use. *catalog.Client
// implements it.
type Directory interface {
	catalog.Fetcher
	Location(ctx context.Context, apiBase string) (*catalog.Location, error)
}

// Notifier announces connection events.
type Notifier interface {
	Connected(server string)
	Disconnected(server string)
	Failed(server string, err error)
}

type nopNotifier struct{}

func (nopNotifier) Connected(string)     {}
func (nopNotifier) Disconnected(string)  {}
func (nopNotifier) Failed(string, error) {}

// App holds what the commands share. Zero fields fall back to defaults
// built from Paths.
type App struct {
	Paths     config.Paths
	Store     common.CredentialStore
	Directory Directory
	In        io.Reader
	// Binary overrides the OpenVPN executable.
	Binary string
	// Health enables tunnel checks while connected.
	Health *vpn.HealthConfig
	// LogToFile writes the application log under Paths.Logs.
	LogToFile bool
	// Notifier receives connection events when connect runs with --notify.
	Notifier Notifier

	verbose   bool
	configDir string
}

// New returns an App using the files under paths.
func New(paths config.Paths) *App {
	health := vpn.DefaultHealthConfig()
	return &App{
		Paths:     paths,
		In:        os.Stdin,
		Health:    &health,
		LogToFile: true,
	}
}

func (a *App) store() common.CredentialStore {
	if a.Store == nil {
		a.Store = keyring.New(a.Paths.Credentials)
	}
	return a.Store
}

func (a *App) directory() Directory {
	if a.Directory == nil {
		a.Directory = catalog.NewClient(nil)
	}
	return a.Directory
}

func (a *App) notifier(enabled bool) Notifier {
	if !enabled {
		return nopNotifier{}
	}
	if a.Notifier == nil {
		a.Notifier = notify.NewDesktop()
	}
	return a.Notifier
}

func (a *App) input() io.Reader {
	if a.In == nil {
		return os.Stdin
	}
	return a.In
}

func (a *App) catalog() *catalog.Catalog {
	return catalog.New(a.directory(), a.Paths.ServerCache)
}

// loadAccount reads the settings and the password from the credential store.
func (a *App) loadAccount() (*config.Account, error) {
	account, err := config.Load(a.Paths.Settings)
	if err != nil {
		return nil, err
	}

	secret, err := a.store().Get(account.Username)
	if err != nil {
		if errors.Is(err, common.ErrCredentialsNotFound) {
			return nil, fmt.Errorf("no password stored for %s, run `pvpn configure`: %w", account.Username, err)
		}
		return nil, err
	}
	common.AddSecret(secret)
	account.Password = secret
	return account, nil
}

// saveAccount writes the settings and stores the password.
func (a *App) saveAccount(account *config.Account) error {
	if err := config.Save(a.Paths.Settings, account); err != nil {
		return err
	}
	if account.Password == "" {
		return nil
	}
	common.AddSecret(account.Password)
	if err := a.store().Store(account.Username, account.Password); err != nil {
		return fmt.Errorf("%w: %w", common.ErrCredentialStorage, err)
	}
	return nil
}

// NewRootCmd builds the command tree for app.
func NewRootCmd(app *App) *cobra.Command {
	root := &cobra.Command{
		Use:   "pvpn",
		Short: "Connect to ProtonVPN servers with OpenVPN",
		Long: `pvpn picks a ProtonVPN server for your plan, writes an OpenVPN
configuration for it and runs openvpn. Run "pvpn init" once to store
your OpenVPN username, password, plan and preferred protocol.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return app.setup()
		},
	}

	root.PersistentFlags().BoolVarP(&app.verbose, "verbose", "v", false, "enable debug logging")
	root.PersistentFlags().StringVar(&app.configDir, "config-dir", "", "configuration directory (default is ~/.config/pvpn)")

	root.AddCommand(
		newInitCmd(app),
		newConfigureCmd(app),
		newConnectCmd(app),
		newRefreshCmd(app),
		newServersCmd(app),
		newIPCmd(app),
		newStatusCmd(app),
		newDisconnectCmd(app),
		newExamplesCmd(),
		newVersionCmd(),
	)
	return root
}

func (a *App) setup() error {
	if a.configDir != "" {
		a.Paths = config.NewPaths(a.configDir)
	}
	if err := common.EnsureDir(a.Paths.Dir); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	level := common.LevelInfo
	if a.verbose {
		level = common.LevelDebug
	}
	if err := common.InitLogger(common.LogConfig{
		Level:       level,
		EnableFile:  a.LogToFile,
		Dir:         a.Paths.Logs,
		MaxFileSize: 5 * 1024 * 1024, // 5MB
		MaxBackups:  5,
	}); err != nil {
		common.LogWarn("Could not enable file logging: %v", err)
	}
	return nil
}

// Execute runs the command line against app until ctx is cancelled.
func Execute(ctx context.Context, app *App, args []string) error {
	root := NewRootCmd(app)
	root.SetArgs(args)
	return root.ExecuteContext(ctx)
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show the pvpn version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Fprintf(cmd.OutOrStdout(), "%s version %s\n", common.AppName, common.AppVersion)
			if common.BuildTime != "unknown" {
				fmt.Fprintf(cmd.OutOrStdout(), "  Build:  %s\n", common.BuildTime)
				fmt.Fprintf(cmd.OutOrStdout(), "  Commit: %s\n", common.CommitSHA)
			}
			return nil
		},
	}
}

func newExamplesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "examples",
		Short: "Show example commands",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Fprint(cmd.OutOrStdout(), examplesText)
			return nil
		},
	}
}

const examplesText = `Examples:
  pvpn init                     store username, password, plan and protocol
  pvpn configure                change one setting
  pvpn connect                  connect to the fastest server
  pvpn connect fastest -p tcp   fastest server over TCP
  pvpn connect random           a random server
  pvpn connect cc CH            fastest server in Switzerland
  pvpn connect sc               fastest Secure-Core server
  pvpn connect p2p              fastest P2P server
  pvpn connect tor              fastest Tor server
  pvpn connect server CH#1      a server by name
  pvpn servers --country US     list servers available to your plan
  pvpn refresh                  re-download the server list
  pvpn ip                       show your public IP
  pvpn status                   show the current connection
  pvpn disconnect               end the current connection

The ProtonVPN CA certificate and tls-auth key are not bundled. Copy them
to ca.crt and ta.key in the config directory; they are inlined into the
OpenVPN config on every connect.
`

// formatDuration formats a duration in a human-readable format.
func formatDuration(d time.Duration) string {
	hours := int(d.Hours())
	minutes := int(d.Minutes()) % 60
	seconds := int(d.Seconds()) % 60

	if hours > 0 {
		return fmt.Sprintf("%dh %dm %ds", hours, minutes, seconds)
	}
	if minutes > 0 {
		return fmt.Sprintf("%dm %ds", minutes, seconds)
	}
	return fmt.Sprintf("%ds", seconds)
}
