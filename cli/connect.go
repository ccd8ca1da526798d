package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"sync"

	"github.com/spf13/cobra"

	"github.com/yllada/pvpn/common"
	"github.com/yllada/pvpn/config"
	"github.com/yllada/pvpn/vpn"
)

func newConnectCmd(app *App) *cobra.Command {
	var protocol string
	var notify bool

	run := func(req func(args []string) vpn.Request) func(cmd *cobra.Command, args []string) error {
		return func(cmd *cobra.Command, args []string) error {
			return app.connect(cmd, req(args), protocol, notify)
		}
	}
	fixed := func(r vpn.Request) func([]string) vpn.Request {
		return func([]string) vpn.Request { return r }
	}

	cmd := &cobra.Command{
		Use:   "connect",
		Short: "Connect to a server (the fastest one by default)",
		Long: `Picks a server available to your plan, writes the OpenVPN config and
runs openvpn in the foreground. Press Ctrl+C or run "pvpn disconnect"
from another terminal to end the connection.`,
		Args: cobra.NoArgs,
		RunE: run(fixed(vpn.Fastest())),
	}
	cmd.PersistentFlags().StringVarP(&protocol, "protocol", "p", "", "udp or tcp (default from settings)")
	cmd.PersistentFlags().BoolVar(&notify, "notify", false, "show desktop notifications")

	cmd.AddCommand(
		&cobra.Command{
			Use:   "fastest",
			Short: "Connect to the server with the best score",
			Args:  cobra.NoArgs,
			RunE:  run(fixed(vpn.Fastest())),
		},
		&cobra.Command{
			Use:   "random",
			Short: "Connect to a random server",
			Args:  cobra.NoArgs,
			RunE:  run(fixed(vpn.Random())),
		},
		&cobra.Command{
			Use:     "cc <country-code>",
			Aliases: []string{"country"},
			Short:   "Connect to the fastest server in a country",
			Args:    cobra.ExactArgs(1),
			RunE:    run(func(args []string) vpn.Request { return vpn.Country(args[0]) }),
		},
		&cobra.Command{
			Use:     "sc",
			Aliases: []string{"secure-core"},
			Short:   "Connect to the fastest Secure-Core server",
			Args:    cobra.NoArgs,
			RunE:    run(fixed(vpn.SecureCore())),
		},
		&cobra.Command{
			Use:   "p2p",
			Short: "Connect to the fastest P2P server",
			Args:  cobra.NoArgs,
			RunE:  run(fixed(vpn.P2P())),
		},
		&cobra.Command{
			Use:   "tor",
			Short: "Connect to the fastest Tor server",
			Args:  cobra.NoArgs,
			RunE:  run(fixed(vpn.Tor())),
		},
		&cobra.Command{
			Use:   "server <name>",
			Short: "Connect to a server by name, e.g. CH#1",
			Args:  cobra.ExactArgs(1),
			RunE:  run(func(args []string) vpn.Request { return vpn.Server(args[0]) }),
		},
	)
	return cmd
}

// connect runs one connection and blocks until openvpn exits or the
// command context is cancelled.
func (a *App) connect(cmd *cobra.Command, req vpn.Request, protocolFlag string, notify bool) error {
	ctx := cmd.Context()
	out := cmd.OutOrStdout()
	notifier := a.notifier(notify)

	account, err := a.loadAccount()
	if err != nil {
		return err
	}

	protocol := account.Protocol
	if protocolFlag != "" {
		if protocol, err = config.ParseProtocol(protocolFlag); err != nil {
			return err
		}
	}

	if session, err := vpn.LoadSession(a.Paths.Session); err == nil {
		if session.Alive() {
			return fmt.Errorf("%w to %s (PID %d), run `pvpn disconnect` first",
				common.ErrAlreadyConnected, session.Server, session.PID)
		}
		common.LogWarn("Removing stale session for %s", session.Server)
		if err := vpn.ClearSession(a.Paths.Session); err != nil {
			return err
		}
	}

	server, err := vpn.NewResolver(a.catalog()).Resolve(ctx, req, account)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "Connecting to %s (%s, load %d%%) over %s...\n",
		server.Name, server.ExitCountry, server.Load, protocol)

	for _, path := range missingKeyMaterial(a.Paths) {
		printWarn(out, "%s not found, the config is written without it", path)
	}

	supervisor := vpn.NewSupervisor(a.Paths)
	if a.Binary != "" {
		supervisor.Binary = a.Binary
	}
	handle, err := supervisor.Connect(server, protocol, account, a.Paths.OpenVPNConfig, a.Paths.OpenVPNLog)
	if err != nil {
		if errors.Is(err, common.ErrSpawn) && errors.Is(err, exec.ErrNotFound) {
			printWarn(out, "openvpn was not found. Install it with your package manager and try again.")
		}
		return err
	}
	defer handle.Close()

	readyCtx, cancel := context.WithTimeout(ctx, common.ConnectionTimeout)
	err = handle.WaitReady(readyCtx)
	cancel()
	if err != nil {
		if stopErr := handle.Stop(); stopErr != nil {
			common.LogError("Failed to stop openvpn: %v", stopErr)
		}
		if ctx.Err() != nil {
			fmt.Fprintln(out, "Cancelled.")
			return nil
		}
		notifier.Failed(server.Name, err)
		return err
	}

	if err := vpn.SaveSession(a.Paths.Session, vpn.NewSession(handle)); err != nil {
		common.LogWarn("Could not record session: %v", err)
	}
	defer func() {
		if err := vpn.ClearSession(a.Paths.Session); err != nil {
			common.LogWarn("Could not clear session: %v", err)
		}
	}()

	printSuccess(out, "Connected to %s", server.Name)
	notifier.Connected(server.Name)
	defer notifier.Disconnected(server.Name)

	stopHealth := func() {}
	if a.Health != nil {
		checker := vpn.NewHealthChecker(*a.Health)
		checker.SetOnHealthChange(func(_, newState vpn.HealthState) {
			if newState == vpn.HealthUnhealthy {
				printWarn(out, "Tunnel looks down, check %s", a.Paths.OpenVPNLog)
			}
		})
		healthCtx, cancelHealth := context.WithCancel(ctx)
		var wg sync.WaitGroup
		wg.Add(1)
		go func() {
			defer wg.Done()
			checker.Run(healthCtx)
		}()
		// The checker writes to out and must be gone before the final line.
		stopHealth = func() {
			cancelHealth()
			wg.Wait()
		}
	}

	select {
	case <-handle.Done():
		stopHealth()
		if err := handle.Wait(); err != nil {
			return fmt.Errorf("%w: openvpn exited: %w", common.ErrConnectionFailed, err)
		}
		fmt.Fprintln(out, "Disconnected.")
		return nil
	case <-ctx.Done():
		stopHealth()
		if err := handle.Stop(); err != nil {
			return err
		}
		fmt.Fprintln(out, "Disconnected.")
		return nil
	}
}

// missingKeyMaterial returns the CA certificate and tls-auth key paths
// that do not exist. openvpn cannot verify the server without them.
func missingKeyMaterial(paths config.Paths) []string {
	var missing []string
	for _, path := range []string{paths.CACert, paths.TLSAuth} {
		if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
			missing = append(missing, path)
		}
	}
	return missing
}
