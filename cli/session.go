package cli

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/yllada/pvpn/common"
	"github.com/yllada/pvpn/config"
	"github.com/yllada/pvpn/vpn"
)

func newStatusCmd(app *App) *cobra.Command {
	var check bool

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the current connection",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			w := cmd.OutOrStdout()

			session, err := vpn.LoadSession(app.Paths.Session)
			if errors.Is(err, common.ErrNotConnected) {
				fmt.Fprintln(w, "Not connected.")
				if account, err := config.Load(app.Paths.Settings); err == nil {
					fmt.Fprintln(w)
					accountSummary(cmd, account)
				}
				return nil
			}
			if err != nil {
				return err
			}

			if !session.Alive() {
				common.LogInfo("Session %s (PID %d) is gone, clearing it", session.ID, session.PID)
				printWarn(w, "openvpn (PID %d) is no longer running, removing stale session", session.PID)
				return vpn.ClearSession(app.Paths.Session)
			}

			printField(w, "Server", session.Server)
			if session.Country != "" {
				printField(w, "Country", session.Country)
			}
			printField(w, "Protocol", fmt.Sprintf("%s (port %d)", session.Protocol, session.Protocol.Port()))
			printField(w, "PID", session.PID)
			printField(w, "Session", session.ID)
			printField(w, "Uptime", formatDuration(session.Uptime()))

			if check {
				cfg := vpn.DefaultHealthConfig()
				if app.Health != nil {
					cfg = *app.Health
				}
				checker := vpn.NewHealthChecker(cfg)
				health := checker.Check(cmd.Context())
				printField(w, "Health", health.State)
				if health.State == vpn.HealthHealthy {
					printField(w, "Latency", health.Latency.Round(time.Millisecond))
				}
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&check, "check", false, "check the tunnel once")
	return cmd
}

func newDisconnectCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "disconnect",
		Short: "End the current connection",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			session, err := vpn.LoadSession(app.Paths.Session)
			if err != nil {
				return err
			}

			if err := session.Terminate(); err != nil {
				if !errors.Is(err, common.ErrNotConnected) {
					return err
				}
				common.LogWarn("openvpn (PID %d, session %s) was not running", session.PID, session.ID)
			}
			if err := vpn.ClearSession(app.Paths.Session); err != nil {
				return err
			}

			printSuccess(cmd.OutOrStdout(), "Disconnected from %s", session.Server)
			return nil
		},
	}
}
