package cli

import (
	"fmt"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/yllada/pvpn/catalog"
	"github.com/yllada/pvpn/config"
	"github.com/yllada/pvpn/vpn"
)

func newRefreshCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "refresh",
		Short: "Download the server list now",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			account, err := config.Load(app.Paths.Settings)
			if err != nil {
				return err
			}

			cat := app.catalog()
			if err := cat.Refresh(cmd.Context(), account); err != nil {
				return err
			}
			snap := cat.Snapshot()
			printSuccess(cmd.OutOrStdout(), "Fetched %d servers, %d available to your plan",
				len(snap.Servers), len(catalog.Filter(snap.Servers, account.Tier)))
			return nil
		},
	}
}

func newServersCmd(app *App) *cobra.Command {
	var country string
	var feature string

	cmd := &cobra.Command{
		Use:   "servers",
		Short: "List servers available to your plan",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			account, err := config.Load(app.Paths.Settings)
			if err != nil {
				return err
			}

			servers, err := app.catalog().Servers(cmd.Context(), account)
			if err != nil {
				return err
			}

			keep, err := serverFilter(country, feature)
			if err != nil {
				return err
			}

			var rows []catalog.LogicalServer
			for _, s := range servers {
				if keep(s) {
					rows = append(rows, s)
				}
			}
			sort.SliceStable(rows, func(i, j int) bool { return rows[i].Score < rows[j].Score })

			if len(rows) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No servers found.")
				return nil
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "NAME\tCOUNTRY\tCITY\tTIER\tLOAD\tSCORE\tFEATURES")
			fmt.Fprintln(w, "----\t-------\t----\t----\t----\t-----\t--------")
			for _, s := range rows {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d%%\t%.2f\t%s\n",
					s.Name, s.ExitCountry, dash(s.City), s.Tier, s.Load, s.Score, features(s))
			}
			return w.Flush()
		},
	}

	cmd.Flags().StringVarP(&country, "country", "c", "", "only servers in this country (2-letter code)")
	cmd.Flags().StringVarP(&feature, "feature", "f", "", "only servers with a feature: sc, p2p or tor")
	return cmd
}

func serverFilter(country, feature string) (func(catalog.LogicalServer) bool, error) {
	var byFeature func(catalog.LogicalServer) bool
	switch strings.ToLower(feature) {
	case "":
		byFeature = func(catalog.LogicalServer) bool { return true }
	case "sc", "secure-core":
		byFeature = vpn.IsSecureCore
	case "p2p":
		byFeature = vpn.IsP2P
	case "tor":
		byFeature = vpn.IsTor
	default:
		return nil, fmt.Errorf("unknown feature %q, want sc, p2p or tor", feature)
	}

	return func(s catalog.LogicalServer) bool {
		if country != "" && !strings.EqualFold(s.ExitCountry, country) && !strings.EqualFold(s.EntryCountry, country) {
			return false
		}
		return byFeature(s)
	}, nil
}

func features(s catalog.LogicalServer) string {
	var out []string
	if vpn.IsSecureCore(s) {
		out = append(out, "Secure-Core")
	}
	if vpn.IsP2P(s) {
		out = append(out, "P2P")
	}
	if vpn.IsTor(s) {
		out = append(out, "Tor")
	}
	return dash(strings.Join(out, ","))
}

func dash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func newIPCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "ip",
		Short: "Show the public IP address and ISP",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			apiBase := config.DefaultAccount().APIBase
			if account, err := config.Load(app.Paths.Settings); err == nil {
				apiBase = account.APIBase
			}

			loc, err := app.directory().Location(cmd.Context(), apiBase)
			if err != nil {
				return err
			}
			printField(cmd.OutOrStdout(), "IP", loc.IP)
			printField(cmd.OutOrStdout(), "ISP", dash(loc.ISP))
			return nil
		},
	}
}
