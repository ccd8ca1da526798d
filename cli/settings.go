package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/yllada/pvpn/common"
	"github.com/yllada/pvpn/config"
	"github.com/yllada/pvpn/settings"
)

func newInitCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Set username, password, plan tier and protocol",
		Long: `Prompts for every required setting and saves them. The password is
kept in the system keyring, or in an encrypted file when no keyring is
available. Existing settings are overwritten.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			account, err := config.Load(app.Paths.Settings)
			if err != nil {
				if !errors.Is(err, common.ErrNotInitialized) {
					common.LogWarn("Ignoring existing settings: %v", err)
				}
				account = config.DefaultAccount()
			}

			editor := settings.NewEditor(settings.NewLineTerminal(app.input(), cmd.OutOrStdout()), account)
			if err := editor.Initialize(); err != nil {
				return err
			}
			if err := app.saveAccount(account); err != nil {
				return err
			}

			w := cmd.OutOrStdout()
			printSuccess(w, "Settings saved to %s", app.Paths.Settings)
			if missing := missingKeyMaterial(app.Paths); len(missing) > 0 {
				fmt.Fprintln(w, "Place the ProtonVPN CA certificate and tls-auth key here before connecting:")
				for _, path := range missing {
					fmt.Fprintf(w, "  %s\n", path)
				}
			}
			return nil
		},
	}
}

func newConfigureCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "configure",
		Short: "Change one setting",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			account, err := config.Load(app.Paths.Settings)
			if err != nil {
				return err
			}
			oldUsername := account.Username
			if secret, err := app.store().Get(account.Username); err == nil {
				account.Password = secret
			} else if !errors.Is(err, common.ErrCredentialsNotFound) {
				return err
			}

			editor := settings.NewEditor(settings.NewLineTerminal(app.input(), cmd.OutOrStdout()), account)
			field, err := editor.Configure()
			if err != nil {
				return err
			}
			if err := app.saveAccount(account); err != nil {
				return err
			}

			if oldUsername != account.Username && oldUsername != "" {
				if err := app.store().Delete(oldUsername); err != nil && !errors.Is(err, common.ErrCredentialsNotFound) {
					common.LogWarn("Could not remove password of %s: %v", oldUsername, err)
				}
			}

			printSuccess(cmd.OutOrStdout(), "%s set to %s", field.Name(), field.Current())
			return nil
		},
	}
}

// accountSummary prints the non-secret settings.
func accountSummary(cmd *cobra.Command, account *config.Account) {
	w := cmd.OutOrStdout()
	printField(w, "Username", account.Username)
	printField(w, "Tier", account.Tier)
	printField(w, "Protocol", fmt.Sprintf("%s (port %d)", account.Protocol, account.Protocol.Port()))
	printField(w, "DNS leak", account.DNSLeakProtection)
	printField(w, "Split", account.SplitTunnel)
}
