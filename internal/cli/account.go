package cli

import (
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"tradegate/internal/store"
)

// newAccountCmd groups the account-linking commands.
func newAccountCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "account",
		Short: "Link and manage broker accounts",
	}
	cmd.AddCommand(
		newAccountLinkCmd(app),
		newAccountListCmd(app),
		newAccountUnlinkCmd(app),
	)
	return cmd
}

func newAccountLinkCmd(app *App) *cobra.Command {
	var credFile string
	var label string
	var skipValidation bool

	cmd := &cobra.Command{
		Use:   "link <broker-id> <account-id>",
		Short: "Link a broker account from a credential JSON file",
		Long: `Link a broker account. Credentials are read from the given JSON file,
validated against the broker with a stateless probe, then stored
encrypted. The file's expected fields depend on the broker:

  angelone: apiKey, clientCode, password, totpKey
  dhan:     clientId, accessToken
  fyers:    appId, appSecret, authCode`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			brokerID, accountID := args[0], args[1]
			out := NewOutput(cmd)

			if app.Creds == nil {
				return fmt.Errorf("credential encryption unavailable: set TRADEGATE_CRYPTO_KEY")
			}

			client, err := app.Registry.Get(brokerID)
			if err != nil {
				return err
			}

			raw, err := os.ReadFile(credFile)
			if err != nil {
				return fmt.Errorf("reading credential file: %w", err)
			}

			if !skipValidation {
				if err := client.ValidateCredentials(cmd.Context(), raw); err != nil {
					return fmt.Errorf("credential validation failed: %w", err)
				}
				out.Success("✓ Credentials validated with %s", brokerID)
			}

			sealed, err := app.Creds.Seal(raw)
			if err != nil {
				return fmt.Errorf("encrypting credentials: %w", err)
			}

			account := &store.BrokerAccount{
				ID:            accountID,
				BrokerID:      brokerID,
				Label:         label,
				EncryptedCred: sealed,
				Verified:      !skipValidation,
			}
			if err := app.Store.SaveAccount(cmd.Context(), account); err != nil {
				return fmt.Errorf("saving account: %w", err)
			}

			out.Success("✓ Account %s linked to %s", accountID, brokerID)
			return nil
		},
	}

	cmd.Flags().StringVarP(&credFile, "credentials", "c", "", "path to credential JSON file (required)")
	cmd.Flags().StringVarP(&label, "label", "l", "", "display label for the account")
	cmd.Flags().BoolVar(&skipValidation, "skip-validation", false, "store without probing the broker")
	cmd.MarkFlagRequired("credentials")
	return cmd
}

func newAccountListCmd(app *App) *cobra.Command {
	var brokerID string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List linked broker accounts",
		RunE: func(cmd *cobra.Command, args []string) error {
			out := NewOutput(cmd)

			accounts, err := app.Store.ListAccounts(cmd.Context(), brokerID)
			if err != nil {
				return err
			}

			if out.IsJSON() {
				type accountView struct {
					ID       string `json:"id"`
					BrokerID string `json:"brokerId"`
					Label    string `json:"label,omitempty"`
					Verified bool   `json:"verified"`
				}
				views := make([]accountView, 0, len(accounts))
				for _, a := range accounts {
					views = append(views, accountView{a.ID, a.BrokerID, a.Label, a.Verified})
				}
				return out.JSON(views)
			}

			if len(accounts) == 0 {
				out.Dim("No linked accounts")
				return nil
			}

			color.Cyan("Linked accounts")
			for _, a := range accounts {
				status := out.Green("verified")
				if !a.Verified {
					status = out.Red("unverified")
				}
				out.Printf("  %-20s %-10s %-20s %s\n", a.ID, a.BrokerID, a.Label, status)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&brokerID, "broker", "b", "", "filter by broker id")
	return cmd
}

func newAccountUnlinkCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "unlink <account-id>",
		Short: "Remove a linked account and its stored credentials",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := NewOutput(cmd)
			if err := app.Store.DeleteAccount(cmd.Context(), args[0]); err != nil {
				return err
			}
			out.Success("✓ Account %s unlinked", args[0])
			return nil
		},
	}
}

// newBrokersCmd lists the configured adapters and their capabilities.
func newBrokersCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "brokers",
		Short: "List configured brokers and their capabilities",
		RunE: func(cmd *cobra.Command, args []string) error {
			out := NewOutput(cmd)

			ids := app.Registry.IDs()
			if out.IsJSON() {
				result := make(map[string][]string, len(ids))
				for _, id := range ids {
					client, err := app.Registry.Get(id)
					if err != nil {
						return err
					}
					var caps []string
					for _, c := range client.Capabilities().List() {
						caps = append(caps, string(c))
					}
					result[id] = caps
				}
				return out.JSON(result)
			}

			color.Cyan("Configured brokers")
			for _, id := range ids {
				client, err := app.Registry.Get(id)
				if err != nil {
					return err
				}
				out.Printf("  %-10s", id)
				for _, c := range client.Capabilities().List() {
					out.Printf(" %s", c)
				}
				out.Println()
			}
			return nil
		},
	}
}
