package main

import (
	"fmt"
	"log/slog"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/opendut/carl-auth/settings"
	"github.com/opendut/carl-auth/storage"
	"github.com/opendut/carl-auth/storage/valkey"
)

// openStore connects to the Valkey client registry when storage.valkey.address
// is set. It returns a nil store otherwise.
func openStore(v *viper.Viper, logger *slog.Logger) (*valkey.Store, error) {
	address := v.GetString(settings.KeyStoreAddress)
	if address == "" {
		return nil, nil
	}
	store, err := valkey.New(valkey.Config{
		Address:   address,
		Password:  v.GetString(settings.KeyStorePassword),
		DB:        v.GetInt(settings.KeyStoreDB),
		KeyPrefix: v.GetString(settings.KeyStorePrefix),
		// the registry never issues cached reads
		DisableCache: true,
		Logger:       logger,
	})
	if err != nil {
		return nil, &configError{fmt.Errorf("client registry: %w", err)}
	}
	return store, nil
}

func newClientsCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "clients",
		Short: "List the peer clients recorded in the client registry",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			v, err := opts.settings()
			if err != nil {
				return err
			}
			store, err := openStore(v, opts.logger(cmd))
			if err != nil {
				return err
			}
			if store == nil {
				return &configError{fmt.Errorf("no client registry configured, set %s", settings.KeyStoreAddress)}
			}
			defer store.Close()

			clients, err := store.ListClients(cmd.Context())
			if err != nil {
				return err
			}
			return printClients(cmd, clients)
		},
	}
}

func printClients(cmd *cobra.Command, clients []*storage.Client) error {
	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "CLIENT ID\tRESOURCE ID\tCREATED")
	for _, c := range clients {
		fmt.Fprintf(w, "%s\t%s\t%s\n", c.ClientID, c.ResourceID, c.CreatedAt.UTC().Format(time.RFC3339))
	}
	return w.Flush()
}
