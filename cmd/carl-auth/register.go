package main

import (
	"fmt"

	"github.com/spf13/cobra"

	auth "github.com/opendut/carl-auth"
)

func newRegisterCmd(opts *rootOptions) *cobra.Command {
	var reveal bool

	cmd := &cobra.Command{
		Use:   "register [resource-id]",
		Short: "Provision client credentials for a peer resource",
		Long: `register creates a confidential client for the resource at the identity
provider, or prints the common peer credentials when those are configured.
Without a resource id a random UUID is used.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			resourceID := auth.NewResourceID()
			if len(args) == 1 {
				var err error
				resourceID, err = auth.ParseResourceID(args[0])
				if err != nil {
					return err
				}
			}

			manager, cleanup, err := clientManager(cmd, opts)
			if err != nil {
				return err
			}
			defer cleanup()
			creds, err := manager.RegisterNewClient(cmd.Context(), resourceID)
			if err != nil {
				return err
			}

			secret := creds.ClientSecret.String()
			if reveal {
				secret = creds.ClientSecret.Reveal()
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "resource_id:   %s\n", resourceID)
			fmt.Fprintf(out, "client_id:     %s\n", creds.ClientID)
			fmt.Fprintf(out, "client_secret: %s\n", secret)
			return nil
		},
	}
	cmd.Flags().BoolVar(&reveal, "reveal", false, "print the client secret")
	return cmd
}

func newDeleteCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <client-id>",
		Short: "Delete a registered peer client",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			manager, cleanup, err := clientManager(cmd, opts)
			if err != nil {
				return err
			}
			defer cleanup()
			if err := manager.DeleteClient(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "deleted %s\n", args[0])
			return nil
		},
	}
}

func newDiscoverCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "discover",
		Short: "Fetch and check the identity provider's discovery document",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			manager, cleanup, err := clientManager(cmd, opts)
			if err != nil {
				return err
			}
			defer cleanup()
			doc, err := manager.HealthCheck(cmd.Context())
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "issuer:                 %s\n", doc.Issuer)
			fmt.Fprintf(out, "token_endpoint:         %s\n", doc.TokenEndpoint)
			fmt.Fprintf(out, "registration_endpoint:  %s\n", doc.RegistrationEndpoint)
			fmt.Fprintf(out, "derived registration:   %s\n", manager.RegistrationURL())
			fmt.Fprintf(out, "issuer (remote):        %s\n", manager.IssuerRemoteURL())
			return nil
		},
	}
}

// clientManager builds the manager from settings. When a client registry is
// configured the returned cleanup closes it.
func clientManager(cmd *cobra.Command, opts *rootOptions) (*auth.ClientManager, func(), error) {
	v, err := opts.settings()
	if err != nil {
		return nil, nil, err
	}
	managerOpts := opts.managerOptions(cmd)
	cleanup := func() {}

	store, err := openStore(v, opts.logger(cmd))
	if err != nil {
		return nil, nil, err
	}
	if store != nil {
		managerOpts = append(managerOpts, auth.WithClientStore(store))
		cleanup = store.Close
	}

	manager, err := auth.ClientManagerFromSettings(v, managerOpts...)
	if err != nil {
		cleanup()
		return nil, nil, err
	}
	if manager == nil {
		cleanup()
		return nil, nil, errOIDCDisabled
	}
	return manager, cleanup, nil
}
