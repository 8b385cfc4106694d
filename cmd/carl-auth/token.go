package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	auth "github.com/opendut/carl-auth"
)

func newTokenCmd(opts *rootOptions) *cobra.Command {
	var reveal bool

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Fetch an access token for the control plane client",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			manager, err := authenticationManager(cmd, opts)
			if err != nil {
				return err
			}

			tok, err := manager.GetToken(cmd.Context())
			if err != nil {
				return err
			}
			expiry, _ := manager.TokenExpiry()

			out := cmd.OutOrStdout()
			if reveal {
				fmt.Fprintln(out, tok.Value.Reveal())
				return nil
			}
			fmt.Fprintf(out, "token:      %s\n", tok.Value)
			fmt.Fprintf(out, "expires_at: %s\n", expiry.UTC().Format(time.RFC3339))
			return nil
		},
	}
	cmd.Flags().BoolVar(&reveal, "reveal", false, "print only the raw token, e.g. for use in scripts")
	return cmd
}

func newCheckCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Check that the control plane client can log in",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			manager, err := authenticationManager(cmd, opts)
			if err != nil {
				return err
			}
			ok, err := manager.CheckLogin(cmd.Context())
			if err != nil {
				return err
			}
			if !ok {
				return fmt.Errorf("identity provider returned an empty token")
			}
			fmt.Fprintln(cmd.OutOrStdout(), "login ok")
			return nil
		},
	}
}

func authenticationManager(cmd *cobra.Command, opts *rootOptions) (*auth.AuthenticationManager, error) {
	v, err := opts.settings()
	if err != nil {
		return nil, err
	}
	manager, err := auth.FromSettings(v, opts.managerOptions(cmd)...)
	if err != nil {
		return nil, err
	}
	if manager == nil {
		return nil, errOIDCDisabled
	}
	return manager, nil
}
