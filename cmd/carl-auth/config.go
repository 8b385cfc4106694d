package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/opendut/carl-auth/settings"
)

func newConfigCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Print the effective settings with secrets redacted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			v, err := opts.settings()
			if err != nil {
				return err
			}
			values := settings.Redacted(v)
			for _, key := range settings.SortedKeys(values) {
				fmt.Fprintf(cmd.OutOrStdout(), "%s = %v\n", key, values[key])
			}
			return nil
		},
	}
}
