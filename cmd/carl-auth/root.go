package main

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	auth "github.com/opendut/carl-auth"
	"github.com/opendut/carl-auth/security"
	"github.com/opendut/carl-auth/settings"
)

// Exit codes
const (
	ExitCodeError         = 1
	ExitCodeConfiguration = 2
	ExitCodeAuthFailed    = 3
)

// rootOptions are the persistent flags shared by all subcommands
type rootOptions struct {
	configFile  string
	envPrefix   string
	projectRoot string
	logLevel    string
	audit       bool
	overrides   []string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:   "carl-auth",
		Short: "Talk to the control plane's OIDC identity provider",
		Long: `carl-auth loads the control plane settings and uses them to obtain access
tokens, register or delete peer clients and inspect the identity provider.`,
		SilenceUsage: true,
	}
	cmd.SetVersionTemplate(`{{printf "carl-auth version %s\n" .Version}}`)

	flags := cmd.PersistentFlags()
	flags.StringVarP(&opts.configFile, "config", "c", "", "TOML settings file merged over the defaults")
	flags.StringVar(&opts.envPrefix, "env-prefix", settings.DefaultEnvPrefix, "prefix of environment variable overrides")
	flags.StringVar(&opts.projectRoot, "project-root", "", "base directory for relative CA paths")
	flags.StringVar(&opts.logLevel, "log-level", "warn", "log level (debug, info, warn, error)")
	flags.BoolVar(&opts.audit, "audit", false, "write security audit events to the log")
	flags.StringArrayVar(&opts.overrides, "set", nil, "override a setting, e.g. --set network.oidc.enabled=true")

	cmd.AddCommand(
		newTokenCmd(opts),
		newCheckCmd(opts),
		newRegisterCmd(opts),
		newDeleteCmd(opts),
		newDiscoverCmd(opts),
		newClientsCmd(opts),
		newConfigCmd(opts),
	)
	return cmd
}

func (o *rootOptions) settings() (*viper.Viper, error) {
	overrides := make(map[string]any, len(o.overrides))
	for _, kv := range o.overrides {
		key, value, ok := strings.Cut(kv, "=")
		if !ok || key == "" {
			return nil, &configError{fmt.Errorf("invalid --set %q, expected key=value", kv)}
		}
		overrides[key] = value
	}

	v, err := settings.Load(settings.Options{
		ConfigFile: o.configFile,
		EnvPrefix:  o.envPrefix,
		Overrides:  overrides,
	})
	if err != nil {
		return nil, &configError{err}
	}
	return v, nil
}

func (o *rootOptions) logger(cmd *cobra.Command) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(o.logLevel)); err != nil {
		level = slog.LevelWarn
	}
	return slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level}))
}

// managerOptions builds the options shared by both managers
func (o *rootOptions) managerOptions(cmd *cobra.Command) []auth.Option {
	logger := o.logger(cmd)
	opts := []auth.Option{auth.WithLogger(logger)}
	if o.projectRoot != "" {
		opts = append(opts, auth.WithProjectRoot(o.projectRoot))
	}
	if o.audit {
		opts = append(opts, auth.WithAuditor(security.NewAuditor(logger, true)))
	}
	return opts
}

// configError marks failures caused by settings rather than the identity provider
type configError struct {
	err error
}

func (e *configError) Error() string { return e.err.Error() }
func (e *configError) Unwrap() error { return e.err }

var errOIDCDisabled = errors.New("OIDC is disabled, set network.oidc.enabled=true")

func exitCode(err error) int {
	var cfgErr *configError
	var managerErr *auth.ManagerError
	switch {
	case errors.As(err, &cfgErr), errors.As(err, &managerErr),
		errors.Is(err, auth.ErrInvalidConfiguration), errors.Is(err, errOIDCDisabled):
		return ExitCodeConfiguration
	case errors.Is(err, auth.ErrFailedToGetToken), errors.Is(err, auth.ErrExpirationFieldMissing),
		errors.Is(err, auth.ErrRequest), errors.Is(err, auth.ErrRegistration):
		return ExitCodeAuthFailed
	default:
		return ExitCodeError
	}
}
