// Package app holds the rauth command line: sign in through the OAuth backend and manage
// the stored session from a terminal.
package app

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/jrsteele09/go-auth-session/environment"
	"github.com/jrsteele09/go-auth-session/internal/config"
	"github.com/jrsteele09/go-auth-session/rauth"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

// App carries the state shared by every command.
type App struct {
	configPath string
	logLevel   string

	cfg       config.Config
	navigator environment.Navigator
	logOut    io.Writer
}

type Option func(*App)

// WithNavigator replaces the browser used by login.
func WithNavigator(n environment.Navigator) Option {
	return func(a *App) {
		a.navigator = n
	}
}

// WithLogOutput sends log output to w instead of stderr.
func WithLogOutput(w io.Writer) Option {
	return func(a *App) {
		a.logOut = w
	}
}

// NewRootCmd creates the rauth root command.
func NewRootCmd(options ...Option) *cobra.Command {
	a := &App{logOut: os.Stderr}
	for _, opt := range options {
		opt(a)
	}

	root := &cobra.Command{
		Use:           "rauth",
		Short:         "Sign in to an OAuth backend and manage the local session",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.init(cmd)
		},
		Run: func(cmd *cobra.Command, _ []string) {
			if err := cmd.Help(); err != nil {
				log.Err(err).Msg("displaying help")
			}
		},
	}
	root.PersistentFlags().StringVar(&a.configPath, "config", "", "config file (yaml, json or toml)")
	root.PersistentFlags().StringVar(&a.logLevel, "log-level", "", "log level, overrides log_level from config")

	root.AddCommand(
		a.newLoginCmd(),
		a.newStatusCmd(),
		a.newWhoamiCmd(),
		a.newRefreshCmd(),
		a.newLogoutCmd(),
	)
	return root
}

func (a *App) init(cmd *cobra.Command) error {
	cfg, err := config.Load(a.configPath)
	if err != nil {
		return err
	}
	a.cfg = cfg

	level := a.logLevel
	if level == "" {
		level = cfg.GetLogLevel()
	}
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		return fmt.Errorf("invalid log level %q: %w", level, err)
	}
	zerolog.SetGlobalLevel(lvl)
	log.Logger = zerolog.New(zerolog.ConsoleWriter{Out: a.logOut, TimeFormat: time.Kitchen}).
		With().
		Timestamp().
		Str("cmd", cmd.Name()).
		Logger()
	return nil
}

// manager opens a session manager over the configured storage. The caller closes it.
func (a *App) manager(extra ...rauth.Option) (*rauth.Manager, error) {
	opts := []rauth.Option{rauth.WithLogger(log.Logger)}
	if a.navigator != nil {
		opts = append(opts, rauth.WithNavigator(a.navigator))
	}
	return rauth.New(a.cfg, append(opts, extra...)...)
}
