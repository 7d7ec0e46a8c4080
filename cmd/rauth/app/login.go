package app

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/common-nighthawk/go-figure"
	"github.com/jrsteele09/go-auth-session/callback"
	"github.com/jrsteele09/go-auth-session/environment"
	"github.com/jrsteele09/go-auth-session/rauth"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

const shutdownTimeout = 5 * time.Second

type loginFlags struct {
	provider  string
	noBrowser bool
	timeout   time.Duration
}

func (a *App) newLoginCmd() *cobra.Command {
	var f loginFlags
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Sign in with an identity provider",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.login(cmd.Context(), cmd.OutOrStdout(), f)
		},
	}
	cmd.Flags().StringVar(&f.provider, "provider", "", "identity provider, e.g. github or google")
	cmd.Flags().BoolVar(&f.noBrowser, "no-browser", false, "print the sign in URL instead of opening a browser")
	cmd.Flags().DurationVar(&f.timeout, "timeout", 5*time.Minute, "how long to wait for the redirect back")
	_ = cmd.MarkFlagRequired("provider")
	return cmd
}

func (a *App) login(ctx context.Context, out io.Writer, f loginFlags) error {
	displayAppName(out, a.cfg.GetAppName())

	redirectURI := a.cfg.GetRedirectURI()
	addr, err := callback.AddrFromRedirectURI(redirectURI)
	if err != nil {
		return err
	}

	var opts []rauth.Option
	if f.noBrowser {
		opts = append(opts, rauth.WithNavigator(printNavigator(out)))
	} else if a.navigator == nil {
		opts = append(opts, rauth.WithNavigator(browserOrPrint(out)))
	}
	m, err := a.manager(opts...)
	if err != nil {
		return err
	}
	defer m.Close()

	listener := callback.New(m,
		callback.WithPath(callback.PathFromRedirectURI(redirectURI)),
		callback.WithEnv(a.cfg.GetEnv()),
		callback.WithLogger(log.Logger),
	)
	if _, err := listener.Listen(addr); err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := listener.Shutdown(shutdownCtx); err != nil {
			log.Warn().Err(err).Msg("callback listener shutdown")
		}
	}()

	if _, err := m.Login(ctx, f.provider); err != nil {
		return err
	}

	waitCtx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()
	result, err := listener.Wait(waitCtx)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "Signed in as %s\n", result.User.DisplayName())
	return nil
}

func displayAppName(out io.Writer, appName string) {
	myFigure := figure.NewFigure(appName, "cybermedium", true)
	fmt.Fprintln(out, myFigure.String())
}

func printNavigator(out io.Writer) environment.Navigator {
	return environment.NavigatorFunc(func(_ context.Context, target string) error {
		fmt.Fprintf(out, "Open this URL in your browser to sign in:\n\n  %s\n\n", target)
		return nil
	})
}

func browserOrPrint(out io.Writer) environment.Navigator {
	browser := environment.BrowserNavigator{}
	fallback := printNavigator(out)
	return environment.NavigatorFunc(func(ctx context.Context, target string) error {
		if err := browser.Navigate(ctx, target); err != nil {
			log.Warn().Err(err).Msg("could not open a browser")
			return fallback.Navigate(ctx, target)
		}
		return nil
	})
}
