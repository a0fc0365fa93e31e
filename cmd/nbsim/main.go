// nbsim serves a simulated NetBox API backed by SQLite, enough of DCIM,
// IPAM, tenancy, extras, VPN and the BGP plugin for nbseed to run against.
//
// Usage:
//
//	nbsim --listen :8000 --token $NETBOX_TOKEN
//	nbsim --dsn 'file:nbsim.db?_pragma=busy_timeout(5000)'
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/newtron-network/nbseed/pkg/nbsim"
	"github.com/newtron-network/nbseed/pkg/util"
	"github.com/newtron-network/nbseed/pkg/version"
)

var opts struct {
	listen   string
	dsn      string
	token    string
	version  string
	logLevel string
}

var rootCmd = &cobra.Command{
	Use:           "nbsim",
	Short:         "Simulated NetBox API server",
	Version:       version.Version,
	SilenceUsage:  true,
	SilenceErrors: true,
	Args:          cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := util.SetLogLevel(opts.logLevel); err != nil {
			return err
		}
		if opts.token == "" {
			opts.token = os.Getenv("NETBOX_TOKEN")
		}
		if opts.token == "" {
			util.Warnf("no token configured, API auth disabled")
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		sim, err := nbsim.New(ctx, nbsim.Config{DSN: opts.dsn, Token: opts.token, Version: opts.version})
		if err != nil {
			return err
		}
		defer sim.Close()

		srv := &http.Server{
			Addr:              opts.listen,
			Handler:           sim.Handler(),
			ReadHeaderTimeout: 10 * time.Second,
		}
		errc := make(chan error, 1)
		go func() {
			util.WithField("addr", opts.listen).Info("nbsim listening")
			errc <- srv.ListenAndServe()
		}()

		select {
		case err := <-errc:
			if !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		case <-ctx.Done():
		}

		util.Infof("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown: %w", err)
		}
		st := sim.Stats()
		conflicts := 0
		for _, n := range st.Conflicts {
			conflicts += n
		}
		util.WithFields(map[string]interface{}{
			"creates":   st.TotalCreates(),
			"conflicts": conflicts,
		}).Info("nbsim stopped")
		return nil
	},
}

func init() {
	f := rootCmd.Flags()
	f.StringVar(&opts.listen, "listen", ":8000", "Listen address")
	f.StringVar(&opts.dsn, "dsn", "", "SQLite DSN (default: private in-memory database)")
	f.StringVar(&opts.token, "token", "", "API token clients must send (default $NETBOX_TOKEN)")
	f.StringVar(&opts.version, "netbox-version", nbsim.DefaultVersion, "Version reported by /api/status/")
	f.StringVar(&opts.logLevel, "log-level", "info", "Log level (debug, info, warn, error)")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "nbsim: %v\n", err)
		os.Exit(1)
	}
}
