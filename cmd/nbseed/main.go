// nbseed - NetBox leaf-spine topology seeder
//
// Seeds a NetBox instance with a complete leaf-spine lab: sites, roles,
// device types, devices, full-mesh cabling, transit and loopback addressing,
// ASNs, BGP sessions and VXLAN-backed VLANs. Every object is created or, if
// it already exists, reused, so running apply again changes nothing.
//
// Examples:
//
//	nbseed plan                                  # What the built-in lab expands to
//	nbseed apply --url http://localhost:8000     # Seed the built-in lab
//	nbseed apply -c lab.yaml --lock-redis 127.0.0.1:6379
//	nbseed apply --ssh-host vagrant@labhost      # NetBox on the lab host's loopback
//	nbseed settings set netbox_url http://netbox.lab:8000
package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/newtron-network/nbseed/pkg/cli"
	"github.com/newtron-network/nbseed/pkg/settings"
	"github.com/newtron-network/nbseed/pkg/util"
	"github.com/newtron-network/nbseed/pkg/version"
)

// app holds the global flags and the settings they fall back to.
var app struct {
	configPath string
	netboxURL  string
	token      string
	timeout    time.Duration
	logLevel   string
	logJSON    bool
	noColor    bool
	verbose    bool
	jsonOutput bool

	settings *settings.Settings
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, cli.Red("error:"), err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:               "nbseed",
	Short:             "Seed NetBox with a leaf-spine lab topology",
	SilenceUsage:      true,
	SilenceErrors:     true,
	CompletionOptions: cobra.CompletionOptions{HiddenDefaultCmd: true},
	Long: `nbseed seeds NetBox with a leaf-spine lab topology.

Every object is created if missing and reused if present, so apply can be
re-run at any time. Without -c the built-in vagrantlab topology is used.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if app.logJSON {
			util.SetJSONFormat()
		}
		level := app.logLevel
		if level == "" {
			level = "warn"
			if app.verbose {
				level = "info"
			}
		}
		if err := util.SetLogLevel(level); err != nil {
			return fmt.Errorf("--log-level: %w", err)
		}
		if app.noColor {
			cli.SetColor(false)
		}

		var err error
		app.settings, err = settings.Load()
		if err != nil {
			util.Warnf("Could not load settings: %v", err)
			app.settings = &settings.Settings{}
		}
		if app.configPath == "" {
			app.configPath = app.settings.Config
		}
		if app.netboxURL == "" {
			app.netboxURL = app.settings.GetURL()
		}
		if !cmd.Flags().Changed("timeout") {
			app.timeout = app.settings.GetTimeout(app.timeout)
		}
		return nil
	},
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVarP(&app.configPath, "config", "c", "", "Topology document (YAML); default is the built-in lab")
	pf.StringVar(&app.netboxURL, "url", "", "NetBox base URL (default from settings, else "+settings.DefaultURL+")")
	pf.StringVar(&app.token, "token", "", "NetBox API token (default $"+settings.TokenEnv+", else ~/"+settings.DefaultTokenFile+")")
	pf.DurationVar(&app.timeout, "timeout", 30*time.Second, "Per-request timeout")
	pf.StringVar(&app.logLevel, "log-level", "", "Log level: debug, info, warn, error (default warn, info with -v)")
	pf.BoolVar(&app.logJSON, "log-json", false, "Log as JSON")
	pf.BoolVar(&app.noColor, "no-color", false, "Disable colored output")
	pf.BoolVarP(&app.verbose, "verbose", "v", false, "Verbose output")

	rootCmd.AddGroup(
		&cobra.Group{ID: "seed", Title: "Seeding:"},
		&cobra.Group{ID: "meta", Title: "Configuration & Meta:"},
	)
	for _, cmd := range []*cobra.Command{applyCmd, planCmd} {
		cmd.GroupID = "seed"
		rootCmd.AddCommand(cmd)
	}
	for _, cmd := range []*cobra.Command{settingsCmd, auditCmd, versionCmd} {
		cmd.GroupID = "meta"
		rootCmd.AddCommand(cmd)
	}
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		if version.Version == "dev" {
			fmt.Println("nbseed dev build (set -ldflags -X for version info)")
		} else {
			fmt.Println("nbseed " + version.Info())
		}
	},
}
