package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"golang.org/x/term"

	"github.com/newtron-network/nbseed/pkg/netbox"
	"github.com/newtron-network/nbseed/pkg/topology"
	"github.com/newtron-network/nbseed/pkg/tunnel"
	"github.com/newtron-network/nbseed/pkg/util"
	"github.com/newtron-network/nbseed/pkg/version"
)

// loadDocument reads -c, or returns the built-in lab.
func loadDocument() (*topology.Document, error) {
	if app.configPath == "" {
		util.Logger.Debug("no topology document given, using the built-in lab")
		return topology.Default(), nil
	}
	doc, err := topology.Load(app.configPath)
	if err != nil {
		return nil, fmt.Errorf("loading %s: %w", app.configPath, err)
	}
	return doc, nil
}

// resolveToken applies --token, NETBOX_TOKEN and the token file in that
// order. With prompt set and nothing found, the token is read from the
// terminal.
func resolveToken(prompt bool) (string, error) {
	token, err := app.settings.LoadToken(app.token)
	if err != nil {
		return "", err
	}
	if token == "" && prompt {
		return readSecret("NetBox API token: ")
	}
	if token == "" {
		util.Warnf("no NetBox API token found; requests are sent unauthenticated")
	}
	return token, nil
}

// readSecret prompts on stderr and reads a line without echo.
func readSecret(prompt string) (string, error) {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return "", fmt.Errorf("cannot prompt for %s: stdin is not a terminal", strings.TrimSuffix(prompt, ": "))
	}
	fmt.Fprint(os.Stderr, prompt)
	b, err := term.ReadPassword(fd)
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(b)), nil
}

// connect builds the NetBox client, through an SSH tunnel when sshHost is
// set, and checks that NetBox answers. The returned cleanup closes the
// tunnel.
func connect(ctx context.Context, token string, ssh tunnel.Config) (*netbox.Client, func(), error) {
	target := app.netboxURL
	cleanup := func() {}

	if ssh.Target != "" {
		remote, err := tunnel.RemoteAddr(target)
		if err != nil {
			return nil, nil, err
		}
		ssh.Remote = remote
		ssh.Timeout = app.timeout
		tun, err := tunnel.Open(ssh)
		if err != nil {
			return nil, nil, fmt.Errorf("opening ssh tunnel to %s: %w", ssh.Target, err)
		}
		cleanup = func() { tun.Close() }
		if target, err = tunnel.ForwardURL(target, tun.LocalAddr()); err != nil {
			cleanup()
			return nil, nil, err
		}
		util.WithField("via", ssh.Target).Infof("reaching %s at %s", app.netboxURL, target)
	}

	client, err := netbox.NewClient(target, token,
		netbox.WithTimeout(app.timeout),
		netbox.WithUserAgent(version.UserAgent()))
	if err != nil {
		cleanup()
		return nil, nil, err
	}

	st, err := client.Status(ctx)
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("cannot reach NetBox at %s: %w", app.netboxURL, err)
	}
	util.WithField("version", st.NetBoxVersion).Info("connected to NetBox")
	if _, ok := st.Plugins["netbox_bgp"]; !ok {
		util.Warnf("netbox_bgp plugin not reported by %s; BGP sessions will fail", app.netboxURL)
	}
	return client, cleanup, nil
}
