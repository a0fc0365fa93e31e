// Package testutil provides helpers shared by the package tests: a NetBox
// simulator on a loopback listener and, under the integration tag, access to
// a test Redis instance.
package testutil

import (
	"context"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/newtron-network/nbseed/pkg/nbsim"
	"github.com/newtron-network/nbseed/pkg/netbox"
)

// SimToken is the API token the simulator started by NewSim requires.
const SimToken = "0123456789abcdef0123456789abcdef01234567"

// NewSim starts an in-memory NetBox simulator and returns it with a client
// pointed at it. Both are torn down via t.Cleanup.
func NewSim(t *testing.T) (*nbsim.Server, *netbox.Client) {
	t.Helper()
	sim, err := nbsim.New(context.Background(), nbsim.Config{Token: SimToken})
	require.NoError(t, err)
	t.Cleanup(func() { _ = sim.Close() })

	srv := httptest.NewServer(sim.Handler())
	t.Cleanup(srv.Close)

	c, err := netbox.NewClient(srv.URL, SimToken)
	require.NoError(t, err)
	return sim, c
}

// Context returns a context with a reasonable timeout for tests.
// The cancel function is registered via t.Cleanup.
func Context(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	t.Cleanup(cancel)
	return ctx
}
