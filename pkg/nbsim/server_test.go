package nbsim

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/newtron-network/nbseed/pkg/netbox"
)

func newSim(t *testing.T, cfg Config) (*Server, *netbox.Client) {
	t.Helper()
	sim, err := New(context.Background(), cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = sim.Close() })

	srv := httptest.NewServer(sim.Handler())
	t.Cleanup(srv.Close)

	c, err := netbox.NewClient(srv.URL, cfg.Token)
	require.NoError(t, err)
	return sim, c
}

// seedDeviceType creates a manufacturer and a device type with n Ethernet
// interface templates.
func seedDeviceType(t *testing.T, c *netbox.Client, n int) *netbox.DeviceType {
	t.Helper()
	ctx := context.Background()
	mfr, err := netbox.Create[netbox.Manufacturer](ctx, c, netbox.EndpointManufacturers,
		netbox.ManufacturerRequest{Name: "Arista", Slug: "arista"})
	require.NoError(t, err)
	dt, err := netbox.Create[netbox.DeviceType](ctx, c, netbox.EndpointDeviceTypes,
		netbox.DeviceTypeRequest{Model: "ceos-switch", Slug: "ceosswitch", Manufacturer: mfr.ID})
	require.NoError(t, err)
	for i := 1; i <= n; i++ {
		_, err := netbox.Create[netbox.InterfaceTemplate](ctx, c, netbox.EndpointInterfaceTemplates,
			netbox.InterfaceTemplateRequest{DeviceType: dt.ID, Name: fmt.Sprintf("Ethernet%d", i), Type: "1000base-t"})
		require.NoError(t, err)
	}
	return dt
}

func seedDevice(t *testing.T, c *netbox.Client, name string, dt *netbox.DeviceType) *netbox.Device {
	t.Helper()
	ctx := context.Background()
	site, err := netbox.Get[netbox.Site](ctx, c, netbox.EndpointSites, netbox.Query("slug", "lab"))
	if netbox.IsNotFound(err) {
		site, err = netbox.Create[netbox.Site](ctx, c, netbox.EndpointSites, netbox.SiteRequest{Name: "lab", Slug: "lab"})
	}
	require.NoError(t, err)
	role, err := netbox.Get[netbox.DeviceRole](ctx, c, netbox.EndpointDeviceRoles, netbox.Query("slug", "leaf"))
	if netbox.IsNotFound(err) {
		role, err = netbox.Create[netbox.DeviceRole](ctx, c, netbox.EndpointDeviceRoles, netbox.DeviceRoleRequest{Name: "leaf", Slug: "leaf"})
	}
	require.NoError(t, err)
	dev, err := netbox.Create[netbox.Device](ctx, c, netbox.EndpointDevices,
		netbox.DeviceRequest{Name: name, Role: role.ID, DeviceType: dt.ID, Site: site.ID})
	require.NoError(t, err)
	return dev
}

func TestStatus(t *testing.T) {
	_, c := newSim(t, Config{})
	st, err := c.Status(context.Background())
	require.NoError(t, err)
	assert.Equal(t, DefaultVersion, st.NetBoxVersion)
	assert.Contains(t, st.Plugins, "netbox_bgp")
}

func TestTokenAuth(t *testing.T) {
	sim, _ := newSim(t, Config{Token: "good"})
	srv := httptest.NewServer(sim.Handler())
	t.Cleanup(srv.Close)
	ctx := context.Background()

	for _, tok := range []string{"", "bad"} {
		c, err := netbox.NewClient(srv.URL, tok)
		require.NoError(t, err)
		_, err = c.Status(ctx)
		var apiErr *netbox.APIError
		require.True(t, errors.As(err, &apiErr), "token %q: got %v", tok, err)
		assert.Equal(t, http.StatusForbidden, apiErr.StatusCode)
	}

	c, err := netbox.NewClient(srv.URL, "good")
	require.NoError(t, err)
	_, err = c.Status(ctx)
	assert.NoError(t, err)
}

func TestCreateConflictThenFetch(t *testing.T) {
	sim, c := newSim(t, Config{})
	ctx := context.Background()
	req := netbox.SiteRequest{Name: "vagrantlab", Slug: "vagrantlab"}

	first, err := netbox.Create[netbox.Site](ctx, c, netbox.EndpointSites, req)
	require.NoError(t, err)
	assert.Equal(t, netbox.StatusActive, first.Status.Value, "status defaults to active")

	_, err = netbox.Create[netbox.Site](ctx, c, netbox.EndpointSites, req)
	var ce *netbox.ConflictError
	require.True(t, errors.As(err, &ce), "second create: got %v", err)
	assert.Equal(t, []string{"name", "slug"}, ce.Fields)

	got, err := netbox.Get[netbox.Site](ctx, c, netbox.EndpointSites, netbox.Query("name", "vagrantlab"))
	require.NoError(t, err)
	assert.Equal(t, first.ID, got.ID)

	st := sim.Stats()
	assert.Equal(t, 1, st.Creates[netbox.EndpointSites])
	assert.Equal(t, 1, st.Conflicts[netbox.EndpointSites])
}

func TestUniqueSetMessage(t *testing.T) {
	_, c := newSim(t, Config{})
	ctx := context.Background()
	dt := seedDeviceType(t, c, 1)

	_, err := netbox.Create[netbox.InterfaceTemplate](ctx, c, netbox.EndpointInterfaceTemplates,
		netbox.InterfaceTemplateRequest{DeviceType: dt.ID, Name: "Ethernet1", Type: "1000base-t"})
	var ce *netbox.ConflictError
	require.True(t, errors.As(err, &ce), "got %v", err)
	assert.Equal(t, []string{"non_field_errors"}, ce.Fields)
	assert.Contains(t, ce.Err.Fields["non_field_errors"][0], "must make a unique set")
}

func TestVLANUniqueOnlyWithinGroup(t *testing.T) {
	sim, c := newSim(t, Config{})
	ctx := context.Background()

	ungrouped := map[string]any{"name": "tenant100", "vid": 100}
	for i := 0; i < 2; i++ {
		_, err := netbox.Create[netbox.VLAN](ctx, c, netbox.EndpointVLANs, ungrouped)
		require.NoError(t, err, "ungrouped create %d", i+1)
	}
	assert.Equal(t, 2, sim.Stats().Creates[netbox.EndpointVLANs])

	grouped := map[string]any{"name": "tenant100", "vid": 100, "group": 7}
	_, err := netbox.Create[netbox.VLAN](ctx, c, netbox.EndpointVLANs, grouped)
	require.NoError(t, err)
	_, err = netbox.Create[netbox.VLAN](ctx, c, netbox.EndpointVLANs, grouped)
	var ce *netbox.ConflictError
	require.True(t, errors.As(err, &ce), "second grouped create: got %v", err)
	assert.Equal(t, []string{"non_field_errors"}, ce.Fields)
}

func TestRequiredAndMissingReferences(t *testing.T) {
	_, c := newSim(t, Config{})
	ctx := context.Background()

	_, err := netbox.Create[netbox.Site](ctx, c, netbox.EndpointSites, netbox.SiteRequest{Name: "x"})
	var apiErr *netbox.APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, []string{"This field is required."}, apiErr.Fields["slug"])

	_, err = netbox.Create[netbox.DeviceType](ctx, c, netbox.EndpointDeviceTypes,
		netbox.DeviceTypeRequest{Model: "m", Slug: "m", Manufacturer: 999})
	assert.True(t, netbox.IsNotFound(err, "manufacturer"), "got %v", err)
}

func TestDeviceInstantiatesInterfaces(t *testing.T) {
	_, c := newSim(t, Config{})
	ctx := context.Background()
	dt := seedDeviceType(t, c, 3)

	dev := seedDevice(t, c, "ceos-leaf-01", dt)
	ifaces, err := c.DeviceInterfaces(ctx, dev.ID)
	require.NoError(t, err)
	require.Len(t, ifaces, 3)
	assert.Equal(t, "Ethernet1", ifaces[0].Name)
	assert.Equal(t, "Ethernet3", ifaces[2].Name)
	assert.True(t, ifaces[0].Physical())
	assert.Equal(t, 0, ifaces[0].CountIPAddresses)

	// Same name, same site.
	_, err = netbox.Create[netbox.Device](ctx, c, netbox.EndpointDevices, netbox.DeviceRequest{
		Name: "ceos-leaf-01", Role: dev.Role.ID, DeviceType: dt.ID, Site: dev.Site.ID,
	})
	assert.True(t, netbox.IsConflict(err), "got %v", err)

	byName, err := netbox.Get[netbox.Device](ctx, c, netbox.EndpointDevices, netbox.Query("name", "ceos-leaf-01", "site", "lab"))
	require.NoError(t, err)
	assert.Equal(t, dev.ID, byName.ID)
	assert.Equal(t, "lab", byName.Site.Slug)
}

func TestCableRejectsCabledTermination(t *testing.T) {
	sim, c := newSim(t, Config{})
	ctx := context.Background()
	dt := seedDeviceType(t, c, 2)
	a := seedDevice(t, c, "a", dt)
	b := seedDevice(t, c, "b", dt)

	aIf, err := c.InterfaceByName(ctx, a.ID, "Ethernet1")
	require.NoError(t, err)
	bIf, err := c.InterfaceByName(ctx, b.ID, "Ethernet1")
	require.NoError(t, err)
	bIf2, err := c.InterfaceByName(ctx, b.ID, "Ethernet2")
	require.NoError(t, err)

	cable := func(x, y int) error {
		_, err := netbox.Create[netbox.Cable](ctx, c, netbox.EndpointCables, netbox.CableRequest{
			ATerminations: []netbox.Termination{{ObjectType: netbox.ObjectTypeInterface, ObjectID: x}},
			BTerminations: []netbox.Termination{{ObjectType: netbox.ObjectTypeInterface, ObjectID: y}},
			Status:        netbox.StatusConnected,
		})
		return err
	}
	require.NoError(t, cable(aIf.ID, bIf.ID))

	err = cable(aIf.ID, bIf2.ID)
	var ce *netbox.ConflictError
	require.True(t, errors.As(err, &ce), "got %v", err)
	assert.Contains(t, ce.Err.Fields["a_terminations"][0], "Duplicate termination found")

	aIf, err = c.InterfaceByName(ctx, a.ID, "Ethernet1")
	require.NoError(t, err)
	require.NotNil(t, aIf.Cable)

	assert.Equal(t, 1, sim.Stats().Creates[netbox.EndpointCables])
}

func TestAllocation(t *testing.T) {
	_, c := newSim(t, Config{})
	ctx := context.Background()

	parent, err := netbox.Create[netbox.Prefix](ctx, c, netbox.EndpointPrefixes,
		netbox.PrefixRequest{Prefix: "10.0.0.0/30", Status: netbox.StatusContainer})
	require.NoError(t, err)
	assert.Equal(t, netbox.StatusContainer, parent.Status.Value)

	first, err := c.AllocatePrefix(ctx, parent.ID, netbox.AvailablePrefixRequest{PrefixLength: 31})
	require.NoError(t, err)
	second, err := c.AllocatePrefix(ctx, parent.ID, netbox.AvailablePrefixRequest{PrefixLength: 31})
	require.NoError(t, err)
	assert.Equal(t, "10.0.0.0/31", first.Prefix)
	assert.Equal(t, "10.0.0.2/31", second.Prefix)

	_, err = c.AllocatePrefix(ctx, parent.ID, netbox.AvailablePrefixRequest{PrefixLength: 31})
	var apiErr *netbox.APIError
	require.True(t, errors.As(err, &apiErr), "got %v", err)
	assert.Equal(t, http.StatusConflict, apiErr.StatusCode)
	assert.False(t, netbox.IsConflict(err), "an exhausted pool is not a uniqueness conflict")

	ip1, err := c.AllocateIP(ctx, first.ID, netbox.AvailableIPRequest{})
	require.NoError(t, err)
	ip2, err := c.AllocateIP(ctx, first.ID, netbox.AvailableIPRequest{})
	require.NoError(t, err)
	assert.Equal(t, "10.0.0.0/31", ip1.Address)
	assert.Equal(t, "10.0.0.1/31", ip2.Address)
	_, err = c.AllocateIP(ctx, first.ID, netbox.AvailableIPRequest{})
	assert.Error(t, err)

	_, err = netbox.Create[netbox.Prefix](ctx, c, netbox.EndpointPrefixes, netbox.PrefixRequest{Prefix: "10.0.0.0/30"})
	assert.True(t, netbox.IsConflict(err), "duplicate prefix: got %v", err)
}

func TestAssignedAddressCounts(t *testing.T) {
	_, c := newSim(t, Config{})
	ctx := context.Background()
	dt := seedDeviceType(t, c, 1)
	dev := seedDevice(t, c, "spine", dt)
	iface, err := c.InterfaceByName(ctx, dev.ID, "Ethernet1")
	require.NoError(t, err)

	p, err := netbox.Create[netbox.Prefix](ctx, c, netbox.EndpointPrefixes, netbox.PrefixRequest{Prefix: "192.0.2.0/31"})
	require.NoError(t, err)
	ip, err := c.AllocateIP(ctx, p.ID, netbox.AvailableIPRequest{
		AssignedObjectType: netbox.ObjectTypeInterface,
		AssignedObjectID:   iface.ID,
	})
	require.NoError(t, err)
	assert.Equal(t, iface.ID, ip.AssignedObjectID)

	iface, err = c.InterfaceByName(ctx, dev.ID, "Ethernet1")
	require.NoError(t, err)
	assert.Equal(t, 1, iface.CountIPAddresses)

	addrs, err := c.InterfaceAddresses(ctx, iface.ID)
	require.NoError(t, err)
	require.Len(t, addrs, 1)
	assert.Equal(t, "192.0.2.0/31", addrs[0].Address)
}

func TestTagInterface(t *testing.T) {
	_, c := newSim(t, Config{})
	ctx := context.Background()
	dt := seedDeviceType(t, c, 1)
	dev := seedDevice(t, c, "leaf", dt)
	iface, err := c.InterfaceByName(ctx, dev.ID, "Ethernet1")
	require.NoError(t, err)

	_, err = c.TagInterface(ctx, iface.ID, []string{"fabric"})
	assert.True(t, netbox.IsNotFound(err, "tags"), "missing tag: got %v", err)

	_, err = netbox.Create[netbox.Tag](ctx, c, netbox.EndpointTags, netbox.TagRequest{Name: "fabric", Slug: "fabric"})
	require.NoError(t, err)
	tagged, err := c.TagInterface(ctx, iface.ID, []string{"fabric"})
	require.NoError(t, err)
	require.Len(t, tagged.Tags, 1)
	assert.Equal(t, "fabric", tagged.Tags[0].Name)
	assert.Equal(t, "Ethernet1", tagged.Name, "patch keeps other fields")
}

func TestListPagination(t *testing.T) {
	_, c := newSim(t, Config{})
	ctx := context.Background()
	for i := 0; i < defaultPageSize+7; i++ {
		_, err := netbox.Create[netbox.Tag](ctx, c, netbox.EndpointTags,
			netbox.TagRequest{Name: fmt.Sprintf("t%02d", i), Slug: fmt.Sprintf("t%02d", i)})
		require.NoError(t, err)
	}
	tags, err := netbox.List[netbox.Tag](ctx, c, netbox.EndpointTags, nil)
	require.NoError(t, err)
	assert.Len(t, tags, defaultPageSize+7)
}

func TestUnknownFilterRejected(t *testing.T) {
	_, c := newSim(t, Config{})
	_, err := netbox.List[netbox.Site](context.Background(), c, netbox.EndpointSites, netbox.Query("colour", "red"))
	var apiErr *netbox.APIError
	require.True(t, errors.As(err, &apiErr), "got %v", err)
	assert.Equal(t, http.StatusBadRequest, apiErr.StatusCode)
}

func TestFileDatabasePersists(t *testing.T) {
	dsn := filepath.Join(t.TempDir(), "nbsim.db")
	ctx := context.Background()

	sim, c := newSim(t, Config{DSN: dsn})
	_, err := netbox.Create[netbox.RIR](ctx, c, netbox.EndpointRIRs, netbox.RIRRequest{Name: "Lab", Slug: "lab", IsPrivate: true})
	require.NoError(t, err)
	require.NoError(t, sim.Close())

	_, c2 := newSim(t, Config{DSN: dsn})
	_, err = netbox.Create[netbox.RIR](ctx, c2, netbox.EndpointRIRs, netbox.RIRRequest{Name: "Lab", Slug: "lab"})
	assert.True(t, netbox.IsConflict(err), "RIR should survive reopen: got %v", err)
}

func TestUnknownRoute(t *testing.T) {
	_, c := newSim(t, Config{})
	_, err := netbox.List[netbox.Site](context.Background(), c, "dcim/racks", nil)
	assert.True(t, netbox.IsNotFound(err), "got %v", err)
}
