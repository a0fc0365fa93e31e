package reconcile

import (
	"bytes"
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"

	ptestutil "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/newtron-network/nbseed/internal/testutil"
	"github.com/newtron-network/nbseed/pkg/audit"
	"github.com/newtron-network/nbseed/pkg/cli"
	"github.com/newtron-network/nbseed/pkg/metrics"
	"github.com/newtron-network/nbseed/pkg/netbox"
	"github.com/newtron-network/nbseed/pkg/topology"
	"github.com/newtron-network/nbseed/pkg/util"
)

func list[T any](t *testing.T, c *netbox.Client, endpoint string, kv ...string) []T {
	t.Helper()
	items, err := netbox.List[T](context.Background(), c, endpoint, netbox.Query(kv...))
	require.NoError(t, err)
	return items
}

func deviceNames(devs []netbox.Device) []string {
	var names []string
	for _, d := range devs {
		names = append(names, d.Name)
	}
	return names
}

func TestRun_DefaultLab(t *testing.T) {
	_, c := testutil.NewSim(t)
	ctx := testutil.Context(t)

	res, err := New(c, topology.Default(), Options{}).Run(ctx)
	require.NoError(t, err)

	assert.Equal(t, []string{"ceos-spine-01", "ceos-spine-02"}, deviceNames(res.Devices[topology.TierSpine]))
	assert.Equal(t, []string{"ceos-leaf-01", "ceos-leaf-02", "ceos-leaf-03", "ceos-leaf-04"},
		deviceNames(res.Devices[topology.TierLeaf]))
	assert.Equal(t, 6, res.CountKind("device", Created))
	assert.Equal(t, 24, res.CountKind("interface template", Created))

	t.Run("cables use each port once", func(t *testing.T) {
		cables := list[netbox.Cable](t, c, netbox.EndpointCables)
		require.Len(t, cables, 8)
		seen := map[int]bool{}
		for _, cable := range cables {
			for _, term := range append(cable.ATerminations, cable.BTerminations...) {
				assert.False(t, seen[term.ObjectID], "interface %d cabled twice", term.ObjectID)
				seen[term.ObjectID] = true
			}
		}
		assert.Len(t, seen, 16)
	})

	t.Run("one /31 per link", func(t *testing.T) {
		var transit []string
		for _, p := range list[netbox.Prefix](t, c, netbox.EndpointPrefixes) {
			if strings.HasSuffix(p.Prefix, "/31") {
				transit = append(transit, p.Prefix)
			}
		}
		assert.Len(t, transit, 8)

		perSubnet := map[string]int{}
		for _, ip := range list[netbox.IPAddress](t, c, netbox.EndpointIPAddresses) {
			if strings.HasSuffix(ip.Address, "/31") {
				host, _ := util.SplitIPMask(ip.Address)
				peer, err := util.DeriveNeighborIP(ip.Address)
				require.NoError(t, err)
				perSubnet[min(host, peer)]++
			}
		}
		assert.Len(t, perSubnet, 8)
		for subnet, n := range perSubnet {
			assert.Equal(t, 2, n, subnet)
		}
	})

	t.Run("asns", func(t *testing.T) {
		var numbers []int64
		for _, a := range list[netbox.ASN](t, c, netbox.EndpointASNs) {
			numbers = append(numbers, a.ASN)
		}
		assert.ElementsMatch(t, []int64{65100, 64601, 64602, 64603, 64604}, numbers)
	})

	t.Run("bidirectional sessions", func(t *testing.T) {
		sessions := list[netbox.BGPSession](t, c, netbox.EndpointBGPSessions)
		assert.Len(t, sessions, 16)
		names := map[string]bool{}
		for _, s := range sessions {
			names[s.Name] = true
		}
		assert.True(t, names["ceos-spine-01-ceos-leaf-03"])
		assert.True(t, names["ceos-leaf-03-ceos-spine-01"])
	})

	t.Run("link interfaces tagged", func(t *testing.T) {
		assert.Len(t, list[netbox.Interface](t, c, netbox.EndpointInterfaces, "tag", "fabric"), 16)
	})

	t.Run("loopbacks", func(t *testing.T) {
		assert.Len(t, list[netbox.Interface](t, c, netbox.EndpointInterfaces, "name", LoopbackInterface), 6)
		var loopbacks int
		for _, ip := range list[netbox.IPAddress](t, c, netbox.EndpointIPAddresses) {
			if strings.HasPrefix(ip.Address, "192.168.255.") {
				assert.True(t, strings.HasSuffix(ip.Address, "/32"), ip.Address)
				loopbacks++
			}
		}
		assert.Equal(t, 6, loopbacks)
	})

	t.Run("vlans and vnis", func(t *testing.T) {
		assert.Len(t, list[netbox.VLAN](t, c, netbox.EndpointVLANs), 2)
		l2vpns := list[netbox.L2VPN](t, c, netbox.EndpointL2VPNs)
		var names []string
		for _, l := range l2vpns {
			names = append(names, l.Name)
		}
		assert.ElementsMatch(t, []string{"tenant100-vni10100", "tenant101-vni10101"}, names)
		assert.Len(t, list[netbox.L2VPNTermination](t, c, netbox.EndpointL2VPNTerminations), 2)
	})
}

func TestRun_Idempotent(t *testing.T) {
	sim, c := testutil.NewSim(t)
	ctx := testutil.Context(t)

	first, err := New(c, topology.Default(), Options{}).Run(ctx)
	require.NoError(t, err)
	require.Positive(t, first.Count(Created))

	sim.ResetStats()
	second, err := New(c, topology.Default(), Options{}).Run(ctx)
	require.NoError(t, err)

	assert.Zero(t, sim.Stats().TotalCreates(), "second run wrote objects: %v", sim.Stats().Creates)
	assert.Zero(t, second.Count(Created))
	assert.Equal(t, len(first.Events), len(second.Events))
	assert.Len(t, list[netbox.Cable](t, c, netbox.EndpointCables), 8)
	assert.Len(t, list[netbox.BGPSession](t, c, netbox.EndpointBGPSessions), 16)
	assert.Len(t, list[netbox.VLAN](t, c, netbox.EndpointVLANs), 2)
	assert.Len(t, list[netbox.L2VPNTermination](t, c, netbox.EndpointL2VPNTerminations), 2)
	assert.Equal(t, 2, second.CountKind("vlan", Existing))
	assert.Equal(t,
		deviceNames(first.Devices[topology.TierLeaf]),
		deviceNames(second.Devices[topology.TierLeaf]))
}

// plainConsole turns ANSI colors off for the test so output can be matched.
func plainConsole(t *testing.T) {
	t.Helper()
	was := cli.ColorEnabled()
	cli.SetColor(false)
	t.Cleanup(func() { cli.SetColor(was) })
}

func TestRun_ExistingSite(t *testing.T) {
	plainConsole(t)
	_, c := testutil.NewSim(t)
	ctx := testutil.Context(t)

	_, err := netbox.Create[netbox.Site](ctx, c, netbox.EndpointSites,
		netbox.SiteRequest{Name: "vagrantlab", Slug: "vagrantlab"})
	require.NoError(t, err)

	var buf bytes.Buffer
	res, err := New(c, topology.Default(), Options{Reporter: &consoleProgress{W: &buf, dotWidth: 40}}).Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.CountKind("site", Existing))
	assert.Regexp(t, `site vagrantlab \.+ exists, skipped\n`, buf.String())
	assert.Len(t, list[netbox.Device](t, c, netbox.EndpointDevices, "site", "vagrantlab"), 6)
}

func TestRun_ExistingUngroupedVLAN(t *testing.T) {
	sim, c := testutil.NewSim(t)
	ctx := testutil.Context(t)

	site, err := netbox.Create[netbox.Site](ctx, c, netbox.EndpointSites,
		netbox.SiteRequest{Name: "vagrantlab", Slug: "vagrantlab"})
	require.NoError(t, err)
	_, err = netbox.Create[netbox.VLAN](ctx, c, netbox.EndpointVLANs,
		netbox.VLANRequest{Name: "tenant100", VID: 100, Site: site.ID})
	require.NoError(t, err)

	sim.ResetStats()
	res, err := New(c, topology.Default(), Options{}).Run(ctx)
	require.NoError(t, err)

	assert.Equal(t, 1, res.CountKind("vlan", Existing))
	assert.Equal(t, 1, res.CountKind("vlan", Created))
	assert.Equal(t, 1, sim.Stats().Creates[netbox.EndpointVLANs])
	assert.Len(t, list[netbox.VLAN](t, c, netbox.EndpointVLANs), 2)
}

func TestRun_LeafASNsStayContiguous(t *testing.T) {
	_, c := testutil.NewSim(t)
	ctx := testutil.Context(t)

	rir, err := netbox.Create[netbox.RIR](ctx, c, netbox.EndpointRIRs,
		netbox.RIRRequest{Name: "VagrantLabRIR", Slug: "vagrantlabrir", IsPrivate: true})
	require.NoError(t, err)
	_, err = netbox.Create[netbox.ASN](ctx, c, netbox.EndpointASNs,
		netbox.ASNRequest{ASN: 64602, RIR: rir.ID, Description: "taken"})
	require.NoError(t, err)

	r := New(c, topology.Default(), Options{})
	res, err := r.Run(ctx)
	require.NoError(t, err)

	assert.Equal(t, 1, res.CountKind("asn", Existing))
	assert.Equal(t, 4, res.CountKind("asn", Created))
	var got []int64
	for _, a := range r.leafASNs {
		got = append(got, a.ASN)
	}
	assert.Equal(t, []int64{64601, 64602, 64603, 64604}, got)
}

func TestRun_SharedLeafASN(t *testing.T) {
	_, c := testutil.NewSim(t)
	ctx := testutil.Context(t)

	doc := topology.Default()
	doc.ASNs.Leaf = topology.LeafASN{Same: true, ASN: 65200}
	res, err := New(c, doc, Options{}).Run(ctx)
	require.NoError(t, err)

	asns := list[netbox.ASN](t, c, netbox.EndpointASNs)
	require.Len(t, asns, 2)
	assert.Equal(t, 2, res.CountKind("asn", Created))
	for _, a := range asns {
		if a.ASN == 65200 {
			assert.Equal(t, "Leaf ASN", a.Description)
		}
	}
}

func TestRun_HalfAddressedLinkAborts(t *testing.T) {
	_, c := testutil.NewSim(t)
	ctx := testutil.Context(t)

	opts := Options{
		BeforeStep: func(ctx context.Context, step string) error {
			if step != "links" {
				return nil
			}
			// Address only the leaf end of ceos-spine-01 <> ceos-leaf-01.
			leaf, err := netbox.Get[netbox.Device](ctx, c, netbox.EndpointDevices, netbox.Query("name", "ceos-leaf-01"))
			if err != nil {
				return err
			}
			iface, err := c.InterfaceByName(ctx, leaf.ID, "Ethernet1")
			if err != nil {
				return err
			}
			parent, err := c.PrefixByCIDR(ctx, "192.168.254.0/24")
			if err != nil {
				return err
			}
			_, err = c.AllocateIP(ctx, parent.ID, netbox.AvailableIPRequest{
				AssignedObjectType: netbox.ObjectTypeInterface,
				AssignedObjectID:   iface.ID,
			})
			return err
		},
	}
	_, err := New(c, topology.Default(), opts).Run(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, util.ErrPreconditionFailed)
	assert.Contains(t, err.Error(), "ceos-spine-01:Ethernet1 <> ceos-leaf-01:Ethernet1")
	assert.Empty(t, list[netbox.BGPSession](t, c, netbox.EndpointBGPSessions))
}

func TestRun_MissingLinkTagTolerated(t *testing.T) {
	_, c := testutil.NewSim(t)
	ctx := testutil.Context(t)

	doc := topology.Default()
	doc.Tags = nil
	res, err := New(c, doc, Options{}).Run(ctx)
	require.NoError(t, err)

	assert.Empty(t, list[netbox.Interface](t, c, netbox.EndpointInterfaces, "tag", "fabric"))
	assert.Len(t, list[netbox.BGPSession](t, c, netbox.EndpointBGPSessions), 16)
	assert.Zero(t, res.CountKind("tag", Created))
}

func TestRun_WithoutOptionalSections(t *testing.T) {
	_, c := testutil.NewSim(t)
	ctx := testutil.Context(t)

	doc := topology.Default()
	doc.Loopback = topology.Prefix{}
	doc.VLANs = nil
	doc.Sessions.Bidirectional = false

	r := New(c, doc, Options{})
	assert.NotContains(t, r.StepNames(), "loopbacks")
	assert.NotContains(t, r.StepNames(), "vlans")

	_, err := r.Run(ctx)
	require.NoError(t, err)
	assert.Len(t, list[netbox.BGPSession](t, c, netbox.EndpointBGPSessions), 8)
	assert.Empty(t, list[netbox.VLAN](t, c, netbox.EndpointVLANs))
}

func TestRun_BeforeStepAborts(t *testing.T) {
	_, c := testutil.NewSim(t)
	ctx := testutil.Context(t)

	lost := errors.New("lock lost")
	var seen []string
	_, err := New(c, topology.Default(), Options{
		BeforeStep: func(_ context.Context, step string) error {
			seen = append(seen, step)
			if step == "cabling" {
				return lost
			}
			return nil
		},
	}).Run(ctx)

	require.ErrorIs(t, err, lost)
	assert.Contains(t, err.Error(), "before cabling")
	assert.Equal(t, "cabling", seen[len(seen)-1])
	assert.Empty(t, list[netbox.Cable](t, c, netbox.EndpointCables))
}

func TestRun_CanceledContext(t *testing.T) {
	_, c := testutil.NewSim(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res, err := New(c, topology.Default(), Options{}).Run(ctx)
	require.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, res.Events)
}

func TestRun_AuditAndMetrics(t *testing.T) {
	_, c := testutil.NewSim(t)
	ctx := testutil.Context(t)

	logger, err := audit.NewFileLogger(filepath.Join(t.TempDir(), "audit.jsonl"), audit.RotationConfig{})
	require.NoError(t, err)
	defer logger.Close()
	m := metrics.NewRun(c.BaseURL())

	res, err := New(c, topology.Default(), Options{Audit: logger, Metrics: m, RunID: "run-test"}).Run(ctx)
	require.NoError(t, err)

	events, err := logger.Query(audit.Filter{RunID: "run-test"})
	require.NoError(t, err)
	assert.Len(t, events, len(res.Events))

	devices, err := logger.Query(audit.Filter{Kind: "device", State: "created"})
	require.NoError(t, err)
	assert.Len(t, devices, 6)
	assert.Equal(t, c.BaseURL(), devices[0].NetBox)
	assert.Equal(t, "devices", devices[0].Step)

	n, err := ptestutil.GatherAndCount(m.Registry(), "nbseed_reconcile_objects_total")
	require.NoError(t, err)
	assert.Positive(t, n)

	n, err = ptestutil.GatherAndCount(m.Registry(), "nbseed_reconcile_step_duration_seconds")
	require.NoError(t, err)
	assert.Equal(t, len(New(c, topology.Default(), Options{}).StepNames()), n)
}

func TestConsoleProgress(t *testing.T) {
	plainConsole(t)
	_, c := testutil.NewSim(t)
	ctx := testutil.Context(t)

	var buf bytes.Buffer
	p := &consoleProgress{W: &buf, dotWidth: 40}
	_, err := New(c, topology.Default(), Options{Reporter: p}).Run(ctx)
	require.NoError(t, err)

	out := buf.String()
	assert.Contains(t, out, "seeding vagrantlab into "+c.BaseURL())
	assert.Contains(t, out, "device ceos-leaf-04")
	assert.Contains(t, out, "done")

	buf.Reset()
	_, err = New(c, topology.Default(), Options{Reporter: p}).Run(ctx)
	require.NoError(t, err)
	assert.Regexp(t, `device ceos-leaf-04 \.+ exists, skipped\n`, buf.String())
	assert.NotContains(t, buf.String(), "#", "object IDs are verbose-only")
	assert.Contains(t, buf.String(), "existing")
}
