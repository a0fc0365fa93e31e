package reconcile

import (
	"context"
	"fmt"

	"github.com/newtron-network/nbseed/pkg/netbox"
	"github.com/newtron-network/nbseed/pkg/topology"
	"github.com/newtron-network/nbseed/pkg/util"
)

// Prefix lengths carved out of the parent prefixes.
const (
	TransitPrefixLength  = 31
	LoopbackPrefixLength = 32
)

// LoopbackInterface is the virtual interface that carries a device's
// router ID.
const LoopbackInterface = "Loopback0"

// ensureParentPrefix looks the prefix up before creating it; prefixes have
// no natural-key conflict to lean on.
func (r *Reconciler) ensureParentPrefix(ctx context.Context, kind string, p topology.Prefix) (*netbox.Prefix, error) {
	siteID, err := r.siteID(p.Site)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", kind, p.Prefix, err)
	}
	req := netbox.PrefixRequest{
		Prefix:      p.Prefix,
		Site:        siteID,
		Status:      netbox.StatusContainer,
		Description: p.Description,
	}
	lookup := func(ctx context.Context) (*netbox.Prefix, error) {
		return r.client.PrefixByCIDR(ctx, p.Prefix)
	}
	rec, _, err := ensure(ctx, r, EnsureOp[netbox.Prefix]{
		Kind: kind,
		Key:  p.Prefix,
		Lookup: func(ctx context.Context) (*netbox.Prefix, bool, error) {
			return found(lookup(ctx))
		},
		Create: func(ctx context.Context) (*netbox.Prefix, error) {
			return netbox.Create[netbox.Prefix](ctx, r.client, netbox.EndpointPrefixes, req)
		},
		Fetch: lookup,
	})
	return rec, err
}

func (r *Reconciler) ensureTransitPrefix(ctx context.Context) (err error) {
	r.transit, err = r.ensureParentPrefix(ctx, "transit prefix", r.doc.Transit)
	return err
}

func (r *Reconciler) ensureLoopbackPrefix(ctx context.Context) (err error) {
	r.loopback, err = r.ensureParentPrefix(ctx, "loopback prefix", r.doc.Loopback)
	return err
}

// ensureASNs ensures the RIR, the spine ASN and one ASN per leaf. Leaf
// numbers come from topology.LeafASNs, so a conflict on one number never
// shifts the next; a shared leaf ASN is ensured once.
func (r *Reconciler) ensureASNs(ctx context.Context) error {
	rir := r.doc.RIR
	rec, err := ensureNamed[netbox.RIR](ctx, r, "rir", netbox.EndpointRIRs, rir.Name, rir.Slug,
		netbox.RIRRequest{Name: rir.Name, Slug: rir.Slug, IsPrivate: rir.IsPrivate})
	if err != nil {
		return err
	}
	r.rir = rec

	byNumber := map[int64]*netbox.ASN{}
	if r.spineASN, err = r.ensureASN(ctx, r.doc.ASNs.Spine.ASN, "Spine ASN"); err != nil {
		return err
	}
	byNumber[r.spineASN.ASN] = r.spineASN

	leafs := r.devices[topology.TierLeaf]
	numbers := topology.LeafASNs(r.doc.ASNs.Leaf, len(leafs))
	r.leafASNs = make([]*netbox.ASN, len(leafs))
	for i, n := range numbers {
		if existing, ok := byNumber[n]; ok {
			r.leafASNs[i] = existing
			continue
		}
		desc := fmt.Sprintf("Leaf %s ASN", leafs[i].Name)
		if r.doc.ASNs.Leaf.Same {
			desc = "Leaf ASN"
		}
		asn, err := r.ensureASN(ctx, n, desc)
		if err != nil {
			return err
		}
		byNumber[n] = asn
		r.leafASNs[i] = asn
	}
	return nil
}

func (r *Reconciler) ensureASN(ctx context.Context, number int64, desc string) (*netbox.ASN, error) {
	req := netbox.ASNRequest{ASN: number, RIR: r.rir.ID, Description: desc}
	rec, _, err := ensure(ctx, r, EnsureOp[netbox.ASN]{
		Kind: "asn",
		Key:  fmt.Sprintf("AS%d", number),
		Create: func(ctx context.Context) (*netbox.ASN, error) {
			return netbox.Create[netbox.ASN](ctx, r.client, netbox.EndpointASNs, req)
		},
		Fetch: func(ctx context.Context) (*netbox.ASN, error) {
			return netbox.Get[netbox.ASN](ctx, r.client, netbox.EndpointASNs, netbox.Query("asn", fmt.Sprint(number)))
		},
	})
	return rec, err
}

// linkAddresses is the transit subnet of one link and the address of each end.
type linkAddresses struct {
	Spine *netbox.IPAddress
	Leaf  *netbox.IPAddress
}

// ensureLinks gives every link its /31, tags both ends and records the BGP
// sessions across it.
func (r *Reconciler) ensureLinks(ctx context.Context) error {
	return r.links(ctx, func(l *fabricLink) error {
		addrs, err := r.ensureLinkAddresses(ctx, l)
		if err != nil {
			return err
		}
		if err := r.tagInterface(ctx, l.spine, l.spineIf); err != nil {
			return err
		}
		if err := r.tagInterface(ctx, l.leaf, l.leafIf); err != nil {
			return err
		}
		return r.ensureSessions(ctx, l, addrs)
	})
}

// ensureLinkAddresses allocates a /31 and one address per end when neither
// end has an address. When both do, the existing addresses are used. One
// addressed end alone means an earlier run stopped halfway, and the link is
// refused rather than guessed at.
func (r *Reconciler) ensureLinkAddresses(ctx context.Context, l *fabricLink) (*linkAddresses, error) {
	key := l.String()
	spineCount, leafCount := l.spineIf.CountIPAddresses, l.leafIf.CountIPAddresses

	rec, _, err := ensure(ctx, r, EnsureOp[linkAddresses]{
		Kind: "transit subnet",
		Key:  key,
		Lookup: func(ctx context.Context) (*linkAddresses, bool, error) {
			switch {
			case spineCount == 0 && leafCount == 0:
				return nil, false, nil
			case spineCount > 0 && leafCount > 0:
				a, err := r.existingLinkAddresses(ctx, l)
				return a, err == nil, err
			}
			return nil, false, util.NewPreconditionError("allocate transit subnet", key,
				"both ends unaddressed or both addressed",
				fmt.Sprintf("%s has %d, %s has %d", l.spineIf.Name, spineCount, l.leafIf.Name, leafCount))
		},
		Create: func(ctx context.Context) (*linkAddresses, error) {
			return r.allocateLinkAddresses(ctx, l)
		},
		Fetch: func(ctx context.Context) (*linkAddresses, error) {
			return r.existingLinkAddresses(ctx, l)
		},
	})
	if err != nil {
		return nil, err
	}
	return rec, nil
}

func (r *Reconciler) allocateLinkAddresses(ctx context.Context, l *fabricLink) (*linkAddresses, error) {
	siteID, err := r.siteID(r.doc.Transit.Site)
	if err != nil {
		return nil, err
	}
	subnet, err := r.client.AllocatePrefix(ctx, r.transit.ID, netbox.AvailablePrefixRequest{
		PrefixLength: TransitPrefixLength,
		Site:         siteID,
		Status:       netbox.StatusActive,
		Description:  l.spine.Name + " - " + l.leaf.Name,
	})
	if err != nil {
		return nil, fmt.Errorf("allocating /%d from %s: %w", TransitPrefixLength, r.transit.Prefix, err)
	}
	spineIP, err := r.assignAddress(ctx, subnet, l.spine, l.spineIf)
	if err != nil {
		return nil, err
	}
	leafIP, err := r.assignAddress(ctx, subnet, l.leaf, l.leafIf)
	if err != nil {
		return nil, err
	}
	util.WithFields(map[string]interface{}{
		"subnet": subnet.Prefix,
		"spine":  spineIP.Address,
		"leaf":   leafIP.Address,
	}).Debug("allocated transit subnet")
	return &linkAddresses{Spine: spineIP, Leaf: leafIP}, nil
}

// assignAddress takes the next free address of subnet for iface.
func (r *Reconciler) assignAddress(ctx context.Context, subnet *netbox.Prefix, dev *netbox.Device, iface *netbox.Interface) (*netbox.IPAddress, error) {
	ip, err := r.client.AllocateIP(ctx, subnet.ID, netbox.AvailableIPRequest{
		AssignedObjectType: netbox.ObjectTypeInterface,
		AssignedObjectID:   iface.ID,
		Status:             netbox.StatusActive,
		Description:        dev.Name + " " + iface.Name,
	})
	if err != nil {
		return nil, fmt.Errorf("allocating address in %s for %s %s: %w", subnet.Prefix, dev.Name, iface.Name, err)
	}
	return ip, nil
}

// existingLinkAddresses reads both ends' addresses and warns when they do
// not share a point-to-point subnet.
func (r *Reconciler) existingLinkAddresses(ctx context.Context, l *fabricLink) (*linkAddresses, error) {
	spineIP, err := r.firstAddress(ctx, l.spine, l.spineIf)
	if err != nil {
		return nil, err
	}
	leafIP, err := r.firstAddress(ctx, l.leaf, l.leafIf)
	if err != nil {
		return nil, err
	}
	if peer, err := util.DeriveNeighborIP(spineIP.Address); err == nil {
		if host, _ := util.SplitIPMask(leafIP.Address); host != peer {
			util.WithFields(map[string]interface{}{
				"link":  l.String(),
				"spine": spineIP.Address,
				"leaf":  leafIP.Address,
			}).Warn("link ends are not point-to-point neighbors")
		}
	}
	return &linkAddresses{Spine: spineIP, Leaf: leafIP}, nil
}

// firstAddress returns the lowest-ID address assigned to iface.
func (r *Reconciler) firstAddress(ctx context.Context, dev *netbox.Device, iface *netbox.Interface) (*netbox.IPAddress, error) {
	addrs, err := r.client.InterfaceAddresses(ctx, iface.ID)
	if err != nil {
		return nil, fmt.Errorf("addresses of %s %s: %w", dev.Name, iface.Name, err)
	}
	if len(addrs) == 0 {
		return nil, &netbox.NotFoundError{
			Endpoint: netbox.EndpointIPAddresses,
			Query:    "interface_id=" + netbox.ID(iface.ID),
		}
	}
	first := &addrs[0]
	for i := range addrs {
		if addrs[i].ID < first.ID {
			first = &addrs[i]
		}
	}
	return first, nil
}

// tagInterface adds the link tag to iface, keeping its other tags. A tag
// missing from NetBox is logged and tolerated.
func (r *Reconciler) tagInterface(ctx context.Context, dev *netbox.Device, iface *netbox.Interface) error {
	tag := r.doc.LinkTag
	if tag == "" {
		return nil
	}
	names := make([]string, 0, len(iface.Tags)+1)
	for _, t := range iface.Tags {
		if t.Name == tag || t.Slug == tag {
			return nil
		}
		names = append(names, t.Name)
	}
	names = append(names, tag)

	if _, err := r.client.TagInterface(ctx, iface.ID, names); err != nil {
		if netbox.IsNotFound(err, "tags") {
			util.WithDevice(dev.Name).Warnf("tag %q does not exist, %s left untagged", tag, iface.Name)
			return nil
		}
		return fmt.Errorf("tagging %s %s: %w", dev.Name, iface.Name, err)
	}
	util.WithDevice(dev.Name).Debugf("tagged %s with %q", iface.Name, tag)
	return nil
}

// ensureSessions records the spine's session to the leaf and, for
// bidirectional policies, the leaf's session back. Existing sessions are
// skipped.
func (r *Reconciler) ensureSessions(ctx context.Context, l *fabricLink, a *linkAddresses) error {
	leafASN := r.leafASNs[l.LeafIndex]
	type side struct {
		dev, peer         *netbox.Device
		local, remote     *netbox.IPAddress
		localAS, remoteAS *netbox.ASN
	}
	sides := []side{{l.spine, l.leaf, a.Spine, a.Leaf, r.spineASN, leafASN}}
	if r.doc.Sessions.Bidirectional {
		sides = append(sides, side{l.leaf, l.spine, a.Leaf, a.Spine, leafASN, r.spineASN})
	}

	for _, s := range sides {
		req := netbox.BGPSessionRequest{
			Name:          s.dev.Name + "-" + s.peer.Name,
			Site:          refID(s.dev.Site),
			Device:        s.dev.ID,
			LocalAS:       s.localAS.ID,
			RemoteAS:      s.remoteAS.ID,
			LocalAddress:  s.local.ID,
			RemoteAddress: s.remote.ID,
			Status:        r.doc.Sessions.Status,
		}
		_, _, err := ensure(ctx, r, EnsureOp[netbox.BGPSession]{
			Kind: "bgp session",
			Key:  req.Name,
			Create: func(ctx context.Context) (*netbox.BGPSession, error) {
				return netbox.Create[netbox.BGPSession](ctx, r.client, netbox.EndpointBGPSessions, req)
			},
		})
		if err != nil {
			return err
		}
	}
	return nil
}

// ensureLoopbacks gives every device a virtual Loopback0 carrying a /32 from
// the loopback prefix.
func (r *Reconciler) ensureLoopbacks(ctx context.Context) error {
	for _, tier := range []topology.Tier{topology.TierSpine, topology.TierLeaf} {
		for i := range r.devices[tier] {
			if err := r.ensureLoopback(ctx, &r.devices[tier][i]); err != nil {
				return err
			}
		}
	}
	return nil
}

func (r *Reconciler) ensureLoopback(ctx context.Context, dev *netbox.Device) error {
	key := dev.Name + ":" + LoopbackInterface
	req := netbox.InterfaceRequest{Device: dev.ID, Name: LoopbackInterface, Type: netbox.InterfaceTypeVirtual}
	iface, _, err := ensure(ctx, r, EnsureOp[netbox.Interface]{
		Kind: "interface",
		Key:  key,
		Create: func(ctx context.Context) (*netbox.Interface, error) {
			return netbox.Create[netbox.Interface](ctx, r.client, netbox.EndpointInterfaces, req)
		},
		Fetch: func(ctx context.Context) (*netbox.Interface, error) {
			return r.client.InterfaceByName(ctx, dev.ID, LoopbackInterface)
		},
	})
	if err != nil {
		return err
	}

	siteID, err := r.siteID(r.doc.Loopback.Site)
	if err != nil {
		return err
	}
	_, _, err = ensure(ctx, r, EnsureOp[netbox.IPAddress]{
		Kind: "loopback address",
		Key:  key,
		Lookup: func(ctx context.Context) (*netbox.IPAddress, bool, error) {
			if iface.CountIPAddresses == 0 {
				return nil, false, nil
			}
			return found(r.firstAddress(ctx, dev, iface))
		},
		Create: func(ctx context.Context) (*netbox.IPAddress, error) {
			host, err := r.client.AllocatePrefix(ctx, r.loopback.ID, netbox.AvailablePrefixRequest{
				PrefixLength: LoopbackPrefixLength,
				Site:         siteID,
				Status:       netbox.StatusActive,
				Description:  dev.Name + " loopback",
			})
			if err != nil {
				return nil, fmt.Errorf("allocating /%d from %s: %w", LoopbackPrefixLength, r.loopback.Prefix, err)
			}
			return r.assignAddress(ctx, host, dev, iface)
		},
	})
	return err
}
