package reconcile

import (
	"context"
	"fmt"
	"strconv"

	"github.com/newtron-network/nbseed/pkg/netbox"
	"github.com/newtron-network/nbseed/pkg/util"
)

// L2VPNName names the VXLAN L2VPN that carries a VLAN.
func L2VPNName(vlan string, vni int) string {
	return fmt.Sprintf("%s-vni%d", vlan, vni)
}

// ensureVLANs ensures every VLAN by (name, VID) and, when it has a VNI, a
// vxlan L2VPN terminated on it. NetBox only enforces VLAN uniqueness inside
// a VLAN group and these VLANs have none, so they are looked up before
// create.
func (r *Reconciler) ensureVLANs(ctx context.Context) error {
	vlans, err := r.doc.ExpandVLANs()
	if err != nil {
		return err
	}
	for _, v := range vlans {
		siteID, err := r.siteID(v.Site)
		if err != nil {
			return fmt.Errorf("vlan %s: %w", v.Name, err)
		}
		query := netbox.Query("name", v.Name, "vid", strconv.Itoa(v.VID))
		if siteID > 0 {
			query.Set("site_id", netbox.ID(siteID))
		}
		req := netbox.VLANRequest{
			Name:   v.Name,
			VID:    v.VID,
			Site:   siteID,
			Status: netbox.StatusActive,
			Tags:   netbox.TagRefs(v.Tags),
		}
		lookup := func(ctx context.Context) (*netbox.VLAN, error) {
			return netbox.Get[netbox.VLAN](ctx, r.client, netbox.EndpointVLANs, query)
		}
		vlan, _, err := ensure(ctx, r, EnsureOp[netbox.VLAN]{
			Kind: "vlan",
			Key:  fmt.Sprintf("%s (%d)", v.Name, v.VID),
			Lookup: func(ctx context.Context) (*netbox.VLAN, bool, error) {
				return found(lookup(ctx))
			},
			Create: func(ctx context.Context) (*netbox.VLAN, error) {
				return netbox.Create[netbox.VLAN](ctx, r.client, netbox.EndpointVLANs, req)
			},
			Fetch: lookup,
		})
		if err != nil {
			return err
		}
		if v.VNI == 0 {
			continue
		}
		if err := r.ensureVNI(ctx, vlan, v.VNI); err != nil {
			return err
		}
	}
	return nil
}

func (r *Reconciler) ensureVNI(ctx context.Context, vlan *netbox.VLAN, vni int) error {
	name := L2VPNName(vlan.Name, vni)
	l2vpn, err := ensureNamed[netbox.L2VPN](ctx, r, "l2vpn", netbox.EndpointL2VPNs, name, util.Slugify(name),
		netbox.L2VPNRequest{
			Name:       name,
			Slug:       util.Slugify(name),
			Type:       netbox.L2VPNTypeVXLAN,
			Identifier: int64(vni),
		})
	if err != nil {
		return err
	}

	req := netbox.L2VPNTerminationRequest{
		L2VPN:              l2vpn.ID,
		AssignedObjectType: netbox.ObjectTypeVLAN,
		AssignedObjectID:   vlan.ID,
	}
	_, _, err = ensure(ctx, r, EnsureOp[netbox.L2VPNTermination]{
		Kind: "l2vpn termination",
		Key:  name + " -> " + vlan.Name,
		Create: func(ctx context.Context) (*netbox.L2VPNTermination, error) {
			return netbox.Create[netbox.L2VPNTermination](ctx, r.client, netbox.EndpointL2VPNTerminations, req)
		},
	})
	return err
}
