package reconcile

import (
	"context"
	"fmt"

	"github.com/newtron-network/nbseed/pkg/netbox"
	"github.com/newtron-network/nbseed/pkg/topology"
	"github.com/newtron-network/nbseed/pkg/util"
)

// ensureNamed ensures an object whose natural keys are its name and slug.
// On conflict it is fetched by name, then by slug.
func ensureNamed[T any](ctx context.Context, r *Reconciler, kind, endpoint, name, slug string, req any) (*T, error) {
	rec, _, err := ensure(ctx, r, EnsureOp[T]{
		Kind: kind,
		Key:  name,
		Create: func(ctx context.Context) (*T, error) {
			return netbox.Create[T](ctx, r.client, endpoint, req)
		},
		Fetch: func(ctx context.Context) (*T, error) {
			rec, err := netbox.Get[T](ctx, r.client, endpoint, netbox.Query("name", name))
			if netbox.IsNotFound(err) && slug != "" {
				return netbox.Get[T](ctx, r.client, endpoint, netbox.Query("slug", slug))
			}
			return rec, err
		},
	})
	return rec, err
}

func (r *Reconciler) ensureSites(ctx context.Context) error {
	for _, s := range r.doc.Sites {
		site, err := ensureNamed[netbox.Site](ctx, r, "site", netbox.EndpointSites, s.Name, s.Slug,
			netbox.SiteRequest{Name: s.Name, Slug: s.Slug, Status: s.Status})
		if err != nil {
			return err
		}
		r.sites[s.Name] = site
	}
	return nil
}

func (r *Reconciler) ensureRoles(ctx context.Context) error {
	for _, role := range r.doc.Roles {
		rec, err := ensureNamed[netbox.DeviceRole](ctx, r, "device role", netbox.EndpointDeviceRoles, role.Name, role.Slug,
			netbox.DeviceRoleRequest{Name: role.Name, Slug: role.Slug, Color: role.Color})
		if err != nil {
			return err
		}
		r.roles[role.Name] = rec
	}
	return nil
}

func (r *Reconciler) ensureManufacturers(ctx context.Context) error {
	for _, m := range r.doc.Manufacturers {
		rec, err := ensureNamed[netbox.Manufacturer](ctx, r, "manufacturer", netbox.EndpointManufacturers, m.Name, m.Slug,
			netbox.ManufacturerRequest{Name: m.Name, Slug: m.Slug})
		if err != nil {
			return err
		}
		r.manufacturers[m.Name] = rec
	}
	return nil
}

// ensureDeviceTypes ensures each model under its manufacturer. NetBox
// reports a duplicate as a unique-set violation on (manufacturer, model) or
// (manufacturer, slug).
func (r *Reconciler) ensureDeviceTypes(ctx context.Context) error {
	for _, dt := range r.doc.DeviceTypes {
		mfr, ok := r.manufacturers[dt.Manufacturer]
		if !ok {
			return fmt.Errorf("device type %s: manufacturer %q was not ensured", dt.Model, dt.Manufacturer)
		}
		req := netbox.DeviceTypeRequest{Model: dt.Model, Slug: dt.Slug, Manufacturer: mfr.ID}
		rec, _, err := ensure(ctx, r, EnsureOp[netbox.DeviceType]{
			Kind: "device type",
			Key:  dt.Model,
			Create: func(ctx context.Context) (*netbox.DeviceType, error) {
				return netbox.Create[netbox.DeviceType](ctx, r.client, netbox.EndpointDeviceTypes, req)
			},
			Fetch: func(ctx context.Context) (*netbox.DeviceType, error) {
				return netbox.Get[netbox.DeviceType](ctx, r.client, netbox.EndpointDeviceTypes,
					netbox.Query("manufacturer_id", netbox.ID(mfr.ID), "slug", dt.Slug))
			},
		})
		if err != nil {
			return err
		}
		r.deviceTypes[dt.Model] = rec
	}
	return nil
}

// ensureInterfaceTemplates adds {prefix}1..{prefix}N to every device type.
// Existing templates are skipped; nothing later refers to them.
func (r *Reconciler) ensureInterfaceTemplates(ctx context.Context) error {
	for _, dt := range r.doc.DeviceTypes {
		rec := r.deviceTypes[dt.Model]
		for pos := 1; pos <= dt.InterfaceCount; pos++ {
			req := netbox.InterfaceTemplateRequest{
				DeviceType: rec.ID,
				Name:       topology.InterfaceName(dt.InterfacePrefix, pos),
				Type:       dt.InterfaceType,
			}
			_, _, err := ensure(ctx, r, EnsureOp[netbox.InterfaceTemplate]{
				Kind: "interface template",
				Key:  dt.Model + " " + req.Name,
				Create: func(ctx context.Context) (*netbox.InterfaceTemplate, error) {
					return netbox.Create[netbox.InterfaceTemplate](ctx, r.client, netbox.EndpointInterfaceTemplates, req)
				},
			})
			if err != nil {
				return err
			}
		}
	}
	return nil
}

func (r *Reconciler) ensureTags(ctx context.Context) error {
	for _, t := range r.doc.Tags {
		rec, err := ensureNamed[netbox.Tag](ctx, r, "tag", netbox.EndpointTags, t.Name, t.Slug,
			netbox.TagRequest{Name: t.Name, Slug: t.Slug, Color: t.Color, Description: t.Description})
		if err != nil {
			return err
		}
		r.tags[t.Name] = rec
	}
	return nil
}

// ensureDevices creates every planned device. A device that already exists
// is fetched by name within its site so it still takes part in cabling and
// addressing; device order within a tier is the planned order.
func (r *Reconciler) ensureDevices(ctx context.Context) error {
	for _, pd := range r.doc.Devices() {
		g := r.doc.Groups[pd.Group]
		role, ok := r.roles[g.Role]
		if !ok {
			return fmt.Errorf("device %s: role %q was not ensured", pd.Name, g.Role)
		}
		dt, ok := r.deviceTypes[g.DeviceType]
		if !ok {
			return fmt.Errorf("device %s: device type %q was not ensured", pd.Name, g.DeviceType)
		}
		siteID, err := r.siteID(g.Site)
		if err != nil {
			return fmt.Errorf("device %s: %w", pd.Name, err)
		}

		req := netbox.DeviceRequest{
			Name:       pd.Name,
			Role:       role.ID,
			DeviceType: dt.ID,
			Site:       siteID,
			Status:     netbox.StatusActive,
			Tags:       netbox.TagRefs(g.Tags),
		}
		dev, _, err := ensure(ctx, r, EnsureOp[netbox.Device]{
			Kind: "device",
			Key:  pd.Name,
			Create: func(ctx context.Context) (*netbox.Device, error) {
				return netbox.Create[netbox.Device](ctx, r.client, netbox.EndpointDevices, req)
			},
			Fetch: func(ctx context.Context) (*netbox.Device, error) {
				return netbox.Get[netbox.Device](ctx, r.client, netbox.EndpointDevices,
					netbox.Query("name", pd.Name, "site_id", netbox.ID(siteID)))
			},
		})
		if err != nil {
			return err
		}
		r.devices[pd.Tier] = append(r.devices[pd.Tier], *dev)
	}
	return nil
}

// interfacePrefix discovers how a device names its ports from its first
// physical interface. The answer is cached for the rest of the run.
func (r *Reconciler) interfacePrefix(ctx context.Context, dev *netbox.Device) (string, error) {
	if p, ok := r.ifPrefix[dev.ID]; ok {
		return p, nil
	}
	ifaces, err := r.client.DeviceInterfaces(ctx, dev.ID)
	if err != nil {
		return "", fmt.Errorf("listing interfaces of %s: %w", dev.Name, err)
	}
	for i := range ifaces {
		if !ifaces[i].Physical() {
			continue
		}
		if p, ok := topology.InterfacePrefix(ifaces[i].Name); ok {
			r.ifPrefix[dev.ID] = p
			util.WithDevice(dev.Name).Debugf("interface prefix %q", p)
			return p, nil
		}
	}
	return "", util.NewPreconditionError("discover interface naming", dev.Name,
		"device has a numbered physical interface", fmt.Sprintf("%d interfaces listed", len(ifaces)))
}

// portInterface fetches the interface at a 1-based port position.
func (r *Reconciler) portInterface(ctx context.Context, dev *netbox.Device, port int) (*netbox.Interface, error) {
	prefix, err := r.interfacePrefix(ctx, dev)
	if err != nil {
		return nil, err
	}
	name := topology.InterfaceName(prefix, port)
	iface, err := r.client.InterfaceByName(ctx, dev.ID, name)
	if err != nil {
		return nil, fmt.Errorf("interface %s of %s: %w", name, dev.Name, err)
	}
	return iface, nil
}

// fabricLink is one planned link resolved to devices and interfaces.
type fabricLink struct {
	topology.Link
	spine, leaf     *netbox.Device
	spineIf, leafIf *netbox.Interface
}

func (l *fabricLink) String() string {
	return fmt.Sprintf("%s:%s <> %s:%s", l.spine.Name, l.spineIf.Name, l.leaf.Name, l.leafIf.Name)
}

// links resolves the full mesh of the ensured spines and leafs. Interfaces
// are read fresh so address counts reflect the current state.
func (r *Reconciler) links(ctx context.Context, each func(l *fabricLink) error) error {
	spines, leafs := r.devices[topology.TierSpine], r.devices[topology.TierLeaf]
	for _, link := range topology.FullMesh(len(spines), len(leafs)) {
		l := &fabricLink{Link: link, spine: &spines[link.SpineIndex], leaf: &leafs[link.LeafIndex]}
		var err error
		if l.spineIf, err = r.portInterface(ctx, l.spine, link.SpinePort); err != nil {
			return err
		}
		if l.leafIf, err = r.portInterface(ctx, l.leaf, link.LeafPort); err != nil {
			return err
		}
		if err := each(l); err != nil {
			return err
		}
	}
	return nil
}

// linkTags returns the tags for fabric cables: the link tag, when the
// document also defines it.
func (r *Reconciler) linkTags() []string {
	if _, ok := r.tags[r.doc.LinkTag]; ok && r.doc.LinkTag != "" {
		return []string{r.doc.LinkTag}
	}
	return nil
}

// ensureCabling connects spine port j+1 to leaf port i+1 for every spine i
// and leaf j. An interface that already has a cable is skipped without
// checking where the existing cable goes.
func (r *Reconciler) ensureCabling(ctx context.Context) error {
	tags := netbox.TagRefs(r.linkTags())
	return r.links(ctx, func(l *fabricLink) error {
		req := netbox.CableRequest{
			ATerminations: []netbox.Termination{{ObjectType: netbox.ObjectTypeInterface, ObjectID: l.spineIf.ID}},
			BTerminations: []netbox.Termination{{ObjectType: netbox.ObjectTypeInterface, ObjectID: l.leafIf.ID}},
			Status:        netbox.StatusConnected,
			Tags:          tags,
		}
		_, _, err := ensure(ctx, r, EnsureOp[netbox.Cable]{
			Kind: "cable",
			Key:  l.String(),
			Create: func(ctx context.Context) (*netbox.Cable, error) {
				return netbox.Create[netbox.Cable](ctx, r.client, netbox.EndpointCables, req)
			},
		})
		return err
	})
}
