package netbox

import (
	"context"
	"net/http"
)

// DeviceInterfaces lists a device's interfaces.
func (c *Client) DeviceInterfaces(ctx context.Context, deviceID int) ([]Interface, error) {
	return List[Interface](ctx, c, EndpointInterfaces, Query("device_id", ID(deviceID)))
}

// InterfaceByName fetches one interface of a device.
func (c *Client) InterfaceByName(ctx context.Context, deviceID int, name string) (*Interface, error) {
	return Get[Interface](ctx, c, EndpointInterfaces, Query("device_id", ID(deviceID), "name", name))
}

// InterfaceAddresses lists the IP addresses assigned to an interface.
func (c *Client) InterfaceAddresses(ctx context.Context, interfaceID int) ([]IPAddress, error) {
	return List[IPAddress](ctx, c, EndpointIPAddresses, Query("interface_id", ID(interfaceID)))
}

// TagInterface replaces an interface's tags. A tag that does not exist comes
// back as a NotFoundError on the "tags" field.
func (c *Client) TagInterface(ctx context.Context, interfaceID int, tags []string) (*Interface, error) {
	return Patch[Interface](ctx, c, EndpointInterfaces, interfaceID, InterfaceTagsPatch{Tags: TagRefs(tags)})
}

// PrefixByCIDR looks up a prefix by its CIDR string.
func (c *Client) PrefixByCIDR(ctx context.Context, cidr string) (*Prefix, error) {
	return Get[Prefix](ctx, c, EndpointPrefixes, Query("prefix", cidr))
}

// AllocatePrefix carves the next free child of the given length out of parent.
func (c *Client) AllocatePrefix(ctx context.Context, parentID int, req AvailablePrefixRequest) (*Prefix, error) {
	var out Prefix
	path := c.apiPath(EndpointPrefixes, ID(parentID), "available-prefixes")
	if err := c.do(ctx, http.MethodPost, EndpointPrefixes, path, nil, req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// AllocateIP takes the next free address of a prefix.
func (c *Client) AllocateIP(ctx context.Context, prefixID int, req AvailableIPRequest) (*IPAddress, error) {
	var out IPAddress
	path := c.apiPath(EndpointPrefixes, ID(prefixID), "available-ips")
	if err := c.do(ctx, http.MethodPost, EndpointIPAddresses, path, nil, req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}
