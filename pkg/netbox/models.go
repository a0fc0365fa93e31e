package netbox

import (
	"encoding/json"
	"fmt"
)

// REST endpoints, relative to /api/.
const (
	EndpointSites              = "dcim/sites"
	EndpointDeviceRoles        = "dcim/device-roles"
	EndpointManufacturers      = "dcim/manufacturers"
	EndpointDeviceTypes        = "dcim/device-types"
	EndpointInterfaceTemplates = "dcim/interface-templates"
	EndpointDevices            = "dcim/devices"
	EndpointInterfaces         = "dcim/interfaces"
	EndpointCables             = "dcim/cables"
	EndpointTags               = "extras/tags"
	EndpointPrefixes           = "ipam/prefixes"
	EndpointIPAddresses        = "ipam/ip-addresses"
	EndpointRIRs               = "ipam/rirs"
	EndpointASNs               = "ipam/asns"
	EndpointVLANs              = "ipam/vlans"
	EndpointL2VPNs             = "vpn/l2vpns"
	EndpointL2VPNTerminations  = "vpn/l2vpn-terminations"
	EndpointBGPSessions        = "plugins/bgp/session"
)

// Content types used for generic object references.
const (
	ObjectTypeInterface = "dcim.interface"
	ObjectTypeVLAN      = "ipam.vlan"
)

// Interface types with special handling.
const (
	InterfaceTypeVirtual = "virtual"
	InterfaceTypeLAG     = "lag"
)

// Status values written by the seeder.
const (
	StatusActive    = "active"
	StatusContainer = "container"
	StatusConnected = "connected"
)

// L2VPNTypeVXLAN is the L2VPN type for VNI-backed VLANs.
const L2VPNTypeVXLAN = "vxlan"

// Ref is a nested reference to another object as returned in read payloads.
type Ref struct {
	ID      int    `json:"id"`
	URL     string `json:"url,omitempty"`
	Display string `json:"display,omitempty"`
	Name    string `json:"name,omitempty"`
	Slug    string `json:"slug,omitempty"`
}

// Choice is a choice field. NetBox reads it as {"value": ..., "label": ...};
// a bare string is accepted too.
type Choice struct {
	Value string `json:"value"`
	Label string `json:"label,omitempty"`
}

func (c *Choice) UnmarshalJSON(data []byte) error {
	if len(data) > 0 && data[0] == '"' {
		return json.Unmarshal(data, &c.Value)
	}
	type plain Choice
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return fmt.Errorf("decoding choice: %w", err)
	}
	*c = Choice(p)
	return nil
}

// TagRef names a tag in a write payload.
type TagRef struct {
	Name string `json:"name"`
}

// TagRefs builds tag references from names.
func TagRefs(names []string) []TagRef {
	if len(names) == 0 {
		return nil
	}
	refs := make([]TagRef, len(names))
	for i, n := range names {
		refs[i] = TagRef{Name: n}
	}
	return refs
}

// Object carries the fields every read record has.
type Object struct {
	ID      int    `json:"id"`
	URL     string `json:"url,omitempty"`
	Display string `json:"display,omitempty"`
}

// ObjectID returns the record's primary key.
func (o Object) ObjectID() int { return o.ID }

// Termination is one end of a cable.
type Termination struct {
	ObjectType string `json:"object_type"`
	ObjectID   int    `json:"object_id"`
}

// Status is the payload of /api/status/.
type Status struct {
	NetBoxVersion string                 `json:"netbox-version"`
	Plugins       map[string]interface{} `json:"plugins,omitempty"`
}

// ============================================================================
// DCIM
// ============================================================================

type Site struct {
	Object
	Name   string `json:"name"`
	Slug   string `json:"slug"`
	Status Choice `json:"status"`
}

type SiteRequest struct {
	Name   string `json:"name"`
	Slug   string `json:"slug"`
	Status string `json:"status,omitempty"`
}

type DeviceRole struct {
	Object
	Name  string `json:"name"`
	Slug  string `json:"slug"`
	Color string `json:"color,omitempty"`
}

type DeviceRoleRequest struct {
	Name  string `json:"name"`
	Slug  string `json:"slug"`
	Color string `json:"color,omitempty"`
}

type Manufacturer struct {
	Object
	Name string `json:"name"`
	Slug string `json:"slug"`
}

type ManufacturerRequest struct {
	Name string `json:"name"`
	Slug string `json:"slug"`
}

type DeviceType struct {
	Object
	Model        string `json:"model"`
	Slug         string `json:"slug"`
	Manufacturer *Ref   `json:"manufacturer"`
}

type DeviceTypeRequest struct {
	Model        string `json:"model"`
	Slug         string `json:"slug"`
	Manufacturer int    `json:"manufacturer"`
}

type InterfaceTemplate struct {
	Object
	Name       string `json:"name"`
	Type       Choice `json:"type"`
	DeviceType *Ref   `json:"device_type"`
}

type InterfaceTemplateRequest struct {
	DeviceType int    `json:"device_type"`
	Name       string `json:"name"`
	Type       string `json:"type"`
}

type Device struct {
	Object
	Name       string `json:"name"`
	Role       *Ref   `json:"role"`
	DeviceType *Ref   `json:"device_type"`
	Site       *Ref   `json:"site"`
	Status     Choice `json:"status"`
	Tags       []Ref  `json:"tags,omitempty"`
}

type DeviceRequest struct {
	Name       string   `json:"name"`
	Role       int      `json:"role"`
	DeviceType int      `json:"device_type"`
	Site       int      `json:"site"`
	Status     string   `json:"status,omitempty"`
	Tags       []TagRef `json:"tags,omitempty"`
}

type Interface struct {
	Object
	Name             string `json:"name"`
	Device           *Ref   `json:"device"`
	Type             Choice `json:"type"`
	Cable            *Ref   `json:"cable"`
	CountIPAddresses int    `json:"count_ipaddresses"`
	Tags             []Ref  `json:"tags,omitempty"`
}

// Physical reports whether the interface can carry a cable.
func (i *Interface) Physical() bool {
	return i.Type.Value != InterfaceTypeVirtual && i.Type.Value != InterfaceTypeLAG
}

type InterfaceRequest struct {
	Device int    `json:"device"`
	Name   string `json:"name"`
	Type   string `json:"type"`
}

// InterfaceTagsPatch replaces an interface's tags.
type InterfaceTagsPatch struct {
	Tags []TagRef `json:"tags"`
}

type Cable struct {
	Object
	Status        Choice        `json:"status"`
	ATerminations []Termination `json:"a_terminations"`
	BTerminations []Termination `json:"b_terminations"`
}

type CableRequest struct {
	ATerminations []Termination `json:"a_terminations"`
	BTerminations []Termination `json:"b_terminations"`
	Status        string        `json:"status,omitempty"`
	Tags          []TagRef      `json:"tags,omitempty"`
}

// ============================================================================
// Extras
// ============================================================================

type Tag struct {
	Object
	Name  string `json:"name"`
	Slug  string `json:"slug"`
	Color string `json:"color,omitempty"`
}

type TagRequest struct {
	Name        string `json:"name"`
	Slug        string `json:"slug"`
	Color       string `json:"color,omitempty"`
	Description string `json:"description,omitempty"`
}

// ============================================================================
// IPAM
// ============================================================================

type Prefix struct {
	Object
	Prefix      string `json:"prefix"`
	Site        *Ref   `json:"site"`
	Status      Choice `json:"status"`
	Description string `json:"description,omitempty"`
}

type PrefixRequest struct {
	Prefix      string `json:"prefix"`
	Site        int    `json:"site,omitempty"`
	Status      string `json:"status,omitempty"`
	Description string `json:"description,omitempty"`
}

// AvailablePrefixRequest carves a child out of a parent prefix.
type AvailablePrefixRequest struct {
	PrefixLength int    `json:"prefix_length"`
	Site         int    `json:"site,omitempty"`
	Status       string `json:"status,omitempty"`
	Description  string `json:"description,omitempty"`
}

type IPAddress struct {
	Object
	Address            string `json:"address"`
	AssignedObjectType string `json:"assigned_object_type,omitempty"`
	AssignedObjectID   int    `json:"assigned_object_id,omitempty"`
	Status             Choice `json:"status"`
	Description        string `json:"description,omitempty"`
}

// AvailableIPRequest takes the next free address of a prefix and assigns it.
type AvailableIPRequest struct {
	AssignedObjectType string `json:"assigned_object_type,omitempty"`
	AssignedObjectID   int    `json:"assigned_object_id,omitempty"`
	Status             string `json:"status,omitempty"`
	Description        string `json:"description,omitempty"`
}

type RIR struct {
	Object
	Name      string `json:"name"`
	Slug      string `json:"slug"`
	IsPrivate bool   `json:"is_private"`
}

type RIRRequest struct {
	Name      string `json:"name"`
	Slug      string `json:"slug"`
	IsPrivate bool   `json:"is_private"`
}

type ASN struct {
	Object
	ASN         int64  `json:"asn"`
	RIR         *Ref   `json:"rir"`
	Description string `json:"description,omitempty"`
}

type ASNRequest struct {
	ASN         int64  `json:"asn"`
	RIR         int    `json:"rir"`
	Description string `json:"description,omitempty"`
}

type VLAN struct {
	Object
	Name   string `json:"name"`
	VID    int    `json:"vid"`
	Site   *Ref   `json:"site"`
	Status Choice `json:"status"`
}

type VLANRequest struct {
	Name   string   `json:"name"`
	VID    int      `json:"vid"`
	Site   int      `json:"site,omitempty"`
	Status string   `json:"status,omitempty"`
	Tags   []TagRef `json:"tags,omitempty"`
}

// ============================================================================
// VPN
// ============================================================================

type L2VPN struct {
	Object
	Name       string `json:"name"`
	Slug       string `json:"slug"`
	Type       Choice `json:"type"`
	Identifier int64  `json:"identifier"`
}

type L2VPNRequest struct {
	Name       string `json:"name"`
	Slug       string `json:"slug"`
	Type       string `json:"type"`
	Identifier int64  `json:"identifier,omitempty"`
}

type L2VPNTermination struct {
	Object
	L2VPN              *Ref   `json:"l2vpn"`
	AssignedObjectType string `json:"assigned_object_type"`
	AssignedObjectID   int    `json:"assigned_object_id"`
}

type L2VPNTerminationRequest struct {
	L2VPN              int    `json:"l2vpn"`
	AssignedObjectType string `json:"assigned_object_type"`
	AssignedObjectID   int    `json:"assigned_object_id"`
}

// ============================================================================
// BGP plugin
// ============================================================================

type BGPSession struct {
	Object
	Name          string `json:"name"`
	Device        *Ref   `json:"device"`
	LocalAS       *Ref   `json:"local_as"`
	RemoteAS      *Ref   `json:"remote_as"`
	LocalAddress  *Ref   `json:"local_address"`
	RemoteAddress *Ref   `json:"remote_address"`
	Status        Choice `json:"status"`
}

type BGPSessionRequest struct {
	Name          string `json:"name"`
	Site          int    `json:"site,omitempty"`
	Device        int    `json:"device"`
	LocalAS       int    `json:"local_as"`
	RemoteAS      int    `json:"remote_as"`
	LocalAddress  int    `json:"local_address"`
	RemoteAddress int    `json:"remote_address"`
	Status        string `json:"status,omitempty"`
	Description   string `json:"description,omitempty"`
}
