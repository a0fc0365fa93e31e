// Package topology defines the desired-state document for a seeded leaf-spine
// lab and the pure functions that expand it into device names, links, ASNs and
// VLANs. Nothing in this package talks to NetBox.
package topology

// Tier is the fabric layer a device group belongs to.
type Tier string

const (
	TierSpine Tier = "spine"
	TierLeaf  Tier = "leaf"
)

// Document is the top-level structure for a topology file.
type Document struct {
	Name          string         `yaml:"name"`
	Sites         []Site         `yaml:"sites"`
	Roles         []Role         `yaml:"roles"`
	Manufacturers []Manufacturer `yaml:"manufacturers"`
	DeviceTypes   []DeviceType   `yaml:"device_types"`
	Tags          []Tag          `yaml:"tags,omitempty"`
	Groups        []DeviceGroup  `yaml:"devices"`
	Transit       Prefix         `yaml:"transit_prefix"`
	Loopback      Prefix         `yaml:"loopback_prefix,omitempty"`
	RIR           RIR            `yaml:"rir"`
	ASNs          ASNPolicy      `yaml:"asns"`
	Sessions      SessionPolicy  `yaml:"bgp_sessions,omitempty"`
	LinkTag       string         `yaml:"link_tag,omitempty"` // tag applied to every fabric link interface
	VLANs         []VLAN         `yaml:"vlans,omitempty"`
}

// Site is a NetBox site.
type Site struct {
	Name   string `yaml:"name"`
	Slug   string `yaml:"slug,omitempty"`
	Status string `yaml:"status,omitempty"`
}

// Role is a NetBox device role.
type Role struct {
	Name  string `yaml:"name"`
	Slug  string `yaml:"slug,omitempty"`
	Color string `yaml:"color,omitempty"`
}

// Manufacturer is a hardware vendor.
type Manufacturer struct {
	Name string `yaml:"name"`
	Slug string `yaml:"slug,omitempty"`
}

// DeviceType describes a switch model and the interfaces every instance gets.
type DeviceType struct {
	Model           string `yaml:"model"`
	Slug            string `yaml:"slug,omitempty"`
	Manufacturer    string `yaml:"manufacturer"`
	InterfaceCount  int    `yaml:"interface_qty"`
	InterfacePrefix string `yaml:"interface_prefix,omitempty"` // "Ethernet" -> Ethernet1..N
	InterfaceType   string `yaml:"interface_type,omitempty"`
}

// Tag is a NetBox tag.
type Tag struct {
	Name        string `yaml:"name"`
	Slug        string `yaml:"slug,omitempty"`
	Color       string `yaml:"color,omitempty"`
	Description string `yaml:"description,omitempty"`
}

// DeviceGroup expands into Quantity devices named {Prefix}01..{Prefix}NN.
type DeviceGroup struct {
	Tier       Tier     `yaml:"tier"`
	Prefix     string   `yaml:"prefix"`
	Role       string   `yaml:"role"`
	DeviceType string   `yaml:"device_type"` // DeviceType.Model
	Site       string   `yaml:"site"`
	Quantity   int      `yaml:"qty"`
	Tags       []string `yaml:"tags,omitempty"`
}

// Prefix is a parent prefix that /31 or /32 children are carved from.
type Prefix struct {
	Prefix      string `yaml:"prefix"`
	Site        string `yaml:"site,omitempty"`
	Description string `yaml:"description,omitempty"`
}

// IsZero reports whether no prefix was configured.
func (p Prefix) IsZero() bool { return p.Prefix == "" }

// RIR is the namespace ASNs are allocated from.
type RIR struct {
	Name      string `yaml:"name"`
	Slug      string `yaml:"slug,omitempty"`
	IsPrivate bool   `yaml:"is_private"`
}

// ASNPolicy assigns one ASN to every spine and either a shared or a
// sequential ASN to the leafs.
type ASNPolicy struct {
	Spine SpineASN `yaml:"spine"`
	Leaf  LeafASN  `yaml:"leaf"`
}

// SpineASN is shared by all spines.
type SpineASN struct {
	ASN int64 `yaml:"asn"`
}

// LeafASN selects the leaf allocation scheme. With Same set every leaf uses
// ASN; otherwise leafs get RangeStart, RangeStart+1, ... in device order.
type LeafASN struct {
	ASN        int64 `yaml:"asn,omitempty"`
	Same       bool  `yaml:"same_asn,omitempty"`
	RangeStart int64 `yaml:"range_start,omitempty"`
}

// SessionPolicy controls BGP session records.
type SessionPolicy struct {
	Bidirectional bool   `yaml:"bidirectional,omitempty"`
	Status        string `yaml:"status,omitempty"`
}

// VLAN is one VLAN or, with VIDs set, a range of VLANs. When VIDs is used the
// VLAN name becomes {Name}{vid} and a non-zero VNI is an offset added to each vid.
type VLAN struct {
	Name string   `yaml:"name"`
	VID  int      `yaml:"vid,omitempty"`
	VIDs string   `yaml:"vids,omitempty"`
	VNI  int      `yaml:"vni,omitempty"`
	Site string   `yaml:"site,omitempty"`
	Tags []string `yaml:"tags,omitempty"`
}
