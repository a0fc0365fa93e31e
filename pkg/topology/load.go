package topology

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/newtron-network/nbseed/pkg/util"
)

// Defaults filled in by Normalize when a field is left empty.
const (
	DefaultInterfacePrefix = "Ethernet"
	DefaultInterfaceType   = "1000base-t"
	DefaultStatus          = "active"
	DefaultColor           = "9e9e9e"
)

// Load reads a topology file, fills in defaults and validates it.
func Load(path string) (*Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading topology file: %w", err)
	}
	return Parse(data)
}

// Parse decodes a YAML topology, fills in defaults and validates it.
// Unknown keys are rejected so a misspelt field does not silently vanish.
func Parse(data []byte) (*Document, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var doc Document
	if err := dec.Decode(&doc); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("parsing topology YAML: %w", err)
	}

	doc.Normalize()
	if err := doc.Validate(); err != nil {
		return nil, fmt.Errorf("validating topology: %w", err)
	}
	return &doc, nil
}

// Marshal renders the document back to YAML.
func (d *Document) Marshal() ([]byte, error) {
	return yaml.Marshal(d)
}

// Normalize fills derived and defaulted fields in place.
func (d *Document) Normalize() {
	for i := range d.Sites {
		s := &d.Sites[i]
		s.Slug = slugOr(s.Slug, s.Name)
		if s.Status == "" {
			s.Status = DefaultStatus
		}
	}
	for i := range d.Roles {
		r := &d.Roles[i]
		r.Slug = slugOr(r.Slug, r.Name)
		if r.Color == "" {
			r.Color = DefaultColor
		}
	}
	for i := range d.Manufacturers {
		m := &d.Manufacturers[i]
		m.Slug = slugOr(m.Slug, m.Name)
	}
	for i := range d.DeviceTypes {
		dt := &d.DeviceTypes[i]
		dt.Slug = slugOr(dt.Slug, dt.Model)
		if dt.InterfacePrefix == "" {
			dt.InterfacePrefix = DefaultInterfacePrefix
		}
		if dt.InterfaceType == "" {
			dt.InterfaceType = DefaultInterfaceType
		}
	}
	for i := range d.Tags {
		t := &d.Tags[i]
		t.Slug = slugOr(t.Slug, t.Name)
		if t.Color == "" {
			t.Color = DefaultColor
		}
	}
	d.RIR.Slug = slugOr(d.RIR.Slug, d.RIR.Name)

	if len(d.Sites) > 0 {
		if d.Transit.Site == "" && !d.Transit.IsZero() {
			d.Transit.Site = d.Sites[0].Name
		}
		if d.Loopback.Site == "" && !d.Loopback.IsZero() {
			d.Loopback.Site = d.Sites[0].Name
		}
	}
	if d.Sessions.Status == "" {
		d.Sessions.Status = DefaultStatus
	}
}

func slugOr(slug, name string) string {
	if slug != "" {
		return slug
	}
	return util.Slugify(name)
}

// Validate checks the document's internal consistency: required fields are
// set, references between sections resolve and prefixes and numbers parse.
// Anything NetBox itself enforces is left to NetBox.
func (d *Document) Validate() error {
	v := &util.ValidationBuilder{}

	sites := nameSet(len(d.Sites), func(i int) string { return d.Sites[i].Name })
	roles := nameSet(len(d.Roles), func(i int) string { return d.Roles[i].Name })
	manufacturers := nameSet(len(d.Manufacturers), func(i int) string { return d.Manufacturers[i].Name })
	tags := nameSet(len(d.Tags), func(i int) string { return d.Tags[i].Name })

	v.Add(len(d.Sites) > 0, "at least one site is required")
	for i, s := range d.Sites {
		v.Add(s.Name != "", fmt.Sprintf("sites[%d]: name is required", i))
	}
	for i, r := range d.Roles {
		v.Add(r.Name != "", fmt.Sprintf("roles[%d]: name is required", i))
	}
	for i, t := range d.Tags {
		v.Add(t.Name != "", fmt.Sprintf("tags[%d]: name is required", i))
	}

	for _, dt := range d.DeviceTypes {
		v.Add(dt.Model != "", "device type model is required")
		if !manufacturers[dt.Manufacturer] {
			v.Addf("device type %s: unknown manufacturer %q", dt.Model, dt.Manufacturer)
		}
		v.Add(dt.InterfaceCount > 0, fmt.Sprintf("device type %s: interface_qty must be positive", dt.Model))
	}

	tierCount := map[Tier]int{}
	for i, g := range d.Groups {
		label := fmt.Sprintf("devices[%d] (%s)", i, g.Prefix)
		if g.Tier != TierSpine && g.Tier != TierLeaf {
			v.Addf("%s: tier must be 'spine' or 'leaf', got %q", label, g.Tier)
		}
		v.Add(g.Prefix != "", label+": prefix is required")
		v.Add(g.Quantity > 0, label+": qty must be positive")
		if !roles[g.Role] {
			v.Addf("%s: unknown role %q", label, g.Role)
		}
		if !sites[g.Site] {
			v.Addf("%s: unknown site %q", label, g.Site)
		}
		if _, ok := d.DeviceType(g.DeviceType); !ok {
			v.Addf("%s: unknown device type %q", label, g.DeviceType)
		}
		for _, t := range g.Tags {
			if !tags[t] {
				v.Addf("%s: unknown tag %q", label, t)
			}
		}
		tierCount[g.Tier] += g.Quantity
	}

	// Spine port j serves leaf j and leaf port i serves spine i.
	for _, g := range d.Groups {
		dt, ok := d.DeviceType(g.DeviceType)
		if !ok {
			continue
		}
		peers := tierCount[TierLeaf]
		if g.Tier == TierLeaf {
			peers = tierCount[TierSpine]
		}
		if peers > dt.InterfaceCount {
			v.Addf("devices %s: device type %s has %d interfaces but %d peers need one each",
				g.Prefix, dt.Model, dt.InterfaceCount, peers)
		}
	}

	if d.Transit.IsZero() {
		v.Addf("transit_prefix.prefix is required")
	} else {
		d.validatePrefix(v, "transit_prefix", d.Transit, 31, sites)
	}
	if !d.Loopback.IsZero() {
		d.validatePrefix(v, "loopback_prefix", d.Loopback, 32, sites)
	}

	v.Add(d.RIR.Name != "", "rir.name is required")
	if err := util.ValidateASN(d.ASNs.Spine.ASN); err != nil {
		v.Addf("asns.spine: %v", err)
	}
	if d.ASNs.Leaf.Same {
		if err := util.ValidateASN(d.ASNs.Leaf.ASN); err != nil {
			v.Addf("asns.leaf: same_asn requires asn: %v", err)
		}
	} else {
		last := d.ASNs.Leaf.RangeStart + int64(tierCount[TierLeaf]) - 1
		if err := util.ValidateASN(d.ASNs.Leaf.RangeStart); err != nil {
			v.Addf("asns.leaf.range_start: %v", err)
		} else if err := util.ValidateASN(last); err != nil {
			v.Addf("asns.leaf: range runs past the ASN space: %v", err)
		}
	}

	for _, vl := range d.VLANs {
		for _, t := range vl.Tags {
			if !tags[t] {
				v.Addf("vlan %s: unknown tag %q", vl.Name, t)
			}
		}
	}
	vlans, err := d.ExpandVLANs()
	if err != nil {
		v.Addf("%v", err)
	}
	for _, vl := range vlans {
		if err := util.ValidateVLANID(vl.VID); err != nil {
			v.Addf("vlan %s: %v", vl.Name, err)
		}
		if vl.VNI != 0 {
			if err := util.ValidateVNI(vl.VNI); err != nil {
				v.Addf("vlan %s: %v", vl.Name, err)
			}
		}
		if vl.Site != "" && !sites[vl.Site] {
			v.Addf("vlan %s: unknown site %q", vl.Name, vl.Site)
		}
	}

	return v.Build()
}

func (d *Document) validatePrefix(v *util.ValidationBuilder, field string, p Prefix, childLen int, sites map[string]bool) {
	if !util.IsValidIPv4CIDR(p.Prefix) {
		v.Addf("%s: invalid IPv4 prefix %q", field, p.Prefix)
		return
	}
	if _, maskLen := util.SplitIPMask(p.Prefix); maskLen > childLen {
		v.Addf("%s: /%d cannot hold /%d children", field, maskLen, childLen)
	}
	if p.Site != "" && !sites[p.Site] {
		v.Addf("%s: unknown site %q", field, p.Site)
	}
}

func nameSet(n int, name func(int) string) map[string]bool {
	set := make(map[string]bool, n)
	for i := 0; i < n; i++ {
		set[name(i)] = true
	}
	return set
}
