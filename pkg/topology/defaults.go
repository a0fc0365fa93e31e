package topology

// Default returns the built-in lab: one site, two Arista cEOS spines and four
// leafs, a /24 for transit links and one for loopbacks, private ASNs and two
// VXLAN-backed VLANs.
func Default() *Document {
	doc := &Document{
		Name:  "vagrantlab",
		Sites: []Site{{Name: "vagrantlab", Slug: "vagrantlab"}},
		Roles: []Role{
			{Name: "leaf", Slug: "leaf"},
			{Name: "spine", Slug: "spine"},
		},
		Manufacturers: []Manufacturer{{Name: "Arista", Slug: "arista"}},
		DeviceTypes: []DeviceType{{
			Model:          "ceos-switch",
			Slug:           "ceosswitch",
			Manufacturer:   "Arista",
			InterfaceCount: 24,
		}},
		Tags: []Tag{{Name: "fabric", Slug: "fabric", Color: "2196f3", Description: "Leaf-spine fabric link"}},
		Groups: []DeviceGroup{
			{
				Tier:       TierSpine,
				Prefix:     "ceos-spine-",
				Role:       "spine",
				DeviceType: "ceos-switch",
				Site:       "vagrantlab",
				Quantity:   2,
			},
			{
				Tier:       TierLeaf,
				Prefix:     "ceos-leaf-",
				Role:       "leaf",
				DeviceType: "ceos-switch",
				Site:       "vagrantlab",
				Quantity:   4,
			},
		},
		Transit:  Prefix{Prefix: "192.168.254.0/24", Site: "vagrantlab", Description: "Fabric transit links"},
		Loopback: Prefix{Prefix: "192.168.255.0/24", Site: "vagrantlab", Description: "Router loopbacks"},
		RIR:      RIR{Name: "VagrantLabRIR", Slug: "vagrantlabrir", IsPrivate: true},
		ASNs: ASNPolicy{
			Spine: SpineASN{ASN: 65100},
			Leaf:  LeafASN{RangeStart: 64601},
		},
		Sessions: SessionPolicy{Bidirectional: true},
		LinkTag:  "fabric",
		VLANs:    []VLAN{{Name: "tenant", VIDs: "100-101", VNI: 10000, Site: "vagrantlab"}},
	}
	doc.Normalize()
	return doc
}
