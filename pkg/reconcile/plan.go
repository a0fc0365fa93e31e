package reconcile

import (
	"github.com/newtron-network/nbseed/pkg/topology"
)

// Plan is what a document expands to, computed without contacting NetBox.
// Interface names assume each device type's configured prefix; a run
// discovers the real one.
type Plan struct {
	Document string       `json:"document"`
	Steps    []string     `json:"steps"`
	Devices  []PlanDevice `json:"devices"`
	Links    []PlanLink   `json:"links"`
	VLANs    []PlanVLAN   `json:"vlans,omitempty"`
	Prefixes []PlanPrefix `json:"prefixes"`
}

type PlanDevice struct {
	Name       string        `json:"name"`
	Tier       topology.Tier `json:"tier"`
	Role       string        `json:"role"`
	DeviceType string        `json:"device_type"`
	Site       string        `json:"site"`
	ASN        int64         `json:"asn"`
}

type PlanLink struct {
	Spine          string `json:"spine"`
	SpineInterface string `json:"spine_interface"`
	Leaf           string `json:"leaf"`
	LeafInterface  string `json:"leaf_interface"`
}

type PlanVLAN struct {
	Name  string `json:"name"`
	VID   int    `json:"vid"`
	VNI   int    `json:"vni,omitempty"`
	L2VPN string `json:"l2vpn,omitempty"`
	Site  string `json:"site,omitempty"`
}

type PlanPrefix struct {
	Role        string `json:"role"`
	Prefix      string `json:"prefix"`
	ChildLength int    `json:"child_length"`
	Children    int    `json:"children"`
}

// NewPlan expands doc into devices, links, ASNs and VLANs.
func NewPlan(doc *topology.Document) (*Plan, error) {
	p := &Plan{
		Document: doc.Name,
		Steps:    New(nil, doc, Options{}).StepNames(),
	}

	devices := doc.Devices()
	leafASNs := topology.LeafASNs(doc.ASNs.Leaf, len(doc.DeviceNames(topology.TierLeaf)))
	byTier := map[topology.Tier][]PlanDevice{}
	for _, pd := range devices {
		g := doc.Groups[pd.Group]
		d := PlanDevice{
			Name:       pd.Name,
			Tier:       pd.Tier,
			Role:       g.Role,
			DeviceType: g.DeviceType,
			Site:       g.Site,
			ASN:        doc.ASNs.Spine.ASN,
		}
		if pd.Tier == topology.TierLeaf {
			d.ASN = leafASNs[len(byTier[pd.Tier])]
		}
		byTier[pd.Tier] = append(byTier[pd.Tier], d)
		p.Devices = append(p.Devices, d)
	}

	spines, leafs := byTier[topology.TierSpine], byTier[topology.TierLeaf]
	for _, l := range topology.FullMesh(len(spines), len(leafs)) {
		spine, leaf := spines[l.SpineIndex], leafs[l.LeafIndex]
		p.Links = append(p.Links, PlanLink{
			Spine:          spine.Name,
			SpineInterface: topology.InterfaceName(portPrefix(doc, spine.DeviceType), l.SpinePort),
			Leaf:           leaf.Name,
			LeafInterface:  topology.InterfaceName(portPrefix(doc, leaf.DeviceType), l.LeafPort),
		})
	}

	p.Prefixes = append(p.Prefixes, PlanPrefix{
		Role:        "transit",
		Prefix:      doc.Transit.Prefix,
		ChildLength: TransitPrefixLength,
		Children:    len(p.Links),
	})
	if !doc.Loopback.IsZero() {
		p.Prefixes = append(p.Prefixes, PlanPrefix{
			Role:        "loopback",
			Prefix:      doc.Loopback.Prefix,
			ChildLength: LoopbackPrefixLength,
			Children:    len(devices),
		})
	}

	vlans, err := doc.ExpandVLANs()
	if err != nil {
		return nil, err
	}
	for _, v := range vlans {
		pv := PlanVLAN{Name: v.Name, VID: v.VID, VNI: v.VNI, Site: v.Site}
		if v.VNI != 0 {
			pv.L2VPN = L2VPNName(v.Name, v.VNI)
		}
		p.VLANs = append(p.VLANs, pv)
	}
	return p, nil
}

func portPrefix(doc *topology.Document, model string) string {
	if dt, ok := doc.DeviceType(model); ok && dt.InterfacePrefix != "" {
		return dt.InterfacePrefix
	}
	return topology.DefaultInterfacePrefix
}
