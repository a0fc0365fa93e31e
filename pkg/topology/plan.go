package topology

import (
	"fmt"

	"github.com/newtron-network/nbseed/pkg/util"
)

// PlannedDevice is one device a group expands into.
type PlannedDevice struct {
	Name  string
	Group int // index into Document.Groups
	Tier  Tier
}

// Link pairs one spine with one leaf. Indices are 0-based positions in the
// tier's device list; ports are 1-based interface positions.
//
// The spine uses the leaf's index for its port and the leaf uses the spine's
// index, so spine port j is used once per leaf and leaf port i once per spine.
type Link struct {
	SpineIndex int
	LeafIndex  int
	SpinePort  int
	LeafPort   int
}

// FullMesh returns one link for every (spine, leaf) pair in spine-major order.
func FullMesh(spines, leafs int) []Link {
	links := make([]Link, 0, spines*leafs)
	for i := 0; i < spines; i++ {
		for j := 0; j < leafs; j++ {
			links = append(links, Link{
				SpineIndex: i,
				LeafIndex:  j,
				SpinePort:  j + 1,
				LeafPort:   i + 1,
			})
		}
	}
	return links
}

// LeafASNs returns the ASN for each of n leafs in device order. The sequential
// scheme always yields RangeStart..RangeStart+n-1; a remote conflict on one
// number never shifts the numbers after it.
func LeafASNs(p LeafASN, n int) []int64 {
	asns := make([]int64, n)
	for i := range asns {
		if p.Same {
			asns[i] = p.ASN
		} else {
			asns[i] = p.RangeStart + int64(i)
		}
	}
	return asns
}

// Devices expands every group into its devices, in group then index order.
func (d *Document) Devices() []PlannedDevice {
	var out []PlannedDevice
	for gi, g := range d.Groups {
		for i := 1; i <= g.Quantity; i++ {
			out = append(out, PlannedDevice{
				Name:  DeviceName(g.Prefix, i, DeviceIndexWidth),
				Group: gi,
				Tier:  g.Tier,
			})
		}
	}
	return out
}

// DeviceNames returns the planned device names of one tier, in order.
func (d *Document) DeviceNames(tier Tier) []string {
	var names []string
	for _, dev := range d.Devices() {
		if dev.Tier == tier {
			names = append(names, dev.Name)
		}
	}
	return names
}

// DeviceType returns the device type with the given model.
func (d *Document) DeviceType(model string) (DeviceType, bool) {
	for _, dt := range d.DeviceTypes {
		if dt.Model == model {
			return dt, true
		}
	}
	return DeviceType{}, false
}

// PlannedVLAN is one concrete VLAN after range expansion.
type PlannedVLAN struct {
	Name string
	VID  int
	VNI  int
	Site string
	Tags []string
}

// ExpandVLANs flattens single VLANs and VID ranges into concrete VLANs.
func (d *Document) ExpandVLANs() ([]PlannedVLAN, error) {
	var out []PlannedVLAN
	for _, v := range d.VLANs {
		if v.VIDs == "" {
			out = append(out, PlannedVLAN{Name: v.Name, VID: v.VID, VNI: v.VNI, Site: v.Site, Tags: v.Tags})
			continue
		}
		vids, err := util.ExpandVLANRange(v.VIDs)
		if err != nil {
			return nil, fmt.Errorf("vlan %s: %w", v.Name, err)
		}
		for _, vid := range vids {
			pv := PlannedVLAN{Name: fmt.Sprintf("%s%d", v.Name, vid), VID: vid, Site: v.Site, Tags: v.Tags}
			if v.VNI > 0 {
				pv.VNI = v.VNI + vid
			}
			out = append(out, pv)
		}
	}
	return out, nil
}
