package nbsim

import (
	"fmt"
	"net/netip"
	"strings"

	"github.com/newtron-network/nbseed/pkg/netbox"
)

// kind describes one simulated model: which fields it accepts, which of them
// reference other objects, and which natural keys it claims.
type kind struct {
	endpoint string
	model    string // verbose name used in error messages
	display  func(id int, o object) string

	fields   []string          // writable scalar fields
	choices  map[string]string // choice fields and their defaults ("" = no default)
	required []string
	refs     map[string]string // reference field -> endpoint of the target kind
	lists    []string          // list fields stored as written
	tagged   bool
	assigned bool // has assigned_object_type / assigned_object_id

	keys func(o object) []naturalKey
}

func (k *kind) accepts(field string) bool {
	if _, ok := k.refs[field]; ok {
		return true
	}
	if _, ok := k.choices[field]; ok {
		return true
	}
	if field == "tags" {
		return k.tagged
	}
	if field == "assigned_object_type" || field == "assigned_object_id" {
		return k.assigned
	}
	return contains(k.fields, field) || contains(k.lists, field)
}

// assignedKinds maps generic object types to the endpoint that stores them.
var assignedKinds = map[string]string{
	netbox.ObjectTypeInterface: netbox.EndpointInterfaces,
	netbox.ObjectTypeVLAN:      netbox.EndpointVLANs,
}

func byName(_ int, o object) string { return text(o["name"]) }

// unique builds natural keys from field sets. A single field is reported as
// "<model> with this <field> already exists."; a set is reported by DRF's
// unique-together message.
func unique(model string, sets ...[]string) func(object) []naturalKey {
	return func(o object) []naturalKey {
		keys := make([]naturalKey, 0, len(sets))
		for _, set := range sets {
			vals := make([]string, len(set))
			for i, f := range set {
				vals[i] = strings.ToLower(text(o[f]))
			}
			nk := naturalKey{Key: strings.Join(set, ",") + "=" + strings.Join(vals, "\x1f")}
			if len(set) == 1 {
				msg := fmt.Sprintf("%s with this %s already exists.", model, set[0])
				nk.Field = set[0]
				nk.message = func(int) string { return msg }
			} else {
				msg := fmt.Sprintf("The fields %s must make a unique set.", strings.Join(set, ", "))
				nk.Field = "non_field_errors"
				nk.message = func(int) string { return msg }
			}
			keys = append(keys, nk)
		}
		return keys
	}
}

func deviceKeys(o object) []naturalKey {
	return []naturalKey{{
		Key:     "site,name=" + text(o["site"]) + "\x1f" + strings.ToLower(text(o["name"])),
		Field:   "__all__",
		message: func(int) string { return "Device name must be unique per site." },
	}}
}

// cableKeys claims every termination, so an interface carries one cable.
func cableKeys(o object) []naturalKey {
	var keys []naturalKey
	for _, side := range []string{"a_terminations", "b_terminations"} {
		for _, t := range terminations(o[side]) {
			ref := fmt.Sprintf("%s:%d", t.ObjectType, t.ObjectID)
			keys = append(keys, naturalKey{
				Key:   "termination=" + ref,
				Field: side,
				message: func(owner int) string {
					return fmt.Sprintf("Duplicate termination found for %s: cable %d", ref, owner)
				},
			})
		}
	}
	return keys
}

// vlanKeys claims (group, vid) and (group, name) only for grouped VLANs; a
// NULL group never collides, so ungrouped duplicates are accepted.
func vlanKeys(o object) []naturalKey {
	if text(o["group"]) == "" {
		return nil
	}
	return unique("VLAN", []string{"group", "vid"}, []string{"group", "name"})(o)
}

func prefixKeys(o object) []naturalKey {
	p, err := netip.ParsePrefix(text(o["prefix"]))
	if err != nil {
		return nil
	}
	canon := p.Masked().String()
	return []naturalKey{{
		Key:     "prefix=" + canon,
		Field:   "prefix",
		message: func(int) string { return "Duplicate prefix found in global table: " + canon },
	}}
}

func addressKeys(o object) []naturalKey {
	p, err := netip.ParsePrefix(text(o["address"]))
	if err != nil {
		return nil
	}
	addr := p.String()
	return []naturalKey{{
		Key:     "address=" + p.Addr().String(),
		Field:   "address",
		message: func(int) string { return "Duplicate IP address found in global table: " + addr },
	}}
}

var kinds = []*kind{
	{
		endpoint: netbox.EndpointSites,
		model:    "site",
		display:  byName,
		fields:   []string{"name", "slug", "description"},
		choices:  map[string]string{"status": netbox.StatusActive},
		required: []string{"name", "slug"},
		tagged:   true,
		keys:     unique("site", []string{"name"}, []string{"slug"}),
	},
	{
		endpoint: netbox.EndpointDeviceRoles,
		model:    "device role",
		display:  byName,
		fields:   []string{"name", "slug", "color", "description"},
		required: []string{"name", "slug"},
		keys:     unique("device role", []string{"name"}, []string{"slug"}),
	},
	{
		endpoint: netbox.EndpointManufacturers,
		model:    "manufacturer",
		display:  byName,
		fields:   []string{"name", "slug", "description"},
		required: []string{"name", "slug"},
		keys:     unique("manufacturer", []string{"name"}, []string{"slug"}),
	},
	{
		endpoint: netbox.EndpointDeviceTypes,
		model:    "device type",
		display:  func(_ int, o object) string { return text(o["model"]) },
		fields:   []string{"model", "slug", "u_height"},
		required: []string{"manufacturer", "model", "slug"},
		refs:     map[string]string{"manufacturer": netbox.EndpointManufacturers},
		keys:     unique("device type", []string{"manufacturer", "model"}, []string{"manufacturer", "slug"}),
	},
	{
		endpoint: netbox.EndpointInterfaceTemplates,
		model:    "interface template",
		display:  byName,
		fields:   []string{"name", "description"},
		choices:  map[string]string{"type": ""},
		required: []string{"device_type", "name", "type"},
		refs:     map[string]string{"device_type": netbox.EndpointDeviceTypes},
		keys:     unique("interface template", []string{"device_type", "name"}),
	},
	{
		endpoint: netbox.EndpointDevices,
		model:    "device",
		display:  byName,
		fields:   []string{"name", "serial"},
		choices:  map[string]string{"status": netbox.StatusActive},
		required: []string{"name", "role", "device_type", "site"},
		refs: map[string]string{
			"role":        netbox.EndpointDeviceRoles,
			"device_type": netbox.EndpointDeviceTypes,
			"site":        netbox.EndpointSites,
		},
		tagged: true,
		keys:   deviceKeys,
	},
	{
		endpoint: netbox.EndpointInterfaces,
		model:    "interface",
		display:  byName,
		fields:   []string{"name", "description", "enabled"},
		choices:  map[string]string{"type": ""},
		required: []string{"device", "name", "type"},
		refs:     map[string]string{"device": netbox.EndpointDevices},
		tagged:   true,
		keys:     unique("interface", []string{"device", "name"}),
	},
	{
		endpoint: netbox.EndpointCables,
		model:    "cable",
		display:  func(id int, _ object) string { return fmt.Sprintf("#%d", id) },
		fields:   []string{"label"},
		choices:  map[string]string{"status": netbox.StatusConnected},
		required: []string{"a_terminations", "b_terminations"},
		lists:    []string{"a_terminations", "b_terminations"},
		tagged:   true,
		keys:     cableKeys,
	},
	{
		endpoint: netbox.EndpointTags,
		model:    "tag",
		display:  byName,
		fields:   []string{"name", "slug", "color", "description"},
		required: []string{"name", "slug"},
		keys:     unique("tag", []string{"name"}, []string{"slug"}),
	},
	{
		endpoint: netbox.EndpointPrefixes,
		model:    "prefix",
		display:  func(_ int, o object) string { return text(o["prefix"]) },
		fields:   []string{"prefix", "description"},
		choices:  map[string]string{"status": netbox.StatusActive},
		required: []string{"prefix"},
		refs:     map[string]string{"site": netbox.EndpointSites},
		tagged:   true,
		keys:     prefixKeys,
	},
	{
		endpoint: netbox.EndpointIPAddresses,
		model:    "IP address",
		display:  func(_ int, o object) string { return text(o["address"]) },
		fields:   []string{"address", "description", "dns_name"},
		choices:  map[string]string{"status": netbox.StatusActive},
		required: []string{"address"},
		tagged:   true,
		assigned: true,
		keys:     addressKeys,
	},
	{
		endpoint: netbox.EndpointRIRs,
		model:    "RIR",
		display:  byName,
		fields:   []string{"name", "slug", "is_private", "description"},
		required: []string{"name", "slug"},
		keys:     unique("RIR", []string{"name"}, []string{"slug"}),
	},
	{
		endpoint: netbox.EndpointASNs,
		model:    "ASN",
		display:  func(_ int, o object) string { return "AS" + text(o["asn"]) },
		fields:   []string{"asn", "description"},
		required: []string{"asn", "rir"},
		refs:     map[string]string{"rir": netbox.EndpointRIRs},
		tagged:   true,
		keys:     unique("ASN", []string{"asn"}),
	},
	{
		endpoint: netbox.EndpointVLANs,
		model:    "VLAN",
		display:  func(_ int, o object) string { return fmt.Sprintf("%s (%s)", text(o["name"]), text(o["vid"])) },
		fields:   []string{"name", "vid", "group", "description"},
		choices:  map[string]string{"status": netbox.StatusActive},
		required: []string{"name", "vid"},
		refs:     map[string]string{"site": netbox.EndpointSites},
		tagged:   true,
		keys:     vlanKeys,
	},
	{
		endpoint: netbox.EndpointL2VPNs,
		model:    "L2VPN",
		display:  byName,
		fields:   []string{"name", "slug", "identifier", "description"},
		choices:  map[string]string{"type": ""},
		required: []string{"name", "slug", "type"},
		tagged:   true,
		keys:     unique("L2VPN", []string{"name"}, []string{"slug"}),
	},
	{
		endpoint: netbox.EndpointL2VPNTerminations,
		model:    "L2VPN termination",
		display: func(_ int, o object) string {
			return fmt.Sprintf("L2VPN %s: %s", text(o["l2vpn"]), text(o["assigned_object_id"]))
		},
		required: []string{"l2vpn", "assigned_object_type", "assigned_object_id"},
		refs:     map[string]string{"l2vpn": netbox.EndpointL2VPNs},
		assigned: true,
		keys:     unique("L2VPN termination", []string{"assigned_object_type", "assigned_object_id"}),
	},
	{
		endpoint: netbox.EndpointBGPSessions,
		model:    "BGP session",
		display:  byName,
		fields:   []string{"name", "description"},
		choices:  map[string]string{"status": netbox.StatusActive},
		required: []string{"name", "device", "local_address", "remote_address", "local_as", "remote_as"},
		refs: map[string]string{
			"site":           netbox.EndpointSites,
			"device":         netbox.EndpointDevices,
			"local_address":  netbox.EndpointIPAddresses,
			"remote_address": netbox.EndpointIPAddresses,
			"local_as":       netbox.EndpointASNs,
			"remote_as":      netbox.EndpointASNs,
		},
		tagged: true,
		keys:   unique("BGP session", []string{"device", "local_address", "remote_address"}),
	},
}

var kindsByEndpoint = func() map[string]*kind {
	m := make(map[string]*kind, len(kinds))
	for _, k := range kinds {
		m[k.endpoint] = k
	}
	return m
}()

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// terminations reads a stored or submitted termination list.
func terminations(v any) []netbox.Termination {
	items, _ := v.([]any)
	out := make([]netbox.Termination, 0, len(items))
	for _, item := range items {
		m, ok := item.(map[string]any)
		if !ok {
			continue
		}
		id, _ := intOf(m["object_id"])
		out = append(out, netbox.Termination{ObjectType: text(m["object_type"]), ObjectID: id})
	}
	return out
}
