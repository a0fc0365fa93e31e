package nbsim

import (
	"context"
	"database/sql"
	"encoding/binary"
	"errors"
	"net/http"
	"net/netip"
	"strconv"

	"github.com/newtron-network/nbseed/pkg/netbox"
)

// handleAvailablePrefixes carves the first free child of prefix_length out of
// the parent and creates it as a prefix.
func (s *Server) handleAvailablePrefixes(w http.ResponseWriter, r *http.Request) {
	s.allocate(w, r, netbox.EndpointPrefixes, func(ctx context.Context, tx *sql.Tx, parent netip.Prefix, req object) (object, error) {
		bits, ok := intOf(req["prefix_length"])
		if !ok {
			return nil, fieldError("prefix_length", "This field is required.")
		}
		if bits < parent.Bits() || bits > parent.Addr().BitLen() {
			return nil, fieldError("prefix_length", "Invalid prefix length ("+strconv.Itoa(bits)+") for parent "+parent.String())
		}
		used, err := s.childPrefixes(ctx, tx, parent)
		if err != nil {
			return nil, err
		}
		child, ok := firstFreePrefix(parent, used, bits)
		if !ok {
			return nil, &httpError{status: http.StatusConflict, body: map[string]string{
				"detail": "Insufficient space is available to accommodate the requested prefix size(s)",
			}}
		}
		data := passthrough(req, "site", "status", "description", "tags")
		data["prefix"] = child.String()
		return data, nil
	})
}

// handleAvailableIPs takes the first free address of the prefix and creates
// it with the prefix's mask.
func (s *Server) handleAvailableIPs(w http.ResponseWriter, r *http.Request) {
	s.allocate(w, r, netbox.EndpointIPAddresses, func(ctx context.Context, tx *sql.Tx, parent netip.Prefix, req object) (object, error) {
		used, err := s.usedAddresses(ctx, tx, parent)
		if err != nil {
			return nil, err
		}
		addr, ok := firstFreeAddress(parent, used)
		if !ok {
			return nil, &httpError{status: http.StatusConflict, body: map[string]string{
				"detail": "Insufficient space is available to accommodate the requested IP address(es)",
			}}
		}
		data := passthrough(req, "status", "description", "tags", "dns_name", "assigned_object_type", "assigned_object_id")
		data["address"] = netip.PrefixFrom(addr, parent.Bits()).String()
		return data, nil
	})
}

type allocator func(ctx context.Context, tx *sql.Tx, parent netip.Prefix, req object) (object, error)

func (s *Server) allocate(w http.ResponseWriter, r *http.Request, endpoint string, pick allocator) {
	ctx := r.Context()
	k := kindsByEndpoint[endpoint]
	parentID, err := strconv.Atoi(r.PathValue("id"))
	if err != nil {
		s.writeError(w, k, notFound())
		return
	}
	req, err := decodeBody(r)
	if err != nil {
		s.writeError(w, k, err)
		return
	}

	var id int
	err = s.store.withTx(ctx, func(tx *sql.Tx) error {
		rec, err := s.store.getKind(ctx, tx, netbox.EndpointPrefixes, parentID)
		if errors.Is(err, errNoObject) {
			return notFound()
		}
		if err != nil {
			return err
		}
		parent, err := netip.ParsePrefix(text(rec.Data["prefix"]))
		if err != nil {
			return err
		}
		parent = parent.Masked()
		if !parent.Addr().Is4() {
			return fieldError("prefix", "Only IPv4 allocation is simulated.")
		}
		data, err := pick(ctx, tx, parent, req)
		if err != nil {
			return err
		}
		id, err = s.createObject(ctx, tx, k, data)
		return err
	})
	if err != nil {
		s.writeError(w, k, err)
		return
	}
	s.countCreate(k.endpoint)
	s.respondObject(w, r, http.StatusCreated, k, id)
}

func (s *Server) childPrefixes(ctx context.Context, q querier, parent netip.Prefix) ([]netip.Prefix, error) {
	recs, err := s.store.list(ctx, q, netbox.EndpointPrefixes)
	if err != nil {
		return nil, err
	}
	var out []netip.Prefix
	for _, rec := range recs {
		p, err := netip.ParsePrefix(text(rec.Data["prefix"]))
		if err != nil {
			continue
		}
		p = p.Masked()
		if p.Bits() > parent.Bits() && parent.Contains(p.Addr()) {
			out = append(out, p)
		}
	}
	return out, nil
}

func (s *Server) usedAddresses(ctx context.Context, q querier, parent netip.Prefix) (map[netip.Addr]bool, error) {
	recs, err := s.store.list(ctx, q, netbox.EndpointIPAddresses)
	if err != nil {
		return nil, err
	}
	used := map[netip.Addr]bool{}
	for _, rec := range recs {
		p, err := netip.ParsePrefix(text(rec.Data["address"]))
		if err != nil {
			continue
		}
		if parent.Contains(p.Addr()) {
			used[p.Addr()] = true
		}
	}
	return used, nil
}

// firstFreePrefix returns the lowest child of length bits inside parent that
// overlaps none of used.
func firstFreePrefix(parent netip.Prefix, used []netip.Prefix, bits int) (netip.Prefix, bool) {
	if bits < parent.Bits() || bits > 32 {
		return netip.Prefix{}, false
	}
	start := uint64(addrToUint32(parent.Addr()))
	end := start + uint64(1)<<(32-parent.Bits())
	step := uint64(1) << (32 - bits)
	for a := start; a < end; a += step {
		cand := netip.PrefixFrom(uint32ToAddr(uint32(a)), bits)
		free := true
		for _, u := range used {
			if cand.Overlaps(u) {
				free = false
				break
			}
		}
		if free {
			return cand, true
		}
	}
	return netip.Prefix{}, false
}

// firstFreeAddress returns the lowest unused host address of parent. /31 and
// /32 prefixes use every address; larger ones skip network and broadcast.
func firstFreeAddress(parent netip.Prefix, used map[netip.Addr]bool) (netip.Addr, bool) {
	start := uint64(addrToUint32(parent.Addr()))
	end := start + uint64(1)<<(32-parent.Bits())
	if parent.Bits() < 31 {
		start++
		end--
	}
	for a := start; a < end; a++ {
		addr := uint32ToAddr(uint32(a))
		if !used[addr] {
			return addr, true
		}
	}
	return netip.Addr{}, false
}

func passthrough(req object, fields ...string) object {
	out := object{}
	for _, f := range fields {
		if v, ok := req[f]; ok {
			out[f] = v
		}
	}
	return out
}

func addrToUint32(a netip.Addr) uint32 {
	b := a.As4()
	return binary.BigEndian.Uint32(b[:])
}

func uint32ToAddr(v uint32) netip.Addr {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], v)
	return netip.AddrFrom4(b)
}
