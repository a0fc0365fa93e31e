package util

import (
	"fmt"
	"net/netip"
	"strings"
)

// Limits NetBox and the fabric place on numbered resources.
const (
	MaxASN    = 1<<32 - 1
	MaxVLANID = 4094
	MaxVNI    = 1<<24 - 1
)

// IsValidIPv4CIDR reports whether cidr is an IPv4 address or network in
// prefix notation.
func IsValidIPv4CIDR(cidr string) bool {
	p, err := netip.ParsePrefix(cidr)
	return err == nil && p.Addr().Is4()
}

func ValidateASN(asn int64) error {
	if asn < 1 || asn > MaxASN {
		return fmt.Errorf("AS number must be between 1 and %d, got %d", int64(MaxASN), asn)
	}
	return nil
}

func ValidateVLANID(vid int) error {
	if vid < 1 || vid > MaxVLANID {
		return fmt.Errorf("VLAN ID must be between 1 and %d, got %d", MaxVLANID, vid)
	}
	return nil
}

func ValidateVNI(vni int) error {
	if vni < 1 || vni > MaxVNI {
		return fmt.Errorf("VNI must be between 1 and %d, got %d", MaxVNI, vni)
	}
	return nil
}

// SplitIPMask splits "a.b.c.d/n" into the address text and n. Without a
// usable mask the length is 0.
func SplitIPMask(cidr string) (string, int) {
	host, _, ok := strings.Cut(cidr, "/")
	if !ok {
		return cidr, 0
	}
	p, err := netip.ParsePrefix(cidr)
	if err != nil {
		return host, 0
	}
	return host, p.Bits()
}

// DeriveNeighborIP returns the other usable host of the point-to-point
// subnet (/31 or /30) local sits in. NetBox stores interface addresses with
// their mask, so local must carry one.
func DeriveNeighborIP(local string) (string, error) {
	p, err := netip.ParsePrefix(local)
	if err != nil {
		return "", fmt.Errorf("%q is not an address with a mask (e.g. 10.1.1.1/31)", local)
	}
	if !p.Addr().Is4() {
		return "", fmt.Errorf("%q: only IPv4 point-to-point links are supported", local)
	}

	a := p.Addr().As4()
	switch p.Bits() {
	case 31:
		a[3] ^= 1
	case 30:
		switch a[3] & 3 {
		case 1:
			a[3]++
		case 2:
			a[3]--
		default:
			return "", fmt.Errorf("%q is the network or broadcast address of its /30", local)
		}
	default:
		return "", fmt.Errorf("%q: /%d is not a point-to-point subnet (use /30 or /31)", local, p.Bits())
	}
	return netip.AddrFrom4(a).String(), nil
}
