package topology

import (
	"fmt"
	"regexp"
	"strconv"
)

// DeviceIndexWidth is the zero-padded width of generated device indices.
const DeviceIndexWidth = 2

var interfacePrefixRegexp = regexp.MustCompile(`^(.*?\D)(\d+)$`)

// DeviceName returns {prefix}{index} with index zero-padded to width digits.
//
//	DeviceName("ceos-leaf-", 3, 2) -> "ceos-leaf-03"
func DeviceName(prefix string, index, width int) string {
	return fmt.Sprintf("%s%0*d", prefix, width, index)
}

// InterfaceName returns the interface at a 1-based position.
//
//	InterfaceName("Ethernet", 4)   -> "Ethernet4"
//	InterfaceName("Ethernet1/", 4) -> "Ethernet1/4"
func InterfaceName(prefix string, position int) string {
	return prefix + strconv.Itoa(position)
}

// InterfacePrefix extracts the naming prefix from an interface name: everything
// up to the trailing port number. ok is false when name has no trailing number.
//
//	Ethernet12  -> "Ethernet"
//	Ethernet1/4 -> "Ethernet1/"
func InterfacePrefix(name string) (prefix string, ok bool) {
	m := interfacePrefixRegexp.FindStringSubmatch(name)
	if m == nil {
		return "", false
	}
	return m[1], true
}
