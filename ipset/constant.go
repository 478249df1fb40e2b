package ipset

import "math"

type SetType string
type OutputType string

const (
	SetTypeHashIP     SetType = "hash:ip"
	SetTypeHashNet    SetType = "hash:net"
	SetTypeHashMAC    SetType = "hash:mac"
	SetTypeHashIPPort SetType = "hash:ip,port"
)

// OutputTypeXml is the only list format the exec backend parses.
const OutputTypeXml OutputType = "xml"

const (
	// DefaultAddrTimeout is the expiry used by AddAddr, 7 days.
	DefaultAddrTimeout uint32 = 604800
	// DefaultMACTimeout is the expiry used by AddMAC, 90 days.
	DefaultMACTimeout uint32 = 7776000
	// Permanent asks the kernel to keep the member until it is removed.
	// A plain 0 leaves the timeout out of the request so the set default applies.
	Permanent uint32 = math.MaxUint32
)

// kernel limit is IPSET_MAXNAMELEN (32) including the trailing NUL.
const maxSetNameLen = 31

// isMACType reports whether members of the set type are hardware addresses.
func isMACType(typ string) bool {
	return typ == string(SetTypeHashMAC)
}
