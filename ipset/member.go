package ipset

import (
	"fmt"
	"net"
	"strconv"
	"strings"
)

type MemberKind int

const (
	KindInvalid MemberKind = iota
	KindIPv4
	KindIPv6
	KindMAC
)

func (k MemberKind) String() string {
	switch k {
	case KindIPv4:
		return "ipv4"
	case KindIPv6:
		return "ipv6"
	case KindMAC:
		return "mac"
	}
	return "invalid"
}

// Member is a single value that can belong to a set: an IPv4/IPv6 address
// (optionally a network when cidr is set) or a 6 octet MAC address.
// The zero value is invalid and never reaches the kernel.
type Member struct {
	kind MemberKind
	ip   net.IP
	cidr uint8
	mac  net.HardwareAddr
}

func AddrMember(ip net.IP) Member {
	if v4 := ip.To4(); v4 != nil {
		return Member{kind: KindIPv4, ip: v4}
	}
	if v6 := ip.To16(); v6 != nil {
		return Member{kind: KindIPv6, ip: v6}
	}
	return Member{}
}

func NetMember(n *net.IPNet) Member {
	if n == nil {
		return Member{}
	}
	m := AddrMember(n.IP.Mask(n.Mask))
	if m.kind == KindInvalid {
		return m
	}
	ones, bits := n.Mask.Size()
	if bits == 0 {
		return Member{}
	}
	// host sized networks are stored as plain addresses.
	if ones != bits {
		m.cidr = uint8(ones)
	}
	return m
}

// MACMember validates s as a 6 octet hardware address.
func MACMember(s string) (Member, error) {
	hw, err := net.ParseMAC(s)
	if err != nil {
		return Member{}, fmt.Errorf("parse mac failed, mac:%s, err:%w", s, err)
	}
	if len(hw) != 6 {
		return Member{}, fmt.Errorf("invalid mac length:%d, mac:%s", len(hw), s)
	}
	return Member{kind: KindMAC, mac: hw}, nil
}

// ParseMember accepts an address, a CIDR network or a MAC address.
func ParseMember(s string) (Member, error) {
	s = strings.TrimSpace(s)
	if strings.Contains(s, "/") {
		_, n, err := net.ParseCIDR(s)
		if err != nil {
			return Member{}, fmt.Errorf("parse cidr failed, cidr:%s, err:%w", s, err)
		}
		return NetMember(n), nil
	}
	if ip := net.ParseIP(s); ip != nil {
		return AddrMember(ip), nil
	}
	return MACMember(s)
}

func (m Member) Kind() MemberKind {
	return m.kind
}

func (m Member) Valid() bool {
	return m.kind != KindInvalid
}

func (m Member) IsAddr() bool {
	return m.kind == KindIPv4 || m.kind == KindIPv6
}

func (m Member) IP() net.IP {
	return m.ip
}

func (m Member) MAC() net.HardwareAddr {
	return m.mac
}

// CIDR is the prefix length of a network member, 0 for a single address.
func (m Member) CIDR() uint8 {
	return m.cidr
}

// Contains reports whether other is equal to m or, when m is a network,
// an address inside it.
func (m Member) Contains(other Member) bool {
	if m.kind != other.kind {
		return false
	}
	if m.kind == KindMAC {
		return m.mac.String() == other.mac.String()
	}
	if m.cidr == 0 {
		return other.cidr == 0 && m.ip.Equal(other.ip)
	}
	if other.cidr != 0 && other.cidr < m.cidr {
		return false
	}
	bits := 32
	if m.kind == KindIPv6 {
		bits = 128
	}
	n := &net.IPNet{IP: m.ip, Mask: net.CIDRMask(int(m.cidr), bits)}
	return n.Contains(other.ip)
}

func (m Member) String() string {
	switch m.kind {
	case KindIPv4, KindIPv6:
		if m.cidr != 0 {
			return m.ip.String() + "/" + strconv.Itoa(int(m.cidr))
		}
		return m.ip.String()
	case KindMAC:
		return m.mac.String()
	}
	return ""
}
