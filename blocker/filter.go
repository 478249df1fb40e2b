package blocker

import (
	"fmt"
	"net"

	"ipset-session/ipset"
)

var (
	defaultLocalNetworks = []string{
		"10.0.0.0/8",
		"127.0.0.0/8",
		"172.16.0.0/12",
		"192.168.0.0/16",
		"100.64.0.0/10",
		"169.254.0.0/16",
		"192.0.2.0/24",
		"198.51.100.0/24",
		"203.0.113.0/24",
		"192.88.99.0/24",
		"224.0.0.0/4",
		"::1/128",
		"fe80::/10",
		"fc00::/7",
		"ff00::/8",
	}
)

// ipNetFilter matches addresses against a list of networks.
type ipNetFilter struct {
	filterList []*net.IPNet
}

func newIPNetFilter() *ipNetFilter {
	return &ipNetFilter{}
}

func (f *ipNetFilter) AddRule(ips ...string) error {
	for _, ip := range ips {
		_, cidr, err := net.ParseCIDR(ip)
		if err != nil {
			return err
		}
		f.filterList = append(f.filterList, cidr)
	}
	return nil
}

func (f *ipNetFilter) IsContains(ip string) (bool, error) {
	nip := net.ParseIP(ip)
	if nip == nil {
		return false, fmt.Errorf("parse ip failed, ipdata:%s", ip)
	}
	return f.containsIP(nip), nil
}

func (f *ipNetFilter) containsIP(ip net.IP) bool {
	for _, filter := range f.filterList {
		if filter.Contains(ip) {
			return true
		}
	}
	return false
}

// ContainsMember reports whether an address member, or any part of a
// network member, falls into the filter.
func (f *ipNetFilter) ContainsMember(m ipset.Member) bool {
	if !m.IsAddr() {
		return false
	}
	if f.containsIP(m.IP()) {
		return true
	}
	if m.CIDR() == 0 {
		return false
	}
	bits := 32
	if m.Kind() == ipset.KindIPv6 {
		bits = 128
	}
	mn := &net.IPNet{IP: m.IP(), Mask: net.CIDRMask(int(m.CIDR()), bits)}
	for _, filter := range f.filterList {
		if mn.Contains(filter.IP) {
			return true
		}
	}
	return false
}
