package route

import (
	"fmt"
	"net"

	"github.com/vishvananda/netlink"
)

func family(isIPv4 bool) int {
	if isIPv4 {
		return netlink.FAMILY_V4
	}
	return netlink.FAMILY_V6
}

func defaultRoute(isIPv4 bool) string {
	if isIPv4 {
		return "0.0.0.0/0"
	}
	return "::/0"
}

// DetectExitInterface returns the interface carrying the default route.
func DetectExitInterface(isIPv4 bool) (string, error) {
	lst, err := netlink.RouteList(nil, family(isIPv4))
	if err != nil {
		return "", err
	}
	_, ipnet, err := net.ParseCIDR(defaultRoute(isIPv4))
	if err != nil {
		return "", err
	}
	sipnet := ipnet.String()
	for _, item := range lst {
		// newer kernels report the default route with a nil Dst.
		if item.Dst != nil && item.Dst.String() != sipnet {
			continue
		}
		iface, err := netlink.LinkByIndex(item.LinkIndex)
		if err != nil {
			return "", err
		}
		return iface.Attrs().Name, nil
	}
	return "", fmt.Errorf("unable to found default network interface")
}

// ReadLocalIPs lists the addresses of ifaceName, link local v6 excluded.
func ReadLocalIPs(ifaceName string, isIPv4 bool) ([]net.IP, error) {
	link, err := netlink.LinkByName(ifaceName)
	if err != nil {
		return nil, err
	}
	addrs, err := netlink.AddrList(link, family(isIPv4))
	if err != nil {
		return nil, err
	}
	rs := make([]net.IP, 0, len(addrs))
	for _, addr := range addrs {
		if addr.IP.IsLinkLocalUnicast() {
			continue
		}
		rs = append(rs, addr.IP)
	}
	return rs, nil
}
