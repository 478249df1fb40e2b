package ipset

import (
	"fmt"

	"github.com/vishvananda/netlink"
	"golang.org/x/sys/unix"
)

type netlinkConn struct {
	h *netlink.Handle
}

// NetlinkDialer talks to the kernel over a NETLINK_NETFILTER socket owned
// by the connection.
func NetlinkDialer() (Conn, error) {
	h, err := netlink.NewHandle(unix.NETLINK_NETFILTER)
	if err != nil {
		return nil, fmt.Errorf("open netfilter netlink handle failed, err:%w", err)
	}
	// fail early when the ip_set module is not loaded or we lack privileges.
	if _, _, err := h.IpsetProtocol(); err != nil {
		h.Delete()
		return nil, fmt.Errorf("query ipset protocol failed, err:%w", err)
	}
	return &netlinkConn{h: h}, nil
}

// toNetlinkEntry builds the request entry. replace drops NLM_F_EXCL, which
// the kernel reads as -exist: re-adding refreshes the timeout, but a del
// of an absent member would then succeed too, so only add may set it.
func toNetlinkEntry(e *Entry, replace bool) *netlink.IPSetEntry {
	return &netlink.IPSetEntry{
		IP:      e.IP,
		CIDR:    e.CIDR,
		MAC:     e.MAC,
		Timeout: e.Timeout,
		Replace: replace,
	}
}

func (c *netlinkConn) Header(set string) (*Header, error) {
	rs, err := c.h.IpsetList(set)
	if err != nil {
		return nil, normalizeErr(err)
	}
	return &Header{
		Name:       rs.SetName,
		Type:       rs.TypeName,
		Family:     familyName(rs.Family),
		HashSize:   int(rs.HashSize),
		MaxElem:    int(rs.MaxElements),
		References: int(rs.References),
		NumEntries: int(rs.NumEntries),
	}, nil
}

func (c *netlinkConn) Create(set string, typ string, opts CreateOptions) error {
	nopts := netlink.IpsetCreateOptions{
		Replace: opts.Exist,
		Timeout: opts.Timeout,
	}
	if !isMACType(typ) {
		nopts.Family = opts.Family
	}
	return normalizeErr(c.h.IpsetCreate(set, typ, nopts))
}

// Destroy fails with ErrSetNotExist on a missing set. The destroy request
// carries no NLM_F_EXCL, so the kernel alone would report success.
func (c *netlinkConn) Destroy(set string) error {
	if _, err := c.h.IpsetList(set); err != nil {
		return normalizeErr(err)
	}
	return normalizeErr(c.h.IpsetDestroy(set))
}

func (c *netlinkConn) Flush(set string) error {
	return normalizeErr(c.h.IpsetFlush(set))
}

func (c *netlinkConn) Swap(set string, other string) error {
	return normalizeErr(c.h.IpsetSwap(set, other))
}

func (c *netlinkConn) Add(set string, e *Entry) error {
	return normalizeErr(c.h.IpsetAdd(set, toNetlinkEntry(e, true)))
}

func (c *netlinkConn) Del(set string, e *Entry) error {
	return normalizeErr(c.h.IpsetDel(set, toNetlinkEntry(e, false)))
}

func (c *netlinkConn) Test(set string, e *Entry) (bool, error) {
	ok, err := c.h.IpsetTest(set, toNetlinkEntry(e, false))
	if err != nil {
		err = normalizeErr(err)
		if classify(err) == ResultNotFound {
			return false, nil
		}
		return false, err
	}
	return ok, nil
}

func (c *netlinkConn) List(set string) ([]Member, error) {
	rs, err := c.h.IpsetList(set)
	if err != nil {
		return nil, normalizeErr(err)
	}
	members := make([]Member, 0, len(rs.Entries))
	for i := range rs.Entries {
		item := &rs.Entries[i]
		e := &Entry{IP: item.IP, CIDR: item.CIDR, MAC: item.MAC}
		if m := e.Member(); m.Valid() {
			members = append(members, m)
		}
	}
	return members, nil
}

func (c *netlinkConn) Version() (string, error) {
	proto, minProto, err := c.h.IpsetProtocol()
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("netlink, protocol %d (min %d)", proto, minProto), nil
}

func (c *netlinkConn) Close() error {
	c.h.Delete()
	return nil
}
