package ipset

import (
	"net"
	"strconv"

	"golang.org/x/sys/unix"
)

// Entry is a member in wire form, ready to be submitted by a Conn.
type Entry struct {
	Family  uint8 // unix.AF_INET, unix.AF_INET6 or 0 for hardware addresses
	IP      net.IP
	CIDR    uint8
	MAC     net.HardwareAddr
	Timeout *uint32
}

func (e *Entry) Member() Member {
	if len(e.MAC) != 0 {
		return Member{kind: KindMAC, mac: e.MAC}
	}
	m := AddrMember(e.IP)
	bits := uint8(32)
	if m.kind == KindIPv6 {
		bits = 128
	}
	if m.Valid() && e.CIDR != bits {
		m.cidr = e.CIDR
	}
	return m
}

// String renders the entry the way the ipset command line expects it.
func (e *Entry) String() string {
	return e.Member().String()
}

// Header is the metadata of a set, without members.
type Header struct {
	Name       string
	Type       string
	Family     string
	HashSize   int
	MaxElem    int
	References int
	NumEntries int
}

type CreateOptions struct {
	// Family is unix.AF_INET or unix.AF_INET6, ignored for hardware address sets.
	Family uint8
	// Timeout enables per member expiry with the given default in seconds.
	// 0 keeps members forever by default but still accepts per member timeouts.
	Timeout *uint32
	// Exist makes creating an already existing set succeed.
	Exist bool
}

// Conn is one request/response session with the kernel set subsystem.
// It is not safe for concurrent use.
type Conn interface {
	Header(set string) (*Header, error)
	Create(set string, typ string, opts CreateOptions) error
	Destroy(set string) error
	Flush(set string) error
	Swap(set string, other string) error
	Add(set string, e *Entry) error
	Del(set string, e *Entry) error
	Test(set string, e *Entry) (bool, error)
	List(set string) ([]Member, error)
	Version() (string, error)
	Close() error
}

// Dialer allocates a new Conn for a session.
type Dialer func() (Conn, error)

func familyName(family uint8) string {
	if family == unix.AF_INET6 {
		return "inet6"
	}
	return "inet"
}

func formatTimeout(t uint32) string {
	return strconv.FormatUint(uint64(t), 10)
}
