package ipset

import (
	"errors"
	"fmt"
	"net"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vishvananda/netlink/nl"
	"golang.org/x/sys/unix"
)

type countingConn struct {
	Conn
	closed *int
}

func (c *countingConn) Close() error {
	*c.closed++
	return c.Conn.Close()
}

func countingDialer(store *MemoryStore, dialed, closed *int) Dialer {
	return func() (Conn, error) {
		*dialed++
		conn, _ := MemoryDialer(store)()
		return &countingConn{Conn: conn, closed: closed}, nil
	}
}

func newMemSet(t *testing.T, store *MemoryStore, name string, typ SetType, isIPv4 bool, timeout *uint32) *Session {
	s, err := Open(name, string(typ), isIPv4, WithDialer(MemoryDialer(store)), WithDebug(true))
	require.NoError(t, err)
	require.True(t, s.Create(timeout, false))
	return s
}

func u32(v uint32) *uint32 {
	return &v
}

func TestOpenAndClose(t *testing.T) {
	store := NewMemoryStore()
	var dialed, closed int
	s, err := Open("blocklist", string(SetTypeHashIP), true, WithDialer(countingDialer(store, &dialed, &closed)))
	require.NoError(t, err)
	assert.True(t, s.IsOpen())
	assert.Equal(t, "blocklist", s.Name())
	assert.Equal(t, "hash:ip", s.Type())
	assert.True(t, s.IsIPv4())
	{ //reopen releases the old connection first
		err = s.Open("allowlist", string(SetTypeHashMAC), false)
		assert.NoError(t, err)
		assert.Equal(t, 2, dialed)
		assert.Equal(t, 1, closed)
		assert.Equal(t, "allowlist", s.Name())
	}
	{ //close is idempotent
		assert.NoError(t, s.Close())
		assert.NoError(t, s.Close())
		assert.Equal(t, 2, closed)
		assert.False(t, s.IsOpen())
	}
	{ //a closed session reports failures instead of panicking
		assert.False(t, s.Exists())
		assert.Equal(t, ResultTransportError, s.AddResult(AddrMember(net.ParseIP("1.2.3.4")), 0))
		_, err := s.Version()
		assert.ErrorIs(t, err, ErrNotOpen)
	}
}

func TestOpenFailure(t *testing.T) {
	_, err := Open("", string(SetTypeHashIP), true, WithDialer(MemoryDialer(NewMemoryStore())))
	assert.ErrorIs(t, err, ErrSessionInit)
	_, err = Open("a-name-that-is-far-too-long-for-the-kernel", string(SetTypeHashIP), true,
		WithDialer(MemoryDialer(NewMemoryStore())))
	assert.ErrorIs(t, err, ErrSessionInit)

	dialErr := errors.New("operation not permitted")
	_, err = Open("blocklist", string(SetTypeHashIP), true, WithDialer(func() (Conn, error) {
		return nil, dialErr
	}))
	assert.ErrorIs(t, err, ErrSessionInit)
	assert.ErrorIs(t, err, dialErr)
}

func TestExistsAndDestroy(t *testing.T) {
	store := NewMemoryStore()
	missing, err := Open("never-created", string(SetTypeHashIP), true, WithDialer(MemoryDialer(store)))
	require.NoError(t, err)
	defer missing.Close()
	assert.False(t, missing.Exists())
	assert.Equal(t, ResultSetMissing, missing.ExistsResult())
	assert.False(t, missing.Destroy())
	assert.Equal(t, ResultSetMissing, missing.DestroyResult())

	s := newMemSet(t, store, "empty", SetTypeHashIP, true, nil)
	defer s.Close()
	assert.True(t, s.Exists())
	assert.True(t, s.Destroy())
	assert.False(t, s.Exists())
	assert.False(t, s.Destroy())
	assert.Equal(t, ResultSetMissing, s.DestroyResult())
	assert.Equal(t, ResultSetMissing, s.ExistsResult())
}

func TestAddInRemove(t *testing.T) {
	store := NewMemoryStore()
	s := newMemSet(t, store, "blocklist", SetTypeHashIP, true, u32(0))
	defer s.Close()
	m := AddrMember(net.ParseIP("203.0.113.5"))
	assert.True(t, s.Add(m, 60))
	assert.True(t, s.In(m))
	assert.True(t, s.Remove(m))
	assert.False(t, s.In(m))
	assert.Equal(t, ResultNotFound, s.InResult(m))
	{ //removing twice is not an error, just false
		assert.False(t, s.Remove(m))
		assert.Equal(t, ResultNotFound, s.RemoveResult(m))
	}
	{ //never added
		assert.False(t, s.RemoveAddr(net.ParseIP("198.51.100.1")))
	}
}

func TestAddIsIdempotent(t *testing.T) {
	store := NewMemoryStore()
	now := time.Unix(1700000000, 0)
	store.SetClock(func() time.Time { return now })
	s := newMemSet(t, store, "refresh", SetTypeHashIP, true, u32(0))
	defer s.Close()
	m := AddrMember(net.ParseIP("192.0.2.10"))
	assert.True(t, s.Add(m, 10))
	assert.True(t, s.Add(m, 100))
	assert.True(t, s.In(m))
	members, ok := s.Members()
	assert.True(t, ok)
	assert.Len(t, members, 1)

	now = now.Add(50 * time.Second) //the second add refreshed the expiry
	assert.True(t, s.In(m))
	now = now.Add(60 * time.Second)
	assert.False(t, s.In(m))
}

func TestMACMembers(t *testing.T) {
	store := NewMemoryStore()
	s := newMemSet(t, store, "macs", SetTypeHashMAC, true, u32(0))
	defer s.Close()
	m, err := MACMember("aa:bb:cc:dd:ee:ff")
	require.NoError(t, err)
	assert.True(t, s.Add(m, 7776000))
	assert.True(t, s.In(m))
	assert.True(t, s.InMAC("AA:BB:CC:DD:EE:FF"))
	assert.True(t, s.AddMAC("00:11:22:33:44:55"))
	assert.True(t, s.RemoveMAC("00:11:22:33:44:55"))
	assert.False(t, s.AddMAC("not-a-mac"))
	{ //addresses do not belong in a mac set
		assert.Equal(t, ResultInvalidMember, s.AddResult(AddrMember(net.ParseIP("10.0.0.1")), 0))
	}
}

func TestIPv6Session(t *testing.T) {
	store := NewMemoryStore()
	s := newMemSet(t, store, "v6", SetTypeHashIP, false, u32(0))
	defer s.Close()
	v6 := net.ParseIP("2001:db8::1")
	assert.True(t, s.AddAddr(v6))
	assert.True(t, s.InAddr(v6))
	{ //family mismatch is rejected before reaching the backend
		assert.Equal(t, ResultInvalidMember, s.AddResult(AddrMember(net.ParseIP("203.0.113.5")), 0))
		assert.False(t, s.InAddr(net.ParseIP("203.0.113.5")))
	}
	assert.Equal(t, ResultInvalidMember, s.AddResult(Member{}, 0))
}

func TestTimeouts(t *testing.T) {
	store := NewMemoryStore()
	now := time.Unix(1700000000, 0)
	store.SetClock(func() time.Time { return now })
	s := newMemSet(t, store, "expiring", SetTypeHashIP, true, u32(30))
	defer s.Close()
	setDefault := AddrMember(net.ParseIP("10.1.1.1"))
	forever := AddrMember(net.ParseIP("10.1.1.2"))
	explicit := AddrMember(net.ParseIP("10.1.1.3"))
	assert.True(t, s.Add(setDefault, 0))
	assert.True(t, s.Add(forever, Permanent))
	assert.True(t, s.Add(explicit, DefaultAddrTimeout))

	now = now.Add(31 * time.Second)
	assert.False(t, s.In(setDefault))
	assert.True(t, s.In(forever))
	assert.True(t, s.In(explicit))

	now = now.Add(7 * 24 * time.Hour)
	assert.False(t, s.In(explicit))
	assert.True(t, s.In(forever))
	h, ok := s.Header()
	assert.True(t, ok)
	assert.Equal(t, 1, h.NumEntries)
}

func TestTimeoutWithoutSupport(t *testing.T) {
	store := NewMemoryStore()
	s := newMemSet(t, store, "static", SetTypeHashIP, true, nil)
	defer s.Close()
	m := AddrMember(net.ParseIP("10.2.2.2"))
	assert.Equal(t, ResultInvalidMember, s.AddResult(m, 60))
	assert.True(t, s.Add(m, 0))
	assert.True(t, s.In(m))
}

func TestNetSetAndSwap(t *testing.T) {
	store := NewMemoryStore()
	s := newMemSet(t, store, "nets", SetTypeHashNet, true, nil)
	defer s.Close()
	tmp := newMemSet(t, store, "nets-tmp", SetTypeHashNet, true, nil)
	defer tmp.Close()
	netm, err := ParseMember("10.0.0.0/8")
	require.NoError(t, err)
	assert.True(t, tmp.Add(netm, 0))
	assert.True(t, tmp.Swap("nets"))
	assert.True(t, s.InAddr(net.ParseIP("10.20.30.40")))
	assert.False(t, s.InAddr(net.ParseIP("11.0.0.1")))
	assert.False(t, tmp.InAddr(net.ParseIP("10.20.30.40")))
	assert.True(t, s.Flush())
	assert.False(t, s.InAddr(net.ParseIP("10.20.30.40")))
	{ //type mismatch
		macs := newMemSet(t, store, "macs", SetTypeHashMAC, true, nil)
		defer macs.Close()
		assert.False(t, macs.Swap("nets"))
	}
}

func TestCreateExisting(t *testing.T) {
	store := NewMemoryStore()
	s := newMemSet(t, store, "dup", SetTypeHashIP, true, nil)
	defer s.Close()
	assert.False(t, s.Create(nil, false))
	assert.True(t, s.Create(nil, true))
	v, err := s.Version()
	assert.NoError(t, err)
	assert.Equal(t, "memory", v)
}

func TestResultProjection(t *testing.T) {
	tests := []struct {
		r  Result
		ok bool
		s  string
	}{
		{ResultOK, true, "ok"},
		{ResultNotFound, false, "not_found"},
		{ResultInvalidMember, false, "invalid_member"},
		{ResultSetMissing, false, "set_missing"},
		{ResultTransportError, false, "transport_error"},
	}
	for _, tst := range tests {
		assert.Equal(t, tst.ok, tst.r.OK())
		assert.Equal(t, tst.s, tst.r.String())
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		err error
		r   Result
	}{
		{nil, ResultOK},
		{unix.ENOENT, ResultSetMissing},
		{errnoIPSetExist, ResultNotFound},
		{errnoIPSetTypeMismatch, ResultInvalidMember},
		{nl.IPSetError(nl.IPSET_ERR_EXIST), ResultNotFound},
		{fmt.Errorf("del failed, err:%w", nl.IPSetError(nl.IPSET_ERR_EXIST)), ResultNotFound},
		{nl.IPSetError(nl.IPSET_ERR_INVALID_CIDR), ResultInvalidMember},
		{nl.IPSetError(nl.IPSET_ERR_INVALID_FAMILY), ResultInvalidMember},
		{nl.IPSetError(nl.IPSET_ERR_TIMEOUT), ResultInvalidMember},
		{nl.IPSetError(nl.IPSET_ERR_IPADDR_IPV4), ResultInvalidMember},
		{nl.IPSetError(nl.IPSET_ERR_IPADDR_IPV6), ResultInvalidMember},
		{nl.IPSetError(nl.IPSET_ERR_TYPE_MISMATCH), ResultInvalidMember},
		{nl.IPSetError(nl.IPSET_ERR_REFERENCED), ResultTransportError},
		{unix.EPERM, ResultTransportError},
		{errors.New("ipset v7.19: The set with the given name does not exist"), ResultSetMissing},
		{errors.New("ipset v7.19: Element cannot be deleted from the set: it's not added"), ResultNotFound},
		{errors.New("ipset v7.19: Syntax error: cannot parse zz as an IP address"), ResultInvalidMember},
		{errors.New("connection reset"), ResultTransportError},
	}
	for _, tst := range tests {
		assert.Equal(t, tst.r, classify(tst.err), "err:%v", tst.err)
	}
}

func TestParseMember(t *testing.T) {
	tests := []struct {
		in   string
		kind MemberKind
		out  string
		err  bool
	}{
		{"1.2.3.4", KindIPv4, "1.2.3.4", false},
		{" 2001:db8::1 ", KindIPv6, "2001:db8::1", false},
		{"10.1.2.3/8", KindIPv4, "10.0.0.0/8", false},
		{"1.2.3.4/32", KindIPv4, "1.2.3.4", false},
		{"2001:db8::/32", KindIPv6, "2001:db8::/32", false},
		{"AA:BB:CC:DD:EE:FF", KindMAC, "aa:bb:cc:dd:ee:ff", false},
		{"00:00:00:00:fe:80:00:00:00:00:00:00:02:00:5e:10:00:00:00:01", KindInvalid, "", true},
		{"bad", KindInvalid, "", true},
		{"1.2.3.4/40", KindInvalid, "", true},
	}
	for _, tst := range tests {
		m, err := ParseMember(tst.in)
		if tst.err {
			assert.Error(t, err, tst.in)
			continue
		}
		assert.NoError(t, err, tst.in)
		assert.Equal(t, tst.kind, m.Kind(), tst.in)
		assert.Equal(t, tst.out, m.String(), tst.in)
	}
}

func TestSetName(t *testing.T) {
	id := uuid.NewString()
	names := make(map[string]struct{})
	for _, src := range []bool{true, false} {
		for _, v4 := range []bool{true, false} {
			n := SetName(id, src, v4)
			assert.Equal(t, n, SetName(id, src, v4))
			assert.LessOrEqual(t, len(n), maxSetNameLen)
			names[n] = struct{}{}
		}
	}
	assert.Len(t, names, 4)
	assert.Equal(t, "0c2a1f6e8f3b4_419f9299-src-ipv4",
		SetName("0C2A1F6E-8F3B-4D2A-9C1E-7B5D3A2F1E0C", true, true))
	assert.Equal(t, "device_1-dst-ipv6", SetName("Device_#1!", false, false))
	{ //nothing usable left
		assert.Equal(t, "id_4d00cdd5-src-ipv4", SetName("!!!", true, true))
		assert.NotEqual(t, SetToken("!!!"), SetToken("???"))
	}
	{ //long ids differing past the cut stay distinct
		a := SetToken("customer_blacklist_region_eu_west_1")
		b := SetToken("customer_blacklist_region_eu_west_2")
		assert.Len(t, a, maxTokenLen)
		assert.Len(t, b, maxTokenLen)
		assert.NotEqual(t, a, b)
		assert.Equal(t, a, SetToken("customer_blacklist_region_eu_west_1"))
	}
}

const sampleListXML = `<ipsets>
<ipset name="blocklist">
<type>hash:ip</type>
<revision>6</revision>
<header>
<family>inet</family>
<hashsize>1024</hashsize>
<maxelem>65536</maxelem>
<timeout>0</timeout>
<memsize>312</memsize>
<references>1</references>
<numentries>2</numentries>
</header>
<members>
<member><elem>203.0.113.5</elem><timeout>55</timeout></member>
<member><elem>198.51.100.7</elem><timeout>0</timeout></member>
</members>
</ipset>
</ipsets>`

func TestParseXMLSet(t *testing.T) {
	set, err := parseXMLSet([]byte(sampleListXML))
	require.NoError(t, err)
	assert.Equal(t, "blocklist", set.Name)
	assert.Equal(t, "hash:ip", set.Type)
	assert.Equal(t, 1, set.Header.References)
	assert.Len(t, set.Members.Member, 2)
	assert.Equal(t, "203.0.113.5", set.Members.Member[0].Elem)
	_, err = parseXMLSet([]byte("<ipsets></ipsets>"))
	assert.ErrorIs(t, err, errNoIpsetData)
}

func TestNetlinkEntryFlags(t *testing.T) {
	e := &Entry{IP: net.ParseIP("203.0.113.9").To4(), Family: unix.AF_INET, Timeout: u32(30)}
	{ //add refreshes an existing member
		ne := toNetlinkEntry(e, true)
		assert.True(t, ne.Replace)
		assert.Equal(t, uint32(30), *ne.Timeout)
	}
	{ //del and test keep NLM_F_EXCL so an absent member is reported
		assert.False(t, toNetlinkEntry(e, false).Replace)
	}
}

func skipIfNotRoot(t *testing.T) {
	if os.Geteuid() != 0 {
		t.Skip("kernel ipset tests need root")
	}
}

func runKernelScenario(t *testing.T, d Dialer) {
	name := "test-" + uuid.NewString()[:8]
	s, err := Open(name, string(SetTypeHashIP), true, WithDialer(d))
	if err != nil {
		t.Skipf("ipset backend unavailable, err:%v", err)
	}
	defer s.Close()
	assert.False(t, s.Exists())
	require.True(t, s.Create(u32(0), true))
	defer s.Destroy()
	assert.True(t, s.Exists())
	m := AddrMember(net.ParseIP("203.0.113.5"))
	{ //never added
		assert.False(t, s.Remove(AddrMember(net.ParseIP("203.0.113.9"))))
		assert.Equal(t, ResultNotFound, s.RemoveResult(AddrMember(net.ParseIP("203.0.113.9"))))
		assert.Equal(t, ResultNotFound, s.InResult(AddrMember(net.ParseIP("203.0.113.9"))))
	}
	assert.True(t, s.Add(m, 60))
	assert.True(t, s.Add(m, 120))
	assert.True(t, s.In(m))
	assert.True(t, s.Remove(m))
	assert.False(t, s.In(m))
	assert.False(t, s.Remove(m))
	assert.True(t, s.Destroy())
	assert.False(t, s.Exists())
	assert.False(t, s.Destroy())
	assert.Equal(t, ResultSetMissing, s.DestroyResult())
	assert.Equal(t, ResultSetMissing, s.ExistsResult())

	macs, err := Open(name+"-mac", string(SetTypeHashMAC), true, WithDialer(d))
	require.NoError(t, err)
	defer macs.Close()
	require.True(t, macs.Create(u32(0), true))
	defer macs.Destroy()
	assert.True(t, macs.AddMAC("aa:bb:cc:dd:ee:ff"))
	assert.True(t, macs.InMAC("aa:bb:cc:dd:ee:ff"))
}

func TestNetlinkKernel(t *testing.T) {
	skipIfNotRoot(t)
	runKernelScenario(t, NetlinkDialer)
}

func TestCmdKernel(t *testing.T) {
	skipIfNotRoot(t)
	runKernelScenario(t, CmdDialer(""))
}
