package ipset

import (
	"fmt"
	"net"

	"go.uber.org/zap"
	"golang.org/x/sys/unix"
)

type command int

const (
	cmdHeader command = iota
	cmdDestroy
	cmdAdd
	cmdDel
	cmdTest
)

func (c command) String() string {
	switch c {
	case cmdHeader:
		return "header"
	case cmdDestroy:
		return "destroy"
	case cmdAdd:
		return "add"
	case cmdDel:
		return "del"
	case cmdTest:
		return "test"
	}
	return "unknown"
}

type sessionConfig struct {
	debug  bool
	logger *zap.Logger
	dialer Dialer
}

type Option func(c *sessionConfig)

// WithDebug enables lifecycle and per command failure logs.
func WithDebug(v bool) Option {
	return func(c *sessionConfig) {
		c.debug = v
	}
}

func WithLogger(l *zap.Logger) Option {
	return func(c *sessionConfig) {
		c.logger = l
	}
}

// WithDialer selects the kernel connection backend, NetlinkDialer by default.
func WithDialer(d Dialer) Option {
	return func(c *sessionConfig) {
		c.dialer = d
	}
}

func applyOpts(opts ...Option) *sessionConfig {
	c := &sessionConfig{
		logger: zap.NewNop(),
		dialer: NetlinkDialer,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Session binds one kernel connection to one set name, set type and
// address family. A Session must not be used by several goroutines at once.
type Session struct {
	c      *sessionConfig
	name   string
	typ    string
	isIPv4 bool
	conn   Conn
}

// NewSession returns an unopened session.
func NewSession(opts ...Option) *Session {
	s := &Session{c: applyOpts(opts...)}
	s.debugf("ipset session new instance")
	return s
}

// Open returns a session bound to name. The set type is passed to the
// kernel verbatim and isIPv4 only matters for address members.
func Open(name string, typ string, isIPv4 bool, opts ...Option) (*Session, error) {
	s := NewSession(opts...)
	if err := s.Open(name, typ, isIPv4); err != nil {
		return nil, err
	}
	return s, nil
}

// Open (re)binds the session, releasing any connection it held before.
func (s *Session) Open(name string, typ string, isIPv4 bool) error {
	if len(name) == 0 || len(name) > maxSetNameLen {
		return fmt.Errorf("invalid set name:%q, err:%w", name, ErrSessionInit)
	}
	if err := s.release(); err != nil {
		s.c.logger.Error("release previous ipset connection failed", zap.String("set", s.name), zap.Error(err))
	}
	conn, err := s.c.dialer()
	if err != nil {
		return fmt.Errorf("%w: set:%s, err:%w", ErrSessionInit, name, err)
	}
	s.conn = conn
	s.name = name
	s.typ = typ
	s.isIPv4 = isIPv4
	s.debugf("ipset session open", zap.String("set", name), zap.String("type", typ), zap.Bool("ipv4", isIPv4))
	return nil
}

// Close releases the kernel connection, calling it again is a no-op.
func (s *Session) Close() error {
	if s.conn == nil {
		return nil
	}
	s.debugf("ipset session close", zap.String("set", s.name))
	return s.release()
}

func (s *Session) release() error {
	if s.conn == nil {
		return nil
	}
	conn := s.conn
	s.conn = nil
	return conn.Close()
}

func (s *Session) Name() string {
	return s.name
}

func (s *Session) Type() string {
	return s.typ
}

func (s *Session) IsIPv4() bool {
	return s.isIPv4
}

func (s *Session) IsOpen() bool {
	return s.conn != nil
}

func (s *Session) family() uint8 {
	if s.isIPv4 {
		return unix.AF_INET
	}
	return unix.AF_INET6
}

func (s *Session) debugf(msg string, fields ...zap.Field) {
	if !s.c.debug {
		return
	}
	s.c.logger.Debug(msg, fields...)
}

// encode builds the wire form of m and checks it against the session family.
func (s *Session) encode(m Member) (*Entry, bool) {
	switch m.Kind() {
	case KindIPv4, KindIPv6:
		e := &Entry{IP: m.IP(), CIDR: m.CIDR(), Family: unix.AF_INET}
		if m.Kind() == KindIPv6 {
			e.Family = unix.AF_INET6
		}
		if e.Family != s.family() {
			return nil, false
		}
		return e, true
	case KindMAC:
		return &Entry{MAC: m.MAC()}, true
	}
	return nil, false
}

// exec submits one command and collapses its outcome into a Result.
// member is nil for commands that only address the set.
func (s *Session) exec(cmd command, member *Member, timeout uint32) Result {
	if s.conn == nil {
		return ResultTransportError
	}
	var entry *Entry
	if member != nil {
		e, ok := s.encode(*member)
		if !ok {
			s.debugf("ipset member rejected", zap.String("set", s.name), zap.String("cmd", cmd.String()),
				zap.String("member", member.String()), zap.String("kind", member.Kind().String()))
			return ResultInvalidMember
		}
		if cmd == cmdAdd && timeout != 0 {
			t := timeout
			if t == Permanent {
				t = 0
			}
			e.Timeout = &t
		}
		entry = e
	}
	var err error
	switch cmd {
	case cmdHeader:
		_, err = s.conn.Header(s.name)
	case cmdDestroy:
		err = s.conn.Destroy(s.name)
	case cmdAdd:
		err = s.conn.Add(s.name, entry)
	case cmdDel:
		err = s.conn.Del(s.name, entry)
	case cmdTest:
		var ok bool
		ok, err = s.conn.Test(s.name, entry)
		if err == nil && !ok {
			return ResultNotFound
		}
	default:
		err = fmt.Errorf("unsupported command:%d", int(cmd))
	}
	rs := classify(err)
	if !rs.OK() && cmd != cmdTest {
		s.debugf("ipset command failed", zap.String("set", s.name), zap.String("cmd", cmd.String()),
			zap.String("result", rs.String()), zap.Error(err))
	}
	return rs
}

// Exists reports whether the bound set is present in the kernel.
func (s *Session) Exists() bool {
	return s.ExistsResult().OK()
}

func (s *Session) ExistsResult() Result {
	return s.exec(cmdHeader, nil, 0)
}

// Destroy removes the bound set with all of its members. It fails when the
// set is missing or still referenced by a firewall rule.
func (s *Session) Destroy() bool {
	return s.DestroyResult().OK()
}

func (s *Session) DestroyResult() Result {
	return s.exec(cmdDestroy, nil, 0)
}

// Add inserts m, refreshing the timeout when m is already present.
// A timeout of 0 uses the set default, Permanent disables expiry.
func (s *Session) Add(m Member, timeout uint32) bool {
	return s.AddResult(m, timeout).OK()
}

func (s *Session) AddResult(m Member, timeout uint32) Result {
	return s.exec(cmdAdd, &m, timeout)
}

// AddAddr adds ip with DefaultAddrTimeout.
func (s *Session) AddAddr(ip net.IP) bool {
	return s.Add(AddrMember(ip), DefaultAddrTimeout)
}

// AddMAC adds mac with DefaultMACTimeout.
func (s *Session) AddMAC(mac string) bool {
	m, err := MACMember(mac)
	if err != nil {
		s.debugf("ipset invalid mac", zap.String("set", s.name), zap.Error(err))
		return false
	}
	return s.Add(m, DefaultMACTimeout)
}

// Remove deletes m. A member that is not present is reported as false,
// never as an error, so speculative removal is fine.
func (s *Session) Remove(m Member) bool {
	return s.RemoveResult(m).OK()
}

func (s *Session) RemoveResult(m Member) Result {
	return s.exec(cmdDel, &m, 0)
}

func (s *Session) RemoveAddr(ip net.IP) bool {
	return s.Remove(AddrMember(ip))
}

func (s *Session) RemoveMAC(mac string) bool {
	m, err := MACMember(mac)
	if err != nil {
		return false
	}
	return s.Remove(m)
}

// In tests membership, expired members are absent.
func (s *Session) In(m Member) bool {
	return s.InResult(m).OK()
}

func (s *Session) InResult(m Member) Result {
	return s.exec(cmdTest, &m, 0)
}

func (s *Session) InAddr(ip net.IP) bool {
	return s.In(AddrMember(ip))
}

func (s *Session) InMAC(mac string) bool {
	m, err := MACMember(mac)
	if err != nil {
		return false
	}
	return s.In(m)
}
