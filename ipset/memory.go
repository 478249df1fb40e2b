package ipset

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/sys/unix"
)

type memEntry struct {
	member Member
	expire time.Time // zero means no expiry
}

type memSet struct {
	typ     string
	family  uint8
	timeout *uint32
	members map[string]*memEntry
}

// MemoryStore is an in-process stand in for the kernel set table. It is
// shared by all connections dialed from it and is safe for concurrent use.
type MemoryStore struct {
	mu   sync.Mutex
	now  func() time.Time
	sets map[string]*memSet
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{now: time.Now, sets: make(map[string]*memSet)}
}

// SetClock replaces the time source used to evaluate expiry.
func (m *MemoryStore) SetClock(now func() time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = now
}

// MemoryDialer returns connections backed by store.
func MemoryDialer(store *MemoryStore) Dialer {
	return func() (Conn, error) {
		return &memConn{store: store}, nil
	}
}

type memConn struct {
	store *MemoryStore
}

func (c *memConn) lookup(set string) (*memSet, error) {
	s, ok := c.store.sets[set]
	if !ok {
		return nil, fmt.Errorf("set:%s, err:%w", set, ErrSetNotExist)
	}
	return s, nil
}

func (s *memSet) accepts(e *Entry) bool {
	m := e.Member()
	if !m.Valid() {
		return false
	}
	if isMACType(s.typ) {
		return m.Kind() == KindMAC
	}
	if !m.IsAddr() || e.Family != s.family {
		return false
	}
	// only net types store networks.
	return m.CIDR() == 0 || strings.HasPrefix(s.typ, "hash:net")
}

func (s *memSet) alive(e *memEntry, now time.Time) bool {
	return e.expire.IsZero() || now.Before(e.expire)
}

func (c *memConn) Header(set string) (*Header, error) {
	c.store.mu.Lock()
	defer c.store.mu.Unlock()
	s, err := c.lookup(set)
	if err != nil {
		return nil, err
	}
	now := c.store.now()
	cnt := 0
	for _, e := range s.members {
		if s.alive(e, now) {
			cnt++
		}
	}
	return &Header{
		Name:       set,
		Type:       s.typ,
		Family:     familyName(s.family),
		NumEntries: cnt,
	}, nil
}

func (c *memConn) Create(set string, typ string, opts CreateOptions) error {
	c.store.mu.Lock()
	defer c.store.mu.Unlock()
	if old, ok := c.store.sets[set]; ok {
		if opts.Exist && old.typ == typ {
			return nil
		}
		return fmt.Errorf("set:%s, err:%w", set, ErrSetExist)
	}
	s := &memSet{
		typ:     typ,
		timeout: opts.Timeout,
		members: make(map[string]*memEntry),
	}
	if !isMACType(typ) {
		s.family = opts.Family
		if s.family == 0 {
			s.family = unix.AF_INET
		}
	}
	c.store.sets[set] = s
	return nil
}

func (c *memConn) Destroy(set string) error {
	c.store.mu.Lock()
	defer c.store.mu.Unlock()
	if _, err := c.lookup(set); err != nil {
		return err
	}
	delete(c.store.sets, set)
	return nil
}

func (c *memConn) Flush(set string) error {
	c.store.mu.Lock()
	defer c.store.mu.Unlock()
	s, err := c.lookup(set)
	if err != nil {
		return err
	}
	s.members = make(map[string]*memEntry)
	return nil
}

func (c *memConn) Swap(set string, other string) error {
	c.store.mu.Lock()
	defer c.store.mu.Unlock()
	a, err := c.lookup(set)
	if err != nil {
		return err
	}
	b, err := c.lookup(other)
	if err != nil {
		return err
	}
	if a.typ != b.typ || a.family != b.family {
		return fmt.Errorf("swap %s <-> %s, err:%w", set, other, ErrInvalidMember)
	}
	c.store.sets[set], c.store.sets[other] = b, a
	return nil
}

func (c *memConn) Add(set string, e *Entry) error {
	c.store.mu.Lock()
	defer c.store.mu.Unlock()
	s, err := c.lookup(set)
	if err != nil {
		return err
	}
	if !s.accepts(e) {
		return fmt.Errorf("add %s to %s(%s), err:%w", e.String(), set, s.typ, ErrInvalidMember)
	}
	timeout := e.Timeout
	if timeout == nil {
		timeout = s.timeout
	} else if s.timeout == nil {
		return fmt.Errorf("set:%s was created without timeout support, err:%w", set, ErrInvalidMember)
	}
	item := &memEntry{member: e.Member()}
	if timeout != nil && *timeout > 0 {
		item.expire = c.store.now().Add(time.Duration(*timeout) * time.Second)
	}
	s.members[item.member.String()] = item
	return nil
}

func (c *memConn) Del(set string, e *Entry) error {
	c.store.mu.Lock()
	defer c.store.mu.Unlock()
	s, err := c.lookup(set)
	if err != nil {
		return err
	}
	if !s.accepts(e) {
		return fmt.Errorf("del %s from %s(%s), err:%w", e.String(), set, s.typ, ErrInvalidMember)
	}
	key := e.Member().String()
	item, ok := s.members[key]
	if !ok || !s.alive(item, c.store.now()) {
		return fmt.Errorf("del %s from %s, err:%w", key, set, ErrElemNotExist)
	}
	delete(s.members, key)
	return nil
}

func (c *memConn) Test(set string, e *Entry) (bool, error) {
	c.store.mu.Lock()
	defer c.store.mu.Unlock()
	s, err := c.lookup(set)
	if err != nil {
		return false, err
	}
	if !s.accepts(e) {
		return false, fmt.Errorf("test %s in %s(%s), err:%w", e.String(), set, s.typ, ErrInvalidMember)
	}
	probe := e.Member()
	now := c.store.now()
	for _, item := range s.members {
		if s.alive(item, now) && item.member.Contains(probe) {
			return true, nil
		}
	}
	return false, nil
}

func (c *memConn) List(set string) ([]Member, error) {
	c.store.mu.Lock()
	defer c.store.mu.Unlock()
	s, err := c.lookup(set)
	if err != nil {
		return nil, err
	}
	now := c.store.now()
	keys := make([]string, 0, len(s.members))
	for k, item := range s.members {
		if s.alive(item, now) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	rs := make([]Member, 0, len(keys))
	for _, k := range keys {
		rs = append(rs, s.members[k].member)
	}
	return rs, nil
}

func (c *memConn) Version() (string, error) {
	return "memory", nil
}

func (c *memConn) Close() error {
	return nil
}
