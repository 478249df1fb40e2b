package blocker

import (
	"fmt"
	"strings"
	"sync"

	"github.com/coreos/go-iptables/iptables"
)

// ruleTable is the part of *iptables.IPTables the blocker relies on.
type ruleTable interface {
	ChainExists(table, chain string) (bool, error)
	NewChain(table, chain string) error
	AppendUnique(table, chain string, rulespec ...string) error
	InsertUnique(table, chain string, pos int, rulespec ...string) error
	DeleteIfExists(table, chain string, rulespec ...string) error
	ClearAndDeleteChain(table, chain string) error
}

type tableFactory func(isIPv4 bool) (ruleTable, error)

func newIPTables(isIPv4 bool) (ruleTable, error) {
	proto := iptables.ProtocolIPv4
	if !isIPv4 {
		proto = iptables.ProtocolIPv6
	}
	ipt, err := iptables.NewWithProtocol(proto)
	if err != nil {
		return nil, fmt.Errorf("init iptables failed, ipv4:%t, err:%w", isIPv4, err)
	}
	return ipt, nil
}

// memTable records rules instead of installing them, used by view mode.
type memTable struct {
	mu     sync.Mutex
	chains map[string][]string
}

func newMemTableFactory() tableFactory {
	tables := make(map[bool]*memTable)
	return func(isIPv4 bool) (ruleTable, error) {
		if t, ok := tables[isIPv4]; ok {
			return t, nil
		}
		t := &memTable{chains: map[string][]string{"filter/INPUT": nil}}
		tables[isIPv4] = t
		return t, nil
	}
}

func chainKey(table, chain string) string {
	return table + "/" + chain
}

func (t *memTable) rules(table, chain string) []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]string(nil), t.chains[chainKey(table, chain)]...)
}

func (t *memTable) ChainExists(table, chain string) (bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.chains[chainKey(table, chain)]
	return ok, nil
}

func (t *memTable) NewChain(table, chain string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	key := chainKey(table, chain)
	if _, ok := t.chains[key]; ok {
		return fmt.Errorf("chain:%s already exists", key)
	}
	t.chains[key] = nil
	return nil
}

func (t *memTable) lookupRule(key string, rule string) int {
	for i, r := range t.chains[key] {
		if r == rule {
			return i
		}
	}
	return -1
}

func (t *memTable) AppendUnique(table, chain string, rulespec ...string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	key := chainKey(table, chain)
	rule := strings.Join(rulespec, " ")
	if _, ok := t.chains[key]; !ok {
		return fmt.Errorf("chain:%s does not exist", key)
	}
	if t.lookupRule(key, rule) >= 0 {
		return nil
	}
	t.chains[key] = append(t.chains[key], rule)
	return nil
}

func (t *memTable) InsertUnique(table, chain string, pos int, rulespec ...string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	key := chainKey(table, chain)
	rule := strings.Join(rulespec, " ")
	rules, ok := t.chains[key]
	if !ok {
		return fmt.Errorf("chain:%s does not exist", key)
	}
	if t.lookupRule(key, rule) >= 0 {
		return nil
	}
	idx := pos - 1
	if idx < 0 || idx > len(rules) {
		idx = len(rules)
	}
	rules = append(rules, "")
	copy(rules[idx+1:], rules[idx:])
	rules[idx] = rule
	t.chains[key] = rules
	return nil
}

func (t *memTable) DeleteIfExists(table, chain string, rulespec ...string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	key := chainKey(table, chain)
	idx := t.lookupRule(key, strings.Join(rulespec, " "))
	if idx < 0 {
		return nil
	}
	rules := t.chains[key]
	t.chains[key] = append(rules[:idx], rules[idx+1:]...)
	return nil
}

func (t *memTable) ClearAndDeleteChain(table, chain string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.chains, chainKey(table, chain))
	return nil
}
