package blocker

import (
	"ipset-session/ipset"
)

const (
	defaultBlackListID = "blackcage_black"
	defaultWhiteListID = "blackcage_white"
	defaultCageChain   = "ipset-session-chain"
)

type config struct {
	blackID        string
	whiteID        string
	chain          string
	enableIPv6     bool
	banTimeout     uint32
	viewMode       bool
	debug          bool
	dialer         ipset.Dialer
	protected      []string
	noLocalProtect bool
	tableFactory   tableFactory
}

type Option func(c *config)

// WithBlackListID names the deny sets, see ipset.SetName.
func WithBlackListID(id string) Option {
	return func(c *config) {
		c.blackID = id
	}
}

func WithWhiteListID(id string) Option {
	return func(c *config) {
		c.whiteID = id
	}
}

func WithChain(chain string) Option {
	return func(c *config) {
		c.chain = chain
	}
}

func WithEnableIPv6(v bool) Option {
	return func(c *config) {
		c.enableIPv6 = v
	}
}

// WithBanTimeout is the expiry in seconds used when BanIP is called with 0.
func WithBanTimeout(sec uint32) Option {
	return func(c *config) {
		c.banTimeout = sec
	}
}

// WithViewMode keeps every set in memory and never touches the firewall.
func WithViewMode(v bool) Option {
	return func(c *config) {
		c.viewMode = v
	}
}

func WithDebug(v bool) Option {
	return func(c *config) {
		c.debug = v
	}
}

func WithDialer(d ipset.Dialer) Option {
	return func(c *config) {
		c.dialer = d
	}
}

// WithProtectedNetworks adds CIDRs that can never be banned.
func WithProtectedNetworks(cidrs []string) Option {
	return func(c *config) {
		c.protected = append(c.protected, cidrs...)
	}
}

func WithDisableLocalNetworkProtect(v bool) Option {
	return func(c *config) {
		c.noLocalProtect = v
	}
}

func withTableFactory(f tableFactory) Option {
	return func(c *config) {
		c.tableFactory = f
	}
}

func applyOpts(opts ...Option) *config {
	c := &config{
		blackID:      defaultBlackListID,
		whiteID:      defaultWhiteListID,
		chain:        defaultCageChain,
		banTimeout:   ipset.DefaultAddrTimeout,
		dialer:       ipset.NetlinkDialer,
		tableFactory: newIPTables,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.viewMode {
		c.dialer = ipset.MemoryDialer(ipset.NewMemoryStore())
		c.tableFactory = newMemTableFactory()
	}
	return c
}
