package config

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/xxxsen/common/logger"
)

const (
	BackendNetlink = "netlink"
	BackendCmd     = "ipset"
	BackendMemory  = "memory"
)

type Config struct {
	LogConfig          logger.LogConfig `json:"log_config"`
	Backend            string           `json:"backend"`
	IpsetBin           string           `json:"ipset_bin"`
	Interface          string           `json:"interface"`
	BlackListID        string           `json:"black_list_id"`
	WhiteListID        string           `json:"white_list_id"`
	Chain              string           `json:"chain"`
	UserBlackListFiles []string         `json:"user_black_list_files"`
	UserWhiteListFiles []string         `json:"user_white_list_files"`
	ProtectedNetworks  []string         `json:"protected_networks"`
	BanTimeout         uint32           `json:"ban_timeout"` //秒, 0使用默认值(7天)
	EnableIPv6         bool             `json:"enable_ipv6"`
	ByPassLocalNetwork bool             `json:"by_pass_local_network"`
	ViewMode           bool             `json:"view_mode"`
	Debug              bool             `json:"debug"`
}

func (c *Config) Validate() error {
	switch c.Backend {
	case BackendNetlink, BackendCmd, BackendMemory:
	default:
		return fmt.Errorf("invalid backend:%s", c.Backend)
	}
	return nil
}

func Default() *Config {
	return &Config{
		Backend:            BackendNetlink,
		ByPassLocalNetwork: true,
		LogConfig: logger.LogConfig{
			Level:   "info",
			Console: true,
		},
	}
}

// Parse reads a json config, a missing file path returns the defaults.
func Parse(f string) (*Config, error) {
	c := Default()
	if len(f) == 0 {
		return c, nil
	}
	raw, err := os.ReadFile(f)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(raw, c); err != nil {
		return nil, err
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}
