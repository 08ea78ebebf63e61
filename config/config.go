// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package config loads swapbridge settings from a file and the environment.
package config

import (
	"fmt"
	"strings"

	"github.com/luxfi/geth/common"
	"github.com/spf13/viper"

	"github.com/luxfi/swapbridge/fault"
)

// EnvPrefix prefixes every environment override, e.g. SWAPBRIDGE_POOL_A.
const EnvPrefix = "SWAPBRIDGE"

// Storage backends
const (
	BackendMemory = "memory"
	BackendPebble = "pebble"
)

// ErrInvalidConfig is returned for any configuration that fails validation.
var ErrInvalidConfig = fault.Configuration("invalid configuration")

// Config is the complete swapbridge configuration.
type Config struct {
	Roles   RolesConfig   `mapstructure:"roles"`
	Tokens  []TokenConfig `mapstructure:"tokens"`
	Feeds   []FeedConfig  `mapstructure:"feeds"`
	Mints   []MintConfig  `mapstructure:"mints"`
	Oracle  OracleConfig  `mapstructure:"oracle"`
	Pool    PoolConfig    `mapstructure:"pool"`
	Bridge  BridgeConfig  `mapstructure:"bridge"`
	Storage StorageConfig `mapstructure:"storage"`
	Log     LogConfig     `mapstructure:"log"`
}

// RolesConfig names the principals.
type RolesConfig struct {
	Owner         string   `mapstructure:"owner"`
	Guardian      string   `mapstructure:"guardian"`
	PoolCustody   string   `mapstructure:"pool_custody"`
	BridgeCustody string   `mapstructure:"bridge_custody"`
	Transport     string   `mapstructure:"transport"`
	BitcoinBridge string   `mapstructure:"bitcoin_bridge"`
	Relayer       string   `mapstructure:"relayer"`
	Updaters      []string `mapstructure:"updaters"`
}

// TokenConfig registers one token with the ledger and, optionally, the
// oracle, the pool and the bridge.
type TokenConfig struct {
	Address    string `mapstructure:"address"`
	Symbol     string `mapstructure:"symbol"`
	Decimals   uint8  `mapstructure:"decimals"`
	Stablecoin bool   `mapstructure:"stablecoin"`
	Pool       bool   `mapstructure:"pool"`
	Bridge     bool   `mapstructure:"bridge"`

	// Oracle policy, applied when at least one feed exists for the token.
	MinSources       uint64 `mapstructure:"min_sources"`
	MaxDeviationBps  uint64 `mapstructure:"max_deviation_bps"`
	HeartbeatSeconds uint64 `mapstructure:"heartbeat_seconds"`

	// Raw bridge limits in human units; both or neither.
	BridgeMin string `mapstructure:"bridge_min"`
	BridgeMax string `mapstructure:"bridge_max"`
}

// FeedConfig is a static price source.
type FeedConfig struct {
	Token  string `mapstructure:"token"`
	Source string `mapstructure:"source"`
	Price  string `mapstructure:"price"` // USD, human units
}

// MintConfig credits an initial balance.
type MintConfig struct {
	Token  string `mapstructure:"token"`
	Holder string `mapstructure:"holder"`
	Amount string `mapstructure:"amount"` // human units
}

// OracleConfig tunes the oracle.
type OracleConfig struct {
	SourceTimeoutMs uint64 `mapstructure:"source_timeout_ms"`
}

// PoolConfig tunes the stable swap pool.
type PoolConfig struct {
	A              uint64 `mapstructure:"a"`
	SwapFee        uint64 `mapstructure:"swap_fee"`
	MaxSlippageBps uint64 `mapstructure:"max_slippage_bps"`
	USDT           string `mapstructure:"usdt"`
}

// ChainFeeConfig overrides the bridge fee for one chain.
type ChainFeeConfig struct {
	Chain uint32 `mapstructure:"chain"`
	Bps   uint64 `mapstructure:"bps"`
}

// BridgeConfig tunes the bridge handler.
type BridgeConfig struct {
	FeeBps    uint64           `mapstructure:"fee_bps"`
	Chains    []uint32         `mapstructure:"chains"`
	ChainFees []ChainFeeConfig `mapstructure:"chain_fees"`
	USDT      string           `mapstructure:"usdt"`
	BTCToken  string           `mapstructure:"btc_token"`
	Gasless   []string         `mapstructure:"gasless"` // users allowed gasless transfers
}

// StorageConfig selects the persistence backend.
type StorageConfig struct {
	Backend string `mapstructure:"backend"`
	Path    string `mapstructure:"path"`
}

// LogConfig sets the log level.
type LogConfig struct {
	Level string `mapstructure:"level"`
}

// Load reads path, when non-empty, over the defaults and applies
// SWAPBRIDGE_* environment overrides.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("%w: read %s: %v", ErrInvalidConfig, path, err)
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns the configuration with no file and no environment.
func Default() *Config {
	v := viper.New()
	setDefaults(v)
	var cfg Config
	// Defaults always decode.
	_ = v.Unmarshal(&cfg)
	return &cfg
}

// Validate checks addresses, references and bounds.
func (c *Config) Validate() error {
	for name, addr := range map[string]string{
		"roles.owner":    c.Roles.Owner,
		"roles.guardian": c.Roles.Guardian,
	} {
		if _, err := ParseAddress(addr); err != nil {
			return fmt.Errorf("%w: %s: %v", ErrInvalidConfig, name, err)
		}
	}
	for name, addr := range map[string]string{
		"roles.pool_custody":   c.Roles.PoolCustody,
		"roles.bridge_custody": c.Roles.BridgeCustody,
		"roles.transport":      c.Roles.Transport,
		"roles.bitcoin_bridge": c.Roles.BitcoinBridge,
		"roles.relayer":        c.Roles.Relayer,
	} {
		if addr == "" {
			continue
		}
		if _, err := ParseAddress(addr); err != nil {
			return fmt.Errorf("%w: %s: %v", ErrInvalidConfig, name, err)
		}
	}

	symbols := make(map[string]bool, len(c.Tokens))
	for _, t := range c.Tokens {
		if _, err := ParseAddress(t.Address); err != nil {
			return fmt.Errorf("%w: token %q: %v", ErrInvalidConfig, t.Symbol, err)
		}
		key := strings.ToUpper(t.Symbol)
		if key == "" || symbols[key] {
			return fmt.Errorf("%w: token symbol %q empty or duplicated", ErrInvalidConfig, t.Symbol)
		}
		symbols[key] = true
		if t.Decimals > 18 {
			return fmt.Errorf("%w: token %s decimals %d", ErrInvalidConfig, t.Symbol, t.Decimals)
		}
		if (t.BridgeMin == "") != (t.BridgeMax == "") {
			return fmt.Errorf("%w: token %s needs both bridge_min and bridge_max", ErrInvalidConfig, t.Symbol)
		}
	}
	feeds := make(map[int]int, len(c.Tokens))
	for _, f := range c.Feeds {
		idx := c.tokenIndex(f.Token)
		if idx < 0 {
			return fmt.Errorf("%w: feed for unknown token %q", ErrInvalidConfig, f.Token)
		}
		feeds[idx]++
		if _, err := ParseAddress(f.Source); err != nil {
			return fmt.Errorf("%w: feed source: %v", ErrInvalidConfig, err)
		}
		if _, err := ParseAmount(f.Price, 18); err != nil {
			return fmt.Errorf("%w: feed price: %v", ErrInvalidConfig, err)
		}
	}
	for i, t := range c.Tokens {
		if t.MinSources != 0 && t.MinSources < minSourcesFloor {
			return fmt.Errorf("%w: token %s min_sources %d below %d", ErrInvalidConfig, t.Symbol, t.MinSources, minSourcesFloor)
		}
		n := feeds[i]
		if n > 0 && uint64(n) < t.OracleMinSources() {
			return fmt.Errorf("%w: token %s has %d feeds, min_sources is %d", ErrInvalidConfig, t.Symbol, n, t.OracleMinSources())
		}
	}
	for _, m := range c.Mints {
		if c.tokenIndex(m.Token) < 0 {
			return fmt.Errorf("%w: mint of unknown token %q", ErrInvalidConfig, m.Token)
		}
	}

	switch c.Storage.Backend {
	case BackendMemory:
	case BackendPebble:
		if c.Storage.Path == "" {
			return fmt.Errorf("%w: storage.path required for pebble", ErrInvalidConfig)
		}
	default:
		return fmt.Errorf("%w: storage.backend %q", ErrInvalidConfig, c.Storage.Backend)
	}
	return nil
}

// tokenIndex resolves a symbol or address to its position in Tokens, or -1.
func (c *Config) tokenIndex(ref string) int {
	for i, t := range c.Tokens {
		if strings.EqualFold(t.Symbol, ref) || strings.EqualFold(t.Address, ref) {
			return i
		}
	}
	return -1
}

// ParseAddress parses a 0x-prefixed hex address.
func ParseAddress(s string) (common.Address, error) {
	if !common.IsHexAddress(s) {
		return common.Address{}, fmt.Errorf("not a hex address: %q", s)
	}
	return common.HexToAddress(s), nil
}
