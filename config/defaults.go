// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package config

import "github.com/spf13/viper"

// Default principals for a local deployment.
const (
	DefaultOwner         = "0x00000000000000000000000000000000000000a1"
	DefaultGuardian      = "0x00000000000000000000000000000000000000a2"
	DefaultPoolCustody   = "0x00000000000000000000000000000000000000c1"
	DefaultBridgeCustody = "0x00000000000000000000000000000000000000c2"
	DefaultTransport     = "0x00000000000000000000000000000000000000b1"
)

// Oracle policy for tokens whose config leaves it unset.
const (
	DefaultMinSources      = 3
	DefaultMaxDeviationBps = 500
	DefaultHeartbeat       = 3_600

	// minSourcesFloor mirrors the oracle's lower bound on sources.
	minSourcesFloor = 2
)

// OracleMinSources is the configured source quorum or DefaultMinSources.
func (t TokenConfig) OracleMinSources() uint64 { return orDefault(t.MinSources, DefaultMinSources) }

// OracleMaxDeviationBps is the configured deviation bound or its default.
func (t TokenConfig) OracleMaxDeviationBps() uint64 {
	return orDefault(t.MaxDeviationBps, DefaultMaxDeviationBps)
}

// OracleHeartbeat is the configured heartbeat or DefaultHeartbeat.
func (t TokenConfig) OracleHeartbeat() uint64 { return orDefault(t.HeartbeatSeconds, DefaultHeartbeat) }

func orDefault(v, def uint64) uint64 {
	if v == 0 {
		return def
	}
	return v
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("roles.owner", DefaultOwner)
	v.SetDefault("roles.guardian", DefaultGuardian)
	v.SetDefault("roles.pool_custody", DefaultPoolCustody)
	v.SetDefault("roles.bridge_custody", DefaultBridgeCustody)
	v.SetDefault("roles.transport", DefaultTransport)
	v.SetDefault("roles.bitcoin_bridge", "")
	v.SetDefault("roles.relayer", "")

	v.SetDefault("oracle.source_timeout_ms", 2000)

	v.SetDefault("pool.a", 100)
	v.SetDefault("pool.swap_fee", 30)
	v.SetDefault("pool.max_slippage_bps", 500)
	v.SetDefault("pool.usdt", "")

	v.SetDefault("bridge.fee_bps", 5)
	v.SetDefault("bridge.chains", []uint32{1, 56, 137, 42161, 10})
	v.SetDefault("bridge.usdt", "")
	v.SetDefault("bridge.btc_token", "")

	v.SetDefault("storage.backend", BackendMemory)
	v.SetDefault("storage.path", "")

	v.SetDefault("log.level", "info")
}
