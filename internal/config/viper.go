package config

import (
	"strings"

	"github.com/spf13/viper"
)

// NewViper returns a viper instance that reads OLFACTO_* environment
// variables (OLFACTO_SERVER_ADDR for server.addr) with cfg as defaults.
func NewViper(cfg *Config) *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix("OLFACTO")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("server.addr", cfg.Server.Addr)
	v.SetDefault("server.byte_order", cfg.Server.ByteOrder)
	v.SetDefault("server.poll_timeout", cfg.Server.PollTimeout)
	v.SetDefault("server.read_timeout", cfg.Server.ReadTimeout)
	v.SetDefault("frame.samples", cfg.Frame.Samples)
	v.SetDefault("frame.frames_per_second", cfg.Frame.FramesPerSecond)
	v.SetDefault("optimizer.method", cfg.Optimizer.Method)
	v.SetDefault("optimizer.warm_start", cfg.Optimizer.WarmStart)
	v.SetDefault("optimizer.lookup_table", cfg.Optimizer.LookupTable)
	v.SetDefault("optimizer.partitions", cfg.Optimizer.Partitions)
	v.SetDefault("rig.total_flow", cfg.Rig.TotalFlow)
	v.SetDefault("telemetry.enabled", cfg.Telemetry.Enabled)
	v.SetDefault("telemetry.dir", cfg.Telemetry.Dir)
	v.SetDefault("log.level", cfg.Log.Level)
	return v
}

// Apply copies the layered values (flags, environment, defaults) into cfg.
func Apply(cfg *Config, v *viper.Viper) {
	cfg.Server.Addr = v.GetString("server.addr")
	cfg.Server.ByteOrder = v.GetString("server.byte_order")
	cfg.Server.PollTimeout = v.GetDuration("server.poll_timeout")
	cfg.Server.ReadTimeout = v.GetDuration("server.read_timeout")
	cfg.Frame.Samples = v.GetInt("frame.samples")
	cfg.Frame.FramesPerSecond = v.GetFloat64("frame.frames_per_second")
	cfg.Optimizer.Method = v.GetString("optimizer.method")
	cfg.Optimizer.WarmStart = v.GetString("optimizer.warm_start")
	cfg.Optimizer.LookupTable = v.GetString("optimizer.lookup_table")
	cfg.Optimizer.Partitions = v.GetInt("optimizer.partitions")
	cfg.Rig.TotalFlow = v.GetFloat64("rig.total_flow")
	cfg.Telemetry.Enabled = v.GetBool("telemetry.enabled")
	cfg.Telemetry.Dir = v.GetString("telemetry.dir")
	cfg.Log.Level = v.GetString("log.level")
}
