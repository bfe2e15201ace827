package config

import (
	"encoding/binary"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/san-kum/olfacto/internal/optimizer"
	"github.com/san-kum/olfacto/internal/rig"
	"github.com/san-kum/olfacto/internal/writer"
	"gopkg.in/yaml.v3"
)

const (
	SamplesPerFrame   = 50
	FramesPerSecond   = 1.0
	MinDuty           = optimizer.MinDuty
	MinFlowFraction   = optimizer.MinFlowFraction
	DefaultAddr       = "localhost:12345"
	DefaultTotalFlow  = 4000.0
	DefaultChannels   = 10
	DefaultSaturation = 1e-3
	DefaultPoll       = time.Second
)

type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Frame     FrameConfig     `yaml:"frame"`
	Optimizer OptimizerConfig `yaml:"optimizer"`
	Rig       RigConfig       `yaml:"rig"`
	Chemistry ChemistryConfig `yaml:"chemistry"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
	Log       LogConfig       `yaml:"log"`
}

type ServerConfig struct {
	Addr        string        `yaml:"addr"`
	ByteOrder   string        `yaml:"byte_order"`
	PollTimeout time.Duration `yaml:"poll_timeout"`
	ReadTimeout time.Duration `yaml:"read_timeout"`
}

type FrameConfig struct {
	Samples         int           `yaml:"samples"`
	FramesPerSecond float64       `yaml:"frames_per_second"`
	WriteInterval   time.Duration `yaml:"write_interval"`
}

type OptimizerConfig struct {
	Method        string  `yaml:"method"`
	MaxIterations int     `yaml:"max_iterations"`
	Tolerance     float64 `yaml:"tolerance"`
	RCond         float64 `yaml:"rcond"`
	WarmStart     string  `yaml:"warm_start"`
	LookupTable   string  `yaml:"lookup_table"`
	Partitions    int     `yaml:"partitions"`
}

type ControllerConfig struct {
	Label   string  `yaml:"label"`
	Role    string  `yaml:"role"`
	MaxFlow float64 `yaml:"max_flow"`
	VMin    float64 `yaml:"v_min"`
	VMax    float64 `yaml:"v_max"`
	Output  int     `yaml:"output"`
}

type RigConfig struct {
	Channels    int                `yaml:"channels"`
	TotalFlow   float64            `yaml:"total_flow"`
	Controllers []ControllerConfig `yaml:"controllers"`
}

type ChemistryConfig struct {
	DefaultSaturation float64           `yaml:"default_saturation"`
	Saturation        map[int32]float64 `yaml:"saturation"`
}

type TelemetryConfig struct {
	Enabled bool   `yaml:"enabled"`
	Dir     string `yaml:"dir"`
}

type LogConfig struct {
	Level string `yaml:"level"`
}

func defaultControllers() []ControllerConfig {
	return []ControllerConfig{
		{Label: "MFC_B_Low", Role: string(rig.RoleMixingB), MaxFlow: 10, VMin: 0, VMax: 5, Output: 0},
		{Label: "MFC_A_High", Role: string(rig.RoleMixingA), MaxFlow: 1000, VMin: 0, VMax: 5, Output: 1},
		{Label: "MFC_Carrier", Role: string(rig.RoleCarrier), MaxFlow: 10000, VMin: 0, VMax: 5, Output: 2},
	}
}

func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:        DefaultAddr,
			ByteOrder:   "little",
			PollTimeout: DefaultPoll,
		},
		Frame: FrameConfig{
			Samples:         SamplesPerFrame,
			FramesPerSecond: FramesPerSecond,
		},
		Optimizer: OptimizerConfig{
			Method:        "trust-region",
			MaxIterations: 200,
			Tolerance:     1e-10,
			RCond:         1e-12,
			WarmStart:     string(optimizer.WarmConstant),
			Partitions:    1,
		},
		Rig: RigConfig{
			Channels:    DefaultChannels,
			TotalFlow:   DefaultTotalFlow,
			Controllers: defaultControllers(),
		},
		Chemistry: ChemistryConfig{
			DefaultSaturation: DefaultSaturation,
			Saturation:        map[int32]float64{},
		},
		Telemetry: TelemetryConfig{Dir: "data"},
		Log:       LogConfig{Level: "info"},
	}
}

func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func Save(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

func (c *Config) Validate() error {
	if c.Frame.Samples <= 0 {
		return fmt.Errorf("frame.samples must be positive, got %d", c.Frame.Samples)
	}
	if c.Frame.FramesPerSecond <= 0 {
		return fmt.Errorf("frame.frames_per_second must be positive, got %g", c.Frame.FramesPerSecond)
	}
	if c.Rig.TotalFlow <= 0 {
		return fmt.Errorf("rig.total_flow must be positive, got %g", c.Rig.TotalFlow)
	}
	if _, err := c.ByteOrder(); err != nil {
		return err
	}
	switch c.Optimizer.Method {
	case "trust-region":
	case "lookup":
		if c.Optimizer.LookupTable == "" {
			return fmt.Errorf("optimizer.lookup_table is required for the lookup method")
		}
	default:
		return fmt.Errorf("unknown optimizer method %q", c.Optimizer.Method)
	}
	_, err := c.BuildRig()
	return err
}

func (c *Config) ByteOrder() (binary.ByteOrder, error) {
	switch strings.ToLower(c.Server.ByteOrder) {
	case "", "little", "little-endian":
		return binary.LittleEndian, nil
	case "big", "big-endian", "network":
		return binary.BigEndian, nil
	}
	return nil, fmt.Errorf("unknown byte order %q", c.Server.ByteOrder)
}

func (c *Config) BuildRig() (*rig.Rig, error) {
	ctrls := make([]rig.FlowController, len(c.Rig.Controllers))
	for i, cc := range c.Rig.Controllers {
		ctrls[i] = rig.FlowController{
			Label:   cc.Label,
			Role:    rig.Role(cc.Role),
			MaxFlow: cc.MaxFlow,
			VMin:    cc.VMin,
			VMax:    cc.VMax,
			Output:  cc.Output,
		}
	}
	return rig.New(c.Rig.Channels, ctrls)
}

func (c *Config) BuildChemistry() *rig.StaticChemistry {
	sat := make(map[int32]float64, len(c.Chemistry.Saturation))
	for id, v := range c.Chemistry.Saturation {
		sat[id] = v
	}
	return &rig.StaticChemistry{
		Channels:   c.Rig.Channels,
		Saturation: sat,
		Default:    c.Chemistry.DefaultSaturation,
	}
}

func (c *Config) OptimizerOptions() optimizer.Options {
	return optimizer.Options{
		MaxIterations: c.Optimizer.MaxIterations,
		Tolerance:     c.Optimizer.Tolerance,
		RCond:         c.Optimizer.RCond,
		WarmStart:     optimizer.WarmStart(c.Optimizer.WarmStart),
	}
}

// WriteInterval is the configured writer period, or half the frame period.
func (c *Config) WriteInterval() time.Duration {
	if c.Frame.WriteInterval > 0 {
		return c.Frame.WriteInterval
	}
	return writer.IntervalFor(c.Frame.FramesPerSecond)
}
