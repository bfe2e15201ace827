package config

import (
	"sort"

	"github.com/san-kum/olfacto/internal/rig"
)

// Presets are rig layouts that can replace the rig section of a config.
var Presets = map[string]RigConfig{
	"standard": {
		Channels: 10, TotalFlow: 4000,
		Controllers: defaultControllers(),
	},
	"compact": {
		Channels: 4, TotalFlow: 2000,
		Controllers: []ControllerConfig{
			{Label: "MFC_B_Low", Role: string(rig.RoleMixingB), MaxFlow: 10, VMax: 5, Output: 0},
			{Label: "MFC_A_High", Role: string(rig.RoleMixingA), MaxFlow: 500, VMax: 5, Output: 1},
			{Label: "MFC_Carrier", Role: string(rig.RoleCarrier), MaxFlow: 5000, VMax: 5, Output: 2},
		},
	},
	"wide": {
		Channels: 16, TotalFlow: 8000,
		Controllers: []ControllerConfig{
			{Label: "MFC_B_Low", Role: string(rig.RoleMixingB), MaxFlow: 20, VMax: 5, Output: 0},
			{Label: "MFC_A_High", Role: string(rig.RoleMixingA), MaxFlow: 2000, VMax: 5, Output: 1},
			{Label: "MFC_Carrier", Role: string(rig.RoleCarrier), MaxFlow: 10000, VMax: 5, Output: 2},
		},
	},
}

// GetPreset returns the default config with the named rig, or nil.
func GetPreset(name string) *Config {
	p, ok := Presets[name]
	if !ok {
		return nil
	}
	cfg := DefaultConfig()
	cfg.Rig = RigConfig{
		Channels:    p.Channels,
		TotalFlow:   p.TotalFlow,
		Controllers: append([]ControllerConfig(nil), p.Controllers...),
	}
	return cfg
}

func ListPresets() []string {
	names := make([]string, 0, len(Presets))
	for name := range Presets {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
