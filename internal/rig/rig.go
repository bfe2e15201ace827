package rig

import (
	"fmt"
	"sort"
)

const MaxChannels = 16

type Role string

const (
	RoleMixingA Role = "mixing_a"
	RoleMixingB Role = "mixing_b"
	RoleCarrier Role = "carrier"
)

// FlowController is one mass flow controller driven by an analog output.
type FlowController struct {
	Label   string
	Role    Role
	MaxFlow float64 // cc/min
	VMin    float64
	VMax    float64
	Output  int
}

// Voltage maps a flow in cc/min onto the controller's command range.
func (c FlowController) Voltage(flow float64) float64 {
	if c.MaxFlow <= 0 || flow <= 0 {
		return c.VMin
	}
	if flow > c.MaxFlow {
		flow = c.MaxFlow
	}
	return c.VMin + (c.VMax-c.VMin)*flow/c.MaxFlow
}

type Rig struct {
	channels    int
	controllers []FlowController
	mixA        int
	mixB        int
	carrier     int
	maxFlows    [2]float64
}

func New(channels int, controllers []FlowController) (*Rig, error) {
	if channels <= 0 {
		return nil, fmt.Errorf("rig needs at least one channel, got %d: %w", channels, ErrDimensionMismatch)
	}
	if channels > MaxChannels {
		return nil, fmt.Errorf("%d channels: %w", channels, ErrTooManyChannels)
	}

	ctrls := make([]FlowController, len(controllers))
	copy(ctrls, controllers)
	sort.SliceStable(ctrls, func(i, j int) bool { return ctrls[i].Output < ctrls[j].Output })

	r := &Rig{channels: channels, controllers: ctrls, mixA: -1, mixB: -1, carrier: -1}
	for i, c := range ctrls {
		if c.MaxFlow <= 0 {
			return nil, fmt.Errorf("controller %q has max flow %g: %w", c.Label, c.MaxFlow, ErrDimensionMismatch)
		}
		switch c.Role {
		case RoleMixingA:
			r.mixA = i
		case RoleMixingB:
			r.mixB = i
		case RoleCarrier:
			r.carrier = i
		default:
			return nil, fmt.Errorf("controller %q has unknown role %q", c.Label, c.Role)
		}
	}
	if r.mixA < 0 || r.mixB < 0 || r.carrier < 0 {
		return nil, ErrMissingController
	}
	r.maxFlows = [2]float64{ctrls[r.mixA].MaxFlow, ctrls[r.mixB].MaxFlow}
	return r, nil
}

func (r *Rig) Channels() int { return r.channels }

// Controllers returns the controllers in analog output order.
func (r *Rig) Controllers() []FlowController {
	out := make([]FlowController, len(r.controllers))
	copy(out, r.controllers)
	return out
}

// MaxFlows returns the full-scale flows of the A and B mixing controllers.
func (r *Rig) MaxFlows() [2]float64 { return r.maxFlows }

func (r *Rig) CarrierMax() float64 { return r.controllers[r.carrier].MaxFlow }

// Setpoints returns the flow commanded to each controller, in output order.
func (r *Rig) Setpoints(s Schedule) []float64 {
	out := make([]float64, len(r.controllers))
	out[r.mixA] = s.Mixing[0]
	out[r.mixB] = s.Mixing[1]
	out[r.carrier] = s.Carrier
	return out
}

// Voltages returns the analog command of each controller, in output order.
func (r *Rig) Voltages(s Schedule) []float64 {
	flows := r.Setpoints(s)
	out := make([]float64, len(flows))
	for i, f := range flows {
		out[i] = r.controllers[i].Voltage(f)
	}
	return out
}
