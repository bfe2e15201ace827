package rig

import "fmt"

// Matrix is indexed [odorant][channel]. Entries are molar vapor concentrations
// delivered per unit of channel flow relative to the total outflow.
type Matrix [][]float64

func NewMatrix(odorants, channels int) Matrix {
	m := make(Matrix, odorants)
	for i := range m {
		m[i] = make([]float64, channels)
	}
	return m
}

func (m Matrix) Odorants() int { return len(m) }

func (m Matrix) Channels() int {
	if len(m) == 0 {
		return 0
	}
	return len(m[0])
}

func (m Matrix) Validate() error {
	n := m.Channels()
	for i, row := range m {
		if len(row) != n {
			return fmt.Errorf("row %d has %d channels, want %d: %w", i, len(row), n, ErrDimensionMismatch)
		}
	}
	return nil
}

// ChannelTotals sums the vapor each channel carries across all odorants.
func (m Matrix) ChannelTotals() []float64 {
	totals := make([]float64, m.Channels())
	for _, row := range m {
		for j, v := range row {
			totals[j] += v
		}
	}
	return totals
}

// Delivered computes the outflow concentration of every odorant given the
// average flow through each channel and the total outflow.
func (m Matrix) Delivered(channelFlows []float64, totalFlow float64) []float64 {
	out := make([]float64, len(m))
	if totalFlow <= 0 {
		return out
	}
	for i, row := range m {
		sum := 0.0
		for j, v := range row {
			if j < len(channelFlows) {
				sum += v * channelFlows[j]
			}
		}
		out[i] = sum / totalFlow
	}
	return out
}

type TargetVector struct {
	Concentrations []float64
	TotalFlow      float64
}

func (t TargetVector) IsZero() bool {
	for _, c := range t.Concentrations {
		if c != 0 {
			return false
		}
	}
	return true
}
