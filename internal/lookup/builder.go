package lookup

import (
	"context"
	"fmt"

	"github.com/san-kum/olfacto/internal/optimizer"
	"github.com/san-kum/olfacto/internal/rig"
)

// Builder enumerates a grid of raw variables and records the concentrations
// each combination delivers.
type Builder struct {
	Matrix     rig.Matrix
	MaxFlows   [2]float64
	TotalFlow  float64
	Channels   []int // 0-based channels whose duties are varied
	DutyLevels []float64
	FlowLevels []float64
}

func (b *Builder) Build(ctx context.Context) (*Table, error) {
	if err := b.Matrix.Validate(); err != nil {
		return nil, err
	}
	n := b.Matrix.Channels()
	for _, c := range b.Channels {
		if c < 0 || c >= n {
			return nil, fmt.Errorf("channel %d outside rig of %d: %w", c+1, n, rig.ErrDimensionMismatch)
		}
	}

	ranges := [][]float64{b.FlowLevels, b.FlowLevels}
	for range b.Channels {
		ranges = append(ranges, b.DutyLevels, b.DutyLevels)
	}

	t := &Table{Odorants: b.Matrix.Odorants(), Channels: n}
	err := b.searchRecursive(ctx, 0, make([]float64, len(ranges)), ranges, t)
	return t, err
}

func (b *Builder) searchRecursive(ctx context.Context, depth int, current []float64, ranges [][]float64, t *Table) error {
	if depth == len(ranges) {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		t.Rows = append(t.Rows, b.row(current, t.Channels))
		return nil
	}

	for _, val := range ranges[depth] {
		current[depth] = val
		if err := b.searchRecursive(ctx, depth+1, current, ranges, t); err != nil {
			return err
		}
	}
	return nil
}

func (b *Builder) row(vals []float64, channels int) Row {
	raw := optimizer.Raw{
		FA: vals[0],
		FB: vals[1],
		WA: make([]float64, channels),
		WB: make([]float64, channels),
	}
	for k, c := range b.Channels {
		raw.WA[c] = vals[2+2*k]
		raw.WB[c] = vals[3+2*k]
	}
	s := optimizer.Finalize(raw, b.MaxFlows, b.TotalFlow)
	return Row{Concentrations: optimizer.Achieved(b.Matrix, s), Raw: raw}
}

// Levels returns n evenly spaced values from lo to hi inclusive.
func Levels(lo, hi float64, n int) []float64 {
	if n <= 1 {
		return []float64{lo}
	}
	out := make([]float64, n)
	for i := range out {
		out[i] = lo + (hi-lo)*float64(i)/float64(n-1)
	}
	return out
}
