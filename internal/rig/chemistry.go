package rig

import "fmt"

// Odorant is one compound loaded by a session, identified by its chemical id.
type Odorant struct {
	ID       int32
	Dilution int32
}

// ChemistryModel produces the vapor concentration matrix for a set of odorants.
type ChemistryModel interface {
	VaporConcentrationMatrix(odorants []Odorant) (Matrix, error)
}

// StaticChemistry loads odorant k into channel k and leaves the remaining
// channels with solvent only. Each odorant's vapor concentration is its
// configured saturation value divided by the dilution factor.
type StaticChemistry struct {
	Channels   int
	Saturation map[int32]float64
	Default    float64
}

func (c *StaticChemistry) VaporConcentrationMatrix(odorants []Odorant) (Matrix, error) {
	if len(odorants) > c.Channels {
		return nil, fmt.Errorf("%d odorants on %d channels: %w", len(odorants), c.Channels, ErrDimensionMismatch)
	}
	m := NewMatrix(len(odorants), c.Channels)
	for k, o := range odorants {
		if o.Dilution <= 0 {
			return nil, fmt.Errorf("odorant %d dilution %d: %w", o.ID, o.Dilution, ErrInvalidOdorant)
		}
		sat, ok := c.Saturation[o.ID]
		if !ok {
			sat = c.Default
		}
		m[k][k] = sat / float64(o.Dilution)
	}
	return m, nil
}
