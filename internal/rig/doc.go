// Package rig holds the data model shared by every olfacto component.
//
// A rig is a bank of up to [MaxChannels] odorant channels fed by two mixing
// flow controllers and diluted by a carrier controller:
//
//   - [Rig]: channels plus the three [FlowController] entries, in analog output order
//   - [Matrix]: vapor concentration of each loaded odorant in each channel
//   - [Schedule]: per-channel duty cycles and controller setpoints for one frame
//   - [Frame]: the digital words and analog voltages written to the device
//
// Channel i (1-based) drives bit i-1 of a digital word while in mixing state B
// and bit i-1+16 while in mixing state A.
//
// # Thread Safety
//
// Rig, Matrix and Frame values are read-only after construction and may be
// shared between goroutines. Schedule values are copied before mutation.
package rig
