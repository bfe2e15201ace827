package rig

import "errors"

// Domain errors shared by the optimizer, writer and session layers.
var (
	// ErrOptimizerDegenerate is raised internally when the solver cannot make
	// progress. Callers never see it; the all-off schedule is returned instead.
	ErrOptimizerDegenerate = errors.New("olfacto: optimizer degenerate")

	// ErrHardwareWrite indicates the device sink rejected a frame.
	ErrHardwareWrite = errors.New("olfacto: hardware write failed")

	// ErrChannelsUninitialized indicates the device sink is not ready yet.
	ErrChannelsUninitialized = errors.New("olfacto: hardware channels not initialized")

	// ErrProtocolFraming indicates a session message arrived in the wrong phase
	// or carried an impossible header.
	ErrProtocolFraming = errors.New("olfacto: protocol framing error")

	// ErrTransportDisconnect indicates the client connection closed or failed.
	ErrTransportDisconnect = errors.New("olfacto: transport disconnected")

	// ErrConcentrationOverflow indicates a log10 concentration that does not
	// fit a float64 once exponentiated.
	ErrConcentrationOverflow = errors.New("olfacto: concentration overflow")

	// ErrDimensionMismatch indicates vectors or matrices of incompatible sizes.
	ErrDimensionMismatch = errors.New("olfacto: dimension mismatch")

	// ErrTooManyChannels indicates a rig wider than the 16-bit word halves.
	ErrTooManyChannels = errors.New("olfacto: too many channels")

	// ErrInvalidOdorant indicates an odorant with a non-positive dilution.
	ErrInvalidOdorant = errors.New("olfacto: invalid odorant")

	// ErrMissingController indicates a rig without one of the three controller roles.
	ErrMissingController = errors.New("olfacto: missing flow controller")
)
