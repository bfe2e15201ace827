// Package optimizer turns a target concentration vector into a valve schedule.
//
// A solve runs in two stages. [Relax] finds the per-channel flows that would
// reproduce the target if every channel could be driven independently, using
// an SVD pseudo-inverse of the vapor matrix. The bounded trust-region solver
// then fits the rig's real degrees of freedom to those flows: the fraction of
// the frame each channel spends in mixing state A or B and the two mixing
// controller setpoints.
//
// [Finalize] applies the shared post-processing (duty floor, absolute state B
// time, carrier make-up flow). The lookup solver reuses it so both paths
// produce identical schedules for identical raw variables.
//
// Solve never fails. Degenerate inputs yield the all-off schedule.
package optimizer
