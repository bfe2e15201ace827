// Package session implements the single-client binary control protocol.
//
// A client configures a session with three fixed-width messages and then
// streams concentration updates:
//
//	int32              count (1..channels)
//	int32[count]       chemical ids
//	int32[count]       dilution factors
//	float64[count]     log10 molar concentrations, repeated until disconnect
//
// [Machine] is the pure phase machine. [Server] owns the listener, reads
// messages on a per-connection goroutine and drives one [Controller] per
// session. A transport or framing failure ends the session and closes its
// controller, which stops the writer loop.
package session
