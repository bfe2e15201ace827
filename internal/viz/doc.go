// Package viz renders olfacto state for the terminal.
//
//   - [Monitor]: live Bubble Tea console for a running server
//   - [RenderReport]: target / achieved / error table for one solve
//   - [RenderFrame]: per-channel valve waveforms of one frame
//
// # Key Bindings
//
//	P     - Pause/Resume the writer loop
//	Q     - Quit the console and shut the server down
package viz
