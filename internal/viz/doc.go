// Package viz is an interactive terminal viewer for stored runs, built on
// Bubble Tea.
//
// # Key Bindings
//
//	j/k   - Move through the run list
//	Enter - Open the selected run
//	←/→   - Cycle methods
//	E     - Toggle the f ± df envelope
//	T     - Cycle color themes
//	Esc   - Back to the run list
//	Q     - Quit
package viz
