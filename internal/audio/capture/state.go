// Package capture implements the audio capture sources: process taps for
// system and application audio, and input sessions for microphones, behind a
// single Source contract.
package capture

import "fmt"

// State is the two-state stream lifecycle. There is no paused state.
type State int

const (
	// StateStopped - no hardware resource is held.
	StateStopped State = iota
	// StateStreaming - exactly one hardware resource is held and delivering audio.
	StateStreaming
)

// String returns the string representation of the state.
func (s State) String() string {
	switch s {
	case StateStopped:
		return "STOPPED"
	case StateStreaming:
		return "STREAMING"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", s)
	}
}

// TapState tracks the OS objects behind a process tap.
//
// State transitions:
//
//	INACTIVE ──prepare()──→ PREPARED ──run()──→ RUNNING
//	    ↑                      │                   │
//	    └─────────────── invalidate() ─────────────┘
//
// PREPARED holds a tap and an aggregate device but no I/O proc. RUNNING has
// the I/O proc attached and the device started.
type TapState int

const (
	TapInactive TapState = iota
	TapPrepared
	TapRunning
)

// String returns the string representation of the tap state.
func (s TapState) String() string {
	switch s {
	case TapInactive:
		return "INACTIVE"
	case TapPrepared:
		return "PREPARED"
	case TapRunning:
		return "RUNNING"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", s)
	}
}
