// Package control turns operator input into push-to-talk edges.
//
// Two inputs are provided: [ReadLines] interprets lines from a terminal
// (typically os.Stdin) and [Handler] exposes the same edges over HTTP. Both
// drive any [Machine]; in production that is a [ptt.Machine].
package control

import (
	"context"

	"github.com/MrWong99/pushtalk/internal/ptt"
	"github.com/MrWong99/pushtalk/internal/realtime"
)

// Machine is the part of [ptt.Machine] the inputs drive.
type Machine interface {
	KeyDown(ctx context.Context) bool
	KeyUp() bool
	Toggle(ctx context.Context) ptt.State
	State() ptt.State
	Current() (ptt.Session, bool)
}

// Conn reports the realtime connection status shown alongside the PTT state.
type Conn interface {
	State() realtime.State
	Generation() uint64
}

// Compile-time assertions.
var (
	_ Machine = (*ptt.Machine)(nil)
	_ Conn    = (*realtime.Client)(nil)
)
