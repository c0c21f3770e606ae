// Package host models the game-server runtime the framework runs on: named
// pub/sub channels, timers bound to a single event loop, logging and entities.
package host

import "time"

// Channels the runtime itself emits on.
const (
	EventGameEntityCreate       = "gameEntityCreate"
	EventGameEntityDestroy      = "gameEntityDestroy"
	EventSyncedMetaChange       = "syncedMetaChange"
	EventStreamSyncedMetaChange = "streamSyncedMetaChange"
	EventEntityEnterColShape    = "entityEnterColshape"
	EventEntityLeaveColShape    = "entityLeaveColshape"
	EventConsoleCommand         = "consoleCommand"
	EventKeyUp                  = "keyup"
	EventKeyDown                = "keydown"
	EventPlayerConnect          = "playerConnect"
	EventPlayerDisconnect       = "playerDisconnect"
)

// Timer identifies a scheduled callback. The zero Timer is never issued.
type Timer uint64

type Scheduler interface {
	SetTimeout(fn func(), d time.Duration) Timer
	ClearTimeout(t Timer)
	SetInterval(fn func(), d time.Duration) Timer
	ClearInterval(t Timer)
	NextTick(fn func()) Timer
	ClearNextTick(t Timer)
	EveryTick(fn func()) Timer
	ClearEveryTick(t Timer)
}

type Logger interface {
	Log(args ...any)
	LogWarning(args ...any)
	LogError(args ...any)
}

// Outbound carries remote emits to the other side (clients or server).
type Outbound interface {
	Send(channel string, args []any) error
}

// Runtime is everything the framework consumes from the host. The embedded Bus
// is the local channel space; Remote is the space shared with the other side,
// where On/Once/Off observe inbound events and Emit sends outbound.
type Runtime interface {
	Bus
	Remote() Bus
	Scheduler
	Logger
}
