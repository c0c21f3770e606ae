package event

import "game-framework/internal/annotation"

// Type is the category of an event descriptor. It selects the dispatch
// algorithm and the filters that apply.
type Type string

const (
	TypeOn         Type = "on"
	TypeOnce       Type = "once"
	TypeOnClient   Type = "onClient"
	TypeOnceClient Type = "onceClient"
	TypeOnServer   Type = "onServer"
	TypeOnceServer Type = "onceServer"

	TypeOffOn       Type = "offOn"
	TypeOffOnServer Type = "offOnServer"
	TypeOffOnClient Type = "offOnClient"

	TypeGameEntityCreate       Type = "gameEntityCreate"
	TypeGameEntityDestroy      Type = "gameEntityDestroy"
	TypeSyncedMetaChange       Type = "syncedMetaChange"
	TypeStreamSyncedMetaChange Type = "streamSyncedMetaChange"

	TypeEntityEnterColShape Type = "entityEnterColshape"
	TypeEntityLeaveColShape Type = "entityLeaveColshape"

	TypeConsoleCommand Type = "consoleCommand"

	TypeKeyUp   Type = "keyup"
	TypeKeyDown Type = "keydown"
)

// Group keys under which descriptors accumulate in the annotation store.
const (
	GroupBase     annotation.Key = "event:base"
	GroupOff      annotation.Key = "event:off"
	GroupEntity   annotation.Key = "event:entity"
	GroupColShape annotation.Key = "event:colshape"
	GroupCommand  annotation.Key = "event:command"
	GroupKey      annotation.Key = "event:key"
)

const storeTarget annotation.Target = "event"

var groupOf = map[Type]annotation.Key{
	TypeOn:                     GroupBase,
	TypeOnce:                   GroupBase,
	TypeOnClient:               GroupBase,
	TypeOnceClient:             GroupBase,
	TypeOnServer:               GroupBase,
	TypeOnceServer:             GroupBase,
	TypeOffOn:                  GroupOff,
	TypeOffOnServer:            GroupOff,
	TypeOffOnClient:            GroupOff,
	TypeGameEntityCreate:       GroupEntity,
	TypeGameEntityDestroy:      GroupEntity,
	TypeSyncedMetaChange:       GroupEntity,
	TypeStreamSyncedMetaChange: GroupEntity,
	TypeEntityEnterColShape:    GroupColShape,
	TypeEntityLeaveColShape:    GroupColShape,
	TypeConsoleCommand:         GroupCommand,
	TypeKeyUp:                  GroupKey,
	TypeKeyDown:                GroupKey,
}

// Group reports the store key a descriptor of type t is filed under.
func (t Type) Group() (annotation.Key, bool) {
	k, ok := groupOf[t]
	return k, ok
}

func (t Type) isMeta() bool {
	return t == TypeSyncedMetaChange || t == TypeStreamSyncedMetaChange
}
