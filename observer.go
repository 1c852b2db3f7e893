package matrix

import "fmt"

// ClientObservers are the client-scoped notification hooks. Any field left
// nil is simply not called — callers wire up only what they need.
type ClientObservers struct {
	OnLog          func(message string)
	OnPresence     func(user *User, changes Changes)
	OnRoomNew      func(room *Room)
	OnRoomDel      func(room *Room)
	OnInvite       func(event Event)
	OnUnknownEvent func(event Event)
	OnError        func(err error, kind string, context map[string]interface{})
}

func (o *ClientObservers) logf(format string, args ...interface{}) {
	if o == nil || o.OnLog == nil {
		return
	}
	o.OnLog(fmt.Sprintf(format, args...))
}

func (o *ClientObservers) errorf(err error, kind string, context map[string]interface{}) {
	if o == nil || o.OnError == nil {
		return
	}
	o.OnError(err, kind, context)
}

// RoomObservers are the room-scoped notification hooks.
type RoomObservers struct {
	OnSyncedState      func(room *Room)
	OnMessage          func(member *Member, content []byte, event Event)
	OnBackMessage      func(member *Member, content []byte, event Event)
	OnMembership       func(actor, subject *Member, event Event, changes Changes)
	OnBackMembership   func(actor, subject *Member, event Event, changes Changes)
	OnStateChanged     func(actor *Member, event Event, changes Changes)
	OnBackStateChanged func(actor *Member, event Event, changes Changes)
	OnPresence         func(member *Member, changes Changes)
	OnTyping           func(room *Room, userIDs []string)
}
