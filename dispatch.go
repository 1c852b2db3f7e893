package matrix

import "strings"

// routeKind classifies an event type into the handler family responsible
// for it, using a dotted-prefix routing table.
type routeKind int

const (
	routeRoom routeKind = iota
	routePresence
	routeUnknown
)

// routeTable is matched by longest dotted-prefix: a type matches a prefix
// p if it equals p or begins with p+".". Among matches, the longest prefix
// wins, and the remainder after the prefix (minus its leading dot) is the
// captured suffix that classifyEventType returns; dispatch does not pass it
// on to handlers.
var routeTable = []struct {
	prefix string
	kind   routeKind
}{
	{"m.room", routeRoom},
	{"m.typing", routeRoom},
	{"m.presence", routePresence},
}

func classifyEventType(eventType string) (kind routeKind, suffix string) {
	best := -1
	bestKind := routeUnknown
	for _, route := range routeTable {
		if eventType == route.prefix {
			if len(route.prefix) > best {
				best, bestKind = len(route.prefix), route.kind
			}
			continue
		}
		if strings.HasPrefix(eventType, route.prefix+".") && len(route.prefix) > best {
			best, bestKind = len(route.prefix), route.kind
		}
	}
	if best < 0 {
		return routeUnknown, eventType
	}
	return bestKind, strings.TrimPrefix(eventType[best:], ".")
}

// dispatch routes a single event from the pump or an initial sync snapshot
// into the correct Room or client-level handler. It is the Client's half
// of the routing table; Room.fold is the room-scoped half that decides
// which concrete fold function within a room's state engine to call.
func (c *Client) dispatch(phase FoldPhase, event Event) {
	kind, _ := classifyEventType(event.Type)
	switch kind {
	case routeRoom:
		c.dispatchRoomEvent(phase, event)
	case routePresence:
		c.dispatchPresenceEvent(event)
	default:
		if c.observers.OnUnknownEvent != nil {
			c.observers.OnUnknownEvent(event)
		} else {
			c.observers.logf("dropping unrecognised event type %q", event.Type)
		}
	}
}

func (c *Client) dispatchRoomEvent(phase FoldPhase, event Event) {
	if event.RoomID == "" {
		c.observers.logf("dropping roomless event of type %q", event.Type)
		return
	}
	room, ok := c.getRoom(event.RoomID)
	if !ok {
		// An invite delivers a single m.room.member event for a room the
		// client has never synced; surface it as on_invite rather than
		// silently dropping it or materialising a bare Room.
		if phase == PhaseForward && event.Type == "m.room.member" && event.StateKey != nil && *event.StateKey == c.UserID() {
			if membership, ok := str(event.Content, "membership"); ok && membership == "invite" {
				if c.observers.OnInvite != nil {
					c.observers.OnInvite(event)
				}
				return
			}
		}
		c.observers.logf("dropping event for unknown room %q", event.RoomID)
		return
	}
	room.fold(phase, event)
}
