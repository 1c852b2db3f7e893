package matrix

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassifyEventType(t *testing.T) {
	cases := []struct {
		eventType  string
		wantKind   routeKind
		wantSuffix string
	}{
		{"m.room.member", routeRoom, "member"},
		{"m.room.message", routeRoom, "message"},
		{"m.typing", routeRoom, ""},
		{"m.presence", routePresence, ""},
		{"m.foo.bar.baz", routeUnknown, "m.foo.bar.baz"},
	}
	for _, tc := range cases {
		t.Run(tc.eventType, func(t *testing.T) {
			kind, suffix := classifyEventType(tc.eventType)
			assert.Equal(t, tc.wantKind, kind)
			assert.Equal(t, tc.wantSuffix, suffix)
		})
	}
}

func TestDispatchRoomEventUnknownRoomInvokesInviteHook(t *testing.T) {
	var invited *Event
	c, err := NewClient(DefaultConfig(), nil, ClientObservers{
		OnInvite: func(event Event) { invited = &event },
	})
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	c.setCredentials("@me:h.test", "TK")

	selfID := "@me:h.test"
	c.dispatch(PhaseForward, Event{
		Type:     "m.room.member",
		RoomID:   "!unknown:h.test",
		StateKey: &selfID,
		Content:  []byte(`{"membership":"invite"}`),
	})

	if invited == nil {
		t.Fatal("expected on_invite to fire for an invite into an unregistered room")
	}
	assert.Equal(t, "!unknown:h.test", invited.RoomID)
}

func TestDispatchUnknownTypeInvokesOnUnknownEvent(t *testing.T) {
	var seen *Event
	c, err := NewClient(DefaultConfig(), nil, ClientObservers{
		OnUnknownEvent: func(event Event) { seen = &event },
	})
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	c.dispatch(PhaseForward, Event{Type: "m.custom.thing"})
	if seen == nil {
		t.Fatal("expected on_unknown_event to fire for an unroutable type")
	}
}
