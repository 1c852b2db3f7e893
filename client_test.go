package matrix

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeTransport is a scripted Transport double: each test wires up only
// the verbs it needs and panics loudly (via an error) on the rest.
type fakeTransport struct {
	getFn    func(ctx context.Context, path string, query map[string]string) (json.RawMessage, error)
	postFn   func(path string, body interface{}) (json.RawMessage, error)
	putFn    func(path string, body interface{}) (json.RawMessage, error)
	deleteFn func(path string) error
}

func (f *fakeTransport) Get(ctx context.Context, path string, query map[string]string) (json.RawMessage, error) {
	if f.getFn == nil {
		return nil, fmt.Errorf("unexpected GET %s", path)
	}
	return f.getFn(ctx, path, query)
}

func (f *fakeTransport) Post(ctx context.Context, path string, body interface{}) (json.RawMessage, error) {
	if f.postFn == nil {
		return nil, fmt.Errorf("unexpected POST %s", path)
	}
	return f.postFn(path, body)
}

func (f *fakeTransport) Put(ctx context.Context, path string, body interface{}) (json.RawMessage, error) {
	if f.putFn == nil {
		return nil, fmt.Errorf("unexpected PUT %s", path)
	}
	return f.putFn(path, body)
}

func (f *fakeTransport) Delete(ctx context.Context, path string) error {
	if f.deleteFn == nil {
		return fmt.Errorf("unexpected DELETE %s", path)
	}
	return f.deleteFn(path)
}

func newTestClient(t *testing.T, transport Transport) *Client {
	t.Helper()
	c, err := NewClient(DefaultConfig(), nil, ClientObservers{})
	require.NoError(t, err)
	c.transport = transport
	c.setCredentials("@me:h.test", "TK")
	return c
}

// Scenario: with credentials already set, a repeated Start() call returns
// the same handle and exactly one /initialSync is issued.
func TestStartIsIdempotentAndSyncsOnce(t *testing.T) {
	var initialSyncCalls int32
	transport := &fakeTransport{
		getFn: func(ctx context.Context, path string, query map[string]string) (json.RawMessage, error) {
			switch path {
			case "/initialSync":
				atomic.AddInt32(&initialSyncCalls, 1)
				return json.RawMessage(`{"end":"t1","presence":[],"rooms":[]}`), nil
			case "/events":
				<-ctx.Done()
				return nil, ctx.Err()
			}
			return nil, fmt.Errorf("unexpected GET %s", path)
		},
	}
	c := newTestClient(t, transport)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	h1 := c.Start(ctx)
	h2 := c.Start(ctx)
	assert.Same(t, h1, h2, "a second Start() call must return the same handle")

	require.NoError(t, h1.Wait(context.Background()))
	assert.Equal(t, int32(1), atomic.LoadInt32(&initialSyncCalls))

	cancel()
	c.Stop()
}

// Scenario: initial sync registers a joined room and folds its state
// before emitting on_synced_state, and emits on_invite without creating a
// Room for an invited one.
func TestInitialSyncRegistersJoinedRoomsAndSurfacesInvites(t *testing.T) {
	var newRooms []string
	var syncedNames []string
	var invites []Event

	transport := &fakeTransport{
		getFn: func(ctx context.Context, path string, query map[string]string) (json.RawMessage, error) {
			if path != "/initialSync" {
				<-ctx.Done()
				return nil, ctx.Err()
			}
			body := `{
				"end": "t1",
				"presence": [],
				"rooms": [
					{"room_id":"!joined:h.test","membership":"join","state":[
						{"type":"m.room.name","room_id":"!joined:h.test","content":{"name":"General"}}
					]},
					{"room_id":"!invited:h.test","membership":"invite"}
				]
			}`
			return json.RawMessage(body), nil
		},
	}
	c := newTestClient(t, transport)
	c.observers.OnRoomNew = func(r *Room) {
		newRooms = append(newRooms, r.ID())
		r.Observers.OnSyncedState = func(room *Room) { syncedNames = append(syncedNames, room.State().Name()) }
	}
	c.observers.OnInvite = func(e Event) { invites = append(invites, e) }

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	token, err := c.runInitialSync(ctx)
	require.NoError(t, err)
	assert.Equal(t, "t1", token)

	assert.Equal(t, []string{"!joined:h.test"}, newRooms)
	require.Len(t, invites, 1)
	assert.Equal(t, "!invited:h.test", invites[0].RoomID)

	room, ok := c.getRoom("!joined:h.test")
	require.True(t, ok)
	assert.Equal(t, "General", room.State().Name())
	_, ok = c.getRoom("!invited:h.test")
	assert.False(t, ok, "an invited room must not be registered")

	assert.Equal(t, []string{"General"}, syncedNames)
}

// Scenario: a forward m.room.message dispatches to the known author's
// member record.
func TestForwardMessageDispatchesToKnownAuthor(t *testing.T) {
	c := newTestClient(t, &fakeTransport{})
	room := c.registerRoom("!room:h.test")
	selfID := "@me:h.test"
	foldMembership(room.forward, PhaseInitial, selfID, Event{Content: []byte(`{"membership":"join"}`)}, c.users)

	var gotBody []byte
	room.Observers.OnMessage = func(member *Member, content []byte, event Event) {
		gotBody = content
	}

	c.dispatch(PhaseForward, Event{
		Type:    "m.room.message",
		RoomID:  "!room:h.test",
		UserID:  selfID,
		Content: []byte(`{"msgtype":"m.text","body":"hi"}`),
	})

	require.NotNil(t, gotBody)
	assert.Contains(t, string(gotBody), "hi")
}

// Scenario: backward pagination stops locally once the create event has
// been seen, without an additional request.
func TestPaginateTerminatesOnCreateEvent(t *testing.T) {
	var messagesCalls int
	transport := &fakeTransport{
		getFn: func(ctx context.Context, path string, query map[string]string) (json.RawMessage, error) {
			messagesCalls++
			body := `{"chunk":[{"type":"m.room.create","room_id":"!room:h.test","content":{"creator":"@a:h.test"}}],"start":"s1","end":"e1"}`
			return json.RawMessage(body), nil
		},
	}
	c := newTestClient(t, transport)
	room := c.registerRoom("!room:h.test")

	err := room.Paginate(context.Background(), 10)
	require.NoError(t, err)
	assert.Equal(t, paginationStart, room.PaginationToken())
	assert.Equal(t, "@a:h.test", room.BackState().CreatorID())

	err = room.Paginate(context.Background(), 10)
	var exhausted PaginationExhaustedError
	require.ErrorAs(t, err, &exhausted)
	assert.Equal(t, 1, messagesCalls, "a second call after START must not hit the network")
}

// Scenario: the local user leaving a room removes it from the registry
// after the membership notification fires.
func TestSelfLeaveDeregistersRoom(t *testing.T) {
	c := newTestClient(t, &fakeTransport{})
	room := c.registerRoom("!room:h.test")
	selfID := c.UserID()
	foldMembership(room.forward, PhaseInitial, selfID, Event{Content: []byte(`{"membership":"join"}`)}, c.users)

	var order []string
	room.Observers.OnMembership = func(actor, subject *Member, event Event, changes Changes) {
		order = append(order, "membership")
	}
	c.observers.OnRoomDel = func(r *Room) { order = append(order, "room_del") }

	c.dispatch(PhaseForward, Event{
		Type:        "m.room.member",
		RoomID:      "!room:h.test",
		StateKey:    &selfID,
		UserID:      selfID,
		PrevContent: []byte(`{"membership":"join"}`),
		Content:     []byte(`{"membership":"leave"}`),
	})

	assert.Equal(t, []string{"membership", "room_del"}, order)
	_, ok := c.getRoom("!room:h.test")
	assert.False(t, ok)
}

// Scenario: login by access token sets credentials and chains straight to
// Start, issuing exactly one /initialSync; a subsequent Start() returns an
// already-complete handle.
func TestLoginWithAccessTokenChainsToStart(t *testing.T) {
	var initialSyncCalls int32
	transport := &fakeTransport{
		getFn: func(ctx context.Context, path string, query map[string]string) (json.RawMessage, error) {
			switch path {
			case "/initialSync":
				atomic.AddInt32(&initialSyncCalls, 1)
				return json.RawMessage(`{"end":"t1","presence":[],"rooms":[]}`), nil
			case "/events":
				<-ctx.Done()
				return nil, ctx.Err()
			}
			return nil, fmt.Errorf("unexpected GET %s", path)
		},
	}
	c := newTestClient(t, transport)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	handle := c.LoginWithAccessToken(ctx, "@someone:h.test", "OTHER_TOKEN")
	assert.Equal(t, "@someone:h.test", c.UserID())
	require.NoError(t, handle.Wait(context.Background()))
	assert.Equal(t, int32(1), atomic.LoadInt32(&initialSyncCalls))

	again := c.Start(ctx)
	assert.Same(t, handle, again, "a later Start() must return the already-complete handle")
	require.NoError(t, again.Wait(context.Background()))

	cancel()
	c.Stop()
}

func TestStartClearsHandleOnFailure(t *testing.T) {
	transport := &fakeTransport{
		getFn: func(ctx context.Context, path string, query map[string]string) (json.RawMessage, error) {
			return nil, fmt.Errorf("boom")
		},
	}
	c := newTestClient(t, transport)
	h1 := c.Start(context.Background())
	err := h1.Wait(context.Background())
	require.Error(t, err)

	// clearStartHandle runs before handle.complete, so by the time Wait
	// returns the handle has already been dropped and a retry is possible.
	h2 := c.Start(context.Background())
	assert.NotSame(t, h1, h2, "a failed Start() must allow a fresh retry handle")
	c.Stop()
}
