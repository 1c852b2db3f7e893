package matrix

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"
)

// lifecycleState tracks the coarse client state machine:
// a client starts unauthenticated, then Start moves it to syncing (initial
// sync in progress) and streaming (the long-poll loop running); failed and
// stopped are terminal until a fresh Start. The login methods do not set
// stateAuthenticating: the state stays unchanged until they call Start.
type lifecycleState int32

const (
	stateUnauthenticated lifecycleState = iota
	stateAuthenticating
	stateSyncing
	stateStreaming
	stateFailed
	stateStopped
)

// Client is the entry point for a single home-server session: it owns the
// transport, the global user registry, the room registry, and the
// concurrency primitives backing Start/Stop.
type Client struct {
	config    Config
	transport Transport
	log       zerolog.Logger

	observers ClientObservers
	users     *userRegistry

	credMu      sync.RWMutex
	userID      string
	accessToken string

	state int32 // lifecycleState, accessed atomically

	roomsMu sync.RWMutex
	rooms   map[string]*Room

	startMu sync.Mutex
	start   *startHandle
	tasks   *taskSet
}

// NewClient builds a Client against the given configuration. httpClient
// may be nil to use http.DefaultClient; observers may be the zero value to
// run with every hook a no-op.
func NewClient(config Config, httpClient *http.Client, observers ClientObservers) (*Client, error) {
	log := zerolog.Nop()
	transport, err := newHTTPTransport(config.HomeserverURL, config.PathPrefix, httpClient, log)
	if err != nil {
		return nil, err
	}
	if config.AccessToken != "" {
		transport.setCredentials(config.AccessToken)
	}
	c := &Client{
		config:    config,
		transport: transport,
		log:       log,
		observers: observers,
		users:     newUserRegistry(),
		rooms:     make(map[string]*Room),
		userID:    config.UserID,
	}
	c.credMu.Lock()
	c.accessToken = config.AccessToken
	c.credMu.Unlock()
	return c, nil
}

// SetLogger replaces the client's structured logger; it is consulted for
// every request the transport issues.
func (c *Client) SetLogger(log zerolog.Logger) {
	c.log = log
	if t, ok := c.transport.(*httpTransport); ok {
		t.log = log
	}
}

// UserID returns the local user's id: the one set by the last successful
// login, else Config.UserID, else "".
func (c *Client) UserID() string {
	c.credMu.RLock()
	defer c.credMu.RUnlock()
	return c.userID
}

func (c *Client) setCredentials(userID, accessToken string) {
	c.credMu.Lock()
	c.userID = userID
	c.accessToken = accessToken
	c.credMu.Unlock()
	if t, ok := c.transport.(*httpTransport); ok {
		t.setCredentials(accessToken)
	}
}

func (c *Client) setState(s lifecycleState) {
	atomic.StoreInt32(&c.state, int32(s))
}

func (c *Client) getState() lifecycleState {
	return lifecycleState(atomic.LoadInt32(&c.state))
}

// --- room registry ---

func (c *Client) getRoom(roomID string) (*Room, bool) {
	c.roomsMu.RLock()
	defer c.roomsMu.RUnlock()
	r, ok := c.rooms[roomID]
	return r, ok
}

// registerRoom returns the existing Room for roomID, or creates one and
// emits on_room_new.
func (c *Client) registerRoom(roomID string) *Room {
	c.roomsMu.Lock()
	r, ok := c.rooms[roomID]
	if !ok {
		r = newRoom(c, roomID)
		c.rooms[roomID] = r
	}
	c.roomsMu.Unlock()
	if !ok && c.observers.OnRoomNew != nil {
		c.observers.OnRoomNew(r)
	}
	return r
}

// deregisterRoom removes a room from the registry, cancels its adopted
// tasks, and emits on_room_del. Called when the local user's own
// membership resolves to absent in a room.
func (c *Client) deregisterRoom(r *Room) {
	c.roomsMu.Lock()
	_, existed := c.rooms[r.id]
	delete(c.rooms, r.id)
	c.roomsMu.Unlock()
	if !existed {
		return
	}
	r.tasks.Cancel()
	if c.observers.OnRoomDel != nil {
		c.observers.OnRoomDel(r)
	}
}

func (c *Client) allRooms() []*Room {
	c.roomsMu.RLock()
	defer c.roomsMu.RUnlock()
	out := make([]*Room, 0, len(c.rooms))
	for _, r := range c.rooms {
		out = append(out, r)
	}
	return out
}

// Room looks up a known room by id.
func (c *Client) Room(roomID string) (*Room, bool) {
	return c.getRoom(roomID)
}

// Rooms returns a snapshot of every room currently registered.
func (c *Client) Rooms() []*Room {
	return c.allRooms()
}

// --- lifecycle ---

// Start begins initial sync followed by the streaming event pump. It is
// idempotent: calling it again while already started returns the same
// handle without doing any work twice.
func (c *Client) Start(ctx context.Context) *startHandle {
	c.startMu.Lock()
	if c.start != nil {
		handle := c.start
		c.startMu.Unlock()
		return handle
	}
	handle := newStartHandle()
	c.start = handle
	c.tasks = newTaskSetFrom(ctx)
	c.startMu.Unlock()

	c.setState(stateSyncing)
	c.tasks.Adopt(func(taskCtx context.Context) error {
		token, err := c.runInitialSync(taskCtx)
		if err != nil {
			c.setState(stateFailed)
			c.clearStartHandle(handle)
			handle.complete(err)
			return err
		}
		c.setState(stateStreaming)
		handle.complete(nil)
		err = c.runStreamingLoop(taskCtx, token)
		if err != nil && taskCtx.Err() == nil {
			c.setState(stateFailed)
			c.clearStartHandle(handle)
		}
		return err
	})
	return handle
}

// clearStartHandle drops the start handle once it has failed, so a later
// Start() call retries instead of replaying the same failure forever.
func (c *Client) clearStartHandle(failed *startHandle) {
	c.startMu.Lock()
	if c.start == failed {
		c.start = nil
	}
	c.startMu.Unlock()
}

// Stop cancels the streaming loop and any adopted room tasks, and marks
// the client stopped; a later Start begins afresh. It is safe to call even
// if Start was never called.
func (c *Client) Stop() {
	c.startMu.Lock()
	tasks := c.tasks
	c.start = nil
	c.startMu.Unlock()
	if tasks != nil {
		tasks.Cancel()
	}
	for _, r := range c.allRooms() {
		r.tasks.Cancel()
	}
	c.setState(stateStopped)
}

// --- rooms: creation, membership ---

// getRoomState implements GET /rooms/{id}/state, backing Room.RefreshState.
func (c *Client) getRoomState(ctx context.Context, roomID string) ([]Event, error) {
	raw, err := c.transport.Get(ctx, fmt.Sprintf("/rooms/%s/state", roomID), nil)
	if err != nil {
		return nil, err
	}
	var events []Event
	if err := json.Unmarshal(raw, &events); err != nil {
		return nil, ProtocolError{Context: "GET .../state", Err: err}
	}
	return events, nil
}

// CreateRoom posts /createRoom, then obtains the room from the registry
// and completes its initial state sync before returning it, since room
// creation alone doesn't deliver the new room's state to the client the
// way a sync snapshot would. It also returns the room's full alias
// (room_alias), if the server assigned one.
func (c *Client) CreateRoom(ctx context.Context, req ReqCreateRoom) (*Room, string, error) {
	raw, err := c.transport.Post(ctx, "/createRoom", req)
	if err != nil {
		return nil, "", err
	}
	var resp RespCreateRoom
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, "", ProtocolError{Context: "POST /createRoom", Err: err}
	}
	room := c.registerRoom(resp.RoomID)
	if err := room.RefreshState(ctx); err != nil {
		return room, resp.RoomAlias, err
	}
	return room, resp.RoomAlias, nil
}

// JoinRoom joins a room by alias or id: a "#"-prefixed argument is
// a public alias joined via POST /join/{alias}; a "!"-prefixed argument is
// a direct room id joined via PUT .../state/m.room.member/{self}. A room
// already in the registry is returned without re-syncing; otherwise it is
// registered and its state is synced before returning.
func (c *Client) JoinRoom(ctx context.Context, aliasOrID string) (*Room, error) {
	var roomID string
	if len(aliasOrID) == 0 {
		return nil, fmt.Errorf("matrix: empty room alias/id")
	}
	switch aliasOrID[0] {
	case '#':
		raw, err := c.transport.Post(ctx, "/join/"+aliasOrID, struct{}{})
		if err != nil {
			return nil, err
		}
		var resp RespJoinRoom
		if err := json.Unmarshal(raw, &resp); err != nil {
			return nil, ProtocolError{Context: "POST /join", Err: err}
		}
		roomID = resp.RoomID
	case '!':
		roomID = aliasOrID
		_, err := c.transport.Put(ctx, fmt.Sprintf("/rooms/%s/state/m.room.member/%s", roomID, c.UserID()), ReqMembership{Membership: "join"})
		if err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("matrix: %q is neither a room alias (#) nor a room id (!)", aliasOrID)
	}

	if existing, ok := c.getRoom(roomID); ok {
		return existing, nil
	}
	room := c.registerRoom(roomID)
	if err := room.RefreshState(ctx); err != nil {
		return room, err
	}
	return room, nil
}

func (c *Client) roomMembershipAction(ctx context.Context, roomID, action, userID, reason string) error {
	path := fmt.Sprintf("/rooms/%s/%s", roomID, action)
	var body interface{} = struct{}{}
	if userID != "" {
		body = ReqKickUser{UserID: userID, Reason: reason}
	}
	_, err := c.transport.Post(ctx, path, body)
	return err
}

// Leave implements POST /rooms/{id}/leave.
func (c *Client) Leave(ctx context.Context, roomID string) error {
	return c.roomMembershipAction(ctx, roomID, "leave", "", "")
}

// Invite implements POST /rooms/{id}/invite.
func (c *Client) Invite(ctx context.Context, roomID, userID string) error {
	_, err := c.transport.Post(ctx, fmt.Sprintf("/rooms/%s/invite", roomID), ReqInviteUser{UserID: userID})
	return err
}

// Kick implements POST /rooms/{id}/kick.
func (c *Client) Kick(ctx context.Context, roomID, userID, reason string) error {
	return c.roomMembershipAction(ctx, roomID, "kick", userID, reason)
}

// Ban implements POST /rooms/{id}/ban.
func (c *Client) Ban(ctx context.Context, roomID, userID, reason string) error {
	_, err := c.transport.Post(ctx, fmt.Sprintf("/rooms/%s/ban", roomID), ReqBanUser{UserID: userID, Reason: reason})
	return err
}

// Unban implements POST /rooms/{id}/unban.
func (c *Client) Unban(ctx context.Context, roomID, userID string) error {
	return c.roomMembershipAction(ctx, roomID, "unban", userID, "")
}

// --- aliases ---

// AddAlias implements PUT /directory/room/{alias}.
func (c *Client) AddAlias(ctx context.Context, alias, roomID string) error {
	_, err := c.transport.Put(ctx, "/directory/room/"+alias, struct {
		RoomID string `json:"room_id"`
	}{RoomID: roomID})
	return err
}

// DeleteAlias implements DELETE /directory/room/{alias}.
func (c *Client) DeleteAlias(ctx context.Context, alias string) error {
	return c.transport.Delete(ctx, "/directory/room/"+alias)
}

// --- messages ---

// SendText sends an m.text m.room.message.
func (c *Client) SendText(ctx context.Context, roomID, body string) (string, error) {
	return c.sendMessage(ctx, roomID, ReqTextMessage{MsgType: "m.text", Body: body})
}

// SendNotice sends an m.notice m.room.message.
func (c *Client) SendNotice(ctx context.Context, roomID, body string) (string, error) {
	return c.sendMessage(ctx, roomID, ReqTextMessage{MsgType: "m.notice", Body: body})
}

func (c *Client) sendMessage(ctx context.Context, roomID string, content interface{}) (string, error) {
	raw, err := c.transport.Post(ctx, fmt.Sprintf("/rooms/%s/send/m.room.message", roomID), content)
	if err != nil {
		return "", err
	}
	var resp RespSendEvent
	if err := json.Unmarshal(raw, &resp); err != nil {
		return "", ProtocolError{Context: "POST .../send/m.room.message", Err: err}
	}
	return resp.EventID, nil
}

// --- power levels ---

// SetPowerLevel sets a single user's power level by reading the room's
// current levels, patching one entry, and PUTting the whole event back —
// the wire shape is a flat map, so partial updates always round-trip the
// full state.
func (c *Client) SetPowerLevel(ctx context.Context, room *Room, userID string, level int) error {
	state := room.State()
	content := map[string]interface{}{defaultLevelKey: state.MemberLevel(defaultLevelKey)}
	for _, m := range state.Members() {
		content[m.User.ID()] = state.MemberLevel(m.User.ID())
	}
	for _, action := range []string{actionSendEvent, actionAddState, actionBan, actionKick, actionRedact} {
		content[action] = state.ActionLevel(action)
	}
	content[userID] = level
	_, err := c.transport.Put(ctx, fmt.Sprintf("/rooms/%s/state/m.room.power_levels", room.id), content)
	return err
}

// --- pagination ---

func (c *Client) getMessages(ctx context.Context, roomID, from string, limit int) (*RespMessages, error) {
	raw, err := c.transport.Get(ctx, fmt.Sprintf("/rooms/%s/messages", roomID), map[string]string{
		"from":  from,
		"dir":   "b",
		"limit": fmt.Sprintf("%d", limit),
	})
	if err != nil {
		return nil, err
	}
	var resp RespMessages
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, ProtocolError{Context: "GET .../messages", Err: err}
	}
	return &resp, nil
}

// PaginateMessages is a convenience wrapper: it resolves a room by id
// before delegating to Room.Paginate.
func (c *Client) PaginateMessages(ctx context.Context, roomID string, limit int) error {
	room, ok := c.getRoom(roomID)
	if !ok {
		return fmt.Errorf("matrix: unknown room %q", roomID)
	}
	return room.Paginate(ctx, limit)
}

// --- profile & presence ---

// SetDisplayName implements PUT /profile/{uid}/displayname for the local
// user.
func (c *Client) SetDisplayName(ctx context.Context, name string) error {
	_, err := c.transport.Put(ctx, "/profile/"+c.UserID()+"/displayname", ReqDisplayName{DisplayName: name})
	return err
}

// GetDisplayName implements GET /profile/{uid}/displayname.
func (c *Client) GetDisplayName(ctx context.Context, userID string) (string, error) {
	raw, err := c.transport.Get(ctx, "/profile/"+userID+"/displayname", nil)
	if err != nil {
		return "", err
	}
	var resp RespDisplayName
	if err := json.Unmarshal(raw, &resp); err != nil {
		return "", ProtocolError{Context: "GET .../displayname", Err: err}
	}
	return resp.DisplayName, nil
}

// SetPresence implements PUT /presence/{uid}/status for the local user.
func (c *Client) SetPresence(ctx context.Context, presence Presence) error {
	_, err := c.transport.Put(ctx, "/presence/"+c.UserID()+"/status", ReqPresence{Presence: string(presence)})
	return err
}

// GetPresence implements GET /presence/{uid}/status.
func (c *Client) GetPresence(ctx context.Context, userID string) (Presence, error) {
	raw, err := c.transport.Get(ctx, "/presence/"+userID+"/status", nil)
	if err != nil {
		return "", err
	}
	var resp RespPresence
	if err := json.Unmarshal(raw, &resp); err != nil {
		return "", ProtocolError{Context: "GET .../status", Err: err}
	}
	return Presence(resp.Presence), nil
}

// GetPresenceList implements GET /presence_list/{uid}: the set of users
// the given user is subscribed to and their last-known presence.
func (c *Client) GetPresenceList(ctx context.Context, userID string) ([]RespPresenceListEntry, error) {
	raw, err := c.transport.Get(ctx, "/presence_list/"+userID, nil)
	if err != nil {
		return nil, err
	}
	var resp []RespPresenceListEntry
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, ProtocolError{Context: "GET .../presence_list", Err: err}
	}
	return resp, nil
}

// InvitePresence implements POST /presence_list/{uid} with an invite entry.
func (c *Client) InvitePresence(ctx context.Context, userID string) error {
	_, err := c.transport.Post(ctx, "/presence_list/"+c.UserID(), ReqPresenceList{Invite: []string{userID}})
	return err
}

// DropPresence implements POST /presence_list/{uid} with a drop entry.
func (c *Client) DropPresence(ctx context.Context, userID string) error {
	_, err := c.transport.Post(ctx, "/presence_list/"+c.UserID(), ReqPresenceList{Drop: []string{userID}})
	return err
}
