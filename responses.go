package matrix

// RespLoginFlows is the body of GET /login and GET /register: the set of
// authentication flows the home server is willing to accept.
type RespLoginFlows struct {
	Flows []struct {
		Type string `json:"type"`
	} `json:"flows"`
}

// RespLogin/RespRegister complete a login or register exchange. Register
// may instead return a Session token requesting a further stage, in which
// case AccessToken is empty.
type RespLogin struct {
	AccessToken string `json:"access_token"`
	UserID      string `json:"user_id"`
	HomeServer  string `json:"home_server,omitempty"`
	Session     string `json:"session,omitempty"`
}

type RespRegister struct {
	AccessToken string `json:"access_token"`
	UserID      string `json:"user_id"`
	HomeServer  string `json:"home_server,omitempty"`
	Session     string `json:"session,omitempty"`
}

// RespCreateRoom is the body of POST /createRoom.
type RespCreateRoom struct {
	RoomID    string `json:"room_id"`
	RoomAlias string `json:"room_alias,omitempty"`
}

// RespJoinRoom is the body of POST /join/{roomIdOrAlias}.
type RespJoinRoom struct {
	RoomID string `json:"room_id"`
}

// RespSendEvent is the body returned after sending or setting an event.
type RespSendEvent struct {
	EventID string `json:"event_id"`
}

// RespInitialSyncRoom is one element of RespInitialSync.Rooms.
type RespInitialSyncRoom struct {
	RoomID     string  `json:"room_id"`
	Membership string  `json:"membership"`
	State      []Event `json:"state"`
	Invite     *Event  `json:"invite,omitempty"`
	Messages   struct {
		Chunk []Event `json:"chunk"`
		Start string  `json:"start"`
		End   string  `json:"end"`
	} `json:"messages"`
}

// RespInitialSync is the body of GET /initialSync.
type RespInitialSync struct {
	End      string                `json:"end"`
	Rooms    []RespInitialSyncRoom `json:"rooms"`
	Presence []Event               `json:"presence"`
}

// RespEvents is the body of GET /events?from=..., the long-poll endpoint
// the Event Pump repeatedly calls once initial sync has completed.
type RespEvents struct {
	Chunk []Event `json:"chunk"`
	End   string  `json:"end"`
}

// RespMessages is the body of GET /rooms/{id}/messages, used by
// Room.Paginate.
type RespMessages struct {
	Chunk []Event `json:"chunk"`
	Start string  `json:"start"`
	End   string  `json:"end"`
}

// RespPresence is the body of GET /presence/{uid}/status.
type RespPresence struct {
	Presence     string `json:"presence"`
	LastActiveTS int64  `json:"last_active_ago,omitempty"`
}

// RespDisplayName is the body of GET /profile/{uid}/displayname.
type RespDisplayName struct {
	DisplayName string `json:"displayname"`
}

// RespPresenceListEntry is one subject on a user's presence list, as
// returned by GET /presence_list/{uid}.
type RespPresenceListEntry struct {
	UserID       string `json:"user_id"`
	Presence     string `json:"presence"`
	LastActiveTS int64  `json:"last_active_ago,omitempty"`
}
