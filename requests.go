package matrix

// ReqLoginPassword is the body for a "m.login.password" login/register
// stage.
type ReqLoginPassword struct {
	Type     string `json:"type"`
	User     string `json:"user,omitempty"`
	Password string `json:"password,omitempty"`
	Session  string `json:"session,omitempty"`
}

// ReqLoginToken logs in with an out-of-band token ("m.login.token").
type ReqLoginToken struct {
	Type    string `json:"type"`
	Token   string `json:"token"`
	Session string `json:"session,omitempty"`
}

// ReqCreateRoom is the body for POST /createRoom.
type ReqCreateRoom struct {
	RoomAliasName string                 `json:"room_alias_name,omitempty"`
	Visibility    string                 `json:"visibility,omitempty"`
	Name          string                 `json:"name,omitempty"`
	Topic         string                 `json:"topic,omitempty"`
	Invite        []string               `json:"invite,omitempty"`
	CreationContent map[string]interface{} `json:"creation_content,omitempty"`
}

// ReqInviteUser is the body for POST /rooms/{id}/invite.
type ReqInviteUser struct {
	UserID string `json:"user_id"`
}

// ReqKickUser is the body for POST /rooms/{id}/kick.
type ReqKickUser struct {
	UserID string `json:"user_id"`
	Reason string `json:"reason,omitempty"`
}

// ReqBanUser is the body for POST /rooms/{id}/ban.
type ReqBanUser struct {
	UserID string `json:"user_id"`
	Reason string `json:"reason,omitempty"`
}

// ReqMembership is the body for PUT .../state/m.room.member/{user_id},
// used by JoinRoom when joining a direct room id.
type ReqMembership struct {
	Membership string `json:"membership"`
}

// ReqTextMessage is the body for an m.text m.room.message.
type ReqTextMessage struct {
	MsgType string `json:"msgtype"`
	Body    string `json:"body"`
}

// ReqDisplayName is the body for PUT /profile/{uid}/displayname.
type ReqDisplayName struct {
	DisplayName string `json:"displayname"`
}

// ReqPresence is the body for PUT /presence/{uid}/status.
type ReqPresence struct {
	Presence string `json:"presence"`
}

// ReqPresenceList is the body for POST /presence_list/{uid}.
type ReqPresenceList struct {
	Invite []string `json:"invite,omitempty"`
	Drop   []string `json:"drop,omitempty"`
}
