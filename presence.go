package matrix

// dispatchPresenceEvent folds an m.presence event into the shared *User
// registry and forwards the resulting change to every room the user is a
// member of: presence is global, but on_presence is also surfaced
// room-scoped so room UIs don't need a separate subscription.
func (c *Client) dispatchPresenceEvent(event Event) {
	userID, ok := str(event.Content, "user_id")
	if !ok {
		userID = event.UserID
	}
	if userID == "" {
		return
	}
	presenceStr, _ := str(event.Content, "presence")
	lastActive, _ := intField(event.Content, "last_active_ago")

	user := c.users.getOrCreate(userID)
	oldPresence, changed := user.setPresence(Presence(presenceStr), int64(lastActive))
	if !changed {
		return
	}

	changes := Changes{}
	changes.set("presence", string(oldPresence), presenceStr)

	if c.observers.OnPresence != nil {
		c.observers.OnPresence(user, changes)
	}

	for _, room := range c.allRooms() {
		member, ok := room.State().Member(userID)
		if !ok || room.Observers.OnPresence == nil {
			continue
		}
		room.Observers.OnPresence(member, changes)
	}
}
