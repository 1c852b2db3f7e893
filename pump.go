package matrix

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// runInitialSync issues a single GET /initialSync, registering every
// returned room (folding its state snapshot in the initial phase) and
// folding global presence, then returning the event token the streaming
// loop should continue from.
func (c *Client) runInitialSync(ctx context.Context) (string, error) {
	raw, err := c.transport.Get(ctx, "/initialSync", map[string]string{"limit": "0"})
	if err != nil {
		return "", err
	}
	var resp RespInitialSync
	if err := json.Unmarshal(raw, &resp); err != nil {
		return "", ProtocolError{Context: "GET /initialSync", Err: err}
	}

	for _, roomSnapshot := range resp.Rooms {
		switch roomSnapshot.Membership {
		case "join":
			room := c.registerRoom(roomSnapshot.RoomID)
			room.syncInitialState(roomSnapshot.State)
		case "invite":
			if c.observers.OnInvite != nil {
				if roomSnapshot.Invite != nil {
					c.observers.OnInvite(*roomSnapshot.Invite)
				} else {
					c.observers.OnInvite(Event{Type: "m.room.member", RoomID: roomSnapshot.RoomID})
				}
			}
		default:
			c.observers.logf("initialSync: ignoring room %s with membership %q", roomSnapshot.RoomID, roomSnapshot.Membership)
		}
	}
	for _, presenceEvent := range resp.Presence {
		c.dispatchPresenceEvent(presenceEvent)
	}
	return resp.End, nil
}

// runStreamingLoop long-polls GET /events?from=<token>&timeout=<ms>,
// dispatching every event in the returned chunk in array order before
// advancing the token. A transport failure is reported only through the
// OnLog hook and a malformed response through OnError; both then wait the
// backoff and retry with the token unchanged, and neither stops the loop.
func (c *Client) runStreamingLoop(ctx context.Context, fromToken string) error {
	token := fromToken
	backoff := c.config.Backoff
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		query := map[string]string{
			"from":    token,
			"timeout": fmt.Sprintf("%d", c.config.SyncTimeout.Milliseconds()),
		}
		raw, err := c.transport.Get(ctx, "/events", query)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			c.observers.logf("event pump: transient error polling /events: %v", err)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}
			continue
		}

		var resp RespEvents
		if err := json.Unmarshal(raw, &resp); err != nil {
			c.observers.errorf(ProtocolError{Context: "GET /events", Err: err}, "MalformedEventsResponse", nil)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}
			continue
		}

		for _, event := range resp.Chunk {
			c.dispatch(PhaseForward, event)
		}
		if resp.End != "" {
			token = resp.End
		}
	}
}
