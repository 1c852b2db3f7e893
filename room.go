package matrix

import (
	"context"
	"fmt"
	"sync"
)

// paginationStart is the sentinel pagination_token value meaning the
// room's create event has been seen while rewinding: no earlier history
// exists, and further pagination fails locally.
const paginationStart = "START"

// Room is the client-owned handle for a single room: its live (forward)
// state, and — once backward pagination has been requested at least once —
// a separately-evolving backward projection. The client back-reference is
// weak: Room never strongly owns the Client's lifetime, it just needs it
// to resolve user ids to *User and to be told about self-leaves.
type Room struct {
	client *Client
	id     string

	mu              sync.Mutex
	forward         *RoomState
	backward        *RoomState // nil until first Paginate call
	paginationToken string     // "", an opaque token, or paginationStart

	Observers RoomObservers

	tasks *taskSet
}

func newRoom(client *Client, roomID string) *Room {
	return &Room{
		client:  client,
		id:      roomID,
		forward: newRoomState(),
		tasks:   newTaskSet(),
	}
}

// ID returns the room's opaque room_id.
func (r *Room) ID() string { return r.id }

// State returns the room's current (forward) state projection.
func (r *Room) State() *RoomState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.forward
}

// BackState returns the backward pagination projection, or nil if
// Paginate has never been called.
func (r *Room) BackState() *RoomState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.backward
}

// PaginationToken reports the room's current backward-pagination token:
// "" if pagination has never run, an opaque server token mid-history, or
// "START" once the create event has been seen.
func (r *Room) PaginationToken() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.paginationToken
}

// fold routes a single event into this room's state engine at the given
// phase, mutating the forward or backward projection and emitting the
// matching notification. It is the room-scoped half of the dispatcher's
// routing table.
func (r *Room) fold(phase FoldPhase, event Event) {
	state := r.forward
	if phase == PhaseBackward {
		state = r.backward
	}
	if state == nil {
		return
	}

	switch event.Type {
	case "m.room.name", "m.room.topic", "m.room.join_rules", "m.room.avatar", "m.room.canonical_alias":
		r.foldScalarEvent(state, phase, event)
	case "m.room.aliases":
		r.foldAliasesEvent(state, phase, event)
	case "m.room.member":
		r.foldMembershipEvent(state, phase, event)
	case "m.room.power_levels":
		r.foldPowerLevelsEvent(state, phase, event)
	case "m.room.ops_levels":
		r.foldLegacyLevelEvent(state, phase, legacyOpsLevels, event)
	case "m.room.send_event_level":
		r.foldLegacyLevelEvent(state, phase, legacySendEventLevel, event)
	case "m.room.add_state_level":
		r.foldLegacyLevelEvent(state, phase, legacyAddStateLevel, event)
	case "m.room.create":
		foldCreate(state, phase, event)
	case "m.room.message":
		r.foldMessageEvent(state, phase, event)
	case "m.typing":
		r.foldTypingEvent(event)
	default:
		r.client.observers.logf("room %s: no handler for event type %q", r.id, event.Type)
	}
}

func (r *Room) actorMember(state *RoomState, userID string) *Member {
	if m, ok := state.Member(userID); ok {
		return m
	}
	return &Member{User: r.client.users.getOrCreate(userID)}
}

func (r *Room) foldScalarEvent(state *RoomState, phase FoldPhase, event Event) {
	field, ok := scalarFields[event.Type]
	if !ok {
		return
	}
	changes, notify := foldScalar(state, field, phase, event)
	if !notify {
		return
	}
	actor := r.actorMember(state, event.UserID)
	if phase == PhaseForward && r.Observers.OnStateChanged != nil {
		r.Observers.OnStateChanged(actor, event, changes)
	} else if phase == PhaseBackward && r.Observers.OnBackStateChanged != nil {
		r.Observers.OnBackStateChanged(actor, event, changes)
	}
}

func (r *Room) foldAliasesEvent(state *RoomState, phase FoldPhase, event Event) {
	if event.StateKey == nil {
		return
	}
	hs := *event.StateKey
	changes, notify := foldAliases(state, phase, hs, event)
	if !notify {
		return
	}
	actor := r.actorMember(state, event.UserID)
	if phase == PhaseForward && r.Observers.OnStateChanged != nil {
		r.Observers.OnStateChanged(actor, event, changes)
	} else if phase == PhaseBackward && r.Observers.OnBackStateChanged != nil {
		r.Observers.OnBackStateChanged(actor, event, changes)
	}
}

func (r *Room) foldMembershipEvent(state *RoomState, phase FoldPhase, event Event) {
	if event.StateKey == nil {
		return
	}
	subjectID := *event.StateKey
	result := foldMembership(state, phase, subjectID, event, r.client.users)
	if result.Ignored {
		r.client.observers.errorf(DuplicateMemberError{RoomID: r.id, UserID: subjectID}, "DuplicateMemberOnInitialSync", map[string]interface{}{"room_id": r.id, "user_id": subjectID})
		return
	}
	if phase == PhaseInitial || !result.Notify {
		return
	}
	actor := r.actorMember(state, event.UserID)
	if phase == PhaseForward {
		if r.Observers.OnMembership != nil {
			r.Observers.OnMembership(actor, result.Subject, event, result.Changes)
		}
		if result.Removed && subjectID == r.client.UserID() {
			r.client.deregisterRoom(r)
		}
	} else {
		if r.Observers.OnBackMembership != nil {
			r.Observers.OnBackMembership(actor, result.Subject, event, result.Changes)
		}
	}
}

func (r *Room) foldPowerLevelsEvent(state *RoomState, phase FoldPhase, event Event) {
	actionChanges, userChanges := foldPowerLevels(state, phase, event)
	if phase == PhaseInitial {
		return
	}
	actor := r.actorMember(state, event.UserID)
	if len(actionChanges) > 0 {
		if phase == PhaseForward && r.Observers.OnStateChanged != nil {
			r.Observers.OnStateChanged(actor, event, actionChanges)
		} else if phase == PhaseBackward && r.Observers.OnBackStateChanged != nil {
			r.Observers.OnBackStateChanged(actor, event, actionChanges)
		}
	}
	for _, uc := range userChanges {
		subject := r.actorMember(state, uc.UserID)
		ch := Changes{}
		ch.set("level", uc.Old, uc.New)
		if phase == PhaseForward && r.Observers.OnMembership != nil {
			r.Observers.OnMembership(actor, subject, event, ch)
		} else if phase == PhaseBackward && r.Observers.OnBackMembership != nil {
			r.Observers.OnBackMembership(actor, subject, event, ch)
		}
	}
}

func (r *Room) foldLegacyLevelEvent(state *RoomState, phase FoldPhase, kind legacyPowerLevelKind, event Event) {
	changes, notify := foldLegacyActionLevel(state, phase, kind, event)
	if !notify {
		return
	}
	actor := r.actorMember(state, event.UserID)
	if phase == PhaseForward && r.Observers.OnStateChanged != nil {
		r.Observers.OnStateChanged(actor, event, changes)
	} else if phase == PhaseBackward && r.Observers.OnBackStateChanged != nil {
		r.Observers.OnBackStateChanged(actor, event, changes)
	}
}

func (r *Room) foldMessageEvent(state *RoomState, phase FoldPhase, event Event) {
	member, ok := state.Member(event.UserID)
	if !ok {
		r.client.observers.errorf(UnknownMemberError{RoomID: r.id, UserID: event.UserID}, "UnknownMember", map[string]interface{}{"room_id": r.id, "user_id": event.UserID})
		return
	}
	if phase == PhaseForward && r.Observers.OnMessage != nil {
		r.Observers.OnMessage(member, event.Content, event)
	} else if phase == PhaseBackward && r.Observers.OnBackMessage != nil {
		r.Observers.OnBackMessage(member, event.Content, event)
	}
}

func (r *Room) foldTypingEvent(event Event) {
	userIDs, _ := strList(event.Content, "user_ids")
	if r.Observers.OnTyping != nil {
		r.Observers.OnTyping(r, userIDs)
	}
}

// syncInitialState folds every event in a sync snapshot's per-room state
// list in initial phase, then emits on_synced_state exactly once.
func (r *Room) syncInitialState(events []Event) {
	for _, event := range events {
		r.fold(PhaseInitial, event)
	}
	if r.Observers.OnSyncedState != nil {
		r.Observers.OnSyncedState(r)
	}
}

// RefreshState calls GET /rooms/{id}/state and replaces the forward
// projection wholesale from the server's full current state list, useful
// after create_room/join_room or a long disconnection where incremental
// folding alone can't catch up.
func (r *Room) RefreshState(ctx context.Context) error {
	events, err := r.client.getRoomState(ctx, r.id)
	if err != nil {
		return err
	}
	r.mu.Lock()
	r.forward = newRoomState()
	r.mu.Unlock()
	r.syncInitialState(events)
	return nil
}

// Paginate lazily clones the forward projection
// into a backward one on first use, fetches one page of earlier history,
// and folds each event backward. It returns PaginationExhaustedError once
// the room's create event has been seen, without making a request.
func (r *Room) Paginate(ctx context.Context, limit int) error {
	r.mu.Lock()
	if r.paginationToken == paginationStart {
		r.mu.Unlock()
		return PaginationExhaustedError{RoomID: r.id}
	}
	if r.backward == nil {
		r.backward = r.forward.clone()
	}
	from := r.paginationToken
	if from == "" {
		from = "END"
	}
	r.mu.Unlock()

	if limit <= 0 {
		limit = r.client.config.PaginationLimit
	}
	resp, err := r.client.getMessages(ctx, r.id, from, limit)
	if err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	for _, event := range resp.Chunk {
		r.fold(PhaseBackward, event)
		if event.Type == "m.room.create" {
			r.paginationToken = paginationStart
		}
	}
	if r.paginationToken != paginationStart {
		r.paginationToken = resp.End
	}
	return nil
}

func (r *Room) String() string {
	return fmt.Sprintf("Room(%s)", r.id)
}
