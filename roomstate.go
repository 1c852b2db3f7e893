package matrix

import (
	"sync"

	"github.com/tidwall/gjson"
	"golang.org/x/net/idna"
)

// normalizeHomeserver lowercases/validates a home-server name the way
// idna.Lookup does for any other internationalised domain name, so two
// m.room.aliases events naming the same home-server in different case or
// Unicode normal forms land on the same aliasesByHS key. Names idna
// rejects are kept as-is: aliases routing is best effort and must never
// drop an event over a cosmetic name mismatch.
func normalizeHomeserver(hs string) string {
	ascii, err := idna.Lookup.ToASCII(hs)
	if err != nil {
		return hs
	}
	return ascii
}

// FoldPhase distinguishes the three ways an event can be folded into a
// RoomState: initial (populating from a sync snapshot,
// no notifications), forward (live streaming, mutates the forward
// projection), and backward (rewinding history, mutates a separate
// projection). Forward and backward share fold mechanics parameterised by
// direction; initial is its own phase because it never emits and never
// needs an "old" value.
type FoldPhase int

const (
	PhaseInitial FoldPhase = iota
	PhaseForward
	PhaseBackward
)

// Changes carries the notification payload for a fold: field name to an
// ordered slice of values, following a "field → [slot0, slot1, …]"
// convention. Most folds produce a 2-element slice ([old,new] forward,
// [new,old] backward); the aliases fold produces 3 ([old,new,others] or
// the swapped backward equivalent).
type Changes map[string][]interface{}

func (c Changes) set(field string, values ...interface{}) {
	c[field] = values
}

// action level keys for the unified power-levels content map.
const (
	actionSendEvent = "send_event"
	actionAddState  = "add_state"
	actionBan       = "ban"
	actionKick      = "kick"
	actionRedact    = "redact"
)

var actionLevelKeys = map[string]bool{
	actionSendEvent: true,
	actionAddState:  true,
	actionBan:       true,
	actionKick:      true,
	actionRedact:    true,
}

// defaultLevelKey is the sentinel level_by_userid key for a user with no
// explicit level.
const defaultLevelKey = "default"

// RoomState is the current-state (or, for a Room's backward pagination,
// synthetic rewound-state) projection folded from typed state events.
// A Room owns exactly one forward RoomState and, lazily, one backward
// RoomState created as a deep copy of the forward projection at the
// moment pagination first begins.
type RoomState struct {
	mu sync.RWMutex

	name            string
	topic           string
	joinRule        string
	avatarURL       string
	canonicalAlias  string
	creatorID       string
	roomVersion     string
	aliasesByHS     map[string][]string
	levelByUserID   map[string]int
	levels          map[string]int
	membersByUserID map[string]*Member
}

func newRoomState() *RoomState {
	return &RoomState{
		aliasesByHS:     make(map[string][]string),
		levelByUserID:   make(map[string]int),
		levels:          make(map[string]int),
		membersByUserID: make(map[string]*Member),
	}
}

// clone deep-copies a RoomState; used to seed a Room's backward projection
// from its forward one on the first pagination request.
func (rs *RoomState) clone() *RoomState {
	rs.mu.RLock()
	defer rs.mu.RUnlock()
	out := newRoomState()
	out.name, out.topic, out.joinRule = rs.name, rs.topic, rs.joinRule
	out.avatarURL, out.canonicalAlias = rs.avatarURL, rs.canonicalAlias
	out.creatorID, out.roomVersion = rs.creatorID, rs.roomVersion
	for hs, aliases := range rs.aliasesByHS {
		out.aliasesByHS[hs] = append([]string(nil), aliases...)
	}
	for uid, lvl := range rs.levelByUserID {
		out.levelByUserID[uid] = lvl
	}
	for action, lvl := range rs.levels {
		out.levels[action] = lvl
	}
	for uid, m := range rs.membersByUserID {
		clonedMember := *m
		out.membersByUserID[uid] = &clonedMember
	}
	return out
}

// Name, Topic, JoinRule, AvatarURL, CanonicalAlias return the current
// scalar forward state.
func (rs *RoomState) Name() string {
	rs.mu.RLock()
	defer rs.mu.RUnlock()
	return rs.name
}

func (rs *RoomState) Topic() string {
	rs.mu.RLock()
	defer rs.mu.RUnlock()
	return rs.topic
}

func (rs *RoomState) JoinRule() string {
	rs.mu.RLock()
	defer rs.mu.RUnlock()
	return rs.joinRule
}

func (rs *RoomState) AvatarURL() string {
	rs.mu.RLock()
	defer rs.mu.RUnlock()
	return rs.avatarURL
}

func (rs *RoomState) CanonicalAlias() string {
	rs.mu.RLock()
	defer rs.mu.RUnlock()
	return rs.canonicalAlias
}

func (rs *RoomState) CreatorID() string {
	rs.mu.RLock()
	defer rs.mu.RUnlock()
	return rs.creatorID
}

// Aliases returns the concatenation of all per-homeserver alias lists;
// order across homeservers is unspecified.
func (rs *RoomState) Aliases() []string {
	rs.mu.RLock()
	defer rs.mu.RUnlock()
	var out []string
	for _, aliases := range rs.aliasesByHS {
		out = append(out, aliases...)
	}
	return out
}

// MemberLevel resolves a user's power level, falling back to the sentinel
// "default" entry.
func (rs *RoomState) MemberLevel(userID string) int {
	rs.mu.RLock()
	defer rs.mu.RUnlock()
	return rs.memberLevelLocked(userID)
}

func (rs *RoomState) memberLevelLocked(userID string) int {
	if lvl, ok := rs.levelByUserID[userID]; ok {
		return lvl
	}
	return rs.levelByUserID[defaultLevelKey]
}

// ActionLevel returns the level required for the named action
// (send_event, add_state, ban, kick, redact).
func (rs *RoomState) ActionLevel(action string) int {
	rs.mu.RLock()
	defer rs.mu.RUnlock()
	return rs.levels[action]
}

// Member looks up a room-local member by user id.
func (rs *RoomState) Member(userID string) (*Member, bool) {
	rs.mu.RLock()
	defer rs.mu.RUnlock()
	m, ok := rs.membersByUserID[userID]
	return m, ok
}

// Members returns a snapshot slice of every non-absent member.
func (rs *RoomState) Members() []*Member {
	rs.mu.RLock()
	defer rs.mu.RUnlock()
	out := make([]*Member, 0, len(rs.membersByUserID))
	for _, m := range rs.membersByUserID {
		out = append(out, m)
	}
	return out
}

// --- generic scalar fold (name, topic, join_rule, avatar, canonical_alias) ---

// scalarField names the content key and the RoomState setter/getter for
// one of the generic scalar-fold fields (name/topic/join_rule plus the
// avatar/canonical_alias fields).
type scalarField struct {
	changeKey  string
	contentKey string
	get        func(*RoomState) string
	set        func(*RoomState, string)
}

var scalarFields = map[string]scalarField{
	"m.room.name": {
		changeKey: "name", contentKey: "name",
		get: func(rs *RoomState) string { return rs.name },
		set: func(rs *RoomState, v string) { rs.name = v },
	},
	"m.room.topic": {
		changeKey: "topic", contentKey: "topic",
		get: func(rs *RoomState) string { return rs.topic },
		set: func(rs *RoomState, v string) { rs.topic = v },
	},
	"m.room.join_rules": {
		changeKey: "join_rule", contentKey: "join_rule",
		get: func(rs *RoomState) string { return rs.joinRule },
		set: func(rs *RoomState, v string) { rs.joinRule = v },
	},
	"m.room.avatar": {
		changeKey: "avatar_url", contentKey: "url",
		get: func(rs *RoomState) string { return rs.avatarURL },
		set: func(rs *RoomState, v string) { rs.avatarURL = v },
	},
	"m.room.canonical_alias": {
		changeKey: "canonical_alias", contentKey: "alias",
		get: func(rs *RoomState) string { return rs.canonicalAlias },
		set: func(rs *RoomState, v string) { rs.canonicalAlias = v },
	},
}

// foldScalar folds one of the generic scalar state fields. It returns nil
// Changes (and false) for the initial phase, which never notifies.
func foldScalar(rs *RoomState, field scalarField, phase FoldPhase, event Event) (Changes, bool) {
	switch phase {
	case PhaseInitial:
		newVal, _ := str(event.Content, field.contentKey)
		rs.mu.Lock()
		field.set(rs, newVal)
		rs.mu.Unlock()
		return nil, false

	case PhaseForward:
		newVal, _ := str(event.Content, field.contentKey)
		rs.mu.Lock()
		oldVal := field.get(rs)
		field.set(rs, newVal)
		rs.mu.Unlock()
		ch := Changes{}
		ch.set(field.changeKey, oldVal, newVal)
		return ch, true

	case PhaseBackward:
		// Backward scalar folding does not carry a separate backward
		// projection for these fields: the pair is read directly off the
		// event's content/prev_content with no mutation.
		contentVal, _ := str(event.Content, field.contentKey)
		prevVal, _ := str(event.PrevContent, field.contentKey)
		ch := Changes{}
		ch.set(field.changeKey, prevVal, contentVal)
		return ch, true
	}
	return nil, false
}

// foldCreate folds m.room.create: it records the creator and room
// version and, during backward pagination, is the caller's signal to
// stop — that termination check lives in Room.Paginate, not here.
func foldCreate(rs *RoomState, phase FoldPhase, event Event) {
	creator, _ := str(event.Content, "creator")
	version, _ := str(event.Content, "room_version")
	rs.mu.Lock()
	defer rs.mu.Unlock()
	if creator != "" {
		rs.creatorID = creator
	}
	if version != "" {
		rs.roomVersion = version
	}
}

// --- aliases fold ---

func othersLocked(aliasesByHS map[string][]string, hs string) []string {
	var out []string
	for h, list := range aliasesByHS {
		if h == hs {
			continue
		}
		out = append(out, list...)
	}
	return out
}

func foldAliases(rs *RoomState, phase FoldPhase, hs string, event Event) (Changes, bool) {
	hs = normalizeHomeserver(hs)
	switch phase {
	case PhaseInitial:
		list, _ := strList(event.Content, "aliases")
		rs.mu.Lock()
		rs.aliasesByHS[hs] = list
		rs.mu.Unlock()
		return nil, false

	case PhaseForward:
		newList, _ := strList(event.Content, "aliases")
		rs.mu.Lock()
		oldList := rs.aliasesByHS[hs]
		rs.aliasesByHS[hs] = newList
		others := othersLocked(rs.aliasesByHS, hs)
		rs.mu.Unlock()
		ch := Changes{}
		ch.set("aliases", oldList, newList, others)
		return ch, true

	case PhaseBackward:
		// Symmetric on a separate backward map (unlike the scalar fields):
		// the "new" side of backward traversal is the prev_content value,
		// since rewinding moves state toward what prev_content recorded.
		// `others` is computed from this same backward map, mirroring the
		// forward behaviour (see DESIGN.md for the reasoning).
		newList, _ := strList(event.PrevContent, "aliases")
		rs.mu.Lock()
		oldList := rs.aliasesByHS[hs]
		rs.aliasesByHS[hs] = newList
		others := othersLocked(rs.aliasesByHS, hs)
		rs.mu.Unlock()
		ch := Changes{}
		ch.set("aliases", newList, oldList, others)
		return ch, true
	}
	return nil, false
}

// --- power levels fold ---

// legacyPowerLevelKind distinguishes the three legacy split events from
// the unified m.room.power_levels event.
type legacyPowerLevelKind int

const (
	legacyOpsLevels legacyPowerLevelKind = iota
	legacySendEventLevel
	legacyAddStateLevel
)

// foldLegacyActionLevel handles m.room.ops_levels / send_event_level /
// add_state_level, normalising them into the same `levels` map the
// unified event populates.
func foldLegacyActionLevel(rs *RoomState, phase FoldPhase, kind legacyPowerLevelKind, event Event) (Changes, bool) {
	// Forward reads the new (later) state from content; backward reads it
	// from prev_content, same direction convention as foldPowerLevels.
	raw := event.Content
	if phase == PhaseBackward {
		raw = event.PrevContent
	}
	updates := map[string]int{}
	switch kind {
	case legacyOpsLevels:
		if v, ok := intField(raw, "ban_level"); ok {
			updates[actionBan] = v
		}
		if v, ok := intField(raw, "kick_level"); ok {
			updates[actionKick] = v
		}
		if v, ok := intField(raw, "redact_level"); ok {
			updates[actionRedact] = v
		}
	case legacySendEventLevel:
		if v, ok := intField(raw, "level"); ok {
			updates[actionSendEvent] = v
		}
	case legacyAddStateLevel:
		if v, ok := intField(raw, "level"); ok {
			updates[actionAddState] = v
		}
	}
	return applyActionLevelUpdates(rs, phase, updates)
}

func applyActionLevelUpdates(rs *RoomState, phase FoldPhase, updates map[string]int) (Changes, bool) {
	if phase == PhaseInitial {
		rs.mu.Lock()
		for action, lvl := range updates {
			rs.levels[action] = lvl
		}
		rs.mu.Unlock()
		return nil, false
	}
	rs.mu.Lock()
	ch := Changes{}
	for action, newLvl := range updates {
		oldLvl := rs.levels[action]
		if oldLvl != newLvl {
			if phase == PhaseForward {
				ch.set("level."+action, oldLvl, newLvl)
			} else {
				ch.set("level."+action, newLvl, oldLvl)
			}
		}
		rs.levels[action] = newLvl
	}
	rs.mu.Unlock()
	if len(ch) == 0 {
		return nil, false
	}
	return ch, true
}

// perUserLevelChange is one subject's before/after power level, used to
// drive an on_membership(...) emission.
type perUserLevelChange struct {
	UserID   string
	Old, New int
}

// foldPowerLevels handles the unified m.room.power_levels event: content
// is a flat {user_id → level, …, "default": level} map plus the five
// action-level keys.
func foldPowerLevels(rs *RoomState, phase FoldPhase, event Event) (actionChanges Changes, userChanges []perUserLevelChange) {
	newUserLevels := map[string]int{}
	newActionLevels := map[string]int{}
	// Forward reads the new (later) state from content; backward reads it
	// from prev_content, since prev_content is the value further back in
	// history when rewinding (mirrors foldMembershipDirectional).
	if phase == PhaseBackward {
		parsePowerLevelsContent(event.PrevContent, newUserLevels, newActionLevels)
	} else {
		parsePowerLevelsContent(event.Content, newUserLevels, newActionLevels)
	}

	if phase == PhaseInitial {
		rs.mu.Lock()
		for uid, lvl := range newUserLevels {
			rs.levelByUserID[uid] = lvl
		}
		for action, lvl := range newActionLevels {
			rs.levels[action] = lvl
		}
		rs.mu.Unlock()
		return nil, nil
	}

	rs.mu.Lock()
	oldUserLevels := make(map[string]int, len(rs.levelByUserID))
	for k, v := range rs.levelByUserID {
		oldUserLevels[k] = v
	}
	oldDefault := oldUserLevels[defaultLevelKey]
	newDefault := newUserLevels[defaultLevelKey]

	seen := map[string]bool{}
	for uid := range oldUserLevels {
		seen[uid] = true
	}
	for uid := range newUserLevels {
		seen[uid] = true
	}
	for uid := range seen {
		oldVal, oldPresent := oldUserLevels[uid]
		if !oldPresent {
			oldVal = oldDefault
		}
		newVal, newPresent := newUserLevels[uid]
		if !newPresent {
			if oldPresent {
				// Removed from the new map: report the old side's default,
				// not the new side's.
				newVal = oldDefault
			} else {
				newVal = newDefault
			}
		}
		if oldVal != newVal {
			if phase == PhaseForward {
				userChanges = append(userChanges, perUserLevelChange{UserID: uid, Old: oldVal, New: newVal})
			} else {
				userChanges = append(userChanges, perUserLevelChange{UserID: uid, Old: newVal, New: oldVal})
			}
		}
	}
	rs.levelByUserID = newUserLevels

	actionChanges = Changes{}
	for action, newLvl := range newActionLevels {
		oldLvl := rs.levels[action]
		if oldLvl != newLvl {
			if phase == PhaseForward {
				actionChanges.set("level."+action, oldLvl, newLvl)
			} else {
				actionChanges.set("level."+action, newLvl, oldLvl)
			}
		}
		rs.levels[action] = newLvl
	}
	rs.mu.Unlock()

	if len(actionChanges) == 0 {
		actionChanges = nil
	}
	return actionChanges, userChanges
}

func parsePowerLevelsContent(raw []byte, userLevels, actionLevels map[string]int) {
	result := content(raw)
	if !result.Exists() {
		return
	}
	result.ForEach(func(key, value gjson.Result) bool {
		k := key.String()
		if value.Type != gjson.Number {
			return true
		}
		if actionLevelKeys[k] {
			actionLevels[k] = int(value.Int())
		} else {
			userLevels[k] = int(value.Int())
		}
		return true
	})
}
