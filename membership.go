package matrix

// membershipFoldResult carries everything a caller (Room) needs to emit
// the on_membership/on_back_membership notification and react to a
// resulting removal.
type membershipFoldResult struct {
	Subject  *Member
	Changes  Changes
	Removed  bool // subject's new membership resolved to Absent
	Ignored  bool // initial-phase duplicate; event was dropped
	Notify   bool // forward/backward phases always notify unless Ignored
}

// foldMembership folds an m.room.member event for all three phases. users
// is the client's global registry, used to resolve the shared *User behind
// a new Member.
func foldMembership(rs *RoomState, phase FoldPhase, subjectID string, event Event, users *userRegistry) membershipFoldResult {
	switch phase {
	case PhaseInitial:
		rs.mu.Lock()
		defer rs.mu.Unlock()
		if _, exists := rs.membersByUserID[subjectID]; exists {
			return membershipFoldResult{Ignored: true}
		}
		m := newMember(users.getOrCreate(subjectID))
		if name, ok := str(event.Content, "displayname"); ok {
			m.DisplayName = name
		}
		if !isAbsentMembership(event.Content) {
			if ms, ok := str(event.Content, "membership"); ok {
				m.Membership = Membership(ms)
			}
			rs.membersByUserID[subjectID] = m
		}
		return membershipFoldResult{Subject: m}

	case PhaseForward, PhaseBackward:
		return foldMembershipDirectional(rs, phase, subjectID, event, users)
	}
	return membershipFoldResult{}
}

func foldMembershipDirectional(rs *RoomState, phase FoldPhase, subjectID string, event Event, users *userRegistry) membershipFoldResult {
	// Forward reads old from prev_content / new from content; backward
	// reads the mirror image, since prev_content is the value further
	// back in history when rewinding.
	var oldRaw, newRaw []byte
	if phase == PhaseForward {
		oldRaw, newRaw = event.PrevContent, event.Content
	} else {
		oldRaw, newRaw = event.Content, event.PrevContent
	}
	oldAbsent := isAbsentMembership(oldRaw)
	newAbsent := isAbsentMembership(newRaw)
	oldMembership, _ := str(oldRaw, "membership")
	newMembership, _ := str(newRaw, "membership")
	oldDisplayName, _ := str(oldRaw, "displayname")
	newDisplayName, _ := str(newRaw, "displayname")

	rs.mu.Lock()
	defer rs.mu.Unlock()

	m, exists := rs.membersByUserID[subjectID]
	if !exists {
		m = newMember(users.getOrCreate(subjectID))
	}

	ch := Changes{}
	// Forward pairs are [old,new]; backward pairs are [new,old], i.e.
	// [prev_content, content], matching the other backward folds.
	setPair := func(field string, oldVal, newVal interface{}) {
		if phase == PhaseBackward {
			ch.set(field, newVal, oldVal)
		} else {
			ch.set(field, oldVal, newVal)
		}
	}
	if oldAbsent != newAbsent || (!oldAbsent && !newAbsent && oldMembership != newMembership) {
		var oldVal, newVal interface{}
		if oldAbsent {
			oldVal = nil
		} else {
			oldVal = oldMembership
		}
		if newAbsent {
			newVal = nil
		} else {
			newVal = newMembership
		}
		setPair("membership", oldVal, newVal)
	}
	if oldDisplayName != newDisplayName {
		setPair("displayname", oldDisplayName, newDisplayName)
	}

	if newAbsent {
		m.Membership = MembershipAbsent
	} else {
		m.Membership = Membership(newMembership)
	}
	m.DisplayName = newDisplayName

	if newAbsent {
		delete(rs.membersByUserID, subjectID)
	} else {
		rs.membersByUserID[subjectID] = m
	}

	return membershipFoldResult{
		Subject: m,
		Changes: ch,
		Removed: newAbsent,
		Notify:  true,
	}
}
