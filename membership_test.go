package matrix

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFoldMembershipInitialIgnoresDuplicate(t *testing.T) {
	rs := newRoomState()
	users := newUserRegistry()

	first := foldMembership(rs, PhaseInitial, "@a:h.test", Event{Content: []byte(`{"membership":"join"}`)}, users)
	assert.False(t, first.Ignored)
	assert.NotNil(t, first.Subject)

	second := foldMembership(rs, PhaseInitial, "@a:h.test", Event{Content: []byte(`{"membership":"join"}`)}, users)
	assert.True(t, second.Ignored)
}

func TestFoldMembershipForwardJoinThenLeaveRemovesMember(t *testing.T) {
	rs := newRoomState()
	users := newUserRegistry()

	joined := foldMembershipDirectional(rs, PhaseForward, "@a:h.test", Event{
		Content: []byte(`{"membership":"join","displayname":"Alice"}`),
	}, users)
	require.True(t, joined.Notify)
	assert.False(t, joined.Removed)
	_, ok := rs.Member("@a:h.test")
	assert.True(t, ok)
	assert.Equal(t, []interface{}{nil, "join"}, []interface{}(joined.Changes["membership"]))

	left := foldMembershipDirectional(rs, PhaseForward, "@a:h.test", Event{
		PrevContent: []byte(`{"membership":"join","displayname":"Alice"}`),
		Content:     []byte(`{"membership":"leave"}`),
	}, users)
	require.True(t, left.Notify)
	assert.True(t, left.Removed)
	_, ok = rs.Member("@a:h.test")
	assert.False(t, ok, "a member whose membership resolves to absent must be removed")
}

func TestFoldMembershipBackwardChangePairIsSwapped(t *testing.T) {
	rs := newRoomState()
	users := newUserRegistry()
	rs.membersByUserID["@a:h.test"] = &Member{User: users.getOrCreate("@a:h.test"), Membership: MembershipJoin}

	result := foldMembershipDirectional(rs, PhaseBackward, "@a:h.test", Event{
		Content:     []byte(`{"membership":"join"}`),
		PrevContent: []byte(`{"membership":"invite"}`),
	}, users)
	require.True(t, result.Notify)
	// backward pair is [new,old] i.e. [prev_content, content]
	assert.Equal(t, []interface{}{"invite", "join"}, []interface{}(result.Changes["membership"]))
}

func TestIsAbsentMembershipOnlyTreatsLeaveAndEmptyAsAbsent(t *testing.T) {
	assert.True(t, isAbsentMembership(nil))
	assert.True(t, isAbsentMembership([]byte(`{}`)))
	assert.True(t, isAbsentMembership([]byte(`{"membership":"leave"}`)))
	assert.False(t, isAbsentMembership([]byte(`{"membership":"ban"}`)))
	assert.False(t, isAbsentMembership([]byte(`{"membership":"join"}`)))
}
