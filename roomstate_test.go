package matrix

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFoldScalarInitialThenForward(t *testing.T) {
	rs := newRoomState()
	field := scalarFields["m.room.name"]

	changes, notify := foldScalar(rs, field, PhaseInitial, Event{Content: []byte(`{"name":"Lounge"}`)})
	assert.False(t, notify)
	assert.Nil(t, changes)
	assert.Equal(t, "Lounge", rs.Name())

	changes, notify = foldScalar(rs, field, PhaseForward, Event{Content: []byte(`{"name":"War Room"}`)})
	require.True(t, notify)
	assert.Equal(t, []interface{}{"Lounge", "War Room"}, []interface{}(changes["name"]))
	assert.Equal(t, "War Room", rs.Name())
}

func TestFoldScalarBackwardDoesNotMutate(t *testing.T) {
	rs := newRoomState()
	rs.name = "War Room"
	field := scalarFields["m.room.name"]

	changes, notify := foldScalar(rs, field, PhaseBackward, Event{
		Content:     []byte(`{"name":"War Room"}`),
		PrevContent: []byte(`{"name":"Lounge"}`),
	})
	require.True(t, notify)
	// backward pair is [new,old] i.e. [prev_content, content]
	assert.Equal(t, []interface{}{"Lounge", "War Room"}, []interface{}(changes["name"]))
	assert.Equal(t, "War Room", rs.Name(), "backward scalar fold must not mutate forward state")
}

func TestFoldAliasesComputesOthers(t *testing.T) {
	rs := newRoomState()
	foldAliases(rs, PhaseInitial, "a.example", Event{Content: []byte(`{"aliases":["#one:a.example"]}`)})
	foldAliases(rs, PhaseInitial, "b.example", Event{Content: []byte(`{"aliases":["#two:b.example"]}`)})

	changes, notify := foldAliases(rs, PhaseForward, "a.example", Event{Content: []byte(`{"aliases":["#one-new:a.example"]}`)})
	require.True(t, notify)
	payload := changes["aliases"]
	require.Len(t, payload, 3)
	assert.Equal(t, []string{"#one:a.example"}, payload[0])
	assert.Equal(t, []string{"#one-new:a.example"}, payload[1])
	assert.ElementsMatch(t, []string{"#two:b.example"}, payload[2])

	assert.ElementsMatch(t, []string{"#one-new:a.example", "#two:b.example"}, rs.Aliases())
}

func TestMemberLevelFallsBackToDefault(t *testing.T) {
	rs := newRoomState()
	ev := Event{Content: []byte(`{"default":10,"@admin:h.test":100}`)}
	foldPowerLevels(rs, PhaseInitial, ev)

	assert.Equal(t, 100, rs.MemberLevel("@admin:h.test"))
	assert.Equal(t, 10, rs.MemberLevel("@nobody:h.test"))
}

func TestFoldPowerLevelsReportsRemovedUserAtOldDefault(t *testing.T) {
	rs := newRoomState()
	foldPowerLevels(rs, PhaseInitial, Event{Content: []byte(`{"default":0,"@a:h.test":50}`)})

	_, userChanges := foldPowerLevels(rs, PhaseForward, Event{Content: []byte(`{"default":0}`)})
	require.Len(t, userChanges, 1)
	assert.Equal(t, "@a:h.test", userChanges[0].UserID)
	assert.Equal(t, 50, userChanges[0].Old)
	assert.Equal(t, 0, userChanges[0].New)
}

func TestFoldLegacyActionLevelsNormaliseIntoUnifiedMap(t *testing.T) {
	rs := newRoomState()
	foldLegacyActionLevel(rs, PhaseInitial, legacyOpsLevels, Event{Content: []byte(`{"ban_level":50,"kick_level":40,"redact_level":30}`)})
	assert.Equal(t, 50, rs.ActionLevel(actionBan))
	assert.Equal(t, 40, rs.ActionLevel(actionKick))
	assert.Equal(t, 30, rs.ActionLevel(actionRedact))

	changes, notify := foldLegacyActionLevel(rs, PhaseForward, legacyOpsLevels, Event{Content: []byte(`{"ban_level":60}`)})
	require.True(t, notify)
	assert.Equal(t, []interface{}{50, 60}, []interface{}(changes["level.ban"]))
}

func TestRoomStateCloneIsIndependent(t *testing.T) {
	rs := newRoomState()
	rs.name = "Original"
	rs.aliasesByHS["h.test"] = []string{"#orig:h.test"}

	clone := rs.clone()
	clone.name = "Changed"
	clone.aliasesByHS["h.test"][0] = "#mutated:h.test"

	assert.Equal(t, "Original", rs.Name())
	assert.Equal(t, "#orig:h.test", rs.aliasesByHS["h.test"][0])
}

func TestNormalizeHomeserverIsBestEffort(t *testing.T) {
	assert.Equal(t, "h.test", normalizeHomeserver("h.test"))
	// Garbage input should fall back to the original string rather than
	// dropping the alias fold.
	assert.Equal(t, "not a hostname!", normalizeHomeserver("not a hostname!"))
}
