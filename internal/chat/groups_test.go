package chat

import (
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func devsGroup() GroupInfo {
	return GroupInfo{
		ID:        "g1",
		Name:      "Devs",
		CreatedBy: "u1",
		CreatedAt: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
		Admins:    []string{"u1"},
		Members: []Participant{
			{ID: "u1", DisplayName: "Ana", Email: "ana@example.com"},
		},
	}
}

func TestValidateCreateRejectsEmptyName(t *testing.T) {
	g := NewGroupManager("u1", zerolog.Nop())

	var validationErr *ValidationError
	require.ErrorAs(t, g.ValidateCreate("   "), &validationErr)
	assert.Equal(t, "name", validationErr.Field)

	assert.NoError(t, g.ValidateCreate("Devs"))
}

func TestApplyCreatedEnforcesCreatorInvariant(t *testing.T) {
	g := NewGroupManager("u1", zerolog.Nop())

	// Snapshot missing the creator from members and admins.
	grp := g.ApplyCreated(GroupInfo{ID: "g1", Name: "Devs", CreatedBy: "u1"})

	assert.True(t, grp.IsMember("u1"), "creator is always a member at creation")
	assert.True(t, grp.IsAdmin("u1"), "creator is always an admin at creation")
}

func TestPrecheckJoin(t *testing.T) {
	g := NewGroupManager("u2", zerolog.Nop())

	_, err := g.PrecheckJoin("nope")
	var notFound *NotFoundError
	require.ErrorAs(t, err, &notFound)

	g.ApplyCreated(devsGroup())

	send, err := g.PrecheckJoin("g1")
	require.NoError(t, err)
	assert.True(t, send)

	// Already a member: idempotent, no wire traffic.
	g.ApplyMemberAdded("g1", Participant{ID: "u2", DisplayName: "Bo"})
	send, err = g.PrecheckJoin("g1")
	require.NoError(t, err)
	assert.False(t, send)
}

func TestPrecheckAdminSuppressesNonAdmins(t *testing.T) {
	g := NewGroupManager("u2", zerolog.Nop())
	g.ApplyCreated(devsGroup())
	g.ApplyMemberAdded("g1", Participant{ID: "u2", DisplayName: "Bo"})

	err := g.PrecheckAdmin("add_member", "g1")
	var permErr *PermissionError
	require.ErrorAs(t, err, &permErr)
	assert.Equal(t, "g1", permErr.GroupID)

	admin := NewGroupManager("u1", zerolog.Nop())
	admin.ApplyCreated(devsGroup())
	assert.NoError(t, admin.PrecheckAdmin("add_member", "g1"))
}

func TestMemberAddedIsIdempotent(t *testing.T) {
	g := NewGroupManager("u1", zerolog.Nop())
	g.ApplyCreated(devsGroup())

	bo := Participant{ID: "u2", DisplayName: "Bo"}
	grp, ok := g.ApplyMemberAdded("g1", bo)
	require.True(t, ok)
	require.Len(t, grp.Members, 2)

	grp, ok = g.ApplyMemberAdded("g1", bo)
	require.True(t, ok)
	assert.Len(t, grp.Members, 2)

	_, ok = g.ApplyMemberAdded("ghost", bo)
	assert.False(t, ok, "delta for unknown group degrades to a no-op")
}

func TestSoleAdminLeavePromotesOldestMember(t *testing.T) {
	g := NewGroupManager("u3", zerolog.Nop())
	g.ApplyCreated(devsGroup())
	g.ApplyMemberAdded("g1", Participant{ID: "u2", DisplayName: "Bo"})
	g.ApplyMemberAdded("g1", Participant{ID: "u3", DisplayName: "Cy"})

	grp, ok := g.ApplyMemberRemoved("g1", "u1")
	require.True(t, ok)

	assert.False(t, grp.IsMember("u1"))
	assert.Equal(t, []string{"u2"}, grp.Admins, "longest-standing remaining member takes over")
}

func memberIDs(g GroupInfo) []string {
	ids := make([]string, len(g.Members))
	for i, m := range g.Members {
		ids[i] = m.ID
	}
	return ids
}

func TestReturnedGroupsAreDetachedCopies(t *testing.T) {
	g := NewGroupManager("u1", zerolog.Nop())
	g.ApplyCreated(devsGroup())
	g.ApplyMemberAdded("g1", Participant{ID: "u2", DisplayName: "Bo"})
	g.ApplyMemberAdded("g1", Participant{ID: "u3", DisplayName: "Cy"})

	before, ok := g.Get("g1")
	require.True(t, ok)
	require.Equal(t, []string{"u1", "u2", "u3"}, memberIDs(before))

	_, ok = g.ApplyMemberRemoved("g1", "u1")
	require.True(t, ok)

	// A copy handed out earlier must not see later deltas.
	assert.Equal(t, []string{"u1", "u2", "u3"}, memberIDs(before))
	assert.Equal(t, []string{"u1"}, before.Admins)

	after, ok := g.Get("g1")
	require.True(t, ok)
	assert.Equal(t, []string{"u2", "u3"}, memberIDs(after))

	// Nor can callers reach back into stored state through a copy.
	after.Members[0].DisplayName = "mangled"
	after.Admins[0] = "intruder"
	fresh, _ := g.Get("g1")
	assert.Equal(t, "Bo", fresh.Members[0].DisplayName)
	assert.Equal(t, []string{"u2"}, fresh.Admins)
}

func TestEmptiedGroupIsDropped(t *testing.T) {
	g := NewGroupManager("u1", zerolog.Nop())
	g.ApplyCreated(devsGroup())

	_, ok := g.ApplyMemberRemoved("g1", "u1")
	require.True(t, ok)

	_, known := g.Get("g1")
	assert.False(t, known)
	assert.Empty(t, g.Groups())
}

func TestMembershipIndependentOfPresence(t *testing.T) {
	g := NewGroupManager("u1", zerolog.Nop())
	g.ApplyCreated(devsGroup())
	g.ApplyMemberAdded("g1", Participant{ID: "u2", DisplayName: "Bo"})

	// No roster involved: membership is purely the group's member set.
	grp, ok := g.Get("g1")
	require.True(t, ok)
	assert.True(t, grp.IsMember("u2"))
	assert.False(t, grp.IsAdmin("u2"))
}

func TestPrecheckLeave(t *testing.T) {
	g := NewGroupManager("u9", zerolog.Nop())

	var notFound *NotFoundError
	require.True(t, errors.As(g.PrecheckLeave("g1"), &notFound))

	g.ApplyCreated(devsGroup())
	require.True(t, errors.As(g.PrecheckLeave("g1"), &notFound), "non-members cannot leave")

	g.ApplyMemberAdded("g1", Participant{ID: "u9"})
	assert.NoError(t, g.PrecheckLeave("g1"))
}
