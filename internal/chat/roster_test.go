package chat

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRosterSnapshotDedupByEmail(t *testing.T) {
	r := NewRoster()
	r.ReplaceAll([]Participant{
		{ID: "u1", DisplayName: "Ana", Email: "ana@example.com"},
		{ID: "u1-tab2", DisplayName: "Ana", Email: "ANA@example.com "},
		{ID: "u2", DisplayName: "Bo", Email: "bo@example.com"},
	})

	participants := r.Participants()
	require.Len(t, participants, 2)

	seen := map[string]int{}
	for _, p := range participants {
		seen[p.identityKey()]++
	}
	for key, n := range seen {
		assert.Equal(t, 1, n, "duplicate roster entry for %s", key)
	}
}

func TestRosterPrefersMoreCompleteEntry(t *testing.T) {
	r := NewRoster()
	r.ReplaceAll([]Participant{
		{DisplayName: "Ana", Email: "ana@example.com"},
		{ID: "u1", DisplayName: "Ana", Email: "ana@example.com", Role: "admin"},
	})

	participants := r.Participants()
	require.Len(t, participants, 1)
	assert.Equal(t, "u1", participants[0].ID)
	assert.Equal(t, "admin", participants[0].Role)

	// A sparser join must not clobber the richer record.
	r.Join(Participant{DisplayName: "Ana", Email: "ana@example.com"})
	participants = r.Participants()
	require.Len(t, participants, 1)
	assert.Equal(t, "u1", participants[0].ID)
}

func TestRosterJoinLeaveMultiTab(t *testing.T) {
	r := NewRoster()
	r.Join(Participant{ID: "c1", DisplayName: "Ana", Email: "ana@example.com"})
	r.Join(Participant{ID: "c2", DisplayName: "Ana", Email: "ana@example.com"})
	assert.Equal(t, 1, r.Len(), "two tabs of one identity must appear once")

	r.Leave(Participant{DisplayName: "Ana", Email: "ana@example.com"})
	assert.Equal(t, 0, r.Len())
}

func TestRosterNameFallback(t *testing.T) {
	r := NewRoster()
	r.Join(Participant{ID: "g1", DisplayName: "Guest"})
	r.Join(Participant{ID: "g2", DisplayName: "guest "})
	assert.Equal(t, 1, r.Len())

	// Entries with no identity at all are dropped, not collapsed together.
	r.Join(Participant{ID: "anon"})
	assert.Equal(t, 1, r.Len())
}

func TestRosterDedupUnderArbitrarySequences(t *testing.T) {
	r := NewRoster()
	ana := Participant{ID: "u1", DisplayName: "Ana", Email: "ana@example.com"}
	bo := Participant{ID: "u2", DisplayName: "Bo", Email: "bo@example.com"}

	steps := []func(){
		func() { r.ReplaceAll([]Participant{ana, bo}) },
		func() { r.Join(ana) },
		func() { r.Join(bo) },
		func() { r.Leave(bo) },
		func() { r.Join(bo) },
		func() { r.ReplaceAll([]Participant{ana, ana, bo}) },
		func() { r.Join(Participant{ID: "u1-b", DisplayName: "Ana", Email: "Ana@Example.com"}) },
	}
	for _, step := range steps {
		step()
		seen := map[string]bool{}
		for _, p := range r.Participants() {
			require.False(t, seen[p.identityKey()], "roster contains duplicate %s", p.identityKey())
			seen[p.identityKey()] = true
		}
	}
}
