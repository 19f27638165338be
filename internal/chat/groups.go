package chat

import (
	"sort"
	"strings"
	"sync"

	"github.com/rs/zerolog"
)

// GroupManager holds the local view of group membership. Mutating requests
// are pre-checked here (validation, admin rights) before they reach the
// wire; the server stays authoritative. Server deltas are applied through
// the Apply methods identically whether the local identity or a remote
// participant triggered them.
type GroupManager struct {
	mu     sync.RWMutex
	selfID string
	groups map[string]*GroupInfo
	log    zerolog.Logger
}

func NewGroupManager(selfID string, logger zerolog.Logger) *GroupManager {
	return &GroupManager{
		selfID: selfID,
		groups: make(map[string]*GroupInfo),
		log:    logger,
	}
}

// snapshot returns a copy whose member and admin slices are detached from
// the stored group, so later deltas cannot mutate values already handed out.
func snapshot(grp *GroupInfo) GroupInfo {
	out := *grp
	out.Admins = append([]string(nil), grp.Admins...)
	out.Members = append([]Participant(nil), grp.Members...)
	return out
}

// ValidateCreate rejects a group creation request before any network call.
func (g *GroupManager) ValidateCreate(name string) error {
	if strings.TrimSpace(name) == "" {
		return &ValidationError{Field: "name", Reason: "must not be empty"}
	}
	return nil
}

// PrecheckJoin reports whether a join request should go out. Unknown groups
// fail with NotFoundError; joining a group we already belong to is a silent
// no-op.
func (g *GroupManager) PrecheckJoin(groupID string) (send bool, err error) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	grp, ok := g.groups[groupID]
	if !ok {
		return false, &NotFoundError{Kind: "group", ID: groupID}
	}
	if grp.IsMember(g.selfID) {
		return false, nil
	}
	return true, nil
}

// PrecheckLeave verifies the group exists and we belong to it.
func (g *GroupManager) PrecheckLeave(groupID string) error {
	g.mu.RLock()
	defer g.mu.RUnlock()

	grp, ok := g.groups[groupID]
	if !ok {
		return &NotFoundError{Kind: "group", ID: groupID}
	}
	if !grp.IsMember(g.selfID) {
		return &NotFoundError{Kind: "membership", ID: groupID}
	}
	return nil
}

// PrecheckAdmin suppresses admin-only actions when the local identity is
// not in the admin set, saving a pointless round trip.
func (g *GroupManager) PrecheckAdmin(action, groupID string) error {
	g.mu.RLock()
	defer g.mu.RUnlock()

	grp, ok := g.groups[groupID]
	if !ok {
		return &NotFoundError{Kind: "group", ID: groupID}
	}
	if !grp.IsAdmin(g.selfID) {
		return &PermissionError{Action: action, GroupID: groupID}
	}
	return nil
}

// ApplyCreated installs a freshly created group. The creator arrives as a
// member and admin already; a snapshot violating that is fixed up here.
func (g *GroupManager) ApplyCreated(grp GroupInfo) GroupInfo {
	if !grp.IsMember(grp.CreatedBy) {
		grp.Members = append([]Participant{{ID: grp.CreatedBy}}, grp.Members...)
	}
	if !grp.IsAdmin(grp.CreatedBy) {
		grp.Admins = append([]string{grp.CreatedBy}, grp.Admins...)
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	stored := grp
	g.groups[grp.ID] = &stored
	return snapshot(&stored)
}

// ApplyMemberAdded records a participant entering a group, whether they
// joined on their own or an admin added them. Idempotent.
func (g *GroupManager) ApplyMemberAdded(groupID string, p Participant) (GroupInfo, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()

	grp, ok := g.groups[groupID]
	if !ok {
		g.log.Debug().Str("group_id", groupID).Msg("member delta for unknown group dropped")
		return GroupInfo{}, false
	}
	if !grp.IsMember(p.ID) {
		grp.Members = append(grp.Members, p)
	}
	return snapshot(grp), true
}

// ApplyMemberRemoved records a participant leaving or being removed. When
// the departing member was the sole admin, the longest-standing remaining
// member is promoted; an emptied group is dropped from local state.
func (g *GroupManager) ApplyMemberRemoved(groupID, userID string) (GroupInfo, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()

	grp, ok := g.groups[groupID]
	if !ok {
		g.log.Debug().Str("group_id", groupID).Msg("member delta for unknown group dropped")
		return GroupInfo{}, false
	}

	members := make([]Participant, 0, len(grp.Members))
	for _, m := range grp.Members {
		if m.ID != userID {
			members = append(members, m)
		}
	}
	grp.Members = members

	admins := make([]string, 0, len(grp.Admins))
	for _, id := range grp.Admins {
		if id != userID {
			admins = append(admins, id)
		}
	}
	grp.Admins = admins

	if len(grp.Members) == 0 {
		delete(g.groups, groupID)
		return snapshot(grp), true
	}
	if len(grp.Admins) == 0 {
		grp.Admins = append(grp.Admins, grp.Members[0].ID)
	}
	return snapshot(grp), true
}

// Get returns a detached copy of the group, if known.
func (g *GroupManager) Get(groupID string) (GroupInfo, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	grp, ok := g.groups[groupID]
	if !ok {
		return GroupInfo{}, false
	}
	return snapshot(grp), true
}

// Groups returns all known groups sorted by name.
func (g *GroupManager) Groups() []GroupInfo {
	g.mu.RLock()
	defer g.mu.RUnlock()

	out := make([]GroupInfo, 0, len(g.groups))
	for _, grp := range g.groups {
		out = append(out, snapshot(grp))
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return out[i].ID < out[j].ID
	})
	return out
}
