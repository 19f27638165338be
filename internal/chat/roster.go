package chat

import (
	"sort"
	"sync"
)

// Roster tracks the set of online participants, deduplicated by identity
// key. One person with two open tabs shows up once.
type Roster struct {
	mu      sync.RWMutex
	entries map[string]Participant // identity key -> participant
}

func NewRoster() *Roster {
	return &Roster{entries: make(map[string]Participant)}
}

// ReplaceAll applies a full roster snapshot. Duplicates within the snapshot
// collapse onto the entry with more non-empty fields; ties keep the first.
func (r *Roster) ReplaceAll(participants []Participant) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.entries = make(map[string]Participant, len(participants))
	for _, p := range participants {
		r.mergeLocked(p)
	}
}

// Join adds or refreshes one participant.
func (r *Roster) Join(p Participant) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.mergeLocked(p)
}

// Leave removes the participant with the same identity key.
func (r *Roster) Leave(p Participant) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.entries, p.identityKey())
}

func (r *Roster) mergeLocked(p Participant) {
	key := p.identityKey()
	if key == "" {
		return
	}
	if existing, ok := r.entries[key]; ok && existing.completeness() >= p.completeness() {
		return
	}
	r.entries[key] = p
}

// Participants returns the roster sorted by display name.
func (r *Roster) Participants() []Participant {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Participant, 0, len(r.entries))
	for _, p := range r.entries {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].DisplayName != out[j].DisplayName {
			return out[i].DisplayName < out[j].DisplayName
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// Lookup finds an online participant by id.
func (r *Roster) Lookup(userID string) (Participant, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, p := range r.entries {
		if p.ID == userID {
			return p, true
		}
	}
	return Participant{}, false
}

func (r *Roster) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}
