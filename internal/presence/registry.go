// Package presence keeps the set of users currently in the room.
package presence

import "strings"

// View is a presence snapshot for rendering. Known is false until the relay
// has delivered at least one snapshot or change, which lets renderers tell
// "loading" apart from "nobody else is here".
type View struct {
	Known bool     `json:"known"`
	Users []string `json:"users"`
}

type change struct {
	name   string
	joined bool
}

// Registry is an ordered set of usernames. Iteration follows snapshot order
// first, then join order. It is not safe for concurrent use.
type Registry struct {
	known   bool
	order   []string
	members map[string]struct{}

	pending bool
	buffer  []change
}

// New returns an empty registry in the unknown state.
func New() *Registry {
	return &Registry{members: make(map[string]struct{})}
}

// ReplaceAll resets the registry to names. Empty names are skipped and
// duplicates keep their first position. If a resync is pending, changes that
// arrived since BeginResync are replayed on top of the snapshot.
func (r *Registry) ReplaceAll(names []string) {
	r.order = r.order[:0]
	clear(r.members)
	for _, name := range names {
		r.insert(name)
	}
	r.known = true
	r.applyBuffer()
}

// Flush ends a pending resync without a snapshot by applying the buffered
// changes to the current set. It reports whether a resync was pending.
func (r *Registry) Flush() bool {
	if !r.pending {
		return false
	}
	r.known = true
	r.applyBuffer()
	return true
}

func (r *Registry) applyBuffer() {
	if !r.pending {
		return
	}
	for _, c := range r.buffer {
		if c.joined {
			r.insert(c.name)
		} else {
			r.delete(c.name)
		}
	}
	r.pending = false
	r.buffer = nil
}

// Add records that name joined. It reports whether name's membership
// changed. While a resync is pending the change is buffered and the answer is
// measured against the current set with earlier buffered changes applied.
func (r *Registry) Add(name string) bool {
	name = strings.TrimSpace(name)
	if name == "" {
		return false
	}
	if r.pending {
		return r.bufferChange(name, true)
	}
	r.known = true
	return r.insert(name)
}

// Remove records that name left. It reports whether name's membership
// changed, with the same buffering as Add.
func (r *Registry) Remove(name string) bool {
	name = strings.TrimSpace(name)
	if name == "" {
		return false
	}
	if r.pending {
		return r.bufferChange(name, false)
	}
	r.known = true
	return r.delete(name)
}

func (r *Registry) bufferChange(name string, joined bool) bool {
	if r.projected(name) == joined {
		return false
	}
	r.buffer = append(r.buffer, change{name: name, joined: joined})
	return true
}

// projected reports whether name would be present once the buffer is applied.
func (r *Registry) projected(name string) bool {
	for i := len(r.buffer) - 1; i >= 0; i-- {
		if r.buffer[i].name == name {
			return r.buffer[i].joined
		}
	}
	return r.Contains(name)
}

// BeginResync marks a snapshot request as in flight. Incremental changes are
// held until the next ReplaceAll or Flush and applied after it.
func (r *Registry) BeginResync() {
	r.pending = true
	r.buffer = nil
}

// Pending reports whether a resync is waiting for its snapshot.
func (r *Registry) Pending() bool { return r.pending }

// Contains reports whether name is present.
func (r *Registry) Contains(name string) bool {
	_, ok := r.members[name]
	return ok
}

// Len returns the number of users including the local identity.
func (r *Registry) Len() int { return len(r.order) }

// Snapshot returns the users in order with excluding filtered out.
func (r *Registry) Snapshot(excluding string) View {
	users := make([]string, 0, len(r.order))
	for _, name := range r.order {
		if name == excluding {
			continue
		}
		users = append(users, name)
	}
	return View{Known: r.known, Users: users}
}

// Reset returns the registry to the unknown, empty, not pending state.
func (r *Registry) Reset() {
	r.known = false
	r.order = nil
	clear(r.members)
	r.pending = false
	r.buffer = nil
}

func (r *Registry) insert(name string) bool {
	name = strings.TrimSpace(name)
	if name == "" {
		return false
	}
	if _, ok := r.members[name]; ok {
		return false
	}
	r.members[name] = struct{}{}
	r.order = append(r.order, name)
	return true
}

func (r *Registry) delete(name string) bool {
	if _, ok := r.members[name]; !ok {
		return false
	}
	delete(r.members, name)
	for i, n := range r.order {
		if n == name {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	return true
}
