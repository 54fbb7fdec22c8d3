package wsregistry

import "sync"

// Room is a named set of fds sharing broadcast fan-out. Join/Leave are
// idempotent; Broadcast lazily drops members whose connection has since
// closed rather than requiring an explicit Leave on disconnect.
type Room struct {
	mu      sync.Mutex
	name    string
	members map[int]struct{}
	table   *Table
}

// NewRoom creates an empty Room backed by table for member lookups.
func NewRoom(name string, table *Table) *Room {
	return &Room{name: name, members: make(map[int]struct{}), table: table}
}

// Name returns the room's name.
func (r *Room) Name() string { return r.name }

// Join adds fd to the room. Joining twice is a no-op.
func (r *Room) Join(fd int) {
	r.mu.Lock()
	r.members[fd] = struct{}{}
	r.mu.Unlock()
}

// Leave removes fd from the room. Leaving a non-member is a no-op.
func (r *Room) Leave(fd int) {
	r.mu.Lock()
	delete(r.members, fd)
	r.mu.Unlock()
}

// Members returns a snapshot of the current member fds.
func (r *Room) Members() []int {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]int, 0, len(r.members))
	for fd := range r.members {
		out = append(out, fd)
	}
	return out
}

// Broadcast sends frame (pre-encoded via wsframe.EncodeFrame) to every
// member except excludeFD (pass -1 to exclude none), dropping any member
// whose connection has since closed. It returns the number of fds the
// frame was actually sent to.
func (r *Room) Broadcast(frame []byte, excludeFD int) int {
	r.mu.Lock()
	members := make([]int, 0, len(r.members))
	for fd := range r.members {
		members = append(members, fd)
	}
	r.mu.Unlock()

	sent := 0
	var stale []int
	for _, fd := range members {
		if fd == excludeFD {
			continue
		}
		c, ok := r.table.Lookup(fd)
		if !ok || !c.Open {
			stale = append(stale, fd)
			continue
		}
		if err := c.Sender.SendFrame(frame); err == nil {
			sent++
		}
	}
	if len(stale) > 0 {
		r.mu.Lock()
		for _, fd := range stale {
			delete(r.members, fd)
		}
		r.mu.Unlock()
	}
	return sent
}
