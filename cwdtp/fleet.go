package cwdtp

import "sync"

// fleet is the set of OPEN or CLOSING server-role connections an Acceptor
// tracks from OPEN until Done. It sweeps them for heartbeats and can send
// each of them a shutdown Disconnect.
type fleet struct {
	mu      sync.Mutex
	members map[*Connection]struct{}
}

func newFleet() *fleet {
	return &fleet{members: make(map[*Connection]struct{})}
}

func (f *fleet) add(c *Connection) {
	f.mu.Lock()
	f.members[c] = struct{}{}
	f.mu.Unlock()
}

func (f *fleet) remove(c *Connection) {
	f.mu.Lock()
	delete(f.members, c)
	f.mu.Unlock()
}

func (f *fleet) snapshot() []*Connection {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]*Connection, 0, len(f.members))
	for c := range f.members {
		out = append(out, c)
	}
	return out
}

func (f *fleet) len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.members)
}
