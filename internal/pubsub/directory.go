package pubsub

import (
	"sort"
	"sync"
)

// Directory maps configured names to running servers, so that other
// components can address a relay without holding a reference to it across
// restarts.
type Directory struct {
	mu      sync.RWMutex
	servers map[string]*Server
}

// NewDirectory creates an empty directory.
func NewDirectory() *Directory {
	return &Directory{servers: make(map[string]*Server)}
}

// Register binds name to s. It fails with ErrNameTaken while another server
// holds the name.
func (d *Directory) Register(name string, s *Server) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if cur, ok := d.servers[name]; ok && cur != s {
		return ErrNameTaken
	}
	d.servers[name] = s
	return nil
}

// Unregister removes name if it is still bound to s.
func (d *Directory) Unregister(name string, s *Server) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.servers[name] == s {
		delete(d.servers, name)
	}
}

// Lookup returns the server registered under name.
func (d *Directory) Lookup(name string) (*Server, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	s, ok := d.servers[name]
	return s, ok
}

// Names returns the registered names, sorted.
func (d *Directory) Names() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()

	names := make([]string, 0, len(d.servers))
	for n := range d.servers {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
