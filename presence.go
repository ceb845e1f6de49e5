package vibesync

import (
	"sort"
	"sync"
)

// Presence holds the identities currently online. Every snapshot replaces
// the previous set; there is no incremental add or remove.
type Presence struct {
	mu     sync.RWMutex
	online map[string]struct{}
}

func NewPresence() *Presence {
	return &Presence{online: make(map[string]struct{})}
}

// Replace swaps in a new snapshot.
func (p *Presence) Replace(identities []string) {
	next := make(map[string]struct{}, len(identities))
	for _, id := range identities {
		if id != "" {
			next[id] = struct{}{}
		}
	}
	p.mu.Lock()
	p.online = next
	p.mu.Unlock()
}

func (p *Presence) IsOnline(identity string) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	_, ok := p.online[identity]
	return ok
}

// List returns the online identities sorted.
func (p *Presence) List() []string {
	p.mu.RLock()
	out := make([]string, 0, len(p.online))
	for id := range p.online {
		out = append(out, id)
	}
	p.mu.RUnlock()
	sort.Strings(out)
	return out
}

func (p *Presence) Len() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.online)
}

// Clear empties the set, used on logout.
func (p *Presence) Clear() {
	p.Replace(nil)
}
