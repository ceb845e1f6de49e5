package vibesync

import "sync"

const DefaultPageSize = 5

// Ticket identifies one outstanding page request. A ticket from before the
// last Reset is stale and its response is discarded.
type Ticket struct {
	Subject    FeedSubject
	Page       int
	generation uint64
}

// Paginator tracks cursor state for one paginated collection.
//
// At most one request is outstanding per generation; Reset starts a new
// generation so a slow response for the previous subject can never overwrite
// the fresh list.
type Paginator struct {
	mu         sync.Mutex
	pageSize   int
	subject    FeedSubject
	generation uint64
	loaded     int // last page applied; 0 before the first page
	inflight   bool
	hasMore    bool
}

func NewPaginator(pageSize int) *Paginator {
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	return &Paginator{pageSize: pageSize, hasMore: true}
}

func (p *Paginator) PageSize() int { return p.pageSize }

// Reset switches subject and returns to page 1 with an empty collection.
func (p *Paginator) Reset(subject FeedSubject) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.subject = subject
	p.generation++
	p.loaded = 0
	p.inflight = false
	p.hasMore = true
}

// Request reserves page n. It returns false while another request of the
// current generation is outstanding.
func (p *Paginator) Request(n int) (Ticket, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.inflight || n < 1 {
		return Ticket{}, false
	}
	p.inflight = true
	return Ticket{Subject: p.subject, Page: n, generation: p.generation}, true
}

// Next reserves the page after the last applied one, if there is more to load.
func (p *Paginator) Next() (Ticket, bool) {
	p.mu.Lock()
	if !p.hasMore {
		p.mu.Unlock()
		return Ticket{}, false
	}
	next := p.loaded + 1
	p.mu.Unlock()
	return p.Request(next)
}

// Complete records the response for t. It reports false when t is stale and
// the response must be dropped.
func (p *Paginator) Complete(t Ticket, returned, totalPages int) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if t.generation != p.generation {
		return false
	}
	p.inflight = false
	p.loaded = t.Page
	if totalPages > 0 {
		p.hasMore = t.Page < totalPages
	} else {
		p.hasMore = returned == p.pageSize
	}
	return true
}

// Fail releases t without changing the collection state.
func (p *Paginator) Fail(t Ticket) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if t.generation == p.generation {
		p.inflight = false
	}
}

// Current reports whether t still belongs to the active generation.
func (p *Paginator) Current(t Ticket) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return t.generation == p.generation
}

func (p *Paginator) HasMore() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.hasMore
}

func (p *Paginator) Page() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.loaded
}

func (p *Paginator) Subject() FeedSubject {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.subject
}

func (p *Paginator) Outstanding() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.inflight
}
