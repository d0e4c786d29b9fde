package router

import "sync"

// Pending maps the client id of every unacknowledged send to its
// conversation. Entries leave only through a matching message:sent ack or
// Drain.
type Pending struct {
	mu   sync.Mutex
	byID map[string]string
}

func NewPending() *Pending {
	return &Pending{byID: make(map[string]string)}
}

func (p *Pending) Track(clientID, conversationID string) {
	p.mu.Lock()
	p.byID[clientID] = conversationID
	p.mu.Unlock()
}

// Resolve removes clientID and returns the conversation it was sent to.
func (p *Pending) Resolve(clientID string) (string, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	conv, ok := p.byID[clientID]
	delete(p.byID, clientID)
	return conv, ok
}

// Drain removes and returns every outstanding entry.
func (p *Pending) Drain() map[string]string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := p.byID
	p.byID = make(map[string]string)
	return out
}

func (p *Pending) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.byID)
}
