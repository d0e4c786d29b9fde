package relay

import (
	"context"

	"go.uber.org/zap"

	"github.com/ageniuscoder/mmchat/realtime/internal/logging"
	"github.com/ageniuscoder/mmchat/realtime/internal/metrics"
)

func conversationRoom(id string) string { return "conversation:" + id }
func projectRoom(id string) string      { return "project:" + id }

type membership struct {
	client *Client
	room   string
}

type audience int

const (
	toClient audience = iota
	toRoom
	toMembers
	toAll
)

type delivery struct {
	audience audience
	client   *Client
	room     string
	conv     string
	frame    []byte
	except   *Client
}

type members struct {
	conv  string
	users []string
}

// Hub owns every connection and room. All state is touched only by Run, so
// it is the only writer to a client's send channel. Every channel is
// unbuffered: calls from one goroutine take effect in call order.
type Hub struct {
	register   chan *Client
	unregister chan *Client
	join       chan membership
	leave      chan membership
	addMembers chan members
	deliver    chan delivery
	done       chan struct{}

	// userID -> set of client connections (multi-tab / multi-device)
	clients map[string]map[*Client]bool
	rooms   map[string]map[*Client]bool
	// conversationID -> user ids that receive its messages
	members map[string]map[string]bool

	// onPresence runs on its own goroutine when a user's first connection
	// opens or last one closes.
	onPresence func(userID string, online bool)
	metrics    *metrics.Relay
	log        *zap.Logger
}

func NewHub(m *metrics.Relay, log *zap.Logger, onPresence func(string, bool)) *Hub {
	return &Hub{
		register:   make(chan *Client),
		unregister: make(chan *Client),
		join:       make(chan membership),
		leave:      make(chan membership),
		addMembers: make(chan members),
		deliver:    make(chan delivery),
		done:       make(chan struct{}),
		clients:    make(map[string]map[*Client]bool),
		rooms:      make(map[string]map[*Client]bool),
		members:    make(map[string]map[string]bool),
		onPresence: onPresence,
		metrics:    m,
		log:        logging.OrNop(log).Named("hub"),
	}
}

func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			for _, set := range h.clients {
				for c := range set {
					close(c.send)
				}
			}
			return
		case c := <-h.register:
			if h.clients[c.userID] == nil {
				h.clients[c.userID] = make(map[*Client]bool)
			}
			first := len(h.clients[c.userID]) == 0
			h.clients[c.userID][c] = true
			if h.metrics != nil {
				h.metrics.Connections.Inc()
			}
			if first {
				h.presence(c.userID, true)
			}
		case c := <-h.unregister:
			h.drop(c)
		case m := <-h.join:
			if h.rooms[m.room] == nil {
				h.rooms[m.room] = make(map[*Client]bool)
			}
			h.rooms[m.room][m.client] = true
			m.client.rooms[m.room] = true
		case m := <-h.leave:
			h.leaveRoom(m.client, m.room)
		case m := <-h.addMembers:
			set := h.members[m.conv]
			if set == nil {
				set = make(map[string]bool)
				h.members[m.conv] = set
			}
			for _, u := range m.users {
				set[u] = true
			}
		case d := <-h.deliver:
			h.fanout(d)
		}
	}
}

func (h *Hub) presence(userID string, online bool) {
	if h.onPresence != nil {
		go h.onPresence(userID, online)
	}
}

// drop removes c everywhere and closes its send channel once.
func (h *Hub) drop(c *Client) {
	set, ok := h.clients[c.userID]
	if !ok || !set[c] {
		return
	}
	delete(set, c)
	for room := range c.rooms {
		h.leaveRoom(c, room)
	}
	close(c.send)
	if h.metrics != nil {
		h.metrics.Connections.Dec()
	}
	if len(set) == 0 {
		delete(h.clients, c.userID)
		h.presence(c.userID, false)
	}
}

func (h *Hub) leaveRoom(c *Client, room string) {
	delete(c.rooms, room)
	if set, ok := h.rooms[room]; ok {
		delete(set, c)
		if len(set) == 0 {
			delete(h.rooms, room)
		}
	}
}

func (h *Hub) fanout(d delivery) {
	var targets []*Client
	switch d.audience {
	case toClient:
		targets = []*Client{d.client}
	case toRoom:
		for c := range h.rooms[d.room] {
			targets = append(targets, c)
		}
	case toMembers:
		seen := make(map[*Client]bool)
		for u := range h.members[d.conv] {
			for c := range h.clients[u] {
				seen[c] = true
			}
		}
		// live subscribers that never joined as members still see traffic
		for c := range h.rooms[conversationRoom(d.conv)] {
			seen[c] = true
		}
		for c := range seen {
			targets = append(targets, c)
		}
	case toAll:
		for _, set := range h.clients {
			for c := range set {
				targets = append(targets, c)
			}
		}
	}
	for _, c := range targets {
		if c == d.except || !h.clients[c.userID][c] {
			continue
		}
		select {
		case c.send <- d.frame:
		default:
			// slow/broken client → drop
			h.log.Warn("dropped slow client", zap.String("user_id", c.userID))
			h.drop(c)
		}
	}
}

func (h *Hub) Register(c *Client) bool {
	select {
	case h.register <- c:
		return true
	case <-h.done:
		return false
	}
}

func (h *Hub) Unregister(c *Client) bool {
	select {
	case h.unregister <- c:
		return true
	case <-h.done:
		return false
	}
}

func (h *Hub) Join(c *Client, room string) bool {
	select {
	case h.join <- membership{c, room}:
		return true
	case <-h.done:
		return false
	}
}

func (h *Hub) Leave(c *Client, room string) bool {
	select {
	case h.leave <- membership{c, room}:
		return true
	case <-h.done:
		return false
	}
}

// AddMembers makes users receive every message of conversation conv.
func (h *Hub) AddMembers(conv string, users ...string) bool {
	select {
	case h.addMembers <- members{conv, users}:
		return true
	case <-h.done:
		return false
	}
}

func (h *Hub) Send(c *Client, frame []byte) bool {
	return h.post(delivery{audience: toClient, client: c, frame: frame})
}

func (h *Hub) ToRoom(room string, frame []byte, except *Client) bool {
	return h.post(delivery{audience: toRoom, room: room, frame: frame, except: except})
}

func (h *Hub) ToMembers(conv string, frame []byte, except *Client) bool {
	return h.post(delivery{audience: toMembers, conv: conv, frame: frame, except: except})
}

func (h *Hub) ToAll(frame []byte, except *Client) bool {
	return h.post(delivery{audience: toAll, frame: frame, except: except})
}

func (h *Hub) post(d delivery) bool {
	select {
	case h.deliver <- d:
		return true
	case <-h.done:
		return false
	}
}
