package hub

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sort"
	"strings"
	"sync/atomic"

	"github.com/asaskevich/govalidator"
)

var (
	ErrUnknownEnvelope = errors.New("unknown envelope kind")
	ErrInvalidName     = errors.New("display name must be 1-32 characters")
	ErrNotJoined       = errors.New("join before chatting")
	ErrMessageNotFound = errors.New("message not found")
	ErrNotMessageOwner = errors.New("only the author can change a message")
	ErrMissingTarget   = errors.New("target is required")
)

const maxNameRunes = "32"

// Options configures a Hub.
type Options struct {
	// HistoryLimit caps the chat log; zero means 200.
	HistoryLimit int

	// History seeds the chat log, oldest first.
	History []ChatMessage

	// Mirror, when set, receives roster and chat snapshots.
	Mirror Mirror

	Logger *slog.Logger
}

// Hub owns the participant table. Every mutation happens on the Run
// goroutine; pumps talk to it over channels.
type Hub struct {
	// Register admits a freshly upgraded connection.
	Register chan *Client

	// Unregister removes a connection whose read pump ended.
	Unregister chan *Client

	// Inbound carries frames read from any connection.
	Inbound chan *Message

	clients map[string]*Client
	nextSeq uint64
	chat    *ChatStore
	mirror  Mirror
	roster  atomic.Pointer[[]Participant]
	done    chan struct{}
	log     *slog.Logger
}

// NewHub creates a new Hub instance.
func NewHub(opts Options) *Hub {
	if opts.HistoryLimit <= 0 {
		opts.HistoryLimit = 200
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	h := &Hub{
		Register:   make(chan *Client),
		Unregister: make(chan *Client),
		Inbound:    make(chan *Message, 64),
		clients:    make(map[string]*Client),
		chat:       NewChatStore(opts.HistoryLimit, opts.History),
		mirror:     opts.Mirror,
		done:       make(chan struct{}),
		log:        opts.Logger.With("component", "hub"),
	}
	empty := []Participant{}
	h.roster.Store(&empty)
	return h
}

// Run is the single goroutine that owns hub state. It returns when ctx ends;
// every remaining connection is then closed.
func (h *Hub) Run(ctx context.Context) {
	defer func() {
		close(h.done)
		for _, c := range h.clients {
			close(c.Send)
		}
		h.clients = map[string]*Client{}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case c := <-h.Register:
			h.register(c)
		case c := <-h.Unregister:
			h.disconnect(c)
		case msg := <-h.Inbound:
			h.handle(msg)
		}
	}
}

// Attach registers c with the running hub. It reports false once the hub
// has stopped.
func (h *Hub) Attach(c *Client) bool {
	select {
	case h.Register <- c:
		return true
	case <-h.done:
		return false
	}
}

// Roster returns the last broadcast roster. Safe from any goroutine.
func (h *Hub) Roster() []Participant {
	return append([]Participant(nil), *h.roster.Load()...)
}

func (h *Hub) submit(msg *Message) bool {
	select {
	case h.Inbound <- msg:
		return true
	case <-h.done:
		return false
	}
}

func (h *Hub) unregister(c *Client) {
	select {
	case h.Unregister <- c:
	case <-h.done:
	}
}

func (h *Hub) register(c *Client) {
	h.clients[c.ID] = c
	h.log.Debug("client registered", "client", c.ID)
	h.emit(c, EventWelcome, welcomePayload{ID: c.ID})
}

func (h *Hub) disconnect(c *Client) {
	if h.clients[c.ID] != c {
		return
	}
	delete(h.clients, c.ID)
	close(c.Send)

	h.log.Debug("client unregistered", "client", c.ID, "joined", c.joined)
	if c.joined {
		c.joined = false
		h.broadcastRoster()
	}
}

func (h *Hub) handle(msg *Message) {
	c := msg.client
	if c == nil || h.clients[c.ID] != c {
		return
	}

	switch msg.Type {
	case EventJoin:
		h.join(c, msg.Payload)
	case EventLeave:
		h.leave(c)
	case EventOffer, EventAnswer, EventICECandidate:
		h.relay(c, msg)
	case EventChatMessage, EventGetHistory, EventEditMessage, EventDeleteMessage, EventReaction:
		h.handleChat(c, msg)
	default:
		h.log.Debug("unknown message type", "client", c.ID, "type", msg.Type)
		h.fail(c, "unknown message type: "+msg.Type)
	}
}

// join records the display name and broadcasts the roster. Joining again on
// the same connection renames it.
func (h *Hub) join(c *Client, payload json.RawMessage) {
	var name string
	if err := json.Unmarshal(payload, &name); err != nil {
		h.fail(c, "join expects a display name string")
		return
	}

	name = strings.TrimSpace(name)
	if !govalidator.RuneLength(name, "1", maxNameRunes) {
		h.fail(c, ErrInvalidName.Error())
		return
	}

	if !c.joined {
		h.nextSeq++
		c.seq = h.nextSeq
	}
	c.Name = name
	c.joined = true

	h.log.Info("participant joined", "client", c.ID, "name", name)
	h.broadcastRoster()
}

func (h *Hub) leave(c *Client) {
	if !c.joined {
		return
	}
	c.joined = false
	c.Name = ""

	h.log.Info("participant left", "client", c.ID)
	h.broadcastRoster()
}

func (h *Hub) relay(c *Client, msg *Message) {
	var req forwardRequest
	if err := json.Unmarshal(msg.Payload, &req); err != nil {
		h.fail(c, "malformed "+msg.Type)
		return
	}
	if req.Target == "" {
		h.fail(c, ErrMissingTarget.Error())
		return
	}

	payload := req.SDP
	if msg.Type == EventICECandidate {
		payload = req.Candidate
	}

	h.Forward(Envelope{
		Kind:     msg.Type,
		SourceID: c.ID,
		TargetID: req.Target,
		Payload:  payload,
	})
}

// Forward delivers env to its target with the source id stamped by the hub.
// An absent target drops the envelope without reporting anything back.
// It must only be called from the Run goroutine.
func (h *Hub) Forward(env Envelope) {
	target, ok := h.clients[env.TargetID]
	if !ok {
		h.log.Debug("target gone, envelope dropped", "kind", env.Kind, "source", env.SourceID, "target", env.TargetID)
		return
	}

	msg, err := env.delivery()
	if err != nil {
		h.log.Warn("envelope not delivered", "kind", env.Kind, "error", err)
		return
	}

	h.send(target, msg)
}

func (h *Hub) participants() []*Client {
	var out []*Client
	for _, c := range h.clients {
		if c.joined {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].seq < out[j].seq })
	return out
}

func (h *Hub) broadcastRoster() {
	members := h.participants()

	roster := make([]Participant, 0, len(members))
	for _, c := range members {
		roster = append(roster, Participant{ID: c.ID, Name: c.Name})
	}
	h.roster.Store(&roster)

	msg, err := NewMessage(EventUpdateUserList, roster)
	if err != nil {
		h.log.Error("encode roster", "error", err)
		return
	}
	for _, c := range members {
		h.send(c, msg)
	}

	if h.mirror != nil {
		h.mirror.PublishRoster(h.Roster())
	}
}

func (h *Hub) broadcast(typ string, payload any) {
	msg, err := NewMessage(typ, payload)
	if err != nil {
		h.log.Error("encode broadcast", "type", typ, "error", err)
		return
	}
	for _, c := range h.participants() {
		h.send(c, msg)
	}
}

func (h *Hub) emit(c *Client, typ string, payload any) {
	msg, err := NewMessage(typ, payload)
	if err != nil {
		h.log.Error("encode message", "type", typ, "error", err)
		return
	}
	h.send(c, msg)
}

func (h *Hub) fail(c *Client, reason string) {
	h.emit(c, EventError, errorPayload{Error: reason})
}

// send never blocks the hub; a connection that cannot keep up loses frames.
func (h *Hub) send(c *Client, msg *Message) {
	select {
	case c.Send <- msg:
	default:
		h.log.Warn("send buffer full, frame dropped", "client", c.ID, "type", msg.Type)
	}
}
