package signaling

import (
	"log/slog"
	"sync"
)

// Event is a roster or signaling frame. They share one channel so the
// relay's per-connection ordering survives routing.
type Event struct {
	Type      string
	Roster    []Participant
	Offer     *OfferPayload
	Answer    *AnswerPayload
	Candidate *CandidatePayload
}

// Handler routes incoming signaling frames to typed channels. Every channel
// is closed once the connection ends.
type Handler struct {
	client *Client

	Welcome chan string
	Events  chan *Event
	Chat    chan *Message
	Error   chan string

	closeOnce sync.Once
	log       *slog.Logger
}

// NewHandler creates a new frame router.
func NewHandler(client *Client) *Handler {
	return &Handler{
		client:  client,
		Welcome: make(chan string, 1),
		Events:  make(chan *Event, 128),
		Chat:    make(chan *Message, 64),
		Error:   make(chan string, 8),
		log:     slog.Default().With("component", "signaling"),
	}
}

// Start routes frames until the client's incoming channel closes.
func (h *Handler) Start() {
	defer h.close()

	for msg := range h.client.Incoming() {
		h.route(msg)
	}
}

func (h *Handler) route(msg *Message) {
	switch msg.Type {
	case MessageTypeWelcome:
		var w WelcomePayload
		if err := msg.Decode(&w); err != nil || w.ID == "" {
			h.Error <- "malformed welcome from relay"
			return
		}
		h.Welcome <- w.ID

	case MessageTypeUpdateUserList:
		var roster []Participant
		if err := msg.Decode(&roster); err != nil {
			h.log.Warn("malformed roster", "error", err)
			return
		}
		h.Events <- &Event{Type: msg.Type, Roster: roster}

	case MessageTypeOffer:
		var offer OfferPayload
		if err := msg.Decode(&offer); err != nil || offer.CallerID == "" {
			h.log.Warn("malformed offer", "error", err)
			return
		}
		h.Events <- &Event{Type: msg.Type, Offer: &offer}

	case MessageTypeAnswer:
		var answer AnswerPayload
		if err := msg.Decode(&answer); err != nil || answer.ResponderID == "" {
			h.log.Warn("malformed answer", "error", err)
			return
		}
		h.Events <- &Event{Type: msg.Type, Answer: &answer}

	case MessageTypeICECandidate:
		var cand CandidatePayload
		if err := msg.Decode(&cand); err != nil || cand.SenderID == "" {
			h.log.Warn("malformed ice candidate", "error", err)
			return
		}
		h.Events <- &Event{Type: msg.Type, Candidate: &cand}

	case MessageTypeChatMessage, MessageTypeHistory, MessageTypeMessageEdited,
		MessageTypeMessageDeleted, MessageTypeReactionUpdate:
		h.Chat <- msg

	case MessageTypeError:
		var e ErrorPayload
		if err := msg.Decode(&e); err != nil || e.Error == "" {
			h.Error <- "unknown error from relay"
			return
		}
		h.Error <- e.Error

	default:
		h.log.Debug("ignoring frame", "type", msg.Type)
	}
}

func (h *Handler) close() {
	h.closeOnce.Do(func() {
		close(h.Welcome)
		close(h.Events)
		close(h.Chat)
		close(h.Error)
	})
}
