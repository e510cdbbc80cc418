package hub

import (
	"encoding/json"
)

// Message is the single frame shape on the relay socket, in both directions.
type Message struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`

	// Internal: the connection the message arrived on.
	client *Client `json:"-"`
}

// Event names on the wire.
const (
	EventWelcome        = "welcome"
	EventJoin           = "join"
	EventLeave          = "leave"
	EventUpdateUserList = "updateUserList"
	EventOffer          = "offer"
	EventAnswer         = "answer"
	EventICECandidate   = "ice-candidate"
	EventError          = "error"

	EventChatMessage    = "chatMessage"
	EventGetHistory     = "getHistory"
	EventHistory        = "history"
	EventEditMessage    = "editMessage"
	EventMessageEdited  = "messageEdited"
	EventDeleteMessage  = "deleteMessage"
	EventMessageDeleted = "messageDeleted"
	EventReaction       = "reaction"
	EventReactionUpdate = "reactionUpdate"
)

// Participant is one roster entry.
type Participant struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Envelope is a signaling message in transit between two connections.
// The hub never stores it.
type Envelope struct {
	Kind     string
	SourceID string
	TargetID string
	Payload  json.RawMessage
}

// forwardRequest is what a client sends for offer, answer and ice-candidate.
// Any source field the client adds is ignored.
type forwardRequest struct {
	Target    string          `json:"target"`
	SDP       json.RawMessage `json:"sdp,omitempty"`
	Candidate json.RawMessage `json:"candidate,omitempty"`
}

type welcomePayload struct {
	ID string `json:"id"`
}

type offerDelivery struct {
	SDP      json.RawMessage `json:"sdp"`
	CallerID string          `json:"callerId"`
}

type answerDelivery struct {
	SDP         json.RawMessage `json:"sdp"`
	ResponderID string          `json:"responderId"`
}

type candidateDelivery struct {
	Candidate json.RawMessage `json:"candidate"`
	SenderID  string          `json:"senderId"`
}

type errorPayload struct {
	Error string `json:"error"`
}

// NewMessage encodes payload into a frame of the given type.
func NewMessage(typ string, payload any) (*Message, error) {
	if payload == nil {
		return &Message{Type: typ}, nil
	}
	b, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return &Message{Type: typ, Payload: b}, nil
}

// delivery builds the frame the target receives, tagged with the true source.
func (e Envelope) delivery() (*Message, error) {
	switch e.Kind {
	case EventOffer:
		return NewMessage(e.Kind, offerDelivery{SDP: e.Payload, CallerID: e.SourceID})
	case EventAnswer:
		return NewMessage(e.Kind, answerDelivery{SDP: e.Payload, ResponderID: e.SourceID})
	case EventICECandidate:
		return NewMessage(e.Kind, candidateDelivery{Candidate: e.Payload, SenderID: e.SourceID})
	default:
		return nil, ErrUnknownEnvelope
	}
}
