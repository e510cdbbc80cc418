package signaling

import (
	"encoding/json"

	"github.com/pion/webrtc/v4"
)

// Message represents all WebSocket frames between the client and the relay.
type Message struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Message type constants.
const (
	MessageTypeJoin         = "join"
	MessageTypeLeave        = "leave"
	MessageTypeOffer        = "offer"
	MessageTypeAnswer       = "answer"
	MessageTypeICECandidate = "ice-candidate"

	MessageTypeWelcome        = "welcome"
	MessageTypeUpdateUserList = "updateUserList"
	MessageTypeError          = "error"

	MessageTypeChatMessage    = "chatMessage"
	MessageTypeGetHistory     = "getHistory"
	MessageTypeHistory        = "history"
	MessageTypeEditMessage    = "editMessage"
	MessageTypeMessageEdited  = "messageEdited"
	MessageTypeDeleteMessage  = "deleteMessage"
	MessageTypeMessageDeleted = "messageDeleted"
	MessageTypeReaction       = "reaction"
	MessageTypeReactionUpdate = "reactionUpdate"
)

// Participant is one roster entry as broadcast by the relay.
type Participant struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// WelcomePayload carries the connection id the relay assigned to us.
type WelcomePayload struct {
	ID string `json:"id"`
}

// OfferPayload is an offer as delivered by the relay.
type OfferPayload struct {
	SDP      webrtc.SessionDescription `json:"sdp"`
	CallerID string                    `json:"callerId"`
}

// AnswerPayload is an answer as delivered by the relay.
type AnswerPayload struct {
	SDP         webrtc.SessionDescription `json:"sdp"`
	ResponderID string                    `json:"responderId"`
}

// CandidatePayload is a trickled ICE candidate as delivered by the relay.
type CandidatePayload struct {
	Candidate webrtc.ICECandidateInit `json:"candidate"`
	SenderID  string                  `json:"senderId"`
}

// ErrorPayload represents error messages from the relay.
type ErrorPayload struct {
	Error string `json:"error"`
}

// ChatMessage is a chat log entry.
type ChatMessage struct {
	ID        int64      `json:"id"`
	User      string     `json:"user"`
	Text      string     `json:"text"`
	Type      string     `json:"type"`
	IsEdited  bool       `json:"isEdited,omitempty"`
	Reactions []Reaction `json:"reactions,omitempty"`
}

// Reaction is one emoji on a chat message.
type Reaction struct {
	Emoji string `json:"emoji"`
	User  string `json:"user"`
}

// EditedPayload announces a changed chat message.
type EditedPayload struct {
	ID   int64  `json:"id"`
	Text string `json:"text"`
}

type sdpRequest struct {
	Target string                    `json:"target"`
	SDP    webrtc.SessionDescription `json:"sdp"`
}

type candidateRequest struct {
	Target    string                  `json:"target"`
	Candidate webrtc.ICECandidateInit `json:"candidate"`
}

type chatRequest struct {
	Text string `json:"text"`
	Type string `json:"type"`
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

// Decode unmarshals the payload into v.
func (m *Message) Decode(v any) error {
	return json.Unmarshal(m.Payload, v)
}
