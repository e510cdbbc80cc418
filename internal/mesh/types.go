package mesh

import (
	"github.com/pion/interceptor"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
)

// State is a link's negotiation state.
type State int

const (
	Stable State = iota
	Offering
	AnswerPending
	Closed
)

func (s State) String() string {
	switch s {
	case Stable:
		return "stable"
	case Offering:
		return "offering"
	case AnswerPending:
		return "answer-pending"
	case Closed:
		return "closed"
	default:
		return "unknown"
	}
}

// Participant is one roster entry.
type Participant struct {
	ID   string
	Name string
}

// RemoteTrack is the receiving side of a remote media track.
// *webrtc.TrackRemote satisfies it.
type RemoteTrack interface {
	ID() string
	StreamID() string
	Kind() webrtc.RTPCodecType
	Codec() webrtc.RTPCodecParameters
	ReadRTP() (*rtp.Packet, interceptor.Attributes, error)
}

// Callbacks are installed on a Conn when it is created. They may fire on
// any goroutine.
type Callbacks struct {
	OnICECandidate    func(webrtc.ICECandidateInit)
	OnTrack           func(RemoteTrack)
	OnConnectionState func(webrtc.PeerConnectionState)
}

// Conn is the RTC session handle behind a Link. Calls may block; the mesh
// issues them one at a time per link, off the event loop.
type Conn interface {
	AddTrack(track webrtc.TrackLocal) error
	ReplaceTrack(kind webrtc.RTPCodecType, track webrtc.TrackLocal) error
	RemoveTrack(kind webrtc.RTPCodecType) error

	// CreateOffer and CreateAnswer also apply the result as the local description.
	CreateOffer() (webrtc.SessionDescription, error)
	CreateAnswer() (webrtc.SessionDescription, error)

	SetRemoteDescription(sdp webrtc.SessionDescription) error

	// Rollback discards an unanswered local offer. It is a no-op when there
	// is none, and returns an error wrapping ErrRollbackRefused when the
	// offer cannot be withdrawn.
	Rollback() error

	AddICECandidate(candidate webrtc.ICECandidateInit) error
	Close() error
}

// ConnFactory creates the Conn for a remote participant.
type ConnFactory func(remoteID string, cb Callbacks) (Conn, error)

// Signaler sends envelopes through the relay.
type Signaler interface {
	SendOffer(target string, sdp webrtc.SessionDescription) error
	SendAnswer(target string, sdp webrtc.SessionDescription) error
	SendCandidate(target string, candidate webrtc.ICECandidateInit) error
}

// Renderer consumes remote media. Audio gets one sink per remote; video goes
// to a single shared screen viewport where the latest track wins.
type Renderer interface {
	AttachAudio(remoteID string, track RemoteTrack)
	ShowScreen(remoteID string, track RemoteTrack)
	Release(remoteID string)
}

// Observer is told about state worth showing to a user. Calls arrive on the
// event loop and must not block.
type Observer interface {
	RosterChanged(roster []Participant)
	LinkStateChanged(remoteID string, state State)
	ConnectionStateChanged(remoteID string, state webrtc.PeerConnectionState)
}

type nopRenderer struct{}

func (nopRenderer) AttachAudio(string, RemoteTrack) {}
func (nopRenderer) ShowScreen(string, RemoteTrack)  {}
func (nopRenderer) Release(string)                  {}

type nopObserver struct{}

func (nopObserver) RosterChanged([]Participant)                               {}
func (nopObserver) LinkStateChanged(string, State)                            {}
func (nopObserver) ConnectionStateChanged(string, webrtc.PeerConnectionState) {}
