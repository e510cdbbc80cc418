package rtc

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/pion/interceptor"
	"github.com/pion/interceptor/pkg/intervalpli"
	"github.com/pion/webrtc/v4"

	"github.com/BioHazard786/meshcall/internal/mesh"
)

// ErrNoSender is returned when replacing or removing a track that was never added.
var ErrNoSender = errors.New("no sender for track kind")

// Factory builds peer connections that share one pion API.
type Factory struct {
	api        *webrtc.API
	iceServers []webrtc.ICEServer
	log        *slog.Logger
}

// NewFactory registers the default codecs and interceptors, plus a periodic
// PLI so screen viewers recover from loss without waiting for a keyframe.
func NewFactory(stunURLs []string) (*Factory, error) {
	mediaEngine := &webrtc.MediaEngine{}
	if err := mediaEngine.RegisterDefaultCodecs(); err != nil {
		return nil, fmt.Errorf("failed to register codecs: %w", err)
	}

	interceptorRegistry := &interceptor.Registry{}
	if err := webrtc.RegisterDefaultInterceptors(mediaEngine, interceptorRegistry); err != nil {
		return nil, fmt.Errorf("failed to register default interceptors: %w", err)
	}

	pli, err := intervalpli.NewReceiverInterceptor()
	if err != nil {
		return nil, fmt.Errorf("failed to create PLI factory: %w", err)
	}
	interceptorRegistry.Add(pli)

	var servers []webrtc.ICEServer
	if len(stunURLs) > 0 {
		servers = []webrtc.ICEServer{{URLs: stunURLs}}
	}

	return &Factory{
		api: webrtc.NewAPI(
			webrtc.WithMediaEngine(mediaEngine),
			webrtc.WithInterceptorRegistry(interceptorRegistry),
		),
		iceServers: servers,
		log:        slog.Default().With("component", "rtc"),
	}, nil
}

// NewConn satisfies mesh.ConnFactory. Every connection receives audio and
// video from the start, so a remote can begin sending without this side
// adding tracks first.
func (f *Factory) NewConn(remoteID string, cb mesh.Callbacks) (mesh.Conn, error) {
	pc, err := f.api.NewPeerConnection(webrtc.Configuration{ICEServers: f.iceServers})
	if err != nil {
		return nil, fmt.Errorf("failed to create peer connection: %w", err)
	}

	for _, kind := range []webrtc.RTPCodecType{webrtc.RTPCodecTypeAudio, webrtc.RTPCodecTypeVideo} {
		if _, err := pc.AddTransceiverFromKind(kind, webrtc.RTPTransceiverInit{
			Direction: webrtc.RTPTransceiverDirectionRecvonly,
		}); err != nil {
			pc.Close()
			return nil, fmt.Errorf("failed to add %s transceiver: %w", kind, err)
		}
	}

	c := &Conn{
		pc:      pc,
		senders: make(map[webrtc.RTPCodecType]*webrtc.RTPSender),
		log:     f.log.With("remote", remoteID),
	}

	pc.OnICECandidate(func(candidate *webrtc.ICECandidate) {
		if candidate != nil && cb.OnICECandidate != nil {
			cb.OnICECandidate(candidate.ToJSON())
		}
	})

	pc.OnTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		if cb.OnTrack != nil {
			cb.OnTrack(track)
		}
	})

	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		c.log.Debug("connection state", "state", state)
		if cb.OnConnectionState != nil {
			cb.OnConnectionState(state)
		}
	})

	return c, nil
}

// Conn adapts a pion PeerConnection to mesh.Conn. Calls must not overlap.
type Conn struct {
	pc      *webrtc.PeerConnection
	senders map[webrtc.RTPCodecType]*webrtc.RTPSender
	log     *slog.Logger
}

func (c *Conn) AddTrack(track webrtc.TrackLocal) error {
	if _, ok := c.senders[track.Kind()]; ok {
		return c.ReplaceTrack(track.Kind(), track)
	}

	sender, err := c.pc.AddTrack(track)
	if err != nil {
		return fmt.Errorf("failed to add %s track: %w", track.Kind(), err)
	}
	c.senders[track.Kind()] = sender
	go drainRTCP(sender)
	return nil
}

func (c *Conn) ReplaceTrack(kind webrtc.RTPCodecType, track webrtc.TrackLocal) error {
	sender, ok := c.senders[kind]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNoSender, kind)
	}
	if err := sender.ReplaceTrack(track); err != nil {
		return fmt.Errorf("failed to replace %s track: %w", kind, err)
	}
	return nil
}

func (c *Conn) RemoveTrack(kind webrtc.RTPCodecType) error {
	sender, ok := c.senders[kind]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNoSender, kind)
	}
	delete(c.senders, kind)
	if err := c.pc.RemoveTrack(sender); err != nil {
		return fmt.Errorf("failed to remove %s track: %w", kind, err)
	}
	return nil
}

func (c *Conn) CreateOffer() (webrtc.SessionDescription, error) {
	offer, err := c.pc.CreateOffer(nil)
	if err != nil {
		return webrtc.SessionDescription{}, fmt.Errorf("failed to create offer: %w", err)
	}
	if err := c.pc.SetLocalDescription(offer); err != nil {
		return webrtc.SessionDescription{}, fmt.Errorf("failed to set local description: %w", err)
	}
	return offer, nil
}

func (c *Conn) CreateAnswer() (webrtc.SessionDescription, error) {
	answer, err := c.pc.CreateAnswer(nil)
	if err != nil {
		return webrtc.SessionDescription{}, fmt.Errorf("failed to create answer: %w", err)
	}
	if err := c.pc.SetLocalDescription(answer); err != nil {
		return webrtc.SessionDescription{}, fmt.Errorf("failed to set local description: %w", err)
	}
	return answer, nil
}

func (c *Conn) SetRemoteDescription(sdp webrtc.SessionDescription) error {
	return c.pc.SetRemoteDescription(sdp)
}

// Rollback withdraws an outstanding local offer. pion does not implement
// rollback, so a refusal surfaces as mesh.ErrRollbackRefused and the
// connection is left as it was.
func (c *Conn) Rollback() error {
	if c.pc.SignalingState() != webrtc.SignalingStateHaveLocalOffer {
		return nil
	}

	desc := webrtc.SessionDescription{Type: webrtc.SDPTypeRollback}
	if pending := c.pc.PendingLocalDescription(); pending != nil {
		desc.SDP = pending.SDP
	}
	if err := c.pc.SetLocalDescription(desc); err != nil {
		return fmt.Errorf("%w: %v", mesh.ErrRollbackRefused, err)
	}
	return nil
}

func (c *Conn) AddICECandidate(candidate webrtc.ICECandidateInit) error {
	return c.pc.AddICECandidate(candidate)
}

func (c *Conn) Close() error {
	return c.pc.Close()
}

func (c *Conn) SignalingState() webrtc.SignalingState {
	return c.pc.SignalingState()
}

// drainRTCP keeps interceptors fed; the reads end when the sender stops.
func drainRTCP(sender *webrtc.RTPSender) {
	buf := make([]byte, 1500)
	for {
		if _, _, err := sender.Read(buf); err != nil {
			return
		}
	}
}
