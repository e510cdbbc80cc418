package mesh

import (
	"context"

	"github.com/pion/webrtc/v4"

	"github.com/BioHazard786/meshcall/internal/signaling"
)

// Session runs a Mesh on its own event loop. Its methods are safe for
// concurrent use; they enqueue work and return without waiting.
type Session struct {
	loop    *EventLoop
	mesh    *Mesh
	stopped chan struct{}
}

func NewSession(cfg Config) (*Session, error) {
	loop := NewEventLoop()
	m, err := NewMesh(cfg, loop)
	if err != nil {
		return nil, err
	}
	return &Session{loop: loop, mesh: m, stopped: make(chan struct{})}, nil
}

// Run processes events until ctx is done, then closes every link.
func (s *Session) Run(ctx context.Context) error {
	defer close(s.stopped)
	err := s.loop.Run(ctx)
	s.mesh.Close()
	return err
}

func (s *Session) LocalID() string { return s.mesh.localID }

// Do runs fn on the event loop and waits for it.
func (s *Session) Do(ctx context.Context, fn func(*Mesh)) error {
	done := make(chan struct{})
	s.loop.Post(func() {
		fn(s.mesh)
		close(done)
	})

	select {
	case <-done:
		return nil
	case <-s.stopped:
		return ErrSessionStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Session) Status(ctx context.Context) ([]LinkStatus, error) {
	var out []LinkStatus
	err := s.Do(ctx, func(m *Mesh) { out = m.Status() })
	return out, err
}

func (s *Session) ApplyRoster(roster []Participant) {
	s.loop.Post(func() { s.mesh.ApplyRoster(roster) })
}

func (s *Session) AddTrack(track webrtc.TrackLocal) {
	s.loop.Post(func() { s.mesh.AddTrack(track) })
}

func (s *Session) ReplaceTrack(kind webrtc.RTPCodecType, track webrtc.TrackLocal) {
	s.loop.Post(func() { s.mesh.ReplaceTrack(kind, track) })
}

func (s *Session) RemoveTrack(kind webrtc.RTPCodecType) {
	s.loop.Post(func() { s.mesh.RemoveTrack(kind) })
}

func (s *Session) HandleOffer(from string, sdp webrtc.SessionDescription) {
	s.loop.Post(func() { s.mesh.HandleOffer(from, sdp) })
}

func (s *Session) HandleAnswer(from string, sdp webrtc.SessionDescription) {
	s.loop.Post(func() { s.mesh.HandleAnswer(from, sdp) })
}

func (s *Session) HandleCandidate(from string, candidate webrtc.ICECandidateInit) {
	s.loop.Post(func() { s.mesh.HandleCandidate(from, candidate) })
}

// Serve feeds signaling events into the session in arrival order. It returns
// ErrSignalingClosed when the connection ends.
func (s *Session) Serve(ctx context.Context, h *signaling.Handler) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case ev, ok := <-h.Events:
			if !ok {
				return ErrSignalingClosed
			}
			s.dispatch(ev)
		}
	}
}

func (s *Session) dispatch(ev *signaling.Event) {
	switch ev.Type {
	case signaling.MessageTypeUpdateUserList:
		roster := make([]Participant, 0, len(ev.Roster))
		for _, p := range ev.Roster {
			roster = append(roster, Participant{ID: p.ID, Name: p.Name})
		}
		s.ApplyRoster(roster)
	case signaling.MessageTypeOffer:
		s.HandleOffer(ev.Offer.CallerID, ev.Offer.SDP)
	case signaling.MessageTypeAnswer:
		s.HandleAnswer(ev.Answer.ResponderID, ev.Answer.SDP)
	case signaling.MessageTypeICECandidate:
		s.HandleCandidate(ev.Candidate.SenderID, ev.Candidate.Candidate)
	}
}
