package mesh

import (
	"errors"
	"fmt"
	"io"
	"slices"
	"sync"
	"testing"

	"github.com/pion/interceptor"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
	"github.com/stretchr/testify/require"

	"github.com/BioHazard786/meshcall/internal/logging"
)

// manualScheduler runs the loop only when a test drains it. Executors run
// inline, so every Conn call completes before its handler returns.
type manualScheduler struct {
	queue []func()
}

func (s *manualScheduler) Post(fn func()) { s.queue = append(s.queue, fn) }

func (s *manualScheduler) Serial() Executor { return &inlineExecutor{} }

func (s *manualScheduler) drain(t *testing.T) {
	t.Helper()
	for i := 0; len(s.queue) > 0; i++ {
		require.Less(t, i, 10000, "event loop did not settle")
		fn := s.queue[0]
		s.queue = s.queue[1:]
		fn()
	}
}

type inlineExecutor struct {
	stopped bool
}

func (e *inlineExecutor) Do(fn func()) {
	if !e.stopped {
		fn()
	}
}

func (e *inlineExecutor) Stop() { e.stopped = true }

var errRejected = errors.New("rejected")

type fakeConn struct {
	mu sync.Mutex

	name string
	cb   Callbacks

	ops        []string
	tracks     map[webrtc.RTPCodecType]webrtc.TrackLocal
	remote     []webrtc.SessionDescription
	candidates []webrtc.ICECandidateInit

	offers, answers, rollbacks, closes int

	rejectRemote     bool
	rejectCandidates bool
	refuseRollback   bool
	emitCandidates   bool
}

func (c *fakeConn) record(op string) {
	c.ops = append(c.ops, op)
}

func (c *fakeConn) AddTrack(track webrtc.TrackLocal) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.record("add:" + track.Kind().String())
	c.tracks[track.Kind()] = track
	return nil
}

func (c *fakeConn) ReplaceTrack(kind webrtc.RTPCodecType, track webrtc.TrackLocal) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.record("replace:" + kind.String())
	c.tracks[kind] = track
	return nil
}

func (c *fakeConn) RemoveTrack(kind webrtc.RTPCodecType) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.record("remove:" + kind.String())
	delete(c.tracks, kind)
	return nil
}

func (c *fakeConn) CreateOffer() (webrtc.SessionDescription, error) {
	c.mu.Lock()
	c.offers++
	sdp := webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: fakeSDP(c.name, "offer", c.offers)}
	c.record("create-offer")
	c.mu.Unlock()

	c.gather()
	return sdp, nil
}

func (c *fakeConn) CreateAnswer() (webrtc.SessionDescription, error) {
	c.mu.Lock()
	c.answers++
	sdp := webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: fakeSDP(c.name, "answer", c.answers)}
	c.record("create-answer")
	c.mu.Unlock()

	c.gather()
	return sdp, nil
}

// fakeSDP is a minimal description whose fingerprint names the conn.
func fakeSDP(name, kind string, n int) string {
	return fmt.Sprintf("v=0\r\no=- %d 1 IN IP4 0.0.0.0\r\ns=%s %s\r\nt=0 0\r\na=fingerprint:sha-256 %s\r\n", n, name, kind, name)
}

func (c *fakeConn) gather() {
	if c.emitCandidates {
		c.cb.OnICECandidate(webrtc.ICECandidateInit{Candidate: "candidate:" + c.name})
	}
}

func (c *fakeConn) SetRemoteDescription(sdp webrtc.SessionDescription) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.rejectRemote {
		return errRejected
	}
	c.record("set-remote:" + sdp.Type.String())
	c.remote = append(c.remote, sdp)
	return nil
}

func (c *fakeConn) Rollback() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.rollbacks++
	c.record("rollback")
	if c.refuseRollback {
		return fmt.Errorf("%w: have-local-offer", ErrRollbackRefused)
	}
	return nil
}

func (c *fakeConn) AddICECandidate(candidate webrtc.ICECandidateInit) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.rejectCandidates {
		return errRejected
	}
	c.record("candidate:" + candidate.Candidate)
	c.candidates = append(c.candidates, candidate)
	return nil
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closes++
	return nil
}

type connView struct {
	ops        []string
	remote     []webrtc.SessionDescription
	candidates []webrtc.ICECandidateInit

	offers, answers, rollbacks, closes int
}

func (c *fakeConn) snapshot() connView {
	c.mu.Lock()
	defer c.mu.Unlock()
	return connView{
		ops:        slices.Clone(c.ops),
		remote:     slices.Clone(c.remote),
		candidates: slices.Clone(c.candidates),
		offers:     c.offers,
		answers:    c.answers,
		rollbacks:  c.rollbacks,
		closes:     c.closes,
	}
}

type fakeFactory struct {
	mu sync.Mutex

	local          string
	conns          map[string][]*fakeConn
	emitCandidates bool
	configure      func(n int, c *fakeConn)
}

func newFakeFactory(local string) *fakeFactory {
	return &fakeFactory{local: local, conns: make(map[string][]*fakeConn)}
}

func (f *fakeFactory) New(remoteID string, cb Callbacks) (Conn, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	c := &fakeConn{
		name:           fmt.Sprintf("%s->%s#%d", f.local, remoteID, len(f.conns[remoteID])+1),
		cb:             cb,
		tracks:         make(map[webrtc.RTPCodecType]webrtc.TrackLocal),
		emitCandidates: f.emitCandidates,
	}
	if f.configure != nil {
		f.configure(len(f.conns[remoteID]), c)
	}
	f.conns[remoteID] = append(f.conns[remoteID], c)
	return c, nil
}

func (f *fakeFactory) count(remoteID string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.conns[remoteID])
}

func (f *fakeFactory) latest(remoteID string) *fakeConn {
	f.mu.Lock()
	defer f.mu.Unlock()
	conns := f.conns[remoteID]
	if len(conns) == 0 {
		return nil
	}
	return conns[len(conns)-1]
}

type sent struct {
	kind      string
	target    string
	sdp       webrtc.SessionDescription
	candidate webrtc.ICECandidateInit
}

type fakeSignaler struct {
	mu   sync.Mutex
	sent []sent
}

func (s *fakeSignaler) add(e sent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, e)
	return nil
}

func (s *fakeSignaler) SendOffer(target string, sdp webrtc.SessionDescription) error {
	return s.add(sent{kind: "offer", target: target, sdp: sdp})
}

func (s *fakeSignaler) SendAnswer(target string, sdp webrtc.SessionDescription) error {
	return s.add(sent{kind: "answer", target: target, sdp: sdp})
}

func (s *fakeSignaler) SendCandidate(target string, c webrtc.ICECandidateInit) error {
	return s.add(sent{kind: "candidate", target: target, candidate: c})
}

func (s *fakeSignaler) filter(kind, target string) []sent {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []sent
	for _, e := range s.sent {
		if e.kind == kind && (target == "" || e.target == target) {
			out = append(out, e)
		}
	}
	return out
}

func (s *fakeSignaler) kinds() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []string
	for _, e := range s.sent {
		out = append(out, e.kind)
	}
	return out
}

func (s *fakeSignaler) last(kind string) sent {
	all := s.filter(kind, "")
	if len(all) == 0 {
		return sent{}
	}
	return all[len(all)-1]
}

type recordingRenderer struct {
	audio    []string
	screens  []string
	released []string
}

func (r *recordingRenderer) AttachAudio(id string, _ RemoteTrack) { r.audio = append(r.audio, id) }
func (r *recordingRenderer) ShowScreen(id string, _ RemoteTrack)  { r.screens = append(r.screens, id) }
func (r *recordingRenderer) Release(id string)                    { r.released = append(r.released, id) }

type recordingObserver struct {
	rosters [][]Participant
	states  []string
	conns   []webrtc.PeerConnectionState
}

func (o *recordingObserver) RosterChanged(r []Participant) { o.rosters = append(o.rosters, r) }

func (o *recordingObserver) LinkStateChanged(id string, s State) {
	o.states = append(o.states, id+":"+s.String())
}

func (o *recordingObserver) ConnectionStateChanged(_ string, s webrtc.PeerConnectionState) {
	o.conns = append(o.conns, s)
}

type fakeRemoteTrack struct {
	kind webrtc.RTPCodecType
}

func (t fakeRemoteTrack) ID() string       { return "track" }
func (t fakeRemoteTrack) StreamID() string { return "stream" }

func (t fakeRemoteTrack) Kind() webrtc.RTPCodecType { return t.kind }

func (t fakeRemoteTrack) Codec() webrtc.RTPCodecParameters {
	return webrtc.RTPCodecParameters{RTPCodecCapability: webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus}}
}

func (t fakeRemoteTrack) ReadRTP() (*rtp.Packet, interceptor.Attributes, error) {
	return nil, nil, io.EOF
}

type harness struct {
	mesh     *Mesh
	sched    *manualScheduler
	factory  *fakeFactory
	signaler *fakeSignaler
	renderer *recordingRenderer
	observer *recordingObserver
}

func newHarness(t *testing.T, localID string) *harness {
	t.Helper()
	h := &harness{
		sched:    &manualScheduler{},
		factory:  newFakeFactory(localID),
		signaler: &fakeSignaler{},
		renderer: &recordingRenderer{},
		observer: &recordingObserver{},
	}
	m, err := NewMesh(Config{
		LocalID:  localID,
		Signaler: h.signaler,
		NewConn:  h.factory.New,
		Renderer: h.renderer,
		Observer: h.observer,
		Logger:   logging.Discard(),
	}, h.sched)
	require.NoError(t, err)
	h.mesh = m
	return h
}

func (h *harness) drain(t *testing.T) { h.sched.drain(t) }

func roster(ids ...string) []Participant {
	out := make([]Participant, 0, len(ids))
	for _, id := range ids {
		out = append(out, Participant{ID: id, Name: "user-" + id})
	}
	return out
}

func audioTrack(t *testing.T, id string) webrtc.TrackLocal {
	t.Helper()
	track, err := webrtc.NewTrackLocalStaticSample(webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus}, id, "mic")
	require.NoError(t, err)
	return track
}

func videoTrack(t *testing.T, id string) webrtc.TrackLocal {
	t.Helper()
	track, err := webrtc.NewTrackLocalStaticSample(webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8}, id, "screen")
	require.NoError(t, err)
	return track
}
