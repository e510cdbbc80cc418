package mesh

import (
	"maps"
	"slices"

	"github.com/pion/webrtc/v4"
)

type role int

const (
	roleNone role = iota
	roleOfferer
	roleResponder
)

// Link is the connection to one remote participant. Its methods must be
// called on the event loop.
type Link struct {
	m        *Mesh
	remoteID string

	conn Conn
	exec Executor

	// epoch changes whenever conn is replaced or released; round changes
	// with every offer/answer exchange. Completions carry both and are
	// dropped when either moved on.
	epoch uint64
	round uint64

	state State
	role  role

	tracks map[webrtc.RTPCodecType]webrtc.TrackLocal

	remoteSet  bool
	candidates []webrtc.ICECandidateInit

	// DTLS fingerprint of the last remote description applied in this
	// epoch. An offer carrying another one comes from a replaced connection.
	remoteFingerprint string

	// Local candidates wait until a description went out in this epoch.
	described bool
	outgoing  []webrtc.ICECandidateInit

	pending   bool
	scheduled bool
	discarded bool

	offers    int
	connState webrtc.PeerConnectionState
	lastErr   error
}

func newLink(m *Mesh, remoteID string) *Link {
	return &Link{
		m:        m,
		remoteID: remoteID,
		state:    Closed,
		tracks:   maps.Clone(m.tracks),
	}
}

func (l *Link) RemoteID() string { return l.remoteID }

func (l *Link) State() State { return l.state }

// Offers counts offers sent over the link's lifetime.
func (l *Link) Offers() int { return l.offers }

// Buffered reports remote candidates held until a remote description lands.
func (l *Link) Buffered() int { return len(l.candidates) }

// Err returns the failure that last closed the link, if any.
func (l *Link) Err() error { return l.lastErr }

// open creates a fresh Conn and attaches the link's current tracks to it
// without triggering negotiation.
func (l *Link) open() error {
	l.epoch++
	epoch := l.epoch

	conn, err := l.m.newConn(l.remoteID, l.m.callbacks(l, epoch))
	if err != nil {
		return err
	}

	l.conn = conn
	l.exec = l.m.sched.Serial()
	l.role = roleNone
	l.remoteSet = false
	l.remoteFingerprint = ""
	l.described = false
	l.candidates = nil
	l.outgoing = nil
	l.connState = webrtc.PeerConnectionStateNew

	for _, kind := range slices.Sorted(maps.Keys(l.tracks)) {
		track := l.tracks[kind]
		l.do("add track", func(c Conn) error { return c.AddTrack(track) })
	}

	l.setState(Stable)
	return nil
}

// release closes the Conn. Queued work for it is dropped and callbacks
// still in flight become stale.
func (l *Link) release() {
	l.epoch++
	l.role = roleNone
	l.remoteSet = false
	l.remoteFingerprint = ""
	l.described = false
	l.candidates = nil
	l.outgoing = nil

	if l.conn == nil {
		return
	}
	conn := l.conn
	l.conn = nil
	l.exec.Stop()

	if err := conn.Close(); err != nil {
		l.m.log.Debug("close failed", "remote", l.remoteID, "error", err)
	}
}

func (l *Link) setState(s State) {
	if l.state == s {
		return
	}
	l.m.log.Debug("link state", "remote", l.remoteID, "from", l.state, "to", s)
	l.state = s
	l.m.observer.LinkStateChanged(l.remoteID, s)
}

func (l *Link) current(epoch, round uint64) bool {
	return !l.discarded && l.epoch == epoch && l.round == round
}

// do runs fn against the Conn on the link's executor. Failures are logged.
func (l *Link) do(op string, fn func(Conn) error) {
	if l.conn == nil {
		return
	}
	conn, epoch := l.conn, l.epoch
	l.exec.Do(func() {
		if err := fn(conn); err != nil {
			l.m.sched.Post(func() {
				if l.discarded || l.epoch != epoch {
					return
				}
				l.m.log.Warn("link operation failed", "remote", l.remoteID, "op", op, "error", err)
			})
		}
	})
}

// AddTrack attaches a local track and renegotiates. A track of a kind the
// link already sends replaces the existing one instead.
func (l *Link) AddTrack(track webrtc.TrackLocal) {
	if l.discarded {
		return
	}
	kind := track.Kind()
	if _, ok := l.tracks[kind]; ok {
		l.ReplaceTrack(kind, track)
		return
	}

	l.tracks[kind] = track
	l.do("add track", func(c Conn) error { return c.AddTrack(track) })
	l.negotiationNeeded()
}

// ReplaceTrack swaps the track of the given kind in place. The sender and
// its transceiver stay, so no renegotiation happens.
func (l *Link) ReplaceTrack(kind webrtc.RTPCodecType, track webrtc.TrackLocal) {
	if l.discarded {
		return
	}
	if track.Kind() != kind {
		l.m.log.Warn("replacement track kind mismatch", "remote", l.remoteID, "want", kind, "got", track.Kind())
		return
	}
	if _, ok := l.tracks[kind]; !ok {
		l.AddTrack(track)
		return
	}

	l.tracks[kind] = track
	l.do("replace track", func(c Conn) error { return c.ReplaceTrack(kind, track) })
}

// RemoveTrack detaches the track of the given kind and renegotiates.
func (l *Link) RemoveTrack(kind webrtc.RTPCodecType) {
	if l.discarded {
		return
	}
	if _, ok := l.tracks[kind]; !ok {
		return
	}

	delete(l.tracks, kind)
	l.do("remove track", func(c Conn) error { return c.RemoveTrack(kind) })
	l.negotiationNeeded()
}

// ApplyRemoteDescription feeds an offer or answer from the remote into the
// negotiation state machine.
func (l *Link) ApplyRemoteDescription(sdp webrtc.SessionDescription) {
	switch sdp.Type {
	case webrtc.SDPTypeOffer:
		l.onOffer(sdp)
	case webrtc.SDPTypeAnswer:
		l.onAnswer(sdp)
	default:
		l.m.log.Warn("ignoring remote description", "remote", l.remoteID, "type", sdp.Type)
	}
}

// EnqueueRemoteCandidate applies a remote candidate, or buffers it until a
// remote description has been applied.
func (l *Link) EnqueueRemoteCandidate(candidate webrtc.ICECandidateInit) {
	if l.discarded || l.state == Closed {
		l.m.log.Debug("candidate for closed link dropped", "remote", l.remoteID)
		return
	}
	if !l.remoteSet {
		l.candidates = append(l.candidates, candidate)
		return
	}
	l.addCandidate(candidate)
}

func (l *Link) addCandidate(candidate webrtc.ICECandidateInit) {
	conn, epoch := l.conn, l.epoch
	l.exec.Do(func() {
		err := conn.AddICECandidate(candidate)
		if err == nil {
			return
		}
		l.m.sched.Post(func() {
			if l.discarded || l.epoch != epoch {
				return
			}
			l.m.log.Warn("candidate not applied", "error", WrapError("add candidate", l.remoteID, ErrIceAdditionFailed, err))
		})
	})
}

func (l *Link) flushCandidates() {
	buffered := l.candidates
	l.candidates = nil
	for _, c := range buffered {
		l.addCandidate(c)
	}
}

func (l *Link) sendCandidate(candidate webrtc.ICECandidateInit) {
	if !l.described {
		l.outgoing = append(l.outgoing, candidate)
		return
	}
	if err := l.m.signaler.SendCandidate(l.remoteID, candidate); err != nil {
		l.m.log.Warn("candidate not sent", "remote", l.remoteID, "error", err)
	}
}

// markDescribed releases local candidates gathered before the first
// description went out.
func (l *Link) markDescribed() {
	if l.described {
		return
	}
	l.described = true
	held := l.outgoing
	l.outgoing = nil
	for _, c := range held {
		l.sendCandidate(c)
	}
}

// fail closes the link after an unrecoverable negotiation error. The link
// stays in the mesh and is rebuilt on the next trigger or incoming offer.
func (l *Link) fail(op string, kind, cause error) {
	err := WrapError(op, l.remoteID, kind, cause)
	l.m.log.Warn("link closed", "error", err)
	l.lastErr = err
	l.pending = false
	l.release()
	l.setState(Closed)
}

// restart swaps the Conn for a fresh one and offers from it. The remote
// sees the new fingerprint and replaces its side too.
func (l *Link) restart() {
	l.pending = false
	if l.reopen() {
		l.negotiationNeeded()
	}
}

// reopen replaces the Conn, closing the link when a new one cannot be made.
func (l *Link) reopen() bool {
	l.m.log.Info("replacing connection", "remote", l.remoteID)
	l.release()
	if err := l.open(); err != nil {
		l.fail("reopen", ErrRemoteDescriptionRejected, err)
		return false
	}
	return true
}

// Close releases the link for good. It is safe to call more than once.
func (l *Link) Close() {
	if l.discarded {
		return
	}
	l.discarded = true
	l.pending = false
	l.release()
	l.setState(Closed)
}
