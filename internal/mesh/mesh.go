package mesh

import (
	"log/slog"
	"maps"
	"slices"

	"github.com/pion/webrtc/v4"
)

// Config wires a Mesh to its collaborators. Renderer, Observer and Logger
// are optional.
type Config struct {
	LocalID  string
	Signaler Signaler
	NewConn  ConnFactory
	Renderer Renderer
	Observer Observer
	Logger   *slog.Logger
}

// Mesh owns one Link per remote participant and the set of local tracks
// every link sends. Its methods must be called on the event loop.
type Mesh struct {
	localID  string
	signaler Signaler
	newConn  ConnFactory
	renderer Renderer
	observer Observer
	sched    Scheduler
	log      *slog.Logger

	known  map[string]Participant
	member bool
	links  map[string]*Link
	tracks map[webrtc.RTPCodecType]webrtc.TrackLocal
}

// LinkStatus is a snapshot of one link for display.
type LinkStatus struct {
	RemoteID   string
	Name       string
	State      State
	Connection webrtc.PeerConnectionState
	Offers     int
	Err        error
}

func NewMesh(cfg Config, sched Scheduler) (*Mesh, error) {
	if cfg.LocalID == "" {
		return nil, ErrNoLocalID
	}
	m := &Mesh{
		localID:  cfg.LocalID,
		signaler: cfg.Signaler,
		newConn:  cfg.NewConn,
		renderer: cfg.Renderer,
		observer: cfg.Observer,
		sched:    sched,
		log:      cfg.Logger,
		known:    make(map[string]Participant),
		links:    make(map[string]*Link),
		tracks:   make(map[webrtc.RTPCodecType]webrtc.TrackLocal),
	}
	if m.renderer == nil {
		m.renderer = nopRenderer{}
	}
	if m.observer == nil {
		m.observer = nopObserver{}
	}
	if m.log == nil {
		m.log = slog.Default()
	}
	m.log = m.log.With("component", "mesh", "local", m.localID)
	return m, nil
}

func (m *Mesh) LocalID() string { return m.localID }

// Link returns the link to remoteID, or nil.
func (m *Mesh) Link(remoteID string) *Link { return m.links[remoteID] }

// Links returns every link ordered by remote id.
func (m *Mesh) Links() []*Link {
	out := make([]*Link, 0, len(m.links))
	for _, id := range slices.Sorted(maps.Keys(m.links)) {
		out = append(out, m.links[id])
	}
	return out
}

func (m *Mesh) Status() []LinkStatus {
	out := make([]LinkStatus, 0, len(m.links))
	for _, l := range m.Links() {
		out = append(out, LinkStatus{
			RemoteID:   l.remoteID,
			Name:       m.known[l.remoteID].Name,
			State:      l.state,
			Connection: l.connState,
			Offers:     l.offers,
			Err:        l.lastErr,
		})
	}
	return out
}

// ApplyRoster reconciles links with a roster snapshot. Links to departed ids
// close; newcomers get a link, and are dialed only by participants that were
// already in the room. A participant joining never dials, so each pair
// negotiates once.
func (m *Mesh) ApplyRoster(roster []Participant) {
	next := make(map[string]Participant, len(roster))
	for _, p := range roster {
		next[p.ID] = p
	}
	dial := m.member

	for _, id := range slices.Sorted(maps.Keys(m.links)) {
		if _, ok := next[id]; !ok {
			m.log.Info("participant left", "remote", id)
			m.dropLink(id)
		}
	}

	for _, id := range slices.Sorted(maps.Keys(next)) {
		if id == m.localID {
			continue
		}
		if _, ok := m.links[id]; ok {
			continue
		}
		_, known := m.known[id]

		l, err := m.ensureLink(id)
		if err != nil {
			m.log.Error("link not created", "error", err)
			continue
		}
		m.log.Info("participant joined", "remote", id, "name", next[id].Name, "dial", dial && !known)
		if dial && !known {
			l.negotiationNeeded()
		}
	}

	m.known = next
	_, m.member = next[m.localID]
	m.observer.RosterChanged(sortedRoster(roster))
}

// Roster returns the last applied snapshot ordered by id.
func (m *Mesh) Roster() []Participant {
	return sortedRoster(slices.Collect(maps.Values(m.known)))
}

func sortedRoster(roster []Participant) []Participant {
	out := slices.Clone(roster)
	slices.SortFunc(out, func(a, b Participant) int {
		switch {
		case a.ID < b.ID:
			return -1
		case a.ID > b.ID:
			return 1
		}
		return 0
	})
	return out
}

func (m *Mesh) ensureLink(remoteID string) (*Link, error) {
	if l, ok := m.links[remoteID]; ok {
		return l, nil
	}
	l := newLink(m, remoteID)
	if err := l.open(); err != nil {
		return nil, NewError("create link", remoteID, err)
	}
	m.links[remoteID] = l
	return l, nil
}

func (m *Mesh) dropLink(remoteID string) {
	l, ok := m.links[remoteID]
	if !ok {
		return
	}
	delete(m.links, remoteID)
	l.Close()
	m.renderer.Release(remoteID)
}

// AddTrack sends track to every current and future link.
func (m *Mesh) AddTrack(track webrtc.TrackLocal) {
	m.tracks[track.Kind()] = track
	for _, l := range m.Links() {
		l.AddTrack(track)
	}
}

func (m *Mesh) ReplaceTrack(kind webrtc.RTPCodecType, track webrtc.TrackLocal) {
	if track.Kind() != kind {
		m.log.Warn("replacement track kind mismatch", "want", kind, "got", track.Kind())
		return
	}
	m.tracks[kind] = track
	for _, l := range m.Links() {
		l.ReplaceTrack(kind, track)
	}
}

func (m *Mesh) RemoveTrack(kind webrtc.RTPCodecType) {
	if _, ok := m.tracks[kind]; !ok {
		return
	}
	delete(m.tracks, kind)
	for _, l := range m.Links() {
		l.RemoveTrack(kind)
	}
}

// HandleOffer routes an offer to its link, creating the link if the roster
// has not announced the caller yet.
func (m *Mesh) HandleOffer(from string, sdp webrtc.SessionDescription) {
	if from == m.localID {
		return
	}
	l, err := m.ensureLink(from)
	if err != nil {
		m.log.Error("link not created", "error", err)
		return
	}
	l.ApplyRemoteDescription(sdp)
}

func (m *Mesh) HandleAnswer(from string, sdp webrtc.SessionDescription) {
	l, ok := m.links[from]
	if !ok {
		m.log.Debug("answer for unknown link dropped", "remote", from)
		return
	}
	l.ApplyRemoteDescription(sdp)
}

func (m *Mesh) HandleCandidate(from string, candidate webrtc.ICECandidateInit) {
	l, ok := m.links[from]
	if !ok {
		m.log.Debug("candidate for unknown link dropped", "remote", from)
		return
	}
	l.EnqueueRemoteCandidate(candidate)
}

// Close releases every link.
func (m *Mesh) Close() {
	for _, id := range slices.Sorted(maps.Keys(m.links)) {
		m.dropLink(id)
	}
	m.member = false
}

// callbacks binds Conn events to the link's epoch and moves them onto the
// event loop.
func (m *Mesh) callbacks(l *Link, epoch uint64) Callbacks {
	live := func() bool { return !l.discarded && l.epoch == epoch }

	return Callbacks{
		OnICECandidate: func(c webrtc.ICECandidateInit) {
			m.sched.Post(func() {
				if live() {
					l.sendCandidate(c)
				}
			})
		},
		OnTrack: func(track RemoteTrack) {
			m.sched.Post(func() {
				if !live() {
					return
				}
				m.log.Info("remote track", "remote", l.remoteID, "kind", track.Kind(), "codec", track.Codec().MimeType)
				switch track.Kind() {
				case webrtc.RTPCodecTypeAudio:
					m.renderer.AttachAudio(l.remoteID, track)
				case webrtc.RTPCodecTypeVideo:
					m.renderer.ShowScreen(l.remoteID, track)
				}
			})
		},
		OnConnectionState: func(s webrtc.PeerConnectionState) {
			m.sched.Post(func() {
				if !live() {
					return
				}
				l.connState = s
				m.observer.ConnectionStateChanged(l.remoteID, s)
			})
		},
	}
}
