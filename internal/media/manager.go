package media

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/pion/webrtc/v4"
)

// Target receives local tracks. *mesh.Session satisfies it.
type Target interface {
	AddTrack(track webrtc.TrackLocal)
	ReplaceTrack(kind webrtc.RTPCodecType, track webrtc.TrackLocal)
	RemoveTrack(kind webrtc.RTPCodecType)
}

// Manager keeps at most one capture per kind and mirrors it onto the target.
type Manager struct {
	mu       sync.Mutex
	capturer Capturer
	target   Target
	active   map[webrtc.RTPCodecType]*Capture
	log      *slog.Logger
}

func NewManager(capturer Capturer, target Target) *Manager {
	return &Manager{
		capturer: capturer,
		target:   target,
		active:   make(map[webrtc.RTPCodecType]*Capture),
		log:      slog.Default().With("component", "media"),
	}
}

func (m *Manager) Microphones() ([]Source, error) { return m.capturer.Microphones() }

func (m *Manager) ScreenSources() ([]Source, error) { return m.capturer.ScreenSources() }

// StartMicrophone opens a microphone. Switching devices swaps the track on
// every link without renegotiating.
func (m *Manager) StartMicrophone(ctx context.Context, deviceID string) error {
	return m.start(ctx, webrtc.RTPCodecTypeAudio, deviceID, m.capturer.OpenMicrophone)
}

// StartScreenShare opens a screen source. When the source ends by itself
// the share is torn down as if Stop had been called.
func (m *Manager) StartScreenShare(ctx context.Context, sourceID string) error {
	return m.start(ctx, webrtc.RTPCodecTypeVideo, sourceID, m.capturer.OpenScreen)
}

func (m *Manager) start(ctx context.Context, kind webrtc.RTPCodecType, id string, open func(context.Context, string) (*Capture, error)) error {
	c, err := open(ctx, id)
	if err != nil {
		var acq *AcquisitionError
		if !errors.As(err, &acq) {
			err = &AcquisitionError{Kind: kind, Source: id, Err: err}
		}
		return err
	}

	m.mu.Lock()
	old := m.active[kind]
	m.active[kind] = c
	if old != nil {
		m.target.ReplaceTrack(kind, c.Track)
	} else {
		m.target.AddTrack(c.Track)
	}
	m.mu.Unlock()

	if old != nil {
		old.Stop()
	}
	m.log.Info("capture started", "kind", kind, "source", c.Source.ID)

	go m.watch(kind, c)
	return nil
}

func (m *Manager) watch(kind webrtc.RTPCodecType, c *Capture) {
	<-c.Done()

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.active[kind] != c {
		return
	}
	delete(m.active, kind)
	m.target.RemoveTrack(kind)
	m.log.Info("capture ended", "kind", kind, "source", c.Source.ID)
}

// Stop releases the capture of the given kind and removes its track.
func (m *Manager) Stop(kind webrtc.RTPCodecType) {
	m.mu.Lock()
	c, ok := m.active[kind]
	if ok {
		delete(m.active, kind)
		m.target.RemoveTrack(kind)
	}
	m.mu.Unlock()

	if ok {
		c.Stop()
	}
}

func (m *Manager) StopAll() {
	m.Stop(webrtc.RTPCodecTypeAudio)
	m.Stop(webrtc.RTPCodecTypeVideo)
}

// Active reports the running source of the given kind.
func (m *Manager) Active(kind webrtc.RTPCodecType) (Source, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.active[kind]
	if !ok {
		return Source{}, false
	}
	return c.Source, true
}
