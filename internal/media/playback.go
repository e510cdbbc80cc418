package media

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media/ivfwriter"
	"github.com/pion/webrtc/v4/pkg/media/oggwriter"

	"github.com/BioHazard786/meshcall/internal/mesh"
)

type rtpWriter interface {
	WriteRTP(packet *rtp.Packet) error
	Close() error
}

// SinkStats describes one remote track being consumed.
type SinkStats struct {
	RemoteID string
	Kind     webrtc.RTPCodecType
	Codec    string
	Packets  uint64
	Active   bool
	File     string
}

type sink struct {
	remoteID string
	kind     webrtc.RTPCodecType
	codec    string
	file     string

	mu      sync.Mutex
	writer  rtpWriter
	stopped atomic.Bool
	packets atomic.Uint64
}

func (s *sink) run(track mesh.RemoteTrack, log *slog.Logger) {
	defer s.stop()
	for {
		packet, _, err := track.ReadRTP()
		if err != nil {
			log.Debug("remote track ended", "remote", s.remoteID, "kind", s.kind, "error", err)
			return
		}
		if s.stopped.Load() {
			continue
		}
		s.packets.Add(1)

		s.mu.Lock()
		if s.writer != nil {
			if err := s.writer.WriteRTP(packet); err != nil {
				log.Warn("recording failed", "remote", s.remoteID, "kind", s.kind, "error", err)
				s.writer.Close()
				s.writer = nil
			}
		}
		s.mu.Unlock()
	}
}

func (s *sink) stop() {
	s.stopped.Store(true)
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.writer != nil {
		s.writer.Close()
		s.writer = nil
	}
}

func (s *sink) stats() SinkStats {
	return SinkStats{
		RemoteID: s.remoteID,
		Kind:     s.kind,
		Codec:    s.codec,
		Packets:  s.packets.Load(),
		Active:   !s.stopped.Load(),
		File:     s.file,
	}
}

// Playback consumes remote media: one audio sink per remote and a single
// screen viewport that the latest remote share takes over. With a record
// directory, audio goes to Ogg files and VP8 screens to IVF files.
type Playback struct {
	mu        sync.Mutex
	recordDir string
	audio     map[string]*sink
	screen    *sink
	history   []*sink
	log       *slog.Logger
}

func NewPlayback(recordDir string) *Playback {
	return &Playback{
		recordDir: recordDir,
		audio:     make(map[string]*sink),
		log:       slog.Default().With("component", "playback"),
	}
}

func (p *Playback) AttachAudio(remoteID string, track mesh.RemoteTrack) {
	s := p.newSink(remoteID, track)

	p.mu.Lock()
	old := p.audio[remoteID]
	p.audio[remoteID] = s
	p.history = append(p.history, s)
	p.mu.Unlock()

	if old != nil {
		old.stop()
	}
	go s.run(track, p.log)
}

func (p *Playback) ShowScreen(remoteID string, track mesh.RemoteTrack) {
	s := p.newSink(remoteID, track)

	p.mu.Lock()
	old := p.screen
	p.screen = s
	p.history = append(p.history, s)
	p.mu.Unlock()

	if old != nil {
		p.log.Info("screen viewport taken over", "from", old.remoteID, "to", remoteID)
		old.stop()
	}
	go s.run(track, p.log)
}

func (p *Playback) Release(remoteID string) {
	p.mu.Lock()
	audio := p.audio[remoteID]
	delete(p.audio, remoteID)
	var screen *sink
	if p.screen != nil && p.screen.remoteID == remoteID {
		screen = p.screen
		p.screen = nil
	}
	p.mu.Unlock()

	if audio != nil {
		audio.stop()
	}
	if screen != nil {
		screen.stop()
	}
}

// Screen returns the remote whose share holds the viewport.
func (p *Playback) Screen() (string, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.screen == nil || p.screen.stopped.Load() {
		return "", false
	}
	return p.screen.remoteID, true
}

// Stats lists every sink created during the session in creation order.
func (p *Playback) Stats() []SinkStats {
	p.mu.Lock()
	sinks := slices.Clone(p.history)
	p.mu.Unlock()

	out := make([]SinkStats, 0, len(sinks))
	for _, s := range sinks {
		out = append(out, s.stats())
	}
	return out
}

// Close stops every sink.
func (p *Playback) Close() {
	p.mu.Lock()
	sinks := slices.Clone(p.history)
	clear(p.audio)
	p.screen = nil
	p.mu.Unlock()

	for _, s := range sinks {
		s.stop()
	}
}

func (p *Playback) newSink(remoteID string, track mesh.RemoteTrack) *sink {
	s := &sink{remoteID: remoteID, kind: track.Kind(), codec: track.Codec().MimeType}
	if p.recordDir == "" {
		return s
	}

	w, file, err := p.openRecording(remoteID, track)
	if err != nil {
		p.log.Warn("recording disabled", "remote", remoteID, "kind", track.Kind(), "error", err)
		return s
	}
	s.writer, s.file = w, file
	return s
}

func (p *Playback) openRecording(remoteID string, track mesh.RemoteTrack) (rtpWriter, string, error) {
	if err := os.MkdirAll(p.recordDir, 0o755); err != nil {
		return nil, "", err
	}
	codec := track.Codec()

	switch {
	case track.Kind() == webrtc.RTPCodecTypeAudio && strings.EqualFold(codec.MimeType, webrtc.MimeTypeOpus):
		file := filepath.Join(p.recordDir, remoteID+"-audio.ogg")
		channels := codec.Channels
		if channels == 0 {
			channels = 2
		}
		rate := codec.ClockRate
		if rate == 0 {
			rate = 48000
		}
		w, err := oggwriter.New(file, rate, channels)
		return w, file, err

	case track.Kind() == webrtc.RTPCodecTypeVideo && strings.EqualFold(codec.MimeType, webrtc.MimeTypeVP8):
		file := filepath.Join(p.recordDir, "screen-"+remoteID+".ivf")
		w, err := ivfwriter.New(file)
		return w, file, err
	}
	return nil, "", fmt.Errorf("%w: %s", ErrUnsupportedFormat, codec.MimeType)
}
