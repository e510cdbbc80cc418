package media

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/pion/interceptor"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media/oggwriter"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMain(m *testing.M) {
	fmt.Println("\nSTART UNIT TEST 'media'")

	m.Run()

	fmt.Println("END UNIT TEST 'media'")
}

type fakeTarget struct {
	mu    sync.Mutex
	calls []string
}

func (f *fakeTarget) record(op string, kind webrtc.RTPCodecType) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, op+":"+kind.String())
}

func (f *fakeTarget) AddTrack(track webrtc.TrackLocal) { f.record("add", track.Kind()) }

func (f *fakeTarget) ReplaceTrack(kind webrtc.RTPCodecType, _ webrtc.TrackLocal) {
	f.record("replace", kind)
}

func (f *fakeTarget) RemoveTrack(kind webrtc.RTPCodecType) { f.record("remove", kind) }

func (f *fakeTarget) snapshot() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

type fakeCapturer struct {
	mu     sync.Mutex
	denied map[string]bool
	opened []*Capture
}

func (f *fakeCapturer) Microphones() ([]Source, error) {
	return []Source{{ID: "mic-a", Kind: webrtc.RTPCodecTypeAudio}, {ID: "mic-b", Kind: webrtc.RTPCodecTypeAudio}}, nil
}

func (f *fakeCapturer) ScreenSources() ([]Source, error) {
	return []Source{{ID: "window", Kind: webrtc.RTPCodecTypeVideo}}, nil
}

func (f *fakeCapturer) open(kind webrtc.RTPCodecType, id string, mime string) (*Capture, error) {
	if f.denied[id] {
		return nil, &AcquisitionError{Kind: kind, Source: id, Err: ErrPermissionDenied}
	}
	if id == "missing" {
		return nil, ErrDeviceNotFound
	}
	track, err := webrtc.NewTrackLocalStaticSample(webrtc.RTPCodecCapability{MimeType: mime}, id, "test")
	if err != nil {
		return nil, err
	}
	c := NewCapture(Source{ID: id, Kind: kind}, track)

	f.mu.Lock()
	f.opened = append(f.opened, c)
	f.mu.Unlock()
	return c, nil
}

func (f *fakeCapturer) OpenMicrophone(_ context.Context, id string) (*Capture, error) {
	return f.open(webrtc.RTPCodecTypeAudio, id, webrtc.MimeTypeOpus)
}

func (f *fakeCapturer) OpenScreen(_ context.Context, id string) (*Capture, error) {
	return f.open(webrtc.RTPCodecTypeVideo, id, webrtc.MimeTypeVP8)
}

func (f *fakeCapturer) last() *Capture {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.opened[len(f.opened)-1]
}

func closed(ch <-chan struct{}) bool {
	select {
	case <-ch:
		return true
	default:
		return false
	}
}

func TestStartMicrophoneSwitchesInPlace(t *testing.T) {
	asserts := assert.New(t)
	capturer := &fakeCapturer{}
	target := &fakeTarget{}
	m := NewManager(capturer, target)

	require.NoError(t, m.StartMicrophone(context.Background(), "mic-a"))
	first := capturer.last()

	require.NoError(t, m.StartMicrophone(context.Background(), "mic-b"))

	asserts.Equal([]string{"add:audio", "replace:audio"}, target.snapshot())
	asserts.True(closed(first.Done()), "the previous capture is released")

	src, ok := m.Active(webrtc.RTPCodecTypeAudio)
	asserts.True(ok)
	asserts.Equal("mic-b", src.ID)

	// The replaced capture ending must not tear down the new one.
	time.Sleep(20 * time.Millisecond)
	asserts.Equal([]string{"add:audio", "replace:audio"}, target.snapshot())
}

func TestStopRemovesTrackOnce(t *testing.T) {
	asserts := assert.New(t)
	capturer := &fakeCapturer{}
	target := &fakeTarget{}
	m := NewManager(capturer, target)

	require.NoError(t, m.StartScreenShare(context.Background(), "window"))
	m.Stop(webrtc.RTPCodecTypeVideo)
	m.Stop(webrtc.RTPCodecTypeVideo)

	time.Sleep(20 * time.Millisecond)
	asserts.Equal([]string{"add:video", "remove:video"}, target.snapshot())
	asserts.True(closed(capturer.last().Done()))

	_, ok := m.Active(webrtc.RTPCodecTypeVideo)
	asserts.False(ok)
}

func TestSourceEndingTearsDownShare(t *testing.T) {
	capturer := &fakeCapturer{}
	target := &fakeTarget{}
	m := NewManager(capturer, target)

	require.NoError(t, m.StartScreenShare(context.Background(), "window"))
	capturer.last().Stop()

	require.Eventually(t, func() bool {
		_, ok := m.Active(webrtc.RTPCodecTypeVideo)
		return !ok
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"add:video", "remove:video"}, target.snapshot())
}

func TestAcquisitionFailureLeavesNoState(t *testing.T) {
	asserts := assert.New(t)
	capturer := &fakeCapturer{denied: map[string]bool{"mic-a": true}}
	target := &fakeTarget{}
	m := NewManager(capturer, target)

	err := m.StartMicrophone(context.Background(), "mic-a")
	asserts.ErrorIs(err, ErrPermissionDenied)

	err = m.StartScreenShare(context.Background(), "missing")
	asserts.ErrorIs(err, ErrDeviceNotFound)
	var acq *AcquisitionError
	require.True(t, errors.As(err, &acq))
	asserts.Equal("missing", acq.Source)
	asserts.Equal(`failed to acquire screen "missing": device not found`, acq.Error())

	asserts.Empty(target.snapshot())
	_, ok := m.Active(webrtc.RTPCodecTypeAudio)
	asserts.False(ok)
}

func TestCancelledAcquisitionLeavesNoState(t *testing.T) {
	asserts := assert.New(t)
	dir := t.TempDir()
	writeOgg(t, filepath.Join(dir, "voice.ogg"))
	writeIVF(t, filepath.Join(dir, "desktop.ivf"), 3)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	target := &fakeTarget{}
	m := NewManager(NewDirCapturer(dir), target)

	err := m.StartMicrophone(ctx, "voice")
	asserts.ErrorIs(err, context.Canceled)
	var acq *AcquisitionError
	require.True(t, errors.As(err, &acq))
	asserts.Equal(webrtc.RTPCodecTypeAudio, acq.Kind)

	asserts.ErrorIs(m.StartScreenShare(ctx, "desktop"), context.Canceled)

	asserts.Empty(target.snapshot())
	_, ok := m.Active(webrtc.RTPCodecTypeAudio)
	asserts.False(ok)

	// A live context still opens the same source.
	require.NoError(t, m.StartMicrophone(context.Background(), "voice"))
	m.StopAll()
}

func writeOgg(t *testing.T, path string) {
	t.Helper()
	w, err := oggwriter.New(path, 48000, 2)
	require.NoError(t, err)
	for i := range 5 {
		require.NoError(t, w.WriteRTP(&rtp.Packet{
			Header:  rtp.Header{Timestamp: uint32(i * 960), SequenceNumber: uint16(i)},
			Payload: []byte{0xfc, 0xff, 0xfe},
		}))
	}
	require.NoError(t, w.Close())
}

func writeIVF(t *testing.T, path string, frames int) {
	t.Helper()
	header := make([]byte, 32)
	copy(header[0:4], "DKIF")
	binary.LittleEndian.PutUint16(header[6:8], 32)
	copy(header[8:12], "VP80")
	binary.LittleEndian.PutUint16(header[12:14], 640)
	binary.LittleEndian.PutUint16(header[14:16], 480)
	binary.LittleEndian.PutUint32(header[16:20], 100)
	binary.LittleEndian.PutUint32(header[20:24], 1)
	binary.LittleEndian.PutUint32(header[24:28], uint32(frames))

	out := header
	for i := range frames {
		frame := make([]byte, 12+4)
		binary.LittleEndian.PutUint32(frame[0:4], 4)
		binary.LittleEndian.PutUint64(frame[4:12], uint64(i))
		copy(frame[12:], []byte{0x10, 0x02, 0x00, 0x9d})
		out = append(out, frame...)
	}
	require.NoError(t, os.WriteFile(path, out, 0o644))
}

func TestDirCapturerListsSources(t *testing.T) {
	asserts := assert.New(t)
	dir := t.TempDir()
	writeOgg(t, filepath.Join(dir, "voice.ogg"))
	writeOgg(t, filepath.Join(dir, "alt.ogg"))
	writeIVF(t, filepath.Join(dir, "desktop.ivf"), 2)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0o644))

	d := NewDirCapturer(dir)
	mics, err := d.Microphones()
	require.NoError(t, err)
	asserts.Equal([]Source{
		{ID: "alt", Label: "alt.ogg", Kind: webrtc.RTPCodecTypeAudio},
		{ID: "voice", Label: "voice.ogg", Kind: webrtc.RTPCodecTypeAudio},
	}, mics)

	screens, err := d.ScreenSources()
	require.NoError(t, err)
	asserts.Equal([]Source{{ID: "desktop", Label: "desktop.ivf", Kind: webrtc.RTPCodecTypeVideo}}, screens)
}

func TestDirCapturerMicrophoneRunsUntilStopped(t *testing.T) {
	asserts := assert.New(t)
	dir := t.TempDir()
	writeOgg(t, filepath.Join(dir, "voice.ogg"))

	c, err := NewDirCapturer(dir).OpenMicrophone(context.Background(), "")
	require.NoError(t, err)
	asserts.Equal("voice", c.Source.ID)
	asserts.Equal(webrtc.RTPCodecTypeAudio, c.Track.Kind())

	// The file is far shorter than this; the microphone loops.
	time.Sleep(300 * time.Millisecond)
	asserts.False(closed(c.Done()))

	c.Stop()
	asserts.True(closed(c.Done()))
}

func TestDirCapturerScreenEndsAtEOF(t *testing.T) {
	dir := t.TempDir()
	writeIVF(t, filepath.Join(dir, "desktop.ivf"), 3)

	c, err := NewDirCapturer(dir).OpenScreen(context.Background(), "desktop")
	require.NoError(t, err)
	assert.Equal(t, webrtc.RTPCodecTypeVideo, c.Track.Kind())

	select {
	case <-c.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("screen capture did not end")
	}
}

func TestDirCapturerErrors(t *testing.T) {
	asserts := assert.New(t)
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "broken.ivf"), []byte("not a video"), 0o644))

	d := NewDirCapturer(dir)

	_, err := d.OpenMicrophone(context.Background(), "")
	asserts.ErrorIs(err, ErrDeviceNotFound)

	_, err = d.OpenScreen(context.Background(), "nope")
	asserts.ErrorIs(err, ErrDeviceNotFound)

	_, err = d.OpenScreen(context.Background(), "broken")
	asserts.ErrorIs(err, ErrUnsupportedFormat)

	_, err = NewDirCapturer(filepath.Join(dir, "absent")).OpenMicrophone(context.Background(), "")
	asserts.ErrorIs(err, ErrDeviceNotFound)
}

type fakeRemote struct {
	kind    webrtc.RTPCodecType
	mime    string
	packets chan *rtp.Packet
}

func newFakeRemote(kind webrtc.RTPCodecType, mime string) *fakeRemote {
	return &fakeRemote{kind: kind, mime: mime, packets: make(chan *rtp.Packet, 16)}
}

func (f *fakeRemote) ID() string                { return "remote" }
func (f *fakeRemote) StreamID() string          { return "stream" }
func (f *fakeRemote) Kind() webrtc.RTPCodecType { return f.kind }

func (f *fakeRemote) Codec() webrtc.RTPCodecParameters {
	return webrtc.RTPCodecParameters{RTPCodecCapability: webrtc.RTPCodecCapability{MimeType: f.mime, ClockRate: 48000, Channels: 2}}
}

func (f *fakeRemote) ReadRTP() (*rtp.Packet, interceptor.Attributes, error) {
	p, ok := <-f.packets
	if !ok {
		return nil, nil, io.EOF
	}
	return p, nil, nil
}

func TestPlaybackRecordsAudio(t *testing.T) {
	asserts := assert.New(t)
	dir := t.TempDir()
	p := NewPlayback(dir)

	track := newFakeRemote(webrtc.RTPCodecTypeAudio, webrtc.MimeTypeOpus)
	p.AttachAudio("alice", track)
	for i := range 3 {
		track.packets <- &rtp.Packet{Header: rtp.Header{Timestamp: uint32(i * 960)}, Payload: []byte{0xfc, 0xff, 0xfe}}
	}
	close(track.packets)

	require.Eventually(t, func() bool {
		st := p.Stats()
		return len(st) == 1 && !st[0].Active
	}, time.Second, 5*time.Millisecond)

	st := p.Stats()[0]
	asserts.Equal(uint64(3), st.Packets)
	asserts.Equal(filepath.Join(dir, "alice-audio.ogg"), st.File)
	asserts.FileExists(st.File)
}

func TestPlaybackScreenLastShareWins(t *testing.T) {
	asserts := assert.New(t)
	p := NewPlayback("")
	defer p.Close()

	alice := newFakeRemote(webrtc.RTPCodecTypeVideo, webrtc.MimeTypeVP8)
	bob := newFakeRemote(webrtc.RTPCodecTypeVideo, webrtc.MimeTypeVP8)

	p.ShowScreen("alice", alice)
	p.ShowScreen("bob", bob)

	owner, ok := p.Screen()
	asserts.True(ok)
	asserts.Equal("bob", owner)

	st := p.Stats()
	require.Len(t, st, 2)
	asserts.False(st[0].Active)
	asserts.True(st[1].Active)

	p.Release("alice")
	owner, _ = p.Screen()
	asserts.Equal("bob", owner)

	p.Release("bob")
	_, ok = p.Screen()
	asserts.False(ok)
}
