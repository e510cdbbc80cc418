package media

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/pion/webrtc/v4"
	pionmedia "github.com/pion/webrtc/v4/pkg/media"
	"github.com/pion/webrtc/v4/pkg/media/ivfreader"
	"github.com/pion/webrtc/v4/pkg/media/oggreader"
)

const (
	oggPageDuration = 20 * time.Millisecond
	streamID        = "meshcall"
)

// Source is one capturable device or screen.
type Source struct {
	ID    string
	Label string
	Kind  webrtc.RTPCodecType
}

// Capture is an open source feeding a local track. Done closes when the
// capture is stopped or the source ends on its own.
type Capture struct {
	Source Source
	Track  webrtc.TrackLocal

	ctx    context.Context
	cancel context.CancelFunc
}

func NewCapture(src Source, track webrtc.TrackLocal) *Capture {
	ctx, cancel := context.WithCancel(context.Background())
	return &Capture{Source: src, Track: track, ctx: ctx, cancel: cancel}
}

func (c *Capture) Done() <-chan struct{} { return c.ctx.Done() }

// Stop ends the capture. It is safe to call more than once.
func (c *Capture) Stop() { c.cancel() }

// Capturer opens capture sources. The context bounds opening only; a
// returned Capture runs until it is stopped or its source ends.
type Capturer interface {
	Microphones() ([]Source, error)
	ScreenSources() ([]Source, error)
	OpenMicrophone(ctx context.Context, id string) (*Capture, error)
	OpenScreen(ctx context.Context, id string) (*Capture, error)
}

// DirCapturer serves files from a directory: Opus *.ogg files are
// microphones and loop forever, VP8/VP9/AV1 *.ivf files are screens and
// end at EOF like a window being closed.
type DirCapturer struct {
	dir string
	log *slog.Logger
}

func NewDirCapturer(dir string) *DirCapturer {
	return &DirCapturer{dir: dir, log: slog.Default().With("component", "capture")}
}

func (d *DirCapturer) Microphones() ([]Source, error) {
	return d.list(".ogg", webrtc.RTPCodecTypeAudio)
}

func (d *DirCapturer) ScreenSources() ([]Source, error) {
	return d.list(".ivf", webrtc.RTPCodecTypeVideo)
}

func (d *DirCapturer) list(ext string, kind webrtc.RTPCodecType) ([]Source, error) {
	entries, err := os.ReadDir(d.dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read media directory: %w", err)
	}

	var out []Source
	for _, e := range entries {
		if e.IsDir() || !strings.EqualFold(filepath.Ext(e.Name()), ext) {
			continue
		}
		out = append(out, Source{
			ID:    strings.TrimSuffix(e.Name(), filepath.Ext(e.Name())),
			Label: e.Name(),
			Kind:  kind,
		})
	}
	slices.SortFunc(out, func(a, b Source) int { return strings.Compare(a.ID, b.ID) })
	return out, nil
}

// resolve picks the source named id, or the first one when id is empty.
func (d *DirCapturer) resolve(id string, kind webrtc.RTPCodecType) (Source, error) {
	var (
		sources []Source
		err     error
	)
	if kind == webrtc.RTPCodecTypeAudio {
		sources, err = d.Microphones()
	} else {
		sources, err = d.ScreenSources()
	}
	if err != nil {
		return Source{}, &AcquisitionError{Kind: kind, Source: id, Err: classify(err)}
	}

	for _, s := range sources {
		if id == "" || s.ID == id {
			return s, nil
		}
	}
	return Source{}, &AcquisitionError{Kind: kind, Source: id, Err: ErrDeviceNotFound}
}

func classify(err error) error {
	switch {
	case errors.Is(err, fs.ErrPermission):
		return fmt.Errorf("%w: %v", ErrPermissionDenied, err)
	case errors.Is(err, fs.ErrNotExist):
		return fmt.Errorf("%w: %v", ErrDeviceNotFound, err)
	}
	return err
}

func (d *DirCapturer) OpenMicrophone(ctx context.Context, id string) (*Capture, error) {
	if err := ctx.Err(); err != nil {
		return nil, &AcquisitionError{Kind: webrtc.RTPCodecTypeAudio, Source: id, Err: err}
	}
	src, err := d.resolve(id, webrtc.RTPCodecTypeAudio)
	if err != nil {
		return nil, err
	}
	fail := func(err error) error {
		return &AcquisitionError{Kind: src.Kind, Source: src.ID, Err: err}
	}

	f, err := os.Open(filepath.Join(d.dir, src.Label))
	if err != nil {
		return nil, fail(classify(err))
	}
	reader, _, err := oggreader.NewWith(f)
	if err != nil {
		f.Close()
		return nil, fail(fmt.Errorf("%w: %v", ErrUnsupportedFormat, err))
	}

	track, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus}, "mic-"+src.ID, streamID)
	if err != nil {
		f.Close()
		return nil, fail(err)
	}

	if err := ctx.Err(); err != nil {
		f.Close()
		return nil, fail(err)
	}

	c := NewCapture(src, track)
	go d.streamOgg(c, track, f, reader)
	return c, nil
}

func (d *DirCapturer) streamOgg(c *Capture, track *webrtc.TrackLocalStaticSample, f *os.File, reader *oggreader.OggReader) {
	defer f.Close()

	ticker := time.NewTicker(oggPageDuration)
	defer ticker.Stop()

	var lastGranule uint64
	for {
		select {
		case <-c.Done():
			return
		case <-ticker.C:
		}

		page, header, err := reader.ParseNextPage()
		if errors.Is(err, io.EOF) {
			if _, err := f.Seek(0, io.SeekStart); err != nil {
				d.log.Warn("microphone rewind failed", "source", c.Source.ID, "error", err)
				c.Stop()
				return
			}
			if reader, _, err = oggreader.NewWith(f); err != nil {
				d.log.Warn("microphone reopen failed", "source", c.Source.ID, "error", err)
				c.Stop()
				return
			}
			lastGranule = 0
			continue
		}
		if err != nil {
			d.log.Warn("microphone read failed", "source", c.Source.ID, "error", err)
			c.Stop()
			return
		}

		// Granule positions count 48kHz samples.
		samples := header.GranulePosition - lastGranule
		lastGranule = header.GranulePosition
		duration := time.Duration(samples) * time.Second / 48000

		if err := track.WriteSample(pionmedia.Sample{Data: page, Duration: duration}); err != nil {
			d.log.Debug("microphone sample dropped", "source", c.Source.ID, "error", err)
		}
	}
}

func (d *DirCapturer) OpenScreen(ctx context.Context, id string) (*Capture, error) {
	if err := ctx.Err(); err != nil {
		return nil, &AcquisitionError{Kind: webrtc.RTPCodecTypeVideo, Source: id, Err: err}
	}
	src, err := d.resolve(id, webrtc.RTPCodecTypeVideo)
	if err != nil {
		return nil, err
	}
	fail := func(err error) error {
		return &AcquisitionError{Kind: src.Kind, Source: src.ID, Err: err}
	}

	f, err := os.Open(filepath.Join(d.dir, src.Label))
	if err != nil {
		return nil, fail(classify(err))
	}
	reader, header, err := ivfreader.NewWith(f)
	if err != nil {
		f.Close()
		return nil, fail(fmt.Errorf("%w: %v", ErrUnsupportedFormat, err))
	}

	mime, ok := map[string]string{
		"VP80": webrtc.MimeTypeVP8,
		"VP90": webrtc.MimeTypeVP9,
		"AV01": webrtc.MimeTypeAV1,
	}[header.FourCC]
	if !ok || header.TimebaseDenominator == 0 {
		f.Close()
		return nil, fail(fmt.Errorf("%w: fourcc %q", ErrUnsupportedFormat, header.FourCC))
	}

	track, err := webrtc.NewTrackLocalStaticSample(webrtc.RTPCodecCapability{MimeType: mime}, "screen-"+src.ID, streamID)
	if err != nil {
		f.Close()
		return nil, fail(err)
	}

	frame := time.Duration(header.TimebaseNumerator) * time.Second / time.Duration(header.TimebaseDenominator)
	if frame <= 0 {
		frame = time.Second / 30
	}

	if err := ctx.Err(); err != nil {
		f.Close()
		return nil, fail(err)
	}

	c := NewCapture(src, track)
	go d.streamIVF(c, track, f, reader, frame)
	return c, nil
}

func (d *DirCapturer) streamIVF(c *Capture, track *webrtc.TrackLocalStaticSample, f *os.File, reader *ivfreader.IVFReader, frame time.Duration) {
	defer f.Close()
	// The source running out is the same as the user ending the share.
	defer c.Stop()

	ticker := time.NewTicker(frame)
	defer ticker.Stop()

	for {
		select {
		case <-c.Done():
			return
		case <-ticker.C:
		}

		data, _, err := reader.ParseNextFrame()
		if errors.Is(err, io.EOF) {
			d.log.Info("screen source ended", "source", c.Source.ID)
			return
		}
		if err != nil {
			d.log.Warn("screen read failed", "source", c.Source.ID, "error", err)
			return
		}

		if err := track.WriteSample(pionmedia.Sample{Data: data, Duration: frame}); err != nil {
			d.log.Debug("screen frame dropped", "source", c.Source.ID, "error", err)
		}
	}
}
