package media

import (
	"errors"
	"fmt"

	"github.com/pion/webrtc/v4"
)

var (
	ErrPermissionDenied  = errors.New("permission denied")
	ErrDeviceNotFound    = errors.New("device not found")
	ErrUnsupportedFormat = errors.New("unsupported media format")
)

// AcquisitionError reports a capture source that could not be opened.
type AcquisitionError struct {
	Kind   webrtc.RTPCodecType
	Source string
	Err    error
}

func (e *AcquisitionError) Error() string {
	return fmt.Sprintf("failed to acquire %s %q: %v", kindName(e.Kind), e.Source, e.Err)
}

func (e *AcquisitionError) Unwrap() error {
	return e.Err
}

func kindName(kind webrtc.RTPCodecType) string {
	if kind == webrtc.RTPCodecTypeVideo {
		return "screen"
	}
	return "microphone"
}
