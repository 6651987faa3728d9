// Package audio implements the Linux input-capture backend: device
// enumeration across host backends, a single recording session at a time,
// a short signal probe for level diagnostics, and WAV/base64 encoding of
// the captured samples.
//
// Linux audio environments are the most heuristic-heavy ones this
// application targets: WSL and remote-desktop setups bridge audio through
// a Pulse server with unusual default-device semantics, so enumeration and
// selection lean on environment markers rather than trusting the host's
// defaults blindly.
package audio

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"github.com/voicebox-app/voicebox-capture/internal/config"
)

// Sentinel errors for the failure modes callers may want to branch on.
// Every returned error also carries user-facing remediation text, since the
// sole consumer is a human-facing diagnostic surface.
var (
	ErrNoDevices         = errors.New("no input devices found")
	ErrDeviceNotFound    = errors.New("selected input device is not available")
	ErrEmptyCapture      = errors.New("no audio samples captured")
	ErrNearSilence       = errors.New("captured audio is near silence")
	ErrUnsupportedFormat = errors.New("unsupported input sample format")
)

// Device describes one enumerated input device. Descriptors are created
// fresh on every enumeration pass and never persisted; the ID is stable
// across calls as long as the OS-level device ordering does not change.
type Device struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	IsDefault  bool   `json:"is_default"`
	IsLoopback bool   `json:"is_loopback"`
	Host       string `json:"host"`
}

// ProbeReport is the result of a short diagnostic capture that measures
// input level without persisting audio.
type ProbeReport struct {
	DeviceName      string  `json:"device_name"`
	DurationMs      uint64  `json:"duration_ms"`
	SampleCount     uint64  `json:"sample_count"`
	Peak            float32 `json:"peak"`
	RMS             float32 `json:"rms"`
	NormalizedLevel float32 `json:"normalized_level"`
	HasSignal       bool    `json:"has_signal"`
	Message         string  `json:"message"`
}

// Backend is the uniform contract every platform capture backend exposes
// to the application's command layer.
type Backend interface {
	// ListDevices enumerates the available input devices.
	ListDevices() ([]Device, error)

	// IsSupported reports whether at least one input device is cataloged.
	IsSupported() bool

	// StartCapture begins a recording session. It returns immediately; the
	// stream runs on a dedicated worker until StopCapture is called or
	// maxDuration elapses. Sessions must not overlap: starting resets the
	// shared state unconditionally.
	StartCapture(maxDuration time.Duration, deviceID string) error

	// StopCapture ends the session and returns the capture as a
	// base64-encoded 16-bit PCM WAV payload.
	StopCapture() (string, error)

	// ProbeSignal records for the clamped duration and reports running
	// signal statistics without keeping any audio.
	ProbeSignal(ctx context.Context, deviceID string, duration time.Duration) (*ProbeReport, error)

	// RecentLevels returns a snapshot of the bounded ring of normalized
	// callback levels, newest last.
	RecentLevels() []float32
}

type backend struct {
	cfg   *config.Config
	log   zerolog.Logger
	state *State
}

// New creates the Linux capture backend bound to one capture slot.
func New(cfg *config.Config, logger zerolog.Logger) Backend {
	return &backend{
		cfg:   cfg,
		log:   logger,
		state: NewState(),
	}
}

func (b *backend) RecentLevels() []float32 {
	return b.state.RecentLevels()
}
