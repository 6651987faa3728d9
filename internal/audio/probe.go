package audio

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/gen2brain/malgo"
)

const (
	probeMinDuration = 300 * time.Millisecond
	probeMaxDuration = 5000 * time.Millisecond

	// A probe reports a signal when either floor is crossed. The RMS floor
	// sits below the capture silence floor on purpose: a probe should be
	// more willing to say "something is there" than a finished recording.
	probeSignalPeakFloor = 0.01
	probeSignalRMSFloor  = 0.005
)

// clampProbeDuration bounds caller-requested probe durations to a range
// that is long enough to catch speech and short enough to stay snappy.
func clampProbeDuration(d time.Duration) time.Duration {
	if d < probeMinDuration {
		return probeMinDuration
	}
	if d > probeMaxDuration {
		return probeMaxDuration
	}
	return d
}

// ProbeSignal opens the selected device exactly as a capture session would,
// but accumulates only running statistics: no sample buffer, bounded memory
// regardless of duration. It blocks for the clamped duration (or until ctx
// is cancelled), tears the stream down, and reports.
func (b *backend) ProbeSignal(ctx context.Context, deviceID string, duration time.Duration) (*ProbeReport, error) {
	sel, err := b.selectInputDevice(deviceID)
	if err != nil {
		return nil, err
	}

	effective := clampProbeDuration(duration)
	b.log.Debug().
		Str("device", sel.rawName).
		Dur("duration", effective).
		Msg("probing input signal")

	mctx, err := malgo.InitContext([]malgo.Backend{sel.backend}, malgo.ContextConfig{}, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s host for '%s': %w", sel.Host, sel.rawName, err)
	}
	defer func() {
		_ = mctx.Uninit()
		mctx.Free()
	}()

	devCfg := malgo.DefaultDeviceConfig(malgo.Capture)
	devCfg.Capture.DeviceID = sel.malgoID.Pointer()
	devCfg.Alsa.NoMMap = 1

	var (
		mu        sync.Mutex
		stats     ProbeStats
		streamErr error
		format    malgo.FormatType
		stopping  bool
	)

	onData := func(_, input []byte, _ uint32) {
		if len(input) == 0 {
			return
		}
		samples, err := DecodeSamples(format, input)
		if err != nil {
			mu.Lock()
			streamErr = fmt.Errorf("probe stream error on '%s': %w", sel.rawName, err)
			mu.Unlock()
			return
		}
		mu.Lock()
		stats.Accumulate(samples)
		mu.Unlock()
	}
	onStop := func() {
		mu.Lock()
		if !stopping && streamErr == nil {
			streamErr = fmt.Errorf("probe stream on '%s' stopped unexpectedly", sel.rawName)
		}
		mu.Unlock()
	}

	device, err := malgo.InitDevice(mctx.Context, devCfg, malgo.DeviceCallbacks{
		Data: onData,
		Stop: onStop,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to build probe stream for '%s': %w", sel.rawName, err)
	}
	defer device.Uninit()

	format = device.CaptureFormat()
	if !supportedFormat(format) {
		return nil, fmt.Errorf("%w for probe on '%s': %v", ErrUnsupportedFormat, sel.rawName, format)
	}

	if err := device.Start(); err != nil {
		return nil, fmt.Errorf("failed to start probe stream for '%s': %w", sel.rawName, err)
	}

	select {
	case <-time.After(effective):
	case <-ctx.Done():
	}

	mu.Lock()
	stopping = true
	mu.Unlock()
	_ = device.Stop()

	mu.Lock()
	defer mu.Unlock()
	if streamErr != nil {
		return nil, streamErr
	}

	return buildProbeReport(sel.rawName, effective, &stats, b.cfg.Virtualized()), nil
}

// buildProbeReport turns accumulated stats into the structured report.
// Zero captured samples is not an error: it is a valid "no signal" report
// with an explanatory message.
func buildProbeReport(deviceName string, duration time.Duration, stats *ProbeStats, virtualized bool) *ProbeReport {
	report := &ProbeReport{
		DeviceName:  deviceName,
		DurationMs:  uint64(duration / time.Millisecond),
		SampleCount: stats.SampleCount,
	}

	if stats.SampleCount == 0 {
		report.Message = "No samples captured during probe. Source may be inactive or blocked."
		return report
	}

	rms := stats.RMS()
	report.Peak = stats.Peak
	report.RMS = rms
	report.NormalizedLevel = clamp01(rms * levelGain)
	report.HasSignal = stats.Peak >= probeSignalPeakFloor || rms >= probeSignalRMSFloor

	switch {
	case report.HasSignal:
		report.Message = "Signal detected. This source should work for capture."
	case virtualized:
		report.Message = "Source is near silence. On WSL2, pick a non-loopback source like 'pulse' or 'RDPSource', speak while probing, and verify Windows microphone privacy access for desktop apps."
	default:
		report.Message = "Source is near silence. Verify the source is active and not muted."
	}

	return report
}
