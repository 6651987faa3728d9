package audio

import (
	"encoding/base64"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/gen2brain/malgo"
)

const (
	// stopPollInterval bounds how long the worker keeps streaming after the
	// stop flag flips. Cancellation is cooperative: the worker polls rather
	// than being interrupted.
	stopPollInterval = 50 * time.Millisecond

	// stopSettleDelay is the upper bound StopCapture waits for the worker's
	// teardown acknowledgement before reading shared state.
	stopSettleDelay = 300 * time.Millisecond

	// Dual silence floors applied to a finished capture. peak is raw,
	// rms is the gain-scaled value from NormalizedRMS.
	silencePeakFloor = 0.01
	silenceRMSFloor  = 0.015
)

// StartCapture begins a recording session. Device selection happens before
// anything is spawned so enumeration failures abort the start outright;
// stream-time failures land in the shared error slot and surface on stop.
func (b *backend) StartCapture(maxDuration time.Duration, deviceID string) error {
	sel, err := b.selectInputDevice(deviceID)
	if err != nil {
		return err
	}

	sourceType := "microphone/input"
	if sel.IsLoopback {
		sourceType = "loopback/monitor"
	}
	b.log.Info().
		Str("device", sel.rawName).
		Str("host", sel.Host).
		Str("source", sourceType).
		Msg("starting capture")

	st := b.state
	st.Reset()
	stopCh, done := st.arm()

	// Bridge the channel-based stop signal into a flag the blocking worker
	// can poll without touching the scheduler.
	var stopFlag atomic.Bool
	go func() {
		<-stopCh
		stopFlag.Store(true)
	}()

	go b.captureWorker(sel, &stopFlag, done)

	// Watchdog: hard upper bound on session length. signalStop is
	// idempotent, so firing after a manual stop is harmless.
	time.AfterFunc(maxDuration, st.signalStop)

	return nil
}

// captureWorker owns the hardware stream for one session. It runs until
// the stop flag flips, then tears the stream down and acknowledges via the
// done channel. All failures are recorded in the shared error slot.
func (b *backend) captureWorker(sel *enumeratedDevice, stopFlag *atomic.Bool, done chan struct{}) {
	defer close(done)
	st := b.state

	mctx, err := malgo.InitContext([]malgo.Backend{sel.backend}, malgo.ContextConfig{}, nil)
	if err != nil {
		st.SetError(fmt.Sprintf("failed to open %s host for '%s': %v", sel.Host, sel.rawName, err))
		return
	}
	defer func() {
		_ = mctx.Uninit()
		mctx.Free()
	}()

	devCfg := malgo.DefaultDeviceConfig(malgo.Capture)
	devCfg.Capture.DeviceID = sel.malgoID.Pointer()
	// Format, channels, and rate stay zero so miniaudio opens the device's
	// native configuration; the callback normalizes whatever arrives.
	devCfg.Alsa.NoMMap = 1

	var format malgo.FormatType
	onData := func(_, input []byte, _ uint32) {
		if len(input) == 0 {
			return
		}
		samples, err := DecodeSamples(format, input)
		if err != nil {
			st.SetError(fmt.Sprintf("input stream error on '%s': %v", sel.rawName, err))
			return
		}
		st.AppendSamples(samples, NormalizedRMS(samples))
	}
	onStop := func() {
		if !stopFlag.Load() {
			msg := fmt.Sprintf("audio input stream on '%s' stopped unexpectedly", sel.rawName)
			b.log.Error().Msg(msg)
			st.SetError(msg)
		}
	}

	device, err := malgo.InitDevice(mctx.Context, devCfg, malgo.DeviceCallbacks{
		Data: onData,
		Stop: onStop,
	})
	if err != nil {
		st.SetError(fmt.Sprintf("failed to build input stream for '%s': %v", sel.rawName, err))
		return
	}
	defer device.Uninit()

	format = device.CaptureFormat()
	if !supportedFormat(format) {
		st.SetError(fmt.Sprintf("unsupported input sample format on '%s': %v", sel.rawName, format))
		return
	}
	st.SetFormat(device.SampleRate(), device.CaptureChannels())

	if err := device.Start(); err != nil {
		st.SetError(fmt.Sprintf("failed to start input stream for '%s': %v", sel.rawName, err))
		return
	}

	for !stopFlag.Load() {
		time.Sleep(stopPollInterval)
	}

	_ = device.Stop()
}

// StopCapture signals the session to stop, waits for the worker's teardown
// acknowledgement (bounded by the settle delay), and returns the capture
// as a base64-encoded WAV payload.
func (b *backend) StopCapture() (string, error) {
	st := b.state
	st.signalStop()

	if done := st.workerDone(); done != nil {
		select {
		case <-done:
		case <-time.After(stopSettleDelay):
			// Worker still tearing down; read what we have.
		}
	}

	if err := st.Err(); err != nil {
		return "", err
	}

	samples, sampleRate, channels := st.Snapshot()
	if len(samples) == 0 {
		return "", fmt.Errorf("%w. On WSL2, verify host microphone access is enabled for WSL/WSLg", ErrEmptyCapture)
	}

	peak := Peak(samples)
	rms := NormalizedRMS(samples)
	if peak < silencePeakFloor && rms < silenceRMSFloor {
		return "", fmt.Errorf("%w. On WSL2, choose a non-loopback microphone source (prefer 'pulse' or 'RDPSource') and verify Windows microphone privacy access for desktop apps", ErrNearSilence)
	}

	wavData, err := EncodeWAV(samples, sampleRate, channels)
	if err != nil {
		return "", err
	}

	b.log.Info().
		Int("samples", len(samples)).
		Uint32("sample_rate", sampleRate).
		Uint32("channels", channels).
		Msg("capture encoded")

	return base64.StdEncoding.EncodeToString(wavData), nil
}
