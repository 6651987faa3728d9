package audio

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/gen2brain/malgo"

	"github.com/voicebox-app/voicebox-capture/internal/config"
)

// enumeratedDevice is a cataloged input device plus the opaque handle
// needed to reopen it: the host backend it was found on and its miniaudio
// device id.
type enumeratedDevice struct {
	Device
	rawName string
	backend malgo.Backend
	malgoID malgo.DeviceID
}

func (b *backend) ListDevices() ([]Device, error) {
	enumerated, err := b.enumerateInputDevices(b.cfg.EnumerateAllInputs())
	if err != nil {
		return nil, err
	}
	devices := make([]Device, 0, len(enumerated))
	for _, d := range enumerated {
		devices = append(devices, d.Device)
	}
	return devices, nil
}

func (b *backend) IsSupported() bool {
	devices, err := b.enumerateInputDevices(b.cfg.EnumerateAllInputs())
	return err == nil && len(devices) > 0
}

// prioritizedBackends returns the host backends to probe, in order. JACK is
// excluded unless explicitly opted into. Under a virtualized or
// Pulse-server environment the direct ALSA path is tried before the
// PulseAudio compatibility path, since bridged Pulse defaults often point
// at non-functional endpoints.
func prioritizedBackends(cfg *config.Config) []malgo.Backend {
	backends := []malgo.Backend{
		malgo.BackendPulseaudio,
		malgo.BackendAlsa,
		malgo.BackendJack,
		malgo.BackendOss,
	}

	if !cfg.EnableJACKHost {
		filtered := backends[:0]
		for _, be := range backends {
			if be != malgo.BackendJack {
				filtered = append(filtered, be)
			}
		}
		backends = filtered
	}

	if cfg.Virtualized() {
		rank := func(be malgo.Backend) int {
			switch be {
			case malgo.BackendAlsa:
				return 0
			case malgo.BackendPulseaudio:
				return 1
			}
			return 2
		}
		sort.SliceStable(backends, func(i, j int) bool {
			return rank(backends[i]) < rank(backends[j])
		})
	}

	return backends
}

// enumerateInputDevices walks the prioritized host backends and catalogs
// input devices. Each host's default device is always included first; with
// enumerateAll the remaining devices follow, de-duplicated on raw name so
// the same physical device never appears twice within a pass.
func (b *backend) enumerateInputDevices(enumerateAll bool) ([]enumeratedDevice, error) {
	var result []enumeratedDevice
	var warnings []string

	for _, be := range prioritizedBackends(b.cfg) {
		mctx, err := malgo.InitContext([]malgo.Backend{be}, malgo.ContextConfig{}, nil)
		if err != nil {
			warnings = append(warnings, fmt.Sprintf("host %s unavailable: %v", backendLabel(be), err))
			continue
		}

		infos, err := mctx.Devices(malgo.Capture)
		if err != nil {
			warnings = append(warnings, fmt.Sprintf("host %s input enumeration failed: %v", backendLabel(be), err))
			_ = mctx.Uninit()
			mctx.Free()
			continue
		}

		result = append(result, catalogHostDevices(be, toHostDevices(infos), enumerateAll)...)

		_ = mctx.Uninit()
		mctx.Free()
	}

	if len(result) == 0 {
		return nil, noDevicesError(b.cfg, warnings)
	}

	return result, nil
}

// hostDevice is one host's view of a device, decoupled from the miniaudio
// info struct so the cataloging rules stay testable.
type hostDevice struct {
	name      string
	isDefault bool
	id        malgo.DeviceID
}

func toHostDevices(infos []malgo.DeviceInfo) []hostDevice {
	devices := make([]hostDevice, 0, len(infos))
	for _, info := range infos {
		name := info.Name()
		if name == "" {
			name = "Unknown input device"
		}
		devices = append(devices, hostDevice{
			name:      name,
			isDefault: info.IsDefault != 0,
			id:        info.ID,
		})
	}
	return devices
}

// catalogHostDevices turns one host's device listing into catalog entries:
// default first, then (optionally) the rest, de-duplicated by raw name.
func catalogHostDevices(be malgo.Backend, devices []hostDevice, enumerateAll bool) []enumeratedDevice {
	label := backendLabel(be)
	seen := make(map[string]struct{})
	var result []enumeratedDevice

	add := func(d hostDevice, index int, isDefault bool) {
		if _, dup := seen[d.name]; dup {
			return
		}
		seen[d.name] = struct{}{}

		result = append(result, enumeratedDevice{
			Device: Device{
				ID: buildDeviceID(label, index, d.name),
				// Host label disambiguates identical names across hosts.
				Name:       fmt.Sprintf("%s [%s]", d.name, label),
				IsDefault:  isDefault,
				IsLoopback: isLoopbackSource(d.name),
				Host:       label,
			},
			rawName: d.name,
			backend: be,
			malgoID: d.id,
		})
	}

	for _, d := range devices {
		if d.isDefault {
			add(d, 0, true)
			break
		}
	}

	if !enumerateAll {
		return result
	}

	for i, d := range devices {
		if d.isDefault {
			continue
		}
		add(d, i+1, false)
	}

	return result
}

func noDevicesError(cfg *config.Config, warnings []string) error {
	var msg strings.Builder
	msg.WriteString(" across audio hosts. On WSL2, ensure WSLg/PulseAudio is available and Windows microphone privacy access is enabled for desktop apps.")
	if cfg.HasPulseServer && !alsaPulsePluginInstalled() {
		msg.WriteString(" ALSA Pulse plugin is missing. Install it in WSL: sudo apt-get update && sudo apt-get install -y libasound2-plugins pulseaudio-utils alsa-utils")
	}
	if len(warnings) > 0 {
		msg.WriteString(" Details: ")
		msg.WriteString(strings.Join(warnings, "; "))
	}
	return fmt.Errorf("%w%s", ErrNoDevices, msg.String())
}

func alsaPulsePluginInstalled() bool {
	paths := []string{
		"/usr/lib/x86_64-linux-gnu/alsa-lib/libasound_module_pcm_pulse.so",
		"/usr/lib64/alsa-lib/libasound_module_pcm_pulse.so",
	}
	for _, p := range paths {
		if _, err := os.Stat(p); err == nil {
			return true
		}
	}
	return false
}

func backendLabel(be malgo.Backend) string {
	switch be {
	case malgo.BackendAlsa:
		return "alsa"
	case malgo.BackendPulseaudio:
		return "pulseaudio"
	case malgo.BackendJack:
		return "jack"
	case malgo.BackendOss:
		return "oss"
	case malgo.BackendNull:
		return "null"
	}
	return "unknown"
}

// buildDeviceID derives a deterministic id from the host label, the
// device's position within the enumeration pass, and a slug of its name.
// Stable across calls for an unchanged device set; not stable if the OS
// reorders devices.
func buildDeviceID(hostLabel string, index int, name string) string {
	var slug strings.Builder
	for _, c := range name {
		if (c >= 'a' && c <= 'z') || (c >= '0' && c <= '9') {
			slug.WriteRune(c)
		} else if c >= 'A' && c <= 'Z' {
			slug.WriteRune(c + ('a' - 'A'))
		} else {
			slug.WriteByte('_')
		}
	}
	collapsed := slug.String()
	for strings.Contains(collapsed, "__") {
		collapsed = strings.ReplaceAll(collapsed, "__", "_")
	}
	collapsed = strings.Trim(collapsed, "_")
	return fmt.Sprintf("input_%s_%d_%s", strings.ToLower(hostLabel), index, collapsed)
}

// isLoopbackSource classifies monitor/loopback inputs by name. Heuristic
// only: these names capture a system's own output rather than a mic.
func isLoopbackSource(name string) bool {
	lower := strings.ToLower(name)
	return strings.Contains(lower, "monitor") ||
		strings.Contains(lower, "loopback") ||
		strings.Contains(lower, "stereo mix") ||
		strings.Contains(lower, "what u hear")
}

// findByID resolves an explicitly requested device id. Exact match only;
// a caller who named a device never gets a silent fallback.
func findByID(devices []enumeratedDevice, id string) (*enumeratedDevice, error) {
	for i := range devices {
		if devices[i].ID == id {
			return &devices[i], nil
		}
	}
	return nil, fmt.Errorf("%w: '%s'. Refresh the device list and try again", ErrDeviceNotFound, id)
}

// preferServerSource looks for a non-loopback device whose name suggests a
// remote-desktop or audio-server source, the endpoints that actually work
// under WSL/remote sessions.
func preferServerSource(devices []enumeratedDevice) *enumeratedDevice {
	for i := range devices {
		d := &devices[i]
		lower := strings.ToLower(d.rawName)
		if !d.IsLoopback && (strings.Contains(lower, "rdpsource") || strings.Contains(lower, "pulse")) {
			return d
		}
	}
	return nil
}

// chooseDevice applies the implicit selection policy over one catalog:
// the default device, else the first loopback, else the first device.
func chooseDevice(devices []enumeratedDevice) *enumeratedDevice {
	for i := range devices {
		if devices[i].IsDefault {
			return &devices[i]
		}
	}
	for i := range devices {
		if devices[i].IsLoopback {
			return &devices[i]
		}
	}
	if len(devices) > 0 {
		return &devices[0]
	}
	return nil
}

// selectInputDevice picks the device a session should open. With an
// explicit id the catalog must contain it. Otherwise, virtualized contexts
// prefer a server-backed source (re-enumerating exhaustively if the
// default-only pass has none), then fall back to default, loopback, first.
func (b *backend) selectInputDevice(requestedID string) (*enumeratedDevice, error) {
	devices, err := b.enumerateInputDevices(b.cfg.EnumerateAllInputs())
	if err != nil {
		return nil, err
	}

	if requestedID != "" {
		return findByID(devices, requestedID)
	}

	if b.cfg.Virtualized() {
		if d := preferServerSource(devices); d != nil {
			return d, nil
		}

		if !b.cfg.EnumerateAllInputs() {
			expanded, err := b.enumerateInputDevices(true)
			if err == nil {
				if d := preferServerSource(expanded); d != nil {
					return d, nil
				}
				for i := range expanded {
					if expanded[i].IsDefault && !expanded[i].IsLoopback {
						return &expanded[i], nil
					}
				}
			}
		}
	}

	if d := chooseDevice(devices); d != nil {
		return d, nil
	}

	return nil, fmt.Errorf("%w. If running in WSL2, ensure WSLg/PulseAudio is available and the host microphone is enabled", ErrNoDevices)
}
