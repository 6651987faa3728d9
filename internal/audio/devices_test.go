package audio

import (
	"errors"
	"strings"
	"testing"

	"github.com/gen2brain/malgo"

	"github.com/voicebox-app/voicebox-capture/internal/config"
)

func TestBuildDeviceID(t *testing.T) {
	tests := []struct {
		host  string
		index int
		name  string
		want  string
	}{
		{"alsa", 0, "Built-in Microphone", "input_alsa_0_built_in_microphone"},
		{"pulseaudio", 2, "USB   Mic!! (rear)", "input_pulseaudio_2_usb_mic_rear"},
		{"alsa", 1, "___pulse___", "input_alsa_1_pulse"},
		{"oss", 0, "MIC2000", "input_oss_0_mic2000"},
	}

	for _, tt := range tests {
		if got := buildDeviceID(tt.host, tt.index, tt.name); got != tt.want {
			t.Errorf("buildDeviceID(%q, %d, %q) = %q, want %q", tt.host, tt.index, tt.name, got, tt.want)
		}
	}
}

func TestBuildDeviceIDStable(t *testing.T) {
	a := buildDeviceID("alsa", 3, "Some Device")
	b := buildDeviceID("alsa", 3, "Some Device")
	if a != b {
		t.Fatalf("expected stable ids, got %q and %q", a, b)
	}
}

func TestIsLoopbackSource(t *testing.T) {
	loopbacks := []string{
		"Monitor of Built-in Audio",
		"ALC887 Loopback",
		"Stereo Mix (Realtek)",
		"What U Hear",
	}
	for _, name := range loopbacks {
		if !isLoopbackSource(name) {
			t.Errorf("expected %q classified as loopback", name)
		}
	}

	if isLoopbackSource("Built-in Mic") {
		t.Error("expected plain microphone not classified as loopback")
	}
}

func TestPrioritizedBackendsDefault(t *testing.T) {
	backends := prioritizedBackends(&config.Config{})

	for _, be := range backends {
		if be == malgo.BackendJack {
			t.Fatal("JACK must be excluded without the opt-in flag")
		}
	}
	if backends[0] != malgo.BackendPulseaudio {
		t.Fatalf("expected pulseaudio first on a plain desktop, got %v", backends[0])
	}
}

func TestPrioritizedBackendsJACKOptIn(t *testing.T) {
	backends := prioritizedBackends(&config.Config{EnableJACKHost: true})

	found := false
	for _, be := range backends {
		if be == malgo.BackendJack {
			found = true
		}
	}
	if !found {
		t.Fatal("expected JACK present with the opt-in flag")
	}
}

func TestPrioritizedBackendsVirtualized(t *testing.T) {
	cfg := &config.Config{WSLDistroName: "Ubuntu"}
	backends := prioritizedBackends(cfg)

	if backends[0] != malgo.BackendAlsa {
		t.Fatalf("expected direct ALSA path first under WSL, got %v", backends[0])
	}
	if backends[1] != malgo.BackendPulseaudio {
		t.Fatalf("expected pulseaudio second under WSL, got %v", backends[1])
	}
}

func TestCatalogHostDevicesDefaultOnly(t *testing.T) {
	devices := []hostDevice{
		{name: "pulse"},
		{name: "Built-in Mic", isDefault: true},
		{name: "Monitor of Built-in"},
	}

	got := catalogHostDevices(malgo.BackendAlsa, devices, false)
	if len(got) != 1 {
		t.Fatalf("expected default-only pass to yield 1 device, got %d", len(got))
	}
	if !got[0].IsDefault || got[0].rawName != "Built-in Mic" {
		t.Fatalf("expected the default device, got %+v", got[0])
	}
	if got[0].ID != "input_alsa_0_built_in_mic" {
		t.Fatalf("unexpected id %q", got[0].ID)
	}
}

func TestCatalogHostDevicesExhaustiveDeduped(t *testing.T) {
	devices := []hostDevice{
		{name: "Built-in Mic", isDefault: true},
		{name: "Built-in Mic"},
		{name: "Monitor of Built-in"},
	}

	got := catalogHostDevices(malgo.BackendPulseaudio, devices, true)
	if len(got) != 2 {
		t.Fatalf("expected duplicate name dropped, got %d devices", len(got))
	}
	if got[0].rawName != "Built-in Mic" || !got[0].IsDefault {
		t.Fatalf("expected default first, got %+v", got[0])
	}
	if !got[1].IsLoopback {
		t.Fatalf("expected monitor device classified loopback, got %+v", got[1])
	}
	if !strings.Contains(got[1].Name, "[pulseaudio]") {
		t.Fatalf("expected host label in display name, got %q", got[1].Name)
	}
}

func TestFindByIDExactMatchOnly(t *testing.T) {
	devices := []enumeratedDevice{
		{Device: Device{ID: "input_alsa_0_mic"}, rawName: "Mic"},
	}

	if _, err := findByID(devices, "input_alsa_0_mic"); err != nil {
		t.Fatalf("expected match, got %v", err)
	}

	_, err := findByID(devices, "input_alsa_0_mi")
	if !errors.Is(err, ErrDeviceNotFound) {
		t.Fatalf("expected ErrDeviceNotFound, got %v", err)
	}
}

func TestChooseDevicePrefersDefault(t *testing.T) {
	devices := []enumeratedDevice{
		{Device: Device{ID: "a", IsLoopback: true}, rawName: "Speakers Monitor"},
		{Device: Device{ID: "b", IsDefault: true}, rawName: "Built-in Mic"},
	}

	got := chooseDevice(devices)
	if got == nil || got.rawName != "Built-in Mic" {
		t.Fatalf("expected default device, got %+v", got)
	}
}

func TestChooseDeviceFallbacks(t *testing.T) {
	loopbackOnly := []enumeratedDevice{
		{Device: Device{ID: "a"}, rawName: "Something"},
		{Device: Device{ID: "b", IsLoopback: true}, rawName: "Monitor"},
	}
	if got := chooseDevice(loopbackOnly); got == nil || got.ID != "b" {
		t.Fatalf("expected first loopback when no default, got %+v", got)
	}

	plain := []enumeratedDevice{
		{Device: Device{ID: "only"}, rawName: "Only"},
	}
	if got := chooseDevice(plain); got == nil || got.ID != "only" {
		t.Fatalf("expected first device as last resort, got %+v", got)
	}

	if got := chooseDevice(nil); got != nil {
		t.Fatalf("expected nil for empty catalog, got %+v", got)
	}
}

func TestPreferServerSource(t *testing.T) {
	devices := []enumeratedDevice{
		{Device: Device{ID: "a", IsLoopback: true}, rawName: "Built-in Mic (loopback)"},
		{Device: Device{ID: "b"}, rawName: "pulse"},
	}

	got := preferServerSource(devices)
	if got == nil || got.rawName != "pulse" {
		t.Fatalf("expected the pulse source, got %+v", got)
	}
}

func TestPreferServerSourceSkipsLoopbacks(t *testing.T) {
	devices := []enumeratedDevice{
		{Device: Device{ID: "a", IsLoopback: true}, rawName: "pulse monitor"},
		{Device: Device{ID: "b"}, rawName: "RDPSource"},
	}

	got := preferServerSource(devices)
	if got == nil || got.rawName != "RDPSource" {
		t.Fatalf("expected RDPSource, got %+v", got)
	}

	if got := preferServerSource(devices[:1]); got != nil {
		t.Fatalf("expected no pick among loopbacks, got %+v", got)
	}
}

func TestNoDevicesErrorMentionsRemediation(t *testing.T) {
	err := noDevicesError(&config.Config{}, []string{"host alsa unavailable: boom"})
	if !errors.Is(err, ErrNoDevices) {
		t.Fatalf("expected ErrNoDevices, got %v", err)
	}
	msg := err.Error()
	if !strings.Contains(msg, "WSL2") {
		t.Fatalf("expected WSL remediation text, got %q", msg)
	}
	if !strings.Contains(msg, "boom") {
		t.Fatalf("expected host warnings included, got %q", msg)
	}
}
