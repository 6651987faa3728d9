package config

import (
	"os"
	"strings"
)

// Environment variables recognized by the capture backend.
const (
	EnvEnableJACKHost     = "VOICEBOX_ENABLE_JACK_HOST"
	EnvEnumerateAllInputs = "VOICEBOX_ENUMERATE_ALL_INPUTS"
	EnvPulseServer        = "PULSE_SERVER"
	EnvWSLDistroName      = "WSL_DISTRO_NAME"
	EnvWSLInterop         = "WSL_INTEROP"
)

// Config holds the environment-level knobs the capture backend honors.
// It is read once at startup and passed explicitly to every component.
type Config struct {
	// EnableJACKHost opts into the JACK backend. Probing JACK is slow and
	// noisy on most desktop and WSL setups, so it is off by default.
	EnableJACKHost bool

	// PulseServer is the PulseAudio server address, if set. Its presence is
	// also treated as a virtualization marker (WSLg exports it).
	PulseServer    string
	HasPulseServer bool

	// WSL markers set by the WSL init process.
	WSLDistroName string
	WSLInterop    string

	enumerateAll    bool
	enumerateAllSet bool
}

// FromEnv reads the recognized environment variables into a Config.
func FromEnv() *Config {
	return fromLookup(os.LookupEnv)
}

func fromLookup(lookup func(string) (string, bool)) *Config {
	cfg := &Config{}

	if v, ok := lookup(EnvEnableJACKHost); ok {
		cfg.EnableJACKHost = truthy(v)
	}
	if v, ok := lookup(EnvEnumerateAllInputs); ok {
		cfg.enumerateAll = truthy(v)
		cfg.enumerateAllSet = true
	}
	if v, ok := lookup(EnvPulseServer); ok {
		cfg.PulseServer = v
		cfg.HasPulseServer = true
	}
	if v, ok := lookup(EnvWSLDistroName); ok {
		cfg.WSLDistroName = v
	}
	if v, ok := lookup(EnvWSLInterop); ok {
		cfg.WSLInterop = v
	}

	return cfg
}

// IsWSL reports whether the process is running inside WSL.
func (c *Config) IsWSL() bool {
	return c.WSLDistroName != "" || c.WSLInterop != ""
}

// Virtualized reports whether the audio stack is likely bridged through a
// compatibility layer (WSL, remote desktop behind a Pulse server).
func (c *Config) Virtualized() bool {
	return c.IsWSL() || c.HasPulseServer
}

// EnumerateAllInputs reports whether device enumeration should walk every
// device of every host rather than just the defaults. Exhaustive scanning in
// virtualized environments is slow and often probes dead OSS/JACK paths, so
// it defaults off there unless the flag forces it on.
func (c *Config) EnumerateAllInputs() bool {
	if c.enumerateAllSet {
		return c.enumerateAll
	}
	return !c.Virtualized()
}

func truthy(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "true", "yes", "on":
		return true
	}
	return false
}
