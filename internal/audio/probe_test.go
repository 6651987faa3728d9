package audio

import (
	"strings"
	"testing"
	"time"
)

func TestClampProbeDuration(t *testing.T) {
	tests := []struct {
		in   time.Duration
		want time.Duration
	}{
		{50 * time.Millisecond, 300 * time.Millisecond},
		{300 * time.Millisecond, 300 * time.Millisecond},
		{1500 * time.Millisecond, 1500 * time.Millisecond},
		{5000 * time.Millisecond, 5000 * time.Millisecond},
		{999999 * time.Millisecond, 5000 * time.Millisecond},
		{0, 300 * time.Millisecond},
	}

	for _, tt := range tests {
		if got := clampProbeDuration(tt.in); got != tt.want {
			t.Errorf("clampProbeDuration(%v) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestBuildProbeReportNoSamples(t *testing.T) {
	report := buildProbeReport("Mic", 300*time.Millisecond, &ProbeStats{}, false)

	if report.HasSignal {
		t.Fatal("expected no signal with zero samples")
	}
	if report.SampleCount != 0 || report.Peak != 0 || report.RMS != 0 {
		t.Fatalf("expected zeroed stats, got %+v", report)
	}
	if !strings.Contains(report.Message, "No samples captured") {
		t.Fatalf("expected explanatory message, got %q", report.Message)
	}
	if report.DurationMs != 300 {
		t.Fatalf("expected duration 300ms, got %d", report.DurationMs)
	}
}

func TestBuildProbeReportSignalDetected(t *testing.T) {
	var stats ProbeStats
	stats.Accumulate([]float32{0.2, -0.2, 0.2, -0.2})

	report := buildProbeReport("Mic", time.Second, &stats, false)
	if !report.HasSignal {
		t.Fatal("expected signal detected")
	}
	if report.NormalizedLevel <= 0 || report.NormalizedLevel > 1 {
		t.Fatalf("normalized level %f out of (0, 1]", report.NormalizedLevel)
	}
	if !strings.Contains(report.Message, "Signal detected") {
		t.Fatalf("unexpected message %q", report.Message)
	}
}

func TestBuildProbeReportSignalThresholds(t *testing.T) {
	// Peak alone above its floor counts as signal even with negligible RMS.
	peaky := &ProbeStats{Peak: 0.02, SumSquares: 1e-9, SampleCount: 100000}
	if r := buildProbeReport("Mic", time.Second, peaky, false); !r.HasSignal {
		t.Fatal("expected peak floor alone to trigger has_signal")
	}

	// RMS alone above its (smaller) floor counts too.
	steady := &ProbeStats{Peak: 0.006, SumSquares: 0.0001 * 1000, SampleCount: 1000}
	if r := buildProbeReport("Mic", time.Second, steady, false); !r.HasSignal {
		t.Fatal("expected RMS floor alone to trigger has_signal")
	}

	// Both below: silence.
	quiet := &ProbeStats{Peak: 0.004, SumSquares: 1e-8 * 1000, SampleCount: 1000}
	if r := buildProbeReport("Mic", time.Second, quiet, false); r.HasSignal {
		t.Fatal("expected silence below both floors")
	}
}

func TestBuildProbeReportVirtualizedMessage(t *testing.T) {
	quiet := &ProbeStats{Peak: 0.001, SumSquares: 1e-10, SampleCount: 10}

	plain := buildProbeReport("Mic", time.Second, quiet, false)
	if strings.Contains(plain.Message, "WSL2") {
		t.Fatalf("expected generic message outside virtualization, got %q", plain.Message)
	}

	virt := buildProbeReport("Mic", time.Second, quiet, true)
	if !strings.Contains(virt.Message, "WSL2") {
		t.Fatalf("expected WSL-specific guidance, got %q", virt.Message)
	}
}
