package audio

import (
	"errors"
	"sync"
)

// recentLevelCap bounds the recent-levels ring; older entries are evicted
// FIFO so a UI meter always sees the newest window.
const recentLevelCap = 240

// State is the shared record for one capture slot. It is mutated by the
// capture worker (append-only while a session runs) and read by the
// stopping caller, so every field lives behind the mutex. Lock scope is
// kept to single read-modify-write operations per audio callback; the
// callback path is latency-sensitive.
type State struct {
	mu           sync.Mutex
	samples      []float32
	recentLevels []float32
	sampleRate   uint32
	channels     uint32
	lastErr      error

	// stop is the single-use cancellation hand-off; signaling after it has
	// been consumed is a no-op. done is closed by the worker once the
	// stream is fully torn down.
	stop chan struct{}
	done chan struct{}
}

// NewState creates an empty capture slot with fallback format values.
func NewState() *State {
	return &State{
		sampleRate: 44100,
		channels:   2,
	}
}

// Reset clears the sample buffer, the level ring, and the error slot.
// Called unconditionally at the start of every capture session.
func (s *State) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.samples = nil
	s.recentLevels = nil
	s.lastErr = nil
}

// arm installs a fresh single-use stop channel and worker-done channel for
// a new session and returns both.
func (s *State) arm() (stop, done chan struct{}) {
	stop = make(chan struct{})
	done = make(chan struct{})
	s.mu.Lock()
	s.stop = stop
	s.done = done
	s.mu.Unlock()
	return stop, done
}

// signalStop fires the stop channel if it has not been consumed yet.
// Safe to call any number of times, including with no session armed.
func (s *State) signalStop() {
	s.mu.Lock()
	stop := s.stop
	s.stop = nil
	s.mu.Unlock()
	if stop != nil {
		close(stop)
	}
}

// workerDone returns the current session's teardown channel, or nil when
// no session has been armed.
func (s *State) workerDone() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.done
}

// AppendSamples appends one converted callback batch and pushes its level
// into the bounded ring under a single lock acquisition.
func (s *State) AppendSamples(samples []float32, level float32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.samples = append(s.samples, samples...)
	s.recentLevels = append(s.recentLevels, clamp01(level))
	if overflow := len(s.recentLevels) - recentLevelCap; overflow > 0 {
		s.recentLevels = append(s.recentLevels[:0], s.recentLevels[overflow:]...)
	}
}

// SetFormat records the stream's negotiated sample rate and channel count.
func (s *State) SetFormat(sampleRate, channels uint32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sampleRate > 0 {
		s.sampleRate = sampleRate
	}
	if channels > 0 {
		s.channels = channels
	}
}

// SetError records a session error. The slot is sticky: it survives until
// the next Reset, and later errors overwrite earlier ones so the most
// recent stream failure is what the caller sees.
func (s *State) SetError(msg string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastErr = errors.New(msg)
}

// Err returns the recorded session error, if any.
func (s *State) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastErr
}

// Snapshot returns a copy of the accumulated samples plus the stream format.
func (s *State) Snapshot() ([]float32, uint32, uint32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	samples := make([]float32, len(s.samples))
	copy(samples, s.samples)
	return samples, s.sampleRate, s.channels
}

// RecentLevels returns a copy of the level ring, oldest first.
func (s *State) RecentLevels() []float32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	levels := make([]float32, len(s.recentLevels))
	copy(levels, s.recentLevels)
	return levels
}
