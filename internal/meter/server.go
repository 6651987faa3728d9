// Package meter exposes the capture backend's recent-levels ring over a
// WebSocket broadcast so a diagnostic UI can animate a live input meter.
package meter

import (
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

// LevelSource provides the level ring snapshot, newest last.
type LevelSource interface {
	RecentLevels() []float32
}

// Frame is one broadcast payload.
type Frame struct {
	Levels []float32 `json:"levels"`
	Level  float32   `json:"level"`
}

// Server broadcasts level frames to every connected client on a fixed
// interval. Slow clients are dropped rather than allowed to stall the feed.
type Server struct {
	addr     string
	src      LevelSource
	log      zerolog.Logger
	interval time.Duration

	upgrader websocket.Upgrader
	mu       sync.Mutex
	clients  map[*websocket.Conn]bool

	server *http.Server
	stop   chan struct{}
	once   sync.Once
}

// NewServer creates a meter server publishing src's levels at interval.
func NewServer(addr string, src LevelSource, interval time.Duration, logger zerolog.Logger) *Server {
	return &Server{
		addr:     addr,
		src:      src,
		log:      logger,
		interval: interval,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		clients: make(map[*websocket.Conn]bool),
		stop:    make(chan struct{}),
	}
}

// Start runs the HTTP listener and the broadcast ticker in the background.
func (s *Server) Start() {
	mux := http.NewServeMux()
	mux.HandleFunc("/levels", s.handleLevels)

	s.server = &http.Server{Addr: s.addr, Handler: mux}

	go func() {
		s.log.Info().Str("addr", s.addr).Msg("level meter listening")
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.log.Error().Err(err).Msg("level meter server error")
		}
	}()

	go s.broadcastLoop()
}

func (s *Server) handleLevels(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Error().Err(err).Msg("websocket upgrade failed")
		return
	}

	s.mu.Lock()
	s.clients[conn] = true
	total := len(s.clients)
	s.mu.Unlock()
	s.log.Debug().Int("clients", total).Msg("meter client connected")

	// The read pump exists only to notice disconnects.
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				s.dropClient(conn)
				return
			}
		}
	}()
}

func (s *Server) dropClient(conn *websocket.Conn) {
	s.mu.Lock()
	delete(s.clients, conn)
	total := len(s.clients)
	s.mu.Unlock()
	conn.Close()
	s.log.Debug().Int("clients", total).Msg("meter client disconnected")
}

func (s *Server) broadcastLoop() {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			s.broadcast(buildFrame(s.src.RecentLevels()))
		}
	}
}

func (s *Server) broadcast(frame Frame) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for conn := range s.clients {
		if err := conn.WriteJSON(frame); err != nil {
			conn.Close()
			delete(s.clients, conn)
		}
	}
}

// buildFrame packages a ring snapshot; the scalar level is the newest entry.
func buildFrame(levels []float32) Frame {
	frame := Frame{Levels: levels}
	if len(levels) > 0 {
		frame.Level = levels[len(levels)-1]
	}
	return frame
}

// Close stops broadcasting and shuts the listener down.
func (s *Server) Close() error {
	s.once.Do(func() { close(s.stop) })

	s.mu.Lock()
	for conn := range s.clients {
		conn.Close()
	}
	s.clients = make(map[*websocket.Conn]bool)
	s.mu.Unlock()

	if s.server != nil {
		return s.server.Close()
	}
	return nil
}
