// Package server exposes the local control API over HTTP and WebSocket
package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/voicewire/voicewire/internal/session"
	"github.com/voicewire/voicewire/internal/settings"
)

// Session is the slice of the session controller the API drives. Tests
// substitute a mock.
type Session interface {
	StartSession(ctx context.Context) error
	EndSession(ctx context.Context) error
	StartListening(ctx context.Context) error
	StopListening(ctx context.Context) error
	Interrupt(ctx context.Context) error
	ToggleContinuousMode(ctx context.Context, enabled bool) error
	Calibrate(ctx context.Context) (float64, error)
	VoiceSettings(ctx context.Context) (settings.Voice, error)
	UpdateVoiceSettings(ctx context.Context, v settings.Voice) error

	State() session.State
	ErrorMessage() string
	Level() float64
	StateChanges() <-chan session.State
	Transcripts() <-chan session.Transcript
}

// Message types.
type Message struct {
	Type string `json:"type"`
}

type StateMessage struct {
	Type  string `json:"type"`
	State string `json:"state"`
	Error string `json:"error,omitempty"`
}

type TranscriptMessage struct {
	Type string `json:"type"`
	Role string `json:"role"`
	Text string `json:"text"`
}

type ModeRequest struct {
	Continuous bool `json:"continuous"`
}

type ErrorMessage struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// rateLimiter tracks message timestamps using a sliding window.
type rateLimiter struct {
	timestamps []time.Time
	mu         sync.Mutex
}

// allow checks if a message is allowed and records the timestamp if so.
func (r *rateLimiter) allow() bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	cutoff := now.Add(-RateLimitWindow)

	// Prune old timestamps
	valid := r.timestamps[:0]
	for _, t := range r.timestamps {
		if t.After(cutoff) {
			valid = append(valid, t)
		}
	}
	r.timestamps = valid

	if len(r.timestamps) >= RateLimitMessages {
		return false
	}

	r.timestamps = append(r.timestamps, now)
	return true
}

// Server handles HTTP and WebSocket connections from the hosting UI.
type Server struct {
	sess Session
	log  *slog.Logger

	mu    sync.RWMutex
	conns map[*websocket.Conn]*rateLimiter
}

// New creates a server and starts pushing session events to connected
// clients.
func New(sess Session, log *slog.Logger) *Server {
	s := &Server{
		sess:  sess,
		log:   log,
		conns: make(map[*websocket.Conn]*rateLimiter),
	}

	// Start broadcasters
	go s.broadcastStates()
	go s.broadcastTranscripts()

	return s
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	// WebSocket endpoint
	mux.HandleFunc("/ws", s.handleWebSocket)

	// REST API
	mux.HandleFunc("GET /api/state", s.handleState)
	mux.HandleFunc("POST /api/session/start", s.handleSessionStart)
	mux.HandleFunc("POST /api/session/end", s.handleSessionEnd)
	mux.HandleFunc("POST /api/listening/start", s.handleListeningStart)
	mux.HandleFunc("POST /api/listening/stop", s.handleListeningStop)
	mux.HandleFunc("POST /api/interrupt", s.handleInterrupt)
	mux.HandleFunc("POST /api/mode", s.handleMode)
	mux.HandleFunc("POST /api/calibrate", s.handleCalibrate)
	mux.HandleFunc("GET /api/settings", s.handleSettingsGet)
	mux.HandleFunc("PUT /api/settings", s.handleSettingsPut)

	return corsMiddleware(mux)
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "*")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		s.log.Error("websocket accept error", "error", err)
		return
	}
	defer func() { _ = conn.Close(websocket.StatusNormalClosure, "") }()

	s.mu.Lock()
	s.conns[conn] = &rateLimiter{}
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		delete(s.conns, conn)
		s.mu.Unlock()
	}()

	ctx := r.Context()
	s.log.Info("control client connected", "remote", r.RemoteAddr)

	// New clients get the current state immediately.
	_ = wsjson.Write(ctx, conn, s.stateMessage())

	for {
		var msg json.RawMessage
		if err := wsjson.Read(ctx, conn, &msg); err != nil {
			s.log.Debug("websocket read error", "error", err)
			return
		}

		// Check rate limit
		s.mu.RLock()
		rl := s.conns[conn]
		s.mu.RUnlock()
		if rl == nil {
			return
		}
		if !rl.allow() {
			s.log.Warn("rate limit exceeded", "remote", r.RemoteAddr)
			_ = wsjson.Write(ctx, conn, ErrorMessage{Type: "error", Message: "rate limit exceeded"})
			continue
		}

		var base Message
		if err := json.Unmarshal(msg, &base); err != nil {
			continue
		}

		// The socket doubles as a low-latency path for the operations a
		// UI fires mid-conversation.
		switch base.Type {
		case "interrupt":
			if err := s.sess.Interrupt(ctx); err != nil {
				_ = wsjson.Write(ctx, conn, ErrorMessage{Type: "error", Message: err.Error()})
			}
		case "start_listening":
			if err := s.sess.StartListening(ctx); err != nil {
				_ = wsjson.Write(ctx, conn, ErrorMessage{Type: "error", Message: err.Error()})
			}
		case "stop_listening":
			if err := s.sess.StopListening(ctx); err != nil {
				_ = wsjson.Write(ctx, conn, ErrorMessage{Type: "error", Message: err.Error()})
			}
		}
	}
}

func (s *Server) stateMessage() StateMessage {
	return StateMessage{
		Type:  "state",
		State: s.sess.State().String(),
		Error: s.sess.ErrorMessage(),
	}
}

func (s *Server) broadcastStates() {
	for range s.sess.StateChanges() {
		s.broadcast(s.stateMessage())
	}
}

func (s *Server) broadcastTranscripts() {
	for tr := range s.sess.Transcripts() {
		s.broadcast(TranscriptMessage{Type: "transcript", Role: tr.Role, Text: tr.Text})
	}
}

func (s *Server) broadcast(msg any) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for conn := range s.conns {
		go func(c *websocket.Conn) {
			ctx, cancel := context.WithTimeout(context.Background(), PushTimeout)
			defer cancel()
			_ = wsjson.Write(ctx, c, msg)
		}(conn)
	}
}

func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]any{
		"state": s.sess.State().String(),
		"error": s.sess.ErrorMessage(),
		"level": s.sess.Level(),
	})
}

func (s *Server) handleSessionStart(w http.ResponseWriter, r *http.Request) {
	s.run(w, r, s.sess.StartSession)
}

func (s *Server) handleSessionEnd(w http.ResponseWriter, r *http.Request) {
	s.run(w, r, s.sess.EndSession)
}

func (s *Server) handleListeningStart(w http.ResponseWriter, r *http.Request) {
	s.run(w, r, s.sess.StartListening)
}

func (s *Server) handleListeningStop(w http.ResponseWriter, r *http.Request) {
	s.run(w, r, s.sess.StopListening)
}

func (s *Server) handleInterrupt(w http.ResponseWriter, r *http.Request) {
	s.run(w, r, s.sess.Interrupt)
}

// run executes a session operation and reports the resulting state.
func (s *Server) run(w http.ResponseWriter, r *http.Request, op func(context.Context) error) {
	if err := op(r.Context()); err != nil {
		writeError(w, http.StatusConflict, err)
		return
	}
	writeJSON(w, map[string]string{"state": s.sess.State().String()})
}

func (s *Server) handleMode(w http.ResponseWriter, r *http.Request) {
	var req ModeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := s.sess.ToggleContinuousMode(r.Context(), req.Continuous); err != nil {
		writeError(w, http.StatusConflict, err)
		return
	}
	writeJSON(w, map[string]bool{"continuous": req.Continuous})
}

func (s *Server) handleCalibrate(w http.ResponseWriter, r *http.Request) {
	threshold, err := s.sess.Calibrate(r.Context())
	if err != nil {
		writeError(w, http.StatusConflict, err)
		return
	}
	writeJSON(w, map[string]float64{"threshold": threshold})
}

func (s *Server) handleSettingsGet(w http.ResponseWriter, r *http.Request) {
	v, err := s.sess.VoiceSettings(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, v)
}

func (s *Server) handleSettingsPut(w http.ResponseWriter, r *http.Request) {
	var v settings.Voice
	if err := json.NewDecoder(r.Body).Decode(&v); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := s.sess.UpdateVoiceSettings(r.Context(), v); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, v)
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
}
