// Package server provides HTTP and WebSocket handlers
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"slices"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	apperrors "github.com/GriffinCanCode/good-listener/backend/sod/internal/errors"
	"github.com/GriffinCanCode/good-listener/backend/sod/internal/metrics"
	"github.com/GriffinCanCode/good-listener/backend/sod/internal/orchestrator"
	"github.com/GriffinCanCode/good-listener/backend/sod/internal/orchestrator/events"
	"github.com/GriffinCanCode/good-listener/backend/sod/internal/orchestrator/onset"
	"github.com/GriffinCanCode/good-listener/backend/sod/internal/storage"
	"github.com/GriffinCanCode/good-listener/backend/sod/internal/trace"
	"github.com/GriffinCanCode/good-listener/backend/sod/pkg/sod"
)

// Orchestrator is the part of the orchestrator the server drives.
type Orchestrator interface {
	IngestPCM(ctx context.Context, streamID string, pcm []byte) error
	RemoveStream(id string) bool
	Events() <-chan orchestrator.Event
	Recent(n int) []onset.Event
	Since(d time.Duration) []onset.Event
	History(ctx context.Context, device string, limit int) ([]storage.Onset, error)
	Reset()
	Status() orchestrator.Status
	Profile() orchestrator.ProfileReport
	SetProfiling(on bool)
	ResetProfile()
	Config() (sod.Config, uint64)
	UpdateConfig(ctx context.Context, fn func(*sod.Config) error) (sod.Config, uint64, error)
	Preset(name string) (sod.Config, bool)
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

// client is one websocket connection. Writes go through send so a slow
// client never blocks the broadcaster.
type client struct {
	stream  string
	conn    *websocket.Conn
	send    chan any
	limiter rateLimiter
}

func (c *client) enqueue(msg any) bool {
	select {
	case c.send <- msg:
		return true
	default:
		return false
	}
}

func (c *client) writeLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-c.send:
			wctx, cancel := context.WithTimeout(ctx, WriteTimeout)
			err := wsjson.Write(wctx, c.conn, msg)
			cancel()
			if err != nil {
				trace.Logger(ctx).Debug("websocket write failed", "stream", c.stream, "error", err)
				return
			}
		}
	}
}

// Server handles HTTP and WebSocket connections.
type Server struct {
	orch    Orchestrator
	metrics *metrics.Metrics
	nextID  atomic.Uint64
	mu      sync.RWMutex
	clients map[*client]struct{}
	done    chan struct{}
	once    sync.Once
}

// New creates a server and starts broadcasting orchestrator events.
func New(orch Orchestrator, mt *metrics.Metrics) *Server {
	s := &Server{
		orch:    orch,
		metrics: mt,
		clients: make(map[*client]struct{}),
		done:    make(chan struct{}),
	}
	go s.broadcast()
	return s
}

// Close stops the broadcaster.
func (s *Server) Close() {
	s.once.Do(func() { close(s.done) })
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(chimiddleware.Recoverer)
	r.Use(corsMiddleware)
	r.Use(trace.Middleware)

	// WebSocket endpoint
	r.Get("/ws", s.handleWebSocket)

	// REST API
	r.Route("/api", func(r chi.Router) {
		r.Get("/status", s.handleStatus)
		r.Get("/onsets", s.handleOnsets)
		r.Get("/onsets/history", s.handleHistory)
		r.Post("/reset", s.handleReset)
		r.Get("/profile", s.handleProfile)
		r.Post("/profile/{action}", s.handleProfileAction)
		r.Get("/config", s.handleConfig)
		r.Put("/config", s.handleUpdateConfig)
	})

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	if s.metrics != nil {
		r.Handle("/metrics", s.metrics.Handler())
	}
	return r
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "*")

		if r.Method == http.MethodOptions {
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
		trace.Logger(r.Context()).Error("websocket accept error", "error", err)
		return
	}
	defer func() { _ = conn.Close(websocket.StatusNormalClosure, "") }()
	conn.SetReadLimit(MaxMessageBytes)

	stream := r.URL.Query().Get("stream")
	if stream == "" {
		stream = fmt.Sprintf("ws-%d", s.nextID.Add(1))
	}
	c := &client{stream: stream, conn: conn, send: make(chan any, ClientSendBuffer)}

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	go c.writeLoop(ctx)

	s.mu.Lock()
	s.clients[c] = struct{}{}
	s.mu.Unlock()
	s.metrics.ClientConnected()

	defer func() {
		s.mu.Lock()
		delete(s.clients, c)
		s.mu.Unlock()
		s.orch.RemoveStream(stream)
		s.metrics.ClientDisconnected()
	}()

	ctx = trace.WithStream(ctx, stream)
	log := trace.Logger(ctx)
	log.Info("websocket connected", "remote", r.RemoteAddr)

	cfg, version := s.orch.Config()
	c.enqueue(ReadyMessage{Type: TypeReady, Stream: stream, Config: newConfigResponse(cfg, version)})

	for {
		typ, data, err := conn.Read(ctx)
		if err != nil {
			log.Debug("websocket read error", "error", err)
			return
		}

		if typ == websocket.MessageBinary {
			if err := s.orch.IngestPCM(ctx, stream, data); err != nil {
				log.Warn("audio chunk rejected", "error", err)
				c.enqueue(errorMessage(err))
			}
			continue
		}

		if !c.limiter.allow() {
			log.Warn("rate limit exceeded", "remote", r.RemoteAddr)
			c.enqueue(errorMessage(apperrors.New(apperrors.CodeRateLimited, "rate limit exceeded")))
			continue
		}
		s.handleText(ctx, c, data)
	}
}

func (s *Server) handleText(ctx context.Context, c *client, data []byte) {
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		c.enqueue(errorMessage(apperrors.Wrap(err, apperrors.CodeInvalidArgument, "malformed message")))
		return
	}
	if tc, ok := trace.ExtractFromJSON(data); ok {
		ctx = trace.WithStream(trace.WithContext(ctx, tc), c.stream)
	}
	log := trace.Logger(ctx)

	switch msg.Type {
	case TypeReset:
		s.orch.RemoveStream(c.stream)
		log.Info("stream reset")
		c.enqueue(Message{Type: TypeReset})
	case TypeConfig:
		cfg, version := s.orch.Config()
		resp := newConfigResponse(cfg, version)
		resp.Type = TypeConfig
		c.enqueue(resp)
	default:
		c.enqueue(errorMessage(apperrors.Newf(apperrors.CodeInvalidArgument, "unknown message type %q", msg.Type)))
	}
}

func errorMessage(err error) ErrorMessage {
	appErr := asAppError(err)
	return ErrorMessage{Type: TypeError, Code: appErr.Code.String(), Message: appErr.Message}
}

// broadcast pushes detector events to every client.
func (s *Server) broadcast() {
	for {
		var evt orchestrator.Event
		select {
		case <-s.done:
			return
		case e, ok := <-s.orch.Events():
			if !ok {
				return
			}
			evt = e
		}

		var msg any
		switch evt.Kind {
		case events.KindOnset:
			msg = newOnsetMessage(*evt.Onset)
		case events.KindSegment:
			msg = SegmentMessage{Type: TypeSegment, SegmentInfo: *evt.Segment}
		default:
			continue
		}

		s.mu.RLock()
		for c := range s.clients {
			if !c.enqueue(msg) {
				slog.Debug("client send buffer full, dropping event", "stream", c.stream, "kind", evt.Kind)
			}
		}
		s.mu.RUnlock()
	}
}

// Clients returns the number of connected websocket clients.
func (s *Server) Clients() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.clients)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.orch.Status())
}

func (s *Server) handleOnsets(w http.ResponseWriter, r *http.Request) {
	limit, err := parseLimit(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	since, err := parseSince(r)
	if err != nil {
		writeError(w, r, err)
		return
	}

	var recent []onset.Event
	if since > 0 {
		// Since is oldest first; respond newest first like Recent.
		window := s.orch.Since(since)
		slices.Reverse(window)
		recent = window[:min(limit, len(window))]
	} else {
		recent = s.orch.Recent(limit)
	}
	out := make([]OnsetMessage, 0, len(recent))
	for _, ev := range recent {
		out = append(out, newOnsetMessage(ev))
	}
	writeJSON(w, http.StatusOK, map[string]any{"onsets": out})
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	limit, err := parseLimit(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	rows, err := s.orch.History(r.Context(), r.URL.Query().Get("device"), limit)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if rows == nil {
		rows = []storage.Onset{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"onsets": rows})
}

func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	s.orch.Reset()
	trace.Logger(r.Context()).Info("all streams reset")
	writeJSON(w, http.StatusOK, map[string]string{"status": "reset"})
}

func (s *Server) handleProfile(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.orch.Profile())
}

func (s *Server) handleProfileAction(w http.ResponseWriter, r *http.Request) {
	switch action := chi.URLParam(r, "action"); action {
	case "enable":
		s.orch.SetProfiling(true)
	case "disable":
		s.orch.SetProfiling(false)
	case "reset":
		s.orch.ResetProfile()
	default:
		writeError(w, r, apperrors.Newf(apperrors.CodeNotFound, "unknown profile action %q", action))
		return
	}
	writeJSON(w, http.StatusOK, s.orch.Profile())
}

func (s *Server) handleConfig(w http.ResponseWriter, r *http.Request) {
	cfg, version := s.orch.Config()
	writeJSON(w, http.StatusOK, newConfigResponse(cfg, version))
}

func (s *Server) handleUpdateConfig(w http.ResponseWriter, r *http.Request) {
	var req ConfigRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, r, apperrors.Wrap(err, apperrors.CodeInvalidArgument, "invalid request body"))
		return
	}

	var preset *sod.Config
	if req.Preset != "" {
		p, ok := s.orch.Preset(req.Preset)
		if !ok {
			writeError(w, r, apperrors.Newf(apperrors.CodeNotFound, "unknown preset %q", req.Preset))
			return
		}
		preset = &p
	}

	cfg, version, err := s.orch.UpdateConfig(r.Context(), func(cfg *sod.Config) error {
		if preset != nil {
			*cfg = *preset
		}
		if req.Sensitivity != nil {
			cfg.Sensitivity = *req.Sensitivity
		}
		if req.OnsetGapMS != nil {
			cfg.OnsetGap = time.Duration(*req.OnsetGapMS) * time.Millisecond
		}
		return nil
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newConfigResponse(cfg, version))
}

// parseSince reads an optional ?since= duration such as "30s".
func parseSince(r *http.Request) (time.Duration, error) {
	raw := r.URL.Query().Get("since")
	if raw == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil || d <= 0 {
		return 0, apperrors.Newf(apperrors.CodeInvalidArgument, "invalid since %q", raw)
	}
	return d, nil
}

func parseLimit(r *http.Request) (int, error) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return DefaultOnsetLimit, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return 0, apperrors.Newf(apperrors.CodeInvalidArgument, "invalid limit %q", raw)
	}
	return min(n, MaxOnsetLimit), nil
}

func asAppError(err error) *apperrors.AppError {
	var appErr *apperrors.AppError
	if errors.As(err, &appErr) {
		return appErr
	}
	return apperrors.Wrap(err, apperrors.CodeInternal, "internal error")
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	appErr := asAppError(err)
	status := appErr.HTTPStatus()
	if status >= http.StatusInternalServerError {
		trace.Logger(r.Context()).Error("request failed", "path", r.URL.Path, "error", err)
	}
	writeJSON(w, status, ErrorResponse{
		Error:  appErr.Message,
		Code:   appErr.Code.String(),
		Detail: appErr.DetailJSON(),
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Debug("response encode failed", "error", err)
	}
}
