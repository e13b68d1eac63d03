// Package proxy relays streamed chat completions to WebSocket clients.
package proxy

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/mwiater/vlmbench/internal/appconfig"
	"github.com/mwiater/vlmbench/internal/logging"
	"github.com/mwiater/vlmbench/internal/metrics"
	"github.com/mwiater/vlmbench/internal/providers"
)

const (
	readLimit       = 32 << 20
	shutdownTimeout = 10 * time.Second
)

// Options wires optional observability into the server.
type Options struct {
	Collectors *metrics.Collectors
	Aggregator *metrics.Aggregator
	Gatherer   prometheus.Gatherer
}

// Server accepts WebSocket connections and forwards each request upstream.
type Server struct {
	transport providers.Transport
	cfg       appconfig.ProxyConfig
	opts      Options
	upgrader  websocket.Upgrader
}

// New creates a Server that forwards to transport.
func New(transport providers.Transport, cfg appconfig.ProxyConfig, opts Options) *Server {
	return &Server{
		transport: transport,
		cfg:       cfg,
		opts:      opts,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

// Router returns the HTTP surface of the proxy.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.RealIP, middleware.Recoverer)

	r.Get("/", s.handleWebSocket)
	r.Get("/ws", s.handleWebSocket)
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	if s.opts.Gatherer != nil {
		r.Handle("/metrics", metrics.Handler(s.opts.Gatherer))
	}
	if s.opts.Aggregator != nil {
		r.Get("/stats", func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusOK, s.opts.Aggregator.Snapshot())
		})
	}
	return r
}

// ListenAndServe serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:    s.cfg.Listen,
		Handler: s.Router(),
		BaseContext: func(_ net.Listener) context.Context {
			return ctx
		},
	}

	errCh := make(chan error, 1)
	go func() {
		logging.LogEvent("proxy listening on %s, upstream %s", s.cfg.Listen, s.cfg.UpstreamURL)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	logging.LogEvent("proxy stopped")
	return nil
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logging.LogEvent("proxy: websocket upgrade error: %v", err)
		return
	}
	defer conn.Close()

	if c := s.opts.Collectors; c != nil {
		c.ConnectionOpened()
		defer c.ConnectionClosed()
	}
	logging.LogEvent("proxy: client connected: %s", r.RemoteAddr)
	conn.SetReadLimit(readLimit)

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logging.LogEvent("proxy: websocket error: %v", err)
			}
			logging.LogEvent("proxy: client disconnected: %s", r.RemoteAddr)
			return
		}
		if err := s.handleMessage(r.Context(), conn, message); err != nil {
			logging.LogEvent("proxy: write to client failed: %v", err)
			return
		}
	}
}

// handleMessage serves one request. It returns an error only when the client can no longer be written to.
func (s *Server) handleMessage(ctx context.Context, conn *websocket.Conn, raw []byte) error {
	req, err := ParseRequest(raw)
	if err != nil {
		s.count("invalid")
		return conn.WriteJSON(Event{Type: EventError, Message: err.Error()})
	}
	history, err := req.History()
	if err != nil {
		s.count("invalid")
		return conn.WriteJSON(Event{Type: EventError, Message: err.Error()})
	}

	model := req.Model
	if model == "" {
		model = s.cfg.Model()
	}
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = s.cfg.MaxTokens()
	}
	logging.LogRequest("CLIENT->PROXY", "proxy", model, map[string]any{"messages": len(history), "max_tokens": maxTokens})

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var writeErr error
	err = s.transport.SubmitTurn(ctx, providers.TurnRequest{
		Model:     model,
		History:   history,
		MaxTokens: maxTokens,
		Stream:    true,
	}, providers.StreamCallbacks{
		OnChunk: func(fragment string) error {
			if werr := conn.WriteJSON(Event{Type: EventToken, Content: fragment}); werr != nil {
				writeErr = werr
				cancel()
				return werr
			}
			return nil
		},
	})
	if writeErr != nil {
		s.count("disconnected")
		return writeErr
	}
	if err != nil {
		s.count("error")
		return conn.WriteJSON(Event{Type: EventError, Message: err.Error()})
	}
	s.count("complete")
	return conn.WriteJSON(Event{Type: EventComplete})
}

func (s *Server) count(outcome string) {
	if s.opts.Collectors != nil {
		s.opts.Collectors.ProxyRequest(outcome)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
