// Package server hosts the JSON API, the broadcast websocket and a health
// endpoint in one HTTP server.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/mschirtzinger/postlink/internal/api"
	"github.com/mschirtzinger/postlink/internal/broadcast"
	"github.com/mschirtzinger/postlink/internal/service"
)

// Config holds server configuration
type Config struct {
	// Host to bind (default: all interfaces)
	Host string

	// Port to listen on (0 picks a free port)
	Port int

	// Topic reported by /health (default: broadcast.DefaultTopic)
	Topic string

	// Service handles API requests
	Service *service.Service

	// Hub fans out mutations to websocket clients
	Hub *broadcast.Hub

	// Logger for server activity (default: stderr logger)
	Logger *log.Logger
}

// Server is the postlink HTTP server.
type Server struct {
	addr     string
	topic    string
	listener net.Listener
	server   *http.Server

	hub *broadcast.Hub
	ws  *broadcast.Handler
	api *api.Handler

	wg       sync.WaitGroup
	stopOnce sync.Once
	stopErr  error
	logger   *log.Logger
}

// New creates a server. Service and Hub are required.
func New(cfg Config) (*Server, error) {
	if cfg.Service == nil || cfg.Hub == nil {
		return nil, errors.New("server needs a service and a hub")
	}
	if cfg.Logger == nil {
		cfg.Logger = log.New(os.Stderr, "[server] ", log.LstdFlags)
	}
	if cfg.Topic == "" {
		cfg.Topic = broadcast.DefaultTopic
	}
	return &Server{
		addr:   net.JoinHostPort(cfg.Host, fmt.Sprint(cfg.Port)),
		topic:  cfg.Topic,
		hub:    cfg.Hub,
		ws:     broadcast.NewHandler(cfg.Hub, cfg.Logger),
		api:    api.NewHandler(cfg.Service, cfg.Logger),
		logger: cfg.Logger,
	}, nil
}

// Handler returns the routing handler, for embedding in tests or other
// servers.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/ws", s.ws)
	mux.Handle("/api/", s.api)
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/", s.handleRoot)
	return mux
}

// Start begins serving in the background.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.addr, err)
	}
	s.listener = ln

	s.server = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.logger.Printf("Postlink server listening on %s", ln.Addr())
		if err := s.server.Serve(ln); err != nil && err != http.ErrServerClosed {
			s.logger.Printf("Server error: %v", err)
		}
	}()
	return nil
}

// Stop disconnects websocket clients and shuts the server down gracefully.
// Calling it again returns the first result.
func (s *Server) Stop() error {
	s.stopOnce.Do(func() {
		s.stopErr = s.stop()
	})
	return s.stopErr
}

func (s *Server) stop() error {
	s.logger.Println("Stopping postlink server")

	// Closing the hub ends every websocket write loop, which closes the
	// hijacked connections Shutdown does not track.
	s.hub.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if s.server != nil {
		if err := s.server.Shutdown(ctx); err != nil {
			return fmt.Errorf("server shutdown error: %w", err)
		}
	}
	s.wg.Wait()

	s.logger.Println("Postlink server stopped")
	return nil
}

// Run starts the server and blocks until ctx is done.
func (s *Server) Run(ctx context.Context) error {
	if err := s.Start(); err != nil {
		return err
	}
	<-ctx.Done()
	return s.Stop()
}

// Health is the /health response body.
type Health struct {
	Status   string `json:"status"`
	Clients  int    `json:"clients"`
	Topic    string `json:"topic"`
	Protocol string `json:"protocol"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(Health{
		Status:   "ok",
		Clients:  s.ClientCount(),
		Topic:    s.topic,
		Protocol: broadcast.ProtocolVersion,
	})
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "text/html")
	_, _ = fmt.Fprintf(w, `<!DOCTYPE html>
<html>
<head>
    <title>Postlink</title>
</head>
<body>
    <h1>Postlink Server</h1>
    <p>WebSocket endpoint: <code>ws://%s/ws?topic=%s</code></p>
    <p>API: <a href="/api/schedule">/api/schedule</a>, <a href="/api/posts">/api/posts</a></p>
    <p>Health check: <a href="/health">/health</a></p>
</body>
</html>`, r.Host, s.topic)
}

// GetAddr returns the server's listening address
func (s *Server) GetAddr() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.addr
}

// ClientCount returns the number of clients subscribed to the server topic.
func (s *Server) ClientCount() int {
	return s.hub.ClientCount(s.topic)
}
