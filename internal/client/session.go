package client

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/url"
	"os"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/mschirtzinger/postlink/internal/broadcast"
)

const maxBackoff = 30 * time.Second

// SessionConfig holds session settings.
type SessionConfig struct {
	// ServerURL is the server's base URL, e.g. http://127.0.0.1:8080
	ServerURL string

	// Topic to join (default: broadcast.DefaultTopic)
	Topic string

	// ClientID to use (default: a random id)
	ClientID string

	// Backoff is the first reconnect delay; it doubles up to 30s (default: 1s)
	Backoff time.Duration

	// PersistTimeout bounds each write (default: 10s)
	PersistTimeout time.Duration

	// OnMessage, if set, sees every broadcast after the store merged it
	OnMessage func(broadcast.Message)

	// Logger for connection activity (default: stderr logger)
	Logger *log.Logger
}

// Session keeps a Store connected: it joins the broadcast topic, performs a
// full fetch after every (re)connect, and feeds broadcasts into the store.
type Session struct {
	cfg       SessionConfig
	api       *API
	store     *Store
	connected atomic.Bool
	logger    *log.Logger
}

// NewSession creates a session and its store.
func NewSession(cfg SessionConfig) (*Session, error) {
	if cfg.ServerURL == "" {
		return nil, errors.New("session needs a server url")
	}
	if cfg.ClientID == "" {
		cfg.ClientID = uuid.NewString()
	}
	if broadcast.IsReservedOrigin(cfg.ClientID) {
		return nil, fmt.Errorf("client id %q is reserved", cfg.ClientID)
	}
	if cfg.Topic == "" {
		cfg.Topic = broadcast.DefaultTopic
	}
	if cfg.Backoff <= 0 {
		cfg.Backoff = time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = log.New(os.Stderr, "[client] ", log.LstdFlags)
	}
	api := NewAPI(cfg.ServerURL, cfg.ClientID, nil)
	return &Session{
		cfg: cfg,
		api: api,
		store: NewStore(Config{
			ClientID:       cfg.ClientID,
			Persister:      api,
			PersistTimeout: cfg.PersistTimeout,
			Logger:         cfg.Logger,
		}),
		logger: cfg.Logger,
	}, nil
}

// Store returns the session's store.
func (s *Session) Store() *Store {
	return s.store
}

// API returns the session's HTTP client.
func (s *Session) API() *API {
	return s.api
}

// Connected reports whether the broadcast connection is up.
func (s *Session) Connected() bool {
	return s.connected.Load()
}

// WebSocketURL derives the broadcast endpoint from a server base URL.
func WebSocketURL(serverURL string) (string, error) {
	u, err := url.Parse(serverURL)
	if err != nil {
		return "", fmt.Errorf("failed to parse server url: %w", err)
	}
	switch u.Scheme {
	case "http", "ws":
		u.Scheme = "ws"
	case "https", "wss":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("unsupported server url scheme %q", u.Scheme)
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/ws"
	return u.String(), nil
}

// Run connects and stays connected until ctx is done. Disconnects are
// retried with exponential backoff; an incompatible server protocol ends
// Run with an error.
func (s *Session) Run(ctx context.Context) error {
	wsURL, err := WebSocketURL(s.cfg.ServerURL)
	if err != nil {
		return err
	}

	backoff := s.cfg.Backoff
	for {
		connected, err := s.runOnce(ctx, wsURL)
		if ctx.Err() != nil {
			return nil
		}
		if errors.Is(err, broadcast.ErrProtocol) {
			return err
		}
		if connected {
			backoff = s.cfg.Backoff
		}
		s.logger.Printf("Disconnected: %v (retrying in %s)", err, backoff)

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > maxBackoff {
			backoff = maxBackoff
		}
	}
}

// runOnce serves one connection. It reports whether the connection got as
// far as a successful full fetch.
func (s *Session) runOnce(ctx context.Context, wsURL string) (bool, error) {
	conn, err := broadcast.Dial(ctx, wsURL, s.cfg.Topic, s.cfg.ClientID, s.logger)
	if err != nil {
		return false, err
	}
	defer conn.Close()

	// Fetch after joining so nothing published in between is missed.
	if err := s.store.Load(ctx); err != nil {
		return false, err
	}
	s.connected.Store(true)
	defer s.connected.Store(false)
	s.logger.Printf("Connected to %s as %s", wsURL, s.cfg.ClientID)

	for {
		select {
		case <-ctx.Done():
			return true, ctx.Err()
		case msg, ok := <-conn.Messages():
			if !ok {
				if err := conn.Err(); err != nil {
					return true, err
				}
				return true, errors.New("connection closed by server")
			}
			if err := s.store.Receive(msg); err != nil {
				s.logger.Printf("WARNING: dropping broadcast %s: %v", msg.ID, err)
				continue
			}
			if s.cfg.OnMessage != nil {
				s.cfg.OnMessage(msg)
			}
		}
	}
}
