package broadcast

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"os"
	"sync"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
)

var (
	// ErrClosed is returned when publishing on a closed Client.
	ErrClosed = errors.New("broadcast client closed")

	// ErrProtocol is returned by Dial when the server speaks an incompatible
	// protocol version.
	ErrProtocol = errors.New("incompatible protocol")
)

// Client is one websocket connection to a broadcast Handler.
type Client struct {
	ID    string
	Topic string

	conn   *websocket.Conn
	msgs   chan Message
	done   chan struct{}
	cancel context.CancelFunc
	once   sync.Once
	logger *log.Logger

	mu  sync.Mutex
	err error
}

var _ Publisher = (*Client)(nil)

// Dial connects to the websocket endpoint at wsURL and joins topic as
// clientID.
func Dial(ctx context.Context, wsURL, topic, clientID string, logger *log.Logger) (*Client, error) {
	if logger == nil {
		logger = log.New(os.Stderr, "[broadcast] ", log.LstdFlags)
	}
	if topic == "" {
		topic = DefaultTopic
	}
	u, err := url.Parse(wsURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse websocket url: %w", err)
	}
	q := u.Query()
	q.Set("topic", topic)
	q.Set("client", clientID)
	q.Set("v", ProtocolVersion)
	u.RawQuery = q.Encode()

	conn, resp, err := websocket.Dial(ctx, u.String(), nil)
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusUpgradeRequired {
			return nil, fmt.Errorf("%w: server rejected protocol %s", ErrProtocol, ProtocolVersion)
		}
		return nil, fmt.Errorf("failed to dial %s: %w", wsURL, err)
	}

	readCtx, cancel := context.WithCancel(context.Background())
	c := &Client{
		ID:     clientID,
		Topic:  topic,
		conn:   conn,
		msgs:   make(chan Message, defaultSubscriberBuffer),
		done:   make(chan struct{}),
		cancel: cancel,
		logger: logger,
	}
	go c.readLoop(readCtx)
	return c, nil
}

// Messages returns incoming broadcasts. The channel is closed when the
// connection ends; Err then reports why.
func (c *Client) Messages() <-chan Message {
	return c.msgs
}

// Done is closed when the connection ends.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// Err returns the error that ended the connection, if any.
func (c *Client) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// Publish sends msg to the hub. The server stamps the origin.
func (c *Client) Publish(ctx context.Context, msg Message) error {
	select {
	case <-c.done:
		return ErrClosed
	default:
	}
	msg.Normalize()
	msg.Topic = c.Topic
	msg.Origin = c.ID
	wctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	if err := wsjson.Write(wctx, c.conn, msg); err != nil {
		return fmt.Errorf("failed to publish %s %s: %w", msg.Entity, msg.Op, err)
	}
	return nil
}

// Close ends the connection.
func (c *Client) Close() error {
	var err error
	c.once.Do(func() {
		err = c.conn.Close(websocket.StatusNormalClosure, "")
		c.cancel()
	})
	return err
}

func (c *Client) readLoop(ctx context.Context) {
	defer close(c.done)
	defer close(c.msgs)
	for {
		var msg Message
		if err := wsjson.Read(ctx, c.conn, &msg); err != nil {
			if ctx.Err() == nil && websocket.CloseStatus(err) != websocket.StatusNormalClosure {
				c.mu.Lock()
				c.err = err
				c.mu.Unlock()
			}
			return
		}
		select {
		case c.msgs <- msg:
		case <-ctx.Done():
			return
		}
	}
}
