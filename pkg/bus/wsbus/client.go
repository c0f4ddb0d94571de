// Package wsbus carries bus messages between this process and the butler hub over a WebSocket.
package wsbus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jpillora/backoff"

	"ircbridge/pkg/bus"
)

// TopicSubscribe is the frame a client sends after connecting to announce the topics it wants.
const TopicSubscribe = "mq.subscribe"

const (
	handshakeTimeout = 10 * time.Second
	writeTimeout     = 10 * time.Second
)

// ErrNotConnected is returned by Publish while no hub connection is up.
var ErrNotConnected = errors.New("bus hub not connected")

// Options configures a Client.
type Options struct {
	URL    string
	Sender string
	// Topics are requested from the hub and republished on Local.
	Topics []string
	Local  bus.Publisher
	// RetryInterval is the fixed pause between two dial attempts.
	RetryInterval time.Duration
	Header        http.Header
	Log           *slog.Logger
}

// Client publishes to a remote hub and relays subscribed topics into the local bus.
type Client struct {
	opts   Options
	topics map[string]struct{}
	dialer *websocket.Dialer
	log    *slog.Logger

	mu     sync.Mutex
	conn   *websocket.Conn
	sender string
}

func New(opts Options) (*Client, error) {
	if !strings.HasPrefix(opts.URL, "ws://") && !strings.HasPrefix(opts.URL, "wss://") {
		return nil, fmt.Errorf("bus url %q must use ws:// or wss://", opts.URL)
	}
	if opts.Local == nil {
		return nil, errors.New("local publisher is required")
	}
	if opts.RetryInterval <= 0 {
		opts.RetryInterval = time.Minute
	}
	if opts.Log == nil {
		opts.Log = slog.Default()
	}

	topics := make(map[string]struct{}, len(opts.Topics))
	for _, topic := range opts.Topics {
		topics[topic] = struct{}{}
	}

	return &Client{
		opts:   opts,
		topics: topics,
		dialer: &websocket.Dialer{HandshakeTimeout: handshakeTimeout},
		log:    opts.Log.With("component", "bus.ws"),
		sender: opts.Sender,
	}, nil
}

// SetSender changes the name stamped on outgoing frames that carry none.
func (c *Client) SetSender(sender string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sender = sender
}

// Connected reports whether a hub connection is currently established.
func (c *Client) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn != nil
}

// Publish writes msg to the hub.
func (c *Client) Publish(ctx context.Context, msg bus.Message) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	if msg.Sender == "" {
		msg.Sender = c.sender
	}

	if c.conn == nil {
		return ErrNotConnected
	}

	return c.writeLocked(ctx, msg)
}

func (c *Client) writeLocked(ctx context.Context, msg bus.Message) error {
	deadline := time.Now().Add(writeTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := c.conn.SetWriteDeadline(deadline); err != nil {
		return fmt.Errorf("set write deadline: %w", err)
	}
	if err := c.conn.WriteJSON(msg); err != nil {
		return fmt.Errorf("write %s frame: %w", msg.Topic, err)
	}
	return nil
}

// Run connects to the hub and reconnects after the retry interval until ctx is done.
func (c *Client) Run(ctx context.Context) error {
	bf := &backoff.Backoff{Min: c.opts.RetryInterval, Max: c.opts.RetryInterval, Factor: 1}

	for {
		err := c.session(ctx)
		if ctx.Err() != nil {
			return nil
		}

		wait := bf.Duration()
		c.log.Error("Bus hub connection lost", "url", c.opts.URL, "error", err, "retry_in", wait)

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case <-timer.C:
		}
	}
}

// session runs one connection from dial to the first read error.
func (c *Client) session(ctx context.Context) error {
	conn, resp, err := c.dialer.DialContext(ctx, c.opts.URL, c.opts.Header)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		return fmt.Errorf("dial %s: %w", c.opts.URL, err)
	}

	c.mu.Lock()
	c.conn = conn
	err = c.subscribeLocked(ctx)
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		c.conn = nil
		c.mu.Unlock()
		_ = conn.Close()
	}()

	if err != nil {
		return err
	}

	c.log.Info("Connected to bus hub", "url", c.opts.URL)

	stop := context.AfterFunc(ctx, func() {
		c.mu.Lock()
		_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
		c.mu.Unlock()
		_ = conn.Close()
	})
	defer stop()

	for {
		var msg bus.Message
		if err := conn.ReadJSON(&msg); err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return errors.New("hub closed the connection")
			}
			return fmt.Errorf("read frame: %w", err)
		}

		c.relay(ctx, msg)
	}
}

func (c *Client) subscribeLocked(ctx context.Context) error {
	topics := make([]string, 0, len(c.topics))
	for _, topic := range c.opts.Topics {
		topics = append(topics, topic)
	}

	content, err := json.Marshal(topics)
	if err != nil {
		return fmt.Errorf("encode subscription: %w", err)
	}

	return c.writeLocked(ctx, bus.Message{
		Topic:   TopicSubscribe,
		Sender:  c.sender,
		At:      time.Now().UTC(),
		Content: content,
	})
}

// relay republishes a hub frame locally when its topic was subscribed.
func (c *Client) relay(ctx context.Context, msg bus.Message) {
	if _, ok := c.topics[msg.Topic]; !ok {
		c.log.Debug("Ignoring frame for unsubscribed topic", "topic", msg.Topic)
		return
	}

	if err := c.opts.Local.Publish(ctx, msg); err != nil {
		c.log.Warn("Failed to republish hub frame", "topic", msg.Topic, "error", err)
	}
}
