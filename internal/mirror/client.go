package mirror

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"
)

// writeTimeout bounds a single frame write when the caller's context has no
// deadline of its own.
const writeTimeout = 5 * time.Second

// Client is a websocket connection to a mirror server under one identity.
// It implements Channel.
type Client struct {
	ws     *websocket.Conn
	logger *log.Logger

	mu     sync.Mutex
	subs   map[string]*subscription
	closed bool

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

var _ Channel = (*Client)(nil)

// Dial connects to the mirror server at url (ws://host:port/ws) and
// authenticates with token.
//
// Example:
//
//	client, err := mirror.Dial(ctx, "ws://localhost:8787/ws", token, nil)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
func Dial(ctx context.Context, url, token string, logger *log.Logger) (*Client, error) {
	if token == "" {
		return nil, fmt.Errorf("token is required")
	}
	if logger == nil {
		logger = log.New(os.Stderr, "[mirror] ", log.LstdFlags)
	}

	ws, _, err := websocket.Dial(ctx, url, &websocket.DialOptions{
		HTTPHeader: http.Header{"Authorization": []string{"Bearer " + token}},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to mirror: %w", err)
	}
	ws.SetReadLimit(8 << 20)

	cctx, cancel := context.WithCancel(context.Background())
	c := &Client{
		ws:     ws,
		logger: logger,
		subs:   make(map[string]*subscription),
		ctx:    cctx,
		cancel: cancel,
		done:   make(chan struct{}),
	}

	go c.readLoop()
	return c, nil
}

// Done is closed when the connection ends, whether by Close or by the
// server going away.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// State reports the lifecycle state of key on this client.
func (c *Client) State(key string) State {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return StateClosed
	}
	if sub, ok := c.subs[key]; ok {
		return sub.State()
	}
	return StateIdle
}

// Subscribe implements Channel.Subscribe. A key can have one listener per
// client.
func (c *Client) Subscribe(key string, fn func(Snapshot)) (Subscription, error) {
	if err := ValidateKey(key); err != nil {
		return nil, err
	}
	if fn == nil {
		return nil, fmt.Errorf("callback is required")
	}

	sub := &subscription{client: c, key: key, fn: fn}
	sub.state.Store(int32(StateSubscribed))

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, ErrClosed
	}
	if _, exists := c.subs[key]; exists {
		c.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrAlreadySubscribed, key)
	}
	c.subs[key] = sub
	c.mu.Unlock()

	if err := c.send(context.Background(), Frame{Type: FrameSubscribe, Key: key}); err != nil {
		sub.markClosed()
		c.forget(sub)
		return nil, fmt.Errorf("failed to subscribe to %s: %w", key, err)
	}

	return sub, nil
}

// Push implements Channel.Push.
func (c *Client) Push(ctx context.Context, key string, doc json.RawMessage) error {
	if err := ValidateKey(key); err != nil {
		return err
	}
	return c.send(ctx, Frame{Type: FramePush, Key: key, Doc: doc})
}

// Close implements Channel.Close.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		<-c.done
		return nil
	}
	c.closed = true
	subs := c.takeSubs()
	c.mu.Unlock()

	for _, sub := range subs {
		sub.markClosed()
	}

	_ = c.ws.Close(websocket.StatusNormalClosure, "")
	c.cancel()
	<-c.done
	return nil
}

func (c *Client) send(ctx context.Context, f Frame) error {
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return ErrClosed
	}

	data, err := json.Marshal(f)
	if err != nil {
		return fmt.Errorf("failed to marshal frame: %w", err)
	}

	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, writeTimeout)
		defer cancel()
	}
	if err := c.ws.Write(ctx, websocket.MessageText, data); err != nil {
		return fmt.Errorf("failed to send %s frame: %w", f.Type, err)
	}
	return nil
}

// readLoop dispatches server frames until the connection ends.
func (c *Client) readLoop() {
	defer close(c.done)

	for {
		_, data, err := c.ws.Read(c.ctx)
		if err != nil {
			c.shutdown(err)
			return
		}

		var f Frame
		if err := json.Unmarshal(data, &f); err != nil {
			c.logger.Printf("Warning: dropping malformed frame: %v", err)
			continue
		}

		switch f.Type {
		case FrameSnapshot:
			c.mu.Lock()
			sub := c.subs[f.Key]
			c.mu.Unlock()
			if sub != nil {
				sub.deliver(Snapshot{Key: f.Key, Exists: f.Exists, Doc: f.Doc})
			}
		case FrameError:
			c.logger.Printf("Mirror rejected %s: %s", f.Key, f.Error)
		default:
			c.logger.Printf("Warning: unexpected frame type %q", f.Type)
		}
	}
}

// shutdown closes every subscription after the connection is lost.
func (c *Client) shutdown(err error) {
	c.mu.Lock()
	wasClosed := c.closed
	c.closed = true
	subs := c.takeSubs()
	c.mu.Unlock()

	for _, sub := range subs {
		sub.markClosed()
	}
	if !wasClosed {
		c.logger.Printf("Mirror connection lost: %v", err)
	}
}

// takeSubs empties the subscription table. Caller holds c.mu.
func (c *Client) takeSubs() []*subscription {
	subs := make([]*subscription, 0, len(c.subs))
	for _, sub := range c.subs {
		subs = append(subs, sub)
	}
	c.subs = make(map[string]*subscription)
	return subs
}

// forget removes sub from the table if it is still registered.
func (c *Client) forget(sub *subscription) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.subs[sub.key] != sub {
		return false
	}
	delete(c.subs, sub.key)
	return !c.closed
}

// subscription implements Subscription for Client.
type subscription struct {
	client *Client
	key    string
	fn     func(Snapshot)
	state  atomic.Int32

	// deliverMu serializes callbacks for this key.
	deliverMu sync.Mutex
}

func (s *subscription) Key() string {
	return s.key
}

func (s *subscription) State() State {
	return State(s.state.Load())
}

func (s *subscription) deliver(snap Snapshot) {
	s.deliverMu.Lock()
	defer s.deliverMu.Unlock()

	if s.State() != StateSubscribed {
		return
	}
	s.fn(snap)
}

func (s *subscription) markClosed() {
	s.state.Store(int32(StateClosed))
}

// Close implements Subscription.Close.
func (s *subscription) Close() error {
	if State(s.state.Swap(int32(StateClosed))) == StateClosed {
		return nil
	}

	if s.client.forget(s) {
		// Best effort; the server also drops watchers when the socket closes.
		if err := s.client.send(context.Background(), Frame{Type: FrameUnsubscribe, Key: s.key}); err != nil {
			s.client.logger.Printf("Warning: failed to unsubscribe %s: %v", s.key, err)
		}
	}
	return nil
}
