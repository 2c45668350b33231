// Package mirror provides the remote mirror for nestlog collections.
//
// The server keeps one JSON document per (identity, collection key) and
// streams snapshots of those documents to websocket subscribers. Pushes are
// merge-upserts: only the top-level fields in the push are replaced. Every
// accepted push is fanned out to all subscribers of the document, including
// the connection that sent it; clients are expected to drop their own echoes.
package mirror

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/coder/websocket"
)

// ServerConfig holds server configuration.
type ServerConfig struct {
	// Host to bind (default: all interfaces)
	Host string

	// Port to listen on (default: 8787, 0 picks a free port)
	Port int

	// DBPath is the SQLite file holding documents. Empty keeps them in memory.
	DBPath string

	// Tokens maps bearer tokens to identities. When empty the server runs in
	// open mode and the token itself is the identity.
	Tokens map[string]string

	// Logger for server activity (default: log.Default())
	Logger *log.Logger
}

// DefaultServerConfig returns sensible defaults.
func DefaultServerConfig() *ServerConfig {
	return &ServerConfig{
		Port:   8787,
		Logger: log.Default(),
	}
}

// conn is one authenticated websocket client.
type conn struct {
	ws       *websocket.Conn
	identity string
}

// outbound is a frame queued for delivery. A nil target means every
// subscriber of path.
type outbound struct {
	path   string
	target *conn
	frame  Frame
}

// Server manages websocket connections and the document store.
type Server struct {
	addr     string
	listener net.Listener
	server   *http.Server
	dbPath   string
	docs     *docStore
	tokens   map[string]string

	// Client and subscription bookkeeping
	clients   map[*conn]bool
	watchers  map[string]map[*conn]bool // document path -> subscribers
	clientsMu sync.RWMutex

	// docsMu orders document reads/merges with their fan-out so a
	// subscriber never sees an older snapshot after a newer one.
	docsMu sync.Mutex
	queue  chan outbound

	// Lifecycle management
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	logger *log.Logger
}

// NewServer creates a new mirror server. Call Start to listen.
func NewServer(config *ServerConfig) *Server {
	if config == nil {
		config = DefaultServerConfig()
	}
	if config.Logger == nil {
		config.Logger = log.Default()
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Server{
		addr:     net.JoinHostPort(config.Host, strconv.Itoa(config.Port)),
		dbPath:   config.DBPath,
		tokens:   config.Tokens,
		clients:  make(map[*conn]bool),
		watchers: make(map[string]map[*conn]bool),
		queue:    make(chan outbound, 256),
		ctx:      ctx,
		cancel:   cancel,
		logger:   config.Logger,
	}
}

// Start opens the document store and begins serving.
func (s *Server) Start() error {
	docs, err := openDocStore(s.dbPath)
	if err != nil {
		return err
	}
	s.docs = docs

	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		_ = docs.close()
		return fmt.Errorf("failed to listen on %s: %w", s.addr, err)
	}
	s.listener = ln

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWebSocket)
	mux.HandleFunc("/health", s.handleHealth)

	s.server = &http.Server{
		Handler:     mux,
		ReadTimeout: 10 * time.Second,
	}

	s.wg.Add(1)
	go s.deliverLoop()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.logger.Printf("Mirror server listening on %s", ln.Addr())
		if err := s.server.Serve(ln); err != nil && err != http.ErrServerClosed {
			s.logger.Printf("Server error: %v", err)
		}
	}()

	return nil
}

// Stop gracefully shuts down the server.
func (s *Server) Stop() error {
	s.logger.Println("Stopping mirror server")

	s.cancel()

	s.clientsMu.Lock()
	for c := range s.clients {
		_ = c.ws.Close(websocket.StatusGoingAway, "Server shutting down")
		delete(s.clients, c)
	}
	s.watchers = make(map[string]map[*conn]bool)
	s.clientsMu.Unlock()

	if s.server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.server.Shutdown(ctx); err != nil {
			return fmt.Errorf("server shutdown error: %w", err)
		}
	}

	s.wg.Wait()

	if s.docs != nil {
		if err := s.docs.close(); err != nil {
			s.logger.Printf("Error closing document store: %v", err)
		}
	}

	s.logger.Println("Mirror server stopped")
	return nil
}

// GetAddr returns the server's listening address.
func (s *Server) GetAddr() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.addr
}

// ClientCount returns the current number of connected clients.
func (s *Server) ClientCount() int {
	s.clientsMu.RLock()
	defer s.clientsMu.RUnlock()
	return len(s.clients)
}

// WatcherCount returns the number of subscribers of key under identity.
func (s *Server) WatcherCount(identity, key string) int {
	s.clientsMu.RLock()
	defer s.clientsMu.RUnlock()
	return len(s.watchers[DocPath(identity, key)])
}

// authenticate resolves the bearer token on r to an identity.
func (s *Server) authenticate(r *http.Request) (string, bool) {
	token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
	token = strings.TrimSpace(token)
	if !ok || token == "" {
		return "", false
	}
	if len(s.tokens) == 0 {
		if strings.Contains(token, "/") {
			return "", false
		}
		return token, true
	}
	identity, ok := s.tokens[token]
	return identity, ok && identity != ""
}

// handleWebSocket authenticates and upgrades HTTP connections.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	identity, ok := s.authenticate(r)
	if !ok {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	ws, err := websocket.Accept(w, r, nil)
	if err != nil {
		s.logger.Printf("WebSocket upgrade failed: %v", err)
		return
	}
	// Documents are small; cap frames well above any realistic collection.
	ws.SetReadLimit(8 << 20)

	c := &conn{ws: ws, identity: identity}

	s.clientsMu.Lock()
	s.clients[c] = true
	clientCount := len(s.clients)
	s.clientsMu.Unlock()

	s.logger.Printf("Client connected: %s (total: %d)", identity, clientCount)

	s.readLoop(c)
}

// readLoop handles client frames until the connection drops.
func (s *Server) readLoop(c *conn) {
	defer s.removeClient(c)

	for {
		_, data, err := c.ws.Read(s.ctx)
		if err != nil {
			return
		}

		var f Frame
		if err := json.Unmarshal(data, &f); err != nil {
			s.enqueue(outbound{target: c, frame: Frame{Type: FrameError, Error: "malformed frame"}})
			continue
		}
		if err := ValidateKey(f.Key); err != nil {
			s.enqueue(outbound{target: c, frame: Frame{Type: FrameError, Key: f.Key, Error: err.Error()}})
			continue
		}

		path := DocPath(c.identity, f.Key)

		switch f.Type {
		case FrameSubscribe:
			s.subscribe(c, f.Key, path)
		case FrameUnsubscribe:
			s.unsubscribe(c, path)
		case FramePush:
			s.push(c, f, path)
		default:
			s.enqueue(outbound{target: c, frame: Frame{Type: FrameError, Key: f.Key, Error: "unknown frame type " + string(f.Type)}})
		}
	}
}

// subscribe registers c on path and queues the current document for it.
func (s *Server) subscribe(c *conn, key, path string) {
	s.docsMu.Lock()
	defer s.docsMu.Unlock()

	s.clientsMu.Lock()
	if s.watchers[path] == nil {
		s.watchers[path] = make(map[*conn]bool)
	}
	s.watchers[path][c] = true
	s.clientsMu.Unlock()

	doc, exists, err := s.docs.get(s.ctx, path)
	if err != nil {
		s.logger.Printf("Failed to read %s: %v", path, err)
		s.enqueue(outbound{target: c, frame: Frame{Type: FrameError, Key: key, Error: "read failed"}})
		return
	}
	s.enqueue(outbound{target: c, frame: Frame{Type: FrameSnapshot, Key: key, Exists: exists, Doc: doc}})
}

func (s *Server) unsubscribe(c *conn, path string) {
	s.clientsMu.Lock()
	defer s.clientsMu.Unlock()

	delete(s.watchers[path], c)
	if len(s.watchers[path]) == 0 {
		delete(s.watchers, path)
	}
}

// push merges the frame document and fans the result out to subscribers.
func (s *Server) push(c *conn, f Frame, path string) {
	s.docsMu.Lock()
	defer s.docsMu.Unlock()

	merged, err := s.docs.merge(s.ctx, path, f.Doc)
	if err != nil {
		s.logger.Printf("Rejected push to %s: %v", path, err)
		s.enqueue(outbound{target: c, frame: Frame{Type: FrameError, Key: f.Key, Error: err.Error()}})
		return
	}
	s.enqueue(outbound{path: path, frame: Frame{Type: FrameSnapshot, Key: f.Key, Exists: true, Doc: merged}})
}

// enqueue hands a frame to the delivery loop, blocking if it is behind.
func (s *Server) enqueue(o outbound) {
	select {
	case s.queue <- o:
	case <-s.ctx.Done():
	}
}

// deliverLoop writes queued frames in order.
func (s *Server) deliverLoop() {
	defer s.wg.Done()

	for {
		select {
		case <-s.ctx.Done():
			return

		case o := <-s.queue:
			data, err := json.Marshal(o.frame)
			if err != nil {
				s.logger.Printf("Failed to marshal frame: %v", err)
				continue
			}

			var targets []*conn
			if o.target != nil {
				targets = []*conn{o.target}
			} else {
				s.clientsMu.RLock()
				for c := range s.watchers[o.path] {
					targets = append(targets, c)
				}
				s.clientsMu.RUnlock()
			}

			for _, c := range targets {
				ctx, cancel := context.WithTimeout(s.ctx, 5*time.Second)
				err := c.ws.Write(ctx, websocket.MessageText, data)
				cancel()

				if err != nil {
					s.logger.Printf("Failed to send to %s: %v", c.identity, err)
					s.removeClient(c)
				}
			}
		}
	}
}

// removeClient drops a connection and all of its subscriptions.
func (s *Server) removeClient(c *conn) {
	s.clientsMu.Lock()
	if _, exists := s.clients[c]; !exists {
		s.clientsMu.Unlock()
		return
	}
	delete(s.clients, c)
	for path, subs := range s.watchers {
		delete(subs, c)
		if len(subs) == 0 {
			delete(s.watchers, path)
		}
	}
	clientCount := len(s.clients)
	s.clientsMu.Unlock()

	_ = c.ws.Close(websocket.StatusNormalClosure, "")
	s.logger.Printf("Client disconnected: %s (total: %d)", c.identity, clientCount)
}

// handleHealth returns server health status.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	docs, err := s.docs.count(r.Context())
	if err != nil {
		s.logger.Printf("Health check failed: %v", err)
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"status":    "ok",
		"clients":   s.ClientCount(),
		"documents": docs,
	})
}
