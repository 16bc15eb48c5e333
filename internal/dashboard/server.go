// Package dashboard serves the sync status feed.
//
// Clients get the connectivity indicator and pending-writes badge in two
// ways: GET /status returns a JSON snapshot, and /ws streams every change as
// it happens (connectivity, pending, sync_complete, dead_letter messages).
package dashboard

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"net/url"
	"os"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/rs/cors"
)

// MessageType names a feed message.
type MessageType string

const (
	MessageTypeStatus       MessageType = "status" // snapshot, first message on every connection
	MessageTypeConnectivity MessageType = "connectivity"
	MessageTypePending      MessageType = "pending"
	MessageTypeSyncComplete MessageType = "sync_complete"
	MessageTypeDeadLetter   MessageType = "dead_letter"
)

// Message is one feed frame.
type Message struct {
	Type      MessageType     `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// StatusFunc returns the current status snapshot served on /status.
type StatusFunc func() any

const (
	clientBuffer = 32
	writeTimeout = 5 * time.Second
)

// client is one WebSocket subscriber. Frames are written by its own
// goroutine so a slow reader never holds up the others.
type client struct {
	conn *websocket.Conn
	send chan []byte
	done chan struct{}
	once sync.Once
}

func (c *client) close() {
	c.once.Do(func() { close(c.done) })
}

// Server fans status messages out to WebSocket clients.
type Server struct {
	addr     string
	listener net.Listener
	server   *http.Server
	status   StatusFunc
	origins  []string
	logger   *log.Logger

	mu      sync.Mutex
	clients map[*client]struct{}

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// Config holds server configuration.
type Config struct {
	// Port to listen on; 0 picks a free port.
	Port int
	// Host to bind. Defaults to 127.0.0.1.
	Host string
	// AllowedOrigins for CORS and WebSocket origin checks. Empty allows any.
	AllowedOrigins []string
	Status         StatusFunc
	Logger         *log.Logger
}

// DefaultConfig returns the settings used when NewServer gets nil.
func DefaultConfig() *Config {
	return &Config{
		Port:   8787,
		Host:   "127.0.0.1",
		Logger: log.New(os.Stderr, "[dashboard] ", log.LstdFlags),
	}
}

// NewServer creates a status feed server. Call Start to listen.
func NewServer(config *Config) *Server {
	if config == nil {
		config = DefaultConfig()
	}
	logger := config.Logger
	if logger == nil {
		logger = log.New(os.Stderr, "[dashboard] ", log.LstdFlags)
	}
	host := config.Host
	if host == "" {
		host = "127.0.0.1"
	}
	origins := config.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		addr:    net.JoinHostPort(host, fmt.Sprint(config.Port)),
		status:  config.Status,
		origins: origins,
		logger:  logger,
		clients: make(map[*client]struct{}),
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Handler returns the HTTP routes wrapped with CORS.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWebSocket)
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/status", s.handleStatus)

	c := cors.New(cors.Options{
		AllowedOrigins: s.origins,
		AllowedMethods: []string{http.MethodGet, http.MethodOptions},
		AllowedHeaders: []string{"*"},
	})
	return c.Handler(mux)
}

// Start listens and serves in the background.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.addr, err)
	}
	s.listener = ln
	s.server = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.logger.Printf("Status feed listening on %s", ln.Addr())
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Printf("Server error: %v", err)
		}
	}()
	return nil
}

// Stop disconnects every client and shuts the HTTP server down.
func (s *Server) Stop() error {
	s.logger.Println("Stopping status feed")
	s.cancel()

	s.mu.Lock()
	for c := range s.clients {
		c.close()
	}
	s.mu.Unlock()

	if s.server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.server.Shutdown(ctx); err != nil {
			return fmt.Errorf("server shutdown error: %w", err)
		}
	}
	s.wg.Wait()
	return nil
}

// Broadcast sends msg to every connected client. It never blocks: a client
// whose buffer is full is disconnected and can reconnect for a fresh
// snapshot.
func (s *Server) Broadcast(msg Message) {
	if s.ctx.Err() != nil {
		return
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now()
	}
	data, err := json.Marshal(msg)
	if err != nil {
		s.logger.Printf("Failed to marshal %s message: %v", msg.Type, err)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for c := range s.clients {
		select {
		case c.send <- data:
		default:
			s.logger.Println("WARNING: client too slow, disconnecting")
			c.close()
		}
	}
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: originHosts(s.origins),
	})
	if err != nil {
		s.logger.Printf("WebSocket upgrade failed: %v", err)
		return
	}

	c := &client{
		conn: conn,
		send: make(chan []byte, clientBuffer),
		done: make(chan struct{}),
	}
	// Queued ahead of registration so the snapshot is always first.
	if data, err := s.snapshot(); err == nil {
		c.send <- data
	} else {
		s.logger.Printf("WARNING: %v", err)
	}

	s.mu.Lock()
	s.clients[c] = struct{}{}
	n := len(s.clients)
	s.mu.Unlock()
	s.logger.Printf("Client connected (total: %d)", n)

	go s.readFrom(c)
	s.writeTo(c)
	s.drop(c)
}

// writeTo delivers queued frames until the client or server goes away.
func (s *Server) writeTo(c *client) {
	for {
		select {
		case data := <-c.send:
			ctx, cancel := context.WithTimeout(s.ctx, writeTimeout)
			err := c.conn.Write(ctx, websocket.MessageText, data)
			cancel()
			if err != nil {
				s.logger.Printf("Failed to send to client: %v", err)
				return
			}
		case <-c.done:
			return
		case <-s.ctx.Done():
			return
		}
	}
}

// readFrom discards client frames; a read error means the peer left.
func (s *Server) readFrom(c *client) {
	defer c.close()
	for {
		if _, _, err := c.conn.Read(s.ctx); err != nil {
			return
		}
	}
}

func (s *Server) drop(c *client) {
	s.mu.Lock()
	delete(s.clients, c)
	n := len(s.clients)
	s.mu.Unlock()

	c.close()
	status, reason := websocket.StatusNormalClosure, ""
	if s.ctx.Err() != nil {
		status, reason = websocket.StatusGoingAway, "server shutting down"
	}
	_ = c.conn.Close(status, reason)
	s.logger.Printf("Client disconnected (total: %d)", n)
}

func (s *Server) snapshot() ([]byte, error) {
	msg := Message{Type: MessageTypeStatus, Timestamp: time.Now()}
	if s.status != nil {
		data, err := json.Marshal(s.status())
		if err != nil {
			return nil, fmt.Errorf("failed to marshal status: %w", err)
		}
		msg.Data = data
	}
	return json.Marshal(msg)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"status":  "ok",
		"clients": s.ClientCount(),
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if s.status == nil {
		http.Error(w, "status unavailable", http.StatusServiceUnavailable)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(s.status()); err != nil {
		s.logger.Printf("Failed to encode status: %v", err)
	}
}

// originHosts converts CORS origins ("https://app.example.com") into the
// host patterns websocket.Accept matches against.
func originHosts(origins []string) []string {
	hosts := make([]string, 0, len(origins))
	for _, o := range origins {
		if u, err := url.Parse(o); err == nil && u.Host != "" {
			hosts = append(hosts, u.Host)
			continue
		}
		hosts = append(hosts, o)
	}
	return hosts
}

// Addr returns the listening address once started.
func (s *Server) Addr() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.addr
}

// ClientCount returns the number of connected clients.
func (s *Server) ClientCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.clients)
}
