// Package dashboard serves the read-only HTTP view of the metadata store and
// a WebSocket status feed.
//
// Clients connected to /ws receive a stats message on connect and then, on
// every poll, a stats message plus one file_update message per record whose
// status changed since the previous poll.
package dashboard

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

	"github.com/coder/websocket"

	"github.com/sciber-ai/audiosync/internal/metrics"
	"github.com/sciber-ai/audiosync/internal/model"
	"github.com/sciber-ai/audiosync/internal/queue"
	"github.com/sciber-ai/audiosync/internal/store"
)

// MessageType defines the type of feed message.
type MessageType string

const (
	// MessageTypeStats carries store-wide counts.
	MessageTypeStats MessageType = "stats"

	// MessageTypeFileUpdate reports a record that appeared, changed status or
	// disappeared.
	MessageTypeFileUpdate MessageType = "file_update"

	// MessageTypeSyncRequested is sent after POST /sync submitted a sweep.
	MessageTypeSyncRequested MessageType = "sync_requested"
)

// Message is one feed frame.
type Message struct {
	Type      MessageType     `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// FileUpdateData describes one record change.
type FileUpdateData struct {
	ID        int64            `json:"id"`
	Filename  string           `json:"filename"`
	ModelTag  model.ModelTag   `json:"whisper_model"`
	Action    string           `json:"action"` // created, updated, deleted
	Status    model.FileStatus `json:"status,omitempty"`
	Previous  model.FileStatus `json:"previous,omitempty"`
	UpdatedAt time.Time        `json:"updated_at"`
}

// Store is the part of the metadata store the dashboard reads.
type Store interface {
	Ping(ctx context.Context) error
	ListFiles(ctx context.Context, opts store.ListOptions) ([]*model.FileRecord, error)
	GetFileDetail(ctx context.Context, id int64) (*store.FileDetail, error)
	GetStats(ctx context.Context) (*store.Stats, error)
}

// Config holds server configuration.
type Config struct {
	// Addr to listen on (default ":8080"). Use ":0" for a random port.
	Addr string

	// PollInterval is how often the store is polled for the feed.
	PollInterval time.Duration

	// PollLimit bounds the number of most recent records tracked for
	// file_update messages.
	PollLimit int

	Logger *log.Logger
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Addr:         ":8080",
		PollInterval: 2 * time.Second,
		PollLimit:    500,
		Logger:       log.New(os.Stderr, "[dashboard] ", log.LstdFlags),
	}
}

// Server manages the HTTP listener, WebSocket clients and the store poller.
type Server struct {
	store     Store
	submitter queue.Submitter
	config    *Config

	listener net.Listener
	server   *http.Server

	clients   map[*websocket.Conn]bool
	clientsMu sync.RWMutex

	broadcast chan Message

	// lastSeen holds the status of every tracked record at the last poll.
	lastSeen map[int64]*model.FileRecord
	primed   bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	logger *log.Logger
}

// NewServer creates a dashboard server. submitter may be nil, in which case
// POST /sync answers 503.
func NewServer(st Store, submitter queue.Submitter, config *Config) (*Server, error) {
	if st == nil {
		return nil, fmt.Errorf("store cannot be nil")
	}
	defaults := DefaultConfig()
	if config == nil {
		config = defaults
	}
	if config.Addr == "" {
		config.Addr = defaults.Addr
	}
	if config.PollInterval <= 0 {
		config.PollInterval = defaults.PollInterval
	}
	if config.PollLimit <= 0 {
		config.PollLimit = defaults.PollLimit
	}
	if config.Logger == nil {
		config.Logger = defaults.Logger
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Server{
		store:     st,
		submitter: submitter,
		config:    config,
		clients:   make(map[*websocket.Conn]bool),
		broadcast: make(chan Message, 100),
		lastSeen:  make(map[int64]*model.FileRecord),
		ctx:       ctx,
		cancel:    cancel,
		logger:    config.Logger,
	}, nil
}

// Handler returns the routing table. The WebSocket endpoint bypasses the
// metrics middleware because it needs the raw connection.
func (s *Server) Handler() http.Handler {
	api := http.NewServeMux()
	api.HandleFunc("GET /health", s.handleHealth)
	api.HandleFunc("GET /files", s.handleListFiles)
	api.HandleFunc("GET /files/{id}", s.handleGetFile)
	api.HandleFunc("GET /stats", s.handleStats)
	api.HandleFunc("POST /sync", s.handleSync)
	api.Handle("GET /metrics", metrics.Handler())
	api.HandleFunc("GET /{$}", s.handleRoot)

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWebSocket)
	mux.Handle("/", metrics.Middleware(api))
	return mux
}

// Start begins serving and polling. It returns once the listener is bound.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.config.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.config.Addr, err)
	}
	s.listener = ln

	s.server = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.wg.Add(3)
	go s.broadcastLoop()
	go s.pollLoop()
	go func() {
		defer s.wg.Done()
		s.logger.Printf("Dashboard listening on %s", ln.Addr())
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Printf("Server error: %v", err)
		}
	}()

	return nil
}

// Stop closes client connections, shuts the HTTP server down and waits for
// the background loops.
func (s *Server) Stop() error {
	s.logger.Println("Stopping dashboard")
	s.cancel()

	s.clientsMu.Lock()
	for conn := range s.clients {
		_ = conn.Close(websocket.StatusGoingAway, "server shutting down")
		delete(s.clients, conn)
	}
	s.clientsMu.Unlock()

	var err error
	if s.server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if shutdownErr := s.server.Shutdown(ctx); shutdownErr != nil {
			err = fmt.Errorf("server shutdown error: %w", shutdownErr)
		}
	}

	s.wg.Wait()
	s.logger.Println("Dashboard stopped")
	return err
}

// Addr returns the bound listener address, or the configured one before
// Start.
func (s *Server) Addr() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.config.Addr
}

// ClientCount returns the current number of connected feed clients.
func (s *Server) ClientCount() int {
	s.clientsMu.RLock()
	defer s.clientsMu.RUnlock()
	return len(s.clients)
}

// Broadcast queues msg for every connected client. Messages are dropped
// when the queue is full.
func (s *Server) Broadcast(msg Message) {
	select {
	case s.broadcast <- msg:
	case <-s.ctx.Done():
	default:
		s.logger.Println("Warning: broadcast channel full, dropping message")
	}
}

func newMessage(typ MessageType, data any) (Message, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return Message{}, fmt.Errorf("failed to marshal %s message: %w", typ, err)
	}
	return Message{Type: typ, Timestamp: time.Now().UTC(), Data: raw}, nil
}

func (s *Server) broadcastLoop() {
	defer s.wg.Done()

	for {
		select {
		case <-s.ctx.Done():
			return

		case msg := <-s.broadcast:
			if msg.Timestamp.IsZero() {
				msg.Timestamp = time.Now().UTC()
			}
			data, err := json.Marshal(msg)
			if err != nil {
				s.logger.Printf("Warning: failed to marshal message: %v", err)
				continue
			}

			s.clientsMu.RLock()
			clients := make([]*websocket.Conn, 0, len(s.clients))
			for conn := range s.clients {
				clients = append(clients, conn)
			}
			s.clientsMu.RUnlock()

			for _, conn := range clients {
				if err := s.write(conn, data); err != nil {
					s.logger.Printf("Warning: failed to send to client: %v", err)
					s.removeClient(conn)
				}
			}
		}
	}
}

func (s *Server) write(conn *websocket.Conn, data []byte) error {
	ctx, cancel := context.WithTimeout(s.ctx, 5*time.Second)
	defer cancel()
	return conn.Write(ctx, websocket.MessageText, data)
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		s.logger.Printf("WebSocket upgrade failed: %v", err)
		return
	}

	// Send the current stats before registering so the first frame a client
	// sees is always a stats snapshot.
	if msg, err := s.statsMessage(r.Context()); err == nil {
		if data, err := json.Marshal(msg); err == nil {
			_ = s.write(conn, data)
		}
	} else {
		s.logger.Printf("Warning: failed to load stats for new client: %v", err)
	}

	s.clientsMu.Lock()
	s.clients[conn] = true
	count := len(s.clients)
	s.clientsMu.Unlock()
	s.logger.Printf("Client connected (total: %d)", count)

	s.readLoop(conn)
}

// readLoop discards client frames and returns when the client goes away.
func (s *Server) readLoop(conn *websocket.Conn) {
	defer s.removeClient(conn)

	for {
		if _, _, err := conn.Read(s.ctx); err != nil {
			return
		}
	}
}

func (s *Server) removeClient(conn *websocket.Conn) {
	s.clientsMu.Lock()
	if _, ok := s.clients[conn]; !ok {
		s.clientsMu.Unlock()
		return
	}
	delete(s.clients, conn)
	count := len(s.clients)
	s.clientsMu.Unlock()

	_ = conn.Close(websocket.StatusNormalClosure, "")
	s.logger.Printf("Client disconnected (total: %d)", count)
}
