package websocket

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/satriahrh/voicerelay/domain/entities"
	"github.com/satriahrh/voicerelay/domain/repositories"
	"github.com/satriahrh/voicerelay/internal/ingress"
	"github.com/satriahrh/voicerelay/internal/turn"
	"github.com/satriahrh/voicerelay/usecase"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer.
	maxMessageSize = 512 * 1024

	// Outbound messages queued per client before senders block.
	sendBufferSize = 256

	// Transcript events queued between the recognition worker and the turn loop.
	eventBufferSize = 64
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

// Responder produces the reply text for one finalized user turn
type Responder interface {
	Respond(ctx context.Context, session *entities.Session, userText string) (usecase.Reply, error)
}

// Relayer speaks reply text to a client
type Relayer interface {
	Relay(ctx context.Context, sink usecase.ClientSink, text string) (usecase.RelayResult, error)
}

// HubConfig wires the per-session pipeline
type HubConfig struct {
	STT          repositories.SpeechToText
	Conversation Responder
	Relay        Relayer

	// ValidateCredentials runs in CONNECTING; an error closes the session with
	// a policy violation before any provider is contacted.
	ValidateCredentials func() error

	Audio    repositories.AudioConfig
	Greeting string

	IngressCapacity int
	DedupCapacity   int
}

// Hub is the registry of live sessions
type Hub struct {
	config HubConfig

	mu        sync.RWMutex
	clients   map[string]*Client
	onCreate  []func(*Client)
	onDestroy []func(*Client)

	logger *zap.Logger
}

// NewHub creates a new WebSocket hub
func NewHub(config HubConfig, logger *zap.Logger) *Hub {
	if config.Audio.SampleRate <= 0 {
		config.Audio.SampleRate = ingress.DefaultSampleRate
	}
	if config.Audio.Encoding == "" {
		config.Audio.Encoding = "pcm_s16le"
	}
	if config.Audio.Language == "" {
		config.Audio.Language = "en-US"
	}
	if config.IngressCapacity <= 0 {
		config.IngressCapacity = ingress.DefaultCapacity
	}
	if config.DedupCapacity <= 0 {
		config.DedupCapacity = turn.DefaultRecentCapacity
	}

	return &Hub{
		config:  config,
		clients: make(map[string]*Client),
		logger:  logger,
	}
}

// OnCreate registers a hook run after a session becomes active
func (h *Hub) OnCreate(hook func(*Client)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.onCreate = append(h.onCreate, hook)
}

// OnDestroy registers a hook run after a session is closed
func (h *Hub) OnDestroy(hook func(*Client)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.onDestroy = append(h.onDestroy, hook)
}

// Register adds a client and returns the function that removes it.
// The returned function is idempotent.
func (h *Hub) Register(client *Client) (unregister func()) {
	h.mu.Lock()
	h.clients[client.ID()] = client
	hooks := append([]func(*Client){}, h.onCreate...)
	h.mu.Unlock()

	h.logger.Info("Client registered", zap.String("sessionID", client.ID()))
	for _, hook := range hooks {
		hook(client)
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.clients, client.ID())
			hooks := append([]func(*Client){}, h.onDestroy...)
			h.mu.Unlock()

			h.logger.Info("Client unregistered", zap.String("sessionID", client.ID()))
			for _, hook := range hooks {
				hook(client)
			}
		})
	}
}

// Count returns the number of live sessions
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Get returns a live session by id
func (h *Hub) Get(sessionID string) (*Client, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	client, ok := h.clients[sessionID]
	return client, ok
}

// Shutdown closes every live connection and waits until their sessions
// are closed or ctx is done
func (h *Hub) Shutdown(ctx context.Context) error {
	h.mu.RLock()
	clients := make([]*Client, 0, len(h.clients))
	for _, client := range h.clients {
		clients = append(clients, client)
	}
	h.mu.RUnlock()

	for _, client := range clients {
		client.closeConn(websocket.CloseGoingAway, "server shutting down")
	}
	for _, client := range clients {
		select {
		case <-client.Done():
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// HandleWebSocket upgrades the request and runs one session until the
// client disconnects
func HandleWebSocket(hub *Hub, c echo.Context) error {
	conn, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		hub.logger.Error("WebSocket upgrade failed", zap.Error(err))
		return err
	}

	session := entities.NewSession(uuid.NewString())
	logger := hub.logger.With(zap.String("sessionID", session.ID))

	if hub.config.ValidateCredentials != nil {
		if err := hub.config.ValidateCredentials(); err != nil {
			logger.Error("Rejecting session, provider credentials missing", zap.Error(err))
			rejectConn(conn, websocket.ClosePolicyViolation, "missing provider credentials")
			_ = session.Transition(entities.SessionStateClosed)
			return nil
		}
	}

	client := newClient(hub, conn, session, logger)
	if err := client.start(); err != nil {
		logger.Error("Failed to start session", zap.Error(err))
		return nil
	}

	return nil
}

// rejectConn closes a connection that never became a session
func rejectConn(conn *websocket.Conn, code int, reason string) {
	deadline := time.Now().Add(writeWait)
	_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), deadline)
	_ = conn.Close()
}
