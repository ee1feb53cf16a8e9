package websocket

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/satriahrh/voicerelay/domain"
	"github.com/satriahrh/voicerelay/domain/entities"
	"github.com/satriahrh/voicerelay/domain/repositories"
	"github.com/satriahrh/voicerelay/internal/ingress"
	"github.com/satriahrh/voicerelay/internal/turn"
)

type WriteData struct {
	// MessageType is the type of the websocket message.
	// Expect websocket.TextMessage or websocket.BinaryMessage
	Type    int
	Payload []byte
}

// Client is one voice session: the websocket connection plus its
// recognition worker, turn loop and relay worker.
type Client struct {
	hub *Hub

	// The websocket connection.
	conn *websocket.Conn

	// Buffered channel of outbound messages.
	send chan WriteData

	// Closed once the session reached CLOSED.
	done chan struct{}

	session   *entities.Session
	stateMu   sync.RWMutex
	ingress   *ingress.Buffer
	tracker   *turn.Tracker
	validator *MessageValidator

	sttStream repositories.SpeechToTextStreaming
	events    chan repositories.TranscriptEvent
	relayJobs chan string

	ctx        context.Context
	cancel     context.CancelFunc
	wg         sync.WaitGroup
	drainOnce  sync.Once
	unregister func()

	logger *zap.Logger
}

func newClient(hub *Hub, conn *websocket.Conn, session *entities.Session, logger *zap.Logger) *Client {
	silence := ingress.SilenceFrameSize(hub.config.Audio.SampleRate, ingress.DefaultPullTimeout)
	return &Client{
		hub:        hub,
		conn:       conn,
		send:       make(chan WriteData, sendBufferSize),
		done:       make(chan struct{}),
		session:    session,
		ingress:    ingress.NewBuffer(hub.config.IngressCapacity, silence, logger),
		tracker:    turn.NewTracker(hub.config.DedupCapacity),
		validator:  NewMessageValidator(),
		events:     make(chan repositories.TranscriptEvent, eventBufferSize),
		relayJobs:  make(chan string, 1),
		unregister: func() {},
		logger:     logger,
	}
}

// ID returns the session id
func (c *Client) ID() string {
	return c.session.ID
}

// State returns the current lifecycle state
func (c *Client) State() entities.SessionState {
	c.stateMu.RLock()
	defer c.stateMu.RUnlock()
	return c.session.State
}

// Done is closed once the session is CLOSED
func (c *Client) Done() <-chan struct{} {
	return c.done
}

func (c *Client) transition(to entities.SessionState) {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()
	if err := c.session.Transition(to); err != nil {
		c.logger.Warn("Ignoring state change", zap.Error(err))
	}
}

// start opens the recognition session and launches the workers. On failure
// the connection is closed and the session goes straight to CLOSED.
func (c *Client) start() error {
	c.ctx, c.cancel = context.WithCancel(context.Background())

	stream, err := c.hub.config.STT.Connect(c.ctx, c.hub.config.Audio)
	if err != nil {
		c.cancel()
		err = domain.NewStageError(domain.ErrTranscription, err)
		c.logger.Error("Failed to open speech recognition", zap.Error(err))

		if payload, mErr := json.Marshal(CreateErrorMessage("transcription_unavailable", domain.FallbackTranscription)); mErr == nil {
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			_ = c.conn.WriteMessage(websocket.TextMessage, payload)
		}
		rejectConn(c.conn, websocket.CloseInternalServerErr, "speech recognition unavailable")
		c.transition(entities.SessionStateClosed)
		close(c.done)
		return err
	}
	c.sttStream = stream

	c.transition(entities.SessionStateActive)
	c.unregister = c.hub.Register(c)

	// Queued before any worker runs so session_started is always first.
	_ = c.SendJSON(c.ctx, domain.SessionStartedMessage{
		Type:      domain.MessageTypeSessionStarted,
		SessionID: c.session.ID,
	})
	if greeting := c.hub.config.Greeting; greeting != "" {
		_ = c.SendJSON(c.ctx, domain.AssistantMessage{Type: domain.MessageTypeAssistantMessage, Text: greeting})
		c.relayJobs <- greeting
	}

	go c.writePump()

	c.wg.Add(3)
	go c.recognize()
	go c.turnLoop()
	go c.relayWorker()

	go c.readPump()

	c.logger.Info("Session started",
		zap.Int("sampleRate", c.hub.config.Audio.SampleRate),
		zap.String("language", c.hub.config.Audio.Language))
	return nil
}

// SendJSON queues v for the client. It returns domain.ErrClientClosed once
// the session is closed and ctx's error if ctx ends first.
func (c *Client) SendJSON(ctx context.Context, v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return err
	}

	select {
	case <-c.done:
		return domain.ErrClientClosed
	default:
	}

	select {
	case c.send <- WriteData{Type: websocket.TextMessage, Payload: payload}:
		return nil
	case <-c.done:
		return domain.ErrClientClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// readPump pumps frames from the connection into the ingress buffer and
// handles control messages. Any read error starts draining.
func (c *Client) readPump() {
	defer c.drain()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		messageType, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.Error("WebSocket error", zap.Error(err))
			}
			return
		}

		switch messageType {
		case websocket.BinaryMessage:
			c.ingress.Push(message)
		case websocket.TextMessage:
			c.processMessage(message)
		default:
			c.logger.Warn("Received unknown message type", zap.Int("type", messageType))
		}
	}
}

// writePump pumps queued messages to the connection and keeps it alive
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(message.Type, message.Payload); err != nil {
				c.logger.Error("Failed to write message", zap.Error(err))
				return
			}

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-c.done:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			_ = c.conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}

func (c *Client) processMessage(message []byte) {
	msg, err := c.validator.ValidateMessage(message)
	if err != nil {
		c.logger.Warn("Invalid control message", zap.Error(err))
		_ = c.SendJSON(c.ctx, CreateErrorMessage("invalid_message", "Unrecognized control message."))
		return
	}

	switch msg.Type {
	case domain.MessageTypeEndTurn:
		if err := c.sttStream.ForceEndpoint(); err != nil {
			c.logger.Warn("Failed to force end of turn", zap.Error(err))
		}
	case domain.MessageTypePing:
		_ = c.SendJSON(c.ctx, CreatePongMessage(msg.Data))
	}
}

// recognize runs the blocking recognition call. The events channel is
// closed when it returns, and inbound audio is dropped from then on.
func (c *Client) recognize() {
	defer c.wg.Done()
	defer close(c.events)

	err := c.sttStream.Stream(c.ctx, c.ingress, c.events)
	c.ingress.Stop()
	if err != nil && c.ctx.Err() == nil {
		c.logger.Error("Speech recognition ended", zap.Error(err))
		_ = c.SendJSON(c.ctx, CreateErrorMessage("transcription_failed", domain.FallbackMessage(err)))
	}
}

// turnLoop owns the tracker and the session history. Turns are handled one
// at a time in arrival order.
func (c *Client) turnLoop() {
	defer c.wg.Done()

	for {
		select {
		case <-c.ctx.Done():
			return
		case event, ok := <-c.events:
			if !ok {
				return
			}
			if !c.handleEvent(event) {
				return
			}
		}
	}
}

// handleEvent returns false once the session context is done
func (c *Client) handleEvent(event repositories.TranscriptEvent) bool {
	switch ev := event.(type) {
	case repositories.BeginEvent:
		c.logger.Info("Speech recognition session began",
			zap.String("providerSessionID", ev.ID),
			zap.Time("expiresAt", ev.ExpiresAt))

	case repositories.TurnEvent:
		if err := c.SendJSON(c.ctx, createTranscriptMessage(ev)); err != nil {
			return c.ctx.Err() == nil
		}
		finalized, ok := c.tracker.Observe(ev)
		if !ok {
			if ev.EndOfTurn {
				c.logger.Debug("Skipping duplicate turn", zap.String("transcript", ev.Text))
			}
			return true
		}
		return c.respond(finalized)

	case repositories.TerminationEvent:
		c.logger.Info("Speech recognition session terminated",
			zap.Duration("audioDuration", ev.AudioDuration))

	case repositories.ErrorEvent:
		c.logger.Error("Speech recognition error", zap.Error(ev.Err))
		_ = c.SendJSON(c.ctx, CreateErrorMessage("transcription_failed", domain.FallbackMessage(ev.Err)))
	}
	return true
}

func (c *Client) respond(finalized turn.Finalized) bool {
	c.logger.Info("User turn finalized",
		zap.String("transcript", finalized.Text),
		zap.Float64("confidence", finalized.Confidence))

	reply, err := c.hub.config.Conversation.Respond(c.ctx, c.session, finalized.Text)
	if err != nil {
		return false
	}

	if err := c.SendJSON(c.ctx, domain.AssistantMessage{
		Type: domain.MessageTypeAssistantMessage,
		Text: reply.Text,
	}); err != nil {
		return c.ctx.Err() == nil
	}

	select {
	case c.relayJobs <- reply.Text:
		return true
	case <-c.ctx.Done():
		return false
	}
}

// relayWorker speaks replies one at a time in the order they were produced
func (c *Client) relayWorker() {
	defer c.wg.Done()

	for {
		select {
		case <-c.ctx.Done():
			return
		case text := <-c.relayJobs:
			res, err := c.hub.config.Relay.Relay(c.ctx, c, text)
			if err != nil {
				c.logger.Warn("Reply relayed with errors", zap.Error(err))
			}
			c.logger.Debug("Reply relayed",
				zap.Int("chunks", res.Chunks),
				zap.Bool("fallback", res.Fallback),
				zap.Bool("aborted", res.Aborted))
		}
	}
}

// drain stops every worker, terminates the recognition session and removes
// the client from the hub. Safe to call more than once.
func (c *Client) drain() {
	c.drainOnce.Do(func() {
		c.transition(entities.SessionStateDraining)

		c.ingress.Stop()
		c.cancel()
		c.wg.Wait()

		if err := c.sttStream.Close(); err != nil {
			c.logger.Warn("Failed to close speech recognition", zap.Error(err))
		}

		c.transition(entities.SessionStateClosed)
		c.unregister()

		c.logger.Info("Session closed",
			zap.Int("historyLength", len(c.session.History)),
			zap.Int64("droppedFrames", c.ingress.Dropped()))
		c.session.History = nil
		close(c.done)
	})
}

// closeConn sends a close frame and closes the connection, which makes
// readPump start draining
func (c *Client) closeConn(code int, reason string) {
	rejectConn(c.conn, code, reason)
}
