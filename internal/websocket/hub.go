package websocket

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/mjones3/architect-transcript-insights/domain/entities"
	"github.com/mjones3/architect-transcript-insights/domain/repositories"
	"github.com/mjones3/architect-transcript-insights/usecase"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer.
	maxMessageSize = 512 * 1024 // 512KB for audio chunks
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

// Hub maintains the set of live sessions. Each connection is one meeting
// session with its own label cache; profile changes are broadcast to all.
type Hub struct {
	// Registered clients, by session ID.
	clients map[string]*Client

	// Register requests from the clients.
	register chan *Client

	// Unregister requests from clients.
	unregister chan *Client

	// Mutex for thread-safe access to clients map
	mu sync.RWMutex

	speakers *usecase.SpeakerService
	diarizer repositories.Diarizer
	audio    repositories.AudioConfig

	validator *MessageValidator
	logger    *zap.Logger
}

var _ repositories.ProfileEventPublisher = (*Hub)(nil)

// NewHub creates a new WebSocket hub. audio holds the defaults applied to
// listening_start requests that leave fields unset.
func NewHub(
	speakers *usecase.SpeakerService,
	diarizer repositories.Diarizer,
	audio repositories.AudioConfig,
	logger *zap.Logger,
) *Hub {
	return &Hub{
		clients:    make(map[string]*Client),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		speakers:   speakers,
		diarizer:   diarizer,
		audio:      audio,
		validator:  NewMessageValidator(),
		logger:     logger,
	}
}

// Run starts the hub's main loop
func (h *Hub) Run() {
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			if _, taken := h.clients[client.sessionID]; taken {
				h.mu.Unlock()
				h.logger.Warn("Session already connected", zap.String("sessionID", client.sessionID))
				client.conn.Close()
				continue
			}
			h.clients[client.sessionID] = client
			client.enqueue(SessionStartedMessage{
				BaseMessage: newBase(MessageTypeSessionStarted),
				SessionID:   client.sessionID,
			})
			h.mu.Unlock()
			h.logger.Info("Client registered", zap.String("sessionID", client.sessionID))

		case client := <-h.unregister:
			h.mu.Lock()
			if current, ok := h.clients[client.sessionID]; ok && current == client {
				delete(h.clients, client.sessionID)
				h.speakers.CloseSession(client.sessionID)
			}
			// Every client unregisters exactly once, from its readPump.
			close(client.send)
			h.mu.Unlock()
			h.logger.Info("Client unregistered", zap.String("sessionID", client.sessionID))
		}
	}
}

// PublishProfileEvent broadcasts a committed profile change to every
// connected session. Slow clients miss the event rather than block.
func (h *Hub) PublishProfileEvent(event entities.ProfileEvent) {
	msg := ProfileEventMessage{
		BaseMessage: newBase(MessageTypeProfileEvent),
		Change:      event,
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, client := range h.clients {
		client.enqueue(msg)
	}
}

// HasSession reports whether a connection currently owns sessionID.
func (h *Hub) HasSession(sessionID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := h.clients[sessionID]
	return ok
}

// ClientCount returns the number of connected sessions.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

type WriteData struct {
	// MessageType is the type of the websocket message.
	// Expect websocket.TextMessage or websocket.BinaryMessage
	Type    int
	Payload []byte
}

// Client is a middleman between the websocket connection and the hub.
type Client struct {
	hub *Hub

	// The websocket connection.
	conn *websocket.Conn

	// Buffered channel of outbound messages.
	send chan WriteData

	sessionID string
	labels    *usecase.LabelSession

	logger *zap.Logger

	// Diarized audio stream between listening_start and listening_end.
	diarization repositories.DiarizationStream
	chunkCount  int
}

// HandleWebSocket upgrades the request into a live session. The session ID
// comes from the session_id query parameter, or is generated.
func HandleWebSocket(hub *Hub, c echo.Context, logger *zap.Logger) error {
	sessionID := c.QueryParam("session_id")
	if sessionID == "" {
		sessionID = uuid.New().String()
	}
	if hub.HasSession(sessionID) {
		return c.JSON(http.StatusConflict, map[string]string{
			"error":   "session_in_use",
			"message": "Session is already connected",
		})
	}

	conn, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		logger.Error("WebSocket upgrade failed", zap.Error(err))
		return err
	}

	client := &Client{
		hub:       hub,
		conn:      conn,
		send:      make(chan WriteData, 256),
		sessionID: sessionID,
		labels:    hub.speakers.AttachSession(sessionID),
		logger:    logger.With(zap.String("sessionID", sessionID)),
	}

	client.hub.register <- client

	// Allow collection of memory referenced by the caller by doing all work in
	// new goroutines.
	go client.writePump()
	go client.readPump()

	return nil
}

// readPump pumps messages from the websocket connection to the hub.
func (c *Client) readPump() {
	defer func() {
		c.hub.unregister <- c
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		messageType, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.logger.Error("WebSocket error", zap.Error(err))
			}
			break
		}

		switch messageType {
		case websocket.TextMessage:
			c.processMessage(message)
		case websocket.BinaryMessage:
			c.processBinaryAudioChunk(message)
		default:
			c.logger.Warn("Received unknown message type", zap.Int("type", messageType))
		}
	}
}

// writePump pumps messages from the hub to the websocket connection.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := c.conn.WriteMessage(message.Type, message.Payload); err != nil {
				c.logger.Error("Failed to write message", zap.Error(err))
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// enqueue queues v as a JSON text frame, dropping it if the client is not
// keeping up. Callers must ensure send is still open.
func (c *Client) enqueue(v interface{}) {
	payload, err := json.Marshal(v)
	if err != nil {
		c.logger.Error("Failed to marshal outbound message", zap.Error(err))
		return
	}
	select {
	case c.send <- WriteData{Type: websocket.TextMessage, Payload: payload}:
	default:
		c.logger.Warn("Client send buffer full, dropping message")
	}
}

func (c *Client) sendError(code, message string, err error) {
	details := ""
	if err != nil {
		details = err.Error()
	}
	c.enqueue(CreateErrorMessage(code, message, details))
}

// processMessage processes incoming control and utterance messages
func (c *Client) processMessage(message []byte) {
	msg, err := c.hub.validator.ValidateMessage(message)
	if err != nil {
		c.logger.Warn("Rejected message", zap.Error(err))
		c.sendError("invalid_message", "Message could not be processed", err)
		return
	}

	switch m := msg.(type) {
	case *UtteranceMessage:
		c.handleUtterance(m)
	case *ListeningStartMessage:
		c.handleListeningStart(m)
	case *ListeningEndMessage:
		c.handleListeningEnd()
	case *PingMessage:
		c.enqueue(CreatePongMessage(m.Data))
	}
}

// handleUtterance attributes one externally diarized utterance.
func (c *Client) handleUtterance(msg *UtteranceMessage) {
	match := c.hub.speakers.ResolveSpeaker(context.Background(), c.labels, msg.Label, msg.AudioData)

	c.logger.Debug("Utterance attributed",
		zap.String("label", msg.Label),
		zap.String("speakerID", match.SpeakerID),
		zap.Float64("confidence", match.Confidence))

	c.enqueue(SpeakerResolvedMessage{
		BaseMessage: BaseMessage{Type: MessageTypeSpeakerResolved, Timestamp: time.Now().UTC().Format(time.RFC3339), MessageID: msg.MessageID},
		SessionID:   c.sessionID,
		Label:       msg.Label,
		Speaker:     match,
	})
}

// processBinaryAudioChunk feeds audio into the open diarization stream
func (c *Client) processBinaryAudioChunk(data []byte) {
	if c.diarization == nil {
		c.logger.Warn("Received binary audio chunk but listening has not started")
		c.sendError("not_listening", "Send listening_start before audio", nil)
		return
	}

	c.chunkCount++
	if err := c.diarization.Stream(data); err != nil {
		c.logger.Error("Failed to stream audio data", zap.Error(err))
		c.sendError("stream_failed", "Failed to stream audio", err)
		return
	}

	c.logger.Debug("Streamed audio chunk",
		zap.Int("size", len(data)),
		zap.Int("totalChunks", c.chunkCount))
}

// handleListeningStart opens a diarization stream for the session
func (c *Client) handleListeningStart(msg *ListeningStartMessage) {
	if c.diarization != nil {
		c.sendError("already_listening", "A listening stream is already open", nil)
		return
	}

	config := c.hub.audio
	if msg.SampleRate > 0 {
		config.SampleRate = msg.SampleRate
	}
	if msg.Encoding != "" {
		config.Encoding = msg.Encoding
	}
	if msg.Language != "" {
		config.Language = msg.Language
	}
	if msg.MinSpeakers > 0 {
		config.MinSpeakers = msg.MinSpeakers
	}
	if msg.MaxSpeakers > 0 {
		config.MaxSpeakers = msg.MaxSpeakers
	}

	stream, err := c.hub.diarizer.InitDiarizedStreaming(context.Background(), config)
	if err != nil {
		c.logger.Error("Failed to initialize diarized streaming", zap.Error(err))
		c.sendError("listening_failed", "Failed to initialize transcription", err)
		return
	}
	c.diarization = stream
	c.chunkCount = 0

	c.logger.Info("Listening started",
		zap.Int("sampleRate", config.SampleRate),
		zap.String("encoding", config.Encoding))

	c.enqueue(SessionStartedMessage{
		BaseMessage: newBase(MessageTypeListeningStart),
		SessionID:   c.sessionID,
	})
}

// handleListeningEnd closes the stream and attributes every diarized
// utterance in order.
func (c *Client) handleListeningEnd() {
	if c.diarization == nil {
		c.sendError("not_listening", "No listening stream is open", nil)
		return
	}
	stream := c.diarization
	c.diarization = nil

	utterances, err := stream.End()
	if err != nil {
		c.logger.Error("Failed to end diarization stream", zap.Error(err))
		c.sendError("transcription_failed", "Failed to end transcription", err)
		return
	}

	for _, u := range utterances {
		match := c.hub.speakers.ResolveSpeaker(context.Background(), c.labels, u.Label, u.Audio)

		c.enqueue(TranscriptSegmentMessage{
			BaseMessage: newBase(MessageTypeTranscriptSegment),
			SessionID:   c.sessionID,
			Label:       u.Label,
			Text:        u.Text,
			StartMs:     u.StartMs,
			EndMs:       u.EndMs,
			Speaker:     match,
		})
	}

	c.logger.Info("Listening ended",
		zap.Int("chunks", c.chunkCount),
		zap.Int("segments", len(utterances)))

	c.enqueue(ListeningEndedMessage{
		BaseMessage: newBase(MessageTypeListeningEnd),
		SessionID:   c.sessionID,
		Segments:    len(utterances),
	})
}
