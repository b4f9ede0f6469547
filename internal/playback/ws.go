package playback

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/Kalplaoffice/kalpla-platform-sub004/internal/auth"
	"github.com/Kalplaoffice/kalpla-platform-sub004/internal/models"
)

const (
	pongWait     = 60 // seconds without a pong before the read side gives up
	pingInterval = 50 // seconds between pings
	writeTimeout = 10 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // allow all origins in dev; restrict in production
	},
}

// WSMessage is the WebSocket message envelope, both directions.
type WSMessage struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// wsIntent is the inbound payload shape shared by all intent events.
type wsIntent struct {
	PositionSec float64 `json:"position_sec"`
	Quality     string  `json:"quality"`
	Volume      float64 `json:"volume"`
	Muted       bool    `json:"muted"`
	ErrorKind   string  `json:"error_kind"`
	Message     string  `json:"message"`
}

// wsConn binds one WebSocket connection to one live playback session.
type wsConn struct {
	manager   *Manager
	session   *Session
	sessionID uuid.UUID
	conn      *websocket.Conn
	logger    *zap.Logger

	mu     sync.Mutex
	send   chan WSMessage
	closed bool
}

// ServeWs handles GET /ws/playback?session_id=...&token=... . The connection
// drives one session with intent events and receives snapshot and credential
// pushes. Dropping the connection leaves the session running; the "close"
// event or the REST teardown ends it.
func ServeWs(manager *Manager, jwt *auth.JWTService, logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		sessionIDStr := c.Query("session_id")
		token := c.Query("token")
		if sessionIDStr == "" || token == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "session_id and token required"})
			return
		}
		sessionID, err := uuid.Parse(sessionIDStr)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid session_id"})
			return
		}
		claims, err := jwt.Validate(token)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}
		session, err := manager.Get(sessionID)
		if err != nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "playback session not found"})
			return
		}
		if session.ViewerID() != claims.ViewerID && claims.Role != auth.RoleAdmin {
			c.JSON(http.StatusForbidden, gin.H{"error": "not your playback session"})
			return
		}

		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			logger.Warn("websocket upgrade failed", zap.Error(err))
			return
		}

		w := &wsConn{
			manager:   manager,
			session:   session,
			sessionID: sessionID,
			conn:      conn,
			send:      make(chan WSMessage, 64),
			logger:    logger,
		}
		_ = manager.SetCredentialListener(sessionID, func(set models.StreamingCredentialSet) {
			w.push("credentials_updated", set)
		})
		go w.writePump()
		w.readPump()
	}
}

// push queues an outbound message. A credential swap callback may race the read
// pump's teardown, so the closed flag and the channel close share one mutex.
func (w *wsConn) push(event string, payload interface{}) {
	data, err := json.Marshal(payload)
	if err != nil {
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return
	}
	select {
	case w.send <- WSMessage{Event: event, Data: data}:
	default:
		w.logger.Warn("websocket send buffer full, dropping message",
			zap.String("session_id", w.sessionID.String()), zap.String("event", event))
	}
}

func (w *wsConn) closeSend() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return
	}
	w.closed = true
	close(w.send)
}

func (w *wsConn) readPump() {
	defer func() {
		_ = w.manager.SetCredentialListener(w.sessionID, nil)
		w.closeSend()
	}()

	w.conn.SetReadLimit(65536)
	_ = w.conn.SetReadDeadline(time.Now().Add(pongWait * time.Second))
	w.conn.SetPongHandler(func(string) error {
		_ = w.conn.SetReadDeadline(time.Now().Add(pongWait * time.Second))
		return nil
	})

	for {
		var msg WSMessage
		if err := w.conn.ReadJSON(&msg); err != nil {
			return
		}
		_ = w.conn.SetReadDeadline(time.Now().Add(pongWait * time.Second))

		var in wsIntent
		if len(msg.Data) > 0 {
			if err := json.Unmarshal(msg.Data, &in); err != nil {
				w.push("error", gin.H{"error": "invalid payload"})
				continue
			}
		}

		ctx := context.Background()
		if msg.Event == "close" {
			if err := w.manager.Close(ctx, w.sessionID); err == nil {
				w.push("closed", gin.H{"session_id": w.sessionID.String()})
			}
			return
		}

		var err error
		switch msg.Event {
		case "play":
			err = w.session.Play(ctx)
		case "pause":
			err = w.session.Pause(ctx)
		case "seek":
			err = w.session.Seek(ctx, in.PositionSec)
		case "set_quality":
			err = w.session.SetQuality(ctx, in.Quality)
		case "set_volume":
			err = w.session.SetVolume(in.Volume, in.Muted)
		case "retry":
			err = w.session.Retry(ctx)
		case "ready":
			err = w.session.MarkReady()
		case "stall":
			err = w.session.ReportStall()
		case "recovered":
			err = w.session.ReportRecovered()
		case "position":
			err = w.session.AdvancePosition(ctx, in.PositionSec)
		case "media_error":
			err = w.session.ReportMediaError(ctx, models.ErrorKind(in.ErrorKind), in.Message)
		case "snapshot":
			// explicit pull; no intent applied
		default:
			w.push("error", gin.H{"error": "unknown event: " + msg.Event})
			continue
		}
		if err != nil {
			w.push("error", gin.H{"error": err.Error()})
			continue
		}
		w.push("snapshot", w.session.Snapshot())
	}
}

func (w *wsConn) writePump() {
	ticker := time.NewTicker(pingInterval * time.Second)
	defer func() {
		ticker.Stop()
		_ = w.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-w.send:
			if !ok {
				_ = w.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			_ = w.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := w.conn.WriteJSON(msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = w.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := w.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
