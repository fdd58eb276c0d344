// internal/api/websocket.go
package api

import (
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/Corphon/SceneBechdel/internal/services"
	"github.com/Corphon/SceneBechdel/internal/utils"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// WebSocketMessage is one frame sent to a run watcher.
type WebSocketMessage struct {
	Type      string                   `json:"type"` // progress, finished or error
	RunID     string                   `json:"run_id"`
	Update    *services.ProgressUpdate `json:"update,omitempty"`
	Run       *services.RunRecord      `json:"run,omitempty"`
	Error     string                   `json:"error,omitempty"`
	Timestamp time.Time                `json:"timestamp"`
}

// WebSocketManager counts open watcher connections per run.
type WebSocketManager struct {
	connections map[string]map[*websocket.Conn]bool
	mutex       sync.RWMutex
	logger      *utils.Logger
}

func NewWebSocketManager(logger *utils.Logger) *WebSocketManager {
	if logger == nil {
		logger = utils.GetLogger()
	}
	return &WebSocketManager{
		connections: make(map[string]map[*websocket.Conn]bool),
		logger:      logger,
	}
}

func (m *WebSocketManager) register(runID string, conn *websocket.Conn) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	if m.connections[runID] == nil {
		m.connections[runID] = make(map[*websocket.Conn]bool)
	}
	m.connections[runID][conn] = true
}

func (m *WebSocketManager) unregister(runID string, conn *websocket.Conn) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	if conns, ok := m.connections[runID]; ok {
		delete(conns, conn)
		if len(conns) == 0 {
			delete(m.connections, runID)
		}
	}
}

// Status returns the number of watchers per run.
func (m *WebSocketManager) Status() map[string]int {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	status := make(map[string]int, len(m.connections))
	for runID, conns := range m.connections {
		status[runID] = len(conns)
	}
	return status
}

// Total returns the number of open connections.
func (m *WebSocketManager) Total() int {
	total := 0
	for _, n := range m.Status() {
		total += n
	}
	return total
}

// CloseAll closes every open connection.
func (m *WebSocketManager) CloseAll() {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	for runID, conns := range m.connections {
		for conn := range conns {
			conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
				time.Now().Add(writeWait))
			conn.Close()
		}
		delete(m.connections, runID)
	}
}

// RunWebSocket streams a run's progress until it finishes, then sends the
// final run record and closes the connection.
func (h *Handler) RunWebSocket(manager *WebSocketManager) gin.HandlerFunc {
	return func(c *gin.Context) {
		runID := c.Param("id")
		tracker, exists := h.Progress.GetTracker(runID)
		if !exists {
			h.Response.NotFound(c, ErrorRunNotFound, fmt.Sprintf("run %s", runID))
			return
		}

		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			manager.logger.Warn("websocket upgrade failed", map[string]interface{}{
				"run":   runID,
				"error": err.Error(),
			})
			return
		}
		manager.register(runID, conn)
		defer func() {
			manager.unregister(runID, conn)
			conn.Close()
		}()

		// The reader only handles control frames and notices the client leaving.
		gone := make(chan struct{})
		conn.SetReadDeadline(time.Now().Add(pongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(pongWait))
		})
		go func() {
			defer close(gone)
			for {
				if _, _, err := conn.ReadMessage(); err != nil {
					return
				}
			}
		}()

		updates := tracker.Subscribe()
		defer tracker.Unsubscribe(updates)

		ticker := time.NewTicker(pingPeriod)
		defer ticker.Stop()

		send := func(msg WebSocketMessage) error {
			msg.RunID = runID
			msg.Timestamp = time.Now()
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			return conn.WriteJSON(msg)
		}

		finish := func(update services.ProgressUpdate) {
			if err := send(WebSocketMessage{Type: "progress", Update: &update}); err != nil {
				return
			}
			final := WebSocketMessage{Type: "finished"}
			if record, err := h.Runs.Get(runID); err == nil {
				final.Run = record
			} else {
				final.Type = "error"
				final.Error = err.Error()
			}
			if err := send(final); err != nil {
				return
			}
			conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, update.Status),
				time.Now().Add(writeWait))
		}

		for {
			select {
			case <-gone:
				return
			case <-tracker.Done:
				// The final broadcast may have been dropped on a full buffer.
				finish(tracker.Snapshot())
				return
			case update, ok := <-updates:
				if !ok {
					return
				}
				if update.Status != services.StatusRunning {
					finish(update)
					return
				}
				if err := send(WebSocketMessage{Type: "progress", Update: &update}); err != nil {
					return
				}
			case <-ticker.C:
				if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
					return
				}
			}
		}
	}
}

// WebSocketStatus reports open watcher connections.
func (h *Handler) WebSocketStatus(manager *WebSocketManager) gin.HandlerFunc {
	return func(c *gin.Context) {
		h.Response.Success(c, gin.H{
			"total": manager.Total(),
			"runs":  manager.Status(),
		})
	}
}
