package server

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/awlabs/trellis/internal/store"
	"github.com/awlabs/trellis/pkg/api"
	"github.com/awlabs/trellis/pkg/log"
)

type (
	// wsClient streams one job's status updates over a WebSocket
	// connection. It sends a snapshot of the job on connect, then
	// forwards hub updates until a terminal message closes the stream.
	wsClient struct {
		server      *Server
		conn        *websocket.Conn
		jobID       api.JobID
		updates     <-chan *api.JobUpdate
		unsubscribe func()

		// last state written to the socket; duplicates of it arriving
		// from the subscription buffer are dropped
		lastStatus   api.JobStatus
		lastProgress int

		closeOnce sync.Once
	}
)

const (
	writeWait          = 10 * time.Second
	pongWait           = 60 * time.Second
	pingPeriod         = (pongWait * 9) / 10
	maxMessageSize     = 512
	wsBufferSize       = 1024
	incomingBufferSize = 16
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  wsBufferSize,
	WriteBufferSize: wsBufferSize,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

func (s *Server) handleJobSocket(c *gin.Context) {
	jobID := api.JobID(c.Param("jobID"))

	// subscribe before the snapshot read so no transition can fall
	// between the two; overlap is removed by the duplicate filter
	updates, unsubscribe := s.hub.Subscribe(jobID)

	job, err := s.jobs.GetJob(c.Request.Context(), jobID)
	if err != nil {
		unsubscribe()
		if errors.Is(err, store.ErrJobNotFound) {
			c.JSON(http.StatusNotFound, api.ErrorResponse{
				Error:  fmt.Sprintf("%s: %s", err.Error(), jobID),
				Status: http.StatusNotFound,
			})
			return
		}
		c.JSON(http.StatusInternalServerError, api.ErrorResponse{
			Error:  err.Error(),
			Status: http.StatusInternalServerError,
		})
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		unsubscribe()
		slog.Error("WebSocket upgrade failed",
			log.JobID(jobID), log.Error(err))
		return
	}

	client := &wsClient{
		server:      s,
		conn:        conn,
		jobID:       jobID,
		updates:     updates,
		unsubscribe: unsubscribe,
	}
	s.registerWebSocket(client)

	go client.run(api.NewJobUpdate(job))
}

func (c *wsClient) run(snapshot *api.JobUpdate) {
	defer func() {
		c.unsubscribe()
		c.server.unregisterWebSocket(c)
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	incoming := make(chan []byte, incomingBufferSize)
	go c.readMessages(incoming)

	if !c.sendUpdate(snapshot) {
		return
	}
	if snapshot.IsFinal() {
		c.sendClose()
		return
	}

	for {
		select {
		case _, ok := <-incoming:
			if !ok {
				return
			}
			// inbound frames carry no meaning on this stream

		case u, ok := <-c.updates:
			if !ok {
				c.sendClose()
				return
			}
			if c.isDuplicate(u) {
				continue
			}
			if !c.sendUpdate(u) {
				return
			}
			if u.IsFinal() {
				c.sendClose()
				return
			}

		case <-ticker.C:
			if !c.sendPing() {
				return
			}
		}
	}
}

func (c *wsClient) readMessages(incoming chan []byte) {
	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			close(incoming)
			return
		}
		incoming <- message
	}
}

// isDuplicate drops updates already covered by the snapshot or an
// earlier delivery. Final updates always pass.
func (c *wsClient) isDuplicate(u *api.JobUpdate) bool {
	if u.IsFinal() {
		return false
	}
	return u.Status == c.lastStatus && u.Progress <= c.lastProgress
}

func (c *wsClient) sendUpdate(u *api.JobUpdate) bool {
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := c.conn.WriteJSON(u); err != nil {
		slog.Error("WebSocket write failed",
			log.JobID(c.jobID), log.Error(err))
		return false
	}
	c.lastStatus = u.Status
	c.lastProgress = u.Progress
	return true
}

func (c *wsClient) sendClose() {
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	_ = c.conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
}

func (c *wsClient) sendPing() bool {
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	err := c.conn.WriteMessage(websocket.PingMessage, nil)
	return err == nil
}

// Close shuts the connection down; the run loop exits through its read
// pump
func (c *wsClient) Close() {
	c.closeOnce.Do(func() {
		c.sendClose()
		_ = c.conn.Close()
	})
}
