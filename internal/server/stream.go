package server

import (
	"errors"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/ShayCichocki/ensemble/internal/orchestrator"
	"github.com/ShayCichocki/ensemble/pkg/models"
)

const (
	streamWriteWait  = 10 * time.Second
	streamPongWait   = 60 * time.Second
	streamPingPeriod = (streamPongWait * 9) / 10
)

// handleStream upgrades to a websocket and forwards session events as they
// are appended. With ?since=N, logged events with a greater seq are replayed
// first.
func (s *Server) handleStream(c *gin.Context) {
	sessionID := c.Param("id")
	var since int64 = -1
	if raw := c.Query("since"); raw != "" {
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			badRequest(c, "invalid since: "+raw)
			return
		}
		since = n
	}

	conn, err := s.wsUpgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.logger.Log("[server] websocket upgrade failed for %s: %v", sessionID, err)
		return
	}
	defer conn.Close()

	// Subscribe before replay so nothing appended in between is lost.
	events, unsubscribe := s.deps.Orchestrator.Subscribe(sessionID)
	defer unsubscribe()

	var lastSeq int64 = -1
	if since >= 0 {
		logged, err := s.deps.Orchestrator.Events(c.Request.Context(), sessionID)
		if err != nil && !errors.Is(err, orchestrator.ErrSessionNotFound) {
			_ = writeFrame(conn, StreamMessage{Type: StreamError, SessionID: sessionID, Error: err.Error()})
			return
		}
		for i := range logged {
			if logged[i].Seq <= since {
				continue
			}
			if err := writeFrame(conn, eventFrame(sessionID, logged[i])); err != nil {
				return
			}
			lastSeq = logged[i].Seq
		}
	}
	if err := writeFrame(conn, StreamMessage{Type: StreamReady, SessionID: sessionID}); err != nil {
		return
	}

	// Reader goroutine handles pongs and notices the client going away.
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		conn.SetReadLimit(4096)
		_ = conn.SetReadDeadline(time.Now().Add(streamPongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(streamPongWait))
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					s.logger.Log("[server] stream %s read error: %v", sessionID, err)
				}
				return
			}
		}
	}()

	ticker := time.NewTicker(streamPingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-closed:
			return
		case e, ok := <-events:
			if !ok {
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(streamWriteWait))
				return
			}
			if e.Seq <= lastSeq {
				continue
			}
			if err := writeFrame(conn, eventFrame(sessionID, e)); err != nil {
				return
			}
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(streamWriteWait)); err != nil {
				return
			}
		}
	}
}

func eventFrame(sessionID string, e models.GraphEvent) StreamMessage {
	return StreamMessage{Type: StreamEvent, SessionID: sessionID, Event: &e, Timestamp: time.Now()}
}

func writeFrame(conn *websocket.Conn, msg StreamMessage) error {
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now()
	}
	_ = conn.SetWriteDeadline(time.Now().Add(streamWriteWait))
	return conn.WriteJSON(msg)
}
