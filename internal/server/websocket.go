package server

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

// wsConn adapts a gorilla connection to Conn. Only text frames are surfaced
// to the session.
type wsConn struct {
	conn      *websocket.Conn
	writeWait time.Duration
	closeMu   sync.Mutex
}

func newWSConn(conn *websocket.Conn, writeWait time.Duration) *wsConn {
	conn.SetReadLimit(maxMessageSize)
	return &wsConn{conn: conn, writeWait: writeWait}
}

func (c *wsConn) ReadMessage() ([]byte, error) {
	for {
		messageType, data, err := c.conn.ReadMessage()
		if err != nil {
			return nil, err
		}
		if messageType == websocket.TextMessage {
			return data, nil
		}
	}
}

func (c *wsConn) WriteMessage(data []byte) error {
	_ = c.conn.SetWriteDeadline(time.Now().Add(c.writeWait))
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

func (c *wsConn) CloseWith(code int, reason string) error {
	c.closeMu.Lock()
	defer c.closeMu.Unlock()
	err := c.conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), time.Now().Add(c.writeWait))
	_ = c.conn.Close()
	return err
}

func (c *wsConn) Close() error {
	return c.conn.Close()
}

func (s *Server) newUpgrader() websocket.Upgrader {
	return websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			return s.originAllowed(r.Header.Get("Origin"))
		},
	}
}

func (s *Server) originAllowed(origin string) bool {
	if len(s.cfg.AllowedOrigins) == 0 || origin == "" {
		return true
	}
	for _, allowed := range s.cfg.AllowedOrigins {
		if allowed == "*" || allowed == origin {
			return true
		}
	}
	return false
}

// handleWebsocket upgrades before checking the room so that a missing or
// full room is reported in-band with an error frame and close code 1008.
func (s *Server) handleWebsocket(c *gin.Context) {
	var uri roomURI
	if !bindURI(c, &uri, http.StatusNotFound, nil, "room not found") {
		return
	}
	roomID := uri.ID
	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logrus.WithError(err).Debug("websocket upgrade failed")
		return
	}
	logrus.WithFields(logrus.Fields{
		"room_id": roomID,
		"remote":  c.Request.RemoteAddr,
	}).Debug("ws connected")

	session := NewSession(roomID, newWSConn(conn, s.cfg.WriteWait), s.coord, s.sessionConfig())
	if !s.track(session) {
		session.Close()
		return
	}
	go func() {
		defer s.untrack(session)
		session.Run(context.Background())
	}()
}

func (s *Server) sessionConfig() SessionConfig {
	return SessionConfig{
		PingInterval:       s.cfg.PingInterval,
		LivenessTimeout:    s.cfg.LivenessTimeout,
		LivenessAnyTraffic: s.cfg.LivenessAnyTraffic,
		QueueSize:          s.cfg.SessionQueueSize,
		RateLimit:          rate.Limit(s.cfg.SessionRateLimit),
		RateBurst:          s.cfg.SessionRateBurst,
	}
}
