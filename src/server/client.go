package server

import (
	"net/http"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

// -----------------------------------------------------------------------------
// Constants
// -----------------------------------------------------------------------------

const (
	writeWait      = 2 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4096 // subscription lists only
)

// Unusual close codes worth logging, with human-readable labels.
var closeCodeLabels = map[int]string{
	websocket.CloseProtocolError:           "protocol error",
	websocket.CloseUnsupportedData:         "unsupported data",
	websocket.CloseInvalidFramePayloadData: "invalid frame payload data",
	websocket.ClosePolicyViolation:         "policy violation",
	websocket.CloseMessageTooBig:           "message too big",
	websocket.CloseMandatoryExtension:      "mandatory extension",
	websocket.CloseInternalServerErr:       "internal server error",
	websocket.CloseServiceRestart:          "service restart",
	websocket.CloseTryAgainLater:           "try again later",
	1014:                                   "bad gateway",
	websocket.CloseTLSHandshake:            "TLS handshake failure",
}

// -----------------------------------------------------------------------------
// Client Structure
// -----------------------------------------------------------------------------

type Client struct {
	hub  *Server
	conn *websocket.Conn
	send chan interface{}

	mu    sync.Mutex
	pairs []string // "EXCHANGE:pair" subscription set
}

// -----------------------------------------------------------------------------

// Pairs returns a copy of the current subscription set.
func (c *Client) Pairs() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.pairs))
	copy(out, c.pairs)
	return out
}

// -----------------------------------------------------------------------------

// setPairs replaces the subscription set.
func (c *Client) setPairs(pairs []string) {
	c.mu.Lock()
	c.pairs = pairs
	c.mu.Unlock()
}

// -----------------------------------------------------------------------------
// WebSocket handshake
// -----------------------------------------------------------------------------

func (s *Server) upgrader() websocket.Upgrader {
	pattern := s.Config.Origin
	return websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			if pattern == "" {
				return true
			}
			origin := r.Header.Get("Origin")
			if origin == "" {
				return true
			}
			matched, err := regexp.MatchString(pattern, origin)
			return err == nil && matched
		},
	}
}

// -----------------------------------------------------------------------------

func (s *Server) handleWebSocket(c *gin.Context) {
	if !s.Config.Broadcast {
		c.AbortWithStatus(501)
		return
	}

	if s.isBanned(c.ClientIP()) {
		s.delayedReject(c)
		return
	}

	upgrader := s.upgrader()
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.Logger.Info("Failed to upgrade websocket: %v", err)
		return
	}

	client := &Client{
		hub:  s,
		conn: conn,
		// Buffered channel to prevent blocking the Hub loop
		send:  make(chan interface{}, 256),
		pairs: parsePairList(c.Param("pairs")),
	}

	s.register <- client

	// Start goroutines for reading/writing
	go client.writePump()
	go client.readPump()
}

// -----------------------------------------------------------------------------

// parsePairList splits a "+"-delimited market list ("A:a+B:b"), dropping
// empty fragments.
func parsePairList(raw string) []string {
	raw = strings.Trim(raw, "/")
	if raw == "" {
		return nil
	}

	var pairs []string
	for _, part := range strings.Split(raw, "+") {
		if part != "" {
			pairs = append(pairs, part)
		}
	}
	return pairs
}

// -----------------------------------------------------------------------------
// readPump - handles incoming messages from client
// Act as a Watchdog for the connection
// -----------------------------------------------------------------------------

func (c *Client) readPump() {
	defer func() {
		c.hub.unregister <- c
		c.conn.Close()
		c.hub.Logger.Info("Client disconnected")
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if ce, ok := err.(*websocket.CloseError); ok {
				if label, unusual := closeCodeLabels[ce.Code]; unusual {
					c.hub.Logger.Warning("Client closed with %d (%s)", ce.Code, label)
				}
			} else if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.hub.Logger.Info("WebSocket error: %v", err)
			}
			break
		}
		// Inbound text replaces the subscription set
		c.setPairs(parsePairList(string(message)))
	}
}

// -----------------------------------------------------------------------------
// writePump - sends messages to client
// -----------------------------------------------------------------------------

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
				// Hub closed the channel
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			// Write JSON message
			if err := c.conn.WriteJSON(message); err != nil {
				c.hub.Logger.Info("Write error: %v", err)
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
