package ws

import (
	"context"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/ktauchathuranga/notebud/internal/router"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 * 1024
)

// client owns one websocket connection: one goroutine reads inbound frames
// in arrival order, one drains the outbound queue. Cleanup runs exactly
// once, on the read side, regardless of which pump saw the failure first.
type client struct {
	conn   *websocket.Conn
	queue  *Queue
	connID uint64
	router *router.Router
	log    *zap.Logger
}

// readPump feeds inbound frames to the router until the connection dies,
// then tears the connection down.
func (c *client) readPump() {
	defer func() {
		c.router.ConnectionClosed(context.Background(), c.connID)
		c.queue.Close()
		c.conn.Close()
		c.log.Debug("read pump closed", zap.Uint64("conn_id", c.connID))
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.log.Warn("websocket read failed", zap.Uint64("conn_id", c.connID), zap.Error(err))
			}
			return
		}
		c.router.HandleFrame(context.Background(), c.connID, data)
	}
}

// writePump drains the outbound queue into the socket. A write failure just
// ends the pump; the read pump detects the same closure and runs cleanup.
func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case <-c.queue.Ready():
			for {
				frame, ok := c.queue.TryNext()
				if !ok {
					break
				}
				c.conn.SetWriteDeadline(time.Now().Add(writeWait))
				if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
					return
				}
			}
			if c.queue.Closed() {
				c.conn.SetWriteDeadline(time.Now().Add(writeWait))
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
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
