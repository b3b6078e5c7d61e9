// Package ws is the transport adapter: it accepts websocket connections,
// feeds inbound frames to the router, and drains each connection's outbound
// queue back onto the socket.
package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/ktauchathuranga/notebud/internal/router"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Pinger is what the liveness endpoint needs from the store.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Server exposes the websocket endpoint and liveness handlers.
type Server struct {
	router *router.Router
	store  Pinger
	log    *zap.Logger
}

func NewServer(rt *router.Router, store Pinger, log *zap.Logger) *Server {
	return &Server{
		router: rt,
		store:  store,
		log:    log,
	}
}

// HandleWS upgrades the request and starts the connection's pumps. The
// connection starts unbound; authentication happens over the socket.
func (s *Server) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	queue := NewQueue()
	connID := s.router.Connect(queue)
	c := &client{
		conn:   conn,
		queue:  queue,
		connID: connID,
		router: s.router,
		log:    s.log,
	}

	s.log.Info("connection accepted",
		zap.Uint64("conn_id", connID), zap.String("remote", r.RemoteAddr))

	go c.writePump()
	go c.readPump()
}

// HandleHealthz reports service and store health.
func (s *Server) HandleHealthz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	status := "ok"
	code := http.StatusOK
	if err := s.store.Ping(ctx); err != nil {
		s.log.Error("store ping failed", zap.Error(err))
		status = "degraded"
		code = http.StatusServiceUnavailable
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{
		"status":  status,
		"service": "notebud-relay",
	})
}

// HandleRoot serves a status document on the bare path.
func (s *Server) HandleRoot(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{
		"status":    "ok",
		"service":   "notebud-relay",
		"websocket": "connect to /ws",
	})
}
