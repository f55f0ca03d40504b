package dashboard

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
	"github.com/lokutor-ai/lokutor-orchestrator/pkg/orchestrator"
)

// heartbeatInterval matches the reference implementation's 30s idle
// heartbeat.
const heartbeatInterval = 30 * time.Second

// LocationSignalFunc is invoked when a subscriber sends send_location or
// cancel_location; wired to the scheduled-action manager (C9) by the
// process that constructs the Server.
type LocationSignalFunc func(signal, callID, caller string)

// Server accepts dashboard WebSocket connections and drives one
// Broadcaster. It is the network edge of C8; Broadcaster itself has no
// transport dependency so it can be driven by tests directly.
type Server struct {
	broadcaster *Broadcaster
	logger      orchestrator.Logger
	onLocation  LocationSignalFunc
}

// NewServer constructs a Server over broadcaster.
func NewServer(broadcaster *Broadcaster, onLocation LocationSignalFunc, logger orchestrator.Logger) *Server {
	if logger == nil {
		logger = &orchestrator.NoOpLogger{}
	}
	return &Server{broadcaster: broadcaster, onLocation: onLocation, logger: logger}
}

// ServeHTTP upgrades the request to a WebSocket, subscribes it, and pumps
// frames until the connection closes.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		s.logger.Error("dashboard: accept failed", "error", err)
		return
	}
	defer conn.CloseNow()

	ctx := r.Context()
	sub := NewSubscriber(uuid.NewString(), 64)
	s.broadcaster.Subscribe(sub)
	defer s.broadcaster.Unsubscribe(sub)

	readErrs := make(chan error, 1)
	go s.pumpInbound(ctx, conn, sub, readErrs)

	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case err := <-readErrs:
			if err != nil {
				s.logger.Debug("dashboard: subscriber disconnected", "error", err)
			}
			return
		case <-ticker.C:
			s.broadcaster.Heartbeat()
		case frame, ok := <-sub.Send():
			if !ok {
				return
			}
			writeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			err := websocket.Write(writeCtx, conn, contentTypeFor(frame), mustJSON(frame))
			cancel()
			if err != nil {
				s.logger.Debug("dashboard: write failed", "error", err)
				return
			}
		}
	}
}

func (s *Server) pumpInbound(ctx context.Context, conn *websocket.Conn, sub *Subscriber, errs chan<- error) {
	for {
		_, payload, err := conn.Read(ctx)
		if err != nil {
			errs <- err
			return
		}
		s.broadcaster.HandleInbound(sub, payload, s.onLocation)
	}
}

func contentTypeFor(Frame) websocket.MessageType { return websocket.MessageText }

func mustJSON(frame Frame) []byte {
	data, err := json.Marshal(frame)
	if err != nil {
		return []byte(`{"type":"error","message":"encode failure"}`)
	}
	return data
}
