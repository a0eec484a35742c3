package rpc

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/websocket"

	"sendwatch/go-backend/pkg/models"
)

const (
	streamWriteWait = 10 * time.Second
	streamPingEvery = 20 * time.Second
	streamPongWait  = 2 * streamPingEvery
	outcomeMethod   = "watch.outcome"
)

type streamNotification struct {
	JSONRPC string       `json:"jsonrpc"`
	Method  string       `json:"method"`
	Params  streamParams `json:"params"`
}

type streamParams struct {
	Version   int                 `json:"version"`
	Seq       int64               `json:"seq"`
	Timestamp time.Time           `json:"timestamp"`
	Payload   models.OutcomeEvent `json:"payload"`
}

// handleOutcomeStream upgrades to a websocket and pushes every finished watch
// after the optional cursor. Clients only need to read.
func (s *Server) handleOutcomeStream(w http.ResponseWriter, r *http.Request) {
	if !s.authorizeRPC(w, r) {
		return
	}
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if s.service == nil {
		http.Error(w, "service is not initialized", http.StatusServiceUnavailable)
		return
	}

	cursor := int64(0)
	if raw := r.URL.Query().Get("cursor"); raw != "" {
		v, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || v < 0 {
			http.Error(w, "invalid cursor", http.StatusBadRequest)
			return
		}
		cursor = v
	}

	clientKey := rpcRateLimitKey(r, s.extractRPCToken(r))
	release, allowed := s.streams.acquire(clientKey)
	if !allowed {
		http.Error(w, "too many stream subscriptions", http.StatusTooManyRequests)
		return
	}
	defer release()

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("outcome stream upgrade failed", "error", err)
		return
	}
	defer conn.Close()
	if s.metrics != nil {
		s.metrics.StreamClientConnected()
		defer s.metrics.StreamClientDisconnected()
	}

	replay, ch, cancel := s.service.SubscribeOutcomes(cursor)
	defer cancel()

	done := make(chan struct{})
	_ = conn.SetReadDeadline(time.Now().Add(streamPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(streamPongWait))
	})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for _, evt := range replay {
		if err := writeOutcome(conn, evt); err != nil {
			return
		}
	}

	ping := time.NewTicker(streamPingEvery)
	defer ping.Stop()
	for {
		select {
		case <-done:
			return
		case evt, ok := <-ch:
			if !ok {
				// dropped for falling behind
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "subscriber too slow"),
					time.Now().Add(streamWriteWait))
				return
			}
			if err := writeOutcome(conn, evt); err != nil {
				return
			}
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(streamWriteWait)); err != nil {
				return
			}
		}
	}
}

func writeOutcome(conn *websocket.Conn, evt models.OutcomeEvent) error {
	_ = conn.SetWriteDeadline(time.Now().Add(streamWriteWait))
	return conn.WriteJSON(streamNotification{
		JSONRPC: "2.0",
		Method:  outcomeMethod,
		Params: streamParams{
			Version:   rpcStreamVersion,
			Seq:       evt.Seq,
			Timestamp: evt.Timestamp,
			Payload:   evt,
		},
	})
}
