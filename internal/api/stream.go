package api

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"regimen-risk/backend/internal/scoring"
)

const streamWriteTimeout = 10 * time.Second

// wsClient wraps a websocket connection with write locking.
type wsClient struct {
	conn      *websocket.Conn
	mu        sync.Mutex
	requestID string
}

func (c *wsClient) writeJSON(payload interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return nil
	}
	c.conn.SetWriteDeadline(time.Now().Add(streamWriteTimeout))
	return c.conn.WriteJSON(payload)
}

func (c *wsClient) emit(event StreamEvent) error {
	event.RequestID = c.requestID
	event.Timestamp = time.Now().UTC()
	return c.writeJSON(event)
}

func (s *Server) upgrader() websocket.Upgrader {
	return websocket.Upgrader{
		HandshakeTimeout:  5 * time.Second,
		EnableCompression: true,
		CheckOrigin: func(r *http.Request) bool {
			if len(s.allowedOrigins) == 0 {
				return true
			}
			origin := strings.TrimSpace(r.Header.Get("Origin"))
			for _, allowed := range s.allowedOrigins {
				if strings.EqualFold(origin, allowed) {
					return true
				}
			}
			return false
		},
	}
}

// handleRecommendStream runs one recommendation search per connection. The
// client sends a RecommendRequest; the server answers with a candidate event
// per scored alternative and a final complete or error event.
func (s *Server) handleRecommendStream(c *gin.Context) {
	upgrader := s.upgrader()
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logrus.WithError(err).Warn("upgrade websocket")
		return
	}
	defer conn.Close()

	client := &wsClient{conn: conn, requestID: requestIDFrom(c)}
	log := logrus.WithFields(logrus.Fields{
		"remote":     conn.RemoteAddr().String(),
		"request_id": client.requestID,
	})
	log.Info("recommendation websocket connected")

	conn.SetReadLimit(maxBodyBytes)
	var req RecommendRequest
	if err := conn.ReadJSON(&req); err != nil {
		log.WithError(err).Warn("read recommendation request")
		_ = client.emit(StreamEvent{Type: "error", Message: "invalid request payload"})
		return
	}
	if err := validateRecommend(req); err != nil {
		_ = client.emit(StreamEvent{Type: "error", Message: err.Error()})
		return
	}

	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()

	// The client sends nothing after the request; a read error means it left.
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					log.WithError(err).Debug("recommendation websocket unexpected close")
				}
				return
			}
		}
	}()

	processed := 0
	started := time.Now()
	results, err := s.engine.Recommend(ctx, scoring.SearchRequest{
		Regimen: req.DrugIDs,
		Target:  req.TargetDrug,
		TopK:    req.TopK,
		Progress: func(rec scoring.Recommendation) {
			processed++
			candidate := rec
			if writeErr := client.emit(StreamEvent{Type: "candidate", Processed: processed, Candidate: &candidate}); writeErr != nil {
				cancel()
			}
		},
	})
	if err != nil {
		s.metrics.ObserveRecommendation("error", processed)
		if !errors.Is(err, context.Canceled) {
			_ = client.emit(StreamEvent{Type: "error", Message: err.Error()})
		}
		log.WithError(err).Warn("recommendation stream aborted")
		return
	}

	s.metrics.ObserveRecommendation(outcomeOf(results), processed)
	if err := client.emit(StreamEvent{
		Type:            "complete",
		Processed:       processed,
		Total:           processed,
		Recommendations: results,
	}); err != nil {
		log.WithError(err).Warn("write complete event")
		return
	}
	log.WithFields(logrus.Fields{
		"processed": processed,
		"returned":  len(results),
		"duration":  time.Since(started),
	}).Info("recommendation stream complete")
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "done"),
		time.Now().Add(time.Second))
}
