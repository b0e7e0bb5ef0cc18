package server

import (
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shortyai/creditdesk/internal/liveevents"
	"github.com/shortyai/creditdesk/internal/observability/logger"
	"go.uber.org/zap"
)

const liveHeartbeatInterval = 15 * time.Second

// StreamProfile sends the viewer's profile as a snapshot, then every change.
// A reconnect gets a fresh snapshot instead of a replay.
func (s *Server) StreamProfile(c *gin.Context) {
	prof, ok := profileFromContext(c)
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}

	sub, current, err := s.profileSvc.Watch(c.Request.Context(), prof.UID)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	defer sub.Close()

	snapshot, err := liveevents.NewEvent(sub.Topic(), liveevents.TypeSnapshot, time.Now(), current)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	s.serveEventStream(c, sub, snapshot)
}

// StreamPayments feeds the payments table: the whole collection for admins,
// the viewer's own notifications otherwise.
func (s *Server) StreamPayments(c *gin.Context) {
	viewer, ok := viewerFromContext(c)
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}

	sub, current, err := s.paymentSvc.Watch(c.Request.Context(), viewer)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	defer sub.Close()

	snapshot, err := liveevents.NewEvent(sub.Topic(), liveevents.TypeSnapshot, time.Now(), current)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	s.serveEventStream(c, sub, snapshot)
}

// serveEventStream writes SSE frames until the client leaves or the session
// that opened the stream is signed out.
func (s *Server) serveEventStream(c *gin.Context, sub *liveevents.Subscription, snapshot liveevents.Event) {
	closed, err := s.watchSession(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	defer closed.Close()

	writer := c.Writer
	headers := writer.Header()
	headers.Set("Content-Type", "text/event-stream")
	headers.Set("Cache-Control", "no-cache")
	headers.Set("Connection", "keep-alive")
	headers.Set("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)

	flusher, ok := writer.(http.Flusher)
	if !ok {
		AbortWithError(c, ErrServiceUnavailable)
		return
	}

	if _, err := io.WriteString(writer, "retry: 2000\n\n"); err != nil {
		return
	}
	if err := writeLiveEvent(writer, snapshot); err != nil {
		return
	}
	flusher.Flush()

	ctx := c.Request.Context()
	heartbeat := time.NewTicker(s.heartbeatInterval())
	defer heartbeat.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.done:
			return
		case event := <-sub.Events():
			if err := writeLiveEvent(writer, event); err != nil {
				return
			}
			flusher.Flush()
		case event := <-closed.Events():
			if event.Type != liveevents.TypeSessionClosed {
				continue
			}
			_ = writeLiveEvent(writer, event)
			flusher.Flush()
			logger.FromContext(ctx).Debug("live stream closed by sign out", zap.String("topic", sub.Topic()))
			return
		case <-heartbeat.C:
			if _, err := io.WriteString(writer, ": heartbeat\n\n"); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

func (s *Server) watchSession(c *gin.Context) (*liveevents.Subscription, error) {
	sess, ok := sessionFromContext(c)
	if !ok {
		return nil, ErrUnauthorized
	}
	if s.hub == nil {
		return nil, ErrServiceUnavailable
	}
	sub, _, err := s.hub.Subscribe(liveevents.SessionTopic(sess.ID.String()))
	if err != nil {
		return nil, err
	}
	return sub, nil
}

func (s *Server) heartbeatInterval() time.Duration {
	if s.heartbeat <= 0 {
		return liveHeartbeatInterval
	}
	return s.heartbeat
}

func writeLiveEvent(w io.Writer, event liveevents.Event) error {
	data := event.Data
	if len(data) == 0 {
		data = []byte("null")
	}
	_, err := fmt.Fprintf(w, "id: %s\nevent: %s\ndata: %s\n\n", event.ID, event.Type, data)
	return err
}
