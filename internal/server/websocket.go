package server

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/shortyai/creditdesk/internal/liveevents"
	"github.com/shortyai/creditdesk/internal/observability/logger"
	paymentdomain "github.com/shortyai/creditdesk/internal/payment/domain"
	"go.uber.org/zap"
)

const (
	wsWriteWait      = 10 * time.Second
	wsPongWait       = 60 * time.Second
	wsPingPeriod     = (wsPongWait * 9) / 10
	wsMaxMessageSize = 512
)

// newUpgrader keeps gorilla's same-origin check; the stream rides on the
// session cookie.
func newUpgrader() websocket.Upgrader {
	return websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 4096,
	}
}

// LiveWebsocket multiplexes the viewer's profile and payment feeds over one
// socket. Without ?since it starts with snapshots; with ?since=<event id> it
// replays what the hub still holds after that id.
func (s *Server) LiveWebsocket(c *gin.Context) {
	viewer, ok := viewerFromContext(c)
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}
	sess, ok := sessionFromContext(c)
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}
	if s.hub == nil {
		AbortWithError(c, ErrServiceUnavailable)
		return
	}

	paymentsTopic := liveevents.UserPaymentsTopic(viewer.UserID)
	if viewer.Admin {
		paymentsTopic = liveevents.AllPaymentsTopic
	}
	topics := []string{
		liveevents.ProfileTopic(viewer.UserID),
		paymentsTopic,
		liveevents.SessionTopic(sess.ID.String()),
	}

	subs := make([]*liveevents.Subscription, 0, len(topics))
	defer func() {
		for _, sub := range subs {
			sub.Close()
		}
	}()
	var backlog []liveevents.Event
	for _, topic := range topics {
		sub, events, err := s.hub.Subscribe(topic)
		if err != nil {
			AbortWithError(c, err)
			return
		}
		subs = append(subs, sub)
		backlog = append(backlog, events...)
	}

	var initial []liveevents.Event
	if since := strings.TrimSpace(c.Query("since")); since != "" {
		sort.Slice(backlog, func(i, j int) bool { return backlog[i].ID < backlog[j].ID })
		initial = liveevents.After(backlog, since)
	} else {
		snapshots, err := s.liveSnapshots(c.Request.Context(), viewer, topics[0], topics[1])
		if err != nil {
			AbortWithError(c, err)
			return
		}
		initial = snapshots
	}

	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// Upgrade already answered the client.
		logger.FromContext(c.Request.Context()).Debug("websocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()
	go readPump(conn, cancel)

	for _, event := range initial {
		if err := writeWSEvent(conn, event); err != nil {
			return
		}
	}

	ping := time.NewTicker(wsPingPeriod)
	defer ping.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.done:
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"))
			return
		case event := <-subs[0].Events():
			if err := writeWSEvent(conn, event); err != nil {
				return
			}
		case event := <-subs[1].Events():
			if err := writeWSEvent(conn, event); err != nil {
				return
			}
		case event := <-subs[2].Events():
			if event.Type != liveevents.TypeSessionClosed {
				continue
			}
			_ = writeWSEvent(conn, event)
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "signed out"))
			return
		case <-ping.C:
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (s *Server) liveSnapshots(ctx context.Context, viewer paymentdomain.Viewer, profileTopic, paymentsTopic string) ([]liveevents.Event, error) {
	prof, err := s.profileSvc.Get(ctx, viewer.UserID)
	if err != nil {
		return nil, err
	}
	payments, err := s.paymentSvc.List(ctx, paymentdomain.ListRequest{Viewer: viewer})
	if err != nil {
		return nil, err
	}

	now := time.Now()
	profileEvent, err := liveevents.NewEvent(profileTopic, liveevents.TypeSnapshot, now, prof)
	if err != nil {
		return nil, err
	}
	paymentsEvent, err := liveevents.NewEvent(paymentsTopic, liveevents.TypeSnapshot, now, payments)
	if err != nil {
		return nil, err
	}
	return []liveevents.Event{profileEvent, paymentsEvent}, nil
}

// readPump drains client frames so pongs and close frames are processed.
func readPump(conn *websocket.Conn, done context.CancelFunc) {
	defer done()
	conn.SetReadLimit(wsMaxMessageSize)
	_ = conn.SetReadDeadline(time.Now().Add(wsPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func writeWSEvent(conn *websocket.Conn, event liveevents.Event) error {
	if err := conn.SetWriteDeadline(time.Now().Add(wsWriteWait)); err != nil {
		return err
	}
	return conn.WriteJSON(event)
}
