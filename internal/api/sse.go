package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/madello/paarvai/internal/errors"
	"github.com/madello/paarvai/internal/logger"
)

const sseWriteTimeout = 10 * time.Second

// Stream event names besides the feed.EventKind values.
const (
	sseEventConnected = "connected"
	sseEventSnapshot  = "snapshot"
	sseEventHeartbeat = "heartbeat"
)

// streamFeed sends a snapshot followed by every feed change as server-sent
// events. A client that falls behind loses events; the revision numbers in
// the event ids reveal the gap and the client can refetch /feed.
func (s *Server) streamFeed(c echo.Context) error {
	s.wg.Add(1)
	defer s.wg.Done()

	h := c.Response().Header()
	h.Set(echo.HeaderContentType, "text/event-stream")
	h.Set(echo.HeaderCacheControl, "no-cache")
	h.Set(echo.HeaderConnection, "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	c.Response().WriteHeader(http.StatusOK)

	sub := s.feed.Subscribe(s.cfg.SSEBuffer)
	defer s.feed.Unsubscribe(sub.ID)

	if s.metrics != nil {
		defer s.metrics.SSEConnected()()
	}

	clientID := requestID(c)
	log := s.log.WithContext(c.Request().Context())
	log.Info("sse client connected", logger.String("ip", c.RealIP()))
	defer func() {
		log.Info("sse client disconnected", logger.Uint64("dropped", sub.Dropped()))
	}()

	if err := s.sendSSE(c, "", sseEventConnected, map[string]string{"clientId": clientID}); err != nil {
		return nil
	}

	snap, err := s.feed.Snapshot(c.Request().Context())
	if err != nil {
		log.Warn("sse snapshot failed", logger.Error(err))
		return nil
	}
	if err := s.sendSSE(c, revisionID(snap.Revision), sseEventSnapshot, snap); err != nil {
		return nil
	}

	ticker := time.NewTicker(s.cfg.SSEHeartbeat)
	defer ticker.Stop()

	for {
		select {
		case evt, ok := <-sub.C:
			if !ok {
				// feed stopped
				return nil
			}
			if err := s.sendSSE(c, revisionID(evt.Revision), string(evt.Kind), evt); err != nil {
				log.Debug("sse send failed", logger.Error(err))
				return nil
			}
		case <-ticker.C:
			hb := map[string]any{"timestamp": s.now().Unix(), "revision": s.feed.Stats().Revision}
			if err := s.sendSSE(c, "", sseEventHeartbeat, hb); err != nil {
				log.Debug("sse heartbeat failed", logger.Error(err))
				return nil
			}
		case <-c.Request().Context().Done():
			return nil
		case <-s.ctx.Done():
			return nil
		}
	}
}

func revisionID(rev uint64) string {
	return strconv.FormatUint(rev, 10)
}

// sendSSE writes one event and flushes it.
func (s *Server) sendSSE(c echo.Context, id, event string, data any) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return sseError(fmt.Errorf("failed to marshal sse data: %w", err), event)
	}

	rc := http.NewResponseController(c.Response().Writer)
	// not every writer supports deadlines
	_ = rc.SetWriteDeadline(time.Now().Add(sseWriteTimeout))

	w := c.Response()
	if id != "" {
		if _, err := fmt.Fprintf(w, "id: %s\n", id); err != nil {
			return sseError(err, event)
		}
	}
	if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, payload); err != nil {
		return sseError(fmt.Errorf("failed to write sse message: %w", err), event)
	}
	w.Flush()

	if s.metrics != nil {
		s.metrics.RecordSSEMessage()
	}
	return nil
}

func sseError(err error, event string) error {
	return errors.New(err).
		Component("api").
		Category(errors.CategoryBroadcast).
		Context("event", event).
		Build()
}
