package server

import (
	"context"
	"io"
	"net/http"
	"time"

	"github.com/MarcoPoloResearchLab/storefront/internal/collection"
	"github.com/MarcoPoloResearchLab/storefront/internal/notifications"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const (
	RealtimeEventCartChanged          = "cart-changed"
	RealtimeEventWishlistChanged      = "wishlist-changed"
	RealtimeEventNotificationsChanged = notifications.TopicChanged
	RealtimeEventSessionState         = "session-state"
	realtimeEventHeartbeat            = "heartbeat"
	realtimeSource                    = "storefront-sync"

	defaultHeartbeatInterval = 25 * time.Second
	realtimeBufferSize       = 32
)

// RealtimeMessage is one server-sent event.
type RealtimeMessage struct {
	EventType string
	Payload   any
	Timestamp time.Time
}

type collectionEventPayload struct {
	Operation string `json:"operation"`
	Count     int    `json:"count"`
	Hydrated  bool   `json:"hydrated"`
}

// subscribeRealtime merges the collection, notification and session streams
// into one channel that closes when ctx is done.
func (h *httpHandler) subscribeRealtime(ctx context.Context) <-chan RealtimeMessage {
	merged := make(chan RealtimeMessage, realtimeBufferSize)
	emit := func(eventType string, payload any) bool {
		select {
		case merged <- RealtimeMessage{EventType: eventType, Payload: payload, Timestamp: time.Now().UTC()}:
			return true
		case <-ctx.Done():
			return false
		}
	}

	cartEvents := h.cart.Subscribe(ctx)
	wishlistEvents := h.wishlist.Subscribe(ctx)
	notificationSignals := h.notifications.Subscribe(ctx)
	sessionStates := h.session.Subscribe(ctx)

	done := make(chan struct{}, 4)
	forward := func(run func()) {
		go func() {
			defer func() { done <- struct{}{} }()
			run()
		}()
	}
	forward(func() {
		for event := range cartEvents.Events() {
			if !emit(RealtimeEventCartChanged, newCollectionEventPayload(event)) {
				return
			}
		}
	})
	forward(func() {
		for event := range wishlistEvents.Events() {
			if !emit(RealtimeEventWishlistChanged, newCollectionEventPayload(event)) {
				return
			}
		}
	})
	forward(func() {
		for range notificationSignals.Events() {
			if !emit(RealtimeEventNotificationsChanged, gin.H{}) {
				return
			}
		}
	})
	forward(func() {
		for state := range sessionStates.Events() {
			if !emit(RealtimeEventSessionState, newSessionStatePayload(state)) {
				return
			}
		}
	})

	go func() {
		<-ctx.Done()
		cartEvents.Cancel()
		wishlistEvents.Cancel()
		notificationSignals.Cancel()
		sessionStates.Cancel()
		for remaining := 0; remaining < 4; remaining++ {
			<-done
		}
		close(merged)
	}()
	return merged
}

func newCollectionEventPayload(event collection.ChangeEvent) collectionEventPayload {
	return collectionEventPayload{
		Operation: event.Operation,
		Count:     event.Count,
		Hydrated:  event.Hydrated,
	}
}

// handleEventStream streams change events as server-sent events. The
// notification event carries no data: clients reload the feed on receipt.
func (h *httpHandler) handleEventStream(c *gin.Context) {
	ctx := c.Request.Context()
	messages := h.subscribeRealtime(ctx)

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Status(http.StatusOK)

	heartbeat := time.NewTicker(h.heartbeat)
	defer heartbeat.Stop()

	c.SSEvent(RealtimeEventSessionState, newSessionStatePayload(h.session.State()))
	c.Writer.Flush()

	c.Stream(func(_ io.Writer) bool {
		select {
		case <-ctx.Done():
			return false
		case message, ok := <-messages:
			if !ok {
				return false
			}
			c.SSEvent(message.EventType, message.Payload)
			return true
		case tick := <-heartbeat.C:
			c.SSEvent(realtimeEventHeartbeat, gin.H{"source": realtimeSource, "timestamp": tick.UTC().Unix()})
			return true
		}
	})
	h.logger.Debug("event stream closed", zap.Error(ctx.Err()))
}
