package controller

import (
	"io"
	"net/http"
	"time"

	"github.com/bassista/go_leaf/internal/events"
	"github.com/bassista/go_leaf/internal/logger"
	"github.com/gin-gonic/gin"
)

// Subscriber hands out event subscriptions.
type Subscriber interface {
	Subscribe(buffer int) (<-chan events.Event, func())
}

// EventController streams hub events as server-sent events.
type EventController struct {
	hub       Subscriber
	buffer    int
	keepAlive time.Duration
}

func NewEventController(hub Subscriber) *EventController {
	return &EventController{hub: hub, buffer: 64, keepAlive: 15 * time.Second}
}

// Stream handles GET /events. The stream ends when the client goes away or
// the hub closes the subscription.
func (ec *EventController) Stream(c *gin.Context) {
	ch, cancel := ec.hub.Subscribe(ec.buffer)
	defer cancel()

	log := logger.WithComponent("events")
	log.Debugf("event stream opened by %s", c.ClientIP())
	defer log.Debugf("event stream closed for %s", c.ClientIP())

	c.Header("Cache-Control", "no-cache")
	c.Header("X-Accel-Buffering", "no")
	// The server write timeout would otherwise cut the stream.
	if err := http.NewResponseController(c.Writer).SetWriteDeadline(time.Time{}); err != nil {
		log.Debugf("cannot clear write deadline: %v", err)
	}
	ticker := time.NewTicker(ec.keepAlive)
	defer ticker.Stop()

	c.Stream(func(w io.Writer) bool {
		select {
		case <-c.Request.Context().Done():
			return false
		case ev, ok := <-ch:
			if !ok {
				return false
			}
			c.SSEvent(ev.Name, ev)
			return true
		case <-ticker.C:
			c.SSEvent("ping", time.Now().UnixMilli())
			return true
		}
	})
}
