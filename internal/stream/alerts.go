// Package stream provides alert event emission and fan-out to
// subscribers.
package stream

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"ensemble-trader/internal/models"
)

// Sink receives alert events. Risk governor transitions and liquidation
// trigger bands always emit through a Sink.
type Sink interface {
	Emit(level models.AlertLevel, category models.AlertCategory, message string)
}

// Hub fans alert events out to subscribers. Delivery is non-blocking: a
// subscriber that cannot keep up drops events rather than stalling the
// pipeline.
type Hub struct {
	mu          sync.RWMutex
	subscribers map[int]chan models.Alert
	nextID      int
	history     []models.Alert
	historyCap  int
	logger      zerolog.Logger
	onEmit      func(models.Alert)
	dropped     int
}

// NewHub creates an alert hub retaining the most recent historyCap events.
func NewHub(historyCap int, logger zerolog.Logger) *Hub {
	if historyCap <= 0 {
		historyCap = 256
	}
	return &Hub{
		subscribers: make(map[int]chan models.Alert),
		historyCap:  historyCap,
		logger:      logger.With().Str("component", "alerts").Logger(),
	}
}

// SetOnEmit sets a callback invoked for every emitted alert, used to
// persist alerts to the journal.
func (h *Hub) SetOnEmit(fn func(models.Alert)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.onEmit = fn
}

// Emit creates and publishes an alert event.
func (h *Hub) Emit(level models.AlertLevel, category models.AlertCategory, message string) {
	alert := models.Alert{
		ID:        uuid.NewString(),
		Level:     level,
		Category:  category,
		Message:   message,
		Timestamp: time.Now(),
	}

	h.mu.Lock()
	h.history = append(h.history, alert)
	if len(h.history) > h.historyCap {
		h.history = h.history[len(h.history)-h.historyCap:]
	}
	onEmit := h.onEmit
	subs := make([]chan models.Alert, 0, len(h.subscribers))
	for _, ch := range h.subscribers {
		subs = append(subs, ch)
	}
	h.mu.Unlock()

	event := h.logger.Info()
	if level == models.AlertWarning {
		event = h.logger.Warn()
	} else if level == models.AlertCritical {
		event = h.logger.Error()
	}
	event.
		Str("event", "alert").
		Str("category", string(category)).
		Str("level", string(level)).
		Msg(message)

	if onEmit != nil {
		onEmit(alert)
	}

	for _, ch := range subs {
		select {
		case ch <- alert:
		default:
			h.mu.Lock()
			h.dropped++
			h.mu.Unlock()
		}
	}
}

// Subscribe registers a new subscriber. The returned cancel function
// removes the subscription and closes the channel.
func (h *Hub) Subscribe(buffer int) (<-chan models.Alert, func()) {
	if buffer <= 0 {
		buffer = 16
	}
	ch := make(chan models.Alert, buffer)

	h.mu.Lock()
	id := h.nextID
	h.nextID++
	h.subscribers[id] = ch
	h.mu.Unlock()

	cancel := func() {
		h.mu.Lock()
		if _, ok := h.subscribers[id]; ok {
			delete(h.subscribers, id)
			close(ch)
		}
		h.mu.Unlock()
	}
	return ch, cancel
}

// Recent returns up to n of the most recent alerts, newest last.
func (h *Hub) Recent(n int) []models.Alert {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if n <= 0 || n > len(h.history) {
		n = len(h.history)
	}
	out := make([]models.Alert, n)
	copy(out, h.history[len(h.history)-n:])
	return out
}

// Dropped returns the number of events dropped due to slow subscribers.
func (h *Hub) Dropped() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.dropped
}
