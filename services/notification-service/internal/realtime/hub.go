// Package realtime relays court-board updates from RabbitMQ to browsers over
// server-sent events. Slow clients miss messages rather than stall the relay.
package realtime

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/hoaht-8203/courtops/libs/mq"
	amqp "github.com/rabbitmq/amqp091-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Message matches what booking-service publishes on the board exchange.
type Message struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
	At    time.Time       `json:"at"`
}

type subscriber struct {
	ch     chan Message
	events map[string]bool
}

func (s *subscriber) wants(event string) bool {
	return len(s.events) == 0 || s.events[event]
}

type Hub struct {
	mu      sync.Mutex
	subs    map[*subscriber]struct{}
	buffer  int
	dropped int64
	logger  *slog.Logger
}

func NewHub(logger *slog.Logger, buffer int) *Hub {
	if buffer <= 0 {
		buffer = 16
	}
	return &Hub{subs: make(map[*subscriber]struct{}), buffer: buffer, logger: logger}
}

// ParseFilter reads a comma separated list of event names. Empty means all.
func ParseFilter(raw string) []string {
	var out []string
	for _, e := range strings.Split(raw, ",") {
		if e = strings.TrimSpace(e); e != "" {
			out = append(out, e)
		}
	}
	return out
}

// Subscribe registers a client. The returned func must be called when the
// client goes away; it closes the channel.
func (h *Hub) Subscribe(events []string) (<-chan Message, func()) {
	s := &subscriber{ch: make(chan Message, h.buffer)}
	if len(events) > 0 {
		s.events = make(map[string]bool, len(events))
		for _, e := range events {
			s.events[e] = true
		}
	}
	h.mu.Lock()
	h.subs[s] = struct{}{}
	h.mu.Unlock()

	var once sync.Once
	return s.ch, func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subs, s)
			h.mu.Unlock()
			close(s.ch)
		})
	}
}

func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

// Broadcast hands m to every interested client without blocking.
func (h *Hub) Broadcast(m Message) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	delivered := 0
	for s := range h.subs {
		if !s.wants(m.Event) {
			continue
		}
		select {
		case s.ch <- m:
			delivered++
		default:
			h.dropped++
		}
	}
	return delivered
}

// Relay broadcasts deliveries until ctx ends or the channel closes.
// Undecodable deliveries are dropped without requeue.
func (h *Hub) Relay(ctx context.Context, deliveries <-chan amqp.Delivery) {
	tracer := otel.Tracer("notification-service/realtime")
	for {
		select {
		case <-ctx.Done():
			return
		case d, ok := <-deliveries:
			if !ok {
				h.logger.Warn("board deliveries closed")
				return
			}
			var m Message
			if err := json.Unmarshal(d.Body, &m); err != nil || m.Event == "" {
				h.logger.Warn("malformed board message dropped", "routing_key", d.RoutingKey, "err", err)
				_ = d.Nack(false, false)
				continue
			}
			_, span := tracer.Start(mq.ExtractTraceContext(ctx, d), "board "+m.Event,
				trace.WithSpanKind(trace.SpanKindConsumer))
			n := h.Broadcast(m)
			span.SetAttributes(attribute.Int("board.clients", n))
			span.End()
			_ = d.Ack(false)
		}
	}
}
