package mq

import (
	"context"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"
)

type ConsumerConfig struct {
	Exchange string
	// Queue may be empty together with Exclusive to get a server-named queue
	// that disappears with the connection (one per SSE replica).
	Queue     string
	Exclusive bool
	Keys      []string
}

type Consumer struct {
	conn     *amqp.Connection
	ch       *amqp.Channel
	exchange string
	queue    string
	keys     []string
}

func NewConsumer(url string, cfg ConsumerConfig) (*Consumer, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("dial rabbitmq: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}
	fail := func(step string, err error) (*Consumer, error) {
		_ = ch.Close()
		_ = conn.Close()
		return nil, fmt.Errorf("%s: %w", step, err)
	}
	if err := ch.ExchangeDeclare(cfg.Exchange, "topic", true, false, false, false, nil); err != nil {
		return fail("declare exchange", err)
	}
	durable := !cfg.Exclusive
	q, err := ch.QueueDeclare(cfg.Queue, durable, cfg.Exclusive, cfg.Exclusive, false, nil)
	if err != nil {
		return fail("declare queue", err)
	}
	keys := cfg.Keys
	if len(keys) == 0 {
		keys = []string{"#"}
	}
	for _, rk := range keys {
		if err := ch.QueueBind(q.Name, rk, cfg.Exchange, false, nil); err != nil {
			return fail("bind "+rk, err)
		}
	}
	return &Consumer{conn: conn, ch: ch, exchange: cfg.Exchange, queue: q.Name, keys: keys}, nil
}

func (c *Consumer) Queue() string { return c.queue }

func (c *Consumer) Deliveries(ctx context.Context) (<-chan amqp.Delivery, error) {
	return c.ch.ConsumeWithContext(ctx, c.queue, "", false, false, false, false, nil)
}

func (c *Consumer) Close() error {
	if c.ch != nil {
		_ = c.ch.Close()
	}
	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}
