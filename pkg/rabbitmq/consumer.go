package rabbitmq

import (
	"context"
	"fmt"
	"log"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Handler processes one message body. Returning false re-queues the message.
type Handler func(body []byte) bool

// Consumer reads billing events from a durable queue.
type Consumer struct {
	conn *amqp.Connection
	ch   *amqp.Channel
}

func NewConsumer(amqpURL string) (*Consumer, error) {
	cleanURL, err := sanitizeAMQPURL(amqpURL)
	if err != nil {
		return nil, err
	}

	conn, err := amqp.Dial(cleanURL)
	if err != nil {
		return nil, err
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, err
	}

	if err := ch.Qos(10, 0, false); err != nil {
		ch.Close()
		conn.Close()
		return nil, err
	}

	return &Consumer{conn: conn, ch: ch}, nil
}

// ConsumeWithBindings binds queueName to each routing key on exchange and
// dispatches deliveries until ctx is cancelled or the channel closes.
func (c *Consumer) ConsumeWithBindings(ctx context.Context, exchange, queueName string, bindings map[string]Handler) error {
	if len(bindings) == 0 {
		return fmt.Errorf("no bindings provided")
	}

	if err := c.ch.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		return err
	}

	q, err := c.ch.QueueDeclare(queueName, true, false, false, false, nil)
	if err != nil {
		return err
	}

	for routingKey, handler := range bindings {
		if handler == nil {
			continue
		}
		if err := c.ch.QueueBind(q.Name, routingKey, exchange, false, nil); err != nil {
			return err
		}
	}

	msgs, err := c.ch.Consume(q.Name, "", false, false, false, false, nil)
	if err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case d, ok := <-msgs:
			if !ok {
				return fmt.Errorf("rabbitmq delivery channel closed")
			}
			dispatch(d, bindings)
		}
	}
}

// acknowledger is the part of amqp.Delivery that dispatch needs.
type acknowledger interface {
	Ack(multiple bool) error
	Nack(multiple, requeue bool) error
}

func dispatch(d amqp.Delivery, bindings map[string]Handler) {
	route(d.RoutingKey, d.Body, d.Redelivered, d, bindings)
}

// route runs the handler for routingKey. A redelivered message that fails again
// is dropped so a poison message cannot loop forever.
func route(routingKey string, body []byte, redelivered bool, ack acknowledger, bindings map[string]Handler) {
	handler, ok := bindings[routingKey]
	if !ok || handler == nil {
		log.Printf("level=warn component=mq_consumer routing_key=%s msg=\"no handler; dropping\"", routingKey)
		_ = ack.Ack(false)
		return
	}
	if handler(body) {
		_ = ack.Ack(false)
		return
	}
	if redelivered {
		log.Printf("level=error component=mq_consumer routing_key=%s msg=\"handler failed on redelivery; dropping\"", routingKey)
		_ = ack.Nack(false, false)
		return
	}
	log.Printf("level=warn component=mq_consumer routing_key=%s msg=\"handler failed; re-queuing\"", routingKey)
	_ = ack.Nack(false, true)
}

func (c *Consumer) Close() {
	if c.ch != nil {
		c.ch.Close()
	}
	if c.conn != nil {
		c.conn.Close()
	}
}
