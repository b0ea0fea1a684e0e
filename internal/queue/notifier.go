package queue

import (
	"encoding/json"
	"fmt"
	"log"

	"github.com/streadway/amqp"
)

// Notifier fans observability events (daily limit reached, cycle exhausted)
// out to the rest of the backend. The scheduling engine only publishes;
// consumers live elsewhere.
type Notifier interface {
	Publish(topic string, payload any) error
}

// AMQPNotifier publishes JSON messages to a durable RabbitMQ queue per topic.
type AMQPNotifier struct {
	conn *amqp.Connection
	ch   *amqp.Channel

	declared map[string]bool
}

func NewAMQPNotifier(url string) (*AMQPNotifier, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open a channel: %w", err)
	}

	return &AMQPNotifier{conn: conn, ch: ch, declared: make(map[string]bool)}, nil
}

func (n *AMQPNotifier) Publish(topic string, payload any) error {
	if !n.declared[topic] {
		_, err := n.ch.QueueDeclare(
			topic, // name
			true,  // durable
			false, // delete when unused
			false, // exclusive
			false, // no-wait
			nil,   // arguments
		)
		if err != nil {
			return fmt.Errorf("failed to declare queue %s: %w", topic, err)
		}
		n.declared[topic] = true
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal notification: %w", err)
	}

	return n.ch.Publish(
		"",    // exchange
		topic, // routing key
		false, // mandatory
		false, // immediate
		amqp.Publishing{
			ContentType: "application/json",
			Body:        body,
		},
	)
}

func (n *AMQPNotifier) Close() {
	if n.ch != nil {
		n.ch.Close()
	}
	if n.conn != nil {
		n.conn.Close()
	}
}

// LogNotifier is the fallback when no broker is configured; notifications
// only land in the process log.
type LogNotifier struct{}

func (LogNotifier) Publish(topic string, payload any) error {
	log.Printf("📣 Notification %s: %+v\n", topic, payload)
	return nil
}
