package mq

import (
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Exchange — имя обменника.
type Exchange string

// Queue — имя очереди.
type Queue string

// RoutingKey — ключ маршрутизации.
type RoutingKey string

const (
	ExchangeEvents Exchange = "retasc.events"
	ExchangeRuns   Exchange = "retasc.runs"
	ExchangeDLQ    Exchange = "retasc.dlq"
)

const (
	QueueRunRequests    Queue = "retasc.run.requested"
	QueueDLQRunRequests Queue = "retasc.dlq.run.requested"
)

const (
	RoutingKeyTaskResult   RoutingKey = "task.result"
	RoutingKeyRunFinished  RoutingKey = "run.finished"
	RoutingKeyRunRequested RoutingKey = "run.requested"
)

type exchangeDecl struct {
	name Exchange
	kind string
}

type queueDecl struct {
	name Queue
	args amqp.Table
}

type bindingDecl struct {
	queue    Queue
	key      RoutingKey
	exchange Exchange
}

// topology возвращает объявления exchanges, queues и bindings.
// Очередь событий не объявляется: её создают потребители retasc.events.
func topology() ([]exchangeDecl, []queueDecl, []bindingDecl) {
	exchanges := []exchangeDecl{
		{ExchangeEvents, amqp.ExchangeTopic},
		{ExchangeRuns, amqp.ExchangeDirect},
		{ExchangeDLQ, amqp.ExchangeDirect},
	}
	queues := []queueDecl{
		{QueueRunRequests, amqp.Table{
			"x-dead-letter-exchange":    string(ExchangeDLQ),
			"x-dead-letter-routing-key": string(RoutingKeyRunRequested),
		}},
		{QueueDLQRunRequests, nil},
	}
	bindings := []bindingDecl{
		{QueueRunRequests, RoutingKeyRunRequested, ExchangeRuns},
		{QueueDLQRunRequests, RoutingKeyRunRequested, ExchangeDLQ},
	}
	return exchanges, queues, bindings
}

// SetupTopology объявляет топологию retasc (идемпотентно).
func SetupTopology(conn *Connection) error {
	exchanges, queues, bindings := topology()
	return conn.WithChannel(func(ch *amqp.Channel) error {
		for _, ex := range exchanges {
			if err := ch.ExchangeDeclare(string(ex.name), ex.kind, true, false, false, false, nil); err != nil {
				return fmt.Errorf("declare exchange %s: %w", ex.name, err)
			}
		}
		for _, q := range queues {
			if _, err := ch.QueueDeclare(string(q.name), true, false, false, false, q.args); err != nil {
				return fmt.Errorf("declare queue %s: %w", q.name, err)
			}
		}
		for _, b := range bindings {
			if err := ch.QueueBind(string(b.queue), string(b.key), string(b.exchange), false, nil); err != nil {
				return fmt.Errorf("bind queue %s to %s: %w", b.queue, b.exchange, err)
			}
		}
		return nil
	})
}
