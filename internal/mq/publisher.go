package mq

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/release-engineering/retasc/internal/domain"
)

// MessageType — тип сообщения.
type MessageType string

const (
	MessageTypeTaskResult   MessageType = "task.result"
	MessageTypeRunFinished  MessageType = "run.finished"
	MessageTypeRunRequested MessageType = "run.requested"
)

// Message — конверт сообщения.
type Message struct {
	ID        string      `json:"id"`
	Type      MessageType `json:"type"`
	Payload   any         `json:"payload"`
	Timestamp time.Time   `json:"timestamp"`
}

func newMessage(t MessageType, payload any) *Message {
	return &Message{
		ID:        uuid.New().String(),
		Type:      t,
		Payload:   payload,
		Timestamp: time.Now().UTC(),
	}
}

// TaskResultPayload — итог задачи прогона.
type TaskResultPayload struct {
	RunID  uuid.UUID         `json:"run_id"`
	DryRun bool              `json:"dry_run"`
	Result domain.TaskResult `json:"result"`
}

// RunFinishedPayload — итог прогона.
type RunFinishedPayload struct {
	RunID   uuid.UUID                `json:"run_id"`
	Status  domain.RunStatus         `json:"status"`
	Trigger string                   `json:"trigger"`
	DryRun  bool                     `json:"dry_run"`
	Today   string                   `json:"today"`
	Summary map[domain.TaskState]int `json:"summary,omitempty"`
	Error   string                   `json:"error,omitempty"`
}

// RunRequestedPayload — запрос на прогон.
// Пустые поля означают значения по умолчанию (сегодня, реальная запись).
type RunRequestedPayload struct {
	DryRun bool   `json:"dry_run"`
	Today  string `json:"today,omitempty"`
}

// Publisher публикует события retasc.
type Publisher struct {
	conn   *Connection
	logger *slog.Logger
}

// NewPublisher создаёт Publisher.
func NewPublisher(conn *Connection, logger *slog.Logger) *Publisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Publisher{conn: conn, logger: logger}
}

// Publish публикует сообщение.
func (p *Publisher) Publish(ctx context.Context, exchange Exchange, key RoutingKey, msg *Message) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}

	return p.conn.WithChannel(func(ch *amqp.Channel) error {
		err := ch.PublishWithContext(ctx, string(exchange), string(key), false, false, amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			MessageId:    msg.ID,
			Timestamp:    msg.Timestamp,
			Type:         string(msg.Type),
			Body:         body,
		})
		if err != nil {
			return fmt.Errorf("publish to %s/%s: %w", exchange, key, err)
		}
		p.logger.Debug("published message", "exchange", exchange, "routing_key", key, "message_id", msg.ID, "type", msg.Type)
		return nil
	})
}

// PublishTaskResult публикует итог задачи.
func (p *Publisher) PublishTaskResult(ctx context.Context, run *domain.Run, result domain.TaskResult) error {
	msg := newMessage(MessageTypeTaskResult, TaskResultPayload{RunID: run.ID, DryRun: run.DryRun, Result: result})
	return p.Publish(ctx, ExchangeEvents, RoutingKeyTaskResult, msg)
}

// PublishRunFinished публикует итог прогона.
func (p *Publisher) PublishRunFinished(ctx context.Context, run *domain.Run) error {
	return p.Publish(ctx, ExchangeEvents, RoutingKeyRunFinished, newMessage(MessageTypeRunFinished, runFinished(run)))
}

// PublishRunRequested ставит прогон в очередь.
func (p *Publisher) PublishRunRequested(ctx context.Context, req RunRequestedPayload) error {
	return p.Publish(ctx, ExchangeRuns, RoutingKeyRunRequested, newMessage(MessageTypeRunRequested, req))
}

func runFinished(run *domain.Run) RunFinishedPayload {
	return RunFinishedPayload{
		RunID:   run.ID,
		Status:  run.Status,
		Trigger: run.Trigger,
		DryRun:  run.DryRun,
		Today:   run.Today.Format(time.DateOnly),
		Summary: run.Summary,
		Error:   run.Error,
	}
}
