package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/streadway/amqp"
)

type Config struct {
	URL         string
	ResumeQueue string
	Exchange    string // topic exchange for interview events
}

type publishChannel interface {
	Publish(exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
}

// Broker owns the AMQP connection. Publishing shares one channel; each
// consumer opens its own.
type Broker struct {
	cfg  Config
	conn *amqp.Connection

	mu sync.Mutex // guards conn and ch
	ch publishChannel
}

// Dial connects and declares the resume queue and the events exchange.
func Dial(cfg Config) (*Broker, error) {
	if cfg.URL == "" {
		return nil, errors.New("amqp url is not configured")
	}

	conn, ch, err := open(cfg)
	if err != nil {
		return nil, err
	}

	slog.Info("Connected to message broker", "queue", cfg.ResumeQueue, "exchange", cfg.Exchange)
	return &Broker{cfg: cfg, conn: conn, ch: ch}, nil
}

func open(cfg Config) (*amqp.Connection, *amqp.Channel, error) {
	conn, err := amqp.Dial(cfg.URL)
	if err != nil {
		return nil, nil, fmt.Errorf("error dialling rabbitmq: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, nil, fmt.Errorf("error opening rabbitmq channel: %w", err)
	}

	if err := declareTopology(ch, cfg); err != nil {
		conn.Close()
		return nil, nil, err
	}
	return conn, ch, nil
}

// connection returns the live connection, redialling when the broker has
// closed the previous one.
func (b *Broker) connection() (*amqp.Connection, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.conn != nil && !b.conn.IsClosed() {
		return b.conn, nil
	}

	conn, ch, err := open(b.cfg)
	if err != nil {
		return nil, err
	}
	b.conn, b.ch = conn, ch
	slog.Info("Reconnected to message broker", "queue", b.cfg.ResumeQueue)
	return conn, nil
}

func declareTopology(ch *amqp.Channel, cfg Config) error {
	_, err := ch.QueueDeclare(
		cfg.ResumeQueue,
		true,  // durable
		false, // auto-delete
		false, // exclusive
		false, // no-wait
		nil,
	)
	if err != nil {
		return fmt.Errorf("failed to declare queue %s: %w", cfg.ResumeQueue, err)
	}

	err = ch.ExchangeDeclare(
		cfg.Exchange,
		amqp.ExchangeTopic,
		true,  // durable
		false, // auto-delete
		false, // internal
		false, // no-wait
		nil,
	)
	if err != nil {
		return fmt.Errorf("failed to declare exchange %s: %w", cfg.Exchange, err)
	}
	return nil
}

// PublishResumeJob enqueues a persistent summary job.
func (b *Broker) PublishResumeJob(ctx context.Context, job ResumeJob) error {
	if job.RequestedAt.IsZero() {
		job.RequestedAt = time.Now().UTC()
	}
	return b.publish(ctx, "", b.cfg.ResumeQueue, job, amqp.Persistent)
}

func (b *Broker) PublishEvaluation(ctx context.Context, event EvaluationEvent) error {
	return b.publish(ctx, b.cfg.Exchange, RoutingKeyEvaluationCompleted, event, amqp.Transient)
}

func (b *Broker) PublishSession(ctx context.Context, event SessionEvent) error {
	return b.publish(ctx, b.cfg.Exchange, RoutingKeySessionCompleted, event, amqp.Transient)
}

func (b *Broker) publish(ctx context.Context, exchange, key string, payload any, mode uint8) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to encode message: %w", err)
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	err = b.ch.Publish(exchange, key, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: mode,
		Timestamp:    time.Now().UTC(),
		Body:         body,
	})
	if err != nil {
		return fmt.Errorf("failed to publish %s: %w", key, err)
	}
	return nil
}

// ResumeJobHandler processes one job. A returned error drops the message.
type ResumeJobHandler func(ctx context.Context, job ResumeJob) error

// ConsumeResumeJobs blocks delivering jobs to handle until ctx is done or
// the broker closes the channel. A closed connection is redialled first.
func (b *Broker) ConsumeResumeJobs(ctx context.Context, workerID int, handle ResumeJobHandler) error {
	conn, err := b.connection()
	if err != nil {
		return err
	}
	ch, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("error opening rabbitmq channel: %w", err)
	}
	defer ch.Close()

	if err := ch.Qos(1, 0, false); err != nil {
		return fmt.Errorf("failed to set prefetch: %w", err)
	}

	msgs, err := ch.Consume(
		b.cfg.ResumeQueue,
		fmt.Sprintf("resume-worker-%d", workerID),
		false, // manual ack
		false, // exclusive
		false, // no-local
		false, // no-wait
		nil,
	)
	if err != nil {
		return fmt.Errorf("error consuming rabbitmq messages: %w", err)
	}

	slog.Info("Resume worker started", "worker_id", workerID, "queue", b.cfg.ResumeQueue)
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-msgs:
			if !ok {
				return errors.New("rabbitmq delivery channel closed")
			}
			handleDelivery(ctx, workerID, msg, handle)
		}
	}
}

// handleDelivery acks on success and nacks without requeue otherwise, so a
// poison message cannot loop.
func handleDelivery(ctx context.Context, workerID int, msg amqp.Delivery, handle ResumeJobHandler) {
	job, err := decodeResumeJob(msg.Body)
	if err != nil {
		slog.Error("Dropping malformed resume job", "worker_id", workerID, "error", err)
		if nackErr := msg.Nack(false, false); nackErr != nil {
			slog.Error("Failed to nack message", "error", nackErr)
		}
		return
	}

	slog.Info("Processing resume job", "worker_id", workerID, "user_id", job.UserID, "document_id", job.DocumentID)
	if err := handle(ctx, job); err != nil {
		slog.Error("Resume job failed", "worker_id", workerID, "user_id", job.UserID, "error", err)
		if nackErr := msg.Nack(false, false); nackErr != nil {
			slog.Error("Failed to nack message", "error", nackErr)
		}
		return
	}

	if err := msg.Ack(false); err != nil {
		slog.Error("Failed to ack message", "error", err)
	}
}

func (b *Broker) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.conn.Close()
}
