package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync"

	"github.com/iago/mathdoc-back/internal/domain"
	amqp "github.com/rabbitmq/amqp091-go"
)

type RabbitConfig struct {
	URL         string
	Queue       string
	DLQ         string
	Prefetch    int
	MaxAttempts int
	Logger      *log.Logger
}

// RabbitQueue implements Producer and Consumer on a durable RabbitMQ queue.
// Messages that exhaust their attempts are rejected into the dead-letter
// queue through the x-dead-letter-routing-key argument.
type RabbitQueue struct {
	conn        *amqp.Connection
	channel     *amqp.Channel
	publishMu   sync.Mutex
	queue       string
	dlq         string
	maxAttempts int
	logger      *log.Logger
}

func NewRabbitQueue(cfg RabbitConfig) (*RabbitQueue, error) {
	if cfg.URL == "" {
		return nil, errors.New("rabbitmq url is required")
	}
	if cfg.Queue == "" {
		cfg.Queue = "ingest_jobs"
	}
	if cfg.DLQ == "" {
		cfg.DLQ = cfg.Queue + "_dlq"
	}
	if cfg.Prefetch <= 0 {
		cfg.Prefetch = 10
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}

	conn, err := amqp.Dial(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("connect rabbitmq: %w", err)
	}
	channel, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open rabbitmq channel: %w", err)
	}

	q := &RabbitQueue{
		conn:        conn,
		channel:     channel,
		queue:       cfg.Queue,
		dlq:         cfg.DLQ,
		maxAttempts: cfg.MaxAttempts,
		logger:      cfg.Logger,
	}
	if err := q.declare(cfg.Prefetch); err != nil {
		q.Close()
		return nil, err
	}
	return q, nil
}

func (q *RabbitQueue) declare(prefetch int) error {
	if _, err := q.channel.QueueDeclare(q.dlq, true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare dlq %s: %w", q.dlq, err)
	}
	args := amqp.Table{
		"x-dead-letter-exchange":    "",
		"x-dead-letter-routing-key": q.dlq,
	}
	if _, err := q.channel.QueueDeclare(q.queue, true, false, false, false, args); err != nil {
		return fmt.Errorf("declare queue %s: %w", q.queue, err)
	}
	if err := q.channel.Qos(prefetch, 0, false); err != nil {
		return fmt.Errorf("set qos: %w", err)
	}
	return nil
}

func (q *RabbitQueue) Enqueue(ctx context.Context, message domain.QueueMessage) error {
	body, err := json.Marshal(message)
	if err != nil {
		return fmt.Errorf("marshal queue message: %w", err)
	}

	q.publishMu.Lock()
	defer q.publishMu.Unlock()
	err = q.channel.PublishWithContext(ctx, "", q.queue, false, false, amqp.Publishing{
		ContentType:  "application/json",
		Body:         body,
		DeliveryMode: amqp.Persistent,
		MessageId:    message.JobID,
	})
	if err != nil {
		return fmt.Errorf("publish to %s: %w", q.queue, err)
	}
	return nil
}

func (q *RabbitQueue) EnqueueBatch(ctx context.Context, messages []domain.QueueMessage) error {
	for _, message := range messages {
		if err := q.Enqueue(ctx, message); err != nil {
			return err
		}
	}
	return nil
}

func (q *RabbitQueue) Consume(ctx context.Context, handler func(context.Context, domain.QueueMessage) error) error {
	deliveries, err := q.channel.Consume(q.queue, "ingest-worker", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("consume from %s: %w", q.queue, err)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case delivery, ok := <-deliveries:
			if !ok {
				return errors.New("rabbitmq delivery channel closed")
			}
			q.handle(ctx, delivery, handler)
		}
	}
}

func (q *RabbitQueue) handle(ctx context.Context, delivery amqp.Delivery, handler func(context.Context, domain.QueueMessage) error) {
	var message domain.QueueMessage
	if err := json.Unmarshal(delivery.Body, &message); err != nil {
		q.logf("rabbitmq rejected malformed message err=%v", err)
		_ = delivery.Nack(false, false)
		return
	}

	handleErr := handler(ctx, message)
	if handleErr == nil {
		_ = delivery.Ack(false)
		return
	}

	message.Attempt++
	if message.Attempt >= q.maxAttempts {
		q.logf("rabbitmq dead-lettered job_id=%s attempts=%d err=%v", message.JobID, message.Attempt, handleErr)
		_ = delivery.Nack(false, false)
		return
	}
	if err := q.Enqueue(ctx, message); err != nil {
		q.logf("rabbitmq requeue failed job_id=%s err=%v", message.JobID, err)
		_ = delivery.Nack(false, true)
		return
	}
	_ = delivery.Ack(false)
}

func (q *RabbitQueue) Close() error {
	if q.channel != nil {
		if err := q.channel.Close(); err != nil && !errors.Is(err, amqp.ErrClosed) {
			return fmt.Errorf("close channel: %w", err)
		}
	}
	if q.conn != nil {
		if err := q.conn.Close(); err != nil && !errors.Is(err, amqp.ErrClosed) {
			return fmt.Errorf("close connection: %w", err)
		}
	}
	return nil
}

func (q *RabbitQueue) logf(format string, args ...any) {
	if q.logger != nil {
		q.logger.Printf(format, args...)
	}
}
