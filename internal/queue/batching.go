package queue

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/iago/mathdoc-back/internal/domain"
)

var (
	ErrQueueBackpressure = errors.New("queue backpressure: enqueue buffer is full")
	ErrBatchingClosed    = errors.New("batching producer is closed")
)

type BatchingConfig struct {
	MaxBatchSize       int
	FlushInterval      time.Duration
	FlushTimeout       time.Duration
	QueueCapacity      int
	MaxInFlightBatches int
}

// BatchProducer is implemented by backends that can write several messages
// in one round trip.
type BatchProducer interface {
	EnqueueBatch(ctx context.Context, messages []domain.QueueMessage) error
}

type pendingEnqueue struct {
	ctx     context.Context
	message domain.QueueMessage
	result  chan error
}

// BatchingProducer collects uploads enqueued close together and writes them
// to the backend in one call. The buffer is bounded: a full buffer rejects
// with ErrQueueBackpressure instead of blocking the request.
type BatchingProducer struct {
	base   Producer
	writer BatchProducer
	config BatchingConfig

	in        chan pendingEnqueue
	inFlight  chan struct{}
	stop      chan struct{}
	done      chan struct{}
	closeOnce sync.Once
	parent    <-chan struct{}
}

func NewBatchingProducer(parent context.Context, base Producer, cfg BatchingConfig) *BatchingProducer {
	if cfg.MaxBatchSize <= 0 {
		cfg.MaxBatchSize = 32
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = 25 * time.Millisecond
	}
	if cfg.FlushTimeout <= 0 {
		cfg.FlushTimeout = 3 * time.Second
	}
	if cfg.QueueCapacity <= 0 {
		cfg.QueueCapacity = 2048
	}
	if cfg.MaxInFlightBatches <= 0 {
		cfg.MaxInFlightBatches = 4
	}

	producer := &BatchingProducer{
		base:     base,
		config:   cfg,
		in:       make(chan pendingEnqueue, cfg.QueueCapacity),
		inFlight: make(chan struct{}, cfg.MaxInFlightBatches),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
		parent:   parent.Done(),
	}
	if writer, ok := base.(BatchProducer); ok {
		producer.writer = writer
	}

	go producer.loop()
	return producer
}

func (b *BatchingProducer) Enqueue(ctx context.Context, message domain.QueueMessage) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if err := b.admit(ctx); err != nil {
		return err
	}

	pending := pendingEnqueue{ctx: ctx, message: message, result: make(chan error, 1)}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-b.done:
		return ErrBatchingClosed
	case b.in <- pending:
	default:
		return ErrQueueBackpressure
	}

	select {
	case err := <-pending.result:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (b *BatchingProducer) Close() {
	b.closeOnce.Do(func() {
		close(b.stop)
		<-b.done
	})
}

func (b *BatchingProducer) admit(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-b.done:
		return ErrBatchingClosed
	default:
		return nil
	}
}

func (b *BatchingProducer) loop() {
	defer close(b.done)

	batch := make([]pendingEnqueue, 0, b.config.MaxBatchSize)
	timer := time.NewTimer(b.config.FlushInterval)
	stopTimer(timer)
	armed := false

	flush := func(final bool) {
		if len(batch) == 0 {
			return
		}
		ready := append([]pendingEnqueue(nil), batch...)
		batch = batch[:0]
		b.write(ready, final)
	}

	for {
		var tick <-chan time.Time
		if armed {
			tick = timer.C
		}

		select {
		case <-b.parent:
			stopTimer(timer)
			flush(true)
			return
		case <-b.stop:
			stopTimer(timer)
			flush(true)
			return
		case <-tick:
			armed = false
			flush(false)
		case pending := <-b.in:
			if err := pending.ctx.Err(); err != nil {
				pending.result <- err
				continue
			}
			batch = append(batch, pending)
			if len(batch) == 1 {
				stopTimer(timer)
				timer.Reset(b.config.FlushInterval)
				armed = true
			}
			if len(batch) >= b.config.MaxBatchSize {
				stopTimer(timer)
				armed = false
				flush(false)
			}
		}
	}
}

func (b *BatchingProducer) write(batch []pendingEnqueue, final bool) {
	live := make([]pendingEnqueue, 0, len(batch))
	for _, pending := range batch {
		if err := pending.ctx.Err(); err != nil {
			pending.result <- err
			continue
		}
		live = append(live, pending)
	}
	if len(live) == 0 {
		return
	}

	// One owner's uploads stay adjacent and in request order.
	sort.SliceStable(live, func(i, j int) bool {
		if live[i].message.OwnerID == live[j].message.OwnerID {
			return live[i].message.RequestedAt.Before(live[j].message.RequestedAt)
		}
		return live[i].message.OwnerID < live[j].message.OwnerID
	})
	messages := make([]domain.QueueMessage, 0, len(live))
	for _, pending := range live {
		messages = append(messages, pending.message)
	}

	ctx := context.Background()
	if !final {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, b.config.FlushTimeout)
		defer cancel()
	}

	select {
	case b.inFlight <- struct{}{}:
	case <-ctx.Done():
		reply(live, ctx.Err())
		return
	}
	defer func() { <-b.inFlight }()

	reply(live, b.send(ctx, messages))
}

func (b *BatchingProducer) send(ctx context.Context, messages []domain.QueueMessage) error {
	if b.writer != nil {
		return b.writer.EnqueueBatch(ctx, messages)
	}
	for _, message := range messages {
		if err := b.base.Enqueue(ctx, message); err != nil {
			return err
		}
	}
	return nil
}

func reply(batch []pendingEnqueue, err error) {
	for _, pending := range batch {
		pending.result <- err
	}
}

func stopTimer(timer *time.Timer) {
	if !timer.Stop() {
		select {
		case <-timer.C:
		default:
		}
	}
}
