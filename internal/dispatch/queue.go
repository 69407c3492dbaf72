package dispatch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/panjf2000/ants/v2"
	"go.uber.org/zap"

	"github.com/autokita/wa-campaign-engine/internal/config"
	"github.com/autokita/wa-campaign-engine/internal/jetstream"
	"github.com/autokita/wa-campaign-engine/internal/observer"
	"github.com/autokita/wa-campaign-engine/pkg/clock"
	"github.com/autokita/wa-campaign-engine/pkg/logger"
)

// TaskHandler executes queued tasks. HandleExhausted runs exactly once per
// task when retries are spent or the error is fatal; it must record the
// terminal failure before the task is acked away.
type TaskHandler interface {
	HandleSendTask(ctx context.Context, task Task) error
	HandleFollowUpTask(ctx context.Context, task Task) error
	HandleExhausted(ctx context.Context, task Task, cause error) error
}

// Queue is the durable task queue for campaign sends and follow-up steps,
// backed by a JetStream work-queue stream with a worker pool draining it.
type Queue struct {
	client  jetstream.ClientInterface
	handler TaskHandler
	cfg     config.DispatchConfig
	clk     clock.Clock
	pool    *ants.PoolWithFunc
	sub     *nats.Subscription
	ctx     context.Context
	cancel  context.CancelFunc
}

type poolTask struct {
	msg  *nats.Msg
	task Task
}

// NewQueue creates the dispatch queue and its worker pool. Call Setup before
// Start.
func NewQueue(client jetstream.ClientInterface, handler TaskHandler, cfg config.DispatchConfig, clk clock.Clock) (*Queue, error) {
	ctx, cancel := context.WithCancel(context.Background())
	q := &Queue{
		client:  client,
		handler: handler,
		cfg:     cfg,
		clk:     clk,
		ctx:     ctx,
		cancel:  cancel,
	}

	pool, err := ants.NewPoolWithFunc(cfg.PoolSize, func(i interface{}) {
		pt, ok := i.(poolTask)
		if !ok {
			logger.Log.Error("Invalid task data type received", zap.Any("data", i))
			return
		}
		q.processTask(pt)
	},
		ants.WithExpiryDuration(cfg.ExpiryTime),
		ants.WithNonblocking(false),
		ants.WithMaxBlockingTasks(cfg.QueueSize),
		ants.WithPanicHandler(func(err interface{}) {
			logger.Log.Error("Panic recovered in dispatch worker", zap.Any("panic_error", err), zap.Stack("stack"))
		}),
	)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("failed to create dispatch worker pool: %w", err)
	}
	q.pool = pool

	logger.Log.Info("Dispatch worker pool initialized",
		zap.Int("pool_size", cfg.PoolSize),
		zap.Int("queue_size", cfg.QueueSize),
		zap.Duration("expiry_time", cfg.ExpiryTime),
	)
	return q, nil
}

// Setup ensures the dispatch stream and durable consumer exist.
func (q *Queue) Setup(ctx context.Context) error {
	streamConfig := &nats.StreamConfig{
		Name:      q.cfg.Stream,
		Subjects:  []string{q.subject()},
		Retention: nats.WorkQueuePolicy,
		Storage:   nats.FileStorage,
		MaxAge:    time.Duration(q.cfg.MaxAgeDays) * 24 * time.Hour,
	}
	if err := q.client.SetupStream(ctx, streamConfig); err != nil {
		return fmt.Errorf("failed to setup dispatch stream: %w", err)
	}

	consumerConfig := &nats.ConsumerConfig{
		Durable:        q.cfg.Consumer,
		DeliverSubject: nats.NewInbox(),
		DeliverGroup:   q.cfg.QueueGroup,
		AckPolicy:      nats.AckExplicitPolicy,
		MaxDeliver:     q.cfg.MaxDeliver,
		AckWait:        2 * time.Minute,
		FilterSubject:  q.subject(),
	}
	if err := q.client.SetupConsumer(ctx, q.cfg.Stream, consumerConfig); err != nil {
		return fmt.Errorf("failed to setup dispatch consumer: %w", err)
	}
	return nil
}

// Start subscribes the worker pool to the dispatch stream.
func (q *Queue) Start() error {
	sub, err := q.client.SubscribePush(q.subject(), q.cfg.Consumer, q.cfg.QueueGroup, q.cfg.Stream, q.handleMessage)
	if err != nil {
		return fmt.Errorf("failed to subscribe dispatch consumer: %w", err)
	}
	q.sub = sub
	logger.Log.Info("Dispatch queue started",
		zap.String("stream", q.cfg.Stream),
		zap.String("consumer", q.cfg.Consumer),
		zap.String("queue_group", q.cfg.QueueGroup),
	)
	return nil
}

// Enqueue validates and publishes a task to the dispatch stream.
func (q *Queue) Enqueue(ctx context.Context, task Task) error {
	if err := task.Validate(); err != nil {
		return fmt.Errorf("refusing to enqueue invalid task: %w", err)
	}

	data, err := task.Marshal()
	if err != nil {
		return fmt.Errorf("failed to marshal task: %w", err)
	}

	headers := map[string]string{
		"Nats-Msg-Id": task.ID,
	}
	if err := q.client.Publish(q.subject(), data, headers); err != nil {
		return fmt.Errorf("failed to publish task: %w", err)
	}

	observer.IncTaskSubmitted(string(task.Kind))
	logger.FromContext(ctx).Debug("Task enqueued",
		zap.String("task_id", task.ID),
		zap.String("kind", string(task.Kind)),
		zap.Time("not_before", task.NotBefore),
	)
	return nil
}

// Stop drains the subscription and releases the worker pool.
func (q *Queue) Stop() {
	q.cancel()
	if q.sub != nil {
		if err := q.sub.Drain(); err != nil {
			logger.Log.Warn("Failed to drain dispatch subscription", zap.Error(err))
		}
	}
	if q.pool != nil {
		q.pool.Release()
	}
	logger.Log.Info("Dispatch queue stopped")
}

func (q *Queue) subject() string {
	return q.cfg.Stream + ".tasks"
}

// handleMessage runs on the NATS delivery goroutine. It only parses the
// envelope and defers the real work to the pool so a slow send never blocks
// message delivery for the whole subscription.
func (q *Queue) handleMessage(msg *nats.Msg) {
	log := logger.FromContextOr(q.ctx, logger.Log)

	task, err := UnmarshalTask(msg.Data)
	if err != nil {
		// A payload that cannot be parsed will never parse on redelivery.
		log.Error("Dropping unparsable task payload", zap.Error(err))
		observer.IncTaskProcessed("unknown", "dropped")
		if ackErr := msg.Ack(); ackErr != nil {
			log.Error("Failed to ACK unparsable task", zap.Error(ackErr))
		}
		return
	}

	if validateErr := task.Validate(); validateErr != nil {
		log.Error("Dropping invalid task",
			zap.String("task_id", task.ID),
			zap.Error(validateErr))
		observer.IncTaskProcessed(string(task.Kind), "dropped")
		if ackErr := msg.Ack(); ackErr != nil {
			log.Error("Failed to ACK invalid task", zap.Error(ackErr))
		}
		return
	}

	// Not yet due: push it back without burning a processing attempt.
	if wait := task.NotBefore.Sub(q.clk.Now()); wait > 0 {
		if nakErr := msg.NakWithDelay(wait); nakErr != nil {
			log.Error("Failed to NAK not-yet-due task",
				zap.String("task_id", task.ID),
				zap.Error(nakErr))
		}
		return
	}

	if invokeErr := q.pool.Invoke(poolTask{msg: msg, task: task}); invokeErr != nil {
		if errors.Is(invokeErr, ants.ErrPoolOverload) {
			log.Warn("Dispatch pool overloaded, NAKing task for redelivery",
				zap.String("task_id", task.ID))
		} else {
			log.Error("Failed to submit task to pool",
				zap.String("task_id", task.ID),
				zap.Error(invokeErr))
		}
		if nakErr := msg.NakWithDelay(q.cfg.NakBaseDelay); nakErr != nil {
			log.Error("Failed to NAK task after pool rejection", zap.Error(nakErr))
		}
	}
}

// processTask executes one task on a pool worker and settles the message.
func (q *Queue) processTask(pt poolTask) {
	startTime := q.clk.Now()
	msgCtx := logger.WithLogger(q.ctx, logger.FromContextOr(q.ctx, logger.Log).With(
		zap.String("task_id", pt.task.ID),
		zap.String("kind", string(pt.task.Kind)),
	))
	log := logger.FromContext(msgCtx)

	metadata, err := pt.msg.Metadata()
	if err != nil {
		log.Error("Failed to read task metadata", zap.Error(err))
		if nakErr := pt.msg.Nak(); nakErr != nil {
			log.Error("Failed to NAK task after metadata error", zap.Error(nakErr))
		}
		return
	}

	var processingErr error
	switch pt.task.Kind {
	case TaskKindCampaignSend:
		processingErr = q.handler.HandleSendTask(msgCtx, pt.task)
	case TaskKindFollowUp:
		processingErr = q.handler.HandleFollowUpTask(msgCtx, pt.task)
	}
	observer.ObserveTaskProcessingDuration(string(pt.task.Kind), time.Since(startTime))

	action, nakDelay := determineAckNakAction(processingErr, metadata.NumDelivered, q.cfg.MaxDeliver, q.cfg.NakBaseDelay, q.cfg.NakMaxDelay)

	switch action {
	case ActionAck:
		log.Info("Task processed", zap.Duration("duration", time.Since(startTime)))
		observer.IncTaskProcessed(string(pt.task.Kind), "success")
		if ackErr := pt.msg.Ack(); ackErr != nil {
			log.Error("Failed to ACK task after successful processing", zap.Error(ackErr))
		}

	case ActionNakDelay:
		log.Info("NAKing task for redelivery",
			zap.Error(processingErr),
			zap.Uint64("num_delivered", metadata.NumDelivered),
			zap.Int("max_deliver", q.cfg.MaxDeliver),
			zap.Duration("delay", nakDelay),
		)
		observer.IncTaskProcessed(string(pt.task.Kind), "retry")
		if nakErr := pt.msg.NakWithDelay(nakDelay); nakErr != nil {
			log.Error("Failed to NAK task", zap.Error(nakErr))
		}

	case ActionExhausted:
		log.Error("Task failed terminally",
			zap.Error(processingErr),
			zap.Uint64("num_delivered", metadata.NumDelivered),
		)
		observer.IncTaskProcessed(string(pt.task.Kind), "exhausted")
		if termErr := q.handler.HandleExhausted(msgCtx, pt.task, processingErr); termErr != nil {
			// The failure record did not land; NAK so redelivery tries the
			// terminal handling again rather than losing the outcome.
			log.Error("Failed to record terminal task failure, NAKing", zap.Error(termErr))
			if nakErr := pt.msg.NakWithDelay(q.cfg.NakBaseDelay); nakErr != nil {
				log.Error("Failed to NAK task after terminal handling error", zap.Error(nakErr))
			}
			return
		}
		if ackErr := pt.msg.Ack(); ackErr != nil {
			log.Error("Failed to ACK task after terminal failure handling", zap.Error(ackErr))
		}
	}
}
