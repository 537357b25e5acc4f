package workers

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/comitanigiacomo/kanso-analysis-engine/internal/core/domain"
)

const (
	DefaultQueueSize   = 100
	defaultSendTimeout = 5 * time.Second
)

// NotificationWorker delivers goal-conflict messages in the background. Enqueue never
// blocks: a full queue, or a stopped worker, drops the message.
type NotificationWorker struct {
	sender domain.MessageSender
	jobs   chan *domain.GoalConflictMessage
	logger *slog.Logger
	wg     sync.WaitGroup

	mu      sync.RWMutex
	stopped bool
}

func NewNotificationWorker(sender domain.MessageSender, queueSize int) *NotificationWorker {
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	return &NotificationWorker{
		sender: sender,
		jobs:   make(chan *domain.GoalConflictMessage, queueSize),
		logger: slog.Default().With("component", "notification-worker"),
	}
}

// Start runs the worker until ctx is cancelled. Messages still queued at that point are
// delivered before the worker stops; sends never inherit the cancellation of ctx.
func (w *NotificationWorker) Start(ctx context.Context) {
	sendCtx := context.WithoutCancel(ctx)

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		w.logger.Info("notification worker started")
		for {
			select {
			case <-ctx.Done():
				w.stop()
				w.drain(sendCtx)
				w.logger.Info("notification worker shutting down")
				return
			case msg := <-w.jobs:
				w.deliver(sendCtx, msg)
			}
		}
	}()
}

// stop closes the queue to new messages. Enqueue holds the read lock while it sends, so
// once stop returns nothing else can enter the channel.
func (w *NotificationWorker) stop() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.stopped = true
}

// Wait blocks until the worker has stopped.
func (w *NotificationWorker) Wait() {
	w.wg.Wait()
}

func (w *NotificationWorker) Enqueue(msg *domain.GoalConflictMessage) {
	w.mu.RLock()
	defer w.mu.RUnlock()

	if w.stopped {
		w.logger.Error("worker stopped, dropping goal conflict message",
			"goal_id", msg.GoalID,
			"user_anonymized_id", msg.UserAnonymizedID,
		)
		return
	}

	select {
	case w.jobs <- msg:
	default:
		w.logger.Error("queue full, dropping goal conflict message",
			"goal_id", msg.GoalID,
			"user_anonymized_id", msg.UserAnonymizedID,
		)
	}
}

// drain delivers what is still queued at shutdown.
func (w *NotificationWorker) drain(ctx context.Context) {
	for {
		select {
		case msg := <-w.jobs:
			w.deliver(ctx, msg)
		default:
			return
		}
	}
}

func (w *NotificationWorker) deliver(ctx context.Context, msg *domain.GoalConflictMessage) {
	ctx, cancel := context.WithTimeout(ctx, defaultSendTimeout)
	defer cancel()

	if err := w.sender.SendGoalConflictMessage(ctx, msg); err != nil {
		w.logger.Error("failed to send goal conflict message",
			"message_id", msg.ID,
			"goal_id", msg.GoalID,
			"error", err,
		)
		return
	}
	w.logger.Debug("goal conflict message sent", "message_id", msg.ID, "goal_id", msg.GoalID)
}
