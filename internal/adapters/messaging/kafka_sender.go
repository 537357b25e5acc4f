package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/comitanigiacomo/kanso-analysis-engine/internal/core/domain"
)

const DefaultGoalConflictTopic = "goal-conflicts"

var (
	_ domain.MessageSender = (*KafkaGoalConflictSender)(nil)
	_ domain.MessageSender = (*LogGoalConflictSender)(nil)
)

var ErrNoBrokers = errors.New("kafka sender requires at least one broker")

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type KafkaConfig struct {
	Brokers []string
	Topic   string
}

// KafkaGoalConflictSender publishes goal-conflict messages as JSON, keyed by the anonymous
// destination so the messages of one destination stay ordered.
type KafkaGoalConflictSender struct {
	writer messageWriter
	topic  string
	log    *slog.Logger
}

func NewKafkaGoalConflictSender(cfg KafkaConfig, log *slog.Logger) (*KafkaGoalConflictSender, error) {
	if len(cfg.Brokers) == 0 {
		return nil, ErrNoBrokers
	}
	topic := cfg.Topic
	if topic == "" {
		topic = DefaultGoalConflictTopic
	}

	w := &kafka.Writer{
		Addr:                   kafka.TCP(cfg.Brokers...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireOne,
		AllowAutoTopicCreation: true,
		WriteTimeout:           5 * time.Second,
	}
	return newKafkaGoalConflictSender(w, topic, log), nil
}

func newKafkaGoalConflictSender(w messageWriter, topic string, log *slog.Logger) *KafkaGoalConflictSender {
	if log == nil {
		log = slog.Default()
	}
	return &KafkaGoalConflictSender{
		writer: w,
		topic:  topic,
		log:    log.With(slog.String("component", "kafka-sender")),
	}
}

func (s *KafkaGoalConflictSender) SendGoalConflictMessage(ctx context.Context, msg *domain.GoalConflictMessage) error {
	value, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to encode goal conflict message: %w", err)
	}

	key := msg.DestinationID
	if key == "" {
		key = msg.UserAnonymizedID
	}

	err = s.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(key),
		Value: value,
		Time:  msg.CreatedAt,
		Headers: []kafka.Header{
			{Key: "type", Value: []byte("goal_conflict")},
		},
	})
	if err != nil {
		return fmt.Errorf("failed to publish to %s: %w", s.topic, err)
	}

	s.log.Debug("goal conflict published", "topic", s.topic, "message_id", msg.ID)
	return nil
}

func (s *KafkaGoalConflictSender) Close() error {
	return s.writer.Close()
}

// LogGoalConflictSender only logs the messages. It is used when no broker is configured.
type LogGoalConflictSender struct {
	log *slog.Logger
}

func NewLogGoalConflictSender(log *slog.Logger) *LogGoalConflictSender {
	if log == nil {
		log = slog.Default()
	}
	return &LogGoalConflictSender{log: log.With(slog.String("component", "log-sender"))}
}

func (s *LogGoalConflictSender) SendGoalConflictMessage(_ context.Context, msg *domain.GoalConflictMessage) error {
	s.log.Info("goal conflict",
		"message_id", msg.ID,
		"goal_id", msg.GoalID,
		"activity_category_id", msg.ActivityCategoryID,
		"user_anonymized_id", msg.UserAnonymizedID,
		"destination_id", msg.DestinationID,
		"activity_id", msg.ActivityID,
	)
	return nil
}
