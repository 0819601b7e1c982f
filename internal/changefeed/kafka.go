package changefeed

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"sangue/internal/docstore"
	"sangue/internal/platform/kafka/consumer"
)

// Producer is the Kafka write path the publisher needs.
type Producer interface {
	Produce(ctx context.Context, topic string, key, value []byte) error
}

// KafkaPublisher writes each change as JSON to the collection's topic, keyed
// by document id so the changes of one document stay ordered.
type KafkaPublisher struct {
	producer    Producer
	topicPrefix string
}

func NewKafkaPublisher(producer Producer, topicPrefix string) *KafkaPublisher {
	return &KafkaPublisher{producer: producer, topicPrefix: topicPrefix}
}

func (p *KafkaPublisher) Publish(ctx context.Context, change docstore.Change) error {
	value, err := json.Marshal(change)
	if err != nil {
		return fmt.Errorf("encode change %d: %w", change.Seq, err)
	}
	return p.producer.Produce(ctx, Topic(p.topicPrefix, change.Collection), []byte(change.DocumentID), value)
}

// Router dispatches consumed change messages to the handler registered for
// their topic. Messages on unknown topics are skipped and committed.
type Router struct {
	handlers map[string]Handler
	logger   *slog.Logger
}

func NewRouter(logger *slog.Logger) *Router {
	return &Router{
		handlers: make(map[string]Handler),
		logger:   logger,
	}
}

// Register adds a handler for a specific topic.
func (r *Router) Register(topic string, handler Handler) {
	r.handlers[topic] = handler
}

// Topics lists the registered topics.
func (r *Router) Topics() []string {
	topics := make([]string, 0, len(r.handlers))
	for topic := range r.handlers {
		topics = append(topics, topic)
	}
	return topics
}

// Handle implements consumer.Handler.
func (r *Router) Handle(ctx context.Context, msg *consumer.Message) error {
	handler, ok := r.handlers[msg.Topic]
	if !ok {
		r.logger.WarnContext(ctx, "no handler for topic, skipping message",
			"topic", msg.Topic,
			"key", string(msg.Key),
		)
		return nil
	}

	var change docstore.Change
	if err := json.Unmarshal(msg.Value, &change); err != nil {
		// A poison message would block the partition forever.
		r.logger.ErrorContext(ctx, "undecodable change, skipping message",
			"topic", msg.Topic,
			"offset", msg.Offset,
			"error", err,
		)
		return nil
	}
	return handler.HandleChange(ctx, change)
}
