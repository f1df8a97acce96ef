package pubsub

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/confluentinc/confluent-kafka-go/v2/kafka"
	"github.com/google/uuid"

	"github.com/Archan-07/my-chat-app/pkg/log"
)

const (
	topicRoomEvents = "chat-room-events"
	topicPresence   = "chat-presence"
)

// channelToTopicAndKey maps a bus channel to a Kafka topic and message key.
//
//	"chat:room:ROOM123" → topic "chat-room-events", key "ROOM123"
//	"chat:presence"     → topic "chat-presence",    key ""
//
// Room events share one topic keyed (and filtered) by room ID, which keeps
// per-room ordering via key partitioning without a topic per room.
func channelToTopicAndKey(channel string) (topic, key string, err error) {
	if channel == ChannelPresence {
		return topicPresence, "", nil
	}
	parts := strings.Split(channel, ":")
	if len(parts) != 3 || parts[0] != "chat" || parts[1] != "room" || parts[2] == "" {
		return "", "", fmt.Errorf("invalid channel format: %s", channel)
	}
	return topicRoomEvents, parts[2], nil
}

// KafkaBus implements Bus on Apache Kafka. Each subscription runs its own
// consumer in a consumer group unique to this process, so every subscribed
// process receives every event (pub/sub semantics, not work sharing).
type KafkaBus struct {
	producer   *kafka.Producer
	config     KafkaConfig
	instanceID string
	doneCh     chan struct{}
}

// NewKafkaBus creates a Kafka-backed bus.
func NewKafkaBus(cfg KafkaConfig) (*KafkaBus, error) {
	p, err := kafka.NewProducer(&kafka.ConfigMap{
		"bootstrap.servers": cfg.Brokers,
		"acks":              "1",
		"linger.ms":         5,
		"compression.type":  "snappy",
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create kafka producer: %w", err)
	}

	b := &KafkaBus{
		producer:   p,
		config:     cfg,
		instanceID: uuid.NewString(),
		doneCh:     make(chan struct{}),
	}

	go b.deliveryReportHandler()

	if err := b.ensureTopics(); err != nil {
		log.L().Warn().Err(err).Msg("failed to ensure kafka topics (may already exist)")
	}

	return b, nil
}

func (b *KafkaBus) ensureTopics() error {
	admin, err := kafka.NewAdminClient(&kafka.ConfigMap{
		"bootstrap.servers": b.config.Brokers,
	})
	if err != nil {
		return fmt.Errorf("failed to create admin client: %w", err)
	}
	defer admin.Close()

	partitions := b.config.Partitions
	if partitions <= 0 {
		partitions = 4
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	topics := []kafka.TopicSpecification{
		{Topic: topicRoomEvents, NumPartitions: partitions, ReplicationFactor: 1},
		{Topic: topicPresence, NumPartitions: 1, ReplicationFactor: 1},
	}

	results, err := admin.CreateTopics(ctx, topics)
	if err != nil {
		return fmt.Errorf("failed to create topics: %w", err)
	}
	for _, r := range results {
		if r.Error.Code() != kafka.ErrNoError && r.Error.Code() != kafka.ErrTopicAlreadyExists {
			log.L().Warn().Str("topic", r.Topic).Str("error", r.Error.String()).Msg("failed to create topic")
		}
	}
	return nil
}

func (b *KafkaBus) deliveryReportHandler() {
	for e := range b.producer.Events() {
		if m, ok := e.(*kafka.Message); ok && m.TopicPartition.Error != nil {
			log.L().Error().Err(m.TopicPartition.Error).Msg("kafka delivery failed")
		}
	}
	close(b.doneCh)
}

// Publish produces the event to the topic derived from the channel.
func (b *KafkaBus) Publish(_ context.Context, channel string, event *Event) error {
	topic, key, err := channelToTopicAndKey(channel)
	if err != nil {
		return err
	}

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	msg := &kafka.Message{
		TopicPartition: kafka.TopicPartition{Topic: &topic, Partition: kafka.PartitionAny},
		Value:          data,
	}
	if key != "" {
		msg.Key = []byte(key)
	}
	if err := b.producer.Produce(msg, nil); err != nil {
		return fmt.Errorf("failed to produce event: %w", err)
	}
	return nil
}

// Subscribe consumes the channel's topic, filtering room events by key.
func (b *KafkaBus) Subscribe(ctx context.Context, channel string) (*Subscription, error) {
	topic, filterKey, err := channelToTopicAndKey(channel)
	if err != nil {
		return nil, err
	}

	groupID := consumerGroupID(b.config.GroupID, channel, b.instanceID)

	c, err := kafka.NewConsumer(&kafka.ConfigMap{
		"bootstrap.servers":       b.config.Brokers,
		"group.id":                groupID,
		"auto.offset.reset":       "latest",
		"enable.auto.commit":      true,
		"auto.commit.interval.ms": 5000,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create kafka consumer: %w", err)
	}
	if err := c.Subscribe(topic, nil); err != nil {
		c.Close()
		return nil, fmt.Errorf("failed to subscribe to topic %s: %w", topic, err)
	}

	subCtx, cancel := context.WithCancel(context.Background())
	eventCh := make(chan *Event, 100)

	go consumeKafkaMessages(subCtx, c, eventCh, filterKey)

	return &Subscription{
		Channel: channel,
		C:       eventCh,
		cancel: func() error {
			cancel()
			return c.Close()
		},
	}, nil
}

// Unsubscribe stops the subscription's consumer.
func (b *KafkaBus) Unsubscribe(_ context.Context, sub *Subscription) error {
	return sub.close()
}

// Close flushes and closes the producer.
func (b *KafkaBus) Close() error {
	b.producer.Flush(5000)
	b.producer.Close()
	<-b.doneCh
	return nil
}

func consumeKafkaMessages(ctx context.Context, c *kafka.Consumer, eventCh chan<- *Event, filterKey string) {
	defer close(eventCh)

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		ev := c.Poll(500)
		if ev == nil {
			continue
		}

		switch e := ev.(type) {
		case *kafka.Message:
			if filterKey != "" && string(e.Key) != filterKey {
				continue
			}
			var event Event
			if err := json.Unmarshal(e.Value, &event); err != nil {
				log.L().Warn().Err(err).Msg("dropping malformed kafka event")
				continue
			}
			select {
			case eventCh <- &event:
			case <-ctx.Done():
				return
			default:
				log.L().Warn().Str(log.FieldEventType, event.Type).Msg("subscriber backlog full, event dropped")
			}

		case kafka.Error:
			log.L().Error().Str("error", e.String()).Bool("fatal", e.IsFatal()).Msg("kafka consumer error")
			if e.IsFatal() {
				return
			}
		}
	}
}

var groupIDRegexp = regexp.MustCompile(`[^a-zA-Z0-9._-]`)

func sanitizeGroupID(s string) string {
	return groupIDRegexp.ReplaceAllString(s, "-")
}

// consumerGroupID builds the group id for one subscription. The instance id
// keeps replicas of the same deployment in distinct groups; a shared group
// would have Kafka split partitions across replicas, and each event would
// reach only one of them.
func consumerGroupID(base, channel, instanceID string) string {
	if base == "" {
		base = "chat-gateway"
	}
	return fmt.Sprintf("%s-%s-%s", base, sanitizeGroupID(channel), instanceID)
}
