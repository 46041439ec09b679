package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/twmb/franz-go/pkg/kadm"
	"github.com/twmb/franz-go/pkg/kerr"
	"github.com/twmb/franz-go/pkg/kgo"

	"sante/internal/platform/config"
	dErrors "sante/pkg/domain-errors"
	"sante/pkg/platform/circuit"
)

// KafkaNotifier publishes notifications as JSON records, one Kafka topic per
// notification topic. A breaker sheds produce calls during a broker outage so
// callers fail fast instead of stacking delivery timeouts.
type KafkaNotifier struct {
	client  *kgo.Client
	breaker *circuit.Breaker
}

// NewKafka connects to the brokers and ensures the notification topics exist.
func NewKafka(ctx context.Context, cfg config.Kafka) (*KafkaNotifier, error) {
	client, err := kgo.NewClient(
		kgo.SeedBrokers(cfg.Brokers...),
		kgo.RequiredAcks(kgo.AllISRAcks()),
		kgo.ProducerLinger(5*time.Millisecond),
		kgo.RecordDeliveryTimeout(10*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("create kafka client: %w", err)
	}

	if err := ensureTopics(ctx, client); err != nil {
		client.Close()
		return nil, err
	}
	return &KafkaNotifier{
		client: client,
		breaker: circuit.New("kafka-notify",
			circuit.WithFailureThreshold(5),
			circuit.WithRecoveryTimeout(15*time.Second),
		),
	}, nil
}

func ensureTopics(ctx context.Context, client *kgo.Client) error {
	admin := kadm.NewClient(client)
	topics := []string{
		TopicCreated, TopicLogin, TopicSoftDeleted,
		TopicRestored, TopicAnonymized, TopicReturningUser,
	}
	resp, err := admin.CreateTopics(ctx, 1, 1, nil, topics...)
	if err != nil {
		return fmt.Errorf("create notification topics: %w", err)
	}
	for _, r := range resp {
		if r.Err != nil && !errors.Is(r.Err, kerr.TopicAlreadyExists) {
			return fmt.Errorf("create topic %s: %w", r.Topic, r.Err)
		}
	}
	return nil
}

func (n *KafkaNotifier) Publish(ctx context.Context, topic string, payload any) error {
	value, err := json.Marshal(payload)
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "marshal notification")
	}

	record := &kgo.Record{Topic: topic, Value: value}
	err = n.breaker.Do(ctx, func(ctx context.Context) error {
		return n.client.ProduceSync(ctx, record).FirstErr()
	})
	if errors.Is(err, circuit.ErrOpen) {
		return dErrors.Wrap(err, dErrors.CodeUnavailable, "notification bus unavailable")
	}
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeUnavailable, "produce notification")
	}
	return nil
}

func (n *KafkaNotifier) Close() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = n.client.Flush(ctx)
	n.client.Close()
}
