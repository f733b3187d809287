package kafka

import (
	"fmt"

	"github.com/IBM/sarama"
	"github.com/goccy/go-json"
	"github.com/rs/zerolog/log"

	"github.com/ursiee-ase1/survwatch-pipeline/internal/models"
)

// Topics names the topics the producer writes to.
type Topics struct {
	Jobs          string
	Heartbeats    string
	Notifications string
}

type Producer struct {
	producer sarama.SyncProducer
	topics   Topics
}

func NewProducer(brokers []string, topics Topics) (*Producer, error) {
	config := sarama.NewConfig()
	config.Producer.Return.Successes = true
	config.Producer.RequiredAcks = sarama.WaitForAll

	producer, err := sarama.NewSyncProducer(brokers, config)
	if err != nil {
		return nil, err
	}
	return NewProducerFrom(producer, topics), nil
}

// NewProducerFrom wraps an existing sync producer.
func NewProducerFrom(producer sarama.SyncProducer, topics Topics) *Producer {
	return &Producer{producer: producer, topics: topics}
}

func (p *Producer) Close() error {
	if err := p.producer.Close(); err != nil {
		return fmt.Errorf("failed to close Kafka producer: %w", err)
	}
	return nil
}

// SendHeartbeat reports job progress, keyed by job id.
func (p *Producer) SendHeartbeat(hb models.Heartbeat) error {
	return p.sendJSON(p.topics.Heartbeats, hb.JobID, hb)
}

// SendJob publishes a video job command, keyed by job id.
func (p *Producer) SendJob(job models.VideoJob) error {
	return p.sendJSON(p.topics.Jobs, job.JobID, job)
}

// PublishNotification publishes an already encoded ThreatNotification.
func (p *Producer) PublishNotification(key string, payload []byte) error {
	partition, offset, err := p.send(p.topics.Notifications, key, payload)
	if err != nil {
		return err
	}
	log.Debug().Str("topic", p.topics.Notifications).Int32("partition", partition).Int64("offset", offset).
		Msg("Notification published")
	return nil
}

func (p *Producer) sendJSON(topic, key string, v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return err
	}
	_, _, err = p.send(topic, key, payload)
	return err
}

func (p *Producer) send(topic, key string, payload []byte) (int32, int64, error) {
	if topic == "" {
		return 0, 0, fmt.Errorf("kafka: no topic configured for key %q", key)
	}
	partition, offset, err := p.producer.SendMessage(&sarama.ProducerMessage{
		Topic: topic,
		Key:   sarama.StringEncoder(key),
		Value: sarama.ByteEncoder(payload),
	})
	if err != nil {
		return 0, 0, fmt.Errorf("send to %s: %w", topic, err)
	}
	return partition, offset, nil
}
