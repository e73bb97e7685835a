package queue

import (
	"encoding/json"
	"time"

	"github.com/confluentinc/confluent-kafka-go/v2/kafka"
	"go.uber.org/zap"
)

// Producer publishes audit jobs onto the jobs topic, mirroring the
// bootstrap-config-driven producer in infrastructures/mq/kmq/producer.go.
type Producer struct {
	kp    *kafka.Producer
	topic string
	log   *zap.SugaredLogger
}

func NewProducer(brokers, clientID, topic string, log *zap.SugaredLogger) (*Producer, error) {
	kp, err := kafka.NewProducer(&kafka.ConfigMap{
		"bootstrap.servers":  brokers,
		"client.id":          clientID,
		"enable.idempotence": true,
		"acks":               "all",
	})
	if err != nil {
		return nil, err
	}

	p := &Producer{kp: kp, topic: topic, log: log}

	go func(events chan kafka.Event) {
		for ev := range events {
			msg, ok := ev.(*kafka.Message)
			if !ok {
				continue
			}
			if msg.TopicPartition.Error != nil {
				log.Warnw("audit producer: delivery failed", "err", msg.TopicPartition.Error)
			}
		}
	}(kp.Events())

	return p, nil
}

// Publish enqueues a job keyed by session id so all events for one
// session land on the same partition and preserve order.
func (p *Producer) Publish(j Job) error {
	topicCopy := p.topic
	b, err := json.Marshal(j)
	if err != nil {
		return err
	}
	return p.kp.Produce(&kafka.Message{
		TopicPartition: kafka.TopicPartition{Topic: &topicCopy, Partition: kafka.PartitionAny},
		Key:            []byte(j.SessionID),
		Value:          b,
	}, nil)
}

func (p *Producer) Flush(timeout time.Duration) int {
	return p.kp.Flush(int(timeout / time.Millisecond))
}

func (p *Producer) Close() {
	p.kp.Close()
}
