// Fanout publishes a copy of the dead-letter, circuit-breaker and health
// output streams to Kafka, so external monitoring consumers that don't speak
// Redis Streams can still observe them. Grounded on jeongkyun-oh-klaytn's
// datasync/chaindatafetcher/event/kafka.KafkaBroker (producer construction,
// async publish pattern), trimmed to the publish-only half of that broker —
// this engine owns no Kafka consumer group of its own.
package consumer

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/Shopify/sarama"
	"go.uber.org/zap"
)

// KafkaFanout publishes JSON-encoded monitoring events to Kafka topics
// alongside the primary Redis output streams.
type KafkaFanout struct {
	producer sarama.AsyncProducer
	log      *zap.SugaredLogger
}

// NewKafkaFanout dials brokerList and starts an async producer configured
// for WaitForLocal acks, snappy compression, and a 500ms flush interval.
func NewKafkaFanout(brokerList []string, log *zap.SugaredLogger) (*KafkaFanout, error) {
	cfg := sarama.NewConfig()
	cfg.Producer.RequiredAcks = sarama.WaitForLocal
	cfg.Producer.Compression = sarama.CompressionSnappy
	cfg.Producer.Flush.Frequency = 500 * time.Millisecond
	cfg.Producer.Return.Successes = false
	cfg.Producer.Return.Errors = true

	producer, err := sarama.NewAsyncProducer(brokerList, cfg)
	if err != nil {
		return nil, fmt.Errorf("start kafka producer: %w", err)
	}

	f := &KafkaFanout{producer: producer, log: log}
	go f.drainErrors()
	return f, nil
}

func (f *KafkaFanout) drainErrors() {
	for perr := range f.producer.Errors() {
		if f.log != nil {
			f.log.Warnw("kafka fanout publish failed", "topic", perr.Msg.Topic, "error", perr.Err)
		}
	}
}

// Publish JSON-encodes event and enqueues it on topic, keyed by key (e.g. an
// opportunity ID) for partition affinity.
func (f *KafkaFanout) Publish(topic, key string, event interface{}) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal fanout event: %w", err)
	}
	f.producer.Input() <- &sarama.ProducerMessage{
		Topic: topic,
		Key:   sarama.StringEncoder(key),
		Value: sarama.ByteEncoder(data),
	}
	return nil
}

// Close stops the producer.
func (f *KafkaFanout) Close() error {
	return f.producer.Close()
}
