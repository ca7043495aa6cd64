// Package notify publishes new defects to Kafka
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/confluentinc/confluent-kafka-go/v2/kafka"
	"github.com/cyclopcam/logs"
	"github.com/cyclopcam/roadscan/pkg/defects"
	"github.com/cyclopcam/roadscan/pkg/pipeline"
)

type Config struct {
	Brokers string `json:"brokers"` // Comma separated bootstrap servers. Empty disables publication.
	Topic   string `json:"topic"`
}

// DefectMessage is the value of every Kafka message
type DefectMessage struct {
	RunID  string                `json:"runID"`
	Defect *defects.DefectRecord `json:"defect"`
}

// The subset of *kafka.Producer that we use
type producer interface {
	Produce(msg *kafka.Message, deliveryChan chan kafka.Event) error
	Flush(timeoutMs int) int
	Close()
}

// Publisher sends every new DefectRecord to a topic. The key of each message is the run id,
// so all of a run's defects land on the same partition, in order.
type Publisher struct {
	log      logs.Log
	topic    string
	producer producer
	delivery chan kafka.Event
	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup

	sent   atomic.Int64
	acked  atomic.Int64
	failed atomic.Int64
}

var _ pipeline.DefectListener = (*Publisher)(nil)

func NewPublisher(log logs.Log, cfg Config) (*Publisher, error) {
	if cfg.Topic == "" {
		return nil, fmt.Errorf("Kafka topic is not configured")
	}
	p, err := kafka.NewProducer(&kafka.ConfigMap{
		"bootstrap.servers":  cfg.Brokers,
		"acks":               "all",
		"enable.idempotence": true,
		"linger.ms":          10,
	})
	if err != nil {
		return nil, fmt.Errorf("Failed to create Kafka producer: %w", err)
	}
	log.Infof("Publishing defects to Kafka topic %v on %v", cfg.Topic, cfg.Brokers)
	return newPublisher(log, cfg.Topic, p), nil
}

func newPublisher(log logs.Log, topic string, p producer) *Publisher {
	ctx, cancel := context.WithCancel(context.Background())
	pub := &Publisher{
		log:      log,
		topic:    topic,
		producer: p,
		delivery: make(chan kafka.Event, 1000),
		ctx:      ctx,
		cancel:   cancel,
	}
	pub.wg.Add(1)
	go pub.handleDeliveryReports()
	return pub
}

func (p *Publisher) handleDeliveryReports() {
	defer p.wg.Done()
	for {
		select {
		case <-p.ctx.Done():
			return
		case e := <-p.delivery:
			m, ok := e.(*kafka.Message)
			if !ok {
				continue
			}
			if m.TopicPartition.Error != nil {
				p.failed.Add(1)
				p.log.Warnf("Kafka delivery failed (key %v): %v", string(m.Key), m.TopicPartition.Error)
			} else {
				p.acked.Add(1)
			}
		}
	}
}

// MakeMessage builds the Kafka message for a defect
func (p *Publisher) MakeMessage(runID string, rec *defects.DefectRecord) (*kafka.Message, error) {
	value, err := json.Marshal(&DefectMessage{RunID: runID, Defect: rec})
	if err != nil {
		return nil, err
	}
	return &kafka.Message{
		TopicPartition: kafka.TopicPartition{
			Topic:     &p.topic,
			Partition: kafka.PartitionAny,
		},
		Key:   []byte(runID),
		Value: value,
		Headers: []kafka.Header{
			{Key: "class_name", Value: []byte(rec.ClassName)},
			{Key: "video_name", Value: []byte(rec.VideoName)},
		},
	}, nil
}

// OnDefect queues the record. Delivery is confirmed asynchronously.
func (p *Publisher) OnDefect(runID string, rec *defects.DefectRecord) error {
	msg, err := p.MakeMessage(runID, rec)
	if err != nil {
		return err
	}
	if err := p.producer.Produce(msg, p.delivery); err != nil {
		p.failed.Add(1)
		return fmt.Errorf("Kafka produce failed: %w", err)
	}
	p.sent.Add(1)
	return nil
}

// Stats returns the number of messages sent, acknowledged, and failed
func (p *Publisher) Stats() (sent, acked, failed int64) {
	return p.sent.Load(), p.acked.Load(), p.failed.Load()
}

// Close flushes pending messages, and waits up to 'timeout' for them
func (p *Publisher) Close(timeout time.Duration) {
	if remaining := p.producer.Flush(int(timeout.Milliseconds())); remaining > 0 {
		p.log.Warnf("%v Kafka messages still queued after flush", remaining)
	}
	p.cancel()
	p.wg.Wait()
	p.producer.Close()
	sent, acked, failed := p.Stats()
	p.log.Infof("Kafka publisher closed. Sent %v, acked %v, failed %v", sent, acked, failed)
}
