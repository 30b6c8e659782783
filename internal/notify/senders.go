package notify

import (
	"context"
	"encoding/json"
	"log"

	"github.com/IBM/sarama"
)

// LogSender prints messages instead of delivering them.
type LogSender struct{}

func (LogSender) Send(_ context.Context, m Message) error {
	log.Printf("[NOTIFY] sms kind=%s to=%s ref=%s body=%q", m.Kind, m.To, m.Reference, m.Body)
	return nil
}

// KafkaSender publishes messages as JSON jobs for an external SMS worker.
type KafkaSender struct {
	Producer sarama.SyncProducer
	Topic    string
}

func NewKafkaSender(brokers []string, topic string) (*KafkaSender, error) {
	config := sarama.NewConfig()
	config.Producer.Return.Successes = true
	config.Producer.RequiredAcks = sarama.WaitForAll
	config.Producer.Retry.Max = 3

	producer, err := sarama.NewSyncProducer(brokers, config)
	if err != nil {
		return nil, err
	}
	log.Printf("[NOTIFY] kafka producer ready topic=%s brokers=%v", topic, brokers)
	return &KafkaSender{Producer: producer, Topic: topic}, nil
}

func (s *KafkaSender) Send(_ context.Context, m Message) error {
	data, err := json.Marshal(m)
	if err != nil {
		return err
	}
	_, _, err = s.Producer.SendMessage(&sarama.ProducerMessage{
		Topic: s.Topic,
		Key:   sarama.StringEncoder(m.To),
		Value: sarama.ByteEncoder(data),
	})
	return err
}

func (s *KafkaSender) Close() error {
	return s.Producer.Close()
}
