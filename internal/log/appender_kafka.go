package log

import (
	"context"
	"time"

	"github.com/segmentio/kafka-go"
)

type KafkaAppenderOpt struct {
	Brokers []string `mapstructure:"brokers"`
	Topic   string   `mapstructure:"topic"`
	Async   bool     `mapstructure:"async"`
}

// kafkaWriter adapts a kafka-go writer to io.Writer, one log line per message.
type kafkaWriter struct {
	w *kafka.Writer
}

func (k *kafkaWriter) Write(p []byte) (int, error) {
	// p is reused by logrus after Write returns, copy before handing off.
	msg := make([]byte, len(p))
	copy(msg, p)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := k.w.WriteMessages(ctx, kafka.Message{Value: msg}); err != nil {
		return 0, err
	}
	return len(p), nil
}

func (m *MultiWriter) AddKafkaAppender(options KafkaAppenderOpt) *MultiWriter {
	writer := &kafka.Writer{
		Addr:         kafka.TCP(options.Brokers...),
		Topic:        options.Topic,
		Balancer:     &kafka.LeastBytes{},
		Async:        options.Async,
		BatchTimeout: 100 * time.Millisecond,
	}
	m.writers = append(m.writers, &kafkaWriter{w: writer})
	return m
}
