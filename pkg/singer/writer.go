package singer

import (
	"bufio"
	"context"
	"io"
	"os"
	"sync"
	"time"

	"github.com/IBM/sarama"
	"go.uber.org/zap"

	"github.com/SiangbaMM/spacex-data-pipeline/pkg/config"
	"github.com/SiangbaMM/spacex-data-pipeline/pkg/errors"
)

// Writer delivers encoded messages. stream is the message's stream name,
// empty for STATE.
type Writer interface {
	Write(ctx context.Context, stream string, line []byte) error
	Close() error
}

// StreamWriter writes one message per line to an io.Writer
type StreamWriter struct {
	mu     sync.Mutex
	w      *bufio.Writer
	closer io.Closer
}

// NewStreamWriter writes to w. closer may be nil.
func NewStreamWriter(w io.Writer, closer io.Closer) *StreamWriter {
	return &StreamWriter{w: bufio.NewWriter(w), closer: closer}
}

// Write appends line and a newline, flushing so a downstream target sees
// each message as it is produced
func (s *StreamWriter) Write(_ context.Context, _ string, line []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.w.Write(line); err != nil {
		return errors.Wrap(err, errors.ErrorTypeFile, "failed to write message")
	}
	if err := s.w.WriteByte('\n'); err != nil {
		return errors.Wrap(err, errors.ErrorTypeFile, "failed to write message")
	}
	if err := s.w.Flush(); err != nil {
		return errors.Wrap(err, errors.ErrorTypeFile, "failed to flush message")
	}
	return nil
}

// Close flushes and closes the underlying writer if it has a closer
func (s *StreamWriter) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	err := s.w.Flush()
	if s.closer != nil {
		if cerr := s.closer.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}
	return err
}

// KafkaWriter produces each message to a topic, keyed by stream
type KafkaWriter struct {
	producer sarama.SyncProducer
	topic    string
	logger   *zap.Logger
}

// NewKafkaWriter connects a synchronous producer to brokers
func NewKafkaWriter(brokers []string, topic string, logger *zap.Logger) (*KafkaWriter, error) {
	cfg := sarama.NewConfig()
	cfg.Producer.RequiredAcks = sarama.WaitForAll
	cfg.Producer.Retry.Max = 3
	cfg.Producer.Return.Successes = true
	cfg.Producer.Return.Errors = true
	cfg.Producer.Idempotent = true
	cfg.Net.MaxOpenRequests = 1
	cfg.Producer.Timeout = 10 * time.Second

	producer, err := sarama.NewSyncProducer(brokers, cfg)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConnection, "failed to create kafka producer")
	}
	return newKafkaWriter(producer, topic, logger), nil
}

func newKafkaWriter(producer sarama.SyncProducer, topic string, logger *zap.Logger) *KafkaWriter {
	return &KafkaWriter{
		producer: producer,
		topic:    topic,
		logger:   logger.With(zap.String("component", "kafka_writer"), zap.String("topic", topic)),
	}
}

// Write sends line and waits for the broker acknowledgement
func (k *KafkaWriter) Write(ctx context.Context, stream string, line []byte) error {
	if err := ctx.Err(); err != nil {
		return errors.Wrap(err, errors.ErrorTypeConnection, "kafka write cancelled")
	}

	msg := &sarama.ProducerMessage{
		Topic: k.topic,
		Value: sarama.ByteEncoder(line),
	}
	if stream != "" {
		msg.Key = sarama.StringEncoder(stream)
	}

	partition, offset, err := k.producer.SendMessage(msg)
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeConnection, "failed to produce message")
	}
	k.logger.Debug("produced message",
		zap.String("stream", stream),
		zap.Int32("partition", partition),
		zap.Int64("offset", offset))
	return nil
}

// Close closes the producer
func (k *KafkaWriter) Close() error {
	return k.producer.Close()
}

type discardWriter struct{}

func (discardWriter) Write(context.Context, string, []byte) error { return nil }
func (discardWriter) Close() error                                { return nil }

// Discard drops every message
var Discard Writer = discardWriter{}

// OpenWriter builds the writer selected by cfg.Output
func OpenWriter(cfg config.SingerConfig, logger *zap.Logger) (Writer, error) {
	switch cfg.Output {
	case "", "stdout":
		return NewStreamWriter(os.Stdout, nil), nil
	case "file":
		f, err := os.OpenFile(cfg.Path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, errors.Wrapf(err, errors.ErrorTypeFile, "failed to open %s", cfg.Path)
		}
		return NewStreamWriter(f, f), nil
	case "kafka":
		return NewKafkaWriter(cfg.Brokers, cfg.Topic, logger)
	case "none":
		return Discard, nil
	default:
		return nil, errors.Newf(errors.ErrorTypeConfig, "unknown singer output %q", cfg.Output)
	}
}
