package appkafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	config "example.com/communityfeed/internal/init"
	"example.com/communityfeed/internal/models"
	"github.com/segmentio/kafka-go"
)

// KafkaWriter defines an interface for writing messages to Kafka.
type KafkaWriter interface {
	WriteMessages(messages ...kafka.Message) error
	Close() error
}

// KafkaReader defines an interface for reading messages from Kafka.
type KafkaReader interface {
	ReadMessage(ctx context.Context) (kafka.Message, error)
	Close() error
}

// KafkaConfig holds configuration parameters for Kafka.
type KafkaConfig struct {
	Brokers      []string      // list of Kafka brokers
	Topic        string        // topic name
	Partition    int           // partition number (used for low-level writes)
	WriteTimeout time.Duration // write timeout duration
	ReadTimeout  time.Duration // max wait per fetch (consumer group)
	GroupID      string        // consumer group ID
}

// ConfigFrom maps the application config onto KafkaConfig.
func ConfigFrom(cfg *config.Config) KafkaConfig {
	return KafkaConfig{
		Brokers:      []string{cfg.KafkaBroker},
		Topic:        cfg.KafkaTopic,
		Partition:    cfg.KafkaPartition,
		GroupID:      cfg.KafkaGroupID,
		WriteTimeout: cfg.KafkaWriteTO,
		ReadTimeout:  cfg.KafkaReadTO,
	}
}

// RealKafkaWriter implements KafkaWriter using kafka.Conn (low-level writes).
type RealKafkaWriter struct {
	conn   *kafka.Conn
	config KafkaConfig
}

// NewKafkaWriter dials the partition leader for the events topic.
func NewKafkaWriter(ctx context.Context, cfg KafkaConfig) (*RealKafkaWriter, error) {
	if len(cfg.Brokers) == 0 {
		cfg.Brokers = []string{"localhost:9092"}
	}
	if cfg.WriteTimeout == 0 {
		cfg.WriteTimeout = 10 * time.Second
	}

	conn, err := kafka.DialLeader(ctx, "tcp", cfg.Brokers[0], cfg.Topic, cfg.Partition)
	if err != nil {
		return nil, fmt.Errorf("dial kafka leader: %w", err)
	}

	return &RealKafkaWriter{
		conn:   conn,
		config: cfg,
	}, nil
}

func (w *RealKafkaWriter) WriteMessages(messages ...kafka.Message) error {
	if w.conn == nil {
		return errors.New("kafka connection is nil")
	}
	w.conn.SetWriteDeadline(time.Now().Add(w.config.WriteTimeout))
	_, err := w.conn.WriteMessages(messages...)
	return err
}

func (w *RealKafkaWriter) Close() error {
	if w.conn != nil {
		return w.conn.Close()
	}
	return nil
}

// RealKafkaReader implements KafkaReader using kafka.Reader (consumer group).
type RealKafkaReader struct {
	reader *kafka.Reader
}

// NewKafkaReader creates a consumer group reader for the events topic.
func NewKafkaReader(cfg KafkaConfig) KafkaReader {
	if len(cfg.Brokers) == 0 {
		cfg.Brokers = []string{"localhost:9092"}
	}
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = 10 * time.Second
	}

	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:        cfg.Brokers,
		GroupID:        cfg.GroupID,
		Topic:          cfg.Topic,
		MinBytes:       1,    // events are small and latency matters
		MaxBytes:       10e6, // 10MB
		MaxWait:        cfg.ReadTimeout,
		CommitInterval: time.Second,
	})
	return &RealKafkaReader{reader: r}
}

func (r *RealKafkaReader) ReadMessage(ctx context.Context) (kafka.Message, error) {
	return r.reader.ReadMessage(ctx)
}

func (r *RealKafkaReader) Close() error {
	return r.reader.Close()
}

// NewEvent wraps a stored record into a change event.
func NewEvent(typ models.EventType, table string, record any) (models.Event, error) {
	raw, err := json.Marshal(record)
	if err != nil {
		return models.Event{}, fmt.Errorf("encode %s record: %w", table, err)
	}
	return models.Event{Type: typ, Table: table, Record: raw, Created: time.Now().UTC()}, nil
}

// EventMessage encodes an event, keyed by table so one table stays on one partition.
func EventMessage(ev models.Event) (kafka.Message, error) {
	value, err := json.Marshal(ev)
	if err != nil {
		return kafka.Message{}, fmt.Errorf("encode event: %w", err)
	}
	return kafka.Message{Key: []byte(ev.Table), Value: value, Time: ev.Created}, nil
}

// DecodeEvent is the inverse of EventMessage.
func DecodeEvent(msg kafka.Message) (models.Event, error) {
	var ev models.Event
	if err := json.Unmarshal(msg.Value, &ev); err != nil {
		return models.Event{}, fmt.Errorf("decode event: %w", err)
	}
	if ev.Table == "" || ev.Type == "" {
		return models.Event{}, errors.New("decode event: missing type or table")
	}
	return ev, nil
}

// Publish writes one event. Callers log the error; a failed publish never undoes the store write.
func Publish(w KafkaWriter, typ models.EventType, table string, record any) error {
	if w == nil {
		return errors.New("kafka writer not configured")
	}
	ev, err := NewEvent(typ, table, record)
	if err != nil {
		return err
	}
	msg, err := EventMessage(ev)
	if err != nil {
		return err
	}
	return w.WriteMessages(msg)
}
