package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"

	"github.com/gkirna/scribeflow/internal/logging"
	"github.com/gkirna/scribeflow/internal/metrics"
)

// KafkaConfig holds Kafka publisher configuration.
type KafkaConfig struct {
	Enabled       bool
	Brokers       []string
	TopicSegments string
	TopicEvents   string
	ClientID      string
	Previews      bool
}

// Publisher mirrors finalized segments and chunk lifecycle events to Kafka.
// With Kafka disabled it only logs what it would have published.
type Publisher struct {
	writerSegments *kafka.Writer
	writerEvents   *kafka.Writer
	topicSegments  string
	topicEvents    string
	clientID       string
	previews       bool
	enabled        bool
	log            zerolog.Logger
	metrics        *metrics.Metrics
}

func NewPublisher(cfg *KafkaConfig, m *metrics.Metrics) *Publisher {
	log := logging.WithComponent("events")

	if cfg == nil {
		log.Info().Msg("kafka disabled (nil config), using log-only mode")
		return &Publisher{log: log, metrics: m}
	}

	p := &Publisher{
		topicSegments: cfg.TopicSegments,
		topicEvents:   cfg.TopicEvents,
		clientID:      cfg.ClientID,
		previews:      cfg.Previews,
		log:           log,
		metrics:       m,
	}
	if !cfg.Enabled || len(cfg.Brokers) == 0 {
		log.Info().Msg("kafka disabled, using log-only mode")
		return p
	}

	dialer := &kafka.Dialer{
		ClientID:  cfg.ClientID,
		Timeout:   10 * time.Second,
		DualStack: true,
	}
	transport := &kafka.Transport{
		Dial:     dialer.DialFunc,
		ClientID: cfg.ClientID,
	}

	p.writerSegments = p.newWriter(cfg.Brokers, cfg.TopicSegments, transport)
	p.writerEvents = p.newWriter(cfg.Brokers, cfg.TopicEvents, transport)
	p.enabled = true

	log.Info().
		Strs("brokers", cfg.Brokers).
		Str("topic_segments", cfg.TopicSegments).
		Str("topic_events", cfg.TopicEvents).
		Msg("kafka publisher initialized")
	return p
}

// newWriter builds an async writer so publishing never stalls the pipeline;
// delivery results are reported through Completion.
func (p *Publisher) newWriter(brokers []string, topic string, transport *kafka.Transport) *kafka.Writer {
	return &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		BatchTimeout: 10 * time.Millisecond,
		WriteTimeout: 10 * time.Second,
		RequiredAcks: kafka.RequireOne,
		Async:        true,
		Transport:    transport,
		Completion: func(messages []kafka.Message, err error) {
			for range messages {
				p.metrics.RecordPublish(topic, err, 0)
			}
			if err != nil {
				p.log.Error().Err(err).Str("topic", topic).Int("messages", len(messages)).Msg("kafka delivery failed")
			}
		},
	}
}

// route picks the writer and topic for an event kind. Previews are only
// mirrored when enabled.
func (p *Publisher) route(kind Kind) (*kafka.Writer, string, bool) {
	switch kind {
	case KindSegmentFinal, KindChunkPromoted:
		return p.writerSegments, p.topicSegments, true
	case KindPreview:
		return p.writerEvents, p.topicEvents, p.previews
	default:
		return p.writerEvents, p.topicEvents, true
	}
}

// Publish implements Sink. Errors are logged and counted.
func (p *Publisher) Publish(ctx context.Context, ev Event) {
	_ = p.PublishEvent(ctx, ev)
}

func (p *Publisher) PublishEvent(ctx context.Context, ev Event) error {
	writer, topic, ok := p.route(ev.Kind)
	if !ok {
		return nil
	}
	start := time.Now()

	payload, err := json.Marshal(ev)
	if err != nil {
		p.log.Error().Err(err).Str("topic", topic).Msg("failed to marshal event")
		return err
	}

	p.log.Debug().
		Str("topic", topic).
		Str("key", ev.SessionID).
		RawJSON("payload", payload).
		Msg("publishing event")

	if !p.enabled || writer == nil {
		p.metrics.RecordPublish(topic, nil, time.Since(start))
		return nil
	}

	msg := kafka.Message{
		Key:   []byte(ev.SessionID),
		Value: payload,
		Headers: []kafka.Header{
			{Key: "eventType", Value: []byte(ev.Kind)},
			{Key: "clientId", Value: []byte(p.clientID)},
		},
	}
	if err := writer.WriteMessages(ctx, msg); err != nil {
		p.log.Error().Err(err).Str("topic", topic).Str("key", ev.SessionID).Msg("failed to write to kafka")
		p.metrics.RecordPublish(topic, err, time.Since(start))
		return err
	}
	return nil
}

func (p *Publisher) Enabled() bool {
	return p.enabled
}

// Close flushes pending async writes and closes both writers.
func (p *Publisher) Close() error {
	var err error
	if p.writerSegments != nil {
		if e := p.writerSegments.Close(); e != nil {
			p.log.Error().Err(e).Msg("error closing segments writer")
			err = e
		}
	}
	if p.writerEvents != nil {
		if e := p.writerEvents.Close(); e != nil {
			p.log.Error().Err(e).Msg("error closing events writer")
			err = e
		}
	}
	return err
}
