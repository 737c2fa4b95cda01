// Package kafka consumes alert batches from a Kafka topic.
package kafka

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"health-service/internal/config"
	"health-service/internal/logging"
	"health-service/internal/metrics"
	"health-service/internal/models"
)

// MessageReader is the part of kafka.Reader the consumer uses.
type MessageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Handler receives decoded alert batches.
type Handler interface {
	HandleAlerts(ctx context.Context, alerts []models.Alert) error
}

// Consumer runs one fetch loop per reader of the consumer group.
type Consumer struct {
	readers []MessageReader
	handler Handler
	logger  *logging.Logger

	cancel context.CancelFunc
	group  *errgroup.Group
}

// NewConsumer creates cfg.Kafka.Consumers readers in the same consumer group.
func NewConsumer(cfg config.Config, handler Handler, logger *logging.Logger) *Consumer {
	n := cfg.Kafka.Consumers
	if n <= 0 {
		n = 1
	}
	readers := make([]MessageReader, 0, n)
	for i := 0; i < n; i++ {
		readers = append(readers, kafka.NewReader(kafka.ReaderConfig{
			Brokers:        cfg.Kafka.Brokers,
			GroupID:        cfg.Kafka.GroupID,
			Topic:          cfg.Kafka.Topic,
			MinBytes:       1,
			MaxBytes:       10e6,
			StartOffset:    kafka.FirstOffset,
			CommitInterval: 0,
		}))
	}
	return newConsumer(readers, handler, logger)
}

func newConsumer(readers []MessageReader, handler Handler, logger *logging.Logger) *Consumer {
	return &Consumer{readers: readers, handler: handler, logger: logger}
}

// Start launches the fetch loops.
func (c *Consumer) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	g, gctx := errgroup.WithContext(ctx)
	c.group = g
	for i, r := range c.readers {
		i, r := i, r
		g.Go(func() error {
			c.run(gctx, i, r)
			return nil
		})
	}
	c.logger.WithField("readers", len(c.readers)).Info("Kafka consumer started")
}

// Stop stops fetching, waits for in-flight batches to be handed over and
// committed, then closes the readers.
func (c *Consumer) Stop() {
	if c.cancel != nil {
		c.cancel()
		_ = c.group.Wait()
	}
	for _, r := range c.readers {
		if err := r.Close(); err != nil {
			c.logger.WithError(err).Error("Close Kafka reader failed")
		}
	}
	c.logger.Info("Kafka consumer stopped")
}

func (c *Consumer) run(ctx context.Context, id int, r MessageReader) {
	log := c.logger.WithField("reader", id)
	backoff := time.Second
	for {
		msg, err := r.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, io.EOF) {
				return
			}
			metrics.KafkaMessagesTotal.WithLabelValues("fetch_error").Inc()
			log.WithError(err).Error("Read message failed")
			select {
			case <-ctx.Done():
				return
			case <-time.After(backoff):
			}
			continue
		}
		// The batch and its commit complete even when Stop is called meanwhile.
		c.process(context.WithoutCancel(ctx), log, r, msg)
	}
}

func (c *Consumer) process(ctx context.Context, log *logrus.Entry, r MessageReader, msg kafka.Message) {
	log = log.WithFields(logrus.Fields{
		"partition": msg.Partition,
		"offset":    msg.Offset,
	})

	alerts, err := models.DecodeAlerts(msg.Value)
	if err != nil {
		metrics.KafkaMessagesTotal.WithLabelValues("decode_error").Inc()
		log.WithError(err).WithField("payload", string(msg.Value)).Error("Unmarshal message failed")
	} else if err := c.handler.HandleAlerts(ctx, alerts); err != nil {
		metrics.KafkaMessagesTotal.WithLabelValues("partial").Inc()
		log.WithError(err).WithField("payload", string(msg.Value)).Warn("Some alerts of the message were rejected")
	} else {
		metrics.KafkaMessagesTotal.WithLabelValues("ok").Inc()
		log.WithField("alerts", len(alerts)).Debug("Processed Kafka message")
	}

	commitCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := r.CommitMessages(commitCtx, msg); err != nil {
		metrics.KafkaCommitErrorsTotal.Inc()
		log.WithError(err).Error("Commit message failed")
	}
}
