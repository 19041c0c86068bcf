package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/synaptica-ai/medtriage/pkg/common/config"
	"github.com/synaptica-ai/medtriage/pkg/common/httpclient"
	"github.com/synaptica-ai/medtriage/pkg/common/logger"
	"github.com/synaptica-ai/medtriage/pkg/common/models"
)

const (
	handlerAttempts = 3
	handlerBackoff  = 250 * time.Millisecond
)

// fetchBackoff spaces out fetches while the broker is unreachable.
var fetchBackoff = time.Second

// messageReader is the part of kafka.Reader the consumer uses.
type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type Consumer struct {
	reader messageReader
}

type EventHandler func(ctx context.Context, event models.Event) error

// NewConsumer reads the triage events topic. An empty groupID falls back to
// the configured group.
func NewConsumer(cfg *config.Config, groupID string) *Consumer {
	if groupID == "" {
		groupID = cfg.KafkaGroupID
	}

	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  cfg.KafkaBrokers,
		Topic:    cfg.TriageEventsTopic,
		GroupID:  groupID,
		MinBytes: 1,
		MaxBytes: 10e6, // 10MB
	})

	return &Consumer{reader: reader}
}

// Consume blocks until ctx is cancelled. A failing handler is retried with
// backoff; after the last attempt the message is logged as dropped and
// committed so one bad event cannot stall the partition.
func (c *Consumer) Consume(ctx context.Context, handler EventHandler) error {
	for {
		message, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, context.Canceled) {
				return ctx.Err()
			}
			logger.Log.WithError(err).Error("Failed to fetch message")
			if err := pause(ctx, fetchBackoff); err != nil {
				return err
			}
			continue
		}

		var event models.Event
		if err := json.Unmarshal(message.Value, &event); err != nil {
			logger.Log.WithError(err).WithField("offset", message.Offset).Error("Dropping undecodable event")
			c.commit(ctx, message)
			continue
		}

		err = httpclient.Retry(ctx, handlerAttempts, handlerBackoff, func() error {
			return handler(ctx, event)
		})
		if err != nil {
			if ctx.Err() != nil {
				// uncommitted, so it is read again after restart
				return ctx.Err()
			}
			logger.Log.WithError(err).WithFields(map[string]interface{}{
				"event_id":   event.ID,
				"event_type": event.Type,
				"session_id": event.Metadata["session_id"],
				"offset":     message.Offset,
			}).Error("Dropping event after retries")
		}
		c.commit(ctx, message)
	}
}

func pause(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func (c *Consumer) commit(ctx context.Context, message kafka.Message) {
	if err := c.reader.CommitMessages(ctx, message); err != nil {
		logger.Log.WithError(err).WithField("offset", message.Offset).Error("Failed to commit message")
	}
}

func (c *Consumer) Close() error {
	return c.reader.Close()
}
