package kafka

import (
	"context"
	"fmt"
	"strconv"

	"github.com/IBM/sarama"

	"github.com/rzbill/evtap/internal/source"
	logpkg "github.com/rzbill/evtap/pkg/log"
)

// Config holds the broker connection settings for the Kafka driver.
type Config struct {
	Brokers    []string
	Version    string
	TLSEnabled bool
	SASLUser   string
	SASLPass   string
	// MaxBatch caps how many events one Cursor.Next call returns.
	MaxBatch int
}

// Driver consumes Kafka topic partitions through explicit offsets, mapping
// them onto the source contract: partition id = Kafka partition, sequence
// number = Kafka offset.
type Driver struct {
	client   sarama.Client
	consumer sarama.Consumer
	maxBatch int
	logger   logpkg.Logger
}

// New connects to the brokers and builds a Driver.
func New(cfg Config, logger logpkg.Logger) (*Driver, error) {
	sc := sarama.NewConfig()
	sc.Consumer.Return.Errors = true
	if cfg.Version != "" {
		ver, err := sarama.ParseKafkaVersion(cfg.Version)
		if err != nil {
			return nil, fmt.Errorf("kafka: parse version: %w", err)
		}
		sc.Version = ver
	}
	if cfg.TLSEnabled {
		sc.Net.TLS.Enable = true
	}
	if cfg.SASLUser != "" {
		sc.Net.SASL.Enable = true
		sc.Net.SASL.User, sc.Net.SASL.Password = cfg.SASLUser, cfg.SASLPass
	}

	client, err := sarama.NewClient(cfg.Brokers, sc)
	if err != nil {
		return nil, fmt.Errorf("kafka: connect: %w", err)
	}
	consumer, err := sarama.NewConsumerFromClient(client)
	if err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("kafka: consumer: %w", err)
	}
	maxBatch := cfg.MaxBatch
	if maxBatch <= 0 {
		maxBatch = 256
	}
	return &Driver{client: client, consumer: consumer, maxBatch: maxBatch, logger: logger}, nil
}

// ListPartitions enumerates the partition ids of a topic.
func (d *Driver) ListPartitions(_ context.Context, entityPath string) ([]string, error) {
	parts, err := d.client.Partitions(entityPath)
	if err != nil {
		return nil, fmt.Errorf("kafka: list partitions of %q: %w", entityPath, err)
	}
	out := make([]string, len(parts))
	for i, p := range parts {
		out[i] = strconv.FormatInt(int64(p), 10)
	}
	return out, nil
}

// Validate refreshes metadata for the topic and returns its partition count.
func (d *Driver) Validate(ctx context.Context, entityPath string) (int, error) {
	if err := d.client.RefreshMetadata(entityPath); err != nil {
		return 0, fmt.Errorf("kafka: validate %q: %w", entityPath, err)
	}
	parts, err := d.ListPartitions(ctx, entityPath)
	if err != nil {
		return 0, err
	}
	if len(parts) == 0 {
		return 0, fmt.Errorf("kafka: topic %q has no partitions", entityPath)
	}
	return len(parts), nil
}

// OpenPartition opens a cursor over one partition starting at the requested
// position.
func (d *Driver) OpenPartition(_ context.Context, entityPath, partitionID string, start source.StartPosition) (source.Cursor, error) {
	p64, err := strconv.ParseInt(partitionID, 10, 32)
	if err != nil {
		return nil, fmt.Errorf("kafka: partition id %q: %w", partitionID, err)
	}
	offset := sarama.OffsetOldest
	if start.Kind == source.StartAfterSequence {
		// resume strictly after the checkpointed offset
		offset = int64(start.SequenceNumber) + 1
	}
	pc, err := d.consumer.ConsumePartition(entityPath, int32(p64), offset)
	if err != nil {
		return nil, fmt.Errorf("kafka: open partition %s: %w", partitionID, err)
	}
	d.logger.Debug("partition cursor opened",
		logpkg.Str("topic", entityPath),
		logpkg.Str("partition", partitionID),
		logpkg.Int64("offset", offset))
	return &partitionCursor{pc: pc, maxBatch: d.maxBatch}, nil
}

// Close releases the consumer and client connections.
func (d *Driver) Close() error {
	cerr := d.consumer.Close()
	if err := d.client.Close(); err != nil {
		return err
	}
	return cerr
}

// partitionCursor adapts a sarama PartitionConsumer to the pull contract.
type partitionCursor struct {
	pc       sarama.PartitionConsumer
	maxBatch int
}

// Next blocks for the first available message, then drains whatever else is
// already buffered up to maxBatch. Broker errors surface as transient.
func (c *partitionCursor) Next(ctx context.Context) ([]source.Event, error) {
	var batch []source.Event
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case err := <-c.pc.Errors():
		return nil, source.Transient(err)
	case msg, ok := <-c.pc.Messages():
		if !ok {
			return nil, source.ErrPartitionEnd
		}
		batch = append(batch, eventFromMessage(msg))
	}
	for len(batch) < c.maxBatch {
		select {
		case msg, ok := <-c.pc.Messages():
			if !ok {
				return batch, nil
			}
			batch = append(batch, eventFromMessage(msg))
		default:
			return batch, nil
		}
	}
	return batch, nil
}

// Close tears down the partition consumer.
func (c *partitionCursor) Close() error {
	return c.pc.Close()
}

func eventFromMessage(msg *sarama.ConsumerMessage) source.Event {
	ev := source.Event{
		SequenceNumber: uint64(msg.Offset),
		Offset:         strconv.FormatInt(msg.Offset, 10),
		EnqueuedTime:   msg.Timestamp,
		Body:           msg.Value,
	}
	if len(msg.Headers) > 0 {
		ev.Properties = make(map[string]string, len(msg.Headers))
		for _, h := range msg.Headers {
			ev.Properties[string(h.Key)] = string(h.Value)
		}
	}
	return ev
}
