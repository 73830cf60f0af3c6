// Package consumer implements the durable opportunity stream reader of
// spec §4.5: batch reads from a Redis Streams consumer group, JSON
// validation against the closed taxonomy in arbengine.Opportunity.Validate,
// dead-letter routing for invalid messages, deferred ACK until execution
// completes, and a pending-message sweeper for orphaned deliveries.
// Grounded on jeongkyun-oh-klaytn's go-redis/v7 dependency; the
// XADD/XREADGROUP/XACK/XPENDING calls follow the same client surface
// that package's Kafka broker wraps for its own durable-consumer pattern.
package consumer

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/duneflow/arbengine"
	"github.com/go-redis/redis/v7"
	"go.uber.org/zap"
)

// DefaultBatchSize, DefaultBlockTimeout, DefaultPendingMaxAge and
// DefaultSweepInterval are the §6 consumer config defaults.
const (
	DefaultBatchSize     = 10
	DefaultBlockTimeout  = time.Second
	DefaultPendingMaxAge = 10 * time.Minute
	DefaultSweepInterval = 60 * time.Second
)

// DeadLetterRecord is the §6 dead-letter stream payload shape.
type DeadLetterRecord struct {
	OriginalMessage string    `json:"originalMessage"`
	ValidationCode  string    `json:"validationCode"`
	Reason          string    `json:"reason"`
	Timestamp       time.Time `json:"timestamp"`
}

// Sink receives validated opportunities for admission into the queue (C4).
// Accept returns false when the queue is full or paused, in which case the
// consumer must not ACK the message (at-least-once redelivery). msgID lets
// the sink correlate this opportunity back to AckAfterExecution once a
// terminal ExecutionResult exists.
type Sink interface {
	Accept(opp *arbengine.Opportunity, msgID string) bool
}

// Config bounds the consumer's behavior (§6).
type Config struct {
	Stream           string
	Group            string
	ConsumerName     string
	DeadLetterStream string
	BatchSize        int64
	BlockTimeout      time.Duration
	PendingMaxAge     time.Duration
	SweepInterval     time.Duration
	SupportedChains   map[string]bool
	MinConfidence     float64
	MaxAge            time.Duration
}

// Consumer reads Opportunity messages from a durable Redis Streams consumer
// group, validates them, and forwards accepted ones to a Sink.
type Consumer struct {
	rdb  redis.Cmdable
	cfg  Config
	sink Sink
	log  *zap.SugaredLogger

	stopCh chan struct{}
}

// New builds a Consumer. Callers must call EnsureGroup once before ReadBatch.
func New(rdb redis.Cmdable, cfg Config, sink Sink, log *zap.SugaredLogger) *Consumer {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if cfg.BlockTimeout <= 0 {
		cfg.BlockTimeout = DefaultBlockTimeout
	}
	if cfg.PendingMaxAge <= 0 {
		cfg.PendingMaxAge = DefaultPendingMaxAge
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = DefaultSweepInterval
	}
	return &Consumer{rdb: rdb, cfg: cfg, sink: sink, log: log, stopCh: make(chan struct{})}
}

// EnsureGroup creates the consumer group at the stream's tail if absent.
func (c *Consumer) EnsureGroup() error {
	err := c.rdb.XGroupCreateMkStream(c.cfg.Stream, c.cfg.Group, "$").Err()
	if err != nil && err.Error() != "BUSYGROUP Consumer Group name already exists" {
		return fmt.Errorf("ensure consumer group: %w", err)
	}
	return nil
}

// ReadBatch performs one XREADGROUP call and processes every returned
// message: validates, forwards to Sink or dead-letters. Only dead-lettered
// messages are ACKed here; accepted messages stay pending until
// AckAfterExecution, and messages the Sink rejected for backpressure stay
// pending and will be redelivered.
func (c *Consumer) ReadBatch(ctx context.Context, now time.Time) (processed int, err error) {
	res, err := c.rdb.XReadGroup(&redis.XReadGroupArgs{
		Group:    c.cfg.Group,
		Consumer: c.cfg.ConsumerName,
		Streams:  []string{c.cfg.Stream, ">"},
		Count:    c.cfg.BatchSize,
		Block:    c.cfg.BlockTimeout,
	}).Result()
	if err == redis.Nil {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read batch: %w", err)
	}

	for _, stream := range res {
		for _, msg := range stream.Messages {
			c.handleMessage(ctx, msg, now)
			processed++
		}
	}
	return processed, nil
}

func (c *Consumer) handleMessage(ctx context.Context, msg redis.XMessage, now time.Time) {
	raw, _ := msg.Values["payload"].(string)

	opp, valErr := c.parseAndValidate(raw, now)
	if valErr != nil {
		c.deadLetter(raw, valErr, now)
		c.ack(msg.ID)
		return
	}

	if !c.sink.Accept(opp, msg.ID) {
		// Backpressure: leave unacknowledged for redelivery once the queue drains.
		return
	}
	// ACK happens after execution completes, via AckAfterExecution — not here.
}

func (c *Consumer) parseAndValidate(raw string, now time.Time) (*arbengine.Opportunity, *arbengine.ValidationError) {
	if raw == "" {
		return nil, &arbengine.ValidationError{Code: arbengine.ValEmpty, Message: "empty message payload"}
	}
	var opp arbengine.Opportunity
	if err := json.Unmarshal([]byte(raw), &opp); err != nil {
		return nil, &arbengine.ValidationError{Code: arbengine.ValNotObject, Message: err.Error()}
	}
	if valErr := opp.Validate(now, c.cfg.SupportedChains, c.cfg.MinConfidence, c.cfg.MaxAge); valErr != nil {
		return nil, valErr
	}
	return &opp, nil
}

func (c *Consumer) deadLetter(raw string, valErr *arbengine.ValidationError, now time.Time) {
	record := DeadLetterRecord{OriginalMessage: raw, ValidationCode: string(valErr.Code), Reason: valErr.Message, Timestamp: now}
	encoded, err := json.Marshal(record)
	if err != nil {
		if c.log != nil {
			c.log.Errorw("marshal dead-letter record failed", "error", err)
		}
		return
	}
	if err := c.rdb.XAdd(&redis.XAddArgs{Stream: c.cfg.DeadLetterStream, Values: map[string]interface{}{"payload": string(encoded)}}).Err(); err != nil {
		if c.log != nil {
			c.log.Errorw("publish dead-letter record failed", "error", err)
		}
	}
}

// AckAfterExecution acknowledges msgID once a terminal ExecutionResult has
// been published, per the §6 ACK-semantics contract.
func (c *Consumer) AckAfterExecution(msgID string) error {
	return c.ack(msgID)
}

func (c *Consumer) ack(msgID string) error {
	if err := c.rdb.XAck(c.cfg.Stream, c.cfg.Group, msgID).Err(); err != nil {
		return fmt.Errorf("ack %s: %w", msgID, err)
	}
	return nil
}

// SweepPending ACKs any pending message older than PendingMaxAge as
// orphaned (spec §4.5's "pending-message hygiene").
func (c *Consumer) SweepPending(now time.Time) (swept int, err error) {
	pending, err := c.rdb.XPendingExt(&redis.XPendingExtArgs{
		Stream: c.cfg.Stream,
		Group:  c.cfg.Group,
		Start:  "-",
		End:    "+",
		Count:  1000,
	}).Result()
	if err != nil {
		return 0, fmt.Errorf("list pending: %w", err)
	}

	for _, p := range pending {
		if p.Idle < c.cfg.PendingMaxAge {
			continue
		}
		if err := c.ack(p.Id); err != nil {
			if c.log != nil {
				c.log.Warnw("sweep ack failed", "id", p.Id, "error", err)
			}
			continue
		}
		swept++
	}
	return swept, nil
}

// RunSweeper runs SweepPending on a ticker until Stop is called.
func (c *Consumer) RunSweeper() {
	ticker := time.NewTicker(c.cfg.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-c.stopCh:
			return
		case <-ticker.C:
			if _, err := c.SweepPending(time.Now()); err != nil && c.log != nil {
				c.log.Warnw("sweep pending failed", "error", err)
			}
		}
	}
}

// Stop signals RunSweeper to exit.
func (c *Consumer) Stop() {
	close(c.stopCh)
}
