// Package events publishes sync lifecycle events to RabbitMQ.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"github.com/ad-tracker/analytics-sync-go/internal/config"
	"github.com/ad-tracker/analytics-sync-go/pkg/logger"
)

// confirmTimeout bounds the wait for a broker ack.
const confirmTimeout = 5 * time.Second

// SyncEvent announces the end of one account sync run.
type SyncEvent struct {
	RunID           uuid.UUID `json:"runId"`
	AccountID       string    `json:"accountId"`
	Platform        string    `json:"platform"`
	Mode            string    `json:"mode"`
	Status          string    `json:"status"`
	ChannelRows     int       `json:"channelRows"`
	EntityRows      int       `json:"entityRows"`
	ChunksProcessed int       `json:"chunksProcessed"`
	ChunksFailed    int       `json:"chunksFailed"`
	QuotaExhausted  bool      `json:"quotaExhausted"`
	Error           string    `json:"error,omitempty"`
	FinishedAt      time.Time `json:"finishedAt"`
}

// RoutingKey returns "<prefix>.<platform>.<status>" for the topic exchange.
func (e *SyncEvent) RoutingKey(prefix string) string {
	return fmt.Sprintf("%s.%s.%s", prefix, e.Platform, e.Status)
}

// Publisher sends SyncEvents to a durable topic exchange with publisher confirms.
type Publisher struct {
	conn    *amqp.Connection
	channel *amqp.Channel
	config  *config.RabbitMQConfig
	mu      sync.Mutex
}

// NewPublisher connects to RabbitMQ and declares the exchange.
func NewPublisher(cfg *config.RabbitMQConfig) (*Publisher, error) {
	p := &Publisher{config: cfg}
	if err := p.connect(); err != nil {
		return nil, err
	}
	return p, nil
}

// URL returns the AMQP connection URL for cfg.
func URL(cfg *config.RabbitMQConfig) string {
	return fmt.Sprintf("amqp://%s:%s@%s:%d/", cfg.User, cfg.Password, cfg.Host, cfg.Port)
}

func (p *Publisher) connect() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	conn, err := amqp.Dial(URL(p.config))
	if err != nil {
		return fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return fmt.Errorf("failed to open channel: %w", err)
	}

	if err := ch.Confirm(false); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return fmt.Errorf("failed to enable publisher confirms: %w", err)
	}

	if err := ch.ExchangeDeclare(
		p.config.Exchange, // name
		"topic",           // type
		true,              // durable
		false,             // auto-deleted
		false,             // internal
		false,             // no-wait
		nil,               // arguments
	); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return fmt.Errorf("failed to declare exchange: %w", err)
	}

	p.conn = conn
	p.channel = ch

	logger.Log.Info("Connected to RabbitMQ",
		zap.String("exchange", p.config.Exchange),
		zap.String("host", p.config.Host),
	)

	return nil
}

// PublishSyncEvent publishes event and waits for the broker ack.
func (p *Publisher) PublishSyncEvent(ctx context.Context, event *SyncEvent) error {
	// One publish at a time so each confirm matches its message.
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.channel == nil {
		return fmt.Errorf("channel is not initialized")
	}

	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	confirm, err := p.channel.PublishWithDeferredConfirmWithContext(
		ctx,
		p.config.Exchange,
		event.RoutingKey(p.config.RoutingKey),
		false, // mandatory
		false, // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			Body:         body,
			DeliveryMode: amqp.Persistent,
			Timestamp:    event.FinishedAt,
			MessageId:    event.RunID.String(),
		},
	)
	if err != nil {
		return fmt.Errorf("failed to publish message: %w", err)
	}

	waitCtx, cancel := context.WithTimeout(ctx, confirmTimeout)
	defer cancel()

	acked, err := confirm.WaitContext(waitCtx)
	if err != nil {
		return fmt.Errorf("waiting for publish confirmation: %w", err)
	}
	if !acked {
		return fmt.Errorf("message was not acknowledged by broker")
	}

	logger.Log.Debug("Published sync event",
		zap.String("run_id", event.RunID.String()),
		zap.String("routing_key", event.RoutingKey(p.config.RoutingKey)),
	)

	return nil
}

// Close closes the channel and connection.
func (p *Publisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	var errs []error
	if p.channel != nil {
		if err := p.channel.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if p.conn != nil {
		if err := p.conn.Close(); err != nil {
			errs = append(errs, err)
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("errors closing publisher: %v", errs)
	}

	logger.Log.Info("RabbitMQ publisher closed")
	return nil
}

// IsHealthy reports whether the connection and channel are open.
func (p *Publisher) IsHealthy() bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.conn != nil && !p.conn.IsClosed() && p.channel != nil && !p.channel.IsClosed()
}
