package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"jokeapi/internal/config"
	"jokeapi/pkg/logger"

	"github.com/nats-io/nats.go"
)

const (
	ServedSubject = "jokes.served"
	ConsumerGroup = "jokeapi"

	fetchBatch = 10
	fetchWait  = 500 * time.Millisecond
)

var ErrEmptyServedMessage = errors.New("served message has no joke IDs")

type NATS struct {
	conn      *nats.Conn
	jetstream nats.JetStreamContext
	cfg       config.NATSConfig
}

func New(cfg config.NATSConfig) (*NATS, error) {
	conn, err := nats.Connect(cfg.URL, nats.Name(ConsumerGroup))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	js, err := conn.JetStream()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to get JetStream: %w", err)
	}

	n := &NATS{
		conn:      conn,
		jetstream: js,
		cfg:       cfg,
	}

	if err := n.ensureStream(); err != nil {
		conn.Close()
		return nil, err
	}

	return n, nil
}

// ensureStream creates the stream for the served subject unless it already exists.
func (n *NATS) ensureStream() error {
	if _, err := n.jetstream.StreamInfo(n.cfg.StreamName); err == nil {
		return nil
	} else if !errors.Is(err, nats.ErrStreamNotFound) {
		return fmt.Errorf("failed to look up stream %s: %w", n.cfg.StreamName, err)
	}

	_, err := n.jetstream.AddStream(&nats.StreamConfig{
		Name:      n.cfg.StreamName,
		Subjects:  []string{ServedSubject},
		Retention: nats.WorkQueuePolicy,
	})
	if err != nil {
		return fmt.Errorf("failed to create stream %s: %w", n.cfg.StreamName, err)
	}

	logger.Info("Created NATS stream", logger.String("stream", n.cfg.StreamName))
	return nil
}

func (n *NATS) Close() {
	if n.conn != nil {
		n.conn.Close()
	}
}

// ServedMessage records that jokes were delivered to a client.
type ServedMessage struct {
	ClientHash string    `json:"client_hash"`
	Lang       string    `json:"lang"`
	JokeIDs    []int     `json:"joke_ids"`
	ServedAt   time.Time `json:"served_at"`
}

func (n *NATS) PublishServed(ctx context.Context, msg *ServedMessage) error {
	if len(msg.JokeIDs) == 0 {
		return ErrEmptyServedMessage
	}

	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal served message: %w", err)
	}

	_, err = n.jetstream.Publish(ServedSubject, data, nats.Context(ctx))
	if err != nil {
		return fmt.Errorf("failed to publish served message: %w", err)
	}

	logger.Debug("Served jokes published to queue",
		logger.String("lang", msg.Lang),
		logger.Ints("joke_ids", msg.JokeIDs),
	)

	return nil
}

// ConsumeServed pulls served messages until ctx is done. Messages the handler fails on are redelivered.
func (n *NATS) ConsumeServed(ctx context.Context, handler func(context.Context, *ServedMessage) error) error {
	sub, err := n.jetstream.PullSubscribe(
		ServedSubject,
		ConsumerGroup,
		nats.BindStream(n.cfg.StreamName),
	)
	if err != nil {
		return fmt.Errorf("failed to subscribe to served jokes: %w", err)
	}
	defer sub.Unsubscribe()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
			msgs, err := sub.Fetch(fetchBatch, nats.MaxWait(fetchWait))
			if err != nil {
				if errors.Is(err, nats.ErrTimeout) {
					continue
				}
				return fmt.Errorf("failed to fetch messages: %w", err)
			}

			for _, msg := range msgs {
				process(ctx, msg.Data, msg, handler)
			}
		}
	}
}

type acker interface {
	Ack(opts ...nats.AckOpt) error
	Nak(opts ...nats.AckOpt) error
	Term(opts ...nats.AckOpt) error
}

// process decodes one message and acknowledges it. Undecodable messages are terminated, not retried.
func process(ctx context.Context, data []byte, ack acker, handler func(context.Context, *ServedMessage) error) {
	served, err := decodeServed(data)
	if err != nil {
		logger.Error("Failed to unmarshal served message", logger.Err(err))
		ack.Term()
		return
	}

	if err := handler(ctx, served); err != nil {
		logger.Error("Failed to record served jokes",
			logger.Err(err),
			logger.String("lang", served.Lang),
		)
		ack.Nak()
		return
	}

	ack.Ack()
}

func decodeServed(data []byte) (*ServedMessage, error) {
	var served ServedMessage
	if err := json.Unmarshal(data, &served); err != nil {
		return nil, err
	}
	if len(served.JokeIDs) == 0 {
		return nil, ErrEmptyServedMessage
	}
	return &served, nil
}
