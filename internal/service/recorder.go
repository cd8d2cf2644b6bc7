package service

import (
	"context"
	"time"

	"jokeapi/internal/cache"
	"jokeapi/internal/queue"

	"golang.org/x/sync/errgroup"
)

const writeConcurrency = 4

// Recorder remembers which jokes a client was served.
type Recorder interface {
	RecordServed(ctx context.Context, clientHash, lang string, jokeIDs []int) error
}

// StoreRecorder writes entries straight to a cache store.
type StoreRecorder struct {
	store cache.Store
}

func NewStoreRecorder(store cache.Store) *StoreRecorder {
	return &StoreRecorder{store: store}
}

func (r *StoreRecorder) RecordServed(ctx context.Context, clientHash, lang string, jokeIDs []int) error {
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(writeConcurrency)

	for _, id := range jokeIDs {
		g.Go(func() error {
			return r.store.AddEntry(ctx, clientHash, id, lang)
		})
	}
	return g.Wait()
}

// HandleServed stores a message taken from the queue.
func (r *StoreRecorder) HandleServed(ctx context.Context, msg *queue.ServedMessage) error {
	return r.RecordServed(ctx, msg.ClientHash, msg.Lang, msg.JokeIDs)
}

type ServedPublisher interface {
	PublishServed(ctx context.Context, msg *queue.ServedMessage) error
}

// QueueRecorder publishes served jokes. A consumer running StoreRecorder.HandleServed persists them.
type QueueRecorder struct {
	publisher ServedPublisher
	clock     func() time.Time
}

func NewQueueRecorder(publisher ServedPublisher) *QueueRecorder {
	return &QueueRecorder{publisher: publisher, clock: time.Now}
}

func (r *QueueRecorder) RecordServed(ctx context.Context, clientHash, lang string, jokeIDs []int) error {
	return r.publisher.PublishServed(ctx, &queue.ServedMessage{
		ClientHash: clientHash,
		Lang:       lang,
		JokeIDs:    jokeIDs,
		ServedAt:   r.clock().UTC(),
	})
}
