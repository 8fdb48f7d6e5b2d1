package events

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/go-redis/redis/v8"
	log "github.com/sirupsen/logrus"
)

const (
	// DefaultChannelPrefix is the default Redis channel prefix for events
	DefaultChannelPrefix = "sale:events"

	// DefaultPublishTimeout bounds a single publish call
	DefaultPublishTimeout = 2 * time.Second
)

// PublisherConfig contains configuration for the Redis publisher
type PublisherConfig struct {
	RedisClient   *redis.Client
	ChannelPrefix string // Prefix for Redis channels
	Campaign      string // Campaign name for channel scoping
}

// Publisher forwards emitted events to Redis Pub/Sub so external indexers
// and the status API can observe the campaign without touching the engine.
type Publisher struct {
	config      *PublisherConfig
	redisClient *redis.Client

	eventsPublished atomic.Uint64
	publishErrors   atomic.Uint64
}

// NewPublisher creates a new Redis event publisher
func NewPublisher(config *PublisherConfig) (*Publisher, error) {
	if config == nil || config.RedisClient == nil {
		return nil, fmt.Errorf("invalid publisher configuration")
	}
	if config.ChannelPrefix == "" {
		config.ChannelPrefix = DefaultChannelPrefix
	}

	return &Publisher{
		config:      config,
		redisClient: config.RedisClient,
	}, nil
}

// Channel returns the Redis channel for an event type.
func (p *Publisher) Channel(eventType EventType) string {
	return fmt.Sprintf("%s:%s:%s", p.config.ChannelPrefix, p.config.Campaign, eventType)
}

// Handle publishes a single event. It matches the events.Handler signature
// so it can be subscribed directly on an Emitter.
func (p *Publisher) Handle(event *Event) {
	data, err := event.Marshal()
	if err != nil {
		p.publishErrors.Add(1)
		log.Errorf("Failed to marshal event for publishing: %v", err)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), DefaultPublishTimeout)
	defer cancel()

	if err := p.redisClient.Publish(ctx, p.Channel(event.Type), data).Err(); err != nil {
		p.publishErrors.Add(1)
		log.Errorf("Failed to publish %s event: %v", event.Type, err)
		return
	}
	p.eventsPublished.Add(1)
}

// Stats returns published and error counters.
func (p *Publisher) Stats() (published, errors uint64) {
	return p.eventsPublished.Load(), p.publishErrors.Load()
}
