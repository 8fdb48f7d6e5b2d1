package events

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	log "github.com/sirupsen/logrus"
)

const (
	// DefaultBufferSize is the default size of the event buffer
	DefaultBufferSize = 1000

	// DefaultEventTimeout is the maximum time to wait for a subscriber
	DefaultEventTimeout = 5 * time.Second
)

// EmitterConfig contains configuration for the event emitter
type EmitterConfig struct {
	BufferSize     int           // Size of the event buffer channel
	EventTimeout   time.Duration // Timeout for delivering to a subscriber
	DropOnOverflow bool          // Drop events if the buffer is full
	Campaign       string        // Campaign name stamped on every event
}

// DefaultConfig returns a default configuration
func DefaultConfig(campaign string) *EmitterConfig {
	return &EmitterConfig{
		BufferSize:     DefaultBufferSize,
		EventTimeout:   DefaultEventTimeout,
		DropOnOverflow: true,
		Campaign:       campaign,
	}
}

// Handler processes a single event.
type Handler func(*Event)

// Emitter is a thread-safe event emitter with async delivery. The sale and
// its components emit through it; the Redis publisher and the state mirror
// subscribe to it. A nil *Emitter is valid and drops everything, so
// components can be wired without observability in tests.
type Emitter struct {
	config *EmitterConfig

	eventChan chan *Event

	subscribers map[string]Handler
	subMutex    sync.RWMutex

	eventsEmitted atomic.Uint64
	eventsDropped atomic.Uint64

	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running atomic.Bool
}

// NewEmitter creates a new event emitter with the given configuration
func NewEmitter(config *EmitterConfig) *Emitter {
	if config == nil {
		config = DefaultConfig("")
	}
	if config.BufferSize <= 0 {
		config.BufferSize = DefaultBufferSize
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Emitter{
		config:      config,
		eventChan:   make(chan *Event, config.BufferSize),
		subscribers: make(map[string]Handler),
		ctx:         ctx,
		cancel:      cancel,
	}
}

// Start begins delivering events to subscribers.
func (e *Emitter) Start() error {
	if e == nil {
		return nil
	}
	if !e.running.CompareAndSwap(false, true) {
		return fmt.Errorf("emitter already running")
	}

	log.Info("Starting event emitter")

	e.wg.Add(1)
	go e.processEvents()
	return nil
}

// Stop drains the buffer and stops delivery.
func (e *Emitter) Stop() {
	if e == nil || !e.running.CompareAndSwap(true, false) {
		return
	}
	e.cancel()
	e.wg.Wait()
	log.Infof("Event emitter stopped: emitted=%d dropped=%d",
		e.eventsEmitted.Load(), e.eventsDropped.Load())
}

// Subscribe registers a named handler. Re-subscribing under the same name
// replaces the previous handler.
func (e *Emitter) Subscribe(name string, handler Handler) {
	if e == nil {
		return
	}
	e.subMutex.Lock()
	defer e.subMutex.Unlock()
	e.subscribers[name] = handler
}

// Unsubscribe removes a named handler.
func (e *Emitter) Unsubscribe(name string) {
	if e == nil {
		return
	}
	e.subMutex.Lock()
	defer e.subMutex.Unlock()
	delete(e.subscribers, name)
}

// Emit queues an event for async delivery. Safe on a nil emitter.
func (e *Emitter) Emit(eventType EventType, severity EventSeverity, payload map[string]interface{}) {
	if e == nil || !e.running.Load() {
		return
	}

	event := NewEvent(eventType, severity, e.config.Campaign, payload)

	select {
	case e.eventChan <- event:
		e.eventsEmitted.Add(1)
	default:
		if e.config.DropOnOverflow {
			e.eventsDropped.Add(1)
			log.Warnf("Event buffer full, dropping %s event", eventType)
			return
		}
		e.eventChan <- event
		e.eventsEmitted.Add(1)
	}
}

func (e *Emitter) processEvents() {
	defer e.wg.Done()

	for {
		select {
		case <-e.ctx.Done():
			// Drain whatever is left before exiting.
			for {
				select {
				case event := <-e.eventChan:
					e.deliver(event)
				default:
					return
				}
			}
		case event := <-e.eventChan:
			e.deliver(event)
		}
	}
}

func (e *Emitter) deliver(event *Event) {
	e.subMutex.RLock()
	handlers := make([]Handler, 0, len(e.subscribers))
	for _, h := range e.subscribers {
		handlers = append(handlers, h)
	}
	e.subMutex.RUnlock()

	for _, h := range handlers {
		h(event)
	}
}

// Stats returns emitted and dropped counters.
func (e *Emitter) Stats() (emitted, dropped uint64) {
	if e == nil {
		return 0, 0
	}
	return e.eventsEmitted.Load(), e.eventsDropped.Load()
}
