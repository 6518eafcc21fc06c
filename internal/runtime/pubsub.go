package runtime

import (
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// cbCooldown and cbThreshold mirror the teacher's per-relay circuit
// breaker (internal/nostr/relay.go): after cbThreshold consecutive
// publish failures on a topic, the breaker opens and further publishes
// are rejected until cbCooldown elapses.
const (
	cbCooldown  = 2 * time.Minute
	cbThreshold = 3
)

// Message is one pubsub delivery: a topic and an opaque payload. The
// Federation Manager uses this to carry serialized FederationUpdates
// between sites (push publishes, pull-live subscribes).
type Message struct {
	Topic   string
	Payload []byte
}

// topicCircuit is the per-topic publish circuit breaker.
type topicCircuit struct {
	mu        sync.Mutex
	failCount int
	openedAt  time.Time
	open      bool
}

func (cb *topicCircuit) isOpen() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if !cb.open {
		return false
	}
	if time.Since(cb.openedAt) >= cbCooldown {
		cb.open = false
		cb.failCount = 0
		return false
	}
	return true
}

func (cb *topicCircuit) recordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.failCount++
	if !cb.open && cb.failCount >= cbThreshold {
		cb.open = true
		cb.openedAt = time.Now()
	}
}

func (cb *topicCircuit) recordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.open = false
	cb.failCount = 0
}

// Bus is the local, in-process implementation of the Document Runtime's
// pubsub collaborator (spec.md §2 item 1): subscribe/unsubscribe/publish
// by topic, with a per-topic rate limiter and circuit breaker so a
// misbehaving remote topic can't starve the others. Grounded on the
// teacher's relayCircuit plus golang.org/x/time/rate, which the teacher's
// go.mod already carries for its own relay backoff.
type Bus struct {
	mu        sync.Mutex
	listeners map[string][]chan Message
	limiters  map[string]*rate.Limiter
	breakers  map[string]*topicCircuit
}

// NewBus constructs an empty Bus.
func NewBus() *Bus {
	return &Bus{
		listeners: make(map[string][]chan Message),
		limiters:  make(map[string]*rate.Limiter),
		breakers:  make(map[string]*topicCircuit),
	}
}

// ErrCircuitOpen is returned by Publish when the topic's circuit breaker
// is open after repeated failed deliveries.
var ErrCircuitOpen = fmt.Errorf("runtime: topic circuit open")

// Subscribe begins listening to topic, returning a channel of future
// messages and an unsubscribe function. Each call opens an independent
// listener — the Federation Manager opens one per remote-site pull-live
// handle.
func (b *Bus) Subscribe(topic string) (ch <-chan Message, unsubscribe func()) {
	b.mu.Lock()
	defer b.mu.Unlock()
	listener := make(chan Message, 128)
	b.listeners[topic] = append(b.listeners[topic], listener)
	return listener, func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		ls := b.listeners[topic]
		for i, l := range ls {
			if l == listener {
				b.listeners[topic] = append(ls[:i], ls[i+1:]...)
				close(listener)
				return
			}
		}
	}
}

// Publish delivers payload to every current subscriber of topic. It is
// non-blocking per subscriber (a slow subscriber's backlog is dropped
// rather than stalling the publisher, matching the teacher's relay
// broadcast) and is itself rate-limited and circuit-broken per topic.
func (b *Bus) Publish(topic string, payload []byte) error {
	b.mu.Lock()
	breaker, ok := b.breakers[topic]
	if !ok {
		breaker = &topicCircuit{}
		b.breakers[topic] = breaker
	}
	limiter, ok := b.limiters[topic]
	if !ok {
		const publishesPerSecond = 20
		limiter = rate.NewLimiter(rate.Limit(publishesPerSecond), publishesPerSecond)
		b.limiters[topic] = limiter
	}
	listeners := append([]chan Message{}, b.listeners[topic]...)
	b.mu.Unlock()

	if breaker.isOpen() {
		return ErrCircuitOpen
	}
	if !limiter.Allow() {
		breaker.recordFailure()
		return fmt.Errorf("runtime: topic %q rate limited", topic)
	}

	msg := Message{Topic: topic, Payload: payload}
	for _, l := range listeners {
		select {
		case l <- msg:
		default:
		}
	}
	breaker.recordSuccess()
	return nil
}

// SubscriberCount reports how many live subscribers a topic currently
// has.
func (b *Bus) SubscriberCount(topic string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.listeners[topic])
}
