package runtime

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBusPublishSubscribe(t *testing.T) {
	bus := NewBus()
	ch, unsubscribe := bus.Subscribe("topic1")
	defer unsubscribe()

	require.NoError(t, bus.Publish("topic1", []byte("hello")))

	select {
	case msg := <-ch:
		assert.Equal(t, "topic1", msg.Topic)
		assert.Equal(t, []byte("hello"), msg.Payload)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for message")
	}
}

func TestBusUnsubscribeStopsDelivery(t *testing.T) {
	bus := NewBus()
	ch, unsubscribe := bus.Subscribe("topic1")
	unsubscribe()

	require.NoError(t, bus.Publish("topic1", []byte("hello")))

	_, open := <-ch
	assert.False(t, open, "channel should be closed after unsubscribe")
}

func TestBusSubscriberCount(t *testing.T) {
	bus := NewBus()
	assert.Equal(t, 0, bus.SubscriberCount("topic1"))

	_, unsubscribe := bus.Subscribe("topic1")
	assert.Equal(t, 1, bus.SubscriberCount("topic1"))

	unsubscribe()
	assert.Equal(t, 0, bus.SubscriberCount("topic1"))
}

func TestBusCircuitBreakerOpensAfterFailures(t *testing.T) {
	bus := NewBus()
	breaker := &topicCircuit{}
	bus.mu.Lock()
	bus.breakers["topic1"] = breaker
	bus.mu.Unlock()

	for i := 0; i < cbThreshold; i++ {
		breaker.recordFailure()
	}
	assert.True(t, breaker.isOpen())

	err := bus.Publish("topic1", []byte("x"))
	assert.ErrorIs(t, err, ErrCircuitOpen)
}

func TestTopicCircuitRecoversAfterCooldown(t *testing.T) {
	breaker := &topicCircuit{}
	for i := 0; i < cbThreshold; i++ {
		breaker.recordFailure()
	}
	require.True(t, breaker.isOpen())

	breaker.openedAt = time.Now().Add(-cbCooldown - time.Second)
	assert.False(t, breaker.isOpen())
}
