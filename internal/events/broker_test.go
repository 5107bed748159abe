package events

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBroker_FanOut(t *testing.T) {
	b := NewBroker[string]()
	a, cancelA := b.Subscribe(4)
	c, cancelC := b.Subscribe(4)
	defer cancelA()
	defer cancelC()

	assert.Equal(t, 2, b.Publish("hello"))
	assert.Equal(t, "hello", <-a)
	assert.Equal(t, "hello", <-c)
}

func TestBroker_PublishDoesNotBlockOnFullSubscriber(t *testing.T) {
	b := NewBroker[int]()
	ch, cancel := b.Subscribe(1)
	defer cancel()

	assert.Equal(t, 1, b.Publish(1))
	assert.Equal(t, 0, b.Publish(2))
	assert.Equal(t, 1, <-ch)
}

func TestBroker_CancelClosesChannel(t *testing.T) {
	b := NewBroker[int]()
	ch, cancel := b.Subscribe(1)
	require.Equal(t, 1, b.Subscribers())

	cancel()
	cancel()

	_, ok := <-ch
	assert.False(t, ok)
	assert.Equal(t, 0, b.Subscribers())
	assert.Equal(t, 0, b.Publish(1))
}

func TestBroker_Close(t *testing.T) {
	b := NewBroker[int]()
	ch, cancel := b.Subscribe(1)
	b.Close()
	cancel()

	_, ok := <-ch
	assert.False(t, ok)

	late, _ := b.Subscribe(1)
	_, ok = <-late
	assert.False(t, ok)
}

func TestBroker_FilteredSubscriberKeepsBufferForItsValues(t *testing.T) {
	b := NewBroker[string]()
	mine, cancel := b.SubscribeFunc(1, func(v string) bool { return v == "ann" })
	defer cancel()

	for _, v := range []string{"bob", "carl", "dora"} {
		assert.Equal(t, 0, b.Publish(v))
	}
	require.Equal(t, 1, b.Publish("ann"))
	assert.Equal(t, "ann", <-mine)
}
