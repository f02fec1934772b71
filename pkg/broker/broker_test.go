package broker

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublishDeliversToBoundQueue(t *testing.T) {
	b := NewInMemory()
	b.Bind("lis", "results.ortho-1", "ortho-1-results")

	var got Delivery
	unsub := b.Subscribe("ortho-1-results", func(ctx context.Context, d Delivery) {
		got = d
	})
	defer unsub()

	err := b.Publish(context.Background(), Publication{
		Exchange:   "lis",
		RoutingKey: "results.ortho-1",
		Body:       []byte("payload"),
		Headers:    map[string]string{"instrument": "ORTHO-1", "message_type": "RESULT"},
	})
	require.NoError(t, err)

	assert.Equal(t, "ortho-1-results", got.Queue)
	assert.Equal(t, []byte("payload"), got.Body)
	assert.Equal(t, "ORTHO-1", got.Headers["instrument"])
}

func TestPublishUnboundRoutingKeyIsNotAnError(t *testing.T) {
	b := NewInMemory()
	err := b.Publish(context.Background(), Publication{Exchange: "lis", RoutingKey: "nowhere"})
	assert.NoError(t, err)
}

func TestBindIsIdempotent(t *testing.T) {
	b := NewInMemory()
	b.Bind("lis", "orders", "q")
	b.Bind("lis", "orders", "q")

	count := 0
	defer b.Subscribe("q", func(context.Context, Delivery) { count++ })()

	require.NoError(t, b.Publish(context.Background(), Publication{Exchange: "lis", RoutingKey: "orders"}))
	assert.Equal(t, 1, count)
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	b := NewInMemory()
	b.Bind("lis", "orders", "q")

	count := 0
	unsub := b.Subscribe("q", func(context.Context, Delivery) { count++ })

	require.NoError(t, b.Publish(context.Background(), Publication{Exchange: "lis", RoutingKey: "orders"}))
	unsub()
	require.NoError(t, b.Publish(context.Background(), Publication{Exchange: "lis", RoutingKey: "orders"}))

	assert.Equal(t, 1, count)
}

func TestPublishAfterCloseIsUnavailable(t *testing.T) {
	b := NewInMemory()
	require.NoError(t, b.Close())
	err := b.Publish(context.Background(), Publication{Exchange: "lis", RoutingKey: "x"})
	assert.ErrorIs(t, err, ErrUnavailable)
	assert.True(t, IsTransient(err))
}

func TestIsTransientTaxonomy(t *testing.T) {
	assert.False(t, IsTransient(nil))
	assert.True(t, IsTransient(ErrUnavailable))
	assert.True(t, IsTransient(fmt.Errorf("publish: %w", ErrUnavailable)))
	assert.True(t, IsTransient(fmt.Errorf("something unexpected")))
	assert.False(t, IsTransient(ErrAccessRefused))
	assert.False(t, IsTransient(fmt.Errorf("publish: %w", ErrSerialization)))
}
