package mediator

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublishExactTopic(t *testing.T) {
	m := New()
	topic := Topic{Originator: "MODALITY1", MessageID: 7}
	ch, unsub := m.Subscribe(topic)
	defer unsub()

	err := m.Publish(context.Background(), topic, Item{SOPUID: "1.2.3"})
	require.NoError(t, err)

	item := <-ch
	assert.Equal(t, "1.2.3", item.SOPUID)
}

func TestPublishFallsBackToAETOnlyTopic(t *testing.T) {
	m := New()
	fallback := Topic{Originator: "MODALITY1"}
	ch, unsub := m.Subscribe(fallback)
	defer unsub()

	exact := Topic{Originator: "MODALITY1", MessageID: 42}
	err := m.Publish(context.Background(), exact, Item{SOPUID: "1.2.3.4"})
	require.NoError(t, err)

	item := <-ch
	assert.Equal(t, "1.2.3.4", item.SOPUID)
}

func TestPublishMissingCallback(t *testing.T) {
	m := New()
	err := m.Publish(context.Background(), Topic{Originator: "GHOST", MessageID: 1}, Item{})
	assert.Error(t, err)
}

func TestPublishAfterUnsubscribeIsChannelClosed(t *testing.T) {
	m := New()
	topic := Topic{Originator: "MODALITY1", MessageID: 1}
	_, unsub := m.Subscribe(topic)
	unsub()

	err := m.Publish(context.Background(), topic, Item{})
	assert.Error(t, err)
}

func TestSequentialAcquireSerializes(t *testing.T) {
	m := New()
	m.EnableSequential("SEQPACS")

	release1, err := m.AcquireSequential(context.Background(), "SEQPACS")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = m.AcquireSequential(ctx, "SEQPACS")
	assert.Error(t, err)

	release1()
	release2, err := m.AcquireSequential(context.Background(), "SEQPACS")
	require.NoError(t, err)
	release2()
}

func TestConcurrentAETNeverBlocks(t *testing.T) {
	m := New()
	release, err := m.AcquireSequential(context.Background(), "CONCURRENTPACS")
	require.NoError(t, err)
	release()
}
