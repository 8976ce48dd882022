package bus

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newTestBus spins up an in-process miniredis server so Publish/Subscribe
// exercise the actual go-redis wire protocol instead of a hand-rolled fake.
func newTestBus(t *testing.T, instanceID string) (*Bus, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)

	b, err := New("redis://"+mr.Addr(), instanceID)
	require.NoError(t, err)
	return b, mr
}

func TestBus_NoopWhenURLEmpty(t *testing.T) {
	b, err := New("", "instance-a")
	require.NoError(t, err)

	b.Publish(context.Background(), "room-1", "update", "c1", json.RawMessage(`{}`))
	unsub := b.Subscribe(context.Background(), "room-1", func(ctx context.Context, msg RoomMessage) {
		t.Fatal("no-op bus must never invoke a handler")
	})
	unsub()
	assert.NoError(t, b.Close())
}

func TestBus_PublishIsDeliveredToOtherInstance(t *testing.T) {
	busA, mr := newTestBus(t, "instance-a")
	defer mr.Close()
	defer busA.Close()

	busB, err := New("redis://"+mr.Addr(), "instance-b")
	require.NoError(t, err)
	defer busB.Close()

	received := make(chan RoomMessage, 1)
	unsub := busB.Subscribe(context.Background(), "room-1", func(ctx context.Context, msg RoomMessage) {
		received <- msg
	})
	defer unsub()

	time.Sleep(50 * time.Millisecond) // let the subscription become active

	busA.Publish(context.Background(), "room-1", "update", "client-1", json.RawMessage(`{"delta":"AAAA"}`))

	select {
	case msg := <-received:
		assert.Equal(t, "update", msg.Kind)
		assert.Equal(t, "client-1", msg.From)
		assert.Equal(t, "instance-a", msg.InstanceID)
	case <-time.After(time.Second):
		t.Fatal("expected a cross-instance message")
	}
}

func TestBus_SkipsItsOwnPublish(t *testing.T) {
	b, mr := newTestBus(t, "instance-a")
	defer mr.Close()
	defer b.Close()

	received := make(chan RoomMessage, 1)
	unsub := b.Subscribe(context.Background(), "room-1", func(ctx context.Context, msg RoomMessage) {
		received <- msg
	})
	defer unsub()

	time.Sleep(50 * time.Millisecond)
	b.Publish(context.Background(), "room-1", "update", "client-1", json.RawMessage(`{}`))

	select {
	case <-received:
		t.Fatal("a bus must not deliver its own publish back to itself")
	case <-time.After(200 * time.Millisecond):
	}
}
