package broadcast

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Additional-Code/kiosk/internal/config"
)

func newTestHub(bufferSize, subBuffer int) *Hub {
	cfg := config.Config{}
	cfg.Broadcast.BufferSize = bufferSize
	cfg.Broadcast.SubscriberBuffer = subBuffer
	return NewHub(cfg, zap.NewNop())
}

func TestHub_PublishDelivers(t *testing.T) {
	hub := newTestHub(100, 8)

	sub, replay := hub.Subscribe(ChannelOrders, "", 0)
	defer hub.Unsubscribe(sub)
	require.Empty(t, replay)

	published := hub.Publish(ChannelOrders, "order.created", map[string]any{"order_id": 1}, "")

	got := <-sub.C
	assert.Equal(t, published.ID, got.ID)
	assert.Equal(t, "order.created", got.Type)
	assert.False(t, got.Timestamp.IsZero())
}

func TestHub_ChannelIsolation(t *testing.T) {
	hub := newTestHub(100, 8)

	orders, _ := hub.Subscribe(ChannelOrders, "", 0)
	menu, _ := hub.Subscribe(ChannelMenu, "", 0)
	defer hub.Unsubscribe(orders)
	defer hub.Unsubscribe(menu)

	hub.Publish(ChannelMenu, "menu.sold_out", nil, "")

	got := <-menu.C
	assert.Equal(t, "menu.sold_out", got.Type)

	select {
	case event := <-orders.C:
		t.Fatalf("event leaked across channels: %+v", event)
	default:
	}
}

func TestHub_IDsAreMonotonicAcrossChannels(t *testing.T) {
	hub := newTestHub(100, 8)

	first := hub.Publish(ChannelOrders, "order.created", nil, "")
	second := hub.Publish(ChannelMenu, "menu.sold_out", nil, "")
	third := hub.Publish(ChannelOrders, "order.status_changed", nil, "")

	assert.Less(t, first.ID, second.ID)
	assert.Less(t, second.ID, third.ID)
}

func TestHub_ReplayAfterLastSeenID(t *testing.T) {
	hub := newTestHub(100, 8)

	var seen int64
	for i := 0; i < 5; i++ {
		event := hub.Publish(ChannelOrders, "order.status_changed", i, "")
		if i == 1 {
			seen = event.ID
		}
	}

	sub, replay := hub.Subscribe(ChannelOrders, "", seen)
	defer hub.Unsubscribe(sub)

	require.Len(t, replay, 3)
	for i, event := range replay {
		assert.Equal(t, seen+int64(i)+1, event.ID, "replay must be ordered with no gaps")
	}
}

func TestHub_ReplaySkippedWithoutLastSeenID(t *testing.T) {
	hub := newTestHub(100, 8)

	hub.Publish(ChannelOrders, "order.created", nil, "")
	hub.Publish(ChannelOrders, "order.created", nil, "")

	_, replay := hub.Subscribe(ChannelOrders, "", 0)
	assert.Empty(t, replay)
}

func TestHub_BufferEvictsOldest(t *testing.T) {
	hub := newTestHub(3, 8)

	var ids []int64
	for i := 0; i < 5; i++ {
		ids = append(ids, hub.Publish(ChannelOrders, "order.created", i, "").ID)
	}

	// Asking from before the window only returns what the buffer kept.
	_, replay := hub.Subscribe(ChannelOrders, "", ids[0])
	require.Len(t, replay, 3)
	assert.Equal(t, ids[2], replay[0].ID)
	assert.Equal(t, ids[4], replay[2].ID)
}

func TestHub_SlowSubscriberDropped(t *testing.T) {
	hub := newTestHub(100, 2)

	sub, _ := hub.Subscribe(ChannelOrders, "", 0)
	require.Equal(t, 1, hub.SubscriberCount(ChannelOrders))

	// Fill the subscriber buffer, then one more to trigger the drop.
	for i := 0; i < 3; i++ {
		hub.Publish(ChannelOrders, "order.created", i, "")
	}

	assert.Equal(t, 0, hub.SubscriberCount(ChannelOrders))

	// Channel is closed after draining the buffered events.
	for i := 0; i < 2; i++ {
		_, ok := <-sub.C
		require.True(t, ok)
	}
	_, ok := <-sub.C
	assert.False(t, ok)
}

func TestHub_TargetedEventFiltered(t *testing.T) {
	hub := newTestHub(100, 8)

	alice, _ := hub.Subscribe(ChannelNotifications, "alice", 0)
	bob, _ := hub.Subscribe(ChannelNotifications, "bob", 0)
	defer hub.Unsubscribe(alice)
	defer hub.Unsubscribe(bob)

	hub.Publish(ChannelNotifications, "order.ready", nil, "alice")

	got := <-alice.C
	assert.Equal(t, "order.ready", got.Type)

	select {
	case event := <-bob.C:
		t.Fatalf("targeted event delivered to wrong user: %+v", event)
	default:
	}
}

func TestHub_TargetedReplayFiltered(t *testing.T) {
	hub := newTestHub(100, 8)

	marker := hub.Publish(ChannelNotifications, "noise", nil, "")
	hub.Publish(ChannelNotifications, "order.ready", nil, "alice")
	hub.Publish(ChannelNotifications, "order.ready", nil, "bob")

	_, replay := hub.Subscribe(ChannelNotifications, "alice", marker.ID)
	require.Len(t, replay, 1)
	assert.Equal(t, "order.ready", replay[0].Type)
}

func TestHub_UnsubscribeTwice(t *testing.T) {
	hub := newTestHub(100, 8)

	sub, _ := hub.Subscribe(ChannelOrders, "", 0)
	hub.Unsubscribe(sub)
	hub.Unsubscribe(sub)
	hub.Unsubscribe(nil)

	assert.Equal(t, 0, hub.SubscriberCount(ChannelOrders))
}

func TestHub_ManySubscribersAllReceive(t *testing.T) {
	hub := newTestHub(100, 8)

	subs := make([]*Subscriber, 0, 10)
	for i := 0; i < 10; i++ {
		sub, _ := hub.Subscribe(ChannelOrders, fmt.Sprintf("user-%d", i), 0)
		subs = append(subs, sub)
	}
	defer func() {
		for _, sub := range subs {
			hub.Unsubscribe(sub)
		}
	}()

	published := hub.Publish(ChannelOrders, "order.created", nil, "")
	for _, sub := range subs {
		got := <-sub.C
		assert.Equal(t, published.ID, got.ID)
	}
}
