package broadcast

import (
	"sync"
	"time"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/Additional-Code/kiosk/internal/config"
)

// Well-known broadcast channels.
const (
	ChannelOrders        = "orders"
	ChannelMenu          = "menu"
	ChannelInventory     = "inventory"
	ChannelCustomCakes   = "custom-cakes"
	ChannelNotifications = "notifications"
)

// Event is one broadcast message. IDs are monotonically unique across all
// channels so a client can resume with Last-Event-ID after a reconnect.
type Event struct {
	ID         int64     `json:"event_id"`
	Type       string    `json:"event_type"`
	Payload    any       `json:"payload"`
	Timestamp  time.Time `json:"timestamp"`
	TargetUser string    `json:"-"`
}

// Subscriber is one live connection on a channel. Events arrive on C; the
// hub closes C when the subscriber is dropped.
type Subscriber struct {
	C       <-chan Event
	ch      chan Event
	channel string
	userID  string
}

// Module provides the broadcast hub to Fx.
var Module = fx.Provide(NewHub)

// Hub fans events out to channel-scoped subscribers and keeps a bounded
// per-channel ring buffer for reconnection replay. All state is local to
// this process; the durable copy of every event goes through the message
// bus (see the publishing services).
type Hub struct {
	mu         sync.Mutex
	nextID     int64
	channels   map[string]*channelState
	bufferSize int
	subBuffer  int
	logger     *zap.Logger
}

type channelState struct {
	subs   map[*Subscriber]struct{}
	buffer []Event
}

// NewHub builds a Hub with the configured buffer sizes.
func NewHub(cfg config.Config, logger *zap.Logger) *Hub {
	return &Hub{
		channels:   make(map[string]*channelState),
		bufferSize: cfg.Broadcast.BufferSize,
		subBuffer:  cfg.Broadcast.SubscriberBuffer,
		logger:     logger,
	}
}

// Publish assigns the next event id, buffers the event on the channel and
// delivers it to every matching subscriber. A subscriber whose channel is
// full is dropped rather than buffered without bound.
func (h *Hub) Publish(channel, eventType string, payload any, targetUser string) Event {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.nextID++
	event := Event{
		ID:         h.nextID,
		Type:       eventType,
		Payload:    payload,
		Timestamp:  time.Now().UTC(),
		TargetUser: targetUser,
	}

	state := h.state(channel)
	state.buffer = append(state.buffer, event)
	if len(state.buffer) > h.bufferSize {
		state.buffer = state.buffer[len(state.buffer)-h.bufferSize:]
	}

	for sub := range state.subs {
		if targetUser != "" && sub.userID != "" && sub.userID != targetUser {
			continue
		}
		select {
		case sub.ch <- event:
		default:
			// Slow consumer; disconnect instead of buffering forever.
			delete(state.subs, sub)
			close(sub.ch)
			if h.logger != nil {
				h.logger.Warn("dropping slow subscriber", zap.String("channel", channel))
			}
		}
	}

	return event
}

// Subscribe registers a connection on a channel. Events published after
// lastSeenID that are still in the replay buffer are returned for the
// caller to deliver before draining the live channel; lastSeenID <= 0
// skips replay.
func (h *Hub) Subscribe(channel, userID string, lastSeenID int64) (*Subscriber, []Event) {
	h.mu.Lock()
	defer h.mu.Unlock()

	state := h.state(channel)
	sub := &Subscriber{
		ch:      make(chan Event, h.subBuffer),
		channel: channel,
		userID:  userID,
	}
	sub.C = sub.ch
	state.subs[sub] = struct{}{}

	var replay []Event
	if lastSeenID > 0 {
		for _, event := range state.buffer {
			if event.ID <= lastSeenID {
				continue
			}
			if event.TargetUser != "" && userID != "" && userID != event.TargetUser {
				continue
			}
			replay = append(replay, event)
		}
	}

	return sub, replay
}

// Unsubscribe removes a connection; safe to call after the hub already
// dropped it.
func (h *Hub) Unsubscribe(sub *Subscriber) {
	if sub == nil {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()

	state, ok := h.channels[sub.channel]
	if !ok {
		return
	}
	if _, live := state.subs[sub]; live {
		delete(state.subs, sub)
		close(sub.ch)
	}
}

// SubscriberCount reports active connections on a channel.
func (h *Hub) SubscriberCount(channel string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	state, ok := h.channels[channel]
	if !ok {
		return 0
	}
	return len(state.subs)
}

func (h *Hub) state(channel string) *channelState {
	state, ok := h.channels[channel]
	if !ok {
		state = &channelState{subs: make(map[*Subscriber]struct{})}
		h.channels[channel] = state
	}
	return state
}
