package hub

import (
	"encoding/json"
	"log"
	"sync"
)

// Channels the display clients can subscribe to. "calls" carries call and
// recall announcements, "queue" carries ticket creation updates.
const (
	ChannelCalls = "calls"
	ChannelQueue = "queue"
)

type Client struct {
	ID       string
	Send     chan []byte
	Channels map[string]bool
}

type Hub struct {
	mu      sync.RWMutex
	clients map[string]*Client
}

type SubscribeMessage struct {
	Action  string `json:"action"`
	Channel string `json:"channel"`
}

func New() *Hub {
	return &Hub{clients: make(map[string]*Client)}
}

func (h *Hub) Register(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if client.Channels == nil {
		client.Channels = make(map[string]bool)
	}
	h.clients[client.ID] = client
}

func (h *Hub) Unregister(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.clients, client.ID)
	close(client.Send)
}

func (h *Hub) Subscribe(client *Client, channel string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	client.Channels[channel] = true
}

func (h *Hub) Unsubscribe(client *Client, channel string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if channel == "" {
		client.Channels = make(map[string]bool)
		return
	}
	delete(client.Channels, channel)
}

// Broadcast fans a payload out to every client subscribed to the channel.
// Slow clients get dropped messages instead of blocking the dispatcher.
func (h *Hub) Broadcast(payload []byte, channel string) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, client := range h.clients {
		if !client.Channels[channel] {
			continue
		}
		select {
		case client.Send <- payload:
		default:
			log.Printf("drop message for client %s", client.ID)
		}
	}
}

func ParseSubscribe(data []byte) (SubscribeMessage, bool) {
	var msg SubscribeMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return SubscribeMessage{}, false
	}
	if msg.Action != "subscribe" && msg.Action != "unsubscribe" {
		return SubscribeMessage{}, false
	}
	if msg.Action == "subscribe" && msg.Channel == "" {
		return SubscribeMessage{}, false
	}
	return msg, true
}
