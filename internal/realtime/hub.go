package realtime

import (
	"encoding/json"
	"log"
	"sync"

	"github.com/nao1215/msghub/pkg/event"
	"github.com/nao1215/msghub/pkg/metrics"
)

// DefaultQueueSize は接続ごとの送信キューの既定の長さ。
const DefaultQueueSize = 64

// Hub はルームと接続の対応を管理する。
type Hub struct {
	mu        sync.RWMutex
	rooms     map[string]map[*Client]struct{}
	queueSize int
}

// NewHub は新しいHubを生成する。queueSizeが0以下ならDefaultQueueSizeを使う。
func NewHub(queueSize int) *Hub {
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	return &Hub{
		rooms:     make(map[string]map[*Client]struct{}),
		queueSize: queueSize,
	}
}

// NewClient はHubに属する接続を生成する。ルームにはまだ参加しない。
func (h *Hub) NewClient(accountID string) *Client {
	return &Client{
		hub:       h,
		accountID: accountID,
		send:      make(chan []byte, h.queueSize),
		rooms:     make(map[string]struct{}),
	}
}

// Join は接続をルームに参加させる。参加済みなら何もしない。
func (h *Hub) Join(room string, c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if c.closed {
		return
	}
	members, ok := h.rooms[room]
	if !ok {
		members = make(map[*Client]struct{})
		h.rooms[room] = members
	}
	members[c] = struct{}{}
	c.rooms[room] = struct{}{}
}

// Leave は接続をすべてのルームから外し、送信キューを閉じる。
func (h *Hub) Leave(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if c.closed {
		return
	}
	for room := range c.rooms {
		members := h.rooms[room]
		delete(members, c)
		if len(members) == 0 {
			delete(h.rooms, room)
		}
	}
	c.rooms = nil
	c.closed = true
	close(c.send)
}

// Members はルームに参加している接続数を返す。
func (h *Hub) Members(room string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[room])
}

// Deliver はイベントをev.Roomの全接続へ送り、キューに積めた接続数を返す。
// キューが一杯の接続には送らない。ルームが空なら何もしない。
func (h *Hub) Deliver(ev *event.Event) int {
	payload, err := json.Marshal(ev)
	if err != nil {
		log.Printf("[Realtime] イベントのシリアライズに失敗: %v", err)
		return 0
	}
	return h.deliverRaw(ev.Room, payload)
}

func (h *Hub) deliverRaw(room string, payload []byte) int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	delivered := 0
	for c := range h.rooms[room] {
		if c.enqueue(payload) {
			delivered++
			metrics.RealtimeEvents.WithLabelValues("delivered").Inc()
		} else {
			metrics.RealtimeEvents.WithLabelValues("dropped").Inc()
		}
	}
	return delivered
}

// sendTo は1つの接続にだけ送る。閉じた接続には送らない。
func (h *Hub) sendTo(c *Client, ev *event.Event) bool {
	payload, err := json.Marshal(ev)
	if err != nil {
		return false
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	if c.closed {
		return false
	}
	return c.enqueue(payload)
}
