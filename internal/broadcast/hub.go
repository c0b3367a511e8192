package broadcast

import (
	"encoding/json"
	"log/slog"
	"sync"
	"sync/atomic"

	"game_host/internal/domain"
	"game_host/internal/logger"
	"game_host/internal/metrics"
)

const defaultBuffer = 64

// StateUpdate полный снимок комнаты после пакета изменений
type StateUpdate struct {
	Type    string          `json:"type"`
	RoomID  string          `json:"roomId"`
	Version uint64          `json:"version"`
	Phase   domain.Phase    `json:"phase"`
	Players []string        `json:"players"`
	State   json.RawMessage `json:"state"`
	Final   bool            `json:"final"`
}

// Publisher получатель обновлений от дорожек комнат
type Publisher interface {
	Publish(update StateUpdate)
}

// Subscriber поток обновлений одной комнаты для одного соединения.
// Канал закрывается после финального снимка, при отписке или при переполнении буфера.
type Subscriber struct {
	RoomID   string
	PlayerID string

	send    chan []byte
	dropped atomic.Bool
}

// C сообщения в порядке публикации
func (s *Subscriber) C() <-chan []byte { return s.send }

// Dropped сообщает, что подписчик был отключен из-за медленного чтения
func (s *Subscriber) Dropped() bool { return s.dropped.Load() }

type roomFeed struct {
	subs   map[*Subscriber]struct{}
	latest []byte
}

// Hub рассылает снимки подписчикам комнат
type Hub struct {
	mu     sync.Mutex
	rooms  map[string]*roomFeed
	buffer int
	log    *slog.Logger
}

type Option func(*Hub)

// WithBuffer размер очереди сообщений одного подписчика
func WithBuffer(n int) Option {
	return func(h *Hub) {
		if n > 0 {
			h.buffer = n
		}
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(h *Hub) { h.log = l }
}

func NewHub(opts ...Option) *Hub {
	h := &Hub{
		rooms:  make(map[string]*roomFeed),
		buffer: defaultBuffer,
	}
	for _, opt := range opts {
		opt(h)
	}
	h.log = logger.OrDefault(h.log)
	return h
}

// Publish сериализует снимок один раз и добавляет его каждому подписчику.
// Вызывается только дорожкой комнаты, поэтому порядок сообщений совпадает с порядком версий.
func (h *Hub) Publish(u StateUpdate) {
	u.Type = "state"
	data, err := json.Marshal(u)
	if err != nil {
		h.log.Error("marshal state update", "room", u.RoomID, "error", err)
		return
	}
	metrics.StateBroadcasts.Inc()

	h.mu.Lock()
	defer h.mu.Unlock()

	feed, ok := h.rooms[u.RoomID]
	if !ok {
		if u.Final {
			return
		}
		feed = &roomFeed{subs: make(map[*Subscriber]struct{})}
		h.rooms[u.RoomID] = feed
	}
	feed.latest = data

	for s := range feed.subs {
		if u.Final {
			// финальный снимок доставляется даже при заполненном буфере
			h.deliverFinal(s, data)
			continue
		}
		select {
		case s.send <- data:
		default:
			s.dropped.Store(true)
			h.detach(feed, s)
			metrics.SubscribersDropped.Inc()
			h.log.Warn("slow subscriber closed", "room", u.RoomID, "player", s.PlayerID)
		}
	}
	if u.Final {
		delete(h.rooms, u.RoomID)
	}
}

// Subscribe подписывает на комнату; первым сообщением приходит последний снимок
func (h *Hub) Subscribe(roomID, playerID string) (*Subscriber, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	feed, ok := h.rooms[roomID]
	if !ok {
		return nil, domain.ErrRoomNotFound
	}
	s := &Subscriber{RoomID: roomID, PlayerID: playerID, send: make(chan []byte, h.buffer)}
	if feed.latest != nil {
		s.send <- feed.latest
	}
	feed.subs[s] = struct{}{}
	return s, nil
}

// Unsubscribe отключает подписчика; повторный вызов безопасен
func (h *Hub) Unsubscribe(s *Subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if feed, ok := h.rooms[s.RoomID]; ok {
		if _, member := feed.subs[s]; member {
			h.detach(feed, s)
		}
	}
}

// Subscribers количество подписчиков комнаты
func (h *Hub) Subscribers(roomID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	if feed, ok := h.rooms[roomID]; ok {
		return len(feed.subs)
	}
	return 0
}

func (h *Hub) detach(feed *roomFeed, s *Subscriber) {
	delete(feed.subs, s)
	close(s.send)
}

func (h *Hub) deliverFinal(s *Subscriber, data []byte) {
	select {
	case s.send <- data:
	default:
		// буфер полон: вытесняем одно сообщение, подписчик помечается как отставший
		s.dropped.Store(true)
		select {
		case <-s.send:
		default:
		}
		s.send <- data
	}
	close(s.send)
}
