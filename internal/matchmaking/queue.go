package matchmaking

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"game_host/internal/domain"
	"game_host/internal/logger"
	"game_host/internal/metrics"
)

// Catalog метаданные игр
type Catalog interface {
	Definition(ctx context.Context, name string) (domain.GameDefinition, error)
}

// RoomAssigner создает комнаты и подсаживает игроков в существующие
type RoomAssigner interface {
	CreateRoom(ctx context.Context, gameName string, players []string) (string, error)
	AssignLate(ctx context.Context, gameName, playerID string) (string, bool, error)
}

type Config struct {
	PollInterval time.Duration
	TicketExpiry time.Duration
}

// Queue очередь подбора: FIFO на каждую игру, каждая игра под своим мьютексом
type Queue struct {
	cfg   Config
	games Catalog
	rooms RoomAssigner
	now   func() time.Time
	log   *slog.Logger

	partitions sync.Map // gameName -> *partition
	index      sync.Map // playerID -> gameName последней заявки
}

type Option func(*Queue)

func WithClock(now func() time.Time) Option {
	return func(q *Queue) { q.now = now }
}

func WithLogger(l *slog.Logger) Option {
	return func(q *Queue) { q.log = l }
}

func NewQueue(cfg Config, games Catalog, rooms RoomAssigner, opts ...Option) *Queue {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = time.Second
	}
	if cfg.TicketExpiry <= 0 {
		cfg.TicketExpiry = time.Minute
	}
	q := &Queue{cfg: cfg, games: games, rooms: rooms, now: time.Now}
	for _, opt := range opts {
		opt(q)
	}
	q.log = logger.OrDefault(q.log).With("component", "matchmaking")
	return q
}

// Join ставит игрока в очередь игры
func (q *Queue) Join(ctx context.Context, gameName, playerID string) (domain.MatchTicket, error) {
	if _, err := q.games.Definition(ctx, gameName); err != nil {
		return domain.MatchTicket{}, fmt.Errorf("join %q: %w", gameName, err)
	}
	if prev, ok := q.index.Load(playerID); ok && prev.(string) != gameName {
		if t, found := q.partition(prev.(string)).find(playerID, q.now(), q.cfg.TicketExpiry); found && t.Status == domain.TicketQueued {
			return domain.MatchTicket{}, domain.ErrAlreadyQueued
		}
	}

	p := q.partition(gameName)
	p.mu.Lock()
	p.expire(q.now(), q.cfg.TicketExpiry)
	if p.position(playerID) >= 0 {
		p.mu.Unlock()
		return domain.MatchTicket{}, domain.ErrAlreadyQueued
	}
	delete(p.matched, playerID)
	t := &domain.MatchTicket{
		ID:          uuid.NewString(),
		PlayerID:    playerID,
		GameName:    gameName,
		RequestedAt: q.now(),
		Status:      domain.TicketQueued,
	}
	p.queue = append(p.queue, t)
	depth := len(p.queue)
	p.mu.Unlock()

	q.index.Store(playerID, gameName)
	metrics.QueueDepth.WithLabelValues(gameName).Set(float64(depth))
	q.log.Debug("player queued", "game", gameName, "player", playerID, "ticket", t.ID)
	return *t, nil
}

// Status текущая заявка игрока. Истекшие и неизвестные заявки дают ErrNotInQueue.
func (q *Queue) Status(playerID string) (domain.MatchTicket, error) {
	g, ok := q.index.Load(playerID)
	if !ok {
		return domain.MatchTicket{}, domain.ErrNotInQueue
	}
	t, found := q.partition(g.(string)).find(playerID, q.now(), q.cfg.TicketExpiry)
	if !found {
		q.index.CompareAndDelete(playerID, g)
		return domain.MatchTicket{}, domain.ErrNotInQueue
	}
	return t, nil
}

// Leave убирает заявку из очереди; после подбора ничего не делает
func (q *Queue) Leave(playerID string) error {
	g, ok := q.index.Load(playerID)
	if !ok {
		return domain.ErrNotInQueue
	}
	p := q.partition(g.(string))
	p.mu.Lock()
	defer p.mu.Unlock()
	p.expire(q.now(), q.cfg.TicketExpiry)

	if i := p.position(playerID); i >= 0 {
		p.queue = append(p.queue[:i], p.queue[i+1:]...)
		q.index.CompareAndDelete(playerID, g)
		metrics.QueueDepth.WithLabelValues(p.name).Set(float64(len(p.queue)))
		return nil
	}
	if _, matched := p.matched[playerID]; matched {
		return nil
	}
	return domain.ErrNotInQueue
}

// Stats количество игроков в очереди игры
func (q *Queue) Stats(gameName string) int {
	v, ok := q.partitions.Load(gameName)
	if !ok {
		return 0
	}
	p := v.(*partition)
	p.mu.Lock()
	defer p.mu.Unlock()
	p.expire(q.now(), q.cfg.TicketExpiry)
	return len(p.queue)
}

// Pass один проход подбора по всем играм; игры обрабатываются параллельно
func (q *Queue) Pass(ctx context.Context) error {
	var parts []*partition
	q.partitions.Range(func(_, v any) bool {
		parts = append(parts, v.(*partition))
		return true
	})
	sort.Slice(parts, func(i, j int) bool { return parts[i].name < parts[j].name })

	g, ctx := errgroup.WithContext(ctx)
	for _, p := range parts {
		g.Go(func() error {
			return q.passPartition(ctx, p)
		})
	}
	return g.Wait()
}

// Run проходы с интервалом PollInterval до отмены ctx
func (q *Queue) Run(ctx context.Context) error {
	q.log.Info("matchmaking started", "interval", q.cfg.PollInterval, "expiry", q.cfg.TicketExpiry)
	ticker := time.NewTicker(q.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			q.log.Info("matchmaking stopped")
			return nil
		case <-ticker.C:
			if err := q.Pass(ctx); err != nil && ctx.Err() == nil {
				q.log.Error("matchmaking pass", "error", err)
			}
		}
	}
}

func (q *Queue) passPartition(ctx context.Context, p *partition) error {
	def, err := q.games.Definition(ctx, p.name)
	if err != nil {
		q.log.Warn("skip partition", "game", p.name, "error", err)
		return nil
	}

	p.mu.Lock()
	defer func() {
		metrics.QueueDepth.WithLabelValues(p.name).Set(float64(len(p.queue)))
		p.mu.Unlock()
	}()

	now := q.now()
	p.expire(now, q.cfg.TicketExpiry)

	if def.CanJoinLate {
		for len(p.queue) > 0 {
			t := p.queue[0]
			roomID, ok, err := q.rooms.AssignLate(ctx, p.name, t.PlayerID)
			if err != nil {
				q.log.Warn("late join failed", "game", p.name, "player", t.PlayerID, "error", err)
				break
			}
			if !ok {
				break
			}
			p.queue = p.queue[1:]
			p.markMatched(t, roomID, now)
			metrics.Matches.WithLabelValues(p.name, "late").Inc()
			q.log.Info("player joined late", "game", p.name, "player", t.PlayerID, "room", roomID)
		}
	}

	for len(p.queue) >= def.MinPlayers {
		// полная комната, если хватает игроков, иначе ровно минимум
		n := def.MinPlayers
		if len(p.queue) >= def.MaxPlayers {
			n = def.MaxPlayers
		}
		batch := p.queue[:n]
		players := make([]string, n)
		for i, t := range batch {
			players[i] = t.PlayerID
		}
		roomID, err := q.rooms.CreateRoom(ctx, p.name, players)
		if err != nil {
			// заявки остаются в очереди до следующего прохода
			q.log.Error("create room", "game", p.name, "players", players, "error", err)
			return nil
		}
		for _, t := range batch {
			p.markMatched(t, roomID, now)
		}
		p.queue = append([]*domain.MatchTicket(nil), p.queue[n:]...)
		metrics.Matches.WithLabelValues(p.name, "new").Add(float64(n))
		q.log.Info("match formed", "game", p.name, "room", roomID, "players", players)
	}
	return nil
}

func (q *Queue) partition(gameName string) *partition {
	if v, ok := q.partitions.Load(gameName); ok {
		return v.(*partition)
	}
	v, _ := q.partitions.LoadOrStore(gameName, newPartition(gameName))
	return v.(*partition)
}

type partition struct {
	mu      sync.Mutex
	name    string
	queue   []*domain.MatchTicket
	matched map[string]*domain.MatchTicket
}

func newPartition(name string) *partition {
	return &partition{name: name, matched: make(map[string]*domain.MatchTicket)}
}

func (p *partition) position(playerID string) int {
	for i, t := range p.queue {
		if t.PlayerID == playerID {
			return i
		}
	}
	return -1
}

// find копия заявки игрока; заодно истекает просроченные
func (p *partition) find(playerID string, now time.Time, expiry time.Duration) (domain.MatchTicket, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.expire(now, expiry)
	if i := p.position(playerID); i >= 0 {
		return *p.queue[i], true
	}
	if t, ok := p.matched[playerID]; ok {
		return *t, true
	}
	return domain.MatchTicket{}, false
}

// expire удаляет заявки старше окна ожидания и забытые подобранные заявки
func (p *partition) expire(now time.Time, expiry time.Duration) {
	kept := p.queue[:0]
	for _, t := range p.queue {
		if now.Sub(t.RequestedAt) >= expiry {
			_ = t.Advance(domain.TicketExpired)
			metrics.TicketsExpired.WithLabelValues(p.name).Inc()
			continue
		}
		kept = append(kept, t)
	}
	for i := len(kept); i < len(p.queue); i++ {
		p.queue[i] = nil
	}
	p.queue = kept

	for id, t := range p.matched {
		if now.Sub(t.MatchedAt) >= expiry {
			delete(p.matched, id)
		}
	}
}

func (p *partition) markMatched(t *domain.MatchTicket, roomID string, now time.Time) {
	if err := t.Advance(domain.TicketMatched); err != nil {
		return
	}
	t.RoomID = roomID
	t.MatchedAt = now
	p.matched[t.PlayerID] = t
}
