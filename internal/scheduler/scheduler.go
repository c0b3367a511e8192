package scheduler

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"game_host/internal/broadcast"
	"game_host/internal/catalog"
	"game_host/internal/domain"
	"game_host/internal/game"
	"game_host/internal/logger"
	"game_host/internal/metrics"
	"game_host/internal/sandbox"
)

// Config тайминги дорожек
type Config struct {
	TickInterval   time.Duration
	StartGrace     time.Duration
	IdleGrace      time.Duration
	HandlerTimeout time.Duration
	QueueSize      int
}

func DefaultConfig() Config {
	return Config{
		TickInterval:   50 * time.Millisecond,
		StartGrace:     5 * time.Second,
		IdleGrace:      30 * time.Second,
		HandlerTimeout: 100 * time.Millisecond,
		QueueSize:      256,
	}
}

// GameSource выдает скомпилированные игры по имени
type GameSource interface {
	Get(ctx context.Context, name string) (*catalog.Entry, error)
}

// FinishFunc получает итог каждой комнаты, дожившей до активной фазы
type FinishFunc func(result domain.GameResult)

// Scheduler реестр дорожек: создает комнаты, находит места для позднего входа, разбирает комнаты
type Scheduler struct {
	cfg      Config
	games    GameSource
	pub      broadcast.Publisher
	onFinish FinishFunc
	now      func() time.Time
	log      *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu    sync.RWMutex
	lanes map[string]*Lane
	order map[string]time.Time
}

type Option func(*Scheduler)

func WithFinishHook(fn FinishFunc) Option {
	return func(s *Scheduler) { s.onFinish = fn }
}

// WithClock часы, которые получают комнаты и игровая логика
func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) { s.now = now }
}

func WithLogger(l *slog.Logger) Option {
	return func(s *Scheduler) { s.log = l }
}

func New(cfg Config, games GameSource, pub broadcast.Publisher, opts ...Option) *Scheduler {
	def := DefaultConfig()
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = def.TickInterval
	}
	if cfg.HandlerTimeout <= 0 {
		cfg.HandlerTimeout = def.HandlerTimeout
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = def.QueueSize
	}
	s := &Scheduler{
		cfg:   cfg,
		games: games,
		pub:   pub,
		now:   time.Now,
		lanes: make(map[string]*Lane),
		order: make(map[string]time.Time),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.log = logger.OrDefault(s.log)
	s.ctx, s.cancel = context.WithCancel(context.Background())
	return s
}

// CreateRoom создает комнату, сажает игроков по порядку и запускает ее дорожку
func (s *Scheduler) CreateRoom(ctx context.Context, gameName string, players []string) (string, error) {
	if err := s.ctx.Err(); err != nil {
		return "", fmt.Errorf("scheduler stopped: %w", err)
	}
	entry, err := s.games.Get(ctx, gameName)
	if err != nil {
		return "", err
	}
	def := entry.Definition
	if len(players) > def.MaxPlayers {
		return "", fmt.Errorf("create %s room with %d players: %w", gameName, len(players), domain.ErrRoomFull)
	}

	id := uuid.NewString()
	roomLog := logger.ForRoom(s.log, id, def.Name)
	inst, err := entry.Game.Instantiate(sandbox.InstanceOptions{
		Seed:    SeedFor(id),
		Clock:   s.now,
		Logger:  roomLog,
		Timeout: s.cfg.HandlerTimeout,
	})
	if err != nil {
		return "", err
	}
	room, err := game.NewRoom(id, def, inst, game.WithClock(s.now), game.WithLogger(s.log))
	if err != nil {
		inst.Close()
		return "", err
	}
	for _, p := range players {
		if _, err := room.Join(ctx, p); err != nil {
			room.Close()
			return "", fmt.Errorf("seat %s: %w", p, err)
		}
	}

	lane := newLane(room, def, s.cfg, s.pub, roomLog, s.remove)
	s.mu.Lock()
	s.lanes[id] = lane
	s.order[id] = room.CreatedAt()
	s.mu.Unlock()
	metrics.RoomsActive.Inc()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		lane.run(s.ctx)
	}()

	roomLog.Info("room created", "players", players)
	return id, nil
}

// AssignLate сажает игрока в уже существующую комнату игры, если там есть место.
// Комнаты перебираются от старых к новым.
func (s *Scheduler) AssignLate(ctx context.Context, gameName, playerID string) (string, bool, error) {
	for _, lane := range s.lanesOf(gameName) {
		var seated bool
		err := lane.Exec(ctx, func(r *game.Room) error {
			if r.HasPlayer(playerID) {
				seated = true
				return nil
			}
			if !r.HasFreeSeat() {
				return domain.ErrRoomFull
			}
			_, err := r.Join(ctx, playerID)
			seated = err == nil
			return err
		})
		switch {
		case err == nil && seated:
			return lane.RoomID(), true, nil
		case errors.Is(err, domain.ErrRoomFull), errors.Is(err, domain.ErrRoomFinished), errors.Is(err, ErrLaneClosed):
			continue
		case err != nil:
			return "", false, err
		}
	}
	return "", false, nil
}

// Lane дорожка комнаты
func (s *Scheduler) Lane(roomID string) (*Lane, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	l, ok := s.lanes[roomID]
	return l, ok
}

// Destroy принудительно завершает комнату
func (s *Scheduler) Destroy(roomID string) error {
	l, ok := s.Lane(roomID)
	if !ok || l.Closed() {
		return domain.ErrRoomNotFound
	}
	l.Destroy(domain.EndReasonDestroyed)
	return nil
}

// Count количество работающих комнат
func (s *Scheduler) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.lanes)
}

// Shutdown разбирает все комнаты и ждет завершения дорожек
func (s *Scheduler) Shutdown(ctx context.Context) error {
	s.cancel()
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Scheduler) lanesOf(gameName string) []*Lane {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*Lane
	for id, l := range s.lanes {
		if l.GameName() == gameName && !l.Closed() {
			out = append(out, s.lanes[id])
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return s.order[out[i].RoomID()].Before(s.order[out[j].RoomID()])
	})
	return out
}

// remove вызывается дорожкой при разборке; итог передается до удаления из реестра
func (s *Scheduler) remove(l *Lane) {
	res, ok := l.room.Result()
	reason := domain.EndReasonDestroyed
	if ok {
		reason = res.EndReason
	}
	metrics.RoomsFinished.WithLabelValues(l.GameName(), reason).Inc()
	if ok && s.onFinish != nil {
		s.onFinish(res)
	}

	s.mu.Lock()
	delete(s.lanes, l.RoomID())
	delete(s.order, l.RoomID())
	s.mu.Unlock()
	metrics.RoomsActive.Dec()
}

// SeedFor детерминированное зерно генератора комнаты
func SeedFor(roomID string) uint64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(roomID))
	return h.Sum64()
}
