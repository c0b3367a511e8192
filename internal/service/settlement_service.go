package service

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"game_host/internal/domain"
	"game_host/internal/logger"
	"game_host/internal/metrics"
	"game_host/internal/rating"
)

// ResultRecorder история партий
type ResultRecorder interface {
	Record(ctx context.Context, result domain.GameResult, changes []domain.RatingChange) error
}

// Handoff передача итога во внешнее хранилище
type Handoff interface {
	Publish(ctx context.Context, h domain.ResultHandoff) error
}

// DefinitionLookup метаданные игры по имени
type DefinitionLookup interface {
	Definition(ctx context.Context, name string) (domain.GameDefinition, error)
}

// SettlementService единственный потребитель итогов партий. Итоги обрабатываются
// строго по одному, поэтому чтение-изменение-запись рейтинга не требует блокировок.
type SettlementService struct {
	store    rating.Store
	games    DefinitionLookup
	recorder ResultRecorder
	handoff  Handoff
	log      *slog.Logger

	mu      sync.Mutex
	pending []domain.GameResult
	wake    chan struct{}
}

type SettlementOption func(*SettlementService)

func WithRecorder(r ResultRecorder) SettlementOption {
	return func(s *SettlementService) { s.recorder = r }
}

func WithHandoff(h Handoff) SettlementOption {
	return func(s *SettlementService) { s.handoff = h }
}

func WithSettlementLogger(l *slog.Logger) SettlementOption {
	return func(s *SettlementService) { s.log = l }
}

func NewSettlementService(store rating.Store, games DefinitionLookup, opts ...SettlementOption) *SettlementService {
	s := &SettlementService{
		store: store,
		games: games,
		wake:  make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.log = logger.OrDefault(s.log).With("component", "settlement")
	return s
}

// Enqueue принимает итог из дорожки комнаты; никогда не блокируется
func (s *SettlementService) Enqueue(res domain.GameResult) {
	s.mu.Lock()
	s.pending = append(s.pending, res)
	s.mu.Unlock()
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// Run обрабатывает очередь до отмены ctx, затем дообрабатывает оставшееся
func (s *SettlementService) Run(ctx context.Context) error {
	for {
		s.drain(context.WithoutCancel(ctx))
		select {
		case <-ctx.Done():
			s.drain(context.WithoutCancel(ctx))
			return nil
		case <-s.wake:
		}
	}
}

func (s *SettlementService) drain(ctx context.Context) {
	for {
		s.mu.Lock()
		if len(s.pending) == 0 {
			s.mu.Unlock()
			return
		}
		res := s.pending[0]
		s.pending = s.pending[1:]
		s.mu.Unlock()

		if _, err := s.Settle(ctx, res); err != nil {
			s.log.Error("settle result", "room", res.RoomID, "game", res.GameName, "error", err)
		}
	}
}

// Settle пересчитывает рейтинг по одному итогу и передает результат дальше
func (s *SettlementService) Settle(ctx context.Context, res domain.GameResult) (domain.ResultHandoff, error) {
	h := domain.ResultHandoff{
		GameName:  res.GameName,
		RoomID:    res.RoomID,
		WinnerID:  res.WinnerID,
		EndReason: res.EndReason,
		Players:   res.Players,
	}

	rated, err := s.rated(ctx, res)
	if err != nil {
		metrics.Settlements.WithLabelValues(res.GameName, "error").Inc()
		return h, err
	}
	if rated {
		current, err := s.store.Get(ctx, res.GameName, res.Players)
		if err != nil {
			metrics.Settlements.WithLabelValues(res.GameName, "error").Inc()
			return h, fmt.Errorf("load ratings: %w", err)
		}
		records, changes := rating.Settle(res, current)
		if err := s.store.Save(ctx, records); err != nil {
			metrics.Settlements.WithLabelValues(res.GameName, "error").Inc()
			return h, fmt.Errorf("save ratings: %w", err)
		}
		h.RatingChanges = changes
		metrics.Settlements.WithLabelValues(res.GameName, "rated").Inc()
		s.log.Info("ratings settled", "room", res.RoomID, "game", res.GameName, "reason", res.EndReason, "changes", len(changes))
	} else {
		metrics.Settlements.WithLabelValues(res.GameName, "unrated").Inc()
		s.log.Debug("result not rated", "room", res.RoomID, "game", res.GameName, "reason", res.EndReason)
	}

	if s.recorder != nil {
		if err := s.recorder.Record(ctx, res, h.RatingChanges); err != nil {
			s.log.Error("record result", "room", res.RoomID, "error", err)
		}
	}
	if s.handoff != nil {
		if err := s.handoff.Publish(ctx, h); err != nil {
			s.log.Error("result handoff", "room", res.RoomID, "error", err)
		}
	}
	return h, nil
}

// rated рейтинг меняется только у игр с условием победы и только при победе или ничьей
func (s *SettlementService) rated(ctx context.Context, res domain.GameResult) (bool, error) {
	if !res.Rated() {
		return false, nil
	}
	def, err := s.games.Definition(ctx, res.GameName)
	if err != nil {
		return false, fmt.Errorf("lookup %s: %w", res.GameName, err)
	}
	return def.HasWinCondition, nil
}
